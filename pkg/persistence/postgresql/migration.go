package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflow_templates table
			CREATE TABLE workflow_templates (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				resource_type VARCHAR(255) NOT NULL,
				trigger_conditions JSONB NOT NULL DEFAULT '{}',
				auto_start BOOLEAN NOT NULL DEFAULT false,
				notify_on_start BOOLEAN NOT NULL DEFAULT false,
				notify_on_complete BOOLEAN NOT NULL DEFAULT false,
				steps JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_templates_resource_type ON workflow_templates(resource_type);

			-- Create workflow_instances table
			CREATE TABLE workflow_instances (
				id VARCHAR(255) PRIMARY KEY,
				template_id VARCHAR(255) NOT NULL,
				resource_type VARCHAR(255) NOT NULL,
				resource_id VARCHAR(255) NOT NULL,
				resource_name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'in_progress', 'approved', 'rejected', 'cancelled', 'escalated')),
				current_step INT NOT NULL,
				current_approvers TEXT[] NOT NULL DEFAULT '{}',
				steps_completed JSONB NOT NULL DEFAULT '[]',
				requested_by VARCHAR(255) NOT NULL DEFAULT '',
				previous_resource_status VARCHAR(255) NOT NULL DEFAULT '',
				step_started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				escalation_count INT NOT NULL DEFAULT 0,
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				CHECK ((status IN ('approved', 'rejected', 'cancelled')) = (completed_at IS NOT NULL))
			);

			-- At most one non-terminal instance per resource
			CREATE UNIQUE INDEX idx_workflow_instances_active_resource
				ON workflow_instances(resource_type, resource_id)
				WHERE status NOT IN ('approved', 'rejected', 'cancelled');

			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);
			CREATE INDEX idx_workflow_instances_template_id ON workflow_instances(template_id);
			CREATE INDEX idx_workflow_instances_created_at ON workflow_instances(created_at);
			CREATE INDEX idx_workflow_instances_current_approvers ON workflow_instances USING GIN (current_approvers);
		`,
		2: `
			-- Create delegations table
			CREATE TABLE delegations (
				id VARCHAR(255) PRIMARY KEY,
				delegator_user_id VARCHAR(255) NOT NULL,
				delegate_to_user_id VARCHAR(255) NOT NULL CHECK (delegate_to_user_id <> delegator_user_id),
				valid_from TIMESTAMP WITH TIME ZONE NOT NULL,
				valid_until TIMESTAMP WITH TIME ZONE NOT NULL,
				workflow_types TEXT[] NOT NULL DEFAULT '{}',
				reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				revoked_at TIMESTAMP WITH TIME ZONE,
				revoked_by VARCHAR(255) NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_delegations_delegator ON delegations(delegator_user_id) WHERE revoked_at IS NULL;
			CREATE INDEX idx_delegations_delegate ON delegations(delegate_to_user_id);

			-- Create audit_entries table
			CREATE TABLE audit_entries (
				id VARCHAR(255) PRIMARY KEY,
				seq BIGSERIAL NOT NULL,
				instance_id VARCHAR(255) NOT NULL,
				action VARCHAR(50) NOT NULL,
				actor VARCHAR(255) NOT NULL,
				step_number INT NOT NULL,
				from_status VARCHAR(50) NOT NULL DEFAULT '',
				to_status VARCHAR(50) NOT NULL,
				comments TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_audit_entries_instance ON audit_entries(instance_id, seq);
		`,
	}
}
