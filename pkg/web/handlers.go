package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/signoff/pkg/engine"
	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/dukex/signoff/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const userLocal = "user"

type APIHandlers struct {
	engine      *engine.Engine
	templates   *services.Template
	delegations *services.Delegation
	instances   *services.Instance
	validator   *validator.Validate
}

func NewAPIHandlers(
	engine *engine.Engine,
	templates *services.Template,
	delegations *services.Delegation,
	instances *services.Instance,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:      engine,
		templates:   templates,
		delegations: delegations,
		instances:   instances,
		validator:   validator,
	}
}

// RequireUser rejects requests without the acting user header.
func RequireUser(c fiber.Ctx) error {
	user := c.Get(UserHeader)
	if user == "" {
		return unauthenticated(c)
	}

	c.Locals(userLocal, user)

	return c.Next()
}

func currentUser(c fiber.Ctx) string {
	user, _ := c.Locals(userLocal).(string)

	return user
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.instances.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Signoff API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Signoff API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templates, err := h.templates.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"templates": templates})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	template, err := h.templates.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var req TemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.templates.Create(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateTemplate(c fiber.Ctx) error {
	var req TemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.templates.Update(c.Context(), c.Params("id"), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteTemplate(c fiber.Ctx) error {
	if err := h.templates.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.Create(c.Context(), engine.CreateRequest{
		TemplateID: req.TemplateID,
		Resource: models.ResourceRef{
			Type: req.ResourceType,
			ID:   req.ResourceID,
			Name: req.ResourceName,
		},
		RequestedBy:            currentUser(c),
		PreviousResourceStatus: req.PreviousResourceStatus,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := parseListInstancesRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.instances.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func parseListInstancesRequest(c fiber.Ctx) (*services.ListInstancesRequest, error) {
	req := &services.ListInstancesRequest{
		Status:       c.Query("status"),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		TemplateID:   c.Query("template_id"),
		Approver:     c.Query("approver"),
		SortBy:       c.Query("sort_by"),
		SortOrder:    c.Query("sort_order"),
	}

	var err error

	req.Limit, req.Offset, err = parsePage(c)
	if err != nil {
		return nil, err
	}

	return req, nil
}

func parsePage(c fiber.Ctx) (int, int, error) {
	var limit, offset int

	if raw := c.Query("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, err
		}

		limit = value
	}

	if raw := c.Query("offset"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, err
		}

		offset = value
	}

	return limit, offset, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	instance, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) ApproveWorkflow(c fiber.Ctx) error {
	return h.decide(c, models.ActionApprove)
}

func (h *APIHandlers) RejectWorkflow(c fiber.Ctx) error {
	return h.decide(c, models.ActionReject)
}

func (h *APIHandlers) decide(c fiber.Ctx, action models.Action) error {
	var req DecisionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.Act(c.Context(), engine.ActionRequest{
		InstanceID: c.Params("id"),
		Action:     string(action),
		Actor:      currentUser(c),
		Comments:   req.Comments,
		StepNumber: req.StepNumber,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	instance, err := h.engine.Cancel(c.Context(), c.Params("id"), currentUser(c), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) ActOnWorkflow(c fiber.Ctx) error {
	var req ActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.Act(c.Context(), engine.ActionRequest{
		InstanceID: c.Params("id"),
		Action:     req.Action,
		Actor:      currentUser(c),
		Comments:   req.Comments,
		StepNumber: req.StepNumber,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) ResyncWorkflow(c fiber.Ctx) error {
	instance, err := h.engine.Resync(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetWorkflowAudit(c fiber.Ctx) error {
	entries, err := h.instances.AuditTrail(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflow_id": c.Params("id"), "entries": entries})
}

func (h *APIHandlers) BulkAction(c fiber.Ctx) error {
	var req BulkActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	results, err := h.engine.BulkApply(c.Context(), engine.BulkRequest{
		InstanceIDs: req.WorkflowIDs,
		Action:      req.Action,
		Actor:       currentUser(c),
		Comments:    req.Comments,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(BulkActionResponse{Results: results, Summary: engine.Summarize(results)})
}

func (h *APIHandlers) PendingApprovals(c fiber.Ctx) error {
	limit, offset, err := parsePage(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.instances.Pending(c.Context(), currentUser(c), limit, offset)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) Statistics(c fiber.Ctx) error {
	stats, err := h.instances.Statistics(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) ResourceCompleted(c fiber.Ctx) error {
	var req ResourceEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.RequestApproval(c.Context(), engine.ResourceCompletion{
		Resource: models.ResourceRef{
			Type: req.ResourceType,
			ID:   req.ResourceID,
			Name: req.ResourceName,
		},
		Attributes:     req.Attributes,
		RequestedBy:    currentUser(c),
		PreviousStatus: req.PreviousStatus,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	if instance == nil {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"started": false,
			"message": "no template matches the resource",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"started":  true,
		"workflow": instance,
	})
}

func (h *APIHandlers) CreateDelegation(c fiber.Ctx) error {
	var req CreateDelegationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	delegation, err := h.delegations.Create(c.Context(), &models.Delegation{
		DelegatorUserID:  currentUser(c),
		DelegateToUserID: req.DelegateToUserID,
		ValidFrom:        req.ValidFrom,
		ValidUntil:       req.ValidUntil,
		WorkflowTypes:    req.WorkflowTypes,
		Reason:           req.Reason,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(delegation)
}

// GetDelegations lists the acting user's delegations unless delegator or delegate is given.
func (h *APIHandlers) GetDelegations(c fiber.Ctx) error {
	opts := persistence.ListDelegationsOptions{
		DelegatorUserID:  c.Query("delegator"),
		DelegateToUserID: c.Query("delegate"),
	}

	if opts.DelegatorUserID == "" && opts.DelegateToUserID == "" {
		opts.DelegatorUserID = currentUser(c)
	}

	if raw := c.Query("include_revoked"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		opts.IncludeRevoked = include
	}

	delegations, err := h.delegations.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"delegations": delegations})
}

func (h *APIHandlers) GetDelegation(c fiber.Ctx) error {
	delegation, err := h.delegations.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(delegation)
}

func (h *APIHandlers) RevokeDelegation(c fiber.Ctx) error {
	delegation, err := h.delegations.Revoke(c.Context(), c.Params("id"), currentUser(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(delegation)
}

func (h *APIHandlers) DelegationValidity(c fiber.Ctx) error {
	var at time.Time

	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "at must be an RFC 3339 timestamp")
		}

		at = parsed
	}

	validity, err := h.delegations.Validity(c.Context(), c.Params("id"), at, c.Query("workflow_type"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(validity)
}
