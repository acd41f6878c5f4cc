// Package audit records append-only entries for every committed transition.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
)

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// RepositorySink stores entries through the audit repository.
type RepositorySink struct {
	repo persistence.AuditRepository
}

func NewRepositorySink(repo persistence.AuditRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Record(ctx context.Context, entry models.AuditEntry) error {
	if err := s.repo.Append(ctx, &entry); err != nil {
		return fmt.Errorf("failed to record audit entry for %s: %w", entry.InstanceID, err)
	}

	return nil
}

// LogSink writes entries to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("module", "audit")}
}

func (s *LogSink) Record(ctx context.Context, entry models.AuditEntry) error {
	s.logger.InfoContext(ctx, "audit",
		"instance_id", entry.InstanceID,
		"action", entry.Action,
		"actor", entry.Actor,
		"step", entry.StepNumber,
		"from", entry.FromStatus,
		"to", entry.ToStatus,
	)

	return nil
}

// Fanout records to every sink and returns the first error.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, entry models.AuditEntry) error {
	var first error

	for _, sink := range f {
		if err := sink.Record(ctx, entry); err != nil && first == nil {
			first = err
		}
	}

	return first
}
