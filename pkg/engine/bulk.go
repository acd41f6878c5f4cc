package engine

import (
	"context"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/services"
	"golang.org/x/sync/errgroup"
)

// BulkRequest applies one action to many instances.
type BulkRequest struct {
	InstanceIDs []string
	Action      string
	Actor       string
	Comments    string
}

// BulkResult is the outcome for one instance, in request order.
type BulkResult struct {
	InstanceID string                `json:"instance_id"`
	Success    bool                  `json:"success"`
	Status     models.InstanceStatus `json:"status,omitempty"`
	ErrorKind  services.Kind         `json:"error_kind,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// BulkSummary counts bulk outcomes.
type BulkSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Summarize counts successes and failures.
func Summarize(results []BulkResult) BulkSummary {
	summary := BulkSummary{Total: len(results)}

	for _, result := range results {
		if result.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	return summary
}

// BulkApply runs the single-instance transition for every id independently. An unknown
// action rejects the whole request; any per-instance failure only marks that result.
func (e *Engine) BulkApply(ctx context.Context, req BulkRequest) ([]BulkResult, error) {
	const op = "BulkApply"

	action, err := models.ParseAction(req.Action)
	if err != nil {
		return nil, services.Validation(op, err.Error(), err)
	}

	if len(req.InstanceIDs) == 0 {
		return nil, services.Validation(op, "at least one workflow id is required", nil)
	}

	results := make([]BulkResult, len(req.InstanceIDs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.bulkConcurrency)

	for i, id := range req.InstanceIDs {
		group.Go(func() error {
			results[i] = e.bulkOne(groupCtx, action, id, req)

			return nil
		})
	}

	_ = group.Wait()

	summary := Summarize(results)
	e.logger.InfoContext(ctx, "bulk action applied",
		"action", action,
		"actor", req.Actor,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)

	return results, nil
}

func (e *Engine) bulkOne(ctx context.Context, action models.Action, id string, req BulkRequest) BulkResult {
	instance, err := e.Act(ctx, ActionRequest{
		InstanceID: id,
		Action:     string(action),
		Actor:      req.Actor,
		Comments:   req.Comments,
	})
	if err != nil {
		e.metrics.BulkItem(string(action), "failure")

		return BulkResult{
			InstanceID: id,
			ErrorKind:  services.KindOf(err),
			Error:      err.Error(),
		}
	}

	e.metrics.BulkItem(string(action), "success")

	return BulkResult{InstanceID: id, Success: true, Status: instance.Status}
}
