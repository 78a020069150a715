package workflow

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/garyjia/doc-approval/internal/domain/apperr"
)

// BulkAction runs one action per instance. Each item is its own transaction, so a
// failure never rolls back the others.
func (e *engineImpl) BulkAction(ctx context.Context, req BulkRequest) ([]BulkResult, error) {
	action := strings.ToUpper(strings.TrimSpace(req.Action))
	switch action {
	case BulkCancel, BulkHold, BulkResume, BulkApprove, BulkReject:
	default:
		return nil, apperr.Validation("unknown bulk action %q", req.Action)
	}
	if len(req.InstanceIDs) == 0 {
		return nil, apperr.Validation("instance ids are required")
	}
	if strings.TrimSpace(req.ActingUserID) == "" {
		return nil, apperr.Validation("acting user id is required")
	}

	results := make([]BulkResult, len(req.InstanceIDs))
	seen := make(map[int64]bool, len(req.InstanceIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.bulkConcurrency)

	for i, id := range req.InstanceIDs {
		results[i].InstanceID = id
		if seen[id] {
			fail(&results[i], apperr.Validation("duplicate instance id %d", id))
			continue
		}
		seen[id] = true

		g.Go(func() error {
			if err := e.bulkOne(gctx, action, id, req); err != nil {
				fail(&results[i], err)
				return nil
			}
			results[i].Success = true
			return nil
		})
	}

	// items never return errors
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	e.logger.Info("Bulk action finished",
		"action", action,
		"total", len(results),
		"succeeded", succeeded)

	return results, nil
}

func (e *engineImpl) bulkOne(ctx context.Context, action string, instanceID int64, req BulkRequest) error {
	var err error
	switch action {
	case BulkCancel:
		_, err = e.CancelWorkflow(ctx, instanceID, req.ActingUserID, req.Comments)
	case BulkHold:
		_, err = e.HoldWorkflow(ctx, instanceID, req.ActingUserID, req.Comments)
	case BulkResume:
		_, err = e.ResumeWorkflow(ctx, instanceID, req.ActingUserID)
	case BulkApprove, BulkReject:
		err = e.decideCurrent(ctx, action, instanceID, req)
	}
	return err
}

// decideCurrent applies action to the pending task of the instance's current step
func (e *engineImpl) decideCurrent(ctx context.Context, action string, instanceID int64, req BulkRequest) error {
	instance, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load instance %d: %w", instanceID, err)
	}
	if instance == nil {
		return apperr.NotFound("workflow instance %d not found", instanceID)
	}

	task, err := e.tasks.GetPendingByInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load pending task of instance %d: %w", instanceID, err)
	}
	if task == nil {
		return apperr.InvalidState("workflow instance %d has no pending task", instanceID)
	}

	_, err = e.ProcessTaskAction(ctx, TaskActionRequest{
		TaskID:       task.ID,
		Action:       action,
		Comments:     req.Comments,
		ActingUserID: req.ActingUserID,
	})
	return err
}

func fail(r *BulkResult, err error) {
	r.Success = false
	r.Error = err.Error()
	r.ErrorKind = string(apperr.KindOf(err))
}
