package status

import (
	"context"
	"log"

	"dispatchsolver/internal/events"
	"dispatchsolver/internal/model"
	"dispatchsolver/internal/store"
)

// Tracker is the single writer of plan and solve-job status. Every
// transition goes through it so the plan, its job row, and the event
// stream never disagree about what moved.
type Tracker struct {
	store  store.Store
	broker events.Broker
}

func NewTracker(st store.Store, broker events.Broker) *Tracker {
	return &Tracker{store: st, broker: broker}
}

// MarkAccepted records a freshly submitted job and moves the plan to
// ACCEPTED. The job row must not exist yet.
func (t *Tracker) MarkAccepted(ctx context.Context, job model.SolveJob) error {
	job.Status = model.StatusAccepted
	if err := t.store.InsertJob(ctx, job); err != nil {
		return err
	}
	if err := t.store.UpdatePlanStatus(ctx, job.TenantID, job.PlanID, model.StatusAccepted, ""); err != nil {
		return err
	}
	t.publish(job.TaskID, model.StatusAccepted, "")
	return nil
}

func (t *Tracker) MarkRunning(ctx context.Context, tenantID, planID, taskID string) error {
	if err := t.store.UpdateJobStatus(ctx, tenantID, planID, taskID, model.StatusRunning, ""); err != nil {
		return err
	}
	if err := t.store.UpdatePlanStatus(ctx, tenantID, planID, model.StatusRunning, ""); err != nil {
		return err
	}
	t.publish(taskID, model.StatusRunning, "")
	return nil
}

// MarkSolved finalizes a successful solve: the plan gets the result
// summary and the job closes out in one step.
func (t *Tracker) MarkSolved(ctx context.Context, tenantID, planID, taskID string, sum model.PlanSummary) error {
	sum.Status = model.StatusSolved
	if err := t.store.UpdatePlanSummary(ctx, tenantID, planID, sum); err != nil {
		return err
	}
	if err := t.store.UpdateJobStatus(ctx, tenantID, planID, taskID, model.StatusSolved, sum.Message); err != nil {
		return err
	}
	t.publish(taskID, model.StatusSolved, sum.Message)
	return nil
}

// RollbackSubmission undoes MarkAccepted after a transient rejection:
// the job fails with the message while the plan returns to the status
// it held before the submission. Busy conditions never surface as a
// plan failure.
func (t *Tracker) RollbackSubmission(ctx context.Context, prior model.Plan, taskID, message string) {
	if err := t.store.UpdateJobStatus(ctx, prior.TenantID, prior.ID, taskID, model.StatusFailed, message); err != nil {
		log.Printf("STATUS_ROLLBACK_JOB tenant=%s plan=%s task=%s err=%v", prior.TenantID, prior.ID, taskID, err)
	}
	if err := t.store.UpdatePlanStatus(ctx, prior.TenantID, prior.ID, prior.Status, prior.Message); err != nil {
		log.Printf("STATUS_ROLLBACK_PLAN tenant=%s plan=%s err=%v", prior.TenantID, prior.ID, err)
	}
	t.publish(taskID, model.StatusFailed, message)
}

// MarkFailed moves both plan and job to FAILED with the given message.
// Errors are logged, not returned: failure paths must not cascade.
func (t *Tracker) MarkFailed(ctx context.Context, tenantID, planID, taskID, message string) {
	if err := t.store.UpdatePlanStatus(ctx, tenantID, planID, model.StatusFailed, message); err != nil {
		log.Printf("STATUS_FAIL_PLAN tenant=%s plan=%s err=%v", tenantID, planID, err)
	}
	if err := t.store.UpdateJobStatus(ctx, tenantID, planID, taskID, model.StatusFailed, message); err != nil {
		log.Printf("STATUS_FAIL_JOB tenant=%s plan=%s task=%s err=%v", tenantID, planID, taskID, err)
	}
	t.publish(taskID, model.StatusFailed, message)
}

func (t *Tracker) publish(taskID, status, message string) {
	if t.broker == nil {
		return
	}
	data := map[string]any{"taskId": taskID, "status": status}
	if message != "" {
		data["message"] = message
	}
	t.broker.Publish(taskID, events.Event{Type: "solve.status", Data: data})
}
