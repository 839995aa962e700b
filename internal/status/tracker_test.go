package status

import (
	"context"
	"testing"
	"time"

	"dispatchsolver/internal/events"
	"dispatchsolver/internal/model"
	"dispatchsolver/internal/store"
)

func seed(t *testing.T) (*Tracker, store.Store, chan events.Event) {
	t.Helper()
	st := store.NewMemory()
	if _, err := st.CreatePlan(context.Background(), model.Plan{ID: "p1", TenantID: "t1"}); err != nil {
		t.Fatal(err)
	}
	broker := events.NewMemory()
	ch := broker.Subscribe("job-1")
	return NewTracker(st, broker), st, ch
}

func expectEvent(t *testing.T, ch chan events.Event, status string) {
	t.Helper()
	select {
	case evt := <-ch:
		if evt.Data["status"] != status {
			t.Fatalf("event status = %v, want %s", evt.Data["status"], status)
		}
	case <-time.After(time.Second):
		t.Fatalf("no %s event published", status)
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tr, st, ch := seed(t)
	ctx := context.Background()

	job := model.SolveJob{TenantID: "t1", PlanID: "p1", TaskID: "job-1"}
	if err := tr.MarkAccepted(ctx, job); err != nil {
		t.Fatalf("accepted: %v", err)
	}
	expectEvent(t, ch, model.StatusAccepted)
	plan, _ := st.GetPlan(ctx, "t1", "p1")
	if plan.Status != model.StatusAccepted {
		t.Fatalf("plan = %s, want ACCEPTED", plan.Status)
	}

	if err := tr.MarkRunning(ctx, "t1", "p1", "job-1"); err != nil {
		t.Fatalf("running: %v", err)
	}
	expectEvent(t, ch, model.StatusRunning)

	sum := model.PlanSummary{Message: "OK", TotalDistanceM: 2000, AssignedCount: 2, SolveMillis: 7}
	if err := tr.MarkSolved(ctx, "t1", "p1", "job-1", sum); err != nil {
		t.Fatalf("solved: %v", err)
	}
	expectEvent(t, ch, model.StatusSolved)

	plan, _ = st.GetPlan(ctx, "t1", "p1")
	if plan.Status != model.StatusSolved || plan.TotalDistanceM != 2000 || plan.AssignedCount != 2 {
		t.Fatalf("plan = %+v, want solved summary", plan)
	}
	j, _ := st.GetJob(ctx, "t1", "p1", "job-1")
	if j.Status != model.StatusSolved {
		t.Fatalf("job = %s, want SOLVED", j.Status)
	}
}

func TestTrackerMarkFailed(t *testing.T) {
	tr, st, ch := seed(t)
	ctx := context.Background()

	if err := tr.MarkAccepted(ctx, model.SolveJob{TenantID: "t1", PlanID: "p1", TaskID: "job-1"}); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, ch, model.StatusAccepted)

	tr.MarkFailed(ctx, "t1", "p1", "job-1", "solver queue full")
	expectEvent(t, ch, model.StatusFailed)

	plan, _ := st.GetPlan(ctx, "t1", "p1")
	if plan.Status != model.StatusFailed || plan.Message != "solver queue full" {
		t.Fatalf("plan = %+v, want FAILED with message", plan)
	}
	j, _ := st.GetJob(ctx, "t1", "p1", "job-1")
	if j.Status != model.StatusFailed || j.Message != "solver queue full" {
		t.Fatalf("job = %+v, want FAILED with message", j)
	}
}

func TestTrackerRollbackSubmission(t *testing.T) {
	tr, st, ch := seed(t)
	ctx := context.Background()

	prior, _ := st.GetPlan(ctx, "t1", "p1") // CREATED
	if err := tr.MarkAccepted(ctx, model.SolveJob{TenantID: "t1", PlanID: "p1", TaskID: "job-1"}); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, ch, model.StatusAccepted)

	tr.RollbackSubmission(ctx, prior, "job-1", "solver queue full")
	expectEvent(t, ch, model.StatusFailed)

	// only the job fails; the plan goes back to where it was
	j, _ := st.GetJob(ctx, "t1", "p1", "job-1")
	if j.Status != model.StatusFailed || j.Message != "solver queue full" {
		t.Fatalf("job = %+v, want FAILED with message", j)
	}
	plan, _ := st.GetPlan(ctx, "t1", "p1")
	if plan.Status != model.StatusCreated || plan.Message != "" {
		t.Fatalf("plan = %+v, want prior CREATED state restored", plan)
	}
}

func TestTrackerFailedOnMissingRowsDoesNotPanic(t *testing.T) {
	tr := NewTracker(store.NewMemory(), events.NewMemory())
	tr.MarkFailed(context.Background(), "t1", "nope", "job-x", "boom")
}
