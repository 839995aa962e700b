package solve

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"dispatchsolver/internal/lock"
	"dispatchsolver/internal/metrics"
	"dispatchsolver/internal/model"
	"dispatchsolver/internal/opt"
	"dispatchsolver/internal/status"
	"dispatchsolver/internal/store"
)

// ErrBusy means another submission holds the plan's solve slot and no
// existing job could be returned in its place.
var ErrBusy = errors.New("solve already in progress")

// Service orchestrates solve submissions: the idempotency gate, the
// per-plan lock, job bookkeeping, and handoff to the worker pool. A
// submission answers fast with a task id; the pipeline runs on a
// worker and always releases the lock on its way out.
type Service struct {
	store     store.Store
	locker    lock.Locker
	tracker   *status.Tracker
	assembler *Assembler
	engine    opt.Engine
	pool      *pool
	leaseSec  int
}

type Config struct {
	Workers      int
	QueueDepth   int
	LockLeaseSec int
}

func NewService(st store.Store, locker lock.Locker, tracker *status.Tracker, assembler *Assembler, engine opt.Engine, cfg Config) *Service {
	if cfg.LockLeaseSec <= 0 {
		cfg.LockLeaseSec = 60
	}
	return &Service{
		store:     st,
		locker:    locker,
		tracker:   tracker,
		assembler: assembler,
		engine:    engine,
		pool:      newPool(cfg.Workers, cfg.QueueDepth),
		leaseSec:  cfg.LockLeaseSec,
	}
}

// Submit accepts a solve request for a plan. Repeated submissions while
// a job is ACCEPTED or RUNNING return that job's task id instead of
// starting a second solve.
func (s *Service) Submit(ctx context.Context, req model.SolveRequest) (model.SolveSubmitResponse, error) {
	plan, err := s.store.GetPlan(ctx, req.TenantID, req.PlanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.SolveSubmitResponse{}, ErrPlanNotFound
		}
		return model.SolveSubmitResponse{}, err
	}

	// idempotency gate: an active job absorbs the submission
	if active, err := s.store.FindActiveJob(ctx, req.TenantID, req.PlanID); err == nil {
		metrics.SolveSubmissions.WithLabelValues("duplicate").Inc()
		log.Printf("SOLVE_SUBMIT tenant=%s plan=%s task=%s dedup=true", req.TenantID, req.PlanID, active.TaskID)
		return model.SolveSubmitResponse{TaskID: active.TaskID, Status: active.Status}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.SolveSubmitResponse{}, err
	}

	key := lock.SolveKey(req.TenantID, req.PlanID)
	if !s.locker.TryAcquire(ctx, key, s.leaseSec) {
		// lost the race: the winner's job row may already be visible
		if active, err := s.store.FindActiveJob(ctx, req.TenantID, req.PlanID); err == nil {
			metrics.SolveSubmissions.WithLabelValues("duplicate").Inc()
			return model.SolveSubmitResponse{TaskID: active.TaskID, Status: active.Status}, nil
		}
		metrics.SolveSubmissions.WithLabelValues("busy").Inc()
		return model.SolveSubmitResponse{}, ErrBusy
	}

	taskID := newTaskID(req.TenantID, req.PlanID)
	jobRow := model.SolveJob{
		TenantID: req.TenantID,
		PlanID:   req.PlanID,
		TaskID:   taskID,
	}
	if err := s.tracker.MarkAccepted(ctx, jobRow); err != nil {
		s.release(key, taskID)
		return model.SolveSubmitResponse{}, err
	}

	log.Printf("SOLVE_SUBMIT tenant=%s plan=%s task=%s", req.TenantID, req.PlanID, taskID)

	enqueued := s.pool.tryEnqueue(func(runCtx context.Context) {
		s.runJob(runCtx, req, taskID, key)
	})
	if !enqueued {
		// roll the submission back so the next caller is not wedged.
		// Busy is transient: only the job fails, the plan returns to its
		// pre-submission status. Background context: the rollback must
		// land even if the caller has gone away.
		s.tracker.RollbackSubmission(context.Background(), plan, taskID, "solver queue full")
		s.release(key, taskID)
		metrics.SolveSubmissions.WithLabelValues("rejected").Inc()
		return model.SolveSubmitResponse{}, ErrBusy
	}

	metrics.SolveSubmissions.WithLabelValues("accepted").Inc()
	return model.SolveSubmitResponse{TaskID: taskID, Status: model.StatusAccepted}, nil
}

// Status reports a submitted job.
func (s *Service) Status(ctx context.Context, tenantID, planID, taskID string) (model.SolveStatusResponse, error) {
	j, err := s.store.GetJob(ctx, tenantID, planID, taskID)
	if err != nil {
		return model.SolveStatusResponse{}, err
	}
	return model.SolveStatusResponse{TaskID: j.TaskID, Status: j.Status, Message: j.Message}, nil
}

// Shutdown drains the worker pool.
func (s *Service) Shutdown() { s.pool.shutdown() }

// runJob is the solve pipeline. The lock acquired at submission is
// owned here and released on every exit path, success or not.
func (s *Service) runJob(ctx context.Context, req model.SolveRequest, taskID, lockKey string) {
	start := time.Now()
	defer s.release(lockKey, taskID)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("SOLVE_PANIC tenant=%s plan=%s task=%s err=%v", req.TenantID, req.PlanID, taskID, r)
			s.finishFailed(ctx, req, taskID, "internal error", start)
		}
	}()

	if err := s.tracker.MarkRunning(ctx, req.TenantID, req.PlanID, taskID); err != nil {
		log.Printf("SOLVE_FAIL task=%s stage=running err=%v", taskID, err)
		s.tracker.MarkFailed(ctx, req.TenantID, req.PlanID, taskID, "internal error")
		return
	}
	log.Printf("SOLVE_START tenant=%s plan=%s task=%s", req.TenantID, req.PlanID, taskID)

	problem, err := s.assembler.Assemble(ctx, req)
	if err != nil {
		msg := "assemble failed"
		switch {
		case errors.Is(err, ErrPlanNotFound):
			msg = "Plan not found"
		case errors.Is(err, ErrNoAvailableVehicles):
			msg = "No available vehicles"
		case errors.Is(err, ErrNoWaitingTasks):
			msg = "No waiting tasks"
		}
		log.Printf("SOLVE_FAIL tenant=%s plan=%s task=%s stage=assemble err=%v", req.TenantID, req.PlanID, taskID, err)
		s.finishFailed(ctx, req, taskID, msg, start)
		return
	}

	solveCtx, cancel := context.WithTimeout(ctx, problem.Options.TimeLimit+10*time.Second)
	defer cancel()
	result := s.engine.Solve(solveCtx, problem)

	if result.Status != model.StatusSolved {
		if err := s.persist(ctx, req, result); err != nil {
			log.Printf("SOLVE_FAIL tenant=%s plan=%s task=%s stage=persist err=%v", req.TenantID, req.PlanID, taskID, err)
		}
		msg := result.Message
		if msg == "" {
			msg = "No solution"
		}
		log.Printf("SOLVE_FAIL tenant=%s plan=%s task=%s reason=%q", req.TenantID, req.PlanID, taskID, msg)
		s.finishFailed(ctx, req, taskID, msg, start)
		return
	}

	if err := s.persist(ctx, req, result); err != nil {
		log.Printf("SOLVE_FAIL tenant=%s plan=%s task=%s stage=persist err=%v", req.TenantID, req.PlanID, taskID, err)
		s.finishFailed(ctx, req, taskID, "persist failed", start)
		return
	}

	sum := model.PlanSummary{
		Message:         result.Message,
		AssignedCount:   result.KPI.AssignedTaskCount,
		UnassignedCount: result.KPI.UnassignedTaskCount,
		SolveMillis:     result.KPI.SolveMillis,
	}
	for _, r := range result.Routes {
		sum.TotalDistanceM += r.TotalDistanceM
		sum.TotalTimeSec += r.TotalTimeSec
	}
	if err := s.tracker.MarkSolved(ctx, req.TenantID, req.PlanID, taskID, sum); err != nil {
		log.Printf("SOLVE_FAIL tenant=%s plan=%s task=%s stage=finalize err=%v", req.TenantID, req.PlanID, taskID, err)
		s.finishFailed(ctx, req, taskID, "finalize failed", start)
		return
	}

	metrics.SolveOutcomes.WithLabelValues(model.StatusSolved).Inc()
	metrics.SolveDuration.Observe(time.Since(start).Seconds())
	log.Printf("SOLVE_END tenant=%s plan=%s task=%s assigned=%d unassigned=%d distM=%d millis=%d",
		req.TenantID, req.PlanID, taskID, sum.AssignedCount, sum.UnassignedCount, sum.TotalDistanceM, sum.SolveMillis)
}

// persist replaces the plan's result generation with the engine output.
func (s *Service) persist(ctx context.Context, req model.SolveRequest, result opt.Result) error {
	routes := make([]model.Route, 0, len(result.Routes))
	for _, r := range result.Routes {
		route := model.Route{
			VehicleID:      r.VehicleID,
			TotalDistanceM: r.TotalDistanceM,
			TotalTimeSec:   r.TotalTimeSec,
		}
		for _, st := range r.Stops {
			route.Stops = append(route.Stops, model.RouteStop{
				Seq:            st.Seq,
				TaskID:         st.TaskID,
				NodeID:         st.NodeID,
				EtaSec:         st.EtaSec,
				EtdSec:         st.EtdSec,
				ServiceTimeSec: st.ServiceTimeSec,
			})
		}
		routes = append(routes, route)
	}
	unassigned := make([]model.UnassignedItem, 0, len(result.Unassigned))
	for _, u := range result.Unassigned {
		unassigned = append(unassigned, model.UnassignedItem{
			TaskID:     u.TaskID,
			ReasonCode: u.ReasonCode,
			Detail:     u.Detail,
		})
	}
	return s.store.ReplaceResults(ctx, req.TenantID, req.PlanID, routes, unassigned)
}

func (s *Service) finishFailed(ctx context.Context, req model.SolveRequest, taskID, msg string, start time.Time) {
	s.tracker.MarkFailed(ctx, req.TenantID, req.PlanID, taskID, msg)
	metrics.SolveOutcomes.WithLabelValues(model.StatusFailed).Inc()
	metrics.SolveDuration.Observe(time.Since(start).Seconds())
}

func (s *Service) release(key, taskID string) {
	s.locker.Release(context.Background(), key)
	log.Printf("SOLVE_UNLOCK task=%s key=%s", taskID, key)
}

// newTaskID builds a collision-resistant external job id.
func newTaskID(tenantID, planID string) string {
	return fmt.Sprintf("solve-%s-%s-%d-%s",
		tenantID, planID, time.Now().UnixMilli(), uuid.New().String()[:8])
}
