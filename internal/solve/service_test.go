package solve

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dispatchsolver/internal/events"
	"dispatchsolver/internal/lock"
	"dispatchsolver/internal/matrix"
	"dispatchsolver/internal/model"
	"dispatchsolver/internal/opt"
	"dispatchsolver/internal/status"
	"dispatchsolver/internal/store"
)

// stubEngine returns a canned result, optionally blocking on started/
// release channels so tests can hold a job in RUNNING.
type stubEngine struct {
	result  opt.Result
	started chan string
	release chan struct{}
}

func (e *stubEngine) Solve(ctx context.Context, p opt.Problem) opt.Result {
	if e.started != nil {
		e.started <- p.PlanID
	}
	if e.release != nil {
		<-e.release
	}
	return e.result
}

// countingLocker wraps the in-memory locker and counts transitions.
type countingLocker struct {
	*lock.Memory
	mu       sync.Mutex
	acquires int
	releases int
}

func (c *countingLocker) TryAcquire(ctx context.Context, key string, leaseSec int) bool {
	ok := c.Memory.TryAcquire(ctx, key, leaseSec)
	if ok {
		c.mu.Lock()
		c.acquires++
		c.mu.Unlock()
	}
	return ok
}

func (c *countingLocker) Release(ctx context.Context, key string) {
	c.Memory.Release(ctx, key)
	c.mu.Lock()
	c.releases++
	c.mu.Unlock()
}

func (c *countingLocker) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquires, c.releases
}

func solvedResult() opt.Result {
	return opt.Result{
		Status: model.StatusSolved,
		KPI:    opt.KPI{AssignedTaskCount: 1, SolveMillis: 1},
		Routes: []opt.RouteResult{{
			VehicleID:      "v1",
			TotalDistanceM: 1000,
			TotalTimeSec:   120,
			Stops:          []opt.StopResult{{Seq: 0, TaskID: "t1", NodeID: "n1", EtaSec: 120, EtdSec: 180, ServiceTimeSec: 60}},
		}},
	}
}

func seedPlan(t *testing.T, st store.Store, tenantID, planID string) {
	t.Helper()
	_, err := st.CreatePlan(context.Background(), model.Plan{ID: planID, TenantID: tenantID, TimeLimitSec: 1})
	if err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	_, err = st.CreateVehicle(context.Background(), model.VehicleResource{
		ID: "v1", TenantID: tenantID, StartNodeID: "depot", EndNodeID: "depot",
		CapacityWeight: 100, WorkEndSec: 36000,
	})
	if err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	_, err = st.CreateTask(context.Background(), model.TaskNode{
		ID: "t1", TenantID: tenantID, PlanID: planID, NodeID: "n1",
		TwEndSec: 36000, ServiceTimeSec: 60, DemandWeight: 1,
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func newTestService(st store.Store, locker lock.Locker, engine opt.Engine, cfg Config) *Service {
	tracker := status.NewTracker(st, events.NewMemory())
	return NewService(st, locker, tracker, NewAssembler(st, matrix.Linear{}), engine, cfg)
}

func waitForJob(t *testing.T, st store.Store, tenantID, planID, taskID, want string) model.SolveJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := st.GetJob(context.Background(), tenantID, planID, taskID)
		if err == nil && j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := st.GetJob(context.Background(), tenantID, planID, taskID)
	t.Fatalf("job %s status = %s, want %s", taskID, j.Status, want)
	return model.SolveJob{}
}

func TestSubmitRunsToSolved(t *testing.T) {
	st := store.NewMemory()
	seedPlan(t, st, "t1", "p1")
	locker := &countingLocker{Memory: lock.NewMemory()}
	svc := newTestService(st, locker, &stubEngine{result: solvedResult()}, Config{})
	defer svc.Shutdown()

	resp, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != model.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", resp.Status)
	}
	if !strings.HasPrefix(resp.TaskID, "solve-t1-p1-") {
		t.Fatalf("taskId = %q, want solve-t1-p1- prefix", resp.TaskID)
	}

	waitForJob(t, st, "t1", "p1", resp.TaskID, model.StatusSolved)

	plan, err := st.GetPlan(context.Background(), "t1", "p1")
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if plan.Status != model.StatusSolved || plan.AssignedCount != 1 {
		t.Fatalf("plan = %s assigned=%d, want SOLVED assigned=1", plan.Status, plan.AssignedCount)
	}
	routes, _ := st.ListRoutes(context.Background(), "t1", "p1")
	if len(routes) != 1 || len(routes[0].Stops) != 1 {
		t.Fatalf("routes = %+v, want 1 route with 1 stop", routes)
	}
	if acq, rel := locker.counts(); acq != 1 || rel != 1 {
		t.Fatalf("lock acquires=%d releases=%d, want 1/1", acq, rel)
	}
	if locker.Held(lock.SolveKey("t1", "p1")) {
		t.Fatal("lock still held after solve finished")
	}
}

func TestSubmitIsIdempotentWhileActive(t *testing.T) {
	st := store.NewMemory()
	seedPlan(t, st, "t1", "p1")
	eng := &stubEngine{result: solvedResult(), started: make(chan string, 1), release: make(chan struct{})}
	svc := newTestService(st, &countingLocker{Memory: lock.NewMemory()}, eng, Config{})
	defer svc.Shutdown()

	first, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-eng.started // job is now RUNNING and will stay there

	second, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.TaskID != first.TaskID {
		t.Fatalf("second taskId = %s, want %s", second.TaskID, first.TaskID)
	}

	close(eng.release)
	waitForJob(t, st, "t1", "p1", first.TaskID, model.StatusSolved)

	// a submit after completion starts a fresh job
	third, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"})
	if err != nil {
		t.Fatalf("third submit: %v", err)
	}
	if third.TaskID == first.TaskID {
		t.Fatal("finished job absorbed a new submission")
	}
	waitForJob(t, st, "t1", "p1", third.TaskID, model.StatusSolved)
}

func TestSubmitBusyWhenLockHeldWithoutJob(t *testing.T) {
	st := store.NewMemory()
	seedPlan(t, st, "t1", "p1")
	locker := lock.NewMemory()
	svc := newTestService(st, locker, &stubEngine{result: solvedResult()}, Config{})
	defer svc.Shutdown()

	// a foreign holder with no visible job row
	if !locker.TryAcquire(context.Background(), lock.SolveKey("t1", "p1"), 60) {
		t.Fatal("pre-acquire failed")
	}
	_, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestSubmitLockRaceReturnsWinnersJob(t *testing.T) {
	st := store.NewMemory()
	seedPlan(t, st, "t1", "p1")
	locker := lock.NewMemory()
	svc := newTestService(st, locker, &stubEngine{result: solvedResult()}, Config{})
	defer svc.Shutdown()

	locker.TryAcquire(context.Background(), lock.SolveKey("t1", "p1"), 60)
	if err := st.InsertJob(context.Background(), model.SolveJob{
		TenantID: "t1", PlanID: "p1", TaskID: "solve-t1-p1-1-aaaaaaaa", Status: model.StatusRunning,
	}); err != nil {
		t.Fatalf("insert job: %v", err)
	}

	resp, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.TaskID != "solve-t1-p1-1-aaaaaaaa" {
		t.Fatalf("taskId = %s, want the active job's id", resp.TaskID)
	}
}

func TestSubmitPlanNotFound(t *testing.T) {
	svc := newTestService(store.NewMemory(), lock.NewMemory(), &stubEngine{result: solvedResult()}, Config{})
	defer svc.Shutdown()

	_, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "missing"})
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("err = %v, want ErrPlanNotFound", err)
	}
}

func TestLockReleasedOnAssembleFailure(t *testing.T) {
	st := store.NewMemory()
	// plan exists, but no vehicles or tasks
	if _, err := st.CreatePlan(context.Background(), model.Plan{ID: "p1", TenantID: "t1"}); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	locker := &countingLocker{Memory: lock.NewMemory()}
	svc := newTestService(st, locker, &stubEngine{result: solvedResult()}, Config{})
	defer svc.Shutdown()

	resp, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	j := waitForJob(t, st, "t1", "p1", resp.TaskID, model.StatusFailed)
	if j.Message != "No available vehicles" {
		t.Fatalf("message = %q, want no-vehicles failure", j.Message)
	}
	plan, _ := st.GetPlan(context.Background(), "t1", "p1")
	if plan.Status != model.StatusFailed {
		t.Fatalf("plan status = %s, want FAILED", plan.Status)
	}
	if acq, rel := locker.counts(); acq != rel {
		t.Fatalf("lock acquires=%d releases=%d, want equal", acq, rel)
	}
	if locker.Held(lock.SolveKey("t1", "p1")) {
		t.Fatal("lock still held after failed solve")
	}
}

func TestLockReleasedOnEngineFailure(t *testing.T) {
	st := store.NewMemory()
	seedPlan(t, st, "t1", "p1")
	locker := &countingLocker{Memory: lock.NewMemory()}
	eng := &stubEngine{result: opt.Result{
		Status:  model.StatusFailed,
		Message: "No solution",
		Unassigned: []opt.UnassignedResult{
			{TaskID: "t1", ReasonCode: model.ReasonNoSolution, Detail: "No solution found"},
		},
		KPI: opt.KPI{UnassignedTaskCount: 1},
	}}
	svc := newTestService(st, locker, eng, Config{})
	defer svc.Shutdown()

	resp, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	j := waitForJob(t, st, "t1", "p1", resp.TaskID, model.StatusFailed)
	if j.Message != "No solution" {
		t.Fatalf("message = %q, want %q", j.Message, "No solution")
	}
	// no-solution results still replace the generation
	items, _ := st.ListUnassigned(context.Background(), "t1", "p1")
	if len(items) != 1 || items[0].ReasonCode != model.ReasonNoSolution {
		t.Fatalf("unassigned = %+v, want one NO_SOLUTION row", items)
	}
	if locker.Held(lock.SolveKey("t1", "p1")) {
		t.Fatal("lock still held after engine failure")
	}
}

// ctxRecordingStore captures the context used for status writes so a
// test can tell request-scoped writes from background ones.
type ctxRecordingStore struct {
	store.Store
	mu       sync.Mutex
	jobCtxs  []context.Context
	planCtxs []context.Context
}

func (c *ctxRecordingStore) UpdateJobStatus(ctx context.Context, tenantID, planID, taskID, status, message string) error {
	c.mu.Lock()
	c.jobCtxs = append(c.jobCtxs, ctx)
	c.mu.Unlock()
	return c.Store.UpdateJobStatus(ctx, tenantID, planID, taskID, status, message)
}

func (c *ctxRecordingStore) UpdatePlanStatus(ctx context.Context, tenantID, planID, status, message string) error {
	c.mu.Lock()
	c.planCtxs = append(c.planCtxs, ctx)
	c.mu.Unlock()
	return c.Store.UpdatePlanStatus(ctx, tenantID, planID, status, message)
}

func (c *ctxRecordingStore) lastWriteCtxs() (job, plan context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobCtxs[len(c.jobCtxs)-1], c.planCtxs[len(c.planCtxs)-1]
}

func TestQueueFullRollsBackSubmission(t *testing.T) {
	mem := store.NewMemory()
	for _, plan := range []string{"p1", "p2", "p3"} {
		seedPlan(t, mem, "t1", plan)
	}
	st := &ctxRecordingStore{Store: mem}
	locker := &countingLocker{Memory: lock.NewMemory()}
	eng := &stubEngine{result: solvedResult(), started: make(chan string, 3), release: make(chan struct{})}
	svc := newTestService(st, locker, eng, Config{Workers: 1, QueueDepth: 1})
	defer func() {
		close(eng.release)
		svc.Shutdown()
	}()

	if _, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"}); err != nil {
		t.Fatalf("submit p1: %v", err)
	}
	<-eng.started // worker occupied by p1
	if _, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p2"}); err != nil {
		t.Fatalf("submit p2: %v", err) // sits in the queue
	}

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel() // the caller is already gone when the rejection lands
	resp, err := svc.Submit(reqCtx, model.SolveRequest{TenantID: "t1", PlanID: "p3"})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v (resp %+v), want ErrBusy", err, resp)
	}
	j, err := st.FindActiveJob(context.Background(), "t1", "p3")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("active job after rejection = %+v, want none", j)
	}
	if locker.Held(lock.SolveKey("t1", "p3")) {
		t.Fatal("lock still held after queue-full rollback")
	}

	// busy is transient: the plan returns to its pre-submission status
	plan, _ := st.GetPlan(context.Background(), "t1", "p3")
	if plan.Status != model.StatusCreated {
		t.Fatalf("rejected plan status = %s, want CREATED restored", plan.Status)
	}

	// the rollback writes must not ride the (dead) request context
	jobCtx, planCtx := st.lastWriteCtxs()
	if jobCtx.Done() != nil || planCtx.Done() != nil {
		t.Fatal("rollback used a cancelable context")
	}
}

func TestConcurrentSubmitsYieldOneActiveJob(t *testing.T) {
	st := store.NewMemory()
	seedPlan(t, st, "t1", "p1")
	eng := &stubEngine{result: solvedResult(), started: make(chan string, 1), release: make(chan struct{})}
	svc := newTestService(st, &countingLocker{Memory: lock.NewMemory()}, eng, Config{})
	defer func() {
		close(eng.release)
		svc.Shutdown()
	}()

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"})
			if err != nil {
				if errors.Is(err, ErrBusy) {
					return
				}
				t.Errorf("submit: %v", err)
				return
			}
			ids <- resp.TaskID
		}()
	}
	wg.Wait()
	close(ids)

	distinct := map[string]struct{}{}
	for id := range ids {
		distinct[id] = struct{}{}
	}
	if len(distinct) != 1 {
		t.Fatalf("distinct task ids = %d (%v), want exactly 1", len(distinct), distinct)
	}
}

func TestReplaceResultsNotAppend(t *testing.T) {
	st := store.NewMemory()
	seedPlan(t, st, "t1", "p1")
	svc := newTestService(st, lock.NewMemory(), &stubEngine{result: solvedResult()}, Config{})
	defer svc.Shutdown()

	for i := 0; i < 2; i++ {
		resp, err := svc.Submit(context.Background(), model.SolveRequest{TenantID: "t1", PlanID: "p1"})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		waitForJob(t, st, "t1", "p1", resp.TaskID, model.StatusSolved)
	}

	routes, _ := st.ListRoutes(context.Background(), "t1", "p1")
	if len(routes) != 1 {
		t.Fatalf("routes after two solves = %d, want 1 (replace, not append)", len(routes))
	}
}

func TestTaskIDsAreUnique(t *testing.T) {
	a := newTaskID("t1", "p1")
	b := newTaskID("t1", "p1")
	if a == b {
		t.Fatalf("task ids collide: %s", a)
	}
	if !strings.HasPrefix(a, "solve-t1-p1-") {
		t.Fatalf("taskId = %q, want solve-t1-p1- prefix", a)
	}
}
