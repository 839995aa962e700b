package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatchsolver/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set
// and in tests. Result generations are replaced wholesale under one
// mutex hold, which gives the same visible atomicity the Postgres
// implementation gets from its transaction.
type Memory struct {
	mu         sync.Mutex
	plans      map[string]model.Plan // tenant/plan -> plan
	vehicles   map[string][]model.VehicleResource
	tasks      map[string][]model.TaskNode // tenant/plan -> tasks
	jobs       map[string][]model.SolveJob // tenant/plan -> jobs, append order
	routes     map[string][]model.Route    // tenant/plan -> current generation
	unassigned map[string][]model.UnassignedItem
}

func NewMemory() *Memory {
	return &Memory{
		plans:      map[string]model.Plan{},
		vehicles:   map[string][]model.VehicleResource{},
		tasks:      map[string][]model.TaskNode{},
		jobs:       map[string][]model.SolveJob{},
		routes:     map[string][]model.Route{},
		unassigned: map[string][]model.UnassignedItem{},
	}
}

func pk(tenantID, planID string) string { return tenantID + "/" + planID }

func (m *Memory) GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[pk(tenantID, planID)]
	if !ok {
		return model.Plan{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = model.StatusCreated
	}
	p.UpdatedAt = time.Now()
	m.plans[pk(p.TenantID, p.ID)] = p
	return p, nil
}

func (m *Memory) UpdatePlanStatus(ctx context.Context, tenantID, planID, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pk(tenantID, planID)
	p, ok := m.plans[k]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.Message = message
	p.UpdatedAt = time.Now()
	m.plans[k] = p
	return nil
}

func (m *Memory) UpdatePlanSummary(ctx context.Context, tenantID, planID string, sum model.PlanSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pk(tenantID, planID)
	p, ok := m.plans[k]
	if !ok {
		return ErrNotFound
	}
	p.Status = sum.Status
	p.Message = sum.Message
	p.TotalDistanceM = sum.TotalDistanceM
	p.TotalTimeSec = sum.TotalTimeSec
	p.AssignedCount = sum.AssignedCount
	p.UnassignedCount = sum.UnassignedCount
	p.SolveMillis = sum.SolveMillis
	p.UpdatedAt = time.Now()
	m.plans[k] = p
	return nil
}

func (m *Memory) ListAvailableVehicles(ctx context.Context, tenantID string, ids []string) ([]model.VehicleResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := idSet(ids)
	out := []model.VehicleResource{}
	for _, v := range m.vehicles[tenantID] {
		if v.Status != model.VehicleAvailable {
			continue
		}
		if want != nil {
			if _, ok := want[v.ID]; !ok {
				continue
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) ListWaitingTasks(ctx context.Context, tenantID, planID string, ids []string) ([]model.TaskNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := idSet(ids)
	out := []model.TaskNode{}
	for _, t := range m.tasks[pk(tenantID, planID)] {
		if t.Status != model.TaskWaiting {
			continue
		}
		if want != nil {
			if _, ok := want[t.ID]; !ok {
				continue
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *Memory) CreateVehicle(ctx context.Context, v model.VehicleResource) (model.VehicleResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = model.VehicleAvailable
	}
	m.vehicles[v.TenantID] = append(m.vehicles[v.TenantID], v)
	return v, nil
}

func (m *Memory) CreateTask(ctx context.Context, t model.TaskNode) (model.TaskNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = model.TaskWaiting
	}
	k := pk(t.TenantID, t.PlanID)
	m.tasks[k] = append(m.tasks[k], t)
	return t, nil
}

func (m *Memory) FindActiveJob(ctx context.Context, tenantID, planID string) (model.SolveJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.jobs[pk(tenantID, planID)]
	active := []model.SolveJob{}
	for _, j := range jobs {
		if j.Status == model.StatusAccepted || j.Status == model.StatusRunning {
			active = append(active, j)
		}
	}
	if len(active) == 0 {
		return model.SolveJob{}, ErrNotFound
	}
	sort.Slice(active, func(i, k int) bool { return active[i].UpdatedAt.After(active[k].UpdatedAt) })
	return active[0], nil
}

func (m *Memory) GetJob(ctx context.Context, tenantID, planID, taskID string) (model.SolveJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs[pk(tenantID, planID)] {
		if j.TaskID == taskID {
			return j, nil
		}
	}
	return model.SolveJob{}, ErrNotFound
}

func (m *Memory) InsertJob(ctx context.Context, job model.SolveJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	k := pk(job.TenantID, job.PlanID)
	m.jobs[k] = append(m.jobs[k], job)
	return nil
}

func (m *Memory) UpdateJobStatus(ctx context.Context, tenantID, planID, taskID, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pk(tenantID, planID)
	jobs := m.jobs[k]
	for i := range jobs {
		if jobs[i].TaskID == taskID {
			jobs[i].Status = status
			jobs[i].Message = message
			jobs[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ReplaceResults(ctx context.Context, tenantID, planID string, routes []model.Route, unassigned []model.UnassignedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pk(tenantID, planID)
	newRoutes := make([]model.Route, 0, len(routes))
	for _, r := range routes {
		r.TenantID = tenantID
		r.PlanID = planID
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		for i := range r.Stops {
			if r.Stops[i].ID == "" {
				r.Stops[i].ID = uuid.New().String()
			}
			r.Stops[i].RouteID = r.ID
		}
		newRoutes = append(newRoutes, r)
	}
	newUnassigned := make([]model.UnassignedItem, 0, len(unassigned))
	for _, u := range unassigned {
		u.TenantID = tenantID
		u.PlanID = planID
		if u.ID == "" {
			u.ID = uuid.New().String()
		}
		newUnassigned = append(newUnassigned, u)
	}
	m.routes[k] = newRoutes
	m.unassigned[k] = newUnassigned
	return nil
}

func (m *Memory) ListRoutes(ctx context.Context, tenantID, planID string) ([]model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Route, len(m.routes[pk(tenantID, planID)]))
	copy(out, m.routes[pk(tenantID, planID)])
	return out, nil
}

func (m *Memory) ListUnassigned(ctx context.Context, tenantID, planID string) ([]model.UnassignedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.UnassignedItem, len(m.unassigned[pk(tenantID, planID)]))
	copy(out, m.unassigned[pk(tenantID, planID)])
	return out, nil
}

func idSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}
