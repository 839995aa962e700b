package solve

import (
	"context"
	"errors"
	"time"

	"dispatchsolver/internal/matrix"
	"dispatchsolver/internal/model"
	"dispatchsolver/internal/opt"
	"dispatchsolver/internal/store"
)

var (
	ErrPlanNotFound        = errors.New("plan not found")
	ErrNoAvailableVehicles = errors.New("no available vehicles")
	ErrNoWaitingTasks      = errors.New("no waiting tasks")
)

// Assembler loads solve inputs and encodes them into a normalized
// problem: vehicle depots and task nodes collapse into one compact
// node index, and the matrix provider fills square distance/time
// matrices over that index.
type Assembler struct {
	store    store.Store
	provider matrix.Provider
}

func NewAssembler(st store.Store, provider matrix.Provider) *Assembler {
	return &Assembler{store: st, provider: provider}
}

func (a *Assembler) Assemble(ctx context.Context, req model.SolveRequest) (opt.Problem, error) {
	p := opt.Problem{TenantID: req.TenantID, PlanID: req.PlanID}

	plan, err := a.store.GetPlan(ctx, req.TenantID, req.PlanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return p, ErrPlanNotFound
		}
		return p, err
	}

	vehicles, err := a.store.ListAvailableVehicles(ctx, req.TenantID, req.VehicleIDs)
	if err != nil {
		return p, err
	}
	if len(vehicles) == 0 {
		return p, ErrNoAvailableVehicles
	}

	tasks, err := a.store.ListWaitingTasks(ctx, req.TenantID, req.PlanID, req.TaskIDs)
	if err != nil {
		return p, err
	}
	if len(tasks) == 0 {
		return p, ErrNoWaitingTasks
	}

	p.Vehicles = vehicles
	p.Tasks = tasks
	p.Options = resolveOptions(plan, req.Options)
	p.NodeToIndex = map[string]int{}

	index := func(nodeID string) {
		if _, ok := p.NodeToIndex[nodeID]; ok {
			return
		}
		p.NodeToIndex[nodeID] = len(p.IndexToNode)
		p.IndexToNode = append(p.IndexToNode, nodeID)
	}
	nodes := []matrix.Node{}
	collect := func(nodeID string, lat, lng float64) {
		before := len(p.IndexToNode)
		index(nodeID)
		if len(p.IndexToNode) > before {
			nodes = append(nodes, matrix.Node{ID: nodeID, Lat: lat, Lng: lng})
		}
	}
	for _, v := range vehicles {
		collect(v.StartNodeID, v.StartLat, v.StartLng)
		collect(v.EndNodeID, v.StartLat, v.StartLng)
	}
	for _, t := range tasks {
		collect(t.NodeID, t.Lat, t.Lng)
	}

	p.DistM, p.TimeSec, err = a.provider.Provide(ctx, nodes)
	if err != nil {
		return p, err
	}
	return p, nil
}

// resolveOptions layers request overrides on top of the plan defaults.
func resolveOptions(plan model.Plan, req model.SolveOptions) opt.Options {
	o := opt.Options{
		TimeLimit:         time.Duration(plan.TimeLimitSec) * time.Second,
		AllowDrop:         plan.AllowDrop,
		UnassignedPenalty: plan.UnassignedPenalty,
	}
	if req.TimeLimitSeconds > 0 {
		o.TimeLimit = time.Duration(req.TimeLimitSeconds) * time.Second
	}
	if o.TimeLimit <= 0 {
		o.TimeLimit = 5 * time.Second
	}
	if req.AllowDrop != nil {
		o.AllowDrop = *req.AllowDrop
	}
	if req.UnassignedPenalty != nil {
		o.UnassignedPenalty = *req.UnassignedPenalty
	}
	return o
}
