package opt

import (
	"context"
	"time"

	"dispatchsolver/internal/model"
)

// Options are the solver knobs carried into an encoded problem.
type Options struct {
	TimeLimit         time.Duration
	AllowDrop         bool
	UnassignedPenalty int64
}

// Problem is the normalized routing problem consumed by an Engine:
// a compact node index over every vehicle depot and task node, square
// distance/time matrices on that index space, and the raw inputs.
type Problem struct {
	TenantID    string
	PlanID      string
	Vehicles    []model.VehicleResource
	Tasks       []model.TaskNode
	IndexToNode []string       // compact index -> domain node id
	NodeToIndex map[string]int // domain node id -> compact index
	DistM       [][]int64
	TimeSec     [][]int64
	Options     Options
}

// KPI summarizes a solve outcome.
type KPI struct {
	AssignedTaskCount   int
	UnassignedTaskCount int
	SolveMillis         int64
}

// StopResult is one visit in a solved route.
type StopResult struct {
	Seq            int
	TaskID         string
	NodeID         string
	EtaSec         int64
	EtdSec         int64
	ServiceTimeSec int64
}

// RouteResult is the solved route for one vehicle.
type RouteResult struct {
	VehicleID      string
	TotalDistanceM int64
	TotalTimeSec   int64
	Stops          []StopResult
}

// UnassignedResult explains why a task is on no route.
type UnassignedResult struct {
	TaskID     string
	ReasonCode string
	Detail     string
}

// Result is the engine output. Status is SOLVED or FAILED; no-solution
// is a normal FAILED result with every task unassigned, not an error.
type Result struct {
	Status     string
	Message    string
	KPI        KPI
	Routes     []RouteResult
	Unassigned []UnassignedResult
}

// Engine is the optimizer contract. Implementations must self-bound by
// Options.TimeLimit and return rather than error on infeasibility, so
// the engine can be swapped (exact solver, cloud routing API) without
// touching the orchestration.
type Engine interface {
	Solve(ctx context.Context, p Problem) Result
}
