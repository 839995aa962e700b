package store

import (
	"context"
	"errors"

	"dispatchsolver/internal/model"
)

// Store is the persistence interface used by the solve orchestration and
// the query handlers. Implementations are tenant-scoped on every call.
type Store interface {
	// Plans
	GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error)
	CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error)
	UpdatePlanStatus(ctx context.Context, tenantID, planID, status, message string) error
	UpdatePlanSummary(ctx context.Context, tenantID, planID string, sum model.PlanSummary) error

	// Solve inputs
	ListAvailableVehicles(ctx context.Context, tenantID string, ids []string) ([]model.VehicleResource, error)
	ListWaitingTasks(ctx context.Context, tenantID, planID string, ids []string) ([]model.TaskNode, error)
	CreateVehicle(ctx context.Context, v model.VehicleResource) (model.VehicleResource, error)
	CreateTask(ctx context.Context, t model.TaskNode) (model.TaskNode, error)

	// Solve jobs
	FindActiveJob(ctx context.Context, tenantID, planID string) (model.SolveJob, error)
	GetJob(ctx context.Context, tenantID, planID, taskID string) (model.SolveJob, error)
	InsertJob(ctx context.Context, job model.SolveJob) error
	UpdateJobStatus(ctx context.Context, tenantID, planID, taskID, status, message string) error

	// Results: retires the previous route/stop/unassigned generation and
	// inserts the new one in a single transaction.
	ReplaceResults(ctx context.Context, tenantID, planID string, routes []model.Route, unassigned []model.UnassignedItem) error
	ListRoutes(ctx context.Context, tenantID, planID string) ([]model.Route, error)
	ListUnassigned(ctx context.Context, tenantID, planID string) ([]model.UnassignedItem, error)
}

var ErrNotFound = errors.New("not found")
