package model

import "time"

// Solve lifecycle statuses shared by Plan and SolveJob.
const (
	StatusCreated  = "CREATED"
	StatusAccepted = "ACCEPTED"
	StatusRunning  = "RUNNING"
	StatusSolved   = "SOLVED"
	StatusFailed   = "FAILED"
)

// Unassigned reason codes.
const (
	ReasonNoSolution = "NO_SOLUTION"
	ReasonDropped    = "DROPPED"
)

// Vehicle/task input statuses. Only AVAILABLE vehicles and WAITING tasks
// participate in a solve.
const (
	VehicleAvailable = "AVAILABLE"
	TaskWaiting      = "WAITING"
)

// Plan is a tenant-scoped unit of dispatch work subject to solving.
type Plan struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenantId"`
	PlanCode          string    `json:"planCode,omitempty"`
	Status            string    `json:"status"`
	Message           string    `json:"message,omitempty"`
	TimeLimitSec      int       `json:"timeLimitSec,omitempty"`
	AllowDrop         bool      `json:"allowDrop,omitempty"`
	UnassignedPenalty int64     `json:"unassignedPenalty,omitempty"`
	TotalDistanceM    int64     `json:"totalDistanceM"`
	TotalTimeSec      int64     `json:"totalTimeSec"`
	AssignedCount     int       `json:"assignedCount"`
	UnassignedCount   int       `json:"unassignedCount"`
	SolveMillis       int64     `json:"solveMillis"`
	UpdatedAt         time.Time `json:"updatedAt,omitempty"`
}

// SolveJob is one asynchronous attempt to solve a Plan. At most one job
// per plan may be ACCEPTED or RUNNING at a time.
type SolveJob struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	PlanID    string    `json:"planId"`
	TaskID    string    `json:"taskId"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TaskNode is one schedulable unit of work, immutable input to a solve.
type TaskNode struct {
	ID             string  `json:"id"`
	TenantID       string  `json:"tenantId"`
	PlanID         string  `json:"planId"`
	TaskCode       string  `json:"taskCode,omitempty"`
	NodeID         string  `json:"nodeId"`
	Lat            float64 `json:"lat,omitempty"`
	Lng            float64 `json:"lng,omitempty"`
	TwStartSec     int64   `json:"twStartSec"`
	TwEndSec       int64   `json:"twEndSec"`
	ServiceTimeSec int64   `json:"serviceTimeSec"`
	DemandWeight   int64   `json:"demandWeight"`
	Status         string  `json:"status"`
}

// VehicleResource is one routing vehicle, immutable input to a solve.
type VehicleResource struct {
	ID             string  `json:"id"`
	TenantID       string  `json:"tenantId"`
	VehicleCode    string  `json:"vehicleCode,omitempty"`
	StartNodeID    string  `json:"startNodeId"`
	EndNodeID      string  `json:"endNodeId"`
	StartLat       float64 `json:"startLat,omitempty"`
	StartLng       float64 `json:"startLng,omitempty"`
	CapacityWeight int64   `json:"capacityWeight"`
	WorkStartSec   int64   `json:"workStartSec"`
	WorkEndSec     int64   `json:"workEndSec"`
	Status         string  `json:"status"`
}

// Route is a persisted vehicle route produced by a solve.
type Route struct {
	ID             string      `json:"id"`
	TenantID       string      `json:"tenantId"`
	PlanID         string      `json:"planId"`
	VehicleID      string      `json:"vehicleId"`
	TotalDistanceM int64       `json:"totalDistanceM"`
	TotalTimeSec   int64       `json:"totalTimeSec"`
	Stops          []RouteStop `json:"stops,omitempty"`
}

// RouteStop is one visit on a Route, ordered by Seq.
type RouteStop struct {
	ID             string `json:"id"`
	RouteID        string `json:"routeId"`
	Seq            int    `json:"seq"`
	TaskID         string `json:"taskId"`
	NodeID         string `json:"nodeId"`
	EtaSec         int64  `json:"etaSec"`
	EtdSec         int64  `json:"etdSec"`
	ServiceTimeSec int64  `json:"serviceTimeSec"`
}

// UnassignedItem records a task the solver could not place on any route.
type UnassignedItem struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	PlanID     string `json:"planId"`
	TaskID     string `json:"taskId"`
	ReasonCode string `json:"reasonCode"`
	Detail     string `json:"detail,omitempty"`
}

// SolveOptions are the caller-supplied solver knobs. Pointer fields
// distinguish "not given, use the plan default" from an explicit zero.
type SolveOptions struct {
	TimeLimitSeconds  int    `json:"timeLimitSeconds,omitempty"`
	AllowDrop         *bool  `json:"allowDrop,omitempty"`
	UnassignedPenalty *int64 `json:"unassignedPenalty,omitempty"`
}

// SolveRequest is the submission payload for POST /plans/{planId}/solve.
type SolveRequest struct {
	TenantID   string       `json:"tenantId"`
	PlanID     string       `json:"planId,omitempty"`
	TaskIDs    []string     `json:"taskIds,omitempty"`
	VehicleIDs []string     `json:"vehicleIds,omitempty"`
	Options    SolveOptions `json:"options"`
}

// PlanSummary carries the result figures written back to a Plan after a solve.
type PlanSummary struct {
	Status          string
	Message         string
	TotalDistanceM  int64
	TotalTimeSec    int64
	AssignedCount   int
	UnassignedCount int
	SolveMillis     int64
}

// SolveSubmitResponse is the synchronous answer to a submission.
type SolveSubmitResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// SolveStatusResponse reports a job's current state.
type SolveStatusResponse struct {
	TaskID  string `json:"taskId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
