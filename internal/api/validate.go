package api

import (
	"fmt"

	"dispatchsolver/internal/model"
)

func validateSolveRequest(req *model.SolveRequest) error {
	if req.Options.TimeLimitSeconds < 0 {
		return fmt.Errorf("timeLimitSeconds must be >= 0")
	}
	if req.Options.TimeLimitSeconds > 300 {
		return fmt.Errorf("timeLimitSeconds must be <= 300")
	}
	if req.Options.UnassignedPenalty != nil && *req.Options.UnassignedPenalty < 0 {
		return fmt.Errorf("unassignedPenalty must be >= 0")
	}
	seen := map[string]struct{}{}
	for _, id := range req.TaskIDs {
		if id == "" {
			return fmt.Errorf("taskIds must not contain empty ids")
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate task id: %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func validatePlan(p *model.Plan) error {
	if p.TimeLimitSec < 0 || p.TimeLimitSec > 300 {
		return fmt.Errorf("timeLimitSec must be in [0,300]")
	}
	if p.UnassignedPenalty < 0 {
		return fmt.Errorf("unassignedPenalty must be >= 0")
	}
	return nil
}

func validateTask(t *model.TaskNode) error {
	if t.NodeID == "" {
		return fmt.Errorf("nodeId is required")
	}
	if t.TwEndSec < t.TwStartSec {
		return fmt.Errorf("twEndSec must be >= twStartSec")
	}
	if t.ServiceTimeSec < 0 || t.DemandWeight < 0 {
		return fmt.Errorf("serviceTimeSec and demandWeight must be >= 0")
	}
	return nil
}

func validateVehicle(v *model.VehicleResource) error {
	if v.StartNodeID == "" || v.EndNodeID == "" {
		return fmt.Errorf("startNodeId and endNodeId are required")
	}
	if v.WorkEndSec < v.WorkStartSec {
		return fmt.Errorf("workEndSec must be >= workStartSec")
	}
	if v.CapacityWeight < 0 {
		return fmt.Errorf("capacityWeight must be >= 0")
	}
	return nil
}
