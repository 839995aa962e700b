package opt

import (
	"context"
	"testing"
	"time"

	"dispatchsolver/internal/model"
)

// linearMatrices mirrors the stub matrix provider: |i-j|*1000 meters,
// |i-j|*120 seconds over n nodes.
func linearMatrices(n int) (dist, tsec [][]int64) {
	dist = make([][]int64, n)
	tsec = make([][]int64, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]int64, n)
		tsec[i] = make([]int64, n)
		for j := 0; j < n; j++ {
			d := int64(i - j)
			if d < 0 {
				d = -d
			}
			dist[i][j] = d * 1000
			tsec[i][j] = d * 120
		}
	}
	return dist, tsec
}

func fixtureProblem(tasks []model.TaskNode, allowDrop bool, penalty int64) Problem {
	vehicles := []model.VehicleResource{
		{ID: "v1", StartNodeID: "depot", EndNodeID: "depot", CapacityWeight: 100, WorkStartSec: 0, WorkEndSec: 36000, Status: model.VehicleAvailable},
		{ID: "v2", StartNodeID: "depot", EndNodeID: "depot", CapacityWeight: 100, WorkStartSec: 0, WorkEndSec: 36000, Status: model.VehicleAvailable},
	}
	p := Problem{
		TenantID:    "t1",
		PlanID:      "p1",
		Vehicles:    vehicles,
		Tasks:       tasks,
		NodeToIndex: map[string]int{"depot": 0},
		IndexToNode: []string{"depot"},
		Options:     Options{TimeLimit: 2 * time.Second, AllowDrop: allowDrop, UnassignedPenalty: penalty},
	}
	for _, t := range tasks {
		if _, ok := p.NodeToIndex[t.NodeID]; !ok {
			p.NodeToIndex[t.NodeID] = len(p.IndexToNode)
			p.IndexToNode = append(p.IndexToNode, t.NodeID)
		}
	}
	p.DistM, p.TimeSec = linearMatrices(len(p.IndexToNode))
	return p
}

func task(id, node string, twStart, twEnd int64) model.TaskNode {
	return model.TaskNode{
		ID: id, NodeID: node, TwStartSec: twStart, TwEndSec: twEnd,
		ServiceTimeSec: 60, DemandWeight: 1, Status: model.TaskWaiting,
	}
}

func TestSolveAssignsAllFeasibleTasks(t *testing.T) {
	tasks := []model.TaskNode{
		task("t1", "n1", 0, 36000),
		task("t2", "n2", 0, 36000),
		task("t3", "n3", 0, 36000),
	}
	res := NewHeuristic().Solve(context.Background(), fixtureProblem(tasks, false, 0))

	if res.Status != model.StatusSolved {
		t.Fatalf("status = %s (%s), want SOLVED", res.Status, res.Message)
	}
	if res.KPI.AssignedTaskCount != 3 {
		t.Fatalf("assigned = %d, want 3", res.KPI.AssignedTaskCount)
	}
	if res.KPI.UnassignedTaskCount != 0 || len(res.Unassigned) != 0 {
		t.Fatalf("unassigned = %d, want 0", len(res.Unassigned))
	}
	stops := 0
	for _, r := range res.Routes {
		if len(r.Stops) == 0 {
			t.Fatalf("route %s has no stops", r.VehicleID)
		}
		for i, st := range r.Stops {
			if st.Seq != i {
				t.Fatalf("route %s stop %d seq = %d", r.VehicleID, i, st.Seq)
			}
			if st.EtdSec != st.EtaSec+st.ServiceTimeSec {
				t.Fatalf("stop %s etd = %d, want eta+service = %d", st.TaskID, st.EtdSec, st.EtaSec+st.ServiceTimeSec)
			}
		}
		stops += len(r.Stops)
	}
	if stops != res.KPI.AssignedTaskCount {
		t.Fatalf("stops = %d, assigned = %d", stops, res.KPI.AssignedTaskCount)
	}
}

func TestSolveDropsUnreachableTaskWhenAllowed(t *testing.T) {
	// n3 is 360s of travel from the depot at minimum, so a window
	// closing at 200s can never be met.
	tasks := []model.TaskNode{
		task("t1", "n1", 0, 36000),
		task("t2", "n2", 0, 36000),
		task("t3", "n3", 100, 200),
	}
	res := NewHeuristic().Solve(context.Background(), fixtureProblem(tasks, true, 5000))

	if res.Status != model.StatusSolved {
		t.Fatalf("status = %s (%s), want SOLVED", res.Status, res.Message)
	}
	if res.KPI.AssignedTaskCount != 2 {
		t.Fatalf("assigned = %d, want 2", res.KPI.AssignedTaskCount)
	}
	if len(res.Unassigned) != 1 {
		t.Fatalf("unassigned = %d, want 1", len(res.Unassigned))
	}
	u := res.Unassigned[0]
	if u.TaskID != "t3" || u.ReasonCode != model.ReasonDropped {
		t.Fatalf("unassigned = %+v, want t3 DROPPED", u)
	}
	for _, r := range res.Routes {
		for _, st := range r.Stops {
			if st.TaskID == "t3" {
				t.Fatalf("dropped task t3 appears on route %s", r.VehicleID)
			}
		}
	}
}

func TestSolveFailsWithoutDropOnInfeasibleTask(t *testing.T) {
	tasks := []model.TaskNode{
		task("t1", "n1", 0, 36000),
		task("t2", "n2", 0, 36000),
		task("t3", "n3", 100, 200),
	}
	res := NewHeuristic().Solve(context.Background(), fixtureProblem(tasks, false, 0))

	if res.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", res.Status)
	}
	if len(res.Routes) != 0 {
		t.Fatalf("routes = %d, want 0", len(res.Routes))
	}
	if len(res.Unassigned) != 3 {
		t.Fatalf("unassigned = %d, want all 3", len(res.Unassigned))
	}
	for _, u := range res.Unassigned {
		if u.ReasonCode != model.ReasonNoSolution {
			t.Fatalf("reason = %s, want NO_SOLUTION", u.ReasonCode)
		}
	}
}

func TestSolveRespectsCapacity(t *testing.T) {
	tasks := []model.TaskNode{
		task("t1", "n1", 0, 36000),
		task("t2", "n2", 0, 36000),
	}
	tasks[0].DemandWeight = 80
	tasks[1].DemandWeight = 80

	p := fixtureProblem(tasks, false, 0)
	res := NewHeuristic().Solve(context.Background(), p)

	// each vehicle holds 100, so the two 80-unit tasks must split
	if res.Status != model.StatusSolved {
		t.Fatalf("status = %s (%s), want SOLVED", res.Status, res.Message)
	}
	if len(res.Routes) != 2 {
		t.Fatalf("routes = %d, want 2", len(res.Routes))
	}
	for _, r := range res.Routes {
		if len(r.Stops) != 1 {
			t.Fatalf("route %s stops = %d, want 1", r.VehicleID, len(r.Stops))
		}
	}
}

func TestSolveSkipsTaskWithUnindexedNode(t *testing.T) {
	tasks := []model.TaskNode{
		task("t1", "n1", 0, 36000),
		task("t2", "n2", 0, 36000),
	}
	p := fixtureProblem(tasks, false, 0)
	// a task whose node never made it into the index mapping must be
	// skipped, not aliased onto index 0
	p.Tasks = append(p.Tasks, task("t3", "ghost", 0, 36000))

	res := NewHeuristic().Solve(context.Background(), p)

	if res.Status != model.StatusSolved {
		t.Fatalf("status = %s (%s), want SOLVED", res.Status, res.Message)
	}
	if res.KPI.AssignedTaskCount != 2 {
		t.Fatalf("assigned = %d, want 2", res.KPI.AssignedTaskCount)
	}
	for _, r := range res.Routes {
		for _, st := range r.Stops {
			if st.TaskID == "t3" {
				t.Fatalf("unindexed task t3 routed on %s", r.VehicleID)
			}
			if st.NodeID == "ghost" {
				t.Fatal("ghost node appeared on a route")
			}
		}
	}
	if len(res.Unassigned) != 1 {
		t.Fatalf("unassigned = %+v, want only t3", res.Unassigned)
	}
	u := res.Unassigned[0]
	if u.TaskID != "t3" || u.ReasonCode != model.ReasonNoSolution {
		t.Fatalf("unassigned = %+v, want t3 NO_SOLUTION", u)
	}
}

func TestSolveEmptyInputsFail(t *testing.T) {
	res := NewHeuristic().Solve(context.Background(), Problem{Options: Options{TimeLimit: time.Second}})
	if res.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", res.Status)
	}
}
