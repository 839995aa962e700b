package opt

import (
	"context"
	"log"
	"time"

	"dispatchsolver/internal/model"
)

// Heuristic is the built-in routing engine: parallel cheapest feasible
// insertion to construct routes, then 2-opt local search within the
// wall-clock budget. Capacity, task time windows, and vehicle shift
// windows are hard constraints; with AllowDrop a task whose cheapest
// feasible insertion costs more than the unassigned penalty is left off
// the routes instead of failing the problem.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

type insertion struct {
	task    int
	vehicle int
	pos     int
	delta   int64
}

func (e *Heuristic) Solve(ctx context.Context, p Problem) Result {
	start := time.Now()
	out := Result{Status: model.StatusFailed}

	if len(p.Tasks) == 0 || len(p.Vehicles) == 0 {
		out.Message = "No tasks or vehicles"
		return out
	}

	log.Printf("SOLVER_START plan=%s tasks=%d vehicles=%d nodes=%d timeLimit=%s",
		p.PlanID, len(p.Tasks), len(p.Vehicles), len(p.IndexToNode), p.Options.TimeLimit)

	s := newState(p)
	deadline := start.Add(p.Options.TimeLimit)
	if p.Options.TimeLimit <= 0 {
		deadline = start.Add(5 * time.Second)
	}

	// Construction: repeatedly apply the globally cheapest feasible
	// insertion. When drops are allowed and even the cheapest remaining
	// insertion exceeds the penalty, the rest is left unassigned.
	for len(s.pending) > 0 {
		best, ok := s.cheapestInsertion()
		if !ok {
			break
		}
		if p.Options.AllowDrop && p.Options.UnassignedPenalty > 0 && best.delta > p.Options.UnassignedPenalty {
			break
		}
		s.apply(best)
	}

	if len(s.pending) > 0 && !p.Options.AllowDrop {
		// hard problem: a single unplaceable task fails the whole solve
		out.Message = "No solution"
		for _, t := range p.Tasks {
			out.Unassigned = append(out.Unassigned, UnassignedResult{
				TaskID:     t.ID,
				ReasonCode: model.ReasonNoSolution,
				Detail:     "No solution found",
			})
		}
		out.KPI.UnassignedTaskCount = len(p.Tasks)
		out.KPI.SolveMillis = time.Since(start).Milliseconds()
		log.Printf("SOLVER_END plan=%s solved=false cost=%dms", p.PlanID, out.KPI.SolveMillis)
		return out
	}

	// Local search: intra-route 2-opt on distance within the budget.
	s.improve(ctx, deadline)

	out.Status = model.StatusSolved
	out.Message = "OK"
	assigned := 0
	for v := range p.Vehicles {
		seq := s.routes[v]
		if len(seq) == 0 {
			continue
		}
		sched, ok := s.schedule(v, seq)
		if !ok {
			// should not happen: applied insertions are re-checked
			continue
		}
		rr := RouteResult{
			VehicleID:      p.Vehicles[v].ID,
			TotalDistanceM: sched.distM,
			TotalTimeSec:   sched.totalSec,
		}
		for i, ti := range seq {
			t := p.Tasks[ti]
			rr.Stops = append(rr.Stops, StopResult{
				Seq:            i,
				TaskID:         t.ID,
				NodeID:         t.NodeID,
				EtaSec:         sched.etas[i],
				EtdSec:         sched.etas[i] + t.ServiceTimeSec,
				ServiceTimeSec: t.ServiceTimeSec,
			})
			assigned++
		}
		out.Routes = append(out.Routes, rr)
	}
	for ti := range s.pending {
		t := p.Tasks[ti]
		out.Unassigned = append(out.Unassigned, UnassignedResult{
			TaskID:     t.ID,
			ReasonCode: model.ReasonDropped,
			Detail:     "Dropped by penalty",
		})
	}
	for _, ti := range s.skipped {
		t := p.Tasks[ti]
		out.Unassigned = append(out.Unassigned, UnassignedResult{
			TaskID:     t.ID,
			ReasonCode: model.ReasonNoSolution,
			Detail:     "Node not in index mapping",
		})
	}
	out.KPI.AssignedTaskCount = assigned
	out.KPI.UnassignedTaskCount = len(out.Unassigned)
	out.KPI.SolveMillis = time.Since(start).Milliseconds()

	log.Printf("SOLVER_END plan=%s solved=true cost=%dms routes=%d assigned=%d unassigned=%d",
		p.PlanID, out.KPI.SolveMillis, len(out.Routes), assigned, len(out.Unassigned))
	return out
}

// state tracks routes as sequences of task indices per vehicle.
type state struct {
	p       Problem
	vStart  []int
	vEnd    []int
	tNode   []int
	routes  [][]int
	pending map[int]struct{}
	skipped []int // tasks whose node is missing from the index mapping
}

func newState(p Problem) *state {
	s := &state{
		p:       p,
		vStart:  make([]int, len(p.Vehicles)),
		vEnd:    make([]int, len(p.Vehicles)),
		tNode:   make([]int, len(p.Tasks)),
		routes:  make([][]int, len(p.Vehicles)),
		pending: make(map[int]struct{}, len(p.Tasks)),
	}
	for v, veh := range p.Vehicles {
		s.vStart[v] = p.NodeToIndex[veh.StartNodeID]
		s.vEnd[v] = p.NodeToIndex[veh.EndNodeID]
	}
	for t, task := range p.Tasks {
		node, ok := p.NodeToIndex[task.NodeID]
		if !ok {
			// invariant violation: the assembler indexes every task node.
			// Skip rather than silently alias the task to index 0.
			log.Printf("SOLVER_SKIP plan=%s task=%s node=%s reason=unindexed", p.PlanID, task.ID, task.NodeID)
			s.tNode[t] = -1
			s.skipped = append(s.skipped, t)
			continue
		}
		s.tNode[t] = node
		s.pending[t] = struct{}{}
	}
	return s
}

type scheduleOut struct {
	etas     []int64 // arrival per stop, after waiting for the window
	distM    int64
	totalSec int64 // end-depot arrival minus shift start
}

// schedule propagates time along a candidate sequence and reports
// feasibility against capacity, time windows, and the shift window.
func (s *state) schedule(v int, seq []int) (scheduleOut, bool) {
	veh := s.p.Vehicles[v]
	var load int64
	t := veh.WorkStartSec
	prev := s.vStart[v]
	out := scheduleOut{etas: make([]int64, len(seq))}
	for i, ti := range seq {
		task := s.p.Tasks[ti]
		node := s.tNode[ti]
		arrive := t + s.p.TimeSec[prev][node]
		if arrive < task.TwStartSec {
			arrive = task.TwStartSec
		}
		if arrive > task.TwEndSec {
			return out, false
		}
		load += task.DemandWeight
		if veh.CapacityWeight > 0 && load > veh.CapacityWeight {
			return out, false
		}
		out.etas[i] = arrive
		out.distM += s.p.DistM[prev][node]
		t = arrive + task.ServiceTimeSec
		prev = node
	}
	endArrive := t + s.p.TimeSec[prev][s.vEnd[v]]
	if endArrive > veh.WorkEndSec {
		return out, false
	}
	out.distM += s.p.DistM[prev][s.vEnd[v]]
	out.totalSec = endArrive - veh.WorkStartSec
	return out, true
}

func (s *state) routeDist(v int, seq []int) (int64, bool) {
	sched, ok := s.schedule(v, seq)
	if !ok {
		return 0, false
	}
	return sched.distM, true
}

// cheapestInsertion scans every pending task against every feasible
// position of every route and returns the lowest-delta move.
func (s *state) cheapestInsertion() (insertion, bool) {
	best := insertion{delta: 1<<63 - 1}
	found := false
	for ti := 0; ti < len(s.p.Tasks); ti++ {
		if _, ok := s.pending[ti]; !ok {
			continue
		}
		for v := range s.p.Vehicles {
			cur, ok := s.routeDist(v, s.routes[v])
			if !ok {
				continue
			}
			for pos := 0; pos <= len(s.routes[v]); pos++ {
				cand := insertAt(s.routes[v], ti, pos)
				d, ok := s.routeDist(v, cand)
				if !ok {
					continue
				}
				if delta := d - cur; delta < best.delta {
					best = insertion{task: ti, vehicle: v, pos: pos, delta: delta}
					found = true
				}
			}
		}
	}
	return best, found
}

func (s *state) apply(in insertion) {
	s.routes[in.vehicle] = insertAt(s.routes[in.vehicle], in.task, in.pos)
	delete(s.pending, in.task)
}

// improve runs feasibility-preserving 2-opt passes per route until the
// deadline, the context, or a pass without improvement.
func (s *state) improve(ctx context.Context, deadline time.Time) {
	for {
		improved := false
		for v := range s.routes {
			seq := s.routes[v]
			n := len(seq)
			if n < 3 {
				continue
			}
			curDist, ok := s.routeDist(v, seq)
			if !ok {
				continue
			}
			for i := 0; i < n-1; i++ {
				for k := i + 1; k < n; k++ {
					if time.Now().After(deadline) || ctx.Err() != nil {
						return
					}
					cand := twoOptSwap(seq, i, k)
					if d, ok := s.routeDist(v, cand); ok && d < curDist {
						seq = cand
						curDist = d
						improved = true
					}
				}
			}
			s.routes[v] = seq
		}
		if !improved || time.Now().After(deadline) || ctx.Err() != nil {
			return
		}
	}
}

func insertAt(seq []int, ti, pos int) []int {
	out := make([]int, 0, len(seq)+1)
	out = append(out, seq[:pos]...)
	out = append(out, ti)
	out = append(out, seq[pos:]...)
	return out
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}
