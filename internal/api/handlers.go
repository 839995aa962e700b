package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"dispatchsolver/internal/model"
	"dispatchsolver/internal/solve"
	"dispatchsolver/internal/store"
)

// PlansHandler handles POST /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var p model.Plan
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validatePlan(&p); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid plan", err.Error(), r.URL.Path)
		return
	}
	ctx, tenant := s.withTenant(r)
	p.TenantID = tenant
	created, err := s.Store.CreatePlan(ctx, p)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create plan failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// VehiclesHandler handles POST /v1/vehicles
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var v model.VehicleResource
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateVehicle(&v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid vehicle", err.Error(), r.URL.Path)
		return
	}
	ctx, tenant := s.withTenant(r)
	v.TenantID = tenant
	created, err := s.Store.CreateVehicle(ctx, v)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create vehicle failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// PlanByIDHandler routes /v1/plans/{planId} and its subresources:
//
//	GET  /v1/plans/{planId}
//	POST /v1/plans/{planId}/tasks
//	POST /v1/plans/{planId}/solve
//	GET  /v1/plans/{planId}/solve/{taskId}
//	GET  /v1/plans/{planId}/solve/{taskId}/stream
//	GET  /v1/plans/{planId}/routes
//	GET  /v1/plans/{planId}/unassigned
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
	parts := strings.Split(rest, "/")
	planID := parts[0]
	if planID == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}

	switch {
	case len(parts) == 1:
		s.getPlan(w, r, planID)
	case len(parts) == 2 && parts[1] == "tasks":
		s.createTask(w, r, planID)
	case len(parts) == 2 && parts[1] == "solve":
		s.submitSolve(w, r, planID)
	case len(parts) == 3 && parts[1] == "solve":
		s.getSolveStatus(w, r, planID, parts[2])
	case len(parts) == 4 && parts[1] == "solve" && parts[3] == "stream":
		s.SolveStreamHandler(w, r, planID, parts[2])
	case len(parts) == 2 && parts[1] == "routes":
		s.getRoutes(w, r, planID)
	case len(parts) == 2 && parts[1] == "unassigned":
		s.getUnassigned(w, r, planID)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	p, err := s.Store.GetPlan(ctx, tenant, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Plan not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Get plan failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var t model.TaskNode
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateTask(&t); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid task", err.Error(), r.URL.Path)
		return
	}
	ctx, tenant := s.withTenant(r)
	if _, err := s.Store.GetPlan(ctx, tenant, planID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Plan not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Get plan failed", err.Error(), r.URL.Path)
		return
	}
	t.TenantID = tenant
	t.PlanID = planID
	created, err := s.Store.CreateTask(ctx, t)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create task failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) submitSolve(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	if !s.limiter(tenant).Allow() {
		writeProblem(w, http.StatusTooManyRequests, "Rate limited", "too many solve submissions", r.URL.Path)
		return
	}
	var req model.SolveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
	}
	req.TenantID = tenant
	req.PlanID = planID
	if err := validateSolveRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solve request", err.Error(), r.URL.Path)
		return
	}

	resp, err := s.Solver.Submit(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, solve.ErrPlanNotFound):
			writeProblem(w, http.StatusNotFound, "Plan not found", "", r.URL.Path)
		case errors.Is(err, solve.ErrBusy):
			writeProblem(w, http.StatusServiceUnavailable, "Solver busy", err.Error(), r.URL.Path)
		default:
			writeProblem(w, http.StatusInternalServerError, "Solve submit failed", err.Error(), r.URL.Path)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) getSolveStatus(w http.ResponseWriter, r *http.Request, planID, taskID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	resp, err := s.Solver.Status(ctx, tenant, planID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Solve job not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Get solve status failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getRoutes(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	routes, err := s.Store.ListRoutes(ctx, tenant, planID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List routes failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": routes})
}

func (s *Server) getUnassigned(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	items, err := s.Store.ListUnassigned(ctx, tenant, planID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List unassigned failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// HealthHandler handles /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler handles /readyz
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, _ := s.withTenant(r)
	if _, err := s.Store.GetPlan(ctx, "t_probe", "p_probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
