package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dispatchsolver/internal/model"
)

// Postgres persists plans, solve inputs, jobs, and result generations.
// Rows are soft-retired via a deleted flag; normal reads always filter
// deleted=false, so a replaced generation stays around for audit only.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir applies *.sql files in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error) {
	var pl model.Plan
	var msg, code sql.NullString
	row := p.db.QueryRowContext(ctx, `SELECT id, tenant_id, plan_code, status, message, time_limit_sec, allow_drop, unassigned_penalty,
		total_distance_m, total_time_sec, assigned_count, unassigned_count, solve_millis, updated_at
		FROM plans WHERE tenant_id=$1 AND id=$2 AND NOT deleted`, tenantID, planID)
	err := row.Scan(&pl.ID, &pl.TenantID, &code, &pl.Status, &msg, &pl.TimeLimitSec, &pl.AllowDrop, &pl.UnassignedPenalty,
		&pl.TotalDistanceM, &pl.TotalTimeSec, &pl.AssignedCount, &pl.UnassignedCount, &pl.SolveMillis, &pl.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pl, ErrNotFound
		}
		return pl, err
	}
	pl.PlanCode = code.String
	pl.Message = msg.String
	return pl, nil
}

func (p *Postgres) CreatePlan(ctx context.Context, pl model.Plan) (model.Plan, error) {
	if pl.ID == "" {
		pl.ID = uuid.New().String()
	}
	if pl.Status == "" {
		pl.Status = model.StatusCreated
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO plans (id, tenant_id, plan_code, status, message, time_limit_sec, allow_drop, unassigned_penalty)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		pl.ID, pl.TenantID, nullIfEmpty(pl.PlanCode), pl.Status, nullIfEmpty(pl.Message), pl.TimeLimitSec, pl.AllowDrop, pl.UnassignedPenalty)
	if err != nil {
		return model.Plan{}, err
	}
	return p.GetPlan(ctx, pl.TenantID, pl.ID)
}

func (p *Postgres) UpdatePlanStatus(ctx context.Context, tenantID, planID, status, message string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE plans SET status=$1, message=$2, updated_at=now()
		WHERE tenant_id=$3 AND id=$4 AND NOT deleted`, status, nullIfEmpty(message), tenantID, planID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdatePlanSummary(ctx context.Context, tenantID, planID string, sum model.PlanSummary) error {
	res, err := p.db.ExecContext(ctx, `UPDATE plans SET status=$1, message=$2, total_distance_m=$3, total_time_sec=$4,
		assigned_count=$5, unassigned_count=$6, solve_millis=$7, updated_at=now()
		WHERE tenant_id=$8 AND id=$9 AND NOT deleted`,
		sum.Status, nullIfEmpty(sum.Message), sum.TotalDistanceM, sum.TotalTimeSec,
		sum.AssignedCount, sum.UnassignedCount, sum.SolveMillis, tenantID, planID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListAvailableVehicles(ctx context.Context, tenantID string, ids []string) ([]model.VehicleResource, error) {
	q := `SELECT id, tenant_id, vehicle_code, start_node_id, end_node_id, start_lat, start_lng,
		capacity_weight, work_start_sec, work_end_sec, status
		FROM vehicles WHERE tenant_id=$1 AND status=$2 AND NOT deleted`
	args := []any{tenantID, model.VehicleAvailable}
	if len(ids) > 0 {
		q += ` AND id = ANY($3)`
		args = append(args, ids)
	}
	q += ` ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.VehicleResource{}
	for rows.Next() {
		var v model.VehicleResource
		var code sql.NullString
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&v.ID, &v.TenantID, &code, &v.StartNodeID, &v.EndNodeID, &lat, &lng,
			&v.CapacityWeight, &v.WorkStartSec, &v.WorkEndSec, &v.Status); err != nil {
			return nil, err
		}
		v.VehicleCode = code.String
		v.StartLat = lat.Float64
		v.StartLng = lng.Float64
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) ListWaitingTasks(ctx context.Context, tenantID, planID string, ids []string) ([]model.TaskNode, error) {
	q := `SELECT id, tenant_id, plan_id, task_code, node_id, lat, lng, tw_start_sec, tw_end_sec,
		service_time_sec, demand_weight, status
		FROM tasks WHERE tenant_id=$1 AND plan_id=$2 AND status=$3 AND NOT deleted`
	args := []any{tenantID, planID, model.TaskWaiting}
	if len(ids) > 0 {
		q += ` AND id = ANY($4)`
		args = append(args, ids)
	}
	q += ` ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TaskNode{}
	for rows.Next() {
		var t model.TaskNode
		var code sql.NullString
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.TenantID, &t.PlanID, &code, &t.NodeID, &lat, &lng,
			&t.TwStartSec, &t.TwEndSec, &t.ServiceTimeSec, &t.DemandWeight, &t.Status); err != nil {
			return nil, err
		}
		t.TaskCode = code.String
		t.Lat = lat.Float64
		t.Lng = lng.Float64
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateVehicle(ctx context.Context, v model.VehicleResource) (model.VehicleResource, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = model.VehicleAvailable
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO vehicles (id, tenant_id, vehicle_code, start_node_id, end_node_id,
		start_lat, start_lng, capacity_weight, work_start_sec, work_end_sec, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		v.ID, v.TenantID, nullIfEmpty(v.VehicleCode), v.StartNodeID, v.EndNodeID,
		v.StartLat, v.StartLng, v.CapacityWeight, v.WorkStartSec, v.WorkEndSec, v.Status)
	if err != nil {
		return model.VehicleResource{}, err
	}
	return v, nil
}

func (p *Postgres) CreateTask(ctx context.Context, t model.TaskNode) (model.TaskNode, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = model.TaskWaiting
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO tasks (id, tenant_id, plan_id, task_code, node_id, lat, lng,
		tw_start_sec, tw_end_sec, service_time_sec, demand_weight, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, t.TenantID, t.PlanID, nullIfEmpty(t.TaskCode), t.NodeID, t.Lat, t.Lng,
		t.TwStartSec, t.TwEndSec, t.ServiceTimeSec, t.DemandWeight, t.Status)
	if err != nil {
		return model.TaskNode{}, err
	}
	return t, nil
}

func (p *Postgres) FindActiveJob(ctx context.Context, tenantID, planID string) (model.SolveJob, error) {
	var j model.SolveJob
	var msg sql.NullString
	row := p.db.QueryRowContext(ctx, `SELECT id, tenant_id, plan_id, task_id, status, message, created_at, updated_at
		FROM solve_jobs WHERE tenant_id=$1 AND plan_id=$2 AND status = ANY($3) AND NOT deleted
		ORDER BY updated_at DESC LIMIT 1`, tenantID, planID, []string{model.StatusAccepted, model.StatusRunning})
	err := row.Scan(&j.ID, &j.TenantID, &j.PlanID, &j.TaskID, &j.Status, &msg, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, ErrNotFound
		}
		return j, err
	}
	j.Message = msg.String
	return j, nil
}

func (p *Postgres) GetJob(ctx context.Context, tenantID, planID, taskID string) (model.SolveJob, error) {
	var j model.SolveJob
	var msg sql.NullString
	row := p.db.QueryRowContext(ctx, `SELECT id, tenant_id, plan_id, task_id, status, message, created_at, updated_at
		FROM solve_jobs WHERE tenant_id=$1 AND plan_id=$2 AND task_id=$3 AND NOT deleted`, tenantID, planID, taskID)
	err := row.Scan(&j.ID, &j.TenantID, &j.PlanID, &j.TaskID, &j.Status, &msg, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, ErrNotFound
		}
		return j, err
	}
	j.Message = msg.String
	return j, nil
}

func (p *Postgres) InsertJob(ctx context.Context, job model.SolveJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO solve_jobs (id, tenant_id, plan_id, task_id, status, message)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		job.ID, job.TenantID, job.PlanID, job.TaskID, job.Status, nullIfEmpty(job.Message))
	return err
}

func (p *Postgres) UpdateJobStatus(ctx context.Context, tenantID, planID, taskID, status, message string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE solve_jobs SET status=$1, message=$2, updated_at=now()
		WHERE tenant_id=$3 AND plan_id=$4 AND task_id=$5 AND NOT deleted`, status, nullIfEmpty(message), tenantID, planID, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceResults retires the previous route/stop/unassigned generation
// and inserts the new one inside a single transaction, so readers never
// observe a plan with a half-written result set.
func (p *Postgres) ReplaceResults(ctx context.Context, tenantID, planID string, routes []model.Route, unassigned []model.UnassignedItem) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"routes", "route_stops", "unassigned_items"} {
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET deleted=true WHERE tenant_id=$1 AND plan_id=$2 AND NOT deleted`, tenantID, planID); err != nil {
			return err
		}
	}

	for _, r := range routes {
		routeID := r.ID
		if routeID == "" {
			routeID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO routes (id, tenant_id, plan_id, vehicle_id, total_distance_m, total_time_sec)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			routeID, tenantID, planID, r.VehicleID, r.TotalDistanceM, r.TotalTimeSec); err != nil {
			return err
		}
		for _, s := range r.Stops {
			stopID := s.ID
			if stopID == "" {
				stopID = uuid.New().String()
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO route_stops (id, tenant_id, plan_id, route_id, seq, task_id, node_id, eta_sec, etd_sec, service_time_sec)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				stopID, tenantID, planID, routeID, s.Seq, s.TaskID, s.NodeID, s.EtaSec, s.EtdSec, s.ServiceTimeSec); err != nil {
				return err
			}
		}
	}

	for _, u := range unassigned {
		itemID := u.ID
		if itemID == "" {
			itemID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO unassigned_items (id, tenant_id, plan_id, task_id, reason_code, detail)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			itemID, tenantID, planID, u.TaskID, u.ReasonCode, nullIfEmpty(u.Detail)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *Postgres) ListRoutes(ctx context.Context, tenantID, planID string) ([]model.Route, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, vehicle_id, total_distance_m, total_time_sec
		FROM routes WHERE tenant_id=$1 AND plan_id=$2 AND NOT deleted ORDER BY vehicle_id`, tenantID, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Route{}
	byID := map[string]int{}
	for rows.Next() {
		var r model.Route
		if err := rows.Scan(&r.ID, &r.VehicleID, &r.TotalDistanceM, &r.TotalTimeSec); err != nil {
			return nil, err
		}
		r.TenantID = tenantID
		r.PlanID = planID
		byID[r.ID] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stopRows, err := p.db.QueryContext(ctx, `SELECT id, route_id, seq, task_id, node_id, eta_sec, etd_sec, service_time_sec
		FROM route_stops WHERE tenant_id=$1 AND plan_id=$2 AND NOT deleted ORDER BY route_id, seq`, tenantID, planID)
	if err != nil {
		return nil, err
	}
	defer stopRows.Close()
	for stopRows.Next() {
		var s model.RouteStop
		if err := stopRows.Scan(&s.ID, &s.RouteID, &s.Seq, &s.TaskID, &s.NodeID, &s.EtaSec, &s.EtdSec, &s.ServiceTimeSec); err != nil {
			return nil, err
		}
		if i, ok := byID[s.RouteID]; ok {
			out[i].Stops = append(out[i].Stops, s)
		}
	}
	return out, stopRows.Err()
}

func (p *Postgres) ListUnassigned(ctx context.Context, tenantID, planID string) ([]model.UnassignedItem, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, task_id, reason_code, detail
		FROM unassigned_items WHERE tenant_id=$1 AND plan_id=$2 AND NOT deleted ORDER BY id`, tenantID, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.UnassignedItem{}
	for rows.Next() {
		var u model.UnassignedItem
		var detail sql.NullString
		if err := rows.Scan(&u.ID, &u.TaskID, &u.ReasonCode, &detail); err != nil {
			return nil, err
		}
		u.TenantID = tenantID
		u.PlanID = planID
		u.Detail = detail.String
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
