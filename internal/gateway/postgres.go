package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Gymmando/gymmando/internal/workout"
)

// Schema is the SQL DDL for the workouts table. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS workouts (
    id           UUID PRIMARY KEY,
    owner_id     TEXT NOT NULL,
    exercise     TEXT NOT NULL,
    sets         INTEGER NOT NULL CHECK (sets >= 0),
    reps         INTEGER NOT NULL CHECK (reps >= 0),
    weight       TEXT NOT NULL,
    rest_seconds INTEGER CHECK (rest_seconds >= 0),
    comments     TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_workouts_owner ON workouts(owner_id);
CREATE INDEX IF NOT EXISTS idx_workouts_owner_created ON workouts(owner_id, created_at DESC);
`

// defaultReadLimit caps read results when the request does not set a limit,
// matching the conversational "show me my workouts" use case.
const defaultReadLimit = 10

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a [Gateway] backed by a PostgreSQL workouts table.
type Postgres struct {
	db DB

	// newID is swapped in tests for deterministic ids.
	newID func() string
}

// Compile-time interface check.
var _ Gateway = (*Postgres)(nil)

// NewPostgres creates a [Postgres] gateway on the given connection or pool.
// The caller is responsible for calling [Postgres.Migrate] before issuing
// requests.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db, newID: func() string { return uuid.NewString() }}
}

// Migrate executes the [Schema] DDL, creating the workouts table and indexes
// if they do not already exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return classify(fmt.Errorf("gateway: migrate: %w", err))
	}
	return nil
}

// Execute implements [Gateway].
func (p *Postgres) Execute(ctx context.Context, req Request) (*Result, error) {
	switch req.Intent {
	case workout.IntentCreate:
		return p.create(ctx, req)
	case workout.IntentRead:
		return p.read(ctx, req)
	case workout.IntentUpdate:
		return p.update(ctx, req)
	case workout.IntentDelete:
		return p.delete(ctx, req)
	default:
		return nil, fmt.Errorf("gateway: unknown intent %q", req.Intent)
	}
}

// create inserts a new workout from a complete record.
func (p *Postgres) create(ctx context.Context, req Request) (*Result, error) {
	r := req.Record
	if missing := workout.Missing(r); len(missing) > 0 {
		return nil, fmt.Errorf("gateway: create with incomplete record (missing %v)", missing)
	}

	const q = `
		INSERT INTO workouts (id, owner_id, exercise, sets, reps, weight, rest_seconds, comments)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`

	w := Workout{
		ID:          p.newID(),
		OwnerID:     req.OwnerID,
		Exercise:    *r.Exercise,
		Sets:        *r.Sets,
		Reps:        *r.Reps,
		Weight:      *r.Weight,
		RestSeconds: r.RestTime,
		Comments:    r.Comments,
	}
	err := p.db.QueryRow(ctx, q,
		w.ID, w.OwnerID, w.Exercise, w.Sets, w.Reps, w.Weight, w.RestSeconds, w.Comments,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, classify(fmt.Errorf("gateway: create: %w", err))
	}
	return &Result{Workout: &w}, nil
}

// read returns the owner's workouts, newest first, honouring the filter.
func (p *Postgres) read(ctx context.Context, req Request) (*Result, error) {
	args := []any{req.OwnerID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"owner_id = $1"}
	f := req.ReadFilter
	if f.Exercise != "" {
		conditions = append(conditions, "exercise ILIKE "+next("%"+f.Exercise+"%"))
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+next(f.Since))
	}
	if !f.Until.IsZero() {
		conditions = append(conditions, "created_at <= "+next(f.Until))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}

	q := `
		SELECT id, owner_id, exercise, sets, reps, weight, rest_seconds, comments, created_at, updated_at
		FROM   workouts
		WHERE  ` + strings.Join(conditions, " AND ") + `
		ORDER  BY created_at DESC
		LIMIT  ` + next(limit)

	rows, err := p.db.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("gateway: read: %w", err))
	}
	defer rows.Close()

	var workouts []Workout
	for rows.Next() {
		var w Workout
		if err := rows.Scan(
			&w.ID, &w.OwnerID, &w.Exercise, &w.Sets, &w.Reps, &w.Weight,
			&w.RestSeconds, &w.Comments, &w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, classify(fmt.Errorf("gateway: read scan: %w", err))
		}
		workouts = append(workouts, w)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("gateway: read: %w", err))
	}
	return &Result{Workouts: workouts}, nil
}

// update applies the fields present in the accumulated record to the target
// workout. Fields the user never mentioned are left untouched (partial
// update). The statement is owner-scoped so one user can never reach another
// user's records.
func (p *Postgres) update(ctx context.Context, req Request) (*Result, error) {
	targetID, err := p.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	args := []any{targetID, req.OwnerID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var assignments []string
	r := req.Record
	if r.Exercise != nil {
		assignments = append(assignments, "exercise = "+next(*r.Exercise))
	}
	if r.Sets != nil {
		assignments = append(assignments, "sets = "+next(*r.Sets))
	}
	if r.Reps != nil {
		assignments = append(assignments, "reps = "+next(*r.Reps))
	}
	if r.Weight != nil {
		assignments = append(assignments, "weight = "+next(*r.Weight))
	}
	if r.RestTime != nil {
		assignments = append(assignments, "rest_seconds = "+next(*r.RestTime))
	}
	if r.Comments != nil {
		assignments = append(assignments, "comments = "+next(*r.Comments))
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("gateway: update with no fields to change")
	}
	assignments = append(assignments, "updated_at = now()")

	q := `
		UPDATE workouts SET ` + strings.Join(assignments, ", ") + `
		WHERE  id = $1 AND owner_id = $2
		RETURNING id, owner_id, exercise, sets, reps, weight, rest_seconds, comments, created_at, updated_at`

	var w Workout
	err = p.db.QueryRow(ctx, q, args...).Scan(
		&w.ID, &w.OwnerID, &w.Exercise, &w.Sets, &w.Reps, &w.Weight,
		&w.RestSeconds, &w.Comments, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoTarget
		}
		return nil, classify(fmt.Errorf("gateway: update: %w", err))
	}
	return &Result{Workout: &w}, nil
}

// delete removes the target workout, owner-scoped.
func (p *Postgres) delete(ctx context.Context, req Request) (*Result, error) {
	targetID, err := p.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	const q = `
		DELETE FROM workouts
		WHERE  id = $1 AND owner_id = $2
		RETURNING id, owner_id, exercise, sets, reps, weight, rest_seconds, comments, created_at, updated_at`

	var w Workout
	err = p.db.QueryRow(ctx, q, targetID, req.OwnerID).Scan(
		&w.ID, &w.OwnerID, &w.Exercise, &w.Sets, &w.Reps, &w.Weight,
		&w.RestSeconds, &w.Comments, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoTarget
		}
		return nil, classify(fmt.Errorf("gateway: delete: %w", err))
	}
	return &Result{Workout: &w}, nil
}

// resolveTarget returns the explicit target id, or falls back to the owner's
// most recently created workout when none was captured in conversation.
func (p *Postgres) resolveTarget(ctx context.Context, req Request) (string, error) {
	if req.TargetID != "" {
		return req.TargetID, nil
	}

	const q = `
		SELECT id FROM workouts
		WHERE  owner_id = $1
		ORDER  BY created_at DESC
		LIMIT  1`

	var id string
	err := p.db.QueryRow(ctx, q, req.OwnerID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoTarget
		}
		return "", classify(fmt.Errorf("gateway: resolve target: %w", err))
	}
	return id, nil
}

// classify wraps connection-level faults in [TransientError] so the retry
// layer can tell them apart from data errors.
func classify(err error) error {
	if isTransientPg(err) {
		return &TransientError{Err: err}
	}
	return err
}

// isTransientPg reports whether err is a connection-level PostgreSQL fault
// worth retrying: network errors, SQLSTATE class 08 (connection exception),
// class 53 (insufficient resources), or 57P03 (cannot connect now).
func isTransientPg(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53") || code == "57P03"
	}
	return false
}
