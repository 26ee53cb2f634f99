// Package gateway abstracts the storage backend that dialogue sessions commit
// to. The dialogue state machine talks to a [Gateway] exactly once per
// session; the concrete implementation is a PostgreSQL store, optionally
// wrapped in a bounded-retry layer for transient faults.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gymmando/gymmando/internal/workout"
)

// ErrNoTarget is returned for update/delete requests that carry no explicit
// target id when the owner has no records to fall back on.
var ErrNoTarget = errors.New("gateway: no record to target for this owner")

// Request carries one commit operation. OwnerID scopes every statement; it is
// assigned by the transport layer at session start and never derived from
// user text.
type Request struct {
	// Intent selects the operation.
	Intent workout.Intent

	// OwnerID is the opaque end-user identifier.
	OwnerID string

	// TargetID optionally names the record an update/delete applies to. When
	// empty, the gateway resolves the owner's most recently created record.
	TargetID string

	// Record is the accumulated payload. Ignored for read and delete.
	Record workout.Record

	// ReadFilter narrows read results. Zero value means "latest records".
	ReadFilter ReadFilter
}

// ReadFilter carries the optional read-intent query parameters.
type ReadFilter struct {
	// Exercise filters by exercise name (case-insensitive substring match).
	Exercise string

	// Since / Until bound created_at. Zero values mean unbounded.
	Since time.Time
	Until time.Time

	// Limit caps the result count. Zero means the gateway default (10).
	Limit int
}

// Workout is the persisted record shape.
type Workout struct {
	ID          string
	OwnerID     string
	Exercise    string
	Sets        int
	Reps        int
	Weight      string
	RestSeconds *int
	Comments    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Result is the outcome of a successful Execute call. Workout is set for
// create/update/delete (the affected record); Workouts is set for read.
type Result struct {
	Workout  *Workout
	Workouts []Workout
}

// Gateway executes commit operations against storage. Implementations must be
// safe for concurrent use; the dialogue manager runs sessions in parallel.
type Gateway interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// TransientError marks a fault worth retrying (connection refused, admin
// shutdown, pool exhaustion). Unwrap exposes the cause for errors.Is/As.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway: transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
