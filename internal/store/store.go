// Package store persists validation sessions, their per-stage runs, and
// the final report.
package store

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = eris.New("store: not found")

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Status model.SessionStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// SessionUpdate is a status transition. A terminal status already stored
// is never replaced by a different one.
type SessionUpdate struct {
	Status       model.SessionStatus
	FailedSteps  []string
	ErrorMessage string
}

// Store defines the persistence interface for the validator pipeline.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, sess *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error)
	// UpdateSession applies u and reports whether a row changed.
	UpdateSession(ctx context.Context, id string, u SessionUpdate) (bool, error)
	// SweepSessions fails sessions still running whose last update is
	// before cutoff and returns how many were reclaimed.
	SweepSessions(ctx context.Context, cutoff time.Time, message string) (int, error)

	// Runs
	StartRun(ctx context.Context, sessionID string, stage model.Stage, at time.Time) error
	CompleteRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context, sessionID string) ([]model.Run, error)

	// Reports
	// InsertReport is a no-op when the session already has a report.
	InsertReport(ctx context.Context, r *model.Report) error
	// GetReport returns nil, nil when no report exists yet.
	GetReport(ctx context.Context, sessionID string) (*model.Report, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// terminalList renders terminal statuses for SQL IN clauses.
const terminalList = `'complete','partial','failed'`

// sortRuns orders runs by pipeline step.
func sortRuns(runs []model.Run) {
	slices.SortStableFunc(runs, func(a, b model.Run) int {
		return a.Stage.Step() - b.Stage.Step()
	})
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
