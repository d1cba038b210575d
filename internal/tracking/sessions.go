package tracking

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/store"
)

const (
	reclaimedMessage = "Session timed out (reclaimed)"
	crashPrefix      = "Pipeline crashed: "
	failedPrefix     = "Failed agents: "
)

// SessionsConfig holds the session lifecycle thresholds.
type SessionsConfig struct {
	ZombieAfter   time.Duration `mapstructure:"zombie_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DefaultSessionsConfig returns the stock thresholds.
func DefaultSessionsConfig() SessionsConfig {
	return SessionsConfig{ZombieAfter: 10 * time.Minute, SweepInterval: time.Minute}
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithSessionsClock overrides the wall clock.
func WithSessionsClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) { s.now = now }
}

// Sessions manages session lifecycle transitions.
type Sessions struct {
	store store.Store
	cfg   SessionsConfig
	now   func() time.Time

	mu        sync.Mutex
	lastSweep time.Time
}

// NewSessions creates a session manager. Zero thresholds use the defaults.
func NewSessions(st store.Store, cfg SessionsConfig, opts ...SessionsOption) *Sessions {
	def := DefaultSessionsConfig()
	if cfg.ZombieAfter <= 0 {
		cfg.ZombieAfter = def.ZombieAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	s := &Sessions{
		store: st,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create inserts a queued session with its seven queued runs.
func (s *Sessions) Create(ctx context.Context, input, entityID string) (*model.Session, error) {
	now := s.now()
	sess := &model.Session{
		ID:          uuid.NewString(),
		InputText:   input,
		EntityID:    entityID,
		Status:      model.SessionStatusQueued,
		FailedSteps: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "tracking: create session")
	}
	zap.L().Info("tracking: session created", zap.String("session_id", sess.ID))
	return sess, nil
}

// MarkRunning moves the session to running.
func (s *Sessions) MarkRunning(ctx context.Context, id string) {
	s.update(ctx, id, store.SessionUpdate{Status: model.SessionStatusRunning, FailedSteps: []string{}})
}

// Checkpoint records the failures so far while the session keeps running.
func (s *Sessions) Checkpoint(ctx context.Context, id string, failed []string) {
	s.update(ctx, id, store.SessionUpdate{Status: model.SessionStatusRunning, FailedSteps: failed})
}

// Finish writes the report, if any, then the terminal status derived from
// failed. It returns the derived status.
func (s *Sessions) Finish(ctx context.Context, id string, failed []string, report *model.Report) model.SessionStatus {
	status := DeriveStatus(failed)
	log := zap.L().With(zap.String("session_id", id))

	if report != nil {
		if err := s.store.InsertReport(ctx, report); err != nil {
			log.Error("tracking: insert report failed", zap.Error(err))
		}
	}

	var msg string
	if len(failed) > 0 {
		msg = failedPrefix + strings.Join(failed, ", ")
	}
	s.update(ctx, id, store.SessionUpdate{Status: status, FailedSteps: failed, ErrorMessage: msg})
	log.Info("tracking: session finished",
		zap.String("status", string(status)),
		zap.Strings("failed_steps", failed),
	)
	return status
}

// Fail marks the session failed after a crash.
func (s *Sessions) Fail(ctx context.Context, id, msg string) {
	s.FailWith(ctx, id, crashPrefix+msg)
}

// FailWith marks the session failed with message as written.
func (s *Sessions) FailWith(ctx context.Context, id, message string) {
	failed := []string{}
	if sess, err := s.store.GetSession(ctx, id); err == nil {
		failed = sess.FailedSteps
	}
	s.update(ctx, id, store.SessionUpdate{Status: model.SessionStatusFailed, FailedSteps: failed, ErrorMessage: message})
	zap.L().Warn("tracking: session failed", zap.String("session_id", id), zap.String("error", message))
}

func (s *Sessions) update(ctx context.Context, id string, u store.SessionUpdate) {
	if u.FailedSteps == nil {
		u.FailedSteps = []string{}
	}
	changed, err := s.store.UpdateSession(ctx, id, u)
	if err != nil {
		zap.L().Error("tracking: update session failed",
			zap.String("session_id", id),
			zap.String("status", string(u.Status)),
			zap.Error(err),
		)
		return
	}
	if !changed {
		zap.L().Debug("tracking: session already terminal",
			zap.String("session_id", id),
			zap.String("status", string(u.Status)),
		)
	}
}

// Sweep reclaims zombie sessions at most once per sweep interval.
func (s *Sessions) Sweep(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.cfg.SweepInterval {
		s.mu.Unlock()
		return 0
	}
	s.lastSweep = now
	s.mu.Unlock()

	n, err := s.SweepNow(ctx)
	if err != nil {
		zap.L().Error("tracking: sweep failed", zap.Error(err))
	}
	return n
}

// SweepNow fails every session running longer than the zombie threshold.
func (s *Sessions) SweepNow(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.ZombieAfter)
	n, err := s.store.SweepSessions(ctx, cutoff, reclaimedMessage)
	if err != nil {
		return 0, eris.Wrap(err, "tracking: sweep sessions")
	}
	if n > 0 {
		zap.L().Warn("tracking: reclaimed zombie sessions", zap.Int("count", n))
	}
	return n, nil
}

// DeriveStatus maps the failed-stage count to a terminal status.
func DeriveStatus(failed []string) model.SessionStatus {
	switch n := len(failed); {
	case n == 0:
		return model.SessionStatusComplete
	case n <= 2:
		return model.SessionStatusPartial
	default:
		return model.SessionStatusFailed
	}
}

// Progress is the share of stages that produced output, as a whole percent.
func Progress(runs []model.Run) int {
	done := 0
	for _, r := range runs {
		if r.Status.Done() {
			done++
		}
	}
	return done * 100 / model.TotalStages
}

// Status builds the status-poll view for a session.
func (s *Sessions) Status(ctx context.Context, id string) (*model.StatusView, error) {
	s.Sweep(ctx)

	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "tracking: status")
	}
	runs, err := s.store.ListRuns(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "tracking: status runs")
	}

	view := &model.StatusView{
		SessionID:    sess.ID,
		Status:       sess.Status,
		Progress:     Progress(runs),
		Stages:       make([]model.StageView, 0, len(runs)),
		FailedSteps:  sess.FailedSteps,
		ErrorMessage: sess.ErrorMessage,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
	}
	if view.FailedSteps == nil {
		view.FailedSteps = []string{}
	}
	for _, r := range runs {
		view.Stages = append(view.Stages, model.StageView{
			Stage:        r.Stage,
			Step:         r.Stage.Step(),
			Status:       r.Status,
			StartedAt:    r.StartedAt,
			FinishedAt:   r.FinishedAt,
			DurationMS:   r.DurationMS,
			HasCitations: len(r.Citations) > 0,
			Error:        r.Error,
		})
	}

	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "tracking: status report")
	}
	if report != nil {
		rv := &model.ReportView{
			ID:       report.ID,
			Score:    report.Score,
			Verdict:  report.Verdict,
			Summary:  report.Summary,
			Verified: report.Verified,
		}
		if len(report.Verification) > 0 {
			var v model.Verification
			if err := json.Unmarshal(report.Verification, &v); err == nil {
				rv.Verification = &v
			}
		}
		view.Report = rv
	}
	return view, nil
}
