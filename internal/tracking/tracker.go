// Package tracking records stage runs and session lifecycle transitions.
// Run writes never fail the pipeline: errors are logged and dropped.
package tracking

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/notify"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/store"
)

// Tracker persists run transitions and publishes agent events.
type Tracker struct {
	store    store.Store
	notifier notify.Notifier
	now      func() time.Time
}

// NewTracker creates a Tracker. A nil notifier discards events.
func NewTracker(st store.Store, n notify.Notifier) *Tracker {
	if n == nil {
		n = notify.Nop{}
	}
	return &Tracker{store: st, notifier: n, now: func() time.Time { return time.Now().UTC() }}
}

// Start marks the stage running.
func (t *Tracker) Start(ctx context.Context, sessionID string, stage model.Stage) {
	if err := t.store.StartRun(ctx, sessionID, stage, t.now()); err != nil {
		zap.L().Error("tracking: start run failed",
			zap.String("session_id", sessionID),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
	}
	t.notifier.Publish(notify.Event{
		Type:      notify.AgentStarted,
		SessionID: sessionID,
		Agent:     stage,
		Step:      stage.Step(),
	})
}

// Complete writes the stage outcome.
func (t *Tracker) Complete(ctx context.Context, sessionID string, stage model.Stage, out model.RunOutcome) {
	log := zap.L().With(zap.String("session_id", sessionID), zap.String("stage", string(stage)))

	finished := t.now()
	run := &model.Run{
		SessionID:  sessionID,
		Stage:      stage,
		Status:     out.Status,
		FinishedAt: &finished,
		DurationMS: out.Duration.Milliseconds(),
		Citations:  out.Citations,
		Error:      out.Error,
	}
	// Skipped stages were never started and keep a null started_at.
	if out.Duration > 0 {
		started := finished.Add(-out.Duration)
		run.StartedAt = &started
	}
	if out.Output != nil {
		raw, err := json.Marshal(out.Output)
		if err != nil {
			log.Error("tracking: marshal run output failed", zap.Error(err))
		} else if string(raw) != "null" {
			run.Output = raw
		}
	}

	if err := t.store.CompleteRun(ctx, run); err != nil {
		log.Error("tracking: complete run failed", zap.String("status", string(out.Status)), zap.Error(err))
	}

	typ := notify.AgentCompleted
	if out.Status == model.RunStatusFailed {
		typ = notify.AgentFailed
	}
	t.notifier.Publish(notify.Event{
		Type:       typ,
		SessionID:  sessionID,
		Agent:      stage,
		Step:       stage.Step(),
		DurationMS: run.DurationMS,
		Error:      out.Error,
	})
}
