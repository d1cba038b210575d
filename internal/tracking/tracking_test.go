package tracking

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/notify"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, model.SessionStatusComplete, DeriveStatus(nil))
	assert.Equal(t, model.SessionStatusPartial, DeriveStatus([]string{"ResearchAgent"}))
	assert.Equal(t, model.SessionStatusPartial, DeriveStatus([]string{"ResearchAgent", "CompetitorAgent"}))
	assert.Equal(t, model.SessionStatusFailed, DeriveStatus([]string{"a", "b", "c"}))
}

func TestProgress(t *testing.T) {
	runs := []model.Run{
		{Status: model.RunStatusOK},
		{Status: model.RunStatusPartial},
		{Status: model.RunStatusFailed},
		{Status: model.RunStatusRunning},
		{Status: model.RunStatusQueued},
	}
	assert.Equal(t, 28, Progress(runs))
	assert.Equal(t, 0, Progress(nil))

	all := make([]model.Run, model.TotalStages)
	for i := range all {
		all[i].Status = model.RunStatusOK
	}
	assert.Equal(t, 100, Progress(all))
}

func TestTracker_RecordsRunAndPublishes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sessions := NewSessions(st, SessionsConfig{})
	sess, err := sessions.Create(ctx, "A marketplace for used lab equipment", "")
	require.NoError(t, err)

	n := &recordingNotifier{}
	tr := NewTracker(st, n)
	tr.Start(ctx, sess.ID, model.StageResearch)
	tr.Complete(ctx, sess.ID, model.StageResearch, model.RunOutcome{
		Status:    model.RunStatusOK,
		Output:    map[string]any{"tam": 1e9},
		Citations: []model.Citation{{URL: "https://a.example", Source: "search"}},
		Duration:  1500 * time.Millisecond,
	})
	tr.Complete(ctx, sess.ID, model.StageCompetitor, model.RunOutcome{
		Status: model.RunStatusFailed,
		Error:  "skipped: extractor failed",
	})

	runs, err := st.ListRuns(ctx, sess.ID)
	require.NoError(t, err)
	research := runs[model.StageResearch.Step()-1]
	assert.Equal(t, model.RunStatusOK, research.Status)
	assert.Equal(t, int64(1500), research.DurationMS)
	require.NotNil(t, research.StartedAt)
	require.NotNil(t, research.FinishedAt)
	assert.JSONEq(t, `{"tam": 1000000000}`, string(research.Output))
	assert.Len(t, research.Citations, 1)

	competitor := runs[model.StageCompetitor.Step()-1]
	assert.Equal(t, model.RunStatusFailed, competitor.Status)
	assert.Nil(t, competitor.StartedAt)
	assert.Equal(t, "skipped: extractor failed", competitor.Error)

	require.Len(t, n.events, 3)
	assert.Equal(t, notify.AgentStarted, n.events[0].Type)
	assert.Equal(t, 2, n.events[0].Step)
	assert.Equal(t, notify.AgentCompleted, n.events[1].Type)
	assert.Equal(t, int64(1500), n.events[1].DurationMS)
	assert.Equal(t, notify.AgentFailed, n.events[2].Type)
}

func TestTracker_UnknownSessionIsLogged(t *testing.T) {
	st := newTestStore(t)
	tr := NewTracker(st, nil)
	assert.NotPanics(t, func() {
		tr.Start(context.Background(), "missing", model.StageExtractor)
		tr.Complete(context.Background(), "missing", model.StageExtractor, model.RunOutcome{Status: model.RunStatusOK})
	})
}

func TestSessions_FinishWritesReportAndStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	s := NewSessions(st, SessionsConfig{})

	sess, err := s.Create(ctx, "A marketplace for used lab equipment", "startup-1")
	require.NoError(t, err)
	s.MarkRunning(ctx, sess.ID)
	s.Checkpoint(ctx, sess.ID, []string{"ResearchAgent"})

	mid, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusRunning, mid.Status)
	assert.Equal(t, []string{"ResearchAgent"}, mid.FailedSteps)

	score := 66
	verification, _ := json.Marshal(model.Verification{Verified: false, MissingSections: []string{"team_hiring"}})
	report := &model.Report{
		ID:           "r1",
		SessionID:    sess.ID,
		Score:        &score,
		Verdict:      model.VerdictCaution,
		Summary:      "Promising but unproven.",
		Details:      json.RawMessage(`{}`),
		Verification: verification,
		CreatedAt:    time.Now().UTC(),
	}
	status := s.Finish(ctx, sess.ID, []string{"ResearchAgent", "CompetitorAgent"}, report)
	assert.Equal(t, model.SessionStatusPartial, status)

	view, err := s.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPartial, view.Status)
	assert.Equal(t, "Failed agents: ResearchAgent, CompetitorAgent", view.ErrorMessage)
	assert.Len(t, view.Stages, model.TotalStages)
	assert.Equal(t, model.StageExtractor, view.Stages[0].Stage)
	assert.Equal(t, 1, view.Stages[0].Step)
	require.NotNil(t, view.Report)
	assert.Equal(t, 66, *view.Report.Score)
	require.NotNil(t, view.Report.Verification)
	assert.Equal(t, []string{"team_hiring"}, view.Report.Verification.MissingSections)

	// A terminal session is not moved by a later crash.
	s.Fail(ctx, sess.ID, "boom")
	after, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPartial, after.Status)
}

func TestSessions_FailKeepsFailedSteps(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	s := NewSessions(st, SessionsConfig{})

	sess, err := s.Create(ctx, "pitch text here", "")
	require.NoError(t, err)
	s.Checkpoint(ctx, sess.ID, []string{"PlannerAgent"})
	s.Fail(ctx, sess.ID, "nil map write")

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, got.Status)
	assert.Equal(t, "Pipeline crashed: nil map write", got.ErrorMessage)
	assert.Equal(t, []string{"PlannerAgent"}, got.FailedSteps)
}

func TestSessions_StatusUnknown(t *testing.T) {
	s := NewSessions(newTestStore(t), SessionsConfig{})
	_, err := s.Status(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessions_StatusPollReclaimsZombies(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	clock := time.Now().UTC()
	s := NewSessions(st, SessionsConfig{ZombieAfter: 10 * time.Minute, SweepInterval: time.Minute},
		WithSessionsClock(func() time.Time { return clock }))

	stuck, err := s.Create(ctx, "stuck pitch text", "")
	require.NoError(t, err)
	s.MarkRunning(ctx, stuck.ID)
	other, err := s.Create(ctx, "another pitch", "")
	require.NoError(t, err)

	clock = clock.Add(11 * time.Minute)
	got, err := st.GetSession(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusRunning, got.Status)

	// Polling any session runs the sweep.
	_, err = s.Status(ctx, other.ID)
	require.NoError(t, err)

	view, err := s.Status(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, view.Status)
	assert.Equal(t, "Session timed out (reclaimed)", view.ErrorMessage)
}

func TestSessions_SweepReclaimsZombies(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	clock := time.Now().UTC()
	s := NewSessions(st, SessionsConfig{ZombieAfter: 10 * time.Minute, SweepInterval: time.Minute},
		WithSessionsClock(func() time.Time { return clock }))

	stuck, err := s.Create(ctx, "stuck pitch text", "")
	require.NoError(t, err)
	s.MarkRunning(ctx, stuck.ID)
	queued, err := s.Create(ctx, "queued pitch text", "")
	require.NoError(t, err)

	// Not old enough yet.
	assert.Equal(t, 0, s.Sweep(ctx))

	// Rate limited inside the interval even though the session is now stale.
	clock = clock.Add(11 * time.Minute)
	s.mu.Lock()
	s.lastSweep = clock.Add(-30 * time.Second)
	s.mu.Unlock()
	assert.Equal(t, 0, s.Sweep(ctx))

	clock = clock.Add(time.Minute)
	assert.Equal(t, 1, s.Sweep(ctx))

	got, err := st.GetSession(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, got.Status)
	assert.Equal(t, "Session timed out (reclaimed)", got.ErrorMessage)

	q, err := st.GetSession(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusQueued, q.Status)

	n, err := s.SweepNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
