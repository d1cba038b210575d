package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	sess := newSession("idea")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO validator_sessions`).
		WithArgs(sess.ID, sess.InputText, "", "queued", []byte("[]"), "", sess.CreatedAt, sess.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"validator_runs"}, runColumns).WillReturnResult(int64(model.TotalStages))
	mock.ExpectCommit()

	require.NoError(t, s.CreateSession(context.Background(), sess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSession_RollsBackOnSeedFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	sess := newSession("idea")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO validator_sessions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"validator_runs"}, runColumns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.CreateSession(context.Background(), sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed runs")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, input_text, entity_id, status, failed_steps, error_message, created_at, updated_at FROM validator_sessions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSession(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM validator_sessions WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "input_text", "entity_id", "status", "failed_steps", "error_message", "created_at", "updated_at"}).
			AddRow("s1", "idea", "", model.SessionStatusPartial, []byte(`["ResearchAgent"]`), "Failed agents: ResearchAgent", now, now))

	got, err := s.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPartial, got.Status)
	assert.Equal(t, []string{"ResearchAgent"}, got.FailedSteps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSession_TerminalGuard(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE validator_sessions SET status = \$1 .* WHERE id = \$5 AND \(status NOT IN \('complete','partial','failed'\) OR status = \$1\)`).
		WithArgs("complete", []byte("[]"), "", pgxmock.AnyArg(), "s1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.UpdateSession(context.Background(), "s1", SessionUpdate{Status: model.SessionStatusComplete})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SweepSessions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Now().Add(-10 * time.Minute)

	mock.ExpectExec(`UPDATE validator_sessions SET status = \$1, error_message = \$2`).
		WithArgs("failed", "Session timed out (reclaimed)", pgxmock.AnyArg(), "running", cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.SweepSessions(context.Background(), cutoff, "Session timed out (reclaimed)")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Now()

	mock.ExpectExec(`UPDATE validator_runs SET status = \$1, started_at = \$2`).
		WithArgs("running", at, "s1", "ExtractorAgent").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.StartRun(context.Background(), "s1", model.StageExtractor, at)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	end := time.Now()

	mock.ExpectExec(`UPDATE validator_runs SET status = \$1, started_at = COALESCE`).
		WithArgs("ok", pgxmock.AnyArg(), &end, int64(900), []byte(`{"idea":"x"}`), []byte("[]"), "", "s1", "ExtractorAgent").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE validator_sessions SET updated_at = \$1 WHERE id = \$2 AND status = \$3`).
		WithArgs(pgxmock.AnyArg(), "s1", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteRun(context.Background(), &model.Run{
		SessionID:  "s1",
		Stage:      model.StageExtractor,
		Status:     model.RunStatusOK,
		FinishedAt: &end,
		DurationMS: 900,
		Output:     json.RawMessage(`{"idea":"x"}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertReport_OnConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	score := 80

	mock.ExpectExec(`INSERT INTO validator_reports .* ON CONFLICT \(session_id\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.InsertReport(context.Background(), &model.Report{
		ID:        "r1",
		SessionID: "s1",
		Score:     &score,
		Details:   json.RawMessage(`{}`),
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReport_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM validator_reports WHERE session_id = \$1`).
		WithArgs("s1").
		WillReturnError(pgx.ErrNoRows)

	r, err := s.GetReport(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS validator_sessions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
