package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/db"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection.
var preparedStatements = map[string]string{
	"start_run":   `UPDATE validator_runs SET status = $1, started_at = $2 WHERE session_id = $3 AND stage = $4`,
	"get_session": `SELECT id, input_text, entity_id, status, failed_steps, error_message, created_at, updated_at FROM validator_sessions WHERE id = $1`,
	"list_runs":   `SELECT session_id, stage, status, started_at, finished_at, duration_ms, output, citations, error FROM validator_runs WHERE session_id = $1`,
}

var runColumns = []string{"session_id", "stage", "status", "citations", "error"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS validator_sessions (
	id            TEXT PRIMARY KEY,
	input_text    TEXT NOT NULL,
	entity_id     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'queued',
	failed_steps  JSONB NOT NULL DEFAULT '[]',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS validator_runs (
	session_id  TEXT NOT NULL REFERENCES validator_sessions(id),
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'queued',
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	output      JSONB,
	citations   JSONB NOT NULL DEFAULT '[]',
	error       TEXT NOT NULL DEFAULT '',
	UNIQUE (session_id, stage)
);

CREATE TABLE IF NOT EXISTS validator_reports (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL UNIQUE REFERENCES validator_sessions(id),
	entity_id    TEXT NOT NULL DEFAULT '',
	score        INTEGER,
	verdict      TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '',
	details      JSONB NOT NULL,
	key_findings JSONB NOT NULL DEFAULT '[]',
	verified     BOOLEAN NOT NULL DEFAULT false,
	verification JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_validator_sessions_status ON validator_sessions(status);
CREATE INDEX IF NOT EXISTS idx_validator_sessions_updated ON validator_sessions(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_validator_runs_session ON validator_runs(session_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	failed, err := json.Marshal(nonNil(sess.FailedSteps))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal failed steps")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO validator_sessions (id, input_text, entity_id, status, failed_steps, error_message, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.InputText, sess.EntityID, string(sess.Status), failed, sess.ErrorMessage, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert session")
	}

	rows := make([][]any, 0, len(model.Stages))
	for _, st := range model.Stages {
		rows = append(rows, []any{sess.ID, string(st), string(model.RunStatusQueued), []byte("[]"), ""})
	}
	if _, err := db.CopyFrom(ctx, tx, "validator_runs", runColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: seed runs")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit session")
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, input_text, entity_id, status, failed_steps, error_message, created_at, updated_at FROM validator_sessions WHERE id = $1`,
		id,
	)
	sess, err := scanPgSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT id, input_text, entity_id, status, failed_steps, error_message, created_at, updated_at FROM validator_sessions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanPgSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		out = append(out, *sess)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sessions")
}

func (s *PostgresStore) UpdateSession(ctx context.Context, id string, u SessionUpdate) (bool, error) {
	failed, err := json.Marshal(nonNil(u.FailedSteps))
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal failed steps")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE validator_sessions SET status = $1, failed_steps = $2, error_message = $3, updated_at = $4 WHERE id = $5 AND (status NOT IN (`+terminalList+`) OR status = $1)`,
		string(u.Status), failed, u.ErrorMessage, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update session %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SweepSessions(ctx context.Context, cutoff time.Time, message string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE validator_sessions SET status = $1, error_message = $2, updated_at = $3 WHERE status = $4 AND updated_at < $5`,
		string(model.SessionStatusFailed), message, time.Now().UTC(), string(model.SessionStatusRunning), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep sessions")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) StartRun(ctx context.Context, sessionID string, stage model.Stage, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE validator_runs SET status = $1, started_at = $2 WHERE session_id = $3 AND stage = $4`,
		string(model.RunStatusRunning), at, sessionID, string(stage),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start run %s/%s", sessionID, stage)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s/%s", sessionID, stage)
	}
	return s.touchSession(ctx, sessionID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.Run) error {
	citations, err := json.Marshal(nonNil(run.Citations))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal citations")
	}
	var output []byte
	if len(run.Output) > 0 {
		output = run.Output
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE validator_runs SET status = $1, started_at = COALESCE(started_at, $2), finished_at = $3, duration_ms = $4, output = $5, citations = $6, error = $7 WHERE session_id = $8 AND stage = $9`,
		string(run.Status), run.StartedAt, run.FinishedAt, run.DurationMS, output, citations, run.Error, run.SessionID, string(run.Stage),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s/%s", run.SessionID, run.Stage)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s/%s", run.SessionID, run.Stage)
	}
	return s.touchSession(ctx, run.SessionID)
}

// touchSession bumps updated_at of a running session so the zombie sweep
// measures time since the last stage transition.
func (s *PostgresStore) touchSession(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE validator_sessions SET updated_at = $1 WHERE id = $2 AND status = $3`,
		time.Now().UTC(), id, string(model.SessionStatusRunning),
	); err != nil {
		return eris.Wrapf(err, "postgres: touch session %s", id)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, sessionID string) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, stage, status, started_at, finished_at, duration_ms, output, citations, error FROM validator_runs WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list runs %s", sessionID)
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		var r model.Run
		var output, citations []byte
		if err := rows.Scan(&r.SessionID, &r.Stage, &r.Status, &r.StartedAt, &r.FinishedAt, &r.DurationMS, &output, &citations, &r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(output) > 0 {
			r.Output = json.RawMessage(output)
		}
		if err := unmarshalList(citations, &r.Citations); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal citations")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate runs")
	}
	sortRuns(out)
	return out, nil
}

func (s *PostgresStore) InsertReport(ctx context.Context, r *model.Report) error {
	findings, err := json.Marshal(nonNil(r.KeyFindings))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal key findings")
	}
	var verification []byte
	if len(r.Verification) > 0 {
		verification = r.Verification
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO validator_reports (id, session_id, entity_id, score, verdict, summary, details, key_findings, verified, verification, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) ON CONFLICT (session_id) DO NOTHING`,
		r.ID, r.SessionID, r.EntityID, r.Score, string(r.Verdict), r.Summary, []byte(r.Details), findings, r.Verified, verification, r.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert report %s", r.SessionID)
}

func (s *PostgresStore) GetReport(ctx context.Context, sessionID string) (*model.Report, error) {
	var r model.Report
	var details, findings, verification []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, entity_id, score, verdict, summary, details, key_findings, verified, verification, created_at FROM validator_reports WHERE session_id = $1`,
		sessionID,
	).Scan(&r.ID, &r.SessionID, &r.EntityID, &r.Score, &r.Verdict, &r.Summary, &details, &findings, &r.Verified, &verification, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", sessionID)
	}
	r.Details = json.RawMessage(details)
	if len(verification) > 0 {
		r.Verification = json.RawMessage(verification)
	}
	if err := unmarshalList(findings, &r.KeyFindings); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal key findings")
	}
	return &r, nil
}

type pgScannable interface {
	Scan(dest ...any) error
}

func scanPgSession(row pgScannable) (*model.Session, error) {
	var sess model.Session
	var failed []byte
	if err := row.Scan(&sess.ID, &sess.InputText, &sess.EntityID, &sess.Status, &failed, &sess.ErrorMessage, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalList(failed, &sess.FailedSteps); err != nil {
		return nil, eris.Wrap(err, "unmarshal failed steps")
	}
	return &sess, nil
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// unmarshalList decodes a JSON list, treating NULL or empty input as empty.
func unmarshalList[T any](data []byte, dst *[]T) error {
	if len(data) == 0 || string(data) == "null" {
		*dst = []T{}
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return err
	}
	if *dst == nil {
		*dst = []T{}
	}
	return nil
}
