package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single connection keeps them applied
	// and serializes writers from concurrent stages.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS validator_sessions (
	id            TEXT PRIMARY KEY,
	input_text    TEXT NOT NULL,
	entity_id     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'queued',
	failed_steps  TEXT NOT NULL DEFAULT '[]',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS validator_runs (
	session_id  TEXT NOT NULL REFERENCES validator_sessions(id),
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'queued',
	started_at  DATETIME,
	finished_at DATETIME,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	output      TEXT,
	citations   TEXT NOT NULL DEFAULT '[]',
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
	details      TEXT NOT NULL,
	key_findings TEXT NOT NULL DEFAULT '[]',
	verified     INTEGER NOT NULL DEFAULT 0,
	verification TEXT,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validator_sessions_status ON validator_sessions(status);
CREATE INDEX IF NOT EXISTS idx_validator_runs_session ON validator_runs(session_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	failed, err := json.Marshal(nonNil(sess.FailedSteps))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal failed steps")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO validator_sessions (id, input_text, entity_id, status, failed_steps, error_message, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.InputText, sess.EntityID, string(sess.Status), string(failed), sess.ErrorMessage, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert session")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO validator_runs (session_id, stage, status) VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare run insert")
	}
	defer stmt.Close() //nolint:errcheck
	for _, st := range model.Stages {
		if _, err := stmt.ExecContext(ctx, sess.ID, string(st), string(model.RunStatusQueued)); err != nil {
			return eris.Wrapf(err, "sqlite: seed run %s", st)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input_text, entity_id, status, failed_steps, error_message, created_at, updated_at FROM validator_sessions WHERE id = ?`,
		id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT id, input_text, entity_id, status, failed_steps, error_message, created_at, updated_at FROM validator_sessions WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		out = append(out, *sess)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sessions")
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, u SessionUpdate) (bool, error) {
	failed, err := json.Marshal(nonNil(u.FailedSteps))
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal failed steps")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE validator_sessions SET status = ?1, failed_steps = ?2, error_message = ?3, updated_at = ?4 WHERE id = ?5 AND (status NOT IN (`+terminalList+`) OR status = ?1)`,
		string(u.Status), string(failed), u.ErrorMessage, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update session %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) SweepSessions(ctx context.Context, cutoff time.Time, message string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE validator_sessions SET status = ?, error_message = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		string(model.SessionStatusFailed), message, time.Now().UTC(), string(model.SessionStatusRunning), cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, sessionID string, stage model.Stage, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE validator_runs SET status = ?, started_at = ? WHERE session_id = ? AND stage = ?`,
		string(model.RunStatusRunning), at.UTC(), sessionID, string(stage),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start run %s/%s", sessionID, stage)
	}
	if err := checkRowsAffected(res, "run", sessionID+"/"+string(stage)); err != nil {
		return err
	}
	return s.touchSession(ctx, sessionID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.Run) error {
	citations, err := json.Marshal(nonNil(run.Citations))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal citations")
	}
	var output sql.NullString
	if len(run.Output) > 0 {
		output = sql.NullString{String: string(run.Output), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE validator_runs SET status = ?, started_at = COALESCE(started_at, ?), finished_at = ?, duration_ms = ?, output = ?, citations = ?, error = ? WHERE session_id = ? AND stage = ?`,
		string(run.Status), utcPtr(run.StartedAt), utcPtr(run.FinishedAt), run.DurationMS, output, string(citations), run.Error, run.SessionID, string(run.Stage),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s/%s", run.SessionID, run.Stage)
	}
	if err := checkRowsAffected(res, "run", run.SessionID+"/"+string(run.Stage)); err != nil {
		return err
	}
	return s.touchSession(ctx, run.SessionID)
}

// touchSession bumps updated_at of a running session.
func (s *SQLiteStore) touchSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE validator_sessions SET updated_at = ? WHERE id = ? AND status = ?`,
		time.Now().UTC(), id, string(model.SessionStatusRunning),
	); err != nil {
		return eris.Wrapf(err, "sqlite: touch session %s", id)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, sessionID string) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, stage, status, started_at, finished_at, duration_ms, output, citations, error FROM validator_runs WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list runs %s", sessionID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate runs")
	}
	sortRuns(out)
	return out, nil
}

func (s *SQLiteStore) InsertReport(ctx context.Context, r *model.Report) error {
	findings, err := json.Marshal(nonNil(r.KeyFindings))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal key findings")
	}
	var verification sql.NullString
	if len(r.Verification) > 0 {
		verification = sql.NullString{String: string(r.Verification), Valid: true}
	}
	var score sql.NullInt64
	if r.Score != nil {
		score = sql.NullInt64{Int64: int64(*r.Score), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validator_reports (id, session_id, entity_id, score, verdict, summary, details, key_findings, verified, verification, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (session_id) DO NOTHING`,
		r.ID, r.SessionID, r.EntityID, score, string(r.Verdict), r.Summary, string(r.Details), string(findings), r.Verified, verification, r.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert report %s", r.SessionID)
}

func (s *SQLiteStore) GetReport(ctx context.Context, sessionID string) (*model.Report, error) {
	var r model.Report
	var score sql.NullInt64
	var details, findings string
	var verification sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, entity_id, score, verdict, summary, details, key_findings, verified, verification, created_at FROM validator_reports WHERE session_id = ?`,
		sessionID,
	).Scan(&r.ID, &r.SessionID, &r.EntityID, &score, &r.Verdict, &r.Summary, &details, &findings, &r.Verified, &verification, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", sessionID)
	}
	if score.Valid {
		v := int(score.Int64)
		r.Score = &v
	}
	r.Details = json.RawMessage(details)
	if verification.Valid && verification.String != "" {
		r.Verification = json.RawMessage(verification.String)
	}
	if err := unmarshalList([]byte(findings), &r.KeyFindings); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal key findings")
	}
	return &r, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*model.Session, error) {
	var sess model.Session
	var failed string
	if err := row.Scan(&sess.ID, &sess.InputText, &sess.EntityID, &sess.Status, &failed, &sess.ErrorMessage, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalList([]byte(failed), &sess.FailedSteps); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal failed steps")
	}
	return &sess, nil
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var started, finished sql.NullTime
	var output sql.NullString
	var citations string
	if err := row.Scan(&r.SessionID, &r.Stage, &r.Status, &started, &finished, &r.DurationMS, &output, &citations, &r.Error); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if started.Valid {
		t := started.Time
		r.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	if output.Valid && output.String != "" {
		r.Output = json.RawMessage(output.String)
	}
	if err := unmarshalList([]byte(citations), &r.Citations); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal citations")
	}
	return &r, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
