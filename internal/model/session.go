package model

import (
	"encoding/json"
	"time"
)

// SessionStatus represents the lifecycle state of a validation session.
type SessionStatus string

const (
	SessionStatusQueued   SessionStatus = "queued"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusPartial  SessionStatus = "partial"
	SessionStatusFailed   SessionStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusComplete, SessionStatusPartial, SessionStatusFailed:
		return true
	default:
		return false
	}
}

// TerminalSessionStatuses lists the statuses a session can end in.
var TerminalSessionStatuses = []SessionStatus{
	SessionStatusComplete,
	SessionStatusPartial,
	SessionStatusFailed,
}

// RunStatus represents the state of a single stage run.
type RunStatus string

const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// Done reports whether the run produced usable output.
func (s RunStatus) Done() bool {
	return s == RunStatusOK || s == RunStatusPartial
}

// Session is one end-to-end validation request.
type Session struct {
	ID           string        `json:"id"`
	InputText    string        `json:"input_text"`
	EntityID     string        `json:"entity_id,omitempty"`
	Status       SessionStatus `json:"status"`
	FailedSteps  []string      `json:"failed_steps"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Citation is a source reference attached to a stage output.
type Citation struct {
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`
}

// Run is the execution record for one stage within a session.
type Run struct {
	SessionID  string          `json:"session_id"`
	Stage      Stage           `json:"stage"`
	Status     RunStatus       `json:"status"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Output     json.RawMessage `json:"output,omitempty"`
	Citations  []Citation      `json:"citations"`
	Error      string          `json:"error,omitempty"`
}

// RunOutcome is the completion payload a stage hands to the run tracker.
type RunOutcome struct {
	Status    RunStatus
	Output    any
	Citations []Citation
	Error     string
	Duration  time.Duration
}

// Report is the final composed document for a session.
type Report struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	EntityID     string          `json:"entity_id,omitempty"`
	Score        *int            `json:"score"`
	Verdict      Verdict         `json:"verdict,omitempty"`
	Summary      string          `json:"summary"`
	Details      json.RawMessage `json:"details"`
	KeyFindings  []string        `json:"key_findings"`
	Verified     bool            `json:"verified"`
	Verification json.RawMessage `json:"verification,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
