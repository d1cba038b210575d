package model

import "time"

// ReportBody is the multi-section report produced by the Composer stage.
// Sections are free-form JSON values keyed by section name.
type ReportBody map[string]any

// RequiredSections lists the sections every complete report carries.
var RequiredSections = []string{
	"summary_verdict",
	"problem_clarity",
	"customer_use_case",
	"market_sizing",
	"competition",
	"risks_assumptions",
	"mvp_scope",
	"next_steps",
	"technology_stack",
	"revenue_model",
	"team_hiring",
	"key_questions",
	"resources_links",
	"scores_matrix",
	"financial_projections",
}

// SectionOwners maps each required section to the stage that feeds it.
var SectionOwners = map[string]Stage{
	"summary_verdict":       StageScoring,
	"problem_clarity":       StageExtractor,
	"customer_use_case":     StageExtractor,
	"market_sizing":         StageResearch,
	"competition":           StageCompetitor,
	"risks_assumptions":     StageScoring,
	"mvp_scope":             StagePlanner,
	"next_steps":            StagePlanner,
	"technology_stack":      StageComposer,
	"revenue_model":         StageComposer,
	"team_hiring":           StageComposer,
	"key_questions":         StageComposer,
	"resources_links":       StageResearch,
	"scores_matrix":         StageScoring,
	"financial_projections": StageComposer,
}

// Summary returns the summary_verdict section as text.
func (r ReportBody) Summary() string {
	s, _ := r["summary_verdict"].(string)
	return s
}

// HealthStatus classifies a report section.
type HealthStatus string

const (
	HealthOK      HealthStatus = "ok"
	HealthWeak    HealthStatus = "weak"
	HealthMissing HealthStatus = "missing"
)

// SectionHealth is the verifier's assessment of one section.
type SectionHealth struct {
	Status  HealthStatus `json:"status"`
	Reasons []string     `json:"reasons"`
}

// Verification is the Verifier stage output.
type Verification struct {
	Verified        bool                     `json:"verified"`
	MissingSections []string                 `json:"missing_sections"`
	FailedAgents    []string                 `json:"failed_agents"`
	Warnings        []string                 `json:"warnings"`
	SectionMappings map[string]Stage         `json:"section_mappings"`
	SectionHealth   map[string]SectionHealth `json:"section_health,omitempty"`
}

// StageView is one stage row of a status poll.
type StageView struct {
	Stage        Stage      `json:"stage"`
	Step         int        `json:"step"`
	Status       RunStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
	HasCitations bool       `json:"has_citations"`
	Error        string     `json:"error,omitempty"`
}

// ReportView is the report portion of a status poll.
type ReportView struct {
	ID           string        `json:"id"`
	Score        *int          `json:"score"`
	Verdict      Verdict       `json:"verdict,omitempty"`
	Summary      string        `json:"summary"`
	Verified     bool          `json:"verified"`
	Verification *Verification `json:"verification,omitempty"`
}

// StatusView is the response to a status poll.
type StatusView struct {
	SessionID    string        `json:"session_id"`
	Status       SessionStatus `json:"status"`
	Progress     int           `json:"progress"`
	Stages       []StageView   `json:"stages"`
	FailedSteps  []string      `json:"failed_steps"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Report       *ReportView   `json:"report,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
