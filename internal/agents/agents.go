// Package agents implements the seven analysis stages. Each stage makes at
// most a handful of model calls, parses the result and records its own run.
package agents

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/links"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/knowledge"
)

// RunRecorder persists stage run transitions. Implementations swallow
// their own write errors.
type RunRecorder interface {
	Start(ctx context.Context, sessionID string, stage model.Stage)
	Complete(ctx context.Context, sessionID string, stage model.Stage, out model.RunOutcome)
}

// Input is the raw pitch plus any interview context supplied with it.
type Input struct {
	Text      string
	Interview *model.InterviewContext
}

// Timeouts are the per-attempt model call timeouts of each stage.
type Timeouts struct {
	Extractor  time.Duration `mapstructure:"extractor"`
	Research   time.Duration `mapstructure:"research"`
	Competitor time.Duration `mapstructure:"competitor"`
	Scoring    time.Duration `mapstructure:"scoring"`
	Planner    time.Duration `mapstructure:"planner"`
}

// Config configures the stages.
type Config struct {
	Model        string
	ScoringModel string
	// Bias is added to the weighted score before clamping.
	Bias              float64
	Timeouts          Timeouts
	MaxOutputTokens   int64
	KnowledgeMatches  int
	MaxKnowledgeChars int
}

// DefaultTimeouts returns the production stage timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Extractor:  30 * time.Second,
		Research:   60 * time.Second,
		Competitor: 60 * time.Second,
		Scoring:    60 * time.Second,
		Planner:    45 * time.Second,
	}
}

// DefaultConfig returns defaults for everything but the models.
func DefaultConfig() Config {
	return Config{
		Timeouts:          DefaultTimeouts(),
		MaxOutputTokens:   8192,
		KnowledgeMatches:  5,
		MaxKnowledgeChars: 4000,
	}
}

// Stages runs the analysis stages for a session.
type Stages struct {
	llm       llm.Caller
	recorder  RunRecorder
	knowledge knowledge.Client
	links     *links.Catalog
	cfg       Config
	now       func() time.Time
}

// Option configures Stages.
type Option func(*Stages)

// WithKnowledge enables retrieval for Research and Competitor.
func WithKnowledge(c knowledge.Client) Option {
	return func(s *Stages) { s.knowledge = c }
}

// WithLinks replaces the curated links catalog.
func WithLinks(c *links.Catalog) Option {
	return func(s *Stages) { s.links = c }
}

// WithClock replaces time.Now for run durations.
func WithClock(now func() time.Time) Option {
	return func(s *Stages) { s.now = now }
}

// New creates the stages. cfg zero values fall back to DefaultConfig.
func New(caller llm.Caller, recorder RunRecorder, cfg Config, opts ...Option) *Stages {
	d := DefaultConfig()
	if cfg.ScoringModel == "" {
		cfg.ScoringModel = cfg.Model
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = d.MaxOutputTokens
	}
	if cfg.KnowledgeMatches <= 0 {
		cfg.KnowledgeMatches = d.KnowledgeMatches
	}
	if cfg.MaxKnowledgeChars <= 0 {
		cfg.MaxKnowledgeChars = d.MaxKnowledgeChars
	}
	cfg.Timeouts = withDefaultTimeouts(cfg.Timeouts, d.Timeouts)

	s := &Stages{
		llm:      caller,
		recorder: recorder,
		links:    links.Default(),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func withDefaultTimeouts(t, d Timeouts) Timeouts {
	pick := func(v, def time.Duration) time.Duration {
		if v <= 0 {
			return def
		}
		return v
	}
	return Timeouts{
		Extractor:  pick(t.Extractor, d.Extractor),
		Research:   pick(t.Research, d.Research),
		Competitor: pick(t.Competitor, d.Competitor),
		Scoring:    pick(t.Scoring, d.Scoring),
		Planner:    pick(t.Planner, d.Planner),
	}
}

// Skip records a stage that was never started as failed.
func (s *Stages) Skip(ctx context.Context, sessionID string, stage model.Stage, reason string) {
	zap.L().Info("agents: stage skipped",
		zap.String("session_id", sessionID),
		zap.String("stage", string(stage)),
		zap.String("reason", reason),
	)
	s.recorder.Complete(ctx, sessionID, stage, model.RunOutcome{
		Status: model.RunStatusFailed,
		Error:  reason,
	})
}

// stageRun tracks one stage execution between Start and Complete.
type stageRun struct {
	s         *Stages
	ctx       context.Context
	sessionID string
	stage     model.Stage
	start     time.Time
	log       *zap.Logger
}

func (s *Stages) begin(ctx context.Context, sessionID string, stage model.Stage) *stageRun {
	r := &stageRun{
		s:         s,
		ctx:       ctx,
		sessionID: sessionID,
		stage:     stage,
		start:     s.now(),
		log:       zap.L().With(zap.String("session_id", sessionID), zap.String("stage", string(stage))),
	}
	r.log.Info("agents: stage started")
	s.recorder.Start(ctx, sessionID, stage)
	return r
}

func (r *stageRun) elapsed() time.Duration { return r.s.now().Sub(r.start) }

// done records a successful run.
func (r *stageRun) done(status model.RunStatus, output any, citations []model.Citation) {
	d := r.elapsed()
	r.log.Info("agents: stage complete",
		zap.String("status", string(status)),
		zap.Int64("duration_ms", d.Milliseconds()),
		zap.Int("citations", len(citations)),
	)
	r.s.recorder.Complete(r.ctx, r.sessionID, r.stage, model.RunOutcome{
		Status:    status,
		Output:    output,
		Citations: citations,
		Duration:  d,
	})
}

// fail records a failed run and returns err for the caller.
func (r *stageRun) fail(err error) error {
	d := r.elapsed()
	r.log.Warn("agents: stage failed",
		zap.Int64("duration_ms", d.Milliseconds()),
		zap.Bool("timeout", llm.IsTimeout(err)),
		zap.Error(err),
	)
	r.s.recorder.Complete(r.ctx, r.sessionID, r.stage, model.RunOutcome{
		Status:   model.RunStatusFailed,
		Error:    failureMessage(err),
		Duration: d,
	})
	return err
}

// failureMessage is the error text stored on the run row.
func failureMessage(err error) string {
	if llm.IsTimeout(err) {
		return "timeout: " + err.Error()
	}
	return err.Error()
}

// groundedStatus is ok when the model searched or cited, partial
// otherwise.
func groundedStatus(resp *llm.Response) model.RunStatus {
	if resp.Grounded || len(resp.Citations) > 0 {
		return model.RunStatusOK
	}
	return model.RunStatusPartial
}

// sourceCitations converts model-listed sources into citations.
func sourceCitations(sources []model.Source) []model.Citation {
	var out []model.Citation
	seen := map[string]bool{}
	for _, src := range sources {
		u := strings.TrimSpace(src.URL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, model.Citation{URL: u, Title: src.Title, Source: "model"})
	}
	return out
}

// toJSON renders v for a prompt. Nil renders as "not available".
func toJSON(v any) string {
	if v == nil {
		return "not available"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "not available"
	}
	return string(b)
}

// ideaOf returns the profile idea, or the raw input when no profile exists.
func ideaOf(p *model.Profile, in Input) string {
	if p != nil && strings.TrimSpace(p.Idea) != "" {
		return strings.TrimSpace(p.Idea)
	}
	return truncate(strings.TrimSpace(in.Text), 500)
}

func industryOf(p *model.Profile) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Industry)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var errNoProfile = eris.New("agents: no profile")
