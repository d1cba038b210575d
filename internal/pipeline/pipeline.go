// Package pipeline orchestrates the seven analysis stages of a validation
// session under one wall-clock deadline.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/agents"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/notify"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/tracking"
)

const (
	reasonExtractorFailed = "skipped: extractor failed"
	reasonNoBudget        = "skipped: insufficient time budget"
	reasonDeadline        = "deadline exceeded"
	shutdownMessage       = "Pipeline interrupted by shutdown"
)

// Stages is the set of analysis stages the orchestrator drives.
// *agents.Stages implements it.
type Stages interface {
	Extract(ctx context.Context, sessionID string, in agents.Input) (*model.Profile, error)
	Research(ctx context.Context, sessionID string, in agents.Input, profile *model.Profile) (*model.MarketResearch, error)
	Competitors(ctx context.Context, sessionID string, profile *model.Profile) (*model.CompetitorAnalysis, error)
	Score(ctx context.Context, sessionID string, in agents.Input, profile *model.Profile, market *model.MarketResearch, competitors *model.CompetitorAnalysis) (*model.ScoringResult, error)
	Plan(ctx context.Context, sessionID string, profile *model.Profile, result *model.ScoringResult) (*model.Plan, error)
	Compose(ctx context.Context, sessionID string, in agents.ComposeInput, budget time.Duration) (model.ReportBody, error)
	Verify(ctx context.Context, sessionID string, report model.ReportBody, failedAgents []string) *model.Verification
	Skip(ctx context.Context, sessionID string, stage model.Stage, reason string)
}

var _ Stages = (*agents.Stages)(nil)

// Config holds the orchestrator time budgets.
type Config struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	GracePeriod          time.Duration `mapstructure:"grace_period"`
	ComposerReserve      time.Duration `mapstructure:"composer_reserve"`
	ComposerSafetyMargin time.Duration `mapstructure:"composer_safety_margin"`
	ComposerMaxBudget    time.Duration `mapstructure:"composer_max_budget"`
	ComposerMinBudget    time.Duration `mapstructure:"composer_min_budget"`
}

// DefaultConfig returns the production budgets.
func DefaultConfig() Config {
	return Config{
		Timeout:              300 * time.Second,
		GracePeriod:          5 * time.Second,
		ComposerReserve:      30 * time.Second,
		ComposerSafetyMargin: 10 * time.Second,
		ComposerMaxBudget:    90 * time.Second,
		ComposerMinBudget:    45 * time.Second,
	}
}

// RunOptions are per-session settings carried from the trigger.
type RunOptions struct {
	EntityID string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the clock used for the session deadline.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline runs validation sessions.
type Pipeline struct {
	stages   Stages
	sessions *tracking.Sessions
	notifier notify.Notifier
	registry *Registry
	cfg      Config
	now      func() time.Time

	wg sync.WaitGroup
}

// New creates a Pipeline. A nil notifier or registry gets a default.
func New(stages Stages, sessions *tracking.Sessions, n notify.Notifier, reg *Registry, cfg Config, opts ...Option) *Pipeline {
	if n == nil {
		n = notify.Nop{}
	}
	if reg == nil {
		reg = NewRegistry()
	}
	p := &Pipeline{
		stages:   stages,
		sessions: sessions,
		notifier: n,
		registry: reg,
		cfg:      withDefaults(cfg),
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func withDefaults(c Config) Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.ComposerReserve <= 0 {
		c.ComposerReserve = d.ComposerReserve
	}
	if c.ComposerSafetyMargin <= 0 {
		c.ComposerSafetyMargin = d.ComposerSafetyMargin
	}
	if c.ComposerMaxBudget <= 0 {
		c.ComposerMaxBudget = d.ComposerMaxBudget
	}
	if c.ComposerMinBudget <= 0 {
		c.ComposerMinBudget = d.ComposerMinBudget
	}
	return c
}

// Start creates a session and runs it in the background. The run is
// detached from ctx cancellation so it outlives the triggering request.
func (p *Pipeline) Start(ctx context.Context, in agents.Input, opts RunOptions) (string, error) {
	sess, err := p.sessions.Create(ctx, in.Text, opts.EntityID)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: start")
	}

	// Registered and running before the goroutine exists, so a shutdown or
	// the zombie sweep can always reach it.
	runCtx := context.WithoutCancel(ctx)
	p.begin(runCtx, sess.ID)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(runCtx, sess.ID, in, opts)
	}()
	return sess.ID, nil
}

// Validate creates a session and runs it in the caller's goroutine. A late
// Competitor goroutine may still be draining when it returns.
func (p *Pipeline) Validate(ctx context.Context, in agents.Input, opts RunOptions) (string, model.SessionStatus, error) {
	sess, err := p.sessions.Create(ctx, in.Text, opts.EntityID)
	if err != nil {
		return "", "", eris.Wrap(err, "pipeline: validate")
	}
	return sess.ID, p.Run(ctx, sess.ID, in, opts), nil
}

// Wait blocks until every background run and Competitor goroutine started
// by this pipeline has returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Shutdown fails every session still registered in this process and
// returns how many were interrupted.
func (p *Pipeline) Shutdown(ctx context.Context) int {
	ids := p.registry.Active()
	for _, id := range ids {
		p.sessions.FailWith(ctx, id, shutdownMessage)
		p.notifier.Publish(notify.Event{
			Type:      notify.PipelineFailed,
			SessionID: id,
			Status:    model.SessionStatusFailed,
			Error:     shutdownMessage,
		})
		p.registry.Remove(id)
	}
	if len(ids) > 0 {
		zap.L().Warn("pipeline: interrupted running sessions", zap.Int("count", len(ids)))
	}
	return len(ids)
}

// session is the mutable state of one run.
type session struct {
	id       string
	entityID string
	in       agents.Input
	deadline *Deadline
	failed   []string
	expired  bool
	log      *zap.Logger
}

func (s *session) fail(stage model.Stage) {
	s.failed = append(s.failed, string(stage))
}

// launch reports whether stage may start. Once the deadline has passed,
// every stage reaching a boundary is recorded as not started.
func (p *Pipeline) launch(ctx context.Context, s *session, stage model.Stage) bool {
	if !s.expired && s.deadline.Expired() {
		s.expired = true
		s.log.Warn("pipeline: deadline exceeded",
			zap.String("stage", string(stage)),
			zap.Int64("elapsed_ms", s.deadline.Elapsed().Milliseconds()),
		)
	}
	if s.expired {
		p.stages.Skip(ctx, s.id, stage, reasonDeadline)
		s.fail(stage)
		return false
	}
	return true
}

// Run executes a session to a terminal status. It never leaves the
// session running: panics and unexpected errors mark it failed.
func (p *Pipeline) Run(ctx context.Context, sessionID string, in agents.Input, opts RunOptions) model.SessionStatus {
	p.begin(ctx, sessionID)
	return p.run(ctx, sessionID, in, opts)
}

// begin registers the session and moves it to running.
func (p *Pipeline) begin(ctx context.Context, sessionID string) {
	p.registry.Add(sessionID)
	zap.L().Info("pipeline: starting session", zap.String("session_id", sessionID))
	p.sessions.MarkRunning(ctx, sessionID)
}

// run expects begin to have been called for sessionID.
func (p *Pipeline) run(ctx context.Context, sessionID string, in agents.Input, opts RunOptions) (status model.SessionStatus) {
	s := &session{
		id:       sessionID,
		entityID: opts.EntityID,
		in:       in,
		deadline: NewDeadline(p.cfg.Timeout, p.now),
		log:      zap.L().With(zap.String("session_id", sessionID)),
	}
	defer p.registry.Remove(sessionID)

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("pipeline: panic", zap.Any("panic", r), zap.Stack("stack"))
			status = p.crash(ctx, s, fmt.Sprint(r))
		}
	}()

	status, err := p.execute(ctx, s)
	if err != nil {
		s.log.Error("pipeline: session error", zap.Error(err))
		return p.crash(ctx, s, err.Error())
	}
	return status
}

func (p *Pipeline) crash(ctx context.Context, s *session, msg string) model.SessionStatus {
	p.sessions.Fail(ctx, s.id, msg)
	p.notifier.Publish(notify.Event{
		Type:      notify.PipelineFailed,
		SessionID: s.id,
		Status:    model.SessionStatusFailed,
		Error:     msg,
	})
	return model.SessionStatusFailed
}

func (p *Pipeline) execute(ctx context.Context, s *session) (model.SessionStatus, error) {
	var (
		profile     *model.Profile
		market      *model.MarketResearch
		competitors *model.CompetitorAnalysis
		result      *model.ScoringResult
		plan        *model.Plan
		body        model.ReportBody
		err         error
	)

	// Extractor
	if p.launch(ctx, s, model.StageExtractor) {
		if profile, err = p.stages.Extract(ctx, s.id, s.in); err != nil {
			s.fail(model.StageExtractor)
		}
	}

	// Competitor, off the critical path
	var competitorCh <-chan competitorResult
	switch {
	case profile == nil && !s.expired:
		p.stages.Skip(ctx, s.id, model.StageCompetitor, reasonExtractorFailed)
		s.fail(model.StageCompetitor)
	case p.launch(ctx, s, model.StageCompetitor):
		competitorCh = p.launchCompetitor(ctx, s.id, profile)
	}

	if p.launch(ctx, s, model.StageResearch) {
		if market, err = p.stages.Research(ctx, s.id, s.in, profile); err != nil {
			s.fail(model.StageResearch)
		}
	}

	// Scoring uses the competitors only if they are already in.
	if res, ok := pollCompetitor(competitorCh); ok {
		competitorCh = nil
		if res.err != nil {
			s.fail(model.StageCompetitor)
		} else {
			competitors = res.analysis
		}
	}

	if p.launch(ctx, s, model.StageScoring) {
		if result, err = p.stages.Score(ctx, s.id, s.in, profile, market, competitors); err != nil {
			s.fail(model.StageScoring)
		}
	}

	if p.launch(ctx, s, model.StagePlanner) {
		if plan, err = p.stages.Plan(ctx, s.id, profile, result); err != nil {
			s.fail(model.StagePlanner)
		}
	}

	if competitorCh != nil {
		if res, ok := p.joinCompetitor(s.id, competitorCh, s.deadline); ok {
			if res.err != nil {
				s.fail(model.StageCompetitor)
			} else {
				competitors = res.analysis
			}
		}
	}

	p.sessions.Checkpoint(ctx, s.id, s.failed)

	if p.launch(ctx, s, model.StageComposer) {
		budget := min(s.deadline.Remaining()-p.cfg.ComposerSafetyMargin, p.cfg.ComposerMaxBudget)
		if budget < p.cfg.ComposerMinBudget {
			s.log.Warn("pipeline: composer budget too small",
				zap.Duration("budget", budget),
				zap.Duration("remaining", s.deadline.Remaining()),
			)
			p.stages.Skip(ctx, s.id, model.StageComposer, reasonNoBudget)
			s.fail(model.StageComposer)
		} else {
			in := agents.ComposeInput{
				Input:       s.in,
				Profile:     profile,
				Market:      market,
				Competitors: competitors,
				Scoring:     result,
				Plan:        plan,
			}
			if body, err = p.stages.Compose(ctx, s.id, in, budget); err != nil {
				s.fail(model.StageComposer)
				body = nil
			}
		}
	}

	var verification *model.Verification
	if p.launch(ctx, s, model.StageVerifier) {
		verification = p.stages.Verify(ctx, s.id, body, append([]string(nil), s.failed...))
	}

	report, err := buildReport(s.id, s.entityID, body, result, verification, p.now().UTC())
	if err != nil {
		return model.SessionStatusFailed, err
	}

	status := p.sessions.Finish(ctx, s.id, s.failed, report)
	p.publishTerminal(s, status, report)
	s.log.Info("pipeline: session complete",
		zap.String("status", string(status)),
		zap.Strings("failed_steps", s.failed),
		zap.Int64("duration_ms", s.deadline.Elapsed().Milliseconds()),
	)
	return status, nil
}

func (p *Pipeline) publishTerminal(s *session, status model.SessionStatus, report *model.Report) {
	e := notify.Event{
		Type:       notify.PipelineComplete,
		SessionID:  s.id,
		Status:     status,
		DurationMS: s.deadline.Elapsed().Milliseconds(),
	}
	if status == model.SessionStatusFailed {
		e.Type = notify.PipelineFailed
	}
	if report != nil {
		e.Score = report.Score
		e.ReportID = report.ID
	}
	p.notifier.Publish(e)
}
