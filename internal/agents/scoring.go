package agents

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/extract"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/scoring"
)

// Score asks the model for qualitative scores and runs them through the
// deterministic scoring layer. Market and competitors may be nil.
func (s *Stages) Score(ctx context.Context, sessionID string, in Input, profile *model.Profile, market *model.MarketResearch, competitors *model.CompetitorAnalysis) (*model.ScoringResult, error) {
	run := s.begin(ctx, sessionID, model.StageScoring)

	var user strings.Builder
	if profile != nil {
		user.WriteString("Startup profile:\n" + toJSON(profile))
	} else {
		user.WriteString("Pitch:\n" + in.Text)
	}
	user.WriteString("\n\nMarket research:\n" + toJSON(nilIfEmpty(market)))
	user.WriteString("\n\nCompetitor analysis:\n" + toJSON(nilIfEmpty(competitors)))
	if ic := in.Interview; ic != nil && len(ic.Coverage) > 0 {
		user.WriteString("\n\nInterview coverage:\n" + formatFields(ic.Coverage))
	}

	resp, err := s.llm.Call(ctx, llm.Request{
		Model:  s.cfg.ScoringModel,
		System: scoringSystem,
		User:   user.String(),
		Stage:  string(model.StageScoring),
		Options: llm.Options{
			Effort:          llm.EffortHigh,
			Timeout:         s.cfg.Timeouts.Scoring,
			MaxOutputTokens: s.cfg.MaxOutputTokens,
			Schema:          scoringSchema,
		},
	})
	if err != nil {
		return nil, run.fail(eris.Wrap(err, "agents: scoring call"))
	}

	res := extract.Parse[model.ScoringDraft](resp.Text)
	if !res.OK() {
		return nil, run.fail(eris.Wrap(res.Err(), "agents: parse scoring"))
	}
	if len(res.Value.DimensionScores) == 0 {
		return nil, run.fail(eris.New("agents: scoring returned no dimension scores"))
	}

	result := scoring.Apply(res.Value, s.cfg.Bias)
	run.done(model.RunStatusOK, &result, nil)
	return &result, nil
}

// nilIfEmpty keeps typed nil pointers from rendering as "null".
func nilIfEmpty[T any](v *T) any {
	if v == nil {
		return nil
	}
	return v
}
