package agents

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/extract"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// Plan drafts the MVP plan. Without scoring it plans from the profile
// alone.
func (s *Stages) Plan(ctx context.Context, sessionID string, profile *model.Profile, result *model.ScoringResult) (*model.Plan, error) {
	run := s.begin(ctx, sessionID, model.StagePlanner)
	if profile == nil && result == nil {
		return nil, run.fail(eris.New("agents: planner needs a profile or a scoring result"))
	}

	var user strings.Builder
	user.WriteString("Startup profile:\n" + toJSON(nilIfEmpty(profile)))
	if result != nil {
		user.WriteString("\n\nVerdict: " + string(result.Verdict))
		user.WriteString("\n\nRed flags:\n" + bullets(result.RedFlags))
		user.WriteString("\n\nRisks and assumptions:\n" + bullets(result.RisksAssumptions))
	} else {
		run.log.Info("agents: planning without scoring")
		user.WriteString("\n\nNo scoring is available. Plan from the profile and its assumptions.")
	}

	resp, err := s.llm.Call(ctx, llm.Request{
		Model:  s.cfg.Model,
		System: plannerSystem,
		User:   user.String(),
		Stage:  string(model.StagePlanner),
		Options: llm.Options{
			Effort:          llm.EffortLow,
			Timeout:         s.cfg.Timeouts.Planner,
			MaxOutputTokens: s.cfg.MaxOutputTokens,
			Schema:          planSchema,
		},
	})
	if err != nil {
		return nil, run.fail(eris.Wrap(err, "agents: planner call"))
	}

	res := extract.Parse[model.Plan](resp.Text)
	if !res.OK() {
		return nil, run.fail(eris.Wrap(res.Err(), "agents: parse plan"))
	}
	plan := res.Value
	for i := range plan.Phases {
		if plan.Phases[i].Phase == 0 {
			plan.Phases[i].Phase = i + 1
		}
	}

	status := model.RunStatusOK
	if result == nil {
		status = model.RunStatusPartial
	}
	run.done(status, &plan, nil)
	return &plan, nil
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- " + it)
	}
	return b.String()
}
