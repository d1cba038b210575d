package agents

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/extract"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/links"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

const (
	parallelGroupCap    = 60 * time.Second
	parallelGroupShare  = 0.4
	synthesisGroupCap   = 30 * time.Second
	synthesisGroupShare = 0.2
	composerMaxTokens   = 8192
)

// sectionGroup is one composer call producing a fixed set of sections.
type sectionGroup struct {
	name     string
	sections []string
}

var (
	groupA = sectionGroup{name: "A", sections: []string{"problem_clarity", "customer_use_case"}}
	groupB = sectionGroup{name: "B", sections: []string{"market_sizing", "competition", "risks_assumptions"}}
	groupC = sectionGroup{name: "C", sections: []string{
		"mvp_scope", "technology_stack", "revenue_model", "team_hiring", "financial_projections",
	}}
	groupD = sectionGroup{name: "D", sections: []string{"summary_verdict", "next_steps", "key_questions", "resources_links"}}
)

// sectionHints describe the expected shape of each section.
var sectionHints = map[string]string{
	"problem_clarity":       "string: how clear and painful the problem is",
	"customer_use_case":     "string: who the customer is and a concrete use case",
	"market_sizing":         "object {tam, sam, som, methodology, citations: [{title, url}]}",
	"competition":           "object {competitors: [{name, threat_level, note}], gaps: [string], citations: [{title, url}]}",
	"risks_assumptions":     "array of strings",
	"mvp_scope":             "string",
	"technology_stack":      "object {recommended: [string], rationale: string}",
	"revenue_model":         "object {model: string, pricing: string, ltv: number, cac: number}",
	"team_hiring":           "object {roles: [string], first_hire: string}",
	"financial_projections": "object {year1_revenue, year3_revenue, ltv_cac_ratio, assumptions: [string]}",
	"summary_verdict":       "string: three to five sentences that agree with the verdict",
	"next_steps":            "array of at least three strings",
	"key_questions":         "array of at least two strings",
	"resources_links":       "array of {title, url}",
}

// ComposeInput carries every upstream output the composer can use. Any
// pointer may be nil.
type ComposeInput struct {
	Input       Input
	Profile     *model.Profile
	Market      *model.MarketResearch
	Competitors *model.CompetitorAnalysis
	Scoring     *model.ScoringResult
	Plan        *model.Plan
}

// GroupBudgets returns the per-call timeouts of the parallel and synthesis
// groups for a total budget.
func GroupBudgets(budget time.Duration) (parallel, synthesis time.Duration) {
	parallel = min(parallelGroupCap, time.Duration(float64(budget)*parallelGroupShare))
	synthesis = min(synthesisGroupCap, time.Duration(float64(budget)*synthesisGroupShare))
	return parallel, synthesis
}

// Compose writes the report body within budget. A failed group drops its
// sections; the stage fails only if every group failed.
func (s *Stages) Compose(ctx context.Context, sessionID string, in ComposeInput, budget time.Duration) (model.ReportBody, error) {
	run := s.begin(ctx, sessionID, model.StageComposer)

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	parallel, synthesis := GroupBudgets(budget)
	analysis := composeContext(in)

	body := model.ReportBody{}
	var (
		mu     sync.Mutex
		failed []string
	)
	merge := func(g sectionGroup, sections map[string]any, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			run.log.Warn("agents: composer group failed", zap.String("group", g.name), zap.Error(err))
			failed = append(failed, g.name)
			return
		}
		for _, k := range g.sections {
			if v, ok := sections[k]; ok {
				body[k] = v
			}
		}
	}

	// Group failures are merged, not propagated.
	var wg sync.WaitGroup
	for _, grp := range []sectionGroup{groupA, groupB, groupC} {
		wg.Go(func() {
			sections, err := s.composeGroup(ctx, grp, composerSystem, analysis, parallel)
			merge(grp, sections, err)
		})
	}
	wg.Wait()

	synthesisIn := analysis + "\n\nSections written so far:\n" + toJSON(map[string]any(body))
	if in.Scoring != nil {
		synthesisIn += "\n\nFinal score: " + strconv.Itoa(in.Scoring.OverallScore) + " (" + string(in.Scoring.Verdict) + ")"
	}
	synthesisIn += "\n\nCurated sources:\n" + links.Format(s.links.Select(industryOf(in.Profile), "").All)
	sections, err := s.composeGroup(ctx, groupD, composerSynthesisSystem, synthesisIn, synthesis)
	merge(groupD, sections, err)

	if len(failed) == 4 {
		return nil, run.fail(eris.New("agents: every composer group failed"))
	}

	if in.Scoring != nil {
		body["scores_matrix"] = in.Scoring.ScoresMatrix
	}
	if _, ok := body["resources_links"]; !ok {
		if rl := fallbackResources(in); len(rl) > 0 {
			body["resources_links"] = rl
		}
	}

	status := model.RunStatusOK
	if len(failed) > 0 {
		status = model.RunStatusPartial
	}
	run.done(status, body, nil)
	return body, nil
}

func (s *Stages) composeGroup(ctx context.Context, g sectionGroup, system, analysis string, timeout time.Duration) (map[string]any, error) {
	var want strings.Builder
	for _, k := range g.sections {
		want.WriteString("- " + k + ": " + sectionHints[k] + "\n")
	}

	resp, err := s.llm.Call(ctx, llm.Request{
		Model:  s.cfg.Model,
		System: system,
		User:   analysis + "\n\nWrite these sections:\n" + want.String(),
		Stage:  string(model.StageComposer) + "/" + g.name,
		Options: llm.Options{
			Effort:          llm.EffortLow,
			Timeout:         timeout,
			MaxOutputTokens: composerMaxTokens,
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "agents: composer group %s call", g.name)
	}
	res := extract.Object(resp.Text)
	if !res.OK() {
		return nil, eris.Wrapf(res.Err(), "agents: composer group %s parse", g.name)
	}
	return res.Value, nil
}

func composeContext(in ComposeInput) string {
	var b strings.Builder
	if in.Profile != nil {
		b.WriteString("Startup profile:\n" + toJSON(in.Profile))
	} else {
		b.WriteString("Pitch:\n" + in.Input.Text)
	}
	b.WriteString("\n\nMarket research:\n" + toJSON(nilIfEmpty(in.Market)))
	b.WriteString("\n\nCompetitor analysis:\n" + toJSON(nilIfEmpty(in.Competitors)))
	if in.Scoring != nil {
		b.WriteString("\n\nScoring:\n" + toJSON(map[string]any{
			"overall_score":     in.Scoring.OverallScore,
			"verdict":           in.Scoring.Verdict,
			"dimension_scores":  in.Scoring.DimensionScores,
			"highlights":        in.Scoring.Highlights,
			"red_flags":         in.Scoring.RedFlags,
			"risks_assumptions": in.Scoring.RisksAssumptions,
		}))
	} else {
		b.WriteString("\n\nScoring:\nnot available")
	}
	b.WriteString("\n\nMVP plan:\n" + toJSON(nilIfEmpty(in.Plan)))
	return b.String()
}

// fallbackResources lists upstream sources when synthesis produced none.
func fallbackResources(in ComposeInput) []map[string]string {
	var sources []model.Source
	if in.Market != nil {
		sources = append(sources, in.Market.Sources...)
	}
	if in.Competitors != nil {
		sources = append(sources, in.Competitors.Sources...)
	}
	var out []map[string]string
	for _, c := range sourceCitations(sources) {
		out = append(out, map[string]string{"title": c.Title, "url": c.URL})
	}
	return out
}
