package agents

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/extract"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/links"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// Competitors maps the competitive landscape. It runs alongside the
// critical path and needs a profile.
func (s *Stages) Competitors(ctx context.Context, sessionID string, profile *model.Profile) (*model.CompetitorAnalysis, error) {
	run := s.begin(ctx, sessionID, model.StageCompetitor)
	if profile == nil {
		return nil, run.fail(errNoProfile)
	}

	idea := ideaOf(profile, Input{})
	industry := industryOf(profile)
	kb := s.knowledgeBlock(ctx, run.log, idea+" competitors alternatives market leaders", industry)
	sel := s.links.Select(industry, searchKeywords(profile))

	var user strings.Builder
	user.WriteString("Startup:\n" + toJSON(profile))
	user.WriteString("\n\nKnowledge base:\n" + kb)
	user.WriteString("\n\nCurated sources and platform searches:\n" + links.Format(sel.All))

	resp, err := s.llm.Call(ctx, llm.Request{
		Model:  s.cfg.Model,
		System: competitorSystem,
		User:   user.String(),
		Stage:  string(model.StageCompetitor),
		Options: llm.Options{
			UseSearch:       true,
			Effort:          llm.EffortLow,
			Timeout:         s.cfg.Timeouts.Competitor,
			MaxOutputTokens: s.cfg.MaxOutputTokens,
			Schema:          competitorSchema,
		},
	})
	if err != nil {
		return nil, run.fail(eris.Wrap(err, "agents: competitor call"))
	}

	res := extract.Parse[model.CompetitorAnalysis](resp.Text)
	if !res.OK() {
		return nil, run.fail(eris.Wrap(res.Err(), "agents: parse competitor analysis"))
	}
	analysis := res.Value
	normalizeThreats(analysis.DirectCompetitors)
	normalizeThreats(analysis.IndirectCompetitors)

	citations := resp.Citations
	if len(citations) == 0 {
		citations = sourceCitations(analysis.Sources)
	}
	run.done(groundedStatus(resp), &analysis, citations)
	return &analysis, nil
}

// NormalizeThreat maps anything outside high|medium|low to medium.
func NormalizeThreat(t model.ThreatLevel) model.ThreatLevel {
	switch model.ThreatLevel(strings.ToLower(strings.TrimSpace(string(t)))) {
	case model.ThreatHigh:
		return model.ThreatHigh
	case model.ThreatLow:
		return model.ThreatLow
	default:
		return model.ThreatMedium
	}
}

func normalizeThreats(cs []model.Competitor) {
	for i := range cs {
		cs[i].ThreatLevel = NormalizeThreat(cs[i].ThreatLevel)
	}
}

// searchKeywords picks the phrase used for platform search links.
func searchKeywords(p *model.Profile) string {
	for _, q := range p.SearchQueries {
		if strings.TrimSpace(q.Query) != "" {
			return q.Query
		}
	}
	return truncate(p.Idea, 80)
}
