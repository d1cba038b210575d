package agents

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/extract"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/links"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

const (
	samOfTAM = 0.3
	somOfSAM = 0.1
)

// Research sizes the market. A nil profile falls back to the raw input.
func (s *Stages) Research(ctx context.Context, sessionID string, in Input, profile *model.Profile) (*model.MarketResearch, error) {
	run := s.begin(ctx, sessionID, model.StageResearch)

	idea := ideaOf(profile, in)
	industry := industryOf(profile)
	query := strings.Join(strings.Fields(idea+" "+industry+" market size TAM SAM SOM growth"), " ")
	kb := s.knowledgeBlock(ctx, run.log, query, industry)
	sel := s.links.Select(industry, "")

	var user strings.Builder
	user.WriteString("Startup:\n")
	if profile != nil {
		user.WriteString(toJSON(profile))
	} else {
		user.WriteString(idea)
	}
	user.WriteString("\n\nKnowledge base:\n" + kb)
	user.WriteString("\n\nCurated sources:\n" + links.Format(sel.All))

	resp, err := s.llm.Call(ctx, llm.Request{
		Model:  s.cfg.Model,
		System: researchSystem,
		User:   user.String(),
		Stage:  string(model.StageResearch),
		Options: llm.Options{
			UseSearch:       true,
			UseFetch:        true,
			ReferenceURLs:   websites(profile),
			Effort:          llm.EffortMedium,
			Timeout:         s.cfg.Timeouts.Research,
			MaxOutputTokens: s.cfg.MaxOutputTokens,
			Schema:          marketSchema,
		},
	})
	if err != nil {
		return nil, run.fail(eris.Wrap(err, "agents: research call"))
	}

	res := extract.Parse[model.MarketResearch](resp.Text)
	if !res.OK() {
		return nil, run.fail(eris.Wrap(res.Err(), "agents: parse market research"))
	}
	market := res.Value
	correctMarketSizes(&market, run.log)

	citations := resp.Citations
	if len(citations) == 0 {
		citations = sourceCitations(market.Sources)
	}
	run.done(groundedStatus(resp), &market, citations)
	return &market, nil
}

// correctMarketSizes enforces TAM >= SAM >= SOM.
func correctMarketSizes(m *model.MarketResearch, log *zap.Logger) {
	if m.SAM > m.TAM {
		log.Warn("agents: SAM exceeds TAM, correcting", zap.Float64("tam", m.TAM), zap.Float64("sam", m.SAM))
		m.SAM = m.TAM * samOfTAM
	}
	if m.SOM > m.SAM {
		log.Warn("agents: SOM exceeds SAM, correcting", zap.Float64("sam", m.SAM), zap.Float64("som", m.SOM))
		m.SOM = m.SAM * somOfSAM
	}
}

// websites splits the profile's websites field into URLs.
func websites(p *model.Profile) []string {
	if p == nil {
		return nil
	}
	fields := strings.FieldsFunc(p.Websites, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !strings.HasPrefix(f, "http://") && !strings.HasPrefix(f, "https://") {
			if !strings.Contains(f, ".") {
				continue
			}
			f = "https://" + f
		}
		out = append(out, f)
	}
	return out
}
