package agents

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/extract"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// Extract turns the raw pitch into a Profile.
func (s *Stages) Extract(ctx context.Context, sessionID string, in Input) (*model.Profile, error) {
	run := s.begin(ctx, sessionID, model.StageExtractor)

	system := extractorSystem
	user := "Pitch:\n" + in.Text
	if ic := in.Interview; ic != nil && len(ic.Extracted) > 0 {
		system = extractorRefineSystem
		user = "Interview fields:\n" + formatFields(ic.Extracted) + "\n\n" + user
	}

	resp, err := s.llm.Call(ctx, llm.Request{
		Model:  s.cfg.Model,
		System: system,
		User:   user,
		Stage:  string(model.StageExtractor),
		Options: llm.Options{
			Effort:          llm.EffortLow,
			Timeout:         s.cfg.Timeouts.Extractor,
			MaxOutputTokens: s.cfg.MaxOutputTokens,
			Schema:          profileSchema,
		},
	})
	if err != nil {
		return nil, run.fail(eris.Wrap(err, "agents: extractor call"))
	}

	res := extract.Parse[model.Profile](resp.Text)
	if !res.OK() {
		return nil, run.fail(eris.Wrap(res.Err(), "agents: parse profile"))
	}
	profile := res.Value
	if strings.TrimSpace(profile.Idea) == "" {
		profile.Idea = truncate(strings.TrimSpace(in.Text), 500)
	}

	run.done(model.RunStatusOK, &profile, nil)
	return &profile, nil
}

// formatFields renders interview fields in a stable order.
func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v := strings.TrimSpace(fields[k])
		if v == "" {
			continue
		}
		b.WriteString("- " + k + ": " + v + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
