package agents

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

const (
	minSectionChars  = 10
	minNextSteps     = 3
	minKeyQuestions  = 2
	minMatrixEntries = 3
	minLTVCAC        = 1.0
	maxLTVCAC        = 20.0
)

var amountPrinter = message.NewPrinter(language.English)

// Verify checks the composed report and records the verifier run. It never
// fails.
func (s *Stages) Verify(ctx context.Context, sessionID string, report model.ReportBody, failedAgents []string) *model.Verification {
	run := s.begin(ctx, sessionID, model.StageVerifier)
	v := Check(report, failedAgents)
	run.log.Info("agents: verification",
		zap.Bool("verified", v.Verified),
		zap.Int("missing", len(v.MissingSections)),
		zap.Int("warnings", len(v.Warnings)),
	)
	run.done(model.RunStatusOK, v, nil)
	return v
}

// Check is the pure verification logic behind Verify.
func Check(report model.ReportBody, failedAgents []string) *model.Verification {
	v := &model.Verification{
		MissingSections: []string{},
		FailedAgents:    append([]string{}, failedAgents...),
		Warnings:        []string{},
		SectionMappings: make(map[string]model.Stage, len(model.SectionOwners)),
		SectionHealth:   make(map[string]model.SectionHealth, len(model.RequiredSections)),
	}
	for k, stage := range model.SectionOwners {
		v.SectionMappings[k] = stage
	}

	if report == nil {
		for _, k := range model.RequiredSections {
			v.MissingSections = append(v.MissingSections, k)
			v.SectionHealth[k] = model.SectionHealth{Status: model.HealthMissing, Reasons: []string{"report not composed"}}
		}
		v.Warnings = append(v.Warnings, "Report composition failed")
		return v
	}

	sections := normalize(report)
	weak := map[string][]string{}
	warn := func(section, msg string) {
		v.Warnings = append(v.Warnings, msg)
		weak[section] = append(weak[section], msg)
	}

	for _, k := range model.RequiredSections {
		if reason, missing := missingReason(sections[k]); missing {
			v.MissingSections = append(v.MissingSections, k)
			v.SectionHealth[k] = model.SectionHealth{Status: model.HealthMissing, Reasons: []string{reason}}
		}
	}
	present := func(k string) bool { return v.SectionHealth[k].Status != model.HealthMissing }

	if present("market_sizing") {
		m, _ := sections["market_sizing"].(map[string]any)
		if !hasCitations(m) {
			warn("market_sizing", "market_sizing has no citations")
		}
		tam, okT := number(m["tam"])
		sam, okS := number(m["sam"])
		som, okO := number(m["som"])
		if okT && okS && sam > tam {
			warn("market_sizing", amountPrinter.Sprintf("SAM ($%.0f) exceeds TAM ($%.0f)", sam, tam))
		}
		if okS && okO && som > sam {
			warn("market_sizing", amountPrinter.Sprintf("SOM ($%.0f) exceeds SAM ($%.0f)", som, sam))
		}
	}

	if present("competition") {
		c, _ := sections["competition"].(map[string]any)
		if !hasCitations(c) {
			warn("competition", "competition has no citations")
		}
		if len(list(c["competitors"]))+len(list(c["direct_competitors"]))+len(list(c["indirect_competitors"])) == 0 {
			warn("competition", "competition lists no competitors")
		}
	}

	if present("scores_matrix") {
		sm, _ := sections["scores_matrix"].(map[string]any)
		dims := list(sm["dimensions"])
		if len(dims) < minMatrixEntries {
			warn("scores_matrix", amountPrinter.Sprintf("scores_matrix has %d dimensions, expected at least %d", len(dims), minMatrixEntries))
		}
		for _, d := range dims {
			dm, _ := d.(map[string]any)
			score, ok := number(dm["score"])
			if ok && (score < 0 || score > 100) {
				name, _ := dm["name"].(string)
				warn("scores_matrix", amountPrinter.Sprintf("dimension %q score %v is outside 0-100", name, score))
			}
		}
	}

	if present("next_steps") {
		if n := len(list(sections["next_steps"])); n < minNextSteps {
			warn("next_steps", amountPrinter.Sprintf("next_steps has %d items, expected at least %d", n, minNextSteps))
		}
	}
	if present("key_questions") {
		if n := len(list(sections["key_questions"])); n < minKeyQuestions {
			warn("key_questions", amountPrinter.Sprintf("key_questions has %d items, expected at least %d", n, minKeyQuestions))
		}
	}

	if ratio, section, ok := ltvCAC(sections); ok && (ratio < minLTVCAC || ratio > maxLTVCAC) {
		warn(section, amountPrinter.Sprintf("LTV:CAC ratio %.1f is outside %.0f-%.0f", ratio, minLTVCAC, maxLTVCAC))
	}

	for _, k := range model.RequiredSections {
		if !present(k) {
			continue
		}
		if reasons := weak[k]; len(reasons) > 0 {
			v.SectionHealth[k] = model.SectionHealth{Status: model.HealthWeak, Reasons: reasons}
		} else {
			v.SectionHealth[k] = model.SectionHealth{Status: model.HealthOK, Reasons: []string{}}
		}
	}

	v.Verified = len(v.MissingSections) == 0 && len(v.FailedAgents) == 0
	return v
}

// normalize round-trips the report through JSON so typed sections such as
// the scores matrix read like model output.
func normalize(report model.ReportBody) map[string]any {
	out := map[string]any{}
	raw, err := json.Marshal(report)
	if err != nil {
		return map[string]any(report)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any(report)
	}
	return out
}

func missingReason(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "section absent", true
	case string:
		if utf8.RuneCountInString(strings.TrimSpace(t)) < minSectionChars {
			return "section text too short", true
		}
	case map[string]any:
		if len(t) == 0 {
			return "section empty", true
		}
	case []any:
		if len(t) == 0 {
			return "section empty", true
		}
	}
	return "", false
}

func hasCitations(m map[string]any) bool {
	return len(list(m["citations"])) > 0 || len(list(m["sources"])) > 0
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ltvCAC finds the LTV:CAC ratio and the section it came from.
func ltvCAC(sections map[string]any) (float64, string, bool) {
	if fp, ok := sections["financial_projections"].(map[string]any); ok {
		if r, ok := number(fp["ltv_cac_ratio"]); ok {
			return r, "financial_projections", true
		}
	}
	if rm, ok := sections["revenue_model"].(map[string]any); ok {
		if r, ok := number(rm["ltv_cac_ratio"]); ok {
			return r, "revenue_model", true
		}
		ltv, okL := number(rm["ltv"])
		cac, okC := number(rm["cac"])
		if okL && okC && cac > 0 {
			return ltv / cac, "revenue_model", true
		}
	}
	return 0, "", false
}
