package pipeline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// buildReport merges the scoring output into the composed body and wraps
// it as a persisted report. A nil body yields no report.
func buildReport(sessionID, entityID string, body model.ReportBody, scoring *model.ScoringResult, v *model.Verification, now time.Time) (*model.Report, error) {
	if body == nil {
		return nil, nil
	}

	details := make(model.ReportBody, len(body)+6)
	for k, val := range body {
		details[k] = val
	}

	report := &model.Report{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		EntityID:    entityID,
		Summary:     body.Summary(),
		KeyFindings: []string{},
		CreatedAt:   now,
	}

	if scoring != nil {
		score := scoring.OverallScore
		report.Score = &score
		report.Verdict = scoring.Verdict

		details["overall_score"] = scoring.OverallScore
		details["verdict"] = scoring.Verdict
		details["highlights"] = nonNil(scoring.Highlights)
		details["red_flags"] = nonNil(scoring.RedFlags)
		details["market_factors"] = scoring.MarketFactors
		details["execution_factors"] = scoring.ExecutionFactors
		details["scores_matrix"] = scoring.ScoresMatrix

		report.KeyFindings = append(report.KeyFindings, scoring.Highlights...)
		report.KeyFindings = append(report.KeyFindings, scoring.RedFlags...)
	}

	raw, err := json.Marshal(details)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal report details")
	}
	report.Details = raw

	if v != nil {
		report.Verified = v.Verified
		vraw, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: marshal verification")
		}
		report.Verification = vraw
	}
	return report, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
