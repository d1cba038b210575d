package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

func testReport(t *testing.T) *model.Report {
	t.Helper()
	details := map[string]any{
		"summary_verdict": "Promising but unproven.",
		"problem_clarity": "Labs overpay for <b>new</b> equipment.",
		"market_sizing":   map[string]any{"tam": 5e9, "sam": 1.25e9, "methodology": "bottom-up"},
		"competition": map[string]any{
			"competitors": []any{
				map[string]any{"name": "LabX", "threat_level": "high"},
			},
		},
		"next_steps": []any{"interview 10 labs", "run escrow pilot"},
		"scores_matrix": map[string]any{
			"dimensions": []any{
				map[string]any{"name": "Problem Clarity", "score": 80.0, "weight": 15.0},
				map[string]any{"name": "Market Size", "score": 62.5, "weight": 15.0},
			},
			"overall_weighted": 66.0,
		},
	}
	raw, err := json.Marshal(details)
	require.NoError(t, err)
	v, err := json.Marshal(model.Verification{
		MissingSections: []string{"team_hiring"},
		Warnings:        []string{"competition has no citations"},
	})
	require.NoError(t, err)

	score := 66
	return &model.Report{
		ID:           "r1",
		SessionID:    "s1",
		Score:        &score,
		Verdict:      model.VerdictCaution,
		Summary:      "Promising but unproven.",
		Details:      raw,
		KeyFindings:  []string{"clear pain", "trust risk"},
		Verification: v,
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatMarkdown, "MD": FormatMarkdown, "markdown": FormatMarkdown, "html": FormatHTML, " xlsx ": FormatXLSX} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
	assert.Equal(t, "html", FormatHTML.Extension())
}

func TestRender_Markdown(t *testing.T) {
	out, err := Render(testReport(t), FormatMarkdown)
	require.NoError(t, err)
	md := string(out)

	assert.Contains(t, md, "# Validation Report")
	assert.Contains(t, md, "**Score:** 66/100 (caution)")
	assert.Contains(t, md, "> Promising but unproven.")
	assert.Contains(t, md, "## Key Findings\n\n- clear pain\n- trust risk")
	assert.Contains(t, md, "## Market Sizing")
	assert.Contains(t, md, "- **Tam:** 5,000,000,000")
	assert.Contains(t, md, "- **Sam:** 1,250,000,000")
	assert.Contains(t, md, "- **LabX**")
	assert.Contains(t, md, "  - **Threat Level:** high")
	assert.Contains(t, md, "- interview 10 labs")
	assert.Contains(t, md, "| Market Size | 62.50 | 15 |")
	assert.Contains(t, md, "**Overall weighted:** 66")
	assert.Contains(t, md, "## Team Hiring\n\n_Not available._")
	assert.Contains(t, md, "**Missing sections:** team_hiring")
	assert.Contains(t, md, "- competition has no citations")
}

func TestRender_MarkdownUnscored(t *testing.T) {
	r := testReport(t)
	r.Score = nil
	r.Verdict = ""
	r.Details = json.RawMessage(`{}`)

	out, err := Render(r, FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, string(out), "**Score:** not scored")
	assert.Contains(t, string(out), "## Scores Matrix\n\n_Not available._")
}

func TestRender_HTML(t *testing.T) {
	out, err := Render(testReport(t), FormatHTML)
	require.NoError(t, err)
	h := string(out)

	assert.Contains(t, h, "<!DOCTYPE html>")
	assert.Contains(t, h, "<title>Validation Report 66/100 (caution)</title>")
	assert.Contains(t, h, "<h1>Validation Report</h1>")
	assert.Contains(t, h, "<table>")
	assert.Contains(t, h, "<td>Problem Clarity</td>")
	assert.NotContains(t, h, "<b>new</b>")
}

func TestRender_XLSX(t *testing.T) {
	out, err := Render(testReport(t), FormatXLSX)
	require.NoError(t, err)

	f, err := xlsx.OpenBinary(out)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)

	summary := f.Sheet[SheetSummary]
	require.NotNil(t, summary)
	assert.Equal(t, "Score", summary.Rows[3].Cells[0].String())
	assert.Equal(t, "66", summary.Rows[3].Cells[1].String())

	scores := f.Sheet[SheetScores]
	require.NotNil(t, scores)
	require.Len(t, scores.Rows, 4)
	assert.Equal(t, "Problem Clarity", scores.Rows[1].Cells[0].String())

	sections := f.Sheet[SheetSections]
	require.NotNil(t, sections)
	assert.Len(t, sections.Rows, len(model.RequiredSections))
	assert.Equal(t, "Summary Verdict", sections.Rows[1].Cells[0].String())
	assert.Equal(t, "Promising but unproven.", sections.Rows[1].Cells[1].String())
}

func TestRender_NilReport(t *testing.T) {
	_, err := Render(nil, FormatMarkdown)
	assert.Error(t, err)
}
