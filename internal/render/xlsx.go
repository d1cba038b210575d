package render

import (
	"bytes"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// Sheet names of the xlsx export.
const (
	SheetSummary  = "Summary"
	SheetScores   = "Scores"
	SheetSections = "Sections"
)

func (d *document) xlsx() ([]byte, error) {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SheetSummary)
	if err != nil {
		return nil, eris.Wrap(err, "render: add summary sheet")
	}
	addRow(summary, "Field", "Value")
	addRow(summary, "Report ID", d.report.ID)
	addRow(summary, "Session ID", d.report.SessionID)
	if d.report.Score != nil {
		row := summary.AddRow()
		row.AddCell().SetString("Score")
		row.AddCell().SetInt(*d.report.Score)
	} else {
		addRow(summary, "Score", "not scored")
	}
	addRow(summary, "Verdict", string(d.report.Verdict))
	addRow(summary, "Verified", yesNo(d.report.Verified))
	addRow(summary, "Summary", d.report.Summary)
	for _, kf := range d.report.KeyFindings {
		addRow(summary, "Key finding", kf)
	}

	scores, err := f.AddSheet(SheetScores)
	if err != nil {
		return nil, eris.Wrap(err, "render: add scores sheet")
	}
	addRow(scores, "Dimension", "Score", "Weight")
	if d.matrix != nil {
		for _, dim := range d.matrix.Dimensions {
			row := scores.AddRow()
			row.AddCell().SetString(dim.Name)
			row.AddCell().SetFloat(dim.Score)
			row.AddCell().SetFloat(dim.Weight)
		}
		row := scores.AddRow()
		row.AddCell().SetString("Overall weighted")
		row.AddCell().SetInt(d.matrix.OverallWeighted)
	}

	sections, err := f.AddSheet(SheetSections)
	if err != nil {
		return nil, eris.Wrap(err, "render: add sections sheet")
	}
	addRow(sections, "Section", "Content")
	for _, key := range model.RequiredSections {
		if key == "scores_matrix" {
			continue
		}
		addRow(sections, sectionTitle(key), plainText(d.details[key]))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "render: write xlsx")
	}
	return buf.Bytes(), nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// plainText flattens a section value into cell text.
func plainText(v any) string {
	if isEmpty(v) {
		return ""
	}
	if s, ok := scalar(v); ok {
		return s
	}
	var b strings.Builder
	writeNested(&b, v, "")
	return strings.ReplaceAll(strings.TrimRight(b.String(), "\n"), "**", "")
}
