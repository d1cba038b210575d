// Package render exports a stored report as markdown, HTML or xlsx.
package render

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// Format is an export format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatXLSX     Format = "xlsx"
)

// ParseFormat accepts md, markdown, html or xlsx. Empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("render: unknown format %q", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string { return string(f) }

// Render renders r in format f.
func Render(r *model.Report, f Format) ([]byte, error) {
	doc, err := newDocument(r)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatMarkdown:
		return doc.markdown(), nil
	case FormatHTML:
		return doc.html()
	case FormatXLSX:
		return doc.xlsx()
	default:
		return nil, eris.Errorf("render: unknown format %q", f)
	}
}

// document is the format-neutral view of a report.
type document struct {
	report   *model.Report
	details  map[string]any
	verified *model.Verification
	matrix   *model.ScoresMatrix
}

func newDocument(r *model.Report) (*document, error) {
	if r == nil {
		return nil, eris.New("render: nil report")
	}
	d := &document{report: r, details: map[string]any{}}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &d.details); err != nil {
			return nil, eris.Wrap(err, "render: decode details")
		}
	}
	if len(r.Verification) > 0 {
		var v model.Verification
		if err := json.Unmarshal(r.Verification, &v); err != nil {
			return nil, eris.Wrap(err, "render: decode verification")
		}
		d.verified = &v
	}
	if raw, ok := d.details["scores_matrix"]; ok {
		if b, err := json.Marshal(raw); err == nil {
			var m model.ScoresMatrix
			if json.Unmarshal(b, &m) == nil && len(m.Dimensions) > 0 {
				d.matrix = &m
			}
		}
	}
	return d, nil
}

var (
	printer = message.NewPrinter(language.English)
	titler  = cases.Title(language.English)
)

// sectionTitle turns a section key into a heading.
func sectionTitle(key string) string {
	return titler.String(strings.ReplaceAll(key, "_", " "))
}

// formatNumber groups thousands and drops a zero fraction.
func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return printer.Sprintf("%d", int64(v))
	}
	return printer.Sprintf("%.2f", v)
}

// scoreLine is the headline score, or a placeholder when scoring failed.
func (d *document) scoreLine() string {
	if d.report.Score == nil {
		return "not scored"
	}
	s := printer.Sprintf("%d/100", *d.report.Score)
	if d.report.Verdict != "" {
		s += " (" + string(d.report.Verdict) + ")"
	}
	return s
}
