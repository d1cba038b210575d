package render

import (
	"fmt"
	"slices"
	"strings"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

// headlineKeys name the field that labels a list item object.
var headlineKeys = []string{"name", "title", "phase", "role", "label"}

func (d *document) markdown() []byte {
	var b strings.Builder

	b.WriteString("# Validation Report\n\n")
	fmt.Fprintf(&b, "**Score:** %s  \n", d.scoreLine())
	fmt.Fprintf(&b, "**Verified:** %s\n\n", yesNo(d.report.Verified))
	if s := strings.TrimSpace(d.report.Summary); s != "" {
		fmt.Fprintf(&b, "> %s\n\n", s)
	}

	if len(d.report.KeyFindings) > 0 {
		b.WriteString("## Key Findings\n\n")
		for _, f := range d.report.KeyFindings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	for _, key := range model.RequiredSections {
		fmt.Fprintf(&b, "## %s\n\n", sectionTitle(key))
		if key == "scores_matrix" {
			d.writeMatrix(&b)
			continue
		}
		v, ok := d.details[key]
		if !ok || isEmpty(v) {
			b.WriteString("_Not available._\n\n")
			continue
		}
		writeBlock(&b, v)
		b.WriteString("\n")
	}

	if v := d.verified; v != nil {
		b.WriteString("## Verification\n\n")
		if len(v.MissingSections) > 0 {
			fmt.Fprintf(&b, "**Missing sections:** %s\n\n", strings.Join(v.MissingSections, ", "))
		}
		if len(v.FailedAgents) > 0 {
			fmt.Fprintf(&b, "**Failed agents:** %s\n\n", strings.Join(v.FailedAgents, ", "))
		}
		for _, w := range v.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		if len(v.Warnings) > 0 {
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}

func (d *document) writeMatrix(b *strings.Builder) {
	if d.matrix == nil {
		b.WriteString("_Not available._\n\n")
		return
	}
	b.WriteString("| Dimension | Score | Weight |\n|---|---:|---:|\n")
	for _, dim := range d.matrix.Dimensions {
		fmt.Fprintf(b, "| %s | %s | %s |\n", escapeCell(dim.Name), formatNumber(dim.Score), formatNumber(dim.Weight))
	}
	fmt.Fprintf(b, "\n**Overall weighted:** %d\n\n", d.matrix.OverallWeighted)
}

// writeBlock renders a top-level section value.
func writeBlock(b *strings.Builder, v any) {
	if s, ok := scalar(v); ok {
		b.WriteString(s)
		b.WriteString("\n")
		return
	}
	writeNested(b, v, "")
}

func writeNested(b *strings.Builder, v any, indent string) {
	switch t := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(t) {
			child := t[k]
			if isEmpty(child) {
				continue
			}
			if s, ok := scalar(child); ok {
				fmt.Fprintf(b, "%s- **%s:** %s\n", indent, sectionTitle(k), s)
				continue
			}
			fmt.Fprintf(b, "%s- **%s**\n", indent, sectionTitle(k))
			writeNested(b, child, indent+"  ")
		}
	case []any:
		for _, item := range t {
			if s, ok := scalar(item); ok {
				fmt.Fprintf(b, "%s- %s\n", indent, s)
				continue
			}
			m, ok := item.(map[string]any)
			if !ok {
				fmt.Fprintf(b, "%s-\n", indent)
				writeNested(b, item, indent+"  ")
				continue
			}
			head, rest := headline(m)
			fmt.Fprintf(b, "%s- %s\n", indent, head)
			writeNested(b, rest, indent+"  ")
		}
	default:
		if s, ok := scalar(v); ok {
			fmt.Fprintf(b, "%s- %s\n", indent, s)
		}
	}
}

// headline picks the label of a list item object and returns the
// remaining fields.
func headline(m map[string]any) (string, map[string]any) {
	rest := make(map[string]any, len(m))
	for k, v := range m {
		rest[k] = v
	}
	for _, k := range headlineKeys {
		if s, ok := scalar(m[k]); ok && s != "" {
			delete(rest, k)
			return "**" + s + "**", rest
		}
	}
	return "", rest
}

// scalar formats v if it is a string, number or bool.
func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return formatNumber(t), true
	case int:
		return formatNumber(float64(t)), true
	case bool:
		return yesNo(t), true
	default:
		return "", false
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
