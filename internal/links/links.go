// Package links holds the curated catalog of research sources that the
// Research and Competitor stages put in front of the model.
package links

import (
	_ "embed"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

const (
	// MaxIndustry is the number of industry-specific links kept.
	MaxIndustry = 5
	// MaxCombined caps the merged list.
	MaxCombined = 14

	maxKeywordLen = 100
)

//go:embed links.yaml
var catalogYAML []byte

// Link is one curated source.
type Link struct {
	Source string `yaml:"source"`
	URL    string `yaml:"url"`
	Score  int    `yaml:"score"`
	Type   string `yaml:"type"`
}

type alias struct {
	Alias    string `yaml:"alias"`
	Industry string `yaml:"industry"`
}

type searchTemplate struct {
	Name     string `yaml:"name"`
	Template string `yaml:"template"`
	Score    int    `yaml:"score"`
}

// Catalog is the parsed source catalog.
type Catalog struct {
	Aliases        []alias           `yaml:"aliases"`
	Industries     map[string][]Link `yaml:"industries"`
	CrossIndustry  []Link            `yaml:"cross_industry"`
	Platforms      []Link            `yaml:"platforms"`
	PlatformSearch []searchTemplate  `yaml:"platform_search"`
}

// Parse decodes a catalog and checks that every alias points at a known
// industry.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "links: parse catalog")
	}
	for _, a := range c.Aliases {
		if _, ok := c.Industries[a.Industry]; !ok {
			return nil, eris.Errorf("links: alias %q points at unknown industry %q", a.Alias, a.Industry)
		}
	}
	return &c, nil
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	c, err := Parse(catalogYAML)
	if err != nil {
		panic(err)
	}
	return c
})

// Default returns the embedded catalog.
func Default() *Catalog { return defaultCatalog() }

// Resolve maps a free-text industry to a canonical key, or "" when nothing
// matches. Exact keys and aliases win; otherwise the longest alias contained
// in the text is used.
func (c *Catalog) Resolve(industry string) string {
	n := strings.ToLower(strings.TrimSpace(industry))
	if n == "" {
		return ""
	}
	if _, ok := c.Industries[n]; ok {
		return n
	}
	for _, a := range c.Aliases {
		if a.Alias == n {
			return a.Industry
		}
	}

	best := ""
	bestLen := 0
	for _, a := range c.Aliases {
		if len(a.Alias) > bestLen && containsWord(n, a.Alias) {
			best, bestLen = a.Industry, len(a.Alias)
		}
	}
	return best
}

// containsWord reports whether alias appears in s on word boundaries, so
// "ai" matches "b2b ai tools" but not "retail".
func containsWord(s, alias string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], alias)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(alias)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// PlatformSearchLinks builds startup-directory search URLs for keywords.
// Blank keywords give the directory home pages.
func (c *Catalog) PlatformSearchLinks(keywords string) []Link {
	kw := strings.TrimSpace(keywords)
	if kw == "" {
		return slices.Clone(c.Platforms)
	}
	if r := []rune(kw); len(r) > maxKeywordLen {
		kw = string(r[:maxKeywordLen])
	}
	enc := url.QueryEscape(kw)

	out := make([]Link, 0, len(c.PlatformSearch))
	for _, t := range c.PlatformSearch {
		out = append(out, Link{
			Source: t.Name + " search: " + strconv.Quote(kw),
			URL:    strings.ReplaceAll(t.Template, "{keywords}", enc),
			Score:  t.Score,
			Type:   "platform",
		})
	}
	return out
}

// Selection is the set of links chosen for one profile.
type Selection struct {
	Matched       string
	Industry      []Link
	CrossIndustry []Link
	Platforms     []Link
	All           []Link
}

// Select picks links for an industry. Non-empty keywords switch the
// platform links to keyword searches.
func (c *Catalog) Select(industry, keywords string) Selection {
	sel := Selection{Matched: c.Resolve(industry), CrossIndustry: c.CrossIndustry}
	if sel.Matched != "" {
		ind := c.Industries[sel.Matched]
		sel.Industry = ind[:min(len(ind), MaxIndustry)]
	}
	sel.Platforms = c.PlatformSearchLinks(keywords)

	merged := make([]Link, 0, len(sel.Industry)+len(sel.CrossIndustry)+len(sel.Platforms))
	merged = append(merged, sel.Industry...)
	merged = append(merged, sel.CrossIndustry...)
	merged = append(merged, sel.Platforms...)
	sel.All = Normalize(merged, MaxCombined)
	return sel
}

// Normalize drops duplicate URLs (first wins), sorts by score descending
// and keeps at most limit links.
func Normalize(links []Link, limit int) []Link {
	seen := make(map[string]bool, len(links))
	out := make([]Link, 0, len(links))
	for _, l := range links {
		if seen[l.URL] {
			continue
		}
		seen[l.URL] = true
		out = append(out, l)
	}
	slices.SortStableFunc(out, func(a, b Link) int { return b.Score - a.Score })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Format renders links as a prompt block.
func Format(links []Link) string {
	if len(links) == 0 {
		return "(No curated sources for this industry)"
	}
	var b strings.Builder
	for i, l := range links {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		if l.Type != "" {
			b.WriteString("[" + l.Type + "] ")
		}
		b.WriteString(l.Source)
		b.WriteString(" (score: " + strconv.Itoa(l.Score) + ") - ")
		b.WriteString(l.URL)
	}
	return b.String()
}
