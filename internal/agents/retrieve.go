package agents

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/knowledge"
)

const noKnowledge = "(No knowledge base passages matched)"

// knowledgeBlock queries the knowledge base and renders the matched
// passages, capped at MaxKnowledgeChars. Retrieval failures degrade to an
// empty block.
func (s *Stages) knowledgeBlock(ctx context.Context, log *zap.Logger, query, filter string) string {
	if s.knowledge == nil {
		return noKnowledge
	}
	chunks, err := s.knowledge.Search(ctx, knowledge.SearchRequest{
		Query:      query,
		Filter:     strings.ToLower(strings.TrimSpace(filter)),
		MatchCount: s.cfg.KnowledgeMatches,
	})
	if err != nil {
		log.Warn("agents: knowledge search failed", zap.Error(err))
		return noKnowledge
	}
	log.Debug("agents: knowledge search", zap.Int("chunks", len(chunks)))
	if len(chunks) == 0 {
		return noKnowledge
	}
	return formatChunks(chunks, s.cfg.MaxKnowledgeChars)
}

func formatChunks(chunks []knowledge.Chunk, limit int) string {
	var b strings.Builder
	used := 0
	for _, c := range chunks {
		var entry strings.Builder
		entry.WriteString("- ")
		var meta []string
		if c.Source != "" {
			meta = append(meta, c.Source)
		}
		if c.Year != nil {
			meta = append(meta, fmt.Sprint(*c.Year))
		}
		if c.Confidence != "" {
			meta = append(meta, "confidence "+c.Confidence)
		}
		if len(meta) > 0 {
			entry.WriteString("[" + strings.Join(meta, ", ") + "] ")
		}
		entry.WriteString(strings.Join(strings.Fields(c.Content), " "))
		entry.WriteByte('\n')

		n := utf8.RuneCountInString(entry.String())
		if used+n > limit {
			if used == 0 {
				b.WriteString(truncate(entry.String(), limit))
			}
			break
		}
		b.WriteString(entry.String())
		used += n
	}
	return strings.TrimRight(b.String(), "\n")
}
