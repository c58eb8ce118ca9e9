// Package formatter renders scored documents into the text block handed
// to the language model. Output is deterministic: the same documents and
// config always produce the same string.
package formatter

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gugacoder/insight-kb-sub001/internal/budget"
	"github.com/gugacoder/insight-kb-sub001/internal/scoring"
)

// Style selects the rendering template.
type Style string

const (
	// StyleStandard shows index, relevance percentage, source label, text.
	StyleStandard Style = "standard"
	// StyleDetailed adds the per-heuristic boost breakdown.
	StyleDetailed Style = "detailed"
	// StyleCompact shows the bare text with a minimal label.
	StyleCompact Style = "compact"
)

const (
	contextHeader = "Relevant context from the knowledge base:"
	contextFooter = "Use the context above when it is relevant to the question."
)

// Output is the rendered context plus aggregate metadata.
type Output struct {
	// Context is the full rendered block: header, documents, footer.
	Context string
	// Blocks are the per-document renderings, for budget selection.
	Blocks []budget.Block
	// TokenCount is a rough estimate for Context.
	TokenCount int
	// Sources are the unique source names in first-appearance order.
	Sources []string
	// Relevance is the mean enhanced score across documents.
	Relevance float64
}

// Config holds the formatter knobs.
type Config struct {
	// Style selects the template; empty means standard.
	Style Style
	// Ratio is chars per token for the estimate; 0 means the default.
	Ratio float64
}

// Formatter renders documents. Stateless and safe for concurrent use.
type Formatter struct {
	style Style
	ratio float64
}

// New constructs a Formatter.
func New(cfg Config) *Formatter {
	if cfg.Style == "" {
		cfg.Style = StyleStandard
	}
	if cfg.Ratio <= 0 {
		cfg.Ratio = budget.Ratio("")
	}
	return &Formatter{style: cfg.Style, ratio: cfg.Ratio}
}

// Format renders the documents sorted by descending enhanced score. An
// empty input yields a zero Output.
func (f *Formatter) Format(docs []scoring.Scored) Output {
	if len(docs) == 0 {
		return Output{}
	}

	sorted := slices.Clone(docs)
	slices.SortStableFunc(sorted, func(a, b scoring.Scored) int {
		switch {
		case a.EnhancedScore > b.EnhancedScore:
			return -1
		case a.EnhancedScore < b.EnhancedScore:
			return 1
		default:
			return 0
		}
	})

	blocks := make([]budget.Block, 0, len(sorted))
	rendered := make([]string, 0, len(sorted))
	var sources []string
	seen := make(map[string]bool)
	var sum float64

	for i, d := range sorted {
		block := f.render(i+1, d)
		blocks = append(blocks, budget.Block{Text: block, Score: d.EnhancedScore})
		rendered = append(rendered, block)
		sum += d.EnhancedScore
		if src := d.Metadata.Source; src != "" && !seen[src] {
			seen[src] = true
			sources = append(sources, src)
		}
	}

	ctx := contextHeader + "\n\n" + strings.Join(rendered, "\n\n") + "\n\n" + contextFooter
	return Output{
		Context:    ctx,
		Blocks:     blocks,
		TokenCount: budget.Estimate(ctx, f.ratio),
		Sources:    sources,
		Relevance:  sum / float64(len(sorted)),
	}
}

// render produces one document's block in the configured style.
func (f *Formatter) render(index int, d scoring.Scored) string {
	text := Sanitize(d.Text)
	label := SourceLabel(d)

	switch f.style {
	case StyleDetailed:
		return fmt.Sprintf("[%d] %s (%.0f%% relevant)\nboosts: recency %.3f, match %.3f, quality %.3f, completeness %.3f\n%s",
			index, label, d.EnhancedScore*100,
			d.Boosts.Recency, d.Boosts.ExactMatch, d.Boosts.SourceQuality, d.Boosts.Completeness,
			text)
	case StyleCompact:
		return fmt.Sprintf("[%d] %s", index, text)
	default:
		return fmt.Sprintf("[%d] %s (%.0f%% relevant)\n%s", index, label, d.EnhancedScore*100, text)
	}
}

// SourceLabel composes `source | p.N | §section | date`, skipping absent
// parts.
func SourceLabel(d scoring.Scored) string {
	parts := []string{d.Metadata.Source}
	if d.Metadata.Source == "" {
		parts[0] = "unknown source"
	}
	if d.Metadata.Page > 0 {
		parts = append(parts, fmt.Sprintf("p.%d", d.Metadata.Page))
	}
	if d.Metadata.Section != "" {
		parts = append(parts, "§"+d.Metadata.Section)
	}
	if !d.Metadata.Timestamp.IsZero() {
		parts = append(parts, d.Metadata.Timestamp.Format("2006-01-02"))
	}
	return strings.Join(parts, " | ")
}

var (
	crlfRe     = regexp.MustCompile(`\r\n?`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
	spacesRe   = regexp.MustCompile(` {2,}`)
)

// Sanitize normalizes whitespace in retrieved text: CRLF to LF, runs of
// three or more newlines to two, tabs to single spaces, space runs to one.
// Idempotent.
func Sanitize(s string) string {
	s = crlfRe.ReplaceAllString(s, "\n")
	s = strings.ReplaceAll(s, "\t", " ")
	s = newlinesRe.ReplaceAllString(s, "\n\n")
	s = spacesRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
