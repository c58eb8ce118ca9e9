// Package budget bounds the enrichment context to a token budget. Because
// the downstream model and its tokenizer are not known here, estimation
// uses a character-based heuristic with a per-language ratio; compression
// picks whole rendered blocks greedily by score and truncates at text
// boundaries only when a partial block still earns its place.
package budget

import (
	"math"
	"slices"
	"strings"
)

const (
	// defaultCharsPerToken fits English prose and code.
	defaultCharsPerToken = 4.0
	// denseCharsPerToken fits morphology-dense languages, whose longer
	// words pack slightly more characters into each token.
	denseCharsPerToken = 4.3

	// blockOverheadTokens is the fixed per-block allowance for template
	// chrome (separator, label, score line) around the raw text.
	blockOverheadTokens = 10

	// minPartialTokens is the smallest remaining headroom worth filling
	// with a truncated block.
	minPartialTokens = 100
	// minPartialChars is the smallest truncated block worth keeping.
	minPartialChars = 50
)

// denseLanguages use the denser character-to-token ratio.
var denseLanguages = map[string]bool{
	"pt": true, "de": true, "fi": true, "hu": true, "tr": true,
}

// Ratio returns the chars-per-token ratio for an ISO 639-1 language code.
func Ratio(language string) float64 {
	if denseLanguages[strings.ToLower(language)] {
		return denseCharsPerToken
	}
	return defaultCharsPerToken
}

// Estimate returns ceil(len(s)/ratio) as a rough token count.
func Estimate(s string, ratio float64) int {
	if s == "" {
		return 0
	}
	return int(math.Ceil(float64(len(s)) / ratio))
}

// Strategy names the compression path taken for one optimization.
type Strategy string

const (
	// StrategyPassthrough means the input already fit the budget.
	StrategyPassthrough Strategy = "passthrough"
	// StrategySelection means whole rendered blocks were picked by score.
	StrategySelection Strategy = "document_selection"
	// StrategySectionSplit means raw text was split at section boundaries.
	StrategySectionSplit Strategy = "section_split"
	// StrategyHardTruncate is the character-cut fallback.
	StrategyHardTruncate Strategy = "hard_truncation"
)

// OverflowPolicy decides what happens when a single irreducible block
// still exceeds the whole budget.
type OverflowPolicy string

const (
	// OverflowTruncate hard-cuts the oversized block to fit.
	OverflowTruncate OverflowPolicy = "truncate"
	// OverflowDrop discards the oversized block entirely.
	OverflowDrop OverflowPolicy = "drop"
)

// Block is one rendered document block with the score that orders it.
type Block struct {
	Text  string
	Score float64
}

// Result is the outcome of one optimization.
type Result struct {
	// Context is the budget-bounded text.
	Context string
	// TokenCount is the estimate for Context.
	TokenCount int
	// Truncated reports whether any content was cut or dropped.
	Truncated bool
	// Strategy names the path taken.
	Strategy Strategy
	// BlocksIncluded counts whole or partial blocks kept (selection only).
	BlocksIncluded int
}

// Config holds the optimizer knobs.
type Config struct {
	// MaxTokens is the overall context budget.
	MaxTokens int
	// BufferTokens is reserved headroom below MaxTokens.
	BufferTokens int
	// Ratio is chars per token; 0 means the default English ratio.
	Ratio float64
	// Policy handles blocks that alone exceed the budget.
	Policy OverflowPolicy
}

// Optimizer compresses formatted context into the token budget. Stateless
// and safe for concurrent use.
type Optimizer struct {
	target int
	ratio  float64
	policy OverflowPolicy
}

// New constructs an Optimizer. The usable budget is
// MaxTokens − BufferTokens, floored at 1.
func New(cfg Config) *Optimizer {
	if cfg.Ratio <= 0 {
		cfg.Ratio = defaultCharsPerToken
	}
	if cfg.Policy == "" {
		cfg.Policy = OverflowTruncate
	}
	target := cfg.MaxTokens - cfg.BufferTokens
	if target < 1 {
		target = 1
	}
	return &Optimizer{target: target, ratio: cfg.Ratio, policy: cfg.Policy}
}

// Target returns the usable token budget.
func (o *Optimizer) Target() int { return o.target }

// Optimize bounds formatted to the budget. When per-document blocks are
// available they are selected greedily by score; otherwise the raw text is
// split at section boundaries. Hard character truncation is the fallback
// when neither path yields usable content.
func (o *Optimizer) Optimize(formatted string, blocks []Block) Result {
	if est := Estimate(formatted, o.ratio); est <= o.target {
		return Result{
			Context:        formatted,
			TokenCount:     est,
			Strategy:       StrategyPassthrough,
			BlocksIncluded: len(blocks),
		}
	}

	if len(blocks) > 0 {
		if res, ok := o.selectBlocks(blocks); ok {
			return res
		}
	} else if res, ok := o.selectBlocks(splitSections(formatted)); ok {
		res.Strategy = StrategySectionSplit
		return res
	}

	return o.hardTruncate(formatted)
}

// selectBlocks accumulates whole blocks by descending score, closing with
// a boundary-truncated partial block when enough headroom remains. It
// reports false when nothing usable fits.
func (o *Optimizer) selectBlocks(blocks []Block) (Result, bool) {
	sorted := slices.Clone(blocks)
	slices.SortStableFunc(sorted, func(a, b Block) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	var parts []string
	used := 0
	truncated := false

	for _, b := range sorted {
		cost := Estimate(b.Text, o.ratio) + blockOverheadTokens
		if used+cost <= o.target {
			parts = append(parts, b.Text)
			used += cost
			continue
		}

		// The block does not fit whole. Fill the remainder with a
		// boundary-truncated cut when the headroom justifies it.
		headroom := o.target - used - blockOverheadTokens
		if headroom >= minPartialTokens {
			maxChars := int(float64(headroom) * o.ratio)
			if cut, ok := truncateAtBoundary(b.Text, maxChars); ok {
				parts = append(parts, cut)
				used += Estimate(cut, o.ratio) + blockOverheadTokens
			}
		}
		truncated = true
		break
	}

	if len(parts) == 0 {
		// Even the best block alone exceeds the budget.
		if o.policy == OverflowDrop {
			return Result{
				Context:    "",
				TokenCount: 0,
				Truncated:  true,
				Strategy:   StrategySelection,
			}, true
		}
		return Result{}, false
	}

	ctx := strings.Join(parts, "\n\n")
	return Result{
		Context:        ctx,
		TokenCount:     Estimate(ctx, o.ratio),
		Truncated:      truncated || len(parts) < len(sorted),
		Strategy:       StrategySelection,
		BlocksIncluded: len(parts),
	}, true
}

// hardTruncate is the last-resort character cut with an ellipsis marker.
func (o *Optimizer) hardTruncate(s string) Result {
	maxChars := int(float64(o.target) * o.ratio)
	if maxChars >= len(s) {
		return Result{
			Context:    s,
			TokenCount: Estimate(s, o.ratio),
			Strategy:   StrategyHardTruncate,
		}
	}
	cut := s[:maxChars]
	if i := strings.LastIndexByte(cut, ' '); i > maxChars/2 {
		cut = cut[:i]
	}
	ctx := cut + "..."
	return Result{
		Context:    ctx,
		TokenCount: Estimate(ctx, o.ratio),
		Truncated:  true,
		Strategy:   StrategyHardTruncate,
	}
}

// splitSections turns raw text into pseudo-blocks at header and paragraph
// boundaries. Order stands in for score so earlier sections win ties.
func splitSections(s string) []Block {
	paras := strings.Split(s, "\n\n")
	blocks := make([]Block, 0, len(paras))
	for i, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		blocks = append(blocks, Block{Text: p, Score: float64(len(paras) - i)})
	}
	return blocks
}

// truncateAtBoundary cuts s to at most maxChars, preferring a sentence or
// line break and falling back to a word break. It reports false when the
// surviving text is too short to be worth keeping.
func truncateAtBoundary(s string, maxChars int) (string, bool) {
	if maxChars >= len(s) {
		return s, len(s) >= minPartialChars
	}
	if maxChars < minPartialChars {
		return "", false
	}
	window := s[:maxChars]

	best := -1
	for _, sep := range []string{"\n", ". ", "! ", "? "} {
		if i := strings.LastIndex(window, sep); i > best {
			best = i + len(sep)
		}
	}
	if best < minPartialChars {
		// No usable sentence boundary; break at the last word.
		if i := strings.LastIndexByte(window, ' '); i >= minPartialChars {
			best = i
		} else {
			best = maxChars
		}
	}

	cut := strings.TrimSpace(s[:best])
	if len(cut) < minPartialChars {
		return "", false
	}
	return cut, true
}
