// Package scoring re-ranks retrieved documents with domain heuristics the
// provider's similarity score cannot capture: recency, literal query
// overlap, source quality, and passage completeness. It then filters by a
// relevance threshold and enforces per-source diversity.
package scoring

import (
	"slices"
	"strings"
	"time"

	"github.com/gugacoder/insight-kb-sub001/internal/retrieval"
)

// Boost magnitudes. Each heuristic contributes at most its full boost; the
// combined enhanced score is clamped to 1.
const (
	recencyBoost       = 0.05
	exactMatchBoost    = 0.10
	sourceQualityBoost = 0.05
	completenessBoost  = 0.05
)

// partialMatchWeight discounts word-overlap matches relative to a literal
// substring hit.
const partialMatchWeight = 0.7

// qualityKeywords mark curated source material when present in the source
// name.
var qualityKeywords = []string{"documentation", "official", "manual", "specification", "guide"}

// structuredExtensions earn half the source-quality boost: the format
// suggests authored content, not scraped text.
var structuredExtensions = []string{".md", ".rst", ".adoc", ".pdf", ".docx"}

// Boosts records the individual contributions for observability.
type Boosts struct {
	Recency       float64 `json:"recency"`
	ExactMatch    float64 `json:"exactMatch"`
	SourceQuality float64 `json:"sourceQuality"`
	Completeness  float64 `json:"completeness"`
}

// Scored is a document annotated with its enhanced score. The embedded
// document, including its original Score, is not modified.
type Scored struct {
	retrieval.Document

	// EnhancedScore is the provider score plus boosts, clamped to [0,1].
	EnhancedScore float64 `json:"enhancedScore"`
	// Boosts are the individual heuristic contributions.
	Boosts Boosts `json:"scoreBoosts"`
	// Improvement is EnhancedScore minus the original score.
	Improvement float64 `json:"scoreImprovement"`
}

// Config holds the scorer knobs.
type Config struct {
	// MinRelevance drops documents whose enhanced score falls below it.
	MinRelevance float64
	// MaxPerSource caps documents per distinct source before backfill.
	MaxPerSource int
	// NumResults is the hard upper bound on returned documents.
	NumResults int
	// Now overrides the clock for recency computation (nil = time.Now).
	Now func() time.Time
}

// Scorer applies the re-ranking pipeline. Stateless and safe for
// concurrent use.
type Scorer struct {
	cfg Config
	now func() time.Time
}

// New constructs a Scorer, filling config zero values with the defaults.
func New(cfg Config) *Scorer {
	if cfg.MinRelevance == 0 {
		cfg.MinRelevance = 0.7
	}
	if cfg.MaxPerSource <= 0 {
		cfg.MaxPerSource = 2
	}
	if cfg.NumResults <= 0 {
		cfg.NumResults = 10
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scorer{cfg: cfg, now: now}
}

// ScoreAndFilter computes enhanced scores, drops documents below the
// relevance threshold, sorts descending, and applies the diversity filter.
// The result never exceeds NumResults.
func (s *Scorer) ScoreAndFilter(docs []retrieval.Document, query string) []Scored {
	scored := make([]Scored, 0, len(docs))
	for _, d := range docs {
		sc := s.score(d, query)
		if sc.EnhancedScore >= s.cfg.MinRelevance {
			scored = append(scored, sc)
		}
	}

	slices.SortStableFunc(scored, func(a, b Scored) int {
		switch {
		case a.EnhancedScore > b.EnhancedScore:
			return -1
		case a.EnhancedScore < b.EnhancedScore:
			return 1
		default:
			return 0
		}
	})

	return s.diversify(scored)
}

// score computes one document's boosts and enhanced score.
func (s *Scorer) score(d retrieval.Document, query string) Scored {
	b := Boosts{
		Recency:       s.recency(d.Metadata.Timestamp),
		ExactMatch:    exactMatch(d.Text, query),
		SourceQuality: sourceQuality(d.Metadata.Source),
		Completeness:  completeness(d.Text),
	}
	enhanced := d.Score + b.Recency + b.ExactMatch + b.SourceQuality + b.Completeness
	if enhanced > 1 {
		enhanced = 1
	}
	if enhanced < 0 {
		enhanced = 0
	}
	return Scored{
		Document:      d,
		EnhancedScore: enhanced,
		Boosts:        b,
		Improvement:   enhanced - d.Score,
	}
}

// recency rewards freshly updated sources. A zero timestamp means the
// corpus carries no date for this passage and earns nothing.
func (s *Scorer) recency(ts time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	age := s.now().Sub(ts)
	switch {
	case age <= 30*24*time.Hour:
		return recencyBoost
	case age <= 90*24*time.Hour:
		return recencyBoost / 2
	case age <= 180*24*time.Hour:
		return recencyBoost / 5
	default:
		return 0
	}
}

// exactMatch gives the full boost for a literal (case-insensitive)
// substring hit, else scales by the fraction of significant query words
// present in the text at partial weight.
func exactMatch(text, query string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, q) {
		return exactMatchBoost
	}

	var total, found int
	for _, w := range strings.Fields(q) {
		if len(w) <= 2 {
			continue
		}
		total++
		if strings.Contains(lower, w) {
			found++
		}
	}
	if total == 0 {
		return 0
	}
	return exactMatchBoost * partialMatchWeight * float64(found) / float64(total)
}

// sourceQuality rewards curated sources by name, or structured document
// formats at half weight.
func sourceQuality(source string) float64 {
	lower := strings.ToLower(source)
	for _, kw := range qualityKeywords {
		if strings.Contains(lower, kw) {
			return sourceQualityBoost
		}
	}
	for _, ext := range structuredExtensions {
		if strings.HasSuffix(lower, ext) {
			return sourceQualityBoost / 2
		}
	}
	return 0
}

// completeness rewards passages long enough to stand alone but short
// enough to be one coherent unit. Very long passages get nothing: length
// alone is not quality.
func completeness(text string) float64 {
	n := len(text)
	switch {
	case n >= 200 && n <= 2000:
		return completenessBoost
	case n >= 100 && n < 200:
		return completenessBoost / 2
	default:
		return 0
	}
}

// diversify caps documents per source, then backfills from the capped-out
// remainder in score order when the cap leaves fewer than NumResults.
func (s *Scorer) diversify(sorted []Scored) []Scored {
	limit := s.cfg.NumResults
	selected := make([]Scored, 0, min(limit, len(sorted)))
	var overflow []Scored
	perSource := make(map[string]int)

	for _, d := range sorted {
		if perSource[d.Metadata.Source] < s.cfg.MaxPerSource {
			perSource[d.Metadata.Source]++
			selected = append(selected, d)
		} else {
			overflow = append(overflow, d)
		}
	}

	for _, d := range overflow {
		if len(selected) >= limit {
			break
		}
		selected = append(selected, d)
	}
	if len(selected) > limit {
		selected = selected[:limit]
	}
	return selected
}
