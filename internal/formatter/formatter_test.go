package formatter

import (
	"strings"
	"testing"
	"time"

	"github.com/gugacoder/insight-kb-sub001/internal/retrieval"
	"github.com/gugacoder/insight-kb-sub001/internal/scoring"
)

func scored(id, source, text string, enhanced float64) scoring.Scored {
	return scoring.Scored{
		Document: retrieval.Document{
			ID:       id,
			Text:     text,
			Score:    enhanced,
			Metadata: retrieval.Metadata{Source: source},
		},
		EnhancedScore: enhanced,
	}
}

func TestFormat_StandardLayout(t *testing.T) {
	t.Parallel()
	f := New(Config{})

	out := f.Format([]scoring.Scored{
		scored("b", "second.md", "lower passage", 0.75),
		scored("a", "first.md", "top passage", 0.92),
	})

	if !strings.HasPrefix(out.Context, contextHeader) {
		t.Error("context must open with the header")
	}
	if !strings.HasSuffix(out.Context, contextFooter) {
		t.Error("context must close with the footer")
	}
	// Sorted by enhanced score: the top document renders first.
	top := strings.Index(out.Context, "[1] first.md (92% relevant)\ntop passage")
	low := strings.Index(out.Context, "[2] second.md (75% relevant)\nlower passage")
	if top < 0 || low < 0 || top > low {
		t.Fatalf("document ordering wrong:\n%s", out.Context)
	}
	if len(out.Blocks) != 2 || out.Blocks[0].Score != 0.92 {
		t.Errorf("blocks = %+v", out.Blocks)
	}
	if want := []string{"first.md", "second.md"}; len(out.Sources) != 2 || out.Sources[0] != want[0] || out.Sources[1] != want[1] {
		t.Errorf("sources = %v, want %v", out.Sources, want)
	}
	if out.Relevance < 0.83 || out.Relevance > 0.84 {
		t.Errorf("relevance = %v, want mean ≈ 0.835", out.Relevance)
	}
	if out.TokenCount <= 0 {
		t.Error("token count must be estimated")
	}
}

func TestFormat_Deterministic(t *testing.T) {
	t.Parallel()
	f := New(Config{Style: StyleDetailed})

	docs := []scoring.Scored{
		scored("a", "x.md", "alpha", 0.9),
		scored("b", "y.md", "beta", 0.8),
	}
	if f.Format(docs).Context != f.Format(docs).Context {
		t.Error("same input must produce the same output")
	}
}

func TestFormat_Empty(t *testing.T) {
	t.Parallel()
	out := New(Config{}).Format(nil)
	if out.Context != "" || out.TokenCount != 0 || len(out.Sources) != 0 {
		t.Errorf("empty input should yield a zero output, got %+v", out)
	}
}

func TestFormat_CompactStyle(t *testing.T) {
	t.Parallel()
	f := New(Config{Style: StyleCompact})

	out := f.Format([]scoring.Scored{scored("a", "doc.md", "the passage", 0.8)})
	if !strings.Contains(out.Context, "[1] the passage") {
		t.Errorf("compact block missing:\n%s", out.Context)
	}
	if strings.Contains(out.Context, "doc.md") {
		t.Error("compact style should omit the source label")
	}
}

func TestFormat_DetailedStyle(t *testing.T) {
	t.Parallel()
	f := New(Config{Style: StyleDetailed})

	d := scored("a", "doc.md", "the passage", 0.8)
	d.Boosts = scoring.Boosts{Recency: 0.05, ExactMatch: 0.07}
	out := f.Format([]scoring.Scored{d})

	if !strings.Contains(out.Context, "boosts: recency 0.050, match 0.070") {
		t.Errorf("detailed block missing boost breakdown:\n%s", out.Context)
	}
}

func TestSourceLabel(t *testing.T) {
	t.Parallel()

	full := scoring.Scored{Document: retrieval.Document{Metadata: retrieval.Metadata{
		Source:    "handbook.pdf",
		Page:      12,
		Section:   "Setup",
		Timestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}}}
	if got := SourceLabel(full); got != "handbook.pdf | p.12 | §Setup | 2026-03-14" {
		t.Errorf("full label = %q", got)
	}

	bare := scoring.Scored{Document: retrieval.Document{Metadata: retrieval.Metadata{Source: "notes.md"}}}
	if got := SourceLabel(bare); got != "notes.md" {
		t.Errorf("bare label = %q", got)
	}

	anon := scoring.Scored{}
	if got := SourceLabel(anon); got != "unknown source" {
		t.Errorf("anonymous label = %q", got)
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"newline runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"tabs", "a\tb\t\tc", "a b c"},
		{"space runs", "a    b", "a b"},
		{"surrounding space", "  text  ", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Sanitize(tt.in)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := Sanitize(got); again != got {
				t.Errorf("not idempotent: %q → %q", got, again)
			}
		})
	}
}
