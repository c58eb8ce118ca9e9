// Package enrich orchestrates the retrieval-augmentation pipeline: given a
// user question it retrieves candidate passages, re-scores and diversifies
// them, renders them, and compresses the result into the token budget.
//
// The one hard contract is that Enrich never fails: every internal error
// degrades to "no enrichment" (a nil result) so the caller's request path
// is never blocked or broken by this pipeline.
package enrich

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gugacoder/insight-kb-sub001/internal/budget"
	"github.com/gugacoder/insight-kb-sub001/internal/cache"
	"github.com/gugacoder/insight-kb-sub001/internal/formatter"
	"github.com/gugacoder/insight-kb-sub001/internal/logging"
	"github.com/gugacoder/insight-kb-sub001/internal/rage"
	"github.com/gugacoder/insight-kb-sub001/internal/resilience"
	"github.com/gugacoder/insight-kb-sub001/internal/retrieval"
	"github.com/gugacoder/insight-kb-sub001/internal/scoring"
)

// minQueryChars is the shortest sanitized query worth retrieving for.
const minQueryChars = 3

// Retriever fetches candidate passages. *retrieval.Client satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// Options carries per-call settings.
type Options struct {
	// UserID identifies the requester, for logging only.
	UserID string
	// Language is an ISO 639-1 code driving the token ratio; empty means
	// the default.
	Language string
	// CorrelationID ties pipeline events to the caller's trace; empty
	// means a fresh one is generated.
	CorrelationID string
	// Filters narrow retrieval by metadata.
	Filters map[string]string
}

// Result is the enrichment handed back to the caller. A nil *Result means
// "no enrichment available" and is a normal outcome, not a failure.
type Result struct {
	Context           string   `json:"context"`
	TokenCount        int      `json:"tokenCount"`
	Sources           []string `json:"sources"`
	RelevanceScore    float64  `json:"relevanceScore"`
	DocumentsIncluded int      `json:"documentsIncluded"`
	Truncated         bool     `json:"truncated"`
	Strategy          string   `json:"strategy"`
	// Cached reports that the result came from the cache rather than a
	// fresh retrieval.
	Cached bool `json:"cached,omitempty"`
}

// Config holds the orchestrator knobs.
type Config struct {
	// Enabled gates the whole pipeline; disabled means Enrich always
	// returns nil.
	Enabled bool
	// NumResults is how many passages to request and the scorer's cap.
	NumResults int
	// Rerank asks the provider for its reranking pass.
	Rerank bool
	// Budget configures the token optimizer; its Ratio is overridden per
	// call when Options.Language is set.
	Budget budget.Config
	// Deadline is the end-to-end wall-clock budget per query. Exceeding it
	// degrades to "no enrichment" rather than stalling the caller. Zero
	// means no orchestrator-level deadline.
	Deadline time.Duration
}

// Deps are the pipeline collaborators.
type Deps struct {
	Retriever   Retriever
	Coordinator *resilience.Coordinator
	Scorer      *scoring.Scorer
	Formatter   *formatter.Formatter
	// Cache may be nil; caching is then skipped entirely.
	Cache   cache.Store
	Metrics *Metrics
}

// Enricher runs the pipeline. Safe for concurrent use: all per-call state
// lives on the stack, and the shared coordinator is internally
// synchronized.
type Enricher struct {
	cfg  Config
	deps Deps
}

// New constructs an Enricher.
func New(cfg Config, deps Deps) *Enricher {
	if cfg.NumResults <= 0 {
		cfg.NumResults = 10
	}
	return &Enricher{cfg: cfg, deps: deps}
}

// Enrich runs the full pipeline for one query. It returns nil when no
// enrichment is available, and never returns an error: provider failures,
// empty retrievals, and internal problems all degrade to nil.
func (e *Enricher) Enrich(ctx context.Context, query string, opts Options) *Result {
	if !e.cfg.Enabled {
		return nil
	}

	correlation := opts.CorrelationID
	if correlation == "" {
		correlation = uuid.NewString()
	}
	log := logging.FromContext(ctx).With("correlation_id", correlation)
	if opts.UserID != "" {
		log = log.With("user_id", opts.UserID)
	}
	ctx = logging.WithLogger(ctx, log)

	if e.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
		defer cancel()
	}

	started := time.Now()
	sanitized := formatter.Sanitize(query)
	log.Debug("enrich: phase", "phase", "start", "query_chars", utf8.RuneCountInString(sanitized))

	if utf8.RuneCountInString(sanitized) < minQueryChars {
		log.Debug("enrich: query too short, skipping")
		e.deps.Metrics.observeOutcome("rejected")
		return nil
	}

	if res := e.fromCache(ctx, sanitized); res != nil {
		e.deps.Metrics.observeOutcome("cache_hit")
		log.Info("enrich: phase", "phase", "complete",
			"cached", true, "tokens", res.TokenCount,
			"elapsed_ms", time.Since(started).Milliseconds())
		return res
	}

	docs := e.retrieve(ctx, sanitized, opts)
	if docs == nil {
		// Retrieval failed outright; a stale cached answer beats nothing.
		if res := e.fromStale(ctx, sanitized); res != nil {
			e.deps.Metrics.observeOutcome("stale_fallback")
			return res
		}
		e.deps.Metrics.observeOutcome("degraded")
		return nil
	}
	if len(docs) == 0 {
		e.deps.Metrics.observeOutcome("empty")
		return nil
	}

	scored := e.score(ctx, docs, sanitized)
	if len(scored) == 0 {
		e.deps.Metrics.observeOutcome("empty")
		return nil
	}

	out := e.format(ctx, scored)
	optimized := e.optimize(ctx, out, opts.Language)
	if optimized.Context == "" {
		e.deps.Metrics.observeOutcome("empty")
		return nil
	}

	res := &Result{
		Context:           optimized.Context,
		TokenCount:        optimized.TokenCount,
		Sources:           out.Sources,
		RelevanceScore:    out.Relevance,
		DocumentsIncluded: optimized.BlocksIncluded,
		Truncated:         optimized.Truncated,
		Strategy:          string(optimized.Strategy),
	}
	e.toCache(ctx, sanitized, res)

	e.deps.Metrics.observeOutcome("enriched")
	log.Info("enrich: phase", "phase", "complete",
		"tokens", res.TokenCount,
		"documents", res.DocumentsIncluded,
		"truncated", res.Truncated,
		"strategy", res.Strategy,
		"elapsed_ms", time.Since(started).Milliseconds())
	return res
}

// retrieve calls the provider through the resilience coordinator. A nil
// slice means retrieval failed; an empty one means it succeeded with no
// hits.
func (e *Enricher) retrieve(ctx context.Context, query string, opts Options) []retrieval.Document {
	log := logging.FromContext(ctx)
	start := time.Now()

	res, err := resilience.Execute(ctx, e.deps.Coordinator, func(ctx context.Context) (*retrieval.Result, error) {
		return e.deps.Retriever.Retrieve(ctx, retrieval.Request{
			Question:   query,
			NumResults: e.cfg.NumResults,
			Rerank:     e.cfg.Rerank,
			Filters:    opts.Filters,
		})
	}, nil)
	e.deps.Metrics.observePhase("retrieve", time.Since(start))

	if err != nil {
		log.Warn("enrich: retrieval failed", "kind", string(rage.KindOf(err)), "error", err)
		return nil
	}
	if res == nil {
		// Coordinator-level degradation already swallowed the failure.
		return nil
	}
	e.deps.Metrics.observeDocuments("retrieved", len(res.Documents))
	log.Debug("enrich: phase", "phase", "retrieve", "documents", len(res.Documents))
	return res.Documents
}

func (e *Enricher) score(ctx context.Context, docs []retrieval.Document, query string) []scoring.Scored {
	start := time.Now()
	scored := e.deps.Scorer.ScoreAndFilter(docs, query)
	e.deps.Metrics.observePhase("score", time.Since(start))
	e.deps.Metrics.observeDocuments("scored", len(scored))
	logging.FromContext(ctx).Debug("enrich: phase", "phase", "score",
		"in", len(docs), "out", len(scored))
	return scored
}

func (e *Enricher) format(ctx context.Context, scored []scoring.Scored) formatter.Output {
	start := time.Now()
	out := e.deps.Formatter.Format(scored)
	e.deps.Metrics.observePhase("format", time.Since(start))
	logging.FromContext(ctx).Debug("enrich: phase", "phase", "format",
		"sources", len(out.Sources), "tokens", out.TokenCount)
	return out
}

func (e *Enricher) optimize(ctx context.Context, out formatter.Output, language string) budget.Result {
	start := time.Now()
	cfg := e.cfg.Budget
	if language != "" {
		cfg.Ratio = budget.Ratio(language)
	}
	res := budget.New(cfg).Optimize(out.Context, out.Blocks)
	e.deps.Metrics.observePhase("optimize", time.Since(start))
	e.deps.Metrics.observeDocuments("included", res.BlocksIncluded)
	logging.FromContext(ctx).Debug("enrich: phase", "phase", "optimize",
		"tokens", res.TokenCount, "truncated", res.Truncated, "strategy", string(res.Strategy))
	return res
}

// fromCache serves a fresh cached result, or nil.
func (e *Enricher) fromCache(ctx context.Context, query string) *Result {
	if e.deps.Cache == nil {
		return nil
	}
	entry, err := e.deps.Cache.Get(ctx, query)
	if err != nil {
		logging.FromContext(ctx).Warn("enrich: cache read failed", "error", err)
		return nil
	}
	if entry == nil {
		e.deps.Metrics.observeCache("miss")
		return nil
	}
	e.deps.Metrics.observeCache("hit")
	return entryResult(entry)
}

// fromStale serves an expired cached result when the provider is down.
func (e *Enricher) fromStale(ctx context.Context, query string) *Result {
	if e.deps.Cache == nil {
		return nil
	}
	entry, err := e.deps.Cache.GetStale(ctx, query)
	if err != nil || entry == nil {
		return nil
	}
	e.deps.Metrics.observeCache("stale_hit")
	logging.FromContext(ctx).Info("enrich: serving stale cached result",
		"age_s", int(time.Since(entry.CreatedAt).Seconds()))
	return entryResult(entry)
}

func (e *Enricher) toCache(ctx context.Context, query string, res *Result) {
	if e.deps.Cache == nil {
		return
	}
	err := e.deps.Cache.Put(ctx, query, cache.Entry{
		Context:           res.Context,
		TokenCount:        res.TokenCount,
		Sources:           res.Sources,
		Relevance:         res.RelevanceScore,
		DocumentsIncluded: res.DocumentsIncluded,
		Truncated:         res.Truncated,
		Strategy:          res.Strategy,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("enrich: cache write failed", "error", err)
		return
	}
	e.deps.Metrics.observeCache("write")
}

func entryResult(e *cache.Entry) *Result {
	return &Result{
		Context:           e.Context,
		TokenCount:        e.TokenCount,
		Sources:           e.Sources,
		RelevanceScore:    e.Relevance,
		DocumentsIncluded: e.DocumentsIncluded,
		Truncated:         e.Truncated,
		Strategy:          e.Strategy,
		Cached:            true,
	}
}
