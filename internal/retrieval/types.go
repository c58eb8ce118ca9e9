// Package retrieval implements the HTTP client for the external
// vector-search provider. It builds the authenticated retrieval request,
// sends it, and normalizes the provider's response into the canonical
// Document slice the rest of the pipeline consumes. Providers differ in
// their response envelope; each known shape has its own adapter and an
// unrecognized body is reported as a validation error rather than an
// empty result.
package retrieval

import "time"

// Metadata carries the provenance fields attached to a retrieved passage.
// Only Source is guaranteed; the rest depend on how the corpus was indexed.
type Metadata struct {
	// Source identifies the originating document (file name, URL, title).
	Source string `json:"source"`
	// Page is the 1-based page number within the source, 0 when unknown.
	Page int `json:"page,omitempty"`
	// Section is the heading the passage was extracted under.
	Section string `json:"section,omitempty"`
	// Timestamp is when the source content was authored or last updated.
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Document is one retrieved passage with its provider-assigned score.
// Stages downstream of the client annotate copies; the original Score is
// never mutated after construction.
type Document struct {
	// ID is the provider's identifier for the chunk.
	ID string `json:"id"`
	// Text is the passage content.
	Text string `json:"text"`
	// Score is the provider's similarity score, normalized to [0,1].
	Score float64 `json:"score"`
	// Metadata holds the provenance fields.
	Metadata Metadata `json:"metadata"`
}

// Request is the body of one retrieval call. Constructed per call, never
// reused.
type Request struct {
	// Question is the natural-language query.
	Question string `json:"question"`
	// NumResults is how many passages to ask for.
	NumResults int `json:"numResults"`
	// Rerank asks the provider to apply its own reranking pass.
	Rerank bool `json:"rerank"`
	// Filters are optional metadata filters (field name → required value).
	Filters map[string]string `json:"metadata-filters,omitempty"`
}

// Result is the normalized output of one retrieval call.
type Result struct {
	// Documents are the retrieved passages in provider order.
	Documents []Document
}

// Health is the outcome of a provider health probe.
type Health struct {
	// Up reports whether the provider answered the probe.
	Up bool
	// Latency is the probe round-trip time.
	Latency time.Duration
}
