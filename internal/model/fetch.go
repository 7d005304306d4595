package model

import "time"

// FetchOrigin says where a fetch result's content came from.
type FetchOrigin string

const (
	OriginNetwork FetchOrigin = "network"
	OriginCache   FetchOrigin = "cache"
)

// FetchStatus classifies the outcome of one org's content fetch.
type FetchStatus string

const (
	FetchStatusSuccess   FetchStatus = "success"
	FetchStatusCached    FetchStatus = "cached"
	FetchStatusFailed    FetchStatus = "failed"
	FetchStatusTimeout   FetchStatus = "timeout"
	FetchStatusCancelled FetchStatus = "cancelled"
)

// FailReason records why a fetch ended without content.
type FailReason string

const (
	// ReasonTransientExhausted means every retry of a retryable failure was spent.
	ReasonTransientExhausted FailReason = "transient_exhausted"
	// ReasonPermanent covers DNS failures, malformed URLs, non-retryable 4xx,
	// and unsupported content types. Never retried.
	ReasonPermanent FailReason = "permanent"
	// ReasonCancelled means the run was cancelled before this fetch completed.
	ReasonCancelled FailReason = "cancelled"
)

// FetchResult is the outcome of resolving one org's website into content.
// Created exactly once per org per run; never mutated after creation.
type FetchResult struct {
	OrgID      string      `json:"org_id"`
	Key        string      `json:"key"`
	URL        string      `json:"url"`
	Content    string      `json:"content,omitempty"`
	Title      string      `json:"title,omitempty"`
	HTTPStatus int         `json:"http_status,omitempty"`
	Origin     FetchOrigin `json:"origin"`
	Status     FetchStatus `json:"status"`
	Reason     FailReason  `json:"reason,omitempty"`
	Error      string      `json:"error,omitempty"`
	Attempts   int         `json:"attempts"`
	FetchedAt  time.Time   `json:"fetched_at"`
}

// OK reports whether the fetch produced usable content.
func (r FetchResult) OK() bool {
	return r.Status == FetchStatusSuccess || r.Status == FetchStatusCached
}

// Summary flattens the result into the compact form carried on Evaluations.
func (r FetchResult) Summary() FetchSummary {
	return FetchSummary{
		Status:       r.Status,
		Origin:       r.Origin,
		HTTPStatus:   r.HTTPStatus,
		Reason:       r.Reason,
		Attempts:     r.Attempts,
		ContentChars: len(r.Content),
	}
}

// FetchSummary is the per-org fetch record embedded in an Evaluation.
type FetchSummary struct {
	Status       FetchStatus `json:"status"`
	Origin       FetchOrigin `json:"origin,omitempty"`
	HTTPStatus   int         `json:"http_status,omitempty"`
	Reason       FailReason  `json:"reason,omitempty"`
	Attempts     int         `json:"attempts,omitempty"`
	ContentChars int         `json:"content_chars"`
}

// CacheEntry is one stored page of content, owned by the content cache.
type CacheEntry struct {
	Key      string    `json:"key"`
	Content  string    `json:"content"`
	Title    string    `json:"title,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}
