package domain

import "net/url"

// RequestContext is the read-only bag a Strategy's Resolve receives. It is
// built once per request by the Gateway Front (§4.2) and never mutated by a
// strategy.
type RequestContext struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string][]string
	// Model is the shallow-parsed value of the configured model key from a
	// JSON request body, when the body was small enough to peek at and was
	// valid JSON. Empty when absent or not applicable.
	Model string
}

// Reason explains why a strategy picked the upstream it did, surfaced for
// logging/metrics and the /v1/strategies endpoint.
type Reason string

const (
	ReasonMappingHit        Reason = "MAPPING_HIT"
	ReasonLBSelected        Reason = "LB_SELECTED"
	ReasonFallbackBaseURL   Reason = "FALLBACK_BASE_URL"
	ReasonUnhealthySkipped  Reason = "UNHEALTHY_SKIPPED"
)

// Resolution is what a Strategy.Resolve call returns.
type Resolution struct {
	URL    *url.URL
	Reason Reason
}
