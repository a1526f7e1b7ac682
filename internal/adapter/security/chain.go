package security

import "net/http"

// Chain composes the gateway's fixed middleware order: rate limiting first
// (cheapest check, rejects floods before anything else runs), then body
// size limiting, then API-key authentication last since it's the most
// expensive check (it may hit the metadata store).
type Chain struct {
	RateLimit *RateLimiter
	SizeLimit *SizeLimiter
	APIKey    *APIKeyAuth
}

// Wrap applies the full middleware chain around next.
func (c *Chain) Wrap(next http.Handler) http.Handler {
	h := next
	if c.APIKey != nil {
		h = c.APIKey.Middleware()(h)
	}
	if c.SizeLimit != nil {
		h = c.SizeLimit.Middleware()(h)
	}
	if c.RateLimit != nil {
		h = c.RateLimit.Middleware()(h)
	}
	return h
}

// Stop releases any background resources held by the chain's components.
func (c *Chain) Stop() {
	if c.RateLimit != nil {
		c.RateLimit.Stop()
	}
}
