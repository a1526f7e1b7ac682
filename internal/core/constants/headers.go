package constants

const (
	DefaultHealthCheckEndpoint = "/internal/health"

	// ServiceProxyPathPrefix is the mount point of the transparent reverse
	// proxy; a request to ServiceProxyPathPrefix+"{id}/..." is forwarded to
	// that service's resolved upstream.
	ServiceProxyPathPrefix = "/services/"

	HeaderXRequestID       = "X-Hestia-Request-ID"
	HeaderXServiceID       = "X-Hestia-Service-ID"
	HeaderXRoutingReason   = "X-Hestia-Routing-Reason"
	HeaderXQueueWaitMillis = "X-Hestia-Queue-Wait-Ms"
)
