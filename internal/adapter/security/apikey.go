package security

import (
	"net/http"

	"github.com/hestia-project/hestia-gateway/internal/core/ports"
	"github.com/hestia-project/hestia-gateway/internal/logger"
)

// APIKeyHeader is the header clients present their key in, mirroring the
// X-Hestia-* header family the rest of the gateway uses.
const APIKeyHeader = "X-Hestia-Api-Key"

// APIKeyAuth gates requests behind a set of known API keys, combining the
// statically configured list with keys persisted in the metadata store so
// keys minted at runtime (via a future admin endpoint) take effect without
// a restart.
type APIKeyAuth struct {
	logger  *logger.StyledLogger
	store   ports.MetadataStore
	static  map[string]struct{}
	enabled bool
}

// NewAPIKeyAuth builds an APIKeyAuth. When enabled is false, Middleware
// returns a pass-through handler.
func NewAPIKeyAuth(enabled bool, staticKeys []string, store ports.MetadataStore, log *logger.StyledLogger) *APIKeyAuth {
	set := make(map[string]struct{}, len(staticKeys))
	for _, k := range staticKeys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return &APIKeyAuth{logger: log, store: store, static: set, enabled: enabled}
}

// Middleware returns the http middleware enforcing API-key authentication.
func (a *APIKeyAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(APIKeyHeader)
			if key == "" || !a.isValid(r, key) {
				if a.logger != nil {
					a.logger.Warn("rejected request with missing or invalid api key", "path", r.URL.Path)
				}
				http.Error(w, "missing or invalid api key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (a *APIKeyAuth) isValid(r *http.Request, key string) bool {
	if _, ok := a.static[key]; ok {
		return true
	}
	if a.store == nil {
		return false
	}
	records, err := a.store.ListAPIKeys(r.Context())
	if err != nil {
		return false
	}
	for _, rec := range records {
		if rec.Key == key && !rec.Revoked {
			return true
		}
	}
	return false
}
