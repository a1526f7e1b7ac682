package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hestia-project/hestia-gateway/internal/core/ports"
)

type fakeKeyStore struct {
	keys []ports.APIKeyRecord
}

func (f *fakeKeyStore) SaveServiceRecord(context.Context, ports.ServiceRecord) error { return nil }
func (f *fakeKeyStore) LoadServiceRecords(context.Context) ([]ports.ServiceRecord, error) {
	return nil, nil
}
func (f *fakeKeyStore) SaveAPIKey(_ context.Context, key ports.APIKeyRecord) error {
	f.keys = append(f.keys, key)
	return nil
}
func (f *fakeKeyStore) ListAPIKeys(context.Context) ([]ports.APIKeyRecord, error) {
	return f.keys, nil
}

var _ ports.MetadataStore = (*fakeKeyStore)(nil)

func TestAPIKeyAuth_DisabledAllowsRequestsWithoutKey(t *testing.T) {
	a := NewAPIKeyAuth(false, nil, nil, nil)
	handler := a.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth_RejectsMissingKey(t *testing.T) {
	a := NewAPIKeyAuth(true, []string{"secret"}, nil, nil)
	handler := a.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyAuth_AcceptsStaticKey(t *testing.T) {
	a := NewAPIKeyAuth(true, []string{"secret"}, nil, nil)
	handler := a.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(APIKeyHeader, "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth_AcceptsStoreBackedKey(t *testing.T) {
	store := &fakeKeyStore{}
	require.NoError(t, store.SaveAPIKey(context.Background(), ports.APIKeyRecord{Key: "runtime-key"}))

	a := NewAPIKeyAuth(true, nil, store, nil)
	handler := a.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(APIKeyHeader, "runtime-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth_RejectsRevokedKey(t *testing.T) {
	store := &fakeKeyStore{keys: []ports.APIKeyRecord{{Key: "revoked-key", Revoked: true}}}

	a := NewAPIKeyAuth(true, nil, store, nil)
	handler := a.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(APIKeyHeader, "revoked-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
