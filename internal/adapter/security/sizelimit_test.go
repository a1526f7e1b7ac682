package security

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeLimiter_DisabledAllowsAnySize(t *testing.T) {
	sl := NewSizeLimiter(0, nil)
	handler := sl.Middleware()(okHandler())

	body := bytes.Repeat([]byte("x"), 1024)
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSizeLimiter_RejectsOversizedBody(t *testing.T) {
	sl := NewSizeLimiter(10, nil)
	handler := sl.Middleware()(okHandler())

	body := bytes.Repeat([]byte("x"), 100)
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSizeLimiter_AllowsBodyWithinLimit(t *testing.T) {
	sl := NewSizeLimiter(1024, nil)
	handler := sl.Middleware()(okHandler())

	body := bytes.Repeat([]byte("x"), 10)
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
