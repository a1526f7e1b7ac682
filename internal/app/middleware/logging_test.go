package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hestia-project/hestia-gateway/internal/logger"
	"github.com/hestia-project/hestia-gateway/theme"
)

func testStyledLogger() *logger.StyledLogger {
	return logger.NewStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), theme.GetTheme("default"))
}

func TestEnhancedLoggingMiddleware(t *testing.T) {
	styled := testStyledLogger()

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger := GetLogger(r.Context())
		if ctxLogger == nil {
			t.Error("expected context logger to be available")
			return
		}

		requestID := GetRequestID(r.Context())
		if requestID == "" {
			t.Error("expected request ID to be available")
			return
		}

		ctxLogger.Info("test handler executed", "request_id", requestID)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("test response"))
	})

	handler := EnhancedLoggingMiddleware(styled)(testHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Hestia-Request-ID", "test-request-123")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	responseRequestID := rr.Header().Get("X-Hestia-Request-ID")
	if responseRequestID != "test-request-123" {
		t.Errorf("expected X-Hestia-Request-ID header to be 'test-request-123', got '%s'", responseRequestID)
	}

	expectedBody := "test response"
	if rr.Body.String() != expectedBody {
		t.Errorf("expected body %q, got %q", expectedBody, rr.Body.String())
	}
}

func TestAccessLoggingMiddleware(t *testing.T) {
	styled := testStyledLogger()

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("access log test"))
	})

	handler := AccessLoggingMiddleware(styled)(testHandler)

	req := httptest.NewRequest("POST", "/api/test?param=value", strings.NewReader("test body"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	req.ContentLength = 9

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	expectedBody := "access log test"
	if rr.Body.String() != expectedBody {
		t.Errorf("expected body %q, got %q", expectedBody, rr.Body.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0B"},
		{500, "500B"},
		{1024, "1.0KB"},
		{1536, "1.5KB"},
		{1048576, "1.0MB"},
		{1073741824, "1.0GB"},
		{1099511627776, "1.0TB"},
	}

	for _, test := range tests {
		result := FormatBytes(test.input)
		if result != test.expected {
			t.Errorf("FormatBytes(%d) = %s, want %s", test.input, result, test.expected)
		}
	}
}

func TestGetLoggerWithoutContext(t *testing.T) {
	ctx := context.Background()
	if GetLogger(ctx) == nil {
		t.Error("expected default logger when no logger in context")
	}
}

func TestGetRequestIDWithoutContext(t *testing.T) {
	ctx := context.Background()
	if requestID := GetRequestID(ctx); requestID != "" {
		t.Errorf("expected empty request ID when not in context, got %s", requestID)
	}
}
