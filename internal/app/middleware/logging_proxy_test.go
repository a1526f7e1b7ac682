package middleware

import "testing"

func TestIsProxyRequest(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "service proxy path", path: "/services/llm-a/v1/chat/completions", expected: true},
		{name: "service proxy root", path: "/services/llm-a/", expected: true},
		{name: "health check endpoint", path: "/internal/health", expected: false},
		{name: "requests endpoint", path: "/v1/requests", expected: false},
		{name: "metrics endpoint", path: "/v1/metrics", expected: false},
		{name: "root path", path: "/", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsProxyRequest(tt.path)
			if result != tt.expected {
				t.Errorf("IsProxyRequest(%q) = %v, want %v", tt.path, result, tt.expected)
			}
		})
	}
}
