package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hestia-project/hestia-gateway/internal/core/ports"
)

func TestClient_Start_ReturnsTaskHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/project/proj1/tasks", r.URL.Path)

		var body taskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "svc", body.ServiceID)
		assert.Equal(t, "machine-1", body.MachineID)
		assert.Equal(t, "start-template", body.TemplateID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "task-123"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ProjectID: "proj1", MaxRetries: 0})

	handle, err := c.Start(context.Background(), "svc", "machine-1", "start-template", nil)
	require.NoError(t, err)
	assert.Equal(t, ports.TaskHandle("task-123"), handle)
}

func TestClient_Poll_MapsTaskStates(t *testing.T) {
	cases := []struct {
		raw  string
		want ports.TaskState
	}{
		{"running", ports.TaskRunning},
		{"success", ports.TaskSuccess},
		{"completed", ports.TaskSuccess},
		{"failed", ports.TaskFailed},
		{"weird", ports.TaskRunning},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.raw, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method)
				require.Equal(t, "/api/project/proj1/tasks/task-123", r.URL.Path)
				_ = json.NewEncoder(w).Encode(taskStatusResponse{State: tc.raw, Reason: "because"})
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL, ProjectID: "proj1", MaxRetries: 0})
			status, err := c.Poll(context.Background(), ports.TaskHandle("task-123"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, status.State)
			assert.Equal(t, "because", status.Reason)
		})
	}
}

func TestClient_Poll_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ProjectID: "proj1", MaxRetries: 0})
	_, err := c.Poll(context.Background(), ports.TaskHandle("missing"))
	assert.Error(t, err)
}

func TestClient_Start_SendsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t1"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ProjectID: "proj1", AuthToken: "secret-token", MaxRetries: 0, Timeout: time.Second})
	_, err := c.Start(context.Background(), "svc", "m1", "tmpl", nil)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", gotAuth)
}
