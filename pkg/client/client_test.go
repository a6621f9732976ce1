package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/types"
)

var jane = types.Agent{ID: "a1", Name: "Jane Doe", Email: "jane@example.com", Status: types.AgentStatusActive}

func TestNewDefaults(t *testing.T) {
	c := New()
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)

	c = New(WithBaseURL("http://remote:9000/"), WithTimeout(time.Second))
	assert.Equal(t, "http://remote:9000", c.BaseURL())
	assert.Equal(t, time.Second, c.httpClient.Timeout)
}

func TestWithTimeoutLeavesSharedClientAlone(t *testing.T) {
	shared := &http.Client{Timeout: time.Minute}

	c := New(WithHTTPClient(shared), WithTimeout(time.Second))
	assert.Equal(t, time.Second, c.httpClient.Timeout)
	assert.Equal(t, time.Minute, shared.Timeout)
	assert.NotSame(t, shared, c.httpClient)
}

func TestListAgents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/agents", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_ = json.NewEncoder(w).Encode([]types.Agent{jane})
	}))
	defer server.Close()

	agents, err := New(WithBaseURL(server.URL)).ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Agent{jane}, agents)
}

func TestListAgentsEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	agents, err := New(WithBaseURL(server.URL)).ListAgents(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, agents)
	assert.Empty(t, agents)
}

func TestCreateUpdateDelete(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)

		switch r.Method {
		case http.MethodPost, http.MethodPut:
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var body types.Agent
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "a1", body.ID)
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusCreated)
			}
			_ = json.NewEncoder(w).Encode(body)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	c := New(WithBaseURL(server.URL))

	created, err := c.CreateAgent(ctx, jane)
	require.NoError(t, err)
	assert.Equal(t, jane, created)

	edited := jane
	edited.Status = types.AgentStatusInactive
	updated, err := c.UpdateAgent(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusInactive, updated.Status)

	require.NoError(t, c.DeleteAgent(ctx, "a1"))

	assert.Equal(t, []string{"POST /agents", "PUT /agents/a1", "DELETE /agents/a1"}, seen)
}

func TestNonSuccessStatusIsAPIError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"json error body", http.StatusNotFound, `{"error":"agent not found"}`, "agent not found"},
		{"plain text body", http.StatusInternalServerError, "boom", "boom"},
		{"empty body", http.StatusBadGateway, "", "Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := New(WithBaseURL(server.URL)).DeleteAgent(context.Background(), "missing")

			var apiErr *rerrors.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.True(t, rerrors.IsRemote(err))
		})
	}
}

func TestTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := New(WithBaseURL(url)).ListAgents(context.Background())

	var transportErr *rerrors.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "list", transportErr.Op)
	assert.True(t, rerrors.IsRemote(err))
}

func TestInvalidResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a1","status":"Retired"}]`))
	}))
	defer server.Close()

	_, err := New(WithBaseURL(server.URL)).ListAgents(context.Background())
	assert.ErrorContains(t, err, "invalid response body")
}

func TestRequestsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	var traceparent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL), WithTracer(provider.Tracer("test")))
	_, err := c.ListAgents(context.Background())
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "roster.client.list", spans[0].Name())
	assert.NotEmpty(t, traceparent)
	assert.Contains(t, traceparent, spans[0].SpanContext().TraceID().String())
}

func TestDNSCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL), WithDNSCache(time.Minute))
	defer c.Close()

	require.NotNil(t, c.resolver)
	_, err := c.ListAgents(context.Background())
	require.NoError(t, err)

	c.Close()
}
