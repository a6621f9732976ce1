package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizome-dev/roster/pkg/logging"
	"github.com/rizome-dev/roster/pkg/state"
	"github.com/rizome-dev/roster/pkg/types"
	"github.com/rizome-dev/roster/pkg/validation"
)

type apiFixture struct {
	snapshot *flakySnapshot
	server   *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	snapshot := newFlakySnapshot()
	return &apiFixture{snapshot: snapshot, server: createTestServer(t, createTestConfig(), snapshot)}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateAndGetAgent(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/agents", `{"name":"Jane Doe","email":"jane@example.com","status":"Active"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[types.Agent](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Jane Doe", created.Name)
	assert.Equal(t, "/agents/"+created.ID, rec.Header().Get("Location"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/agents/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decode[types.Agent](t, rec))
}

func TestCreateKeepsClientID(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/agents", `{"id":"a1","name":"Jane","email":"jane@example.com","status":"Inactive"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "a1", decode[types.Agent](t, rec).ID)

	rec = f.do(t, http.MethodPost, "/agents", `{"id":"a1","name":"Other","email":"o@example.com","status":"Active"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListKeepsInsertionOrder(t *testing.T) {
	f := newAPIFixture(t)

	for _, id := range []string{"c", "a", "b"} {
		rec := f.do(t, http.MethodPost, "/agents", `{"id":"`+id+`","name":"N","email":"n@example.com","status":"Active"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)

	agents := decode[[]types.Agent](t, rec)
	require.Len(t, agents, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{agents[0].ID, agents[1].ID, agents[2].ID})
}

func TestListEmptyIsArray(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCreateRejectsInvalidBodies(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "not json", body: `{`},
		{name: "missing status", body: `{"name":"Jane","email":"jane@example.com"}`},
		{name: "unknown status", body: `{"name":"Jane","email":"jane@example.com","status":"Retired"}`},
		{name: "extra field", body: `{"name":"Jane","email":"jane@example.com","status":"Active","age":3}`},
		{name: "blank name", body: `{"name":"   ","email":"jane@example.com","status":"Active"}`, field: "name"},
		{name: "bad email", body: `{"name":"Jane","email":"jane.example.com","status":"Active"}`, field: "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			rec := f.do(t, http.MethodPost, "/agents", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			resp := decode[types.ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
			if tt.field != "" {
				assert.Contains(t, resp.Fields, tt.field)
			}
			assert.Zero(t, f.server.repo.Len())
		})
	}
}

func TestCreateReportsEmailMessage(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/agents", `{"name":"Jane","email":"nope@","status":"Active"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, validation.MsgEmailInvalid, decode[types.ErrorResponse](t, rec).Fields["email"])
}

func TestUpdateAgent(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/agents", `{"id":"a1","name":"Jane","email":"jane@example.com","status":"Active"}`).Code)

	rec := f.do(t, http.MethodPut, "/agents/a1", `{"name":"Jane Smith","email":"jane@example.com","status":"Inactive"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.Agent{ID: "a1", Name: "Jane Smith", Email: "jane@example.com", Status: types.AgentStatusInactive}, decode[types.Agent](t, rec))

	stored, err := f.server.repo.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", stored.Name)
}

func TestUpdateErrors(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/agents", `{"id":"a1","name":"Jane","email":"jane@example.com","status":"Active"}`).Code)

	rec := f.do(t, http.MethodPut, "/agents/zz", `{"name":"Jane","email":"jane@example.com","status":"Active"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Agent Not Found", decode[types.ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPut, "/agents/a1", `{"id":"a2","name":"Jane","email":"jane@example.com","status":"Active"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/agents/a1", `{"name":"","email":"jane@example.com","status":"Active"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAgent(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/agents", `{"id":"a1","name":"Jane","email":"jane@example.com","status":"Active"}`).Code)

	rec := f.do(t, http.MethodDelete, "/agents/a1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/agents/a1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/agents/a1", "").Code)
}

func TestChangesArePersisted(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/agents", `{"id":"a1","name":"Jane","email":"jane@example.com","status":"Active"}`).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/agents", `{"id":"a2","name":"John","email":"john@example.com","status":"Inactive"}`).Code)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/agents/a1", "").Code)

	saved, err := f.snapshot.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "a2", saved[0].ID)
	assert.Equal(t, 3, f.snapshot.Saves())

	reopened, err := NewRepository(context.Background(), f.snapshot)
	require.NoError(t, err)
	assert.Equal(t, saved, reopened.List())
}

func TestPersistFailureRollsBack(t *testing.T) {
	f := newAPIFixture(t)
	f.snapshot.failSaves(errors.New("disk full"))

	rec := f.do(t, http.MethodPost, "/agents", `{"id":"a1","name":"Jane","email":"jane@example.com","status":"Active"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, f.server.repo.Len())
}

func TestHealthAndReady(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"snapshot"`)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", "").Code)

	f.snapshot.failHealth(errors.New("unreachable"))
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/ready", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodGet, "/agents", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "roster_test_http_requests_total")
}

func TestRateLimitedRequestsAreRejected(t *testing.T) {
	cfg := createTestConfig()
	cfg.Security.RateLimit.Enabled = true
	cfg.Security.RateLimit.GlobalLimit = 0
	cfg.Security.RateLimit.ClientLimit = 1
	cfg.Security.RateLimit.ClientWindow = 1 << 40

	srv := createTestServer(t, cfg, state.NewMemoryStore())

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/agents", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/agents", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/agents", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandlersLogWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	snapshot := newFlakySnapshot()
	repo, err := NewRepository(context.Background(), snapshot)
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewAPI(repo, zerolog.New(&buf)).Register(mux)

	send := func(method, path, body string) int {
		ctx, _ := logging.WithRequestID(context.Background(), "req-42")
		req := httptest.NewRequest(method, path, strings.NewReader(body)).WithContext(ctx)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec.Code
	}

	body := `{"id":"a1","name":"Jane","email":"jane@example.com","status":"Active"}`
	require.Equal(t, http.StatusCreated, send(http.MethodPost, "/agents", body))
	require.Equal(t, http.StatusOK, send(http.MethodPut, "/agents/a1", body))
	require.Equal(t, http.StatusNoContent, send(http.MethodDelete, "/agents/a1", ""))

	snapshot.failSaves(errors.New("disk full"))
	require.Equal(t, http.StatusInternalServerError, send(http.MethodPost, "/agents", body))

	logs := buf.String()
	for _, msg := range []string{"Agent created", "Agent updated", "Agent deleted", "Repository operation failed"} {
		assert.Contains(t, logs, msg)
	}
	assert.Equal(t, 4, strings.Count(logs, `"request_id":"req-42"`))
}
