package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/logging"
	"github.com/rizome-dev/roster/pkg/types"
	"github.com/rizome-dev/roster/pkg/validation"
)

// maxBodyBytes bounds agent request bodies
const maxBodyBytes = 1 << 20

// API serves the agents REST resource
type API struct {
	repo   *Repository
	logger zerolog.Logger
	newID  func() string
}

// NewAPI creates the REST handlers over repo
func NewAPI(repo *Repository, logger zerolog.Logger) *API {
	return &API{repo: repo, logger: logger, newID: uuid.NewString}
}

// Register mounts the agent routes on mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /agents", a.listAgents)
	mux.HandleFunc("POST /agents", a.createAgent)
	mux.HandleFunc("GET /agents/{id}", a.getAgent)
	mux.HandleFunc("PUT /agents/{id}", a.updateAgent)
	mux.HandleFunc("DELETE /agents/{id}", a.deleteAgent)
}

func (a *API) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.repo.List())
}

func (a *API) getAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := a.repo.Get(r.PathValue("id"))
	if err != nil {
		a.writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (a *API) createAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := a.decodeAgent(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(agent.ID) == "" {
		agent.ID = a.newID()
	}

	created, err := a.repo.Create(r.Context(), agent)
	if err != nil {
		a.writeRepoError(w, r, err)
		return
	}

	logger := logging.WithContext(r.Context(), a.logger)
	logger.Info().
		Str("agent_id", created.ID).
		Msg("Agent created")
	w.Header().Set("Location", "/agents/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) updateAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agent, ok := a.decodeAgent(w, r)
	if !ok {
		return
	}
	if agent.ID != "" && agent.ID != id {
		writeError(w, http.StatusBadRequest, "id in body does not match path", nil)
		return
	}
	agent.ID = id

	updated, err := a.repo.Update(r.Context(), agent)
	if err != nil {
		a.writeRepoError(w, r, err)
		return
	}

	logger := logging.WithContext(r.Context(), a.logger)
	logger.Info().
		Str("agent_id", updated.ID).
		Msg("Agent updated")
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.repo.Delete(r.Context(), id); err != nil {
		a.writeRepoError(w, r, err)
		return
	}

	logger := logging.WithContext(r.Context(), a.logger)
	logger.Info().
		Str("agent_id", id).
		Msg("Agent deleted")
	w.WriteHeader(http.StatusNoContent)
}

// decodeAgent reads and validates an agent body, writing a 400 on failure
func (a *API) decodeAgent(w http.ResponseWriter, r *http.Request) (types.Agent, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", nil)
		return types.Agent{}, false
	}

	if err := validation.ValidateAgentJSON(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return types.Agent{}, false
	}

	var agent types.Agent
	if err := json.Unmarshal(body, &agent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent: "+err.Error(), nil)
		return types.Agent{}, false
	}

	if err := validation.ValidateDraft(agent.Draft()); err != nil {
		var verr *rerrors.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "validation failed", verr.Fields)
			return types.Agent{}, false
		}
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return types.Agent{}, false
	}

	return agent, true
}

func (a *API) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case rerrors.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Agent Not Found", nil)
	case errors.Is(err, rerrors.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		logger := logging.WithContext(r.Context(), a.logger)
		logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("Repository operation failed")
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string, fields map[string]string) {
	writeJSON(w, code, types.ErrorResponse{Error: message, Fields: fields})
}
