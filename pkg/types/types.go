// Package types contains shared types for roster
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AgentStatus represents whether an agent is currently active
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "Active"
	AgentStatusInactive AgentStatus = "Inactive"
)

// AgentStatuses lists every valid status in display order
var AgentStatuses = []AgentStatus{AgentStatusActive, AgentStatusInactive}

// Valid reports whether s is one of the known statuses
func (s AgentStatus) Valid() bool {
	return s == AgentStatusActive || s == AgentStatusInactive
}

// ParseAgentStatus parses a status case-insensitively
func ParseAgentStatus(value string) (AgentStatus, error) {
	for _, status := range AgentStatuses {
		if strings.EqualFold(strings.TrimSpace(value), string(status)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("invalid agent status %q: must be Active or Inactive", value)
}

// UnmarshalJSON rejects statuses outside the closed enumeration
func (s *AgentStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status := AgentStatus(raw)
	if !status.Valid() {
		return fmt.Errorf("invalid agent status %q", raw)
	}
	*s = status
	return nil
}

// Agent is a managed agent record
type Agent struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Email  string      `json:"email"`
	Status AgentStatus `json:"status"`
}

// Draft strips the identifier from the agent
func (a Agent) Draft() AgentDraft {
	return AgentDraft{Name: a.Name, Email: a.Email, Status: a.Status}
}

// AgentDraft is an agent that has not been assigned an identifier yet.
// Drafts never enter the agent collection.
type AgentDraft struct {
	Name   string      `json:"name"`
	Email  string      `json:"email"`
	Status AgentStatus `json:"status"`
}

// WithID builds a full agent record from the draft
func (d AgentDraft) WithID(id string) Agent {
	return Agent{ID: id, Name: d.Name, Email: d.Email, Status: d.Status}
}

// State is the observable state of the agent console
type State struct {
	Agents  []Agent `json:"agents"`
	Loading bool    `json:"loading"`
	Error   string  `json:"error,omitempty"`
	Warning string  `json:"warning,omitempty"`
}

// Clone returns a deep copy of the state
func (s State) Clone() State {
	out := s
	if s.Agents != nil {
		out.Agents = make([]Agent, len(s.Agents))
		copy(out.Agents, s.Agents)
	}
	return out
}

// Outcome describes how a remote operation concluded
type Outcome int

const (
	// OutcomeSucceeded means the remote resource confirmed the operation
	OutcomeSucceeded Outcome = iota
	// OutcomeDegraded means the remote failed and a local fallback was served
	OutcomeDegraded
	// OutcomeFailed means the remote failed and no fallback exists
	OutcomeFailed
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorResponse is the body the REST resource returns on failure
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
