package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentJSONShape(t *testing.T) {
	agent := Agent{ID: "a1", Name: "Jane Doe", Email: "jane@example.com", Status: AgentStatusActive}

	data, err := json.Marshal(agent)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a1","name":"Jane Doe","email":"jane@example.com","status":"Active"}`, string(data))
}

func TestAgentStatusRejectsUnknownValues(t *testing.T) {
	var agent Agent
	err := json.Unmarshal([]byte(`{"id":"a1","name":"x","email":"x@y.z","status":"Retired"}`), &agent)
	assert.Error(t, err)
}

func TestParseAgentStatus(t *testing.T) {
	status, err := ParseAgentStatus(" inactive ")
	require.NoError(t, err)
	assert.Equal(t, AgentStatusInactive, status)

	_, err = ParseAgentStatus("paused")
	assert.Error(t, err)
}

func TestDraftRoundTrip(t *testing.T) {
	draft := AgentDraft{Name: "Jane", Email: "jane@example.com", Status: AgentStatusInactive}
	agent := draft.WithID("id-1")

	assert.Equal(t, "id-1", agent.ID)
	assert.Equal(t, draft, agent.Draft())
}

func TestStateCloneKeepsEmptyCollection(t *testing.T) {
	clone := State{Agents: []Agent{}}.Clone()
	require.NotNil(t, clone.Agents)

	data, err := json.Marshal(clone)
	require.NoError(t, err)
	assert.JSONEq(t, `{"agents":[],"loading":false}`, string(data))
}

func TestStateCloneIsIndependent(t *testing.T) {
	state := State{Agents: []Agent{{ID: "1"}}}
	clone := state.Clone()
	clone.Agents[0].ID = "2"

	assert.Equal(t, "1", state.Agents[0].ID)
	assert.Equal(t, "degraded", OutcomeDegraded.String())
}
