package controller

import "github.com/rizome-dev/roster/pkg/types"

// Action is a state transition understood by Reduce
type Action interface {
	action()
}

// SetAgents replaces the whole collection
type SetAgents struct{ Agents []types.Agent }

// AddAgent appends an agent, or replaces the agent with the same id
type AddAgent struct{ Agent types.Agent }

// UpdateAgent replaces the agent with the same id; unknown ids are ignored
type UpdateAgent struct{ Agent types.Agent }

// DeleteAgent removes the agent with the given id, if present
type DeleteAgent struct{ ID string }

// SetLoading toggles the loading flag
type SetLoading struct{ Loading bool }

// SetError records a hard failure
type SetError struct{ Message string }

// SetWarning records that a fallback value was served
type SetWarning struct{ Message string }

// ClearError resets both the error and the warning
type ClearError struct{}

func (SetAgents) action()   {}
func (AddAgent) action()    {}
func (UpdateAgent) action() {}
func (DeleteAgent) action() {}
func (SetLoading) action()  {}
func (SetError) action()    {}
func (SetWarning) action()  {}
func (ClearError) action()  {}

// Reduce applies action to s and returns the new state. The input state is
// never modified.
func Reduce(s types.State, action Action) types.State {
	next := s.Clone()

	switch a := action.(type) {
	case SetAgents:
		next.Agents = uniqueByID(a.Agents)
	case AddAgent:
		if i := indexOf(next.Agents, a.Agent.ID); i >= 0 {
			next.Agents[i] = a.Agent
		} else {
			next.Agents = append(next.Agents, a.Agent)
		}
	case UpdateAgent:
		if i := indexOf(next.Agents, a.Agent.ID); i >= 0 {
			next.Agents[i] = a.Agent
		}
	case DeleteAgent:
		if i := indexOf(next.Agents, a.ID); i >= 0 {
			next.Agents = append(next.Agents[:i], next.Agents[i+1:]...)
		}
	case SetLoading:
		next.Loading = a.Loading
	case SetError:
		next.Error = a.Message
	case SetWarning:
		next.Warning = a.Message
	case ClearError:
		next.Error = ""
		next.Warning = ""
	}

	if next.Agents == nil {
		next.Agents = []types.Agent{}
	}
	return next
}

// changesAgents reports whether action touches the collection
func changesAgents(action Action) bool {
	switch action.(type) {
	case SetAgents, AddAgent, UpdateAgent, DeleteAgent:
		return true
	default:
		return false
	}
}

func indexOf(agents []types.Agent, id string) int {
	for i := range agents {
		if agents[i].ID == id {
			return i
		}
	}
	return -1
}

// uniqueByID keeps the first occurrence of each id, preserving order
func uniqueByID(agents []types.Agent) []types.Agent {
	out := make([]types.Agent, 0, len(agents))
	seen := make(map[string]struct{}, len(agents))
	for _, agent := range agents {
		if _, dup := seen[agent.ID]; dup {
			continue
		}
		seen[agent.ID] = struct{}{}
		out = append(out, agent)
	}
	return out
}
