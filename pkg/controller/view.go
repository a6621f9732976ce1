package controller

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rizome-dev/roster/pkg/types"
)

// SortFields lists the columns agents can be sorted by
var SortFields = []string{"name", "email", "status"}

// Filter returns the agents whose name, email or status contain query,
// ignoring case. An empty query matches everything.
func Filter(agents []types.Agent, query string) []types.Agent {
	query = strings.ToLower(strings.TrimSpace(query))

	out := make([]types.Agent, 0, len(agents))
	for _, agent := range agents {
		if query == "" ||
			strings.Contains(strings.ToLower(agent.Name), query) ||
			strings.Contains(strings.ToLower(agent.Email), query) ||
			strings.Contains(strings.ToLower(string(agent.Status)), query) {
			out = append(out, agent)
		}
	}
	return out
}

// SortBy returns a copy of agents stably sorted by field
func SortBy(agents []types.Agent, field string, desc bool) ([]types.Agent, error) {
	key, err := sortKey(field)
	if err != nil {
		return nil, err
	}

	out := make([]types.Agent, len(agents))
	copy(out, agents)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(key(out[i])), strings.ToLower(key(out[j]))
		if desc {
			return a > b
		}
		return a < b
	})
	return out, nil
}

func sortKey(field string) (func(types.Agent) string, error) {
	switch strings.ToLower(field) {
	case "", "name":
		return func(a types.Agent) string { return a.Name }, nil
	case "email":
		return func(a types.Agent) string { return a.Email }, nil
	case "status":
		return func(a types.Agent) string { return string(a.Status) }, nil
	default:
		return nil, fmt.Errorf("cannot sort by %q: must be one of %s", field, strings.Join(SortFields, ", "))
	}
}
