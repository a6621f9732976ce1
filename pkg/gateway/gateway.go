// Package gateway is the record store facade over the remote agent resource.
// Remote failures never escape as errors: each operation reports an Outcome
// and, where one exists, a locally constructed fallback value.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/logging"
	"github.com/rizome-dev/roster/pkg/monitoring"
	"github.com/rizome-dev/roster/pkg/state"
	"github.com/rizome-dev/roster/pkg/types"
)

// Remote is the REST surface the gateway depends on
type Remote interface {
	ListAgents(ctx context.Context) ([]types.Agent, error)
	CreateAgent(ctx context.Context, agent types.Agent) (types.Agent, error)
	UpdateAgent(ctx context.Context, agent types.Agent) (types.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
}

// Result carries the value of a gateway operation along with how it concluded.
// Err holds the absorbed cause when Outcome is not OutcomeSucceeded.
type Result[T any] struct {
	Value   T
	Outcome types.Outcome
	Err     error
}

// OK reports whether the remote resource confirmed the operation
func (r Result[T]) OK() bool {
	return r.Outcome == types.OutcomeSucceeded
}

// Gateway is stateless; the snapshot is only read as a fallback for ListAll
type Gateway struct {
	remote   Remote
	snapshot state.Snapshot
	monitor  *monitoring.Monitor
	logger   zerolog.Logger
	newID    func() string
}

// Option configures a Gateway
type Option func(*Gateway)

// WithMonitor records outcome metrics and spans on m
func WithMonitor(m *monitoring.Monitor) Option {
	return func(g *Gateway) {
		g.monitor = m
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithIDGenerator overrides how new agent ids are produced
func WithIDGenerator(fn func() string) Option {
	return func(g *Gateway) {
		g.newID = fn
	}
}

// New creates a gateway. snapshot may be nil, in which case a failed list
// falls back to an empty collection.
func New(remote Remote, snapshot state.Snapshot, opts ...Option) *Gateway {
	g := &Gateway{
		remote:   remote,
		snapshot: snapshot,
		logger:   logging.WithComponent("gateway"),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ListAll returns the remote collection, or the snapshot contents when the
// remote cannot be reached
func (g *Gateway) ListAll(ctx context.Context) Result[[]types.Agent] {
	ctx, span := g.monitor.StartSpan(ctx, "gateway.list")
	defer span.End()
	start := time.Now()

	agents, err := g.remote.ListAgents(ctx)
	if err == nil {
		if agents == nil {
			agents = []types.Agent{}
		}
		return finish(g, ctx, "list", start, Result[[]types.Agent]{Value: agents, Outcome: types.OutcomeSucceeded})
	}

	fallback, outcome, snapErr := g.fallbackAgents(ctx)
	if snapErr != nil {
		err = errors.Join(err, snapErr)
	}
	span.SetAttributes(attribute.Int("agents.fallback", len(fallback)))
	return finish(g, ctx, "list", start, Result[[]types.Agent]{Value: fallback, Outcome: outcome, Err: err})
}

func (g *Gateway) fallbackAgents(ctx context.Context) ([]types.Agent, types.Outcome, error) {
	if g.snapshot == nil {
		return []types.Agent{}, types.OutcomeDegraded, nil
	}
	agents, err := g.snapshot.Load(ctx)
	switch {
	case errors.Is(err, rerrors.ErrSnapshotMissing):
		return []types.Agent{}, types.OutcomeDegraded, nil
	case err != nil:
		return []types.Agent{}, types.OutcomeFailed, err
	default:
		return agents, types.OutcomeDegraded, nil
	}
}

// Create assigns a new id to draft and sends it to the remote. On failure the
// locally built record is returned.
func (g *Gateway) Create(ctx context.Context, draft types.AgentDraft) Result[types.Agent] {
	local := draft.WithID(g.newID())

	ctx, span := g.monitor.StartSpan(ctx, "gateway.create", attribute.String("agent.id", local.ID))
	defer span.End()
	start := time.Now()

	created, err := g.remote.CreateAgent(ctx, local)
	if err != nil {
		return finish(g, ctx, "create", start, Result[types.Agent]{Value: local, Outcome: types.OutcomeDegraded, Err: err})
	}
	if created.ID == "" {
		created = local
	}
	return finish(g, ctx, "create", start, Result[types.Agent]{Value: created, Outcome: types.OutcomeSucceeded})
}

// Update sends agent to the remote. On failure agent is returned unchanged.
func (g *Gateway) Update(ctx context.Context, agent types.Agent) Result[types.Agent] {
	ctx, span := g.monitor.StartSpan(ctx, "gateway.update", attribute.String("agent.id", agent.ID))
	defer span.End()
	start := time.Now()

	updated, err := g.remote.UpdateAgent(ctx, agent)
	if err != nil {
		return finish(g, ctx, "update", start, Result[types.Agent]{Value: agent, Outcome: types.OutcomeDegraded, Err: err})
	}
	if updated.ID == "" {
		updated = agent
	}
	return finish(g, ctx, "update", start, Result[types.Agent]{Value: updated, Outcome: types.OutcomeSucceeded})
}

// Delete removes id remotely. Value is true only on confirmed success.
func (g *Gateway) Delete(ctx context.Context, id string) Result[bool] {
	ctx, span := g.monitor.StartSpan(ctx, "gateway.delete", attribute.String("agent.id", id))
	defer span.End()
	start := time.Now()

	if err := g.remote.DeleteAgent(ctx, id); err != nil {
		return finish(g, ctx, "delete", start, Result[bool]{Value: false, Outcome: types.OutcomeFailed, Err: err})
	}
	return finish(g, ctx, "delete", start, Result[bool]{Value: true, Outcome: types.OutcomeSucceeded})
}

func finish[T any](g *Gateway, ctx context.Context, op string, start time.Time, result Result[T]) Result[T] {
	g.monitor.RecordGatewayOperation(op, result.Outcome, time.Since(start))

	if result.Outcome != types.OutcomeSucceeded {
		logger := logging.WithContext(ctx, g.logger)
		logger.Warn().
			Err(result.Err).
			Str("operation", op).
			Str("outcome", result.Outcome.String()).
			Msg("Remote agent operation failed")
	}
	return result
}
