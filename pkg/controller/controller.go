// Package controller holds the canonical in-memory agent collection and folds
// record store results into it. Every change to the collection is mirrored to
// the durable snapshot.
package controller

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rizome-dev/roster/pkg/gateway"
	"github.com/rizome-dev/roster/pkg/logging"
	"github.com/rizome-dev/roster/pkg/monitoring"
	"github.com/rizome-dev/roster/pkg/state"
	"github.com/rizome-dev/roster/pkg/types"
	"github.com/rizome-dev/roster/pkg/validation"
)

// Messages surfaced through State.Error and State.Warning
const (
	MsgFetchFailed  = "Failed to fetch agents"
	MsgAddFailed    = "Failed to add agent"
	MsgUpdateFailed = "Failed to update agent"
	MsgDeleteFailed = "Failed to delete agent"
)

// Store is the record store the controller drives
type Store interface {
	ListAll(ctx context.Context) gateway.Result[[]types.Agent]
	Create(ctx context.Context, draft types.AgentDraft) gateway.Result[types.Agent]
	Update(ctx context.Context, agent types.Agent) gateway.Result[types.Agent]
	Delete(ctx context.Context, id string) gateway.Result[bool]
}

// Config wires the controller's dependencies
type Config struct {
	Store    Store
	Snapshot state.Snapshot
	Monitor  *monitoring.Monitor
	Logger   *zerolog.Logger

	// ConfirmDeletes keeps a record until the remote confirms its deletion
	ConfirmDeletes bool
}

// Controller is safe for concurrent use
type Controller struct {
	store          Store
	snapshot       state.Snapshot
	monitor        *monitoring.Monitor
	logger         zerolog.Logger
	confirmDeletes bool

	mu       sync.RWMutex
	state    types.State
	inFlight int

	persistMu sync.Mutex
}

// New creates a controller with an empty collection
func New(cfg Config) *Controller {
	logger := logging.WithComponent("controller")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Controller{
		store:          cfg.Store,
		snapshot:       cfg.Snapshot,
		monitor:        cfg.Monitor,
		logger:         logger,
		confirmDeletes: cfg.ConfirmDeletes,
		state:          types.State{Agents: []types.Agent{}},
	}
}

// Initialize replaces the collection with the store's listing
func (c *Controller) Initialize(ctx context.Context) {
	c.begin()
	defer c.end()

	result := c.store.ListAll(ctx)
	switch result.Outcome {
	case types.OutcomeFailed:
		// nothing trustworthy to replace the collection with
		c.dispatch(ctx, SetError{Message: MsgFetchFailed})
	case types.OutcomeDegraded:
		c.dispatch(ctx, SetAgents{Agents: result.Value})
		c.dispatch(ctx, SetWarning{Message: MsgFetchFailed})
	default:
		c.dispatch(ctx, SetAgents{Agents: result.Value})
	}
	c.record("initialize", result.Outcome)
}

// Create validates draft, sends it to the store and appends the result. Only
// validation failures are returned as errors; remote failures are reported
// through the state.
func (c *Controller) Create(ctx context.Context, draft types.AgentDraft) (types.Agent, error) {
	if err := validation.ValidateDraft(draft); err != nil {
		c.monitor.RecordControllerOperation("create", "invalid")
		return types.Agent{}, err
	}

	c.begin()
	defer c.end()

	result := c.store.Create(ctx, draft)
	switch result.Outcome {
	case types.OutcomeFailed:
		c.dispatch(ctx, SetError{Message: MsgAddFailed})
	case types.OutcomeDegraded:
		c.dispatch(ctx, AddAgent{Agent: result.Value})
		c.dispatch(ctx, SetWarning{Message: MsgAddFailed})
	default:
		c.dispatch(ctx, AddAgent{Agent: result.Value})
	}
	c.record("create", result.Outcome)
	return result.Value, nil
}

// Update validates agent, sends it to the store and replaces the record with
// the same id. Unknown ids leave the collection unchanged.
func (c *Controller) Update(ctx context.Context, agent types.Agent) (types.Agent, error) {
	if err := validation.ValidateAgent(agent); err != nil {
		c.monitor.RecordControllerOperation("update", "invalid")
		return types.Agent{}, err
	}

	c.begin()
	defer c.end()

	result := c.store.Update(ctx, agent)
	switch result.Outcome {
	case types.OutcomeFailed:
		c.dispatch(ctx, SetError{Message: MsgUpdateFailed})
	case types.OutcomeDegraded:
		c.dispatch(ctx, UpdateAgent{Agent: result.Value})
		c.dispatch(ctx, SetWarning{Message: MsgUpdateFailed})
	default:
		c.dispatch(ctx, UpdateAgent{Agent: result.Value})
	}
	c.record("update", result.Outcome)
	return result.Value, nil
}

// Remove deletes id from the store and the collection. Unless ConfirmDeletes
// is set the record is removed locally even when the remote delete fails.
// Removing an id that is not in the collection does nothing.
func (c *Controller) Remove(ctx context.Context, id string) error {
	if _, ok := c.FindByID(id); !ok {
		return nil
	}

	c.begin()
	defer c.end()

	result := c.store.Delete(ctx, id)
	if result.Value || !c.confirmDeletes {
		c.dispatch(ctx, DeleteAgent{ID: id})
	}
	if !result.Value {
		c.dispatch(ctx, SetError{Message: MsgDeleteFailed})
	}
	c.record("delete", result.Outcome)
	return nil
}

// FindByID returns the agent with the given id
func (c *Controller) FindByID(id string) (types.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i := indexOf(c.state.Agents, id); i >= 0 {
		return c.state.Agents[i], true
	}
	return types.Agent{}, false
}

// State returns a copy of the current state
func (c *Controller) State() types.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Agents returns a copy of the collection
func (c *Controller) Agents() []types.Agent {
	return c.State().Agents
}

// Filter returns the agents matching query
func (c *Controller) Filter(query string) []types.Agent {
	return Filter(c.Agents(), query)
}

// Dispatch applies an action directly. Collection changes are persisted.
func (c *Controller) Dispatch(ctx context.Context, action Action) {
	c.dispatch(ctx, action)
}

func (c *Controller) dispatch(ctx context.Context, action Action) {
	c.mu.Lock()
	c.state = Reduce(c.state, action)
	if !changesAgents(action) {
		c.mu.Unlock()
		return
	}
	agents := c.state.Agents
	c.monitor.SetAgentsTotal(len(agents))

	// persistMu is taken before c.mu is released so snapshot writes keep
	// the order of state changes while readers proceed
	c.persistMu.Lock()
	c.mu.Unlock()
	defer c.persistMu.Unlock()

	c.persist(ctx, agents)
}

// persist writes the collection to the snapshot. Failures are logged only.
// Callers hold c.persistMu; agents is never mutated after Reduce returns it.
func (c *Controller) persist(ctx context.Context, agents []types.Agent) {
	if c.snapshot == nil {
		return
	}
	err := c.snapshot.Save(context.WithoutCancel(ctx), agents)
	c.monitor.RecordSnapshotWrite(err)
	if err != nil {
		logger := logging.WithContext(ctx, c.logger)
		logger.Warn().Err(err).Int("agents", len(agents)).Msg("Failed to write agent snapshot")
	}
}

// begin clears any previous error and marks an operation in flight
func (c *Controller) begin() {
	c.mu.Lock()
	c.inFlight++
	c.state = Reduce(c.state, ClearError{})
	c.state = Reduce(c.state, SetLoading{Loading: true})
	c.mu.Unlock()

	c.monitor.OperationStarted()
}

func (c *Controller) end() {
	c.mu.Lock()
	c.inFlight--
	c.state = Reduce(c.state, SetLoading{Loading: c.inFlight > 0})
	c.mu.Unlock()

	c.monitor.OperationFinished()
}

func (c *Controller) record(op string, outcome types.Outcome) {
	c.monitor.RecordControllerOperation(op, outcome.String())
	c.logger.Debug().Str("operation", op).Str("outcome", outcome.String()).Msg("Controller operation finished")
}
