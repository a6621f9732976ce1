// Package testutil provides shared testing utilities and helpers for roster
package testutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rizome-dev/roster/pkg/client"
	"github.com/rizome-dev/roster/pkg/config"
	"github.com/rizome-dev/roster/pkg/controller"
	"github.com/rizome-dev/roster/pkg/gateway"
	"github.com/rizome-dev/roster/pkg/monitoring"
	"github.com/rizome-dev/roster/pkg/server"
	"github.com/rizome-dev/roster/pkg/state"
	"github.com/rizome-dev/roster/pkg/types"
)

// FakeRemote is an in-process agents resource backed by the real server
// handlers, with switchable failures
type FakeRemote struct {
	httpServer *httptest.Server
	repo       *server.Repository
	snapshot   *state.MemoryStore

	mu          sync.RWMutex
	failStatus  int
	unreachable bool
	requests    atomic.Int64
}

// NewFakeRemote starts a fake remote seeded with agents
func NewFakeRemote(agents ...types.Agent) (*FakeRemote, error) {
	snapshot := state.NewMemoryStore()
	if len(agents) > 0 {
		if err := snapshot.Save(context.Background(), agents); err != nil {
			return nil, err
		}
	}

	repo, err := server.NewRepository(context.Background(), snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	srv, err := server.NewServer(TestConfig(), repo, nil, zerolog.Nop())
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	remote := &FakeRemote{repo: repo, snapshot: snapshot}
	remote.httpServer = httptest.NewServer(remote.inject(srv.Handler()))
	return remote, nil
}

func (f *FakeRemote) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)

		f.mu.RLock()
		status, unreachable := f.failStatus, f.unreachable
		f.mu.RUnlock()

		if unreachable {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
			status = http.StatusBadGateway
		}
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// URL returns the base URL of the fake remote
func (f *FakeRemote) URL() string {
	return f.httpServer.URL
}

// Close shuts the fake remote down
func (f *FakeRemote) Close() {
	f.httpServer.Close()
}

// SetFailure makes every request answer with status; 0 restores service
func (f *FakeRemote) SetFailure(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStatus = status
}

// SetUnreachable makes every request drop its connection
func (f *FakeRemote) SetUnreachable(unreachable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable = unreachable
}

// Requests returns how many requests reached the fake remote
func (f *FakeRemote) Requests() int {
	return int(f.requests.Load())
}

// Agents returns what the remote currently stores
func (f *FakeRemote) Agents() []types.Agent {
	return f.repo.List()
}

// Repository returns the repository behind the fake remote
func (f *FakeRemote) Repository() *server.Repository {
	return f.repo
}

// TestEnvironment wires a console controller to a fake remote
type TestEnvironment struct {
	Remote     *FakeRemote
	Client     *client.Client
	Gateway    *gateway.Gateway
	Controller *controller.Controller
	Snapshot   *state.MemoryStore
	Monitor    *monitoring.Monitor
	Config     *config.Config
}

// TestConfig creates a test configuration
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()

	cfg.Remote.Timeout = 5 * time.Second
	cfg.Remote.DNSCacheTTL = 0
	cfg.State = config.StateConfig{Type: "memory", Slot: state.DefaultSlot}

	cfg.Server.HTTP.Host = "127.0.0.1"
	cfg.Server.HTTP.Port = 0 // Dynamic port
	cfg.Server.HTTP.ReadTimeout = 5 * time.Second
	cfg.Server.HTTP.WriteTimeout = 5 * time.Second
	cfg.Server.HTTP.IdleTimeout = 10 * time.Second
	cfg.Server.GRPC.Host = "127.0.0.1"
	cfg.Server.GRPC.Port = 0 // Dynamic port
	cfg.Server.State = config.StateConfig{Type: "memory", Slot: state.DefaultSlot}
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Server.HealthCheckInterval = 100 * time.Millisecond

	cfg.Monitoring.Metrics.Enabled = false // Disabled for testing by default
	cfg.Logging = config.LoggingConfig{Level: "info", Format: "json", Output: "stderr"}

	return cfg
}

// CreateTestEnvironment creates a complete console test environment
func CreateTestEnvironment(agents ...types.Agent) (*TestEnvironment, error) {
	cfg := TestConfig()

	remote, err := NewFakeRemote(agents...)
	if err != nil {
		return nil, err
	}

	monitor, err := monitoring.NewMonitor(&cfg.Monitoring)
	if err != nil {
		remote.Close()
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	logger := zerolog.Nop()
	snapshot := state.NewMemoryStore()
	c := client.New(
		client.WithBaseURL(remote.URL()),
		client.WithTimeout(cfg.Remote.Timeout),
	)
	gw := gateway.New(c, snapshot, gateway.WithMonitor(monitor), gateway.WithLogger(logger))

	return &TestEnvironment{
		Remote:  remote,
		Client:  c,
		Gateway: gw,
		Controller: controller.New(controller.Config{
			Store:          gw,
			Snapshot:       snapshot,
			Monitor:        monitor,
			Logger:         &logger,
			ConfirmDeletes: cfg.Controller.ConfirmDeletes,
		}),
		Snapshot: snapshot,
		Monitor:  monitor,
		Config:   cfg,
	}, nil
}

// Stop releases the environment
func (env *TestEnvironment) Stop() error {
	env.Client.Close()
	env.Remote.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.Monitor.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop monitor: %w", err)
	}
	return nil
}

// GetFreePort returns a free port for testing
func GetFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration, interval time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return false
		case <-ticker.C:
			if condition() {
				return true
			}
		}
	}
}

// AssertEventually asserts that a condition becomes true within a timeout
func AssertEventually(condition func() bool, timeout time.Duration, message string) error {
	if WaitForCondition(condition, timeout, 10*time.Millisecond) {
		return nil
	}
	return fmt.Errorf("condition not met within timeout: %s", message)
}

// CreateTestAgent creates a valid agent record
func CreateTestAgent(id, name string) types.Agent {
	return CreateTestDraft(name).WithID(id)
}

// CreateTestDraft creates a valid draft whose email derives from name
func CreateTestDraft(name string) types.AgentDraft {
	return types.AgentDraft{
		Name:   name,
		Email:  fmt.Sprintf("%s@example.com", emailLocal(name)),
		Status: types.AgentStatusActive,
	}
}

func emailLocal(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '.':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "agent"
	}
	return string(out)
}
