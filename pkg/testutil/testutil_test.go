package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rizome-dev/roster/pkg/types"
)

func TestFakeRemote(t *testing.T) {
	seeded := CreateTestAgent("a1", "Jane Doe")
	remote, err := NewFakeRemote(seeded)
	if err != nil {
		t.Fatalf("Failed to create fake remote: %v", err)
	}
	defer remote.Close()

	resp, err := http.Get(remote.URL() + "/agents/a1")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for seeded agent, got %d", resp.StatusCode)
	}

	if got := remote.Agents(); len(got) != 1 || got[0] != seeded {
		t.Errorf("Expected seeded agent, got %v", got)
	}

	if remote.Requests() != 1 {
		t.Errorf("Expected 1 request, got %d", remote.Requests())
	}
}

func TestFakeRemoteFailureModes(t *testing.T) {
	remote, err := NewFakeRemote()
	if err != nil {
		t.Fatalf("Failed to create fake remote: %v", err)
	}
	defer remote.Close()

	remote.SetFailure(http.StatusServiceUnavailable)
	resp, err := http.Get(remote.URL() + "/agents")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}

	remote.SetFailure(0)
	remote.SetUnreachable(true)
	if resp, err := http.Get(remote.URL() + "/agents"); err == nil {
		resp.Body.Close()
		t.Error("Expected a transport error from an unreachable remote")
	}

	remote.SetUnreachable(false)
	resp, err = http.Get(remote.URL() + "/agents")
	if err != nil {
		t.Fatalf("Request failed after recovery: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after recovery, got %d", resp.StatusCode)
	}
}

func TestCreateTestEnvironment(t *testing.T) {
	env, err := CreateTestEnvironment(CreateTestAgent("a1", "Jane Doe"))
	if err != nil {
		t.Fatalf("Failed to create test environment: %v", err)
	}
	defer env.Stop()

	env.Controller.Initialize(context.Background())

	state := env.Controller.State()
	if state.Error != "" || state.Warning != "" {
		t.Errorf("Expected a clean state, got error=%q warning=%q", state.Error, state.Warning)
	}
	if len(state.Agents) != 1 {
		t.Fatalf("Expected 1 agent, got %d", len(state.Agents))
	}
	if state.Agents[0].ID != "a1" {
		t.Errorf("Expected agent a1, got %s", state.Agents[0].ID)
	}
}

func TestWaitForCondition(t *testing.T) {
	// Test condition that becomes true
	counter := 0
	condition := func() bool {
		counter++
		return counter >= 3
	}

	if !WaitForCondition(condition, 100*time.Millisecond, 10*time.Millisecond) {
		t.Error("Condition should have become true")
	}

	// Test condition that never becomes true
	alwaysFalse := func() bool {
		return false
	}

	start := time.Now()
	if WaitForCondition(alwaysFalse, 50*time.Millisecond, 10*time.Millisecond) {
		t.Error("Condition should not have become true")
	}

	duration := time.Since(start)
	if duration < 45*time.Millisecond {
		t.Errorf("Should have waited at least 45ms, waited %v", duration)
	}
}

func TestAssertEventually(t *testing.T) {
	counter := 0
	condition := func() bool {
		counter++
		return counter >= 2
	}

	if err := AssertEventually(condition, 100*time.Millisecond, "counter should reach 2"); err != nil {
		t.Errorf("AssertEventually should have succeeded: %v", err)
	}

	alwaysFalse := func() bool {
		return false
	}

	if err := AssertEventually(alwaysFalse, 50*time.Millisecond, "should always fail"); err == nil {
		t.Error("AssertEventually should have failed")
	}
}

func TestGetFreePort(t *testing.T) {
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}

	if port <= 0 || port > 65535 {
		t.Errorf("Invalid port number: %d", port)
	}
}

func TestTestConfig(t *testing.T) {
	config := TestConfig()

	if config == nil {
		t.Fatal("Test config should not be nil")
	}

	if config.Server.HTTP.Host != "127.0.0.1" {
		t.Errorf("Expected HTTP host '127.0.0.1', got %s", config.Server.HTTP.Host)
	}

	if config.Server.HTTP.Port != 0 {
		t.Error("Test config should use dynamic port (0)")
	}

	if config.State.Type != "memory" {
		t.Errorf("Expected state type 'memory', got %s", config.State.Type)
	}

	if config.Monitoring.Metrics.Enabled {
		t.Error("Metrics should be disabled in test config by default")
	}
}

func TestCreateTestDraft(t *testing.T) {
	draft := CreateTestDraft("Jane Doe")

	if draft.Email != "jane.doe@example.com" {
		t.Errorf("Expected derived email, got %s", draft.Email)
	}
	if draft.Status != types.AgentStatusActive {
		t.Errorf("Expected Active status, got %s", draft.Status)
	}
	if agent := CreateTestAgent("x", "Jane Doe"); agent.ID != "x" || agent.Name != "Jane Doe" {
		t.Errorf("Unexpected agent %+v", agent)
	}
}
