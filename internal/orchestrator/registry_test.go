package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aristath/dispatch/internal/agent"
)

// scriptedExecutor returns its responses in order: each entry is either an
// agent.Result or an error.
type scriptedExecutor struct {
	mu        sync.Mutex
	responses []any
	calls     int
}

func (s *scriptedExecutor) Run(ctx context.Context, req agent.Request) (agent.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls >= len(s.responses) {
		return agent.Result{}, fmt.Errorf("unexpected call %d (only %d scripted)", s.calls+1, len(s.responses))
	}
	resp := s.responses[s.calls]
	s.calls++

	switch v := resp.(type) {
	case agent.Result:
		return v, nil
	case error:
		return agent.Result{}, v
	default:
		return agent.Result{}, fmt.Errorf("invalid scripted response type %T", v)
	}
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func permanent(msg string) error {
	return &agent.ExecError{Transient: false, Err: errors.New(msg)}
}

// testMatrix gives three equally-capable agents so the chain order is the
// fixed ID tie-break: aider, claude, copilot.
func testMatrix() agent.Matrix {
	return agent.Matrix{
		"aider":   {ID: "aider", MaxContext: 10000, Tier: agent.TierStandard},
		"claude":  {ID: "claude", MaxContext: 10000, Tier: agent.TierStandard},
		"copilot": {ID: "copilot", MaxContext: 10000, Tier: agent.TierStandard},
	}
}

func testConfig() ResilienceConfig {
	return ResilienceConfig{
		FailureThreshold: 5,
		Cooldown:         50 * time.Millisecond,
		RetryAttempts:    0,
		CallTimeout:      time.Second,
		RetryInterval:    time.Millisecond,
		RetryMaxInterval: 5 * time.Millisecond,
	}
}

func TestRegistryAvailability(t *testing.T) {
	r := New(testMatrix(), testConfig(), nil)

	if r.IsAvailable("claude") {
		t.Error("unregistered agent reported available")
	}

	r.Register("claude", &scriptedExecutor{})
	r.Register("aider", &scriptedExecutor{})
	if !r.IsAvailable("claude") {
		t.Error("registered agent reported unavailable")
	}

	got := r.ListAvailable()
	if len(got) != 2 || got[0] != "aider" || got[1] != "claude" {
		t.Errorf("ListAvailable() = %v, want [aider claude]", got)
	}

	r.Deregister("claude")
	if r.IsAvailable("claude") {
		t.Error("deregistered agent still available")
	}
}

// TestExecuteFallbackChain: first two candidates throw, the third succeeds.
func TestExecuteFallbackChain(t *testing.T) {
	r := New(testMatrix(), testConfig(), nil)
	aider := &scriptedExecutor{responses: []any{permanent("aider broke")}}
	claude := &scriptedExecutor{responses: []any{permanent("claude broke")}}
	copilot := &scriptedExecutor{responses: []any{agent.Result{Output: "done"}}}
	r.Register("aider", aider)
	r.Register("claude", claude)
	r.Register("copilot", copilot)

	res, err := r.Execute(context.Background(), agent.Request{Complexity: agent.Moderate, ContextSize: 1000})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Output != "done" || res.Agent != "copilot" {
		t.Errorf("Execute() = %+v, want output from copilot", res)
	}
	if aider.callCount() != 1 || claude.callCount() != 1 || copilot.callCount() != 1 {
		t.Errorf("call counts = %d/%d/%d, want 1/1/1",
			aider.callCount(), claude.callCount(), copilot.callCount())
	}
}

// TestExecuteAllFail: exhausted chain reports every cause, in order.
func TestExecuteAllFail(t *testing.T) {
	r := New(testMatrix(), testConfig(), nil)
	r.Register("aider", &scriptedExecutor{responses: []any{permanent("a")}})
	r.Register("claude", &scriptedExecutor{responses: []any{permanent("b")}})
	r.Register("copilot", &scriptedExecutor{responses: []any{permanent("c")}})

	_, err := r.Execute(context.Background(), agent.Request{ContextSize: 1000})
	var aaf *AllAgentsFailed
	if !errors.As(err, &aaf) {
		t.Fatalf("Execute() error = %v, want AllAgentsFailed", err)
	}
	if len(aaf.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(aaf.Attempts))
	}
	wantOrder := []agent.ID{"aider", "claude", "copilot"}
	for i, a := range aaf.Attempts {
		if a.Agent != wantOrder[i] {
			t.Errorf("attempt %d agent = %s, want %s", i, a.Agent, wantOrder[i])
		}
		if a.Err == nil {
			t.Errorf("attempt %d has no cause", i)
		}
	}
}

func TestExecuteNoCapableAgent(t *testing.T) {
	r := New(testMatrix(), testConfig(), nil)
	r.Register("claude", &scriptedExecutor{})

	_, err := r.Execute(context.Background(), agent.Request{RequiresPlanApproval: true})
	if !errors.Is(err, agent.ErrNoCapableAgent) {
		t.Errorf("Execute() error = %v, want ErrNoCapableAgent", err)
	}
}

// TestExecuteSkipsOpenBreaker: an open breaker removes the agent from the
// chain without invoking its executor.
func TestExecuteSkipsOpenBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.Cooldown = time.Minute
	r := New(testMatrix(), cfg, nil)

	aider := &scriptedExecutor{responses: []any{permanent("down")}}
	copilot := &scriptedExecutor{responses: []any{agent.Result{Output: "one"}, agent.Result{Output: "two"}}}
	r.Register("aider", aider)
	r.Register("copilot", copilot)

	// First call trips aider's breaker and falls through to copilot.
	res, err := r.Execute(context.Background(), agent.Request{ContextSize: 1000})
	if err != nil || res.Output != "one" {
		t.Fatalf("first Execute() = %+v, %v", res, err)
	}
	if r.IsAvailable("aider") {
		t.Fatal("aider should be breaker-open")
	}

	// Second call: aider is excluded by the availability filter entirely.
	res, err = r.Execute(context.Background(), agent.Request{ContextSize: 1000})
	if err != nil || res.Output != "two" {
		t.Fatalf("second Execute() = %+v, %v", res, err)
	}
	if aider.callCount() != 1 {
		t.Errorf("aider invoked %d times, want 1 (breaker must fast-fail)", aider.callCount())
	}
}
