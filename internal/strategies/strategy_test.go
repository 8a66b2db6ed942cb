package strategies

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ferro-labs/agent-router/internal/health"
	"github.com/ferro-labs/agent-router/internal/routeerr"
	"github.com/ferro-labs/agent-router/providers"
)

// mockDispatcher returns a canned response or error per provider and
// records the dispatch order.
type mockDispatcher struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []string
	// onDispatch runs before the outcome is decided; it may change errs.
	onDispatch func(name string)
}

func (m *mockDispatcher) Dispatch(_ context.Context, ep providers.Endpoint, req providers.Request) (*providers.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ep.Name)
	hook := m.onDispatch
	m.mu.Unlock()

	if hook != nil {
		hook(ep.Name)
	}
	m.mu.Lock()
	err := m.errs[ep.Name]
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &providers.Response{ID: "resp-" + ep.Name, Model: req.Model}, nil
}

// switchChecker reports providers in down as failing; the set can change
// between probes.
type switchChecker struct {
	mu   sync.Mutex
	down map[string]bool
}

func (c *switchChecker) Check(_ context.Context, ep providers.Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down[ep.Name] {
		return errors.New("health endpoint unreachable")
	}
	return nil
}

func (c *switchChecker) setDown(name string, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[name] = down
}

func endpoints(model string, names ...string) []providers.Endpoint {
	out := make([]providers.Endpoint, len(names))
	for i, n := range names {
		out[i] = providers.Endpoint{Name: n, Models: []string{model}}
	}
	return out
}

func newTestFallback(d *mockDispatcher, down ...string) (*Fallback, *health.Monitor, *switchChecker) {
	checker := &switchChecker{down: map[string]bool{}}
	for _, n := range down {
		checker.down[n] = true
	}
	mon := health.NewMonitor(checker)
	return NewFallback(d, mon), mon, checker
}

func TestFallback_PrimarySuccess(t *testing.T) {
	d := &mockDispatcher{}
	f, _, _ := newTestFallback(d)

	res, err := f.Route(context.Background(), providers.PingRequest("m"), "m", endpoints("m", "a"), 3)
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if res.Reason != ReasonPrimary || res.Provider != "a" || res.Attempts != 1 {
		t.Errorf("Result = %+v", res)
	}
	if res.Response == nil || res.Response.ID != "resp-a" {
		t.Errorf("Response = %+v", res.Response)
	}
}

func TestFallback_AlwaysFailingExhaustsExactly(t *testing.T) {
	boom := errors.New("upstream 500")
	d := &mockDispatcher{errs: map[string]error{"a": boom}}
	f, _, _ := newTestFallback(d)

	res, err := f.Route(context.Background(), providers.PingRequest("m"), "m", endpoints("m", "a"), 3)

	var exhausted *routeerr.FallbackExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected FallbackExhaustedError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("exhausted error must wrap the last failure")
	}
	if len(d.calls) != 3 {
		t.Errorf("dispatch attempts = %d, want 3", len(d.calls))
	}
	if res.Attempts != 3 || res.Provider != "a" {
		t.Errorf("Result = %+v", res)
	}
}

func TestFallback_FailoverToNextHealthy(t *testing.T) {
	d := &mockDispatcher{errs: map[string]error{}}
	f, mon, checker := newTestFallback(d)
	eps := endpoints("m", "a", "b")
	// Whichever provider is tried first fails, and so does its re-probe.
	d.onDispatch = func(name string) {
		d.mu.Lock()
		first := len(d.calls) == 1
		if first {
			d.errs[name] = errors.New("503")
		}
		d.mu.Unlock()
		if first {
			checker.setDown(name, true)
		}
	}

	res, err := f.Route(context.Background(), providers.PingRequest("m"), "m", eps, 3)
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if res.Reason != ReasonFallback || res.Attempts != 2 {
		t.Errorf("Result = %+v, want fallback after 2 attempts", res)
	}
	if len(d.calls) != 2 || d.calls[0] == d.calls[1] || res.Provider != d.calls[1] {
		t.Errorf("dispatch order = %v, served by %s", d.calls, res.Provider)
	}
	if h, _ := mon.Get(d.calls[0]); h.Healthy {
		t.Error("failing provider must be re-probed before the next attempt")
	}
}

func TestFallback_NoHealthyFailsWithoutDispatch(t *testing.T) {
	d := &mockDispatcher{}
	f, _, _ := newTestFallback(d, "a", "b")

	_, err := f.Route(context.Background(), providers.PingRequest("m"), "m", endpoints("m", "a", "b"), 5)

	var noHealthy *routeerr.NoHealthyProviderError
	if !errors.As(err, &noHealthy) {
		t.Fatalf("expected NoHealthyProviderError, got %v", err)
	}
	if len(d.calls) != 0 {
		t.Errorf("dispatched %d times, want 0", len(d.calls))
	}
}

func TestFallback_NoCandidates(t *testing.T) {
	d := &mockDispatcher{}
	f, _, _ := newTestFallback(d)

	_, err := f.Route(context.Background(), providers.PingRequest("x"), "x", endpoints("m", "a"), 3)
	var noHealthy *routeerr.NoHealthyProviderError
	if !errors.As(err, &noHealthy) || len(noHealthy.Candidates) != 0 {
		t.Fatalf("expected NoHealthyProviderError with no candidates, got %v", err)
	}
}

func TestFallback_StopsWhenLastCandidateTurnsUnhealthy(t *testing.T) {
	d := &mockDispatcher{errs: map[string]error{"a": errors.New("500")}}
	f, _, checker := newTestFallback(d)
	d.onDispatch = func(string) { checker.setDown("a", true) }

	_, err := f.Route(context.Background(), providers.PingRequest("m"), "m", endpoints("m", "a"), 3)

	var noHealthy *routeerr.NoHealthyProviderError
	if !errors.As(err, &noHealthy) {
		t.Fatalf("expected NoHealthyProviderError, got %v", err)
	}
	if noHealthy.Last == nil {
		t.Error("NoHealthyProviderError should carry the preceding failure")
	}
	if len(d.calls) != 1 {
		t.Errorf("dispatch attempts = %d, want 1", len(d.calls))
	}
}

func TestFallback_ZeroAttemptsStillTriesOnce(t *testing.T) {
	d := &mockDispatcher{}
	f, _, _ := newTestFallback(d)
	if _, err := f.Route(context.Background(), providers.PingRequest("m"), "m", endpoints("m", "a"), 0); err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if len(d.calls) != 1 {
		t.Errorf("dispatch attempts = %d, want 1", len(d.calls))
	}
}

func TestFallback_CanceledContext(t *testing.T) {
	d := &mockDispatcher{}
	f, mon, _ := newTestFallback(d)
	eps := endpoints("m", "a")
	mon.ProbeAll(context.Background(), eps)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Route(ctx, providers.PingRequest("m"), "m", eps, 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(d.calls) != 0 {
		t.Errorf("dispatched %d times after cancel", len(d.calls))
	}
}

func TestUnmonitored_CyclesThroughCandidates(t *testing.T) {
	boom := errors.New("upstream 500")
	d := &mockDispatcher{errs: map[string]error{"a": boom, "b": boom}}
	f := NewFallback(d, NewUnmonitored())

	_, err := f.Route(context.Background(), providers.PingRequest("m"), "m", endpoints("m", "b", "a"), 3)

	var exhausted *routeerr.FallbackExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected FallbackExhaustedError, got %v", err)
	}
	want := []string{"a", "b", "a"}
	if len(d.calls) != len(want) {
		t.Fatalf("dispatch order = %v, want %v", d.calls, want)
	}
	for i := range want {
		if d.calls[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", d.calls, want)
		}
	}
}

func TestUnmonitored_SkipsFailedProvider(t *testing.T) {
	d := &mockDispatcher{errs: map[string]error{"a": errors.New("503")}}
	f := NewFallback(d, NewUnmonitored())

	res, err := f.Route(context.Background(), providers.PingRequest("m"), "m", endpoints("m", "a", "b"), 3)
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if res.Provider != "b" || res.Reason != ReasonFallback || len(d.calls) != 2 {
		t.Errorf("Result = %+v, calls = %v", res, d.calls)
	}
}

func TestFallback_SkipsFailedProviderWhileOthersRemain(t *testing.T) {
	d := &mockDispatcher{errs: map[string]error{"a": errors.New("503")}}
	f, mon, _ := newTestFallback(d)
	eps := endpoints("m", "a", "b")
	mon.ProbeAll(context.Background(), eps)

	res, err := f.Route(context.Background(), providers.PingRequest("m"), "m", eps, 3)
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if res.Provider != "b" {
		t.Errorf("served by %s, want b (calls %v)", res.Provider, d.calls)
	}
	aCalls := 0
	for _, c := range d.calls {
		if c == "a" {
			aCalls++
		}
	}
	if aCalls > 1 {
		t.Errorf("a dispatched %d times while b was healthy: %v", aCalls, d.calls)
	}
}

func TestFallback_RetriesLoneFailingProviderAcrossRounds(t *testing.T) {
	d := &mockDispatcher{errs: map[string]error{"a": errors.New("503"), "b": errors.New("503")}}
	f, _, _ := newTestFallback(d)

	_, err := f.Route(context.Background(), providers.PingRequest("m"), "m", endpoints("m", "a", "b"), 5)
	var exhausted *routeerr.FallbackExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected FallbackExhaustedError, got %v", err)
	}
	if len(d.calls) != 5 {
		t.Fatalf("dispatch attempts = %d, want 5", len(d.calls))
	}
	// No provider is picked twice in a row while the other is untried.
	if d.calls[0] == d.calls[1] {
		t.Errorf("dispatch order = %v", d.calls)
	}
}
