package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(cfg)
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("downstream failure")
		})
	}
}

func TestCircuitClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	failN(cb, 3)
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 while open", calls)
	}
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	failN(cb, 2)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	failN(cb, 2)

	if cb.State() != CircuitClosed {
		t.Errorf("state = %v, want closed: success should reset the streak", cb.State())
	}
}

func TestCircuitHalfOpenAfterResetTimeout(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
	})

	failN(cb, 1)
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	*now = now.Add(11 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
	}

	// Successful probe closes the circuit.
	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %v, want closed after probe success", cb.State())
	}
}

func TestCircuitProbeFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
	})

	failN(cb, 1)
	*now = now.Add(11 * time.Second)

	failN(cb, 1)
	*now = now.Add(time.Second)
	if cb.State() != CircuitOpen {
		t.Errorf("state = %v, want open after failed probe", cb.State())
	}
}

func TestCircuitHalfOpenMultipleProbes(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold:  1,
		ResetTimeout:      10 * time.Second,
		HalfOpenMaxProbes: 2,
	})

	failN(cb, 1)
	*now = now.Add(11 * time.Second)

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %v, want half-open after 1 of 2 probes", cb.State())
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if cb.State() != CircuitClosed {
		t.Errorf("state = %v, want closed after 2 probes", cb.State())
	}
}

func TestCircuitShouldTripFilter(t *testing.T) {
	tripErr := errors.New("trip")
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return errors.Is(err, tripErr) },
	})

	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("ignored")
	})
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %v, want closed for filtered error", cb.State())
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return tripErr })
	if cb.State() != CircuitOpen {
		t.Errorf("state = %v, want open for tripping error", cb.State())
	}
}

func TestCircuitReset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	failN(cb, 1)
	cb.Reset()

	if cb.State() != CircuitClosed {
		t.Errorf("state = %v, want closed after Reset", cb.State())
	}
	failures, _ := cb.Counters()
	if failures != 0 {
		t.Errorf("failures = %d, want 0 after Reset", failures)
	}
}

func TestCircuitCounters(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 5})

	failN(cb, 3)
	failures, state := cb.Counters()
	if failures != 3 {
		t.Errorf("failures = %d, want 3", failures)
	}
	if state != CircuitClosed {
		t.Errorf("state = %v, want closed below threshold", state)
	}
}

func TestCircuitOnStateChange(t *testing.T) {
	var transitions [][2]CircuitState
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, [2]CircuitState{from, to})
		},
	})

	failN(cb, 1)
	*now = now.Add(11 * time.Second)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })

	want := [][2]CircuitState{
		{CircuitClosed, CircuitOpen},
		{CircuitOpen, CircuitHalfOpen},
		{CircuitHalfOpen, CircuitClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestCircuitStateString(t *testing.T) {
	cases := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(99): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("String(%d) = %q, want %q", state, got, want)
		}
	}
}
