package partner

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerInitialState(t *testing.T) {
	cb := NewBreaker(nil)

	if cb.State() != StateClosed {
		t.Errorf("expected initial state to be closed, got %s", cb.State())
	}

	stats := cb.Stats()
	if stats.TotalRequests != 0 {
		t.Errorf("expected 0 total requests, got %d", stats.TotalRequests)
	}
}

func TestBreakerSuccessfulRequests(t *testing.T) {
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 5, Cooldown: time.Second})

	for i := 0; i < 10; i++ {
		err := cb.Execute(func() error {
			return nil
		})
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("expected state to remain closed, got %s", cb.State())
	}

	stats := cb.Stats()
	if stats.TotalSuccesses != 10 {
		t.Errorf("expected 10 successes, got %d", stats.TotalSuccesses)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second})

	testErr := errors.New("partner down")

	for i := 0; i < 5; i++ {
		cb.Execute(func() error {
			return testErr
		})
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected state to be open after 5 failures, got %s", cb.State())
	}

	// The 6th call must be rejected without executing fn
	executed := false
	err := cb.Execute(func() error {
		executed = true
		return nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if executed {
		t.Error("expected fn not to run while circuit is open")
	}

	stats := cb.Stats()
	if stats.TotalRejected != 1 {
		t.Errorf("expected 1 rejected, got %d", stats.TotalRejected)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 3, Cooldown: time.Second})

	testErr := errors.New("flaky")

	// Two failures, then a success, then two more failures: still closed
	cb.Execute(func() error { return testErr })
	cb.Execute(func() error { return testErr })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return testErr })
	cb.Execute(func() error { return testErr })

	if cb.State() != StateClosed {
		t.Errorf("expected closed after non-consecutive failures, got %s", cb.State())
	}
}

func TestBreakerHalfOpenTrialSucceeds(t *testing.T) {
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 2, Cooldown: 20 * time.Millisecond})

	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errors.New("down") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	// Trial call passes through and succeeds: full reset
	err := cb.Execute(func() error { return nil })
	if err != nil {
		t.Errorf("expected trial call to succeed, got %v", err)
	}

	if cb.State() != StateClosed {
		t.Errorf("expected closed after successful trial, got %s", cb.State())
	}
}

func TestBreakerHalfOpenTrialFails(t *testing.T) {
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 2, Cooldown: 20 * time.Millisecond})

	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errors.New("down") })
	}

	time.Sleep(30 * time.Millisecond)

	cb.Execute(func() error { return errors.New("still down") })

	if cb.State() != StateOpen {
		t.Errorf("expected open after failed trial, got %s", cb.State())
	}
}

func TestBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	cb.Execute(func() error { return errors.New("down") })
	time.Sleep(20 * time.Millisecond)

	// Start the trial call but do not finish it
	started := make(chan struct{})
	release := make(chan struct{})
	go cb.Execute(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	// A second call during the trial must be rejected
	err := cb.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen during half-open trial, got %v", err)
	}

	close(release)
}

func TestBreakerNotifiesStateChanges(t *testing.T) {
	var transitions []string
	cb := NewBreaker(&BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         20 * time.Millisecond,
		OnStateChange:    func(state string) { transitions = append(transitions, state) },
	})

	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errors.New("down") })
	}

	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected trial call to succeed, got %v", err)
	}

	want := []string{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i, state := range want {
		if transitions[i] != state {
			t.Errorf("transition %d: expected %s, got %s", i, state, transitions[i])
		}
	}
}

func TestBreakerReset(t *testing.T) {
	cb := NewBreaker(&BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})

	cb.Execute(func() error { return errors.New("down") })
	if !cb.IsOpen() {
		t.Fatal("expected open")
	}

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("expected call to pass after reset, got %v", err)
	}
}
