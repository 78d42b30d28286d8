package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hse-digital/datalayer/internal/domain"
)

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	return NewMonitor(NewTable(), cfg, zerolog.Nop())
}

// ─── Table Tests ────────────────────────────────────────────────────────────

func TestTable_UnknownUntilFirstReport(t *testing.T) {
	tb := NewTable()
	rec := tb.Get("primary")
	if rec.State != domain.StateUnknown {
		t.Errorf("State = %s, want unknown", rec.State)
	}
	if tb.Healthy("primary") {
		t.Error("unknown endpoint reported healthy")
	}
	if !tb.Usable("primary") {
		t.Error("unknown endpoint should still be usable")
	}
}

func TestTable_CounterResetOnSuccess(t *testing.T) {
	tb := NewTable()

	tb.ReportFailure("primary", errors.New("refused"))
	tb.ReportFailure("primary", errors.New("refused"))
	tb.ReportFailure("primary", errors.New("refused"))
	if got := tb.Get("primary").ConsecutiveFails; got != 3 {
		t.Fatalf("ConsecutiveFails = %d, want 3", got)
	}

	tb.ReportSuccess("primary")
	rec := tb.Get("primary")
	if rec.ConsecutiveFails != 0 {
		t.Errorf("ConsecutiveFails after success = %d, want 0", rec.ConsecutiveFails)
	}
	if rec.State != domain.StateHealthy {
		t.Errorf("State = %s, want healthy", rec.State)
	}
	if rec.HealthySince.IsZero() {
		t.Error("HealthySince not set on recovery")
	}
}

func TestTable_CounterNeverDecrementedByFailure(t *testing.T) {
	tb := NewTable()
	for i := 1; i <= 5; i++ {
		tb.ReportFailure("primary", errors.New("down"))
		if got := tb.Get("primary").ConsecutiveFails; got != i {
			t.Fatalf("after %d failures ConsecutiveFails = %d", i, got)
		}
	}
}

func TestTable_HealthySincePreservedAcrossSuccesses(t *testing.T) {
	tb := NewTable()
	tb.ReportSuccess("store-eu")
	first := tb.Get("store-eu").HealthySince

	time.Sleep(5 * time.Millisecond)
	tb.ReportSuccess("store-eu")
	if got := tb.Get("store-eu").HealthySince; !got.Equal(first) {
		t.Errorf("HealthySince moved on repeat success: %v → %v", first, got)
	}

	tb.ReportFailure("store-eu", errors.New("blip"))
	if !tb.Get("store-eu").HealthySince.IsZero() {
		t.Error("HealthySince not cleared on failure")
	}
}

func TestTable_ConcurrentCounterUpdates(t *testing.T) {
	tb := NewTable()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tb.ReportFailure("primary", errors.New("down"))
		}()
	}
	wg.Wait()

	if got := tb.Get("primary").ConsecutiveFails; got != n {
		t.Errorf("ConsecutiveFails = %d, want %d (lost updates)", got, n)
	}
}

func TestTable_Force(t *testing.T) {
	tb := NewTable()
	tb.ReportFailure("cache-primary", errors.New("down"))
	tb.ReportFailure("cache-primary", errors.New("down"))

	tb.Force("cache-primary", false)
	if got := tb.Get("cache-primary").ConsecutiveFails; got != 2 {
		t.Errorf("Force touched the counter: %d, want 2", got)
	}

	tb.Force("cache-primary", true)
	if !tb.Healthy("cache-primary") {
		t.Error("Force(true) did not mark healthy")
	}
}

func TestTable_Snapshot(t *testing.T) {
	tb := NewTable()
	tb.ReportSuccess("primary")
	tb.ReportSuccess("replica-us-east")
	tb.ReportFailure("replica-ap-south", errors.New("down"))

	snap := tb.Snapshot()
	if snap.HealthyCount != 2 || snap.UnhealthyCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", snap.HealthyCount, snap.UnhealthyCount)
	}
	if len(snap.Records) != 3 {
		t.Errorf("records = %d, want 3", len(snap.Records))
	}
}

// ─── Monitor Tests ──────────────────────────────────────────────────────────

func TestMonitor_ProbeLoopTransitions(t *testing.T) {
	m := newTestMonitor(t, Config{Interval: 10 * time.Millisecond, Timeout: 5 * time.Millisecond})

	var mu sync.Mutex
	fail := false
	m.Register("primary", func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("connection refused")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return m.Table().Healthy("primary") }, "endpoint never became healthy")

	mu.Lock()
	fail = true
	mu.Unlock()
	waitFor(t, func() bool { return m.Table().Get("primary").State == domain.StateUnhealthy }, "endpoint never became unhealthy")

	// A single successful probe recovers the endpoint.
	mu.Lock()
	fail = false
	mu.Unlock()
	waitFor(t, func() bool { return m.Table().Healthy("primary") }, "endpoint never recovered")

	cancel()
	<-done
}

func TestMonitor_ProbeTimeoutRecordedAsFailure(t *testing.T) {
	m := newTestMonitor(t, Config{Interval: 50 * time.Millisecond, Timeout: 5 * time.Millisecond})
	m.Register("primary", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool {
		rec := m.Table().Get("primary")
		return rec.State == domain.StateUnhealthy && rec.LastError == domain.ErrProbeTimeout.Error()
	}, "hung probe not recorded as probe timeout")

	cancel()
	<-done
}

func TestMonitor_ShutdownCancelsProbes(t *testing.T) {
	m := newTestMonitor(t, Config{Interval: 5 * time.Millisecond, Timeout: 2 * time.Millisecond})
	m.Register("primary", func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestMonitor_TimeoutClampedBelowInterval(t *testing.T) {
	m := newTestMonitor(t, Config{Interval: 10 * time.Millisecond, Timeout: time.Hour})
	if m.timeout >= m.interval {
		t.Errorf("timeout %v not clamped below interval %v", m.timeout, m.interval)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
