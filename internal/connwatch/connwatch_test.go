package connwatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nugget/sundevil-helper/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fast = Backoff{
	Initial: time.Millisecond,
	Max:     4 * time.Millisecond,
	Poll:    time.Millisecond,
	Timeout: time.Second,
}

// nextState waits for the next dependency_state event.
func nextState(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	for {
		select {
		case e := <-ch:
			if e.Kind == events.KindDependencyState {
				return e
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dependency_state")
		}
	}
}

func TestWatch_ReadyAtStartup(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	m := NewMonitor(bus, nil)
	m.Watch(ctx, "reasoner", func(context.Context) error { return nil }, fast)

	e := nextState(t, ch)
	if e.Source != events.SourceHealth || e.Data["name"] != "reasoner" || e.Data["ready"] != true {
		t.Errorf("event = %+v", e)
	}

	cancel()
	m.Wait()

	st := m.Status()
	if len(st) != 1 || !st[0].Ready || st[0].LastError != "" || st[0].LastCheck.IsZero() {
		t.Errorf("status = %+v", st)
	}
	if !m.Ready() {
		t.Error("Ready() = false, want true")
	}
}

func TestWatch_RecoversAfterFailures(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	var calls atomic.Int32
	probe := func(context.Context) error {
		if calls.Add(1) <= 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMonitor(bus, nil)
	m.Watch(ctx, "reasoner", probe, fast)

	down := nextState(t, ch)
	if down.Data["ready"] != false || down.Data["error"] != "connection refused" {
		t.Errorf("first event = %+v", down)
	}
	up := nextState(t, ch)
	if up.Data["ready"] != true {
		t.Errorf("second event = %+v", up)
	}
	if calls.Load() < 4 {
		t.Errorf("probe called %d times, want at least 4", calls.Load())
	}

	cancel()
	m.Wait()
}

func TestWatch_GoesDown(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	var healthy atomic.Bool
	healthy.Store(true)
	probe := func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("401 unauthorized")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMonitor(bus, nil)
	m.Watch(ctx, "reasoner", probe, fast)

	if e := nextState(t, ch); e.Data["ready"] != true {
		t.Fatalf("first event = %+v", e)
	}
	healthy.Store(false)
	if e := nextState(t, ch); e.Data["ready"] != false {
		t.Errorf("second event = %+v", e)
	}

	cancel()
	m.Wait()

	if m.Ready() {
		t.Error("Ready() = true after the dependency went down")
	}
	if st := m.Status(); st[0].LastError != "401 unauthorized" {
		t.Errorf("status = %+v", st)
	}
}

func TestWatch_ProbeTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor(nil, nil)
	b := fast
	b.Timeout = 5 * time.Millisecond
	m.Watch(ctx, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, b)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := m.Status(); st[0].LastError != "" {
			if st[0].Ready {
				t.Errorf("status = %+v", st[0])
			}
			cancel()
			m.Wait()
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("probe never timed out")
}

func TestStatus_SortedAndUnknownIsNotReady(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	probe := func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	}

	m := NewMonitor(nil, nil)
	b := fast
	b.Timeout = time.Minute
	m.Watch(ctx, "search", probe, b)
	m.Watch(ctx, "reasoner", probe, b)

	st := m.Status()
	if len(st) != 2 || st[0].Name != "reasoner" || st[1].Name != "search" {
		t.Errorf("status = %+v", st)
	}
	if m.Ready() {
		t.Error("dependencies without a completed probe should not be ready")
	}

	cancel()
	m.Wait()
}

func TestWatch_DuplicatePanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMonitor(nil, nil)
	m.Watch(ctx, "reasoner", func(context.Context) error { return nil }, fast)
	defer func() {
		cancel()
		m.Wait()
		if recover() == nil {
			t.Error("watching the same name twice should panic")
		}
	}()
	m.Watch(ctx, "reasoner", func(context.Context) error { return nil }, fast)
}

func TestBackoffDefaults(t *testing.T) {
	b := Backoff{Poll: time.Second}.withDefaults()
	d := DefaultBackoff()
	if b.Initial != d.Initial || b.Max != d.Max || b.Timeout != d.Timeout || b.Poll != time.Second {
		t.Errorf("withDefaults = %+v", b)
	}
}
