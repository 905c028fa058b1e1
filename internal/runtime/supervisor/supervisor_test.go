package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoCancelOnError(t *testing.T) {
	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	sup.Go("failing", func(ctx context.Context) error { return errors.New("boom") })

	select {
	case <-sup.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor context was not canceled")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err == nil || err.Error() != "failing: boom" {
		t.Fatalf("Wait() = %v, want failing: boom", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	sup := NewSupervisor(context.Background())
	sup.Go0("panicky", func(ctx context.Context) { panic("oops") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if c := sup.Counters(); c.Active != 0 || c.Started != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	sup := NewSupervisor(context.Background())
	var runs atomic.Int32
	sup.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	if err == nil {
		t.Fatal("expected first error to be published")
	}
}

func TestGoRestartMaxRestarts(t *testing.T) {
	sup := NewSupervisor(context.Background())
	var runs atomic.Int32
	sup.GoRestart("always-fails", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = sup.Wait(ctx)
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3 (initial + 2 restarts)", got)
	}
}
