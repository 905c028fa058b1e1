package profile

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	l := &fakeLookup{err: &StatusError{Code: 503}}
	b := NewBreaker(l, BreakerConfig{Trip: 2, Cooldown: 50 * time.Millisecond}, nopLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.Fetch(ctx, "A1"); errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d short-circuited before trip", i)
		}
	}
	if !b.Open() {
		t.Fatal("breaker should be open after 2 failures")
	}
	if _, err := b.Fetch(ctx, "A1"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Fetch while open = %v, want ErrCircuitOpen", err)
	}
	if n := l.count("A1"); n != 2 {
		t.Fatalf("upstream calls = %d, want 2", n)
	}

	time.Sleep(80 * time.Millisecond)
	l.mu.Lock()
	l.err, l.url = nil, "http://x/a.png"
	l.mu.Unlock()
	p, err := b.Fetch(ctx, "A1")
	if err != nil || p.ImageURL != "http://x/a.png" {
		t.Fatalf("Fetch after cooldown = %+v, %v", p, err)
	}
	if b.Open() {
		t.Fatal("breaker should close after a successful probe")
	}
}

func TestBreakerIgnoresPerProfileErrors(t *testing.T) {
	for _, err := range []error{&StatusError{Code: 404}, ErrMalformed, context.Canceled} {
		l := &fakeLookup{err: err}
		b := NewBreaker(l, BreakerConfig{Trip: 1}, nopLogger())
		for i := 0; i < 3; i++ {
			_, _ = b.Fetch(context.Background(), "A1")
		}
		if b.Open() || l.count("A1") != 3 {
			t.Fatalf("%v: open=%v calls=%d", err, b.Open(), l.count("A1"))
		}
	}
}

func TestUpstreamFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&StatusError{Code: 500}, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 403}, false},
		{ErrMalformed, false},
		{errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		if got := upstreamFailure(tt.err); got != tt.want {
			t.Errorf("upstreamFailure(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCacheSkipsLookupWhileBreakerOpen(t *testing.T) {
	l := &fakeLookup{err: errors.New("dial tcp: refused")}
	c, _ := newTestCache(NewBreaker(l, BreakerConfig{Trip: 1, Cooldown: time.Hour}, nopLogger()), nil)
	for _, id := range []string{"A1", "B2"} {
		if _, ok := c.Get(context.Background(), id); ok {
			t.Fatalf("Get(%s) should not enrich", id)
		}
	}
	if l.count("B2") != 0 {
		t.Fatal("B2 should not reach upstream while the circuit is open")
	}
}
