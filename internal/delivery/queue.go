package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CCasusensa/ArtaleBroadcast/internal/eventbus"
	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

// Queue is an unbounded FIFO drained by exactly one Run loop.
//
// It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	pending  []Payload
	draining bool
	cfg      Config

	sink Sink
	log  logx.Logger
	bus  eventbus.Bus

	wake  chan struct{}
	sleep func(ctx context.Context, d time.Duration) error
}

func NewQueue(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		cfg:   cfg.withDefaults(),
		sink:  sink,
		log:   log,
		bus:   bus,
		wake:  make(chan struct{}, 1),
		sleep: sleepCtx,
	}
}

// Apply swaps pacing and the default retry-after. The wait already in
// progress is not shortened.
func (q *Queue) Apply(cfg Config) {
	q.mu.Lock()
	q.cfg = cfg.withDefaults()
	q.mu.Unlock()
}

func (q *Queue) Config() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// Enqueue appends p and wakes the drainer. It never blocks.
func (q *Queue) Enqueue(p Payload) {
	q.mu.Lock()
	q.pending = append(q.pending, p)
	depth := len(q.pending)
	q.mu.Unlock()

	eventbus.Publish(q.bus, eventbus.DeliveryQueued, Event{Username: p.Username, Depth: depth})
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of payloads not yet delivered, including the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Draining reports whether the drainer is currently working through items.
func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Run drains the queue until ctx is done. Only one Run may be active per
// Queue. Pending payloads are abandoned on return.
func (q *Queue) Run(ctx context.Context) error {
	attempt := 0
	for {
		p, cfg, ok := q.head()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.wake:
				continue
			}
		}

		attempt++
		err := q.sink.Send(ctx, p)
		if ctx.Err() != nil {
			return nil
		}

		var wait time.Duration
		var rl *RateLimitedError
		switch {
		case err == nil:
			depth := q.pop()
			q.log.Debug("webhook delivered", logx.String("username", p.Username), logx.Int("attempt", attempt), logx.Int("depth", depth))
			eventbus.Publish(q.bus, eventbus.DeliverySent, Event{Username: p.Username, Depth: depth, Attempt: attempt})
			attempt = 0
			wait = cfg.Pacing
		case errors.As(err, &rl):
			wait = cfg.DefaultRetryAfter
			if rl.Hinted {
				wait = rl.RetryAfter
			}
			q.log.Warn("webhook rate limited", logx.String("username", p.Username), logx.Int("attempt", attempt), logx.Duration("retry_after", wait))
			eventbus.Publish(q.bus, eventbus.DeliveryRateLimited, Event{Username: p.Username, Depth: q.Len(), Attempt: attempt, RetryAfter: wait})
		default:
			wait = cfg.Pacing
			q.log.Error("webhook delivery failed", logx.String("username", p.Username), logx.Int("attempt", attempt), logx.Err(err))
			eventbus.Publish(q.bus, eventbus.DeliveryFailed, Event{Username: p.Username, Depth: q.Len(), Attempt: attempt, Error: err.Error()})
		}

		if err := q.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// head returns the first pending payload without removing it, together with
// a config snapshot, and updates the draining flag.
func (q *Queue) head() (Payload, Config, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		q.draining = false
		return Payload{}, q.cfg, false
	}
	q.draining = true
	return q.pending[0], q.cfg, true
}

func (q *Queue) pop() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) > 0 {
		q.pending[0] = Payload{}
		q.pending = q.pending[1:]
	}
	if len(q.pending) == 0 {
		// let the backing array go
		q.pending = nil
	}
	return len(q.pending)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
