package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

var ErrCircuitOpen = errors.New("profile: lookup circuit open")

// BreakerConfig configures the lookup circuit breaker.
type BreakerConfig struct {
	Trip     int           // consecutive upstream failures before opening
	Cooldown time.Duration // open -> half-open delay; default 5s
}

// Breaker wraps a Lookup and fails fast with ErrCircuitOpen while upstream
// looks unhealthy.
//
// Only upstream trouble counts as a failure: transport errors, 5xx and 429.
// A 4xx answer or a malformed body is about one profile, not the service.
type Breaker struct {
	next Lookup
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Lookup, cfg BreakerConfig, log logx.Logger) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	trip := uint32(cfg.Trip)
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "profile.lookup",
			MaxRequests: 1,
			Timeout:     cfg.Cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= trip
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("profile lookup circuit changed",
					logx.String("from", from.String()), logx.String("to", to.String()))
			},
			IsSuccessful: func(err error) bool { return !upstreamFailure(err) },
		}),
	}
}

func (b *Breaker) Fetch(ctx context.Context, id string) (Profile, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Fetch(ctx, id)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Profile{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return Profile{}, err
	}
	p, _ := v.(Profile)
	return p, nil
}

// Open reports whether lookups are currently short-circuited.
func (b *Breaker) Open() bool { return b.cb.State() == gobreaker.StateOpen }

func upstreamFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformed) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
