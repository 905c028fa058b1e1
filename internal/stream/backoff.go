package stream

import "time"

const (
	DefaultBackoffMin = time.Second
	DefaultBackoffMax = 30 * time.Second
)

// Backoff is the reconnect delay: Next returns the current delay and then
// doubles it up to Max; Reset goes back to Min. The zero value uses the
// defaults. Not safe for concurrent use; the stream loop owns it.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	cur time.Duration
}

func (b *Backoff) bounds() (time.Duration, time.Duration) {
	lo, hi := b.Min, b.Max
	if lo <= 0 {
		lo = DefaultBackoffMin
	}
	if hi < lo {
		hi = DefaultBackoffMax
		if hi < lo {
			hi = lo
		}
	}
	return lo, hi
}

// Current returns the delay the next call to Next would return.
func (b *Backoff) Current() time.Duration {
	lo, hi := b.bounds()
	switch {
	case b.cur < lo:
		return lo
	case b.cur > hi:
		return hi
	}
	return b.cur
}

func (b *Backoff) Next() time.Duration {
	_, hi := b.bounds()
	d := b.Current()
	n := d * 2
	if n > hi || n < d {
		n = hi
	}
	b.cur = n
	return d
}

func (b *Backoff) Reset() {
	lo, _ := b.bounds()
	b.cur = lo
}
