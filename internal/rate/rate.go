// Package rate paces the bus's reconnect attempts using
// golang.org/x/time/rate, in place of the teacher's Kafka/broadcast
// limiters — the bus's own traffic is what needs pacing here.
package rate

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Reconnect paces how often the bus is allowed to attempt a new TCP
// connection after a loss, so a broker outage doesn't spin the
// process in a tight retry loop.
type Reconnect struct {
	limiter *rate.Limiter
}

// NewReconnect builds a limiter that allows roughly one attempt every
// `delay`, with a burst of one (the first attempt after a loss is
// always immediate).
func NewReconnect(delay time.Duration) *Reconnect {
	if delay <= 0 {
		delay = time.Second
	}
	return &Reconnect{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next reconnect attempt is permitted or ctx is
// cancelled.
func (r *Reconnect) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
