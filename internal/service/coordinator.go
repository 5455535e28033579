package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Coordinator plays the liveness "coordinator role" spec.md §4.3
// describes as needing no dedicated process: any one worker can
// broadcast `ping` on the healthcheck channel, collect `pong` replies
// for pingTimeout, and broadcast the authoritative `ping-result` map
// that every service (including itself) applies to its LivenessTable.
type Coordinator struct {
	svc         *Service
	pingDelay   time.Duration
	pingTimeout time.Duration

	mu      sync.Mutex
	pending map[string]Counters
}

// NewCoordinator wraps a Service with the ping-round loop. The
// wrapped Service still behaves as an ordinary listener — wrapping it
// does not stop it from also answering pings itself.
func NewCoordinator(svc *Service) *Coordinator {
	c := &Coordinator{
		svc:         svc,
		pingDelay:   svc.cfg.PingDelay,
		pingTimeout: svc.cfg.PingTimeout,
	}
	svc.SetPongHandler(c.onPong)
	return c
}

func (c *Coordinator) onPong(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return
	}
	listener := listenerID(env.Source, env.Worker)
	c.pending[listener] = Counters{Success: env.Success, Errors: env.Errors, Load: env.Load}
}

func listenerID(name string, worker int) string {
	return name + "@" + itoa(worker)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Run loops forever, broadcasting one ping round every pingDelay and
// publishing the resulting ping-result, until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pingDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runRound(ctx)
		}
	}
}

func (c *Coordinator) runRound(ctx context.Context) {
	c.mu.Lock()
	c.pending = make(map[string]Counters)
	c.mu.Unlock()

	pingID := uuid.NewString()
	c.svc.broadcastHealthcheck(Envelope{
		Type:   MessagePing,
		PingID: pingID,
	})

	select {
	case <-time.After(c.pingTimeout):
	case <-ctx.Done():
		return
	}

	c.mu.Lock()
	results := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.svc.broadcastHealthcheck(Envelope{
		Type:  MessagePingResult,
		Pings: results,
	})
}
