package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// Fanout reproduces the teacher's internal/multi shard topology one
// level up: instead of goroutine-sharded listeners inside one process,
// spec.md's workers are independent OS processes, each running its own
// Service bound to the same bus with a distinct listener channel
// (service:<name>@<worker>). Worker 0 is the parent; it spawns
// workers-1 children by re-invoking its own executable with --worker=<i> and
// reaps them on shutdown.
type Fanout struct {
	logger zerolog.Logger

	mu       sync.Mutex
	children []*exec.Cmd
}

// NewFanout constructs a Fanout that logs through logger.
func NewFanout(logger zerolog.Logger) *Fanout {
	return &Fanout{logger: logger}
}

// Spawn starts n-1 child processes (workers 1..n-1), each inheriting
// the parent's environment and stdio and receiving --worker=<i> on its
// argv. It is a no-op when n <= 1. Spawn does not block; call
// Shutdown to reap the children.
func (f *Fanout) Spawn(n int) error {
	if n <= 1 {
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("fanout: resolve self: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i := 1; i < n; i++ {
		cmd := exec.Command(self, append(os.Args[1:], fmt.Sprintf("--worker=%d", i))...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("fanout: spawn worker %d: %w", i, err)
		}
		f.logger.Info().Int("worker", i).Int("pid", cmd.Process.Pid).Msg("spawned worker process")
		f.children = append(f.children, cmd)
	}
	return nil
}

// Shutdown signals every child to terminate (an interrupt first, which
// triggers the cooperative drain each child's own Service.Stop performs) and
// waits for them to exit. ctx cancellation escalates to Kill.
func (f *Fanout) Shutdown(ctx context.Context) {
	f.mu.Lock()
	children := f.children
	f.mu.Unlock()

	for _, cmd := range children {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			f.logger.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("failed to signal worker")
		}
	}

	done := make(chan struct{})
	go func() {
		for _, cmd := range children {
			_ = cmd.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		for _, cmd := range children {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
		<-done
	}
}
