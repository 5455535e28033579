package service

import (
	"testing"
	"time"
)

func TestSelectWorkerRoundRobinSkipsDead(t *testing.T) {
	svc := newTestService(t)

	svc.workersOf["ranking"] = []int{0, 1, 2}
	svc.validUntil = time.Now().Add(time.Minute)
	svc.liveness = map[string]time.Time{
		"ranking@0": svc.validUntil,
		"ranking@2": svc.validUntil,
		// worker 1 missing: considered dead.
	}

	first := svc.selectWorkerLocked("ranking")
	second := svc.selectWorkerLocked("ranking")
	third := svc.selectWorkerLocked("ranking")

	for _, got := range []int{first, second, third} {
		if got == 1 {
			t.Fatalf("selectWorkerLocked chose dead worker 1")
		}
	}
	// Round robin over {0, 2} should alternate rather than always picking
	// the same listener.
	if first == second && second == third {
		t.Fatalf("expected rotation among alive workers, got %d, %d, %d", first, second, third)
	}
}

func TestSelectWorkerFallsBackWhenAllDead(t *testing.T) {
	svc := newTestService(t)

	svc.workersOf["ranking"] = []int{0, 1}
	svc.validUntil = time.Now().Add(time.Minute)
	svc.liveness = map[string]time.Time{} // nobody alive

	// No panics, no hang; returns some slot to let the caller fail fast
	// via a subsequent liveness check in Request.
	got := svc.selectWorkerLocked("ranking")
	if got != 0 && got != 1 {
		t.Fatalf("expected a valid worker index, got %d", got)
	}
}

func TestSelectWorkerUnknownTargetReturnsZero(t *testing.T) {
	svc := newTestService(t)
	if got := svc.selectWorkerLocked("nonexistent"); got != 0 {
		t.Fatalf("expected 0 for unknown target, got %d", got)
	}
}

func TestHandleHealthcheckPingResetsCounters(t *testing.T) {
	svc := newTestService(t)
	svc.success, svc.errCount = 3, 1

	svc.handleHealthcheck(Envelope{
		Type:   MessagePing,
		Source: "coordinator",
		Worker: 0,
		PingID: "round-1",
	})

	// Counters reset after being reported.
	if svc.success != 0 || svc.errCount != 0 {
		t.Fatalf("expected counters reset after ping, got success=%d errors=%d", svc.success, svc.errCount)
	}
}

func TestHandleHealthcheckPingResultBuildsLivenessTable(t *testing.T) {
	svc := newTestService(t)

	svc.handleHealthcheck(Envelope{
		Type: MessagePingResult,
		Pings: map[string]Counters{
			"ranking@0": {Success: 10, Errors: 0},
			"ranking@1": {Success: 5, Errors: 2},
		},
	})

	if len(svc.liveness) != 2 {
		t.Fatalf("expected 2 liveness entries, got %d", len(svc.liveness))
	}
	if workers := svc.workersOf["ranking"]; len(workers) != 2 || workers[0] != 0 || workers[1] != 1 {
		t.Fatalf("expected sorted workers [0 1], got %v", workers)
	}
	if !svc.validUntil.After(time.Now()) {
		t.Fatal("validUntil should extend into the future")
	}
}
