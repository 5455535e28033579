package service

import (
	"testing"
	"time"

	"github.com/mousestats/backend/internal/bus"
	"github.com/rs/zerolog"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	client := bus.New("127.0.0.1", "0", time.Second, zerolog.Nop(), nil)
	return New(Config{Name: "test", Worker: 0, Logger: zerolog.Nop()}, client)
}

func TestRequestSimpleResponseIsTerminal(t *testing.T) {
	svc := newTestService(t)
	req := newRequest(svc, Envelope{Source: "peer", Worker: 0, RequestID: "r1", RequestType: "lookup"})

	if !req.Alive() {
		t.Fatal("fresh request should be alive")
	}
	if err := req.Send("ok"); err != nil {
		t.Fatalf("Send from Fresh: %v", err)
	}
	if req.Alive() {
		t.Fatal("request should be terminal after Send from Fresh")
	}

	// A second terminator after the first is a no-op, not an error.
	if err := req.End(); err != nil {
		t.Fatalf("End after terminal should no-op, got: %v", err)
	}
}

func TestRequestStreamLifecycle(t *testing.T) {
	svc := newTestService(t)
	req := newRequest(svc, Envelope{Source: "peer", Worker: 0, RequestID: "r2", RequestType: "watch"})

	if err := req.OpenStream(); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if !req.Alive() {
		t.Fatal("stream-open request should still be alive")
	}

	// Content frames don't terminate the request.
	if err := req.Send("frame-1"); err != nil {
		t.Fatalf("Send content: %v", err)
	}
	if !req.Alive() {
		t.Fatal("request should remain alive after a content frame")
	}

	if err := req.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if req.Alive() {
		t.Fatal("request should be terminal after End")
	}
}

func TestRequestOpenStreamTwiceErrors(t *testing.T) {
	svc := newTestService(t)
	req := newRequest(svc, Envelope{RequestID: "r3"})

	if err := req.OpenStream(); err != nil {
		t.Fatalf("first OpenStream: %v", err)
	}
	if err := req.OpenStream(); err == nil {
		t.Fatal("second OpenStream on a non-fresh request should error")
	}
}

func TestRequestRejectOnlyFromFresh(t *testing.T) {
	svc := newTestService(t)
	req := newRequest(svc, Envelope{RequestID: "r4"})

	if err := req.OpenStream(); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := req.Reject(RejectNotFound, nil, nil); err == nil {
		t.Fatal("Reject after streaming has started should error")
	}
}

func TestRequestRejectFromFresh(t *testing.T) {
	svc := newTestService(t)
	req := newRequest(svc, Envelope{RequestID: "r5"})

	if err := req.Reject(RejectNotFound, nil, nil); err != nil {
		t.Fatalf("Reject from Fresh: %v", err)
	}
	if req.Alive() {
		t.Fatal("request should be terminal after Reject")
	}
}

func TestRequestErrorFromAnyNonTerminalState(t *testing.T) {
	svc := newTestService(t)

	fresh := newRequest(svc, Envelope{RequestID: "r6"})
	if err := fresh.Error(); err != nil {
		t.Fatalf("Error from Fresh: %v", err)
	}
	if fresh.Alive() {
		t.Fatal("request should be terminal after Error")
	}

	streaming := newRequest(svc, Envelope{RequestID: "r7"})
	if err := streaming.OpenStream(); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := streaming.Error(); err != nil {
		t.Fatalf("Error from StreamOpen: %v", err)
	}
	if streaming.Alive() {
		t.Fatal("request should be terminal after Error from StreamOpen")
	}
}
