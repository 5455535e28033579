package service

import (
	"fmt"
	"sync"
)

// state is the Request state machine from spec.md §4.3:
// Fresh → {SimpleSent | StreamOpen | Rejected | Errored | Ended}.
// SimpleSent, Rejected, Errored and Ended are all terminal; StreamOpen
// is non-terminal and can only transition to Ended or Errored.
type state int

const (
	stateFresh state = iota
	stateStreamOpen
	stateTerminal
)

// Request is the handle a registered handler receives for one inbound
// RPC. Exactly one terminator is emitted per request id: the owning
// runtime synthesizes `end` on normal handler return if nothing else
// fired, and `error` on a panicking/erroring handler — see
// Service.runHandler.
type Request struct {
	svc    *Service
	source string
	worker int
	id     string
	typ    string
	body   any

	mu    sync.Mutex
	state state
}

func newRequest(svc *Service, env Envelope) *Request {
	return &Request{
		svc:    svc,
		source: env.Source,
		worker: env.Worker,
		id:     env.RequestID,
		typ:    env.RequestType,
		body:   env.Payload,
	}
}

// Type returns the request_type this Request was dispatched for.
func (r *Request) Type() string { return r.typ }

// Payload returns the decoded application-specific request fields.
func (r *Request) Payload() any { return r.body }

// Alive reports whether no terminator has been sent yet.
func (r *Request) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != stateTerminal
}

// OpenStream transitions Fresh → StreamOpen and emits a `stream`
// opener. Calling it twice, or after a terminator, emits nothing and
// returns an error.
func (r *Request) OpenStream() error {
	r.mu.Lock()
	if r.state != stateFresh {
		r.mu.Unlock()
		return fmt.Errorf("service: open_stream on non-fresh request")
	}
	r.state = stateStreamOpen
	r.mu.Unlock()

	r.svc.sendResponse(r, ResponseStream, nil, "", nil, nil)
	return nil
}

// Send emits `simple` (terminal) from Fresh, or `content`
// (non-terminal) from StreamOpen.
func (r *Request) Send(content any) error {
	r.mu.Lock()
	switch r.state {
	case stateFresh:
		r.state = stateTerminal
		r.mu.Unlock()
		r.svc.sendResponse(r, ResponseSimple, content, "", nil, nil)
		return nil
	case stateStreamOpen:
		r.mu.Unlock()
		r.svc.sendResponse(r, ResponseContent, content, "", nil, nil)
		return nil
	default:
		r.mu.Unlock()
		return nil
	}
}

// End emits `end` from Fresh or StreamOpen; terminal.
func (r *Request) End() error {
	r.mu.Lock()
	if r.state == stateTerminal {
		r.mu.Unlock()
		return nil
	}
	r.state = stateTerminal
	r.mu.Unlock()

	r.svc.sendResponse(r, ResponseEnd, nil, "", nil, nil)
	return nil
}

// Reject emits `reject` from Fresh only — illegal once a stream has
// been opened, since the client has already committed to stream
// consumption (spec.md §4.3).
func (r *Request) Reject(kind string, args []any, kwargs map[string]any) error {
	r.mu.Lock()
	if r.state != stateFresh {
		r.mu.Unlock()
		return fmt.Errorf("service: reject after streaming has started")
	}
	r.state = stateTerminal
	r.mu.Unlock()

	r.svc.sendResponse(r, ResponseReject, nil, kind, args, kwargs)
	return nil
}

// Error emits `error` from any non-terminal state.
func (r *Request) Error() error {
	r.mu.Lock()
	if r.state == stateTerminal {
		r.mu.Unlock()
		return nil
	}
	r.state = stateTerminal
	r.mu.Unlock()

	r.svc.sendResponse(r, ResponseError, nil, "", nil, nil)
	return nil
}
