package service

import "context"

// SimpleResponse is what Service.Request returns for a non-streaming
// call: a `simple` response's content, or nil content for a bare
// `end`.
type SimpleResponse struct {
	Content any
}

// StreamResponse is a lazy, queue-backed iterator over a peer's
// stream: content frames until the terminator, which either stops the
// iteration cleanly (`end`) or surfaces ErrServiceError (`error`).
type StreamResponse struct {
	svc     *Service
	request string
	queue   chan Envelope
	done    bool
}

// Next blocks for the next `content` frame. It returns (nil, false,
// nil) once the stream has ended normally, or a non-nil error if the
// peer terminated with `error` or ctx is cancelled first.
func (s *StreamResponse) Next(ctx context.Context) (any, bool, error) {
	if s.done {
		return nil, false, nil
	}

	select {
	case env := <-s.queue:
		switch env.ResponseType {
		case ResponseEnd:
			s.done = true
			s.svc.unregisterWaiter(s.request)
			return nil, false, nil
		case ResponseContent:
			return env.Content, true, nil
		case ResponseError:
			s.done = true
			s.svc.unregisterWaiter(s.request)
			return nil, false, ErrServiceError
		default:
			// Unexpected frame shape; treat as end-of-stream rather
			// than hang the caller.
			s.done = true
			s.svc.unregisterWaiter(s.request)
			return nil, false, nil
		}
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Collect drains the stream into a slice, stopping at the terminator.
// Convenience wrapper used by tests and by handlers that don't need
// incremental delivery.
func (s *StreamResponse) Collect(ctx context.Context) ([]any, error) {
	var out []any
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}
