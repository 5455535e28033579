package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// OnConnectionMade satisfies bus.Handler. Nothing to do here: Run
// already issued the subscriptions, and bus.Client itself replays
// them on every reconnect.
func (s *Service) OnConnectionMade(sub string) {
	s.cfg.Logger.Info().Str("sub_connection", sub).Msg("bus connected")
}

// OnConnectionLost satisfies bus.Handler.
func (s *Service) OnConnectionLost(sub string) {
	s.cfg.Logger.Warn().Str("sub_connection", sub).Msg("bus connection lost")
}

// OnChannelMessage satisfies bus.Handler: the single entry point for
// every request, response, ping and ping-result this worker receives.
func (s *Service) OnChannelMessage(channel, payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("dropping malformed envelope")
		return
	}

	if channel == healthcheckChannel {
		s.handleHealthcheck(env)
		return
	}

	if channel != s.channel() {
		return
	}

	switch env.Type {
	case MessageRequest:
		s.handleIncomingRequest(env)
	case MessageResponse:
		s.handleIncomingResponse(env)
	case MessagePong:
		if s.onPong != nil {
			s.onPong(env)
		}
	}
}

// handleIncomingRequest implements spec.md §4.3's three-step
// reception contract.
func (s *Service) handleIncomingRequest(env Envelope) {
	req := newRequest(s, env)

	s.mu.Lock()
	accepting := s.running
	handler, hasHandler := s.handlers[env.RequestType]
	if accepting {
		s.openReqs++
	}
	s.mu.Unlock()

	if !accepting {
		go req.End()
		return
	}

	if !hasHandler {
		s.cfg.Logger.Warn().Str("request_type", env.RequestType).Msg("no handler registered")
		go func() {
			req.End()
			s.mu.Lock()
			s.openReqs--
			s.mu.Unlock()
		}()
		return
	}

	go s.runHandler(handler, req)
}

// runHandler executes a registered handler, translating panics and
// returned errors into an `error` response, and synthesizing `end`
// when the handler completes normally without terminating the request
// itself — spec.md §4.3 step 3.
func (s *Service) runHandler(h Handler, req *Request) {
	defer func() {
		s.mu.Lock()
		s.openReqs--
		s.mu.Unlock()
	}()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("service: handler panicked: %v", p)
			}
		}()
		return h(context.Background(), req)
	}()

	s.mu.Lock()
	if err != nil {
		s.errCount++
	} else {
		s.success++
	}
	s.mu.Unlock()

	if s.cfg.Metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
			s.cfg.Metrics.RequestsFailed.WithLabelValues(req.Type()).Inc()
		}
		s.cfg.Metrics.RequestsHandled.WithLabelValues(req.Type(), outcome).Inc()
	}

	if err != nil {
		req.Error()
		return
	}

	if req.Alive() {
		req.End()
	}
}

func (s *Service) handleIncomingResponse(env Envelope) {
	s.mu.Lock()
	if q, ok := s.streamQs[env.RequestID]; ok {
		s.mu.Unlock()
		select {
		case q <- env:
		default:
			s.cfg.Logger.Warn().Str("request_id", env.RequestID).Msg("stream queue full, dropping frame")
		}
		return
	}
	waiter, ok := s.waiters[env.RequestID]
	s.mu.Unlock()
	if ok {
		select {
		case waiter <- env:
		default:
		}
	}
}

// handleHealthcheck answers `ping` with `pong` and applies
// `ping-result` broadcasts to the liveness table, per spec.md §4.3.
func (s *Service) handleHealthcheck(env Envelope) {
	switch env.Type {
	case MessagePing:
		s.mu.Lock()
		success, errs := s.success, s.errCount
		s.success, s.errCount = 0, 0
		s.mu.Unlock()

		load := 0.0
		if s.cfg.Sampler != nil {
			load = s.cfg.Sampler.Sample().CPUPercent
		}

		s.send(env.Source, env.Worker, Envelope{
			Type:    MessagePong,
			PingID:  env.PingID,
			Success: success,
			Errors:  errs,
			Load:    load,
		})

	case MessagePingResult:
		s.mu.Lock()
		s.liveness = make(map[string]time.Time)
		validUntil := time.Now().Add(2 * s.cfg.PingDelay)
		s.validUntil = validUntil

		for listener := range env.Pings {
			s.liveness[listener] = validUntil

			name, worker, ok := splitListener(listener)
			if !ok {
				continue
			}
			insertSorted(s.workersOf, name, worker)
		}
		peers := len(s.liveness)
		s.mu.Unlock()

		if s.cfg.Metrics != nil {
			s.cfg.Metrics.LivenessPeers.Set(float64(peers))
		}
	}
}

func splitListener(listener string) (name string, worker int, ok bool) {
	for i := len(listener) - 1; i >= 0; i-- {
		if listener[i] == '@' {
			name = listener[:i]
			var w int
			if _, err := fmt.Sscanf(listener[i+1:], "%d", &w); err != nil {
				return "", 0, false
			}
			return name, w, true
		}
	}
	return "", 0, false
}

func insertSorted(m map[string][]int, name string, worker int) {
	workers := m[name]
	for _, w := range workers {
		if w == worker {
			return
		}
	}
	workers = append(workers, worker)
	for i := len(workers) - 1; i > 0 && workers[i] < workers[i-1]; i-- {
		workers[i], workers[i-1] = workers[i-1], workers[i]
	}
	m[name] = workers
}
