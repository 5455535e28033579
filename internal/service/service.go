// Package service turns the bus into a typed request/response
// substrate with worker fan-out and peer liveness, grounded on
// _examples/original_source/shared/pyservice/service.py's Service.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mousestats/backend/internal/bus"
	"github.com/mousestats/backend/internal/sysmonitor"
	"github.com/mousestats/backend/internal/telemetry"
	"github.com/rs/zerolog"
)

// Handler processes one inbound request. Implementations call
// Request.Send/OpenStream/Reject/Error/End; if none of those run
// before Handler returns without error, the runtime synthesizes an
// `end` (spec.md §4.3 step 3).
type Handler func(ctx context.Context, req *Request) error

// Config bundles everything Service needs beyond the bus itself.
type Config struct {
	Name        string
	Worker      int
	PingDelay   time.Duration
	PingTimeout time.Duration
	Logger      zerolog.Logger
	Metrics     *telemetry.Service
	Sampler     *sysmonitor.Sampler
}

// Service is one worker process's view of the request/response
// substrate: handler registry, outstanding-call waiters, and the
// liveness table it learns from ping-result broadcasts.
type Service struct {
	cfg Config
	bus *bus.Client

	mu          sync.Mutex
	running     bool
	openReqs    int
	handlers    map[string]Handler
	rejections  map[string]func(args []any, kwargs map[string]any) error
	waiters     map[string]chan Envelope
	streamQs    map[string]chan Envelope
	liveness    map[string]time.Time // listener id -> valid until
	workersOf   map[string][]int     // service name -> known worker indices, sorted
	cursor      map[string]int       // target service name -> round robin cursor
	validUntil  time.Time
	success     int
	errCount    int

	onPong func(Envelope)
}

// SetPongHandler installs a callback invoked whenever this listener
// receives a `pong` on its own channel. Only the process playing the
// liveness-coordinator role (internal/service.Coordinator) needs this.
func (s *Service) SetPongHandler(fn func(Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPong = fn
}

// New constructs a Service bound to bus c. Call Run to subscribe and
// start accepting requests.
func New(cfg Config, c *bus.Client) *Service {
	return &Service{
		cfg:        cfg,
		bus:        c,
		handlers:   make(map[string]Handler),
		rejections: make(map[string]func([]any, map[string]any) error),
		waiters:    make(map[string]chan Envelope),
		streamQs:   make(map[string]chan Envelope),
		liveness:   make(map[string]time.Time),
		workersOf:  make(map[string][]int),
		cursor:     make(map[string]int),
	}
}

// RegisterHandler associates a request_type with a Handler.
func (s *Service) RegisterHandler(requestType string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[requestType] = h
}

// RegisterRejection maps a rejection kind to a constructor for the
// typed error Request(...) should raise instead of *RejectionError.
func (s *Service) RegisterRejection(kind string, build func(args []any, kwargs map[string]any) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections[kind] = build
}

func (s *Service) identity() (name string, worker int) {
	return s.cfg.Name, s.cfg.Worker
}

func (s *Service) channel() string {
	return fmt.Sprintf("service:%s@%d", s.cfg.Name, s.cfg.Worker)
}

const healthcheckChannel = "service:healthcheck"

// Run subscribes to this worker's listener channel and the broadcast
// healthcheck channel, then marks the service as accepting requests.
func (s *Service) Run(ctx context.Context) {
	s.bus.Subscribe(s.channel())
	s.bus.Subscribe(healthcheckChannel)

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
}

// Stop transitions to "not accepting", waits (polling) until every
// in-flight handler call has produced its terminator, then returns —
// spec.md §4.3's cooperative shutdown drain.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		n := s.openReqs
		s.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) send(target string, worker int, env Envelope) {
	env.Source = s.cfg.Name
	env.Worker = s.cfg.Worker
	body, err := json.Marshal(env)
	if err != nil {
		s.cfg.Logger.Error().Err(err).Msg("failed to marshal envelope")
		return
	}
	channel := fmt.Sprintf("service:%s@%d", target, worker)
	s.bus.Publish(channel, string(body))
}

// broadcastHealthcheck publishes env on the shared healthcheck channel
// rather than a specific listener's channel — used for `ping` and
// `ping-result` traffic, which every worker subscribes to.
func (s *Service) broadcastHealthcheck(env Envelope) {
	env.Source = s.cfg.Name
	env.Worker = s.cfg.Worker
	body, err := json.Marshal(env)
	if err != nil {
		s.cfg.Logger.Error().Err(err).Msg("failed to marshal healthcheck envelope")
		return
	}
	s.bus.Publish(healthcheckChannel, string(body))
}

func (s *Service) sendResponse(r *Request, rt ResponseType, content any, rejectionKind string, args []any, kwargs map[string]any) {
	env := Envelope{
		Type:          MessageResponse,
		RequestID:     r.id,
		ResponseType:  rt,
		Content:       content,
		RejectionType: rejectionKind,
		Args:          args,
		Kwargs:        kwargs,
	}
	s.send(r.source, r.worker, env)
}

// selectWorker implements the round-robin-with-liveness algorithm of
// spec.md §4.3: starting from (cursor+1) mod N, scan at most N
// entries and return the first alive worker; if none is alive, return
// whichever slot was last tried (the caller's send then fails fast
// via ServiceUnavailable).
func (s *Service) selectWorker(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectWorkerLocked(target)
}

func (s *Service) selectWorkerLocked(target string) int {
	workers := s.workersOf[target]
	if len(workers) == 0 {
		return 0
	}

	n := len(workers)
	idx := s.cursor[target]
	pingValid := time.Now().Before(s.validUntil)

	chosen := idx
	for attempt := 0; attempt < n; attempt++ {
		idx = (idx + 1) % n
		w := workers[idx]
		if pingValid {
			if _, alive := s.liveness[fmt.Sprintf("%s@%d", target, w)]; !alive {
				continue
			}
		}
		chosen = idx
		break
	}

	s.cursor[target] = chosen
	return workers[chosen]
}

// RequestOption customizes one outgoing Request call.
type RequestOption func(*requestOpts)

type requestOpts struct {
	worker  *int
	timeout time.Duration
	payload any
}

// WithWorker pins the outgoing request to a specific worker index
// instead of using round-robin selection.
func WithWorker(w int) RequestOption {
	return func(o *requestOpts) { o.worker = &w }
}

// WithTimeout overrides the default 1s timeout for the arrival of the
// first reply.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOpts) { o.timeout = d }
}

// WithPayload attaches application-specific request fields.
func WithPayload(p any) RequestOption {
	return func(o *requestOpts) { o.payload = p }
}

// Request sends an outgoing RPC and waits for its first reply,
// implementing spec.md §4.3's four-step "Outgoing requests" contract.
func (s *Service) Request(ctx context.Context, target, requestType string, opts ...RequestOption) (any, *StreamResponse, error) {
	o := requestOpts{timeout: time.Second}
	for _, fn := range opts {
		fn(&o)
	}

	s.mu.Lock()
	worker := 0
	if o.worker != nil {
		worker = *o.worker
	} else {
		worker = s.selectWorkerLocked(target)
	}
	listener := fmt.Sprintf("%s@%d", target, worker)
	pingValid := time.Now().Before(s.validUntil)
	if pingValid {
		if _, alive := s.liveness[listener]; !alive {
			s.mu.Unlock()
			return nil, nil, ErrServiceUnavailable
		}
	}

	id := uuid.NewString()
	waiter := make(chan Envelope, 1)
	s.waiters[id] = waiter
	s.mu.Unlock()

	s.send(target, worker, Envelope{
		Type:        MessageRequest,
		RequestType: requestType,
		RequestID:   id,
		Payload:     o.payload,
	})

	timeoutCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	select {
	case first := <-waiter:
		return s.resolveFirstReply(id, first)
	case <-timeoutCtx.Done():
		s.unregisterWaiter(id)
		return nil, nil, timeoutCtx.Err()
	}
}

func (s *Service) resolveFirstReply(id string, first Envelope) (any, *StreamResponse, error) {
	switch first.ResponseType {
	case ResponseStream:
		q := make(chan Envelope, 64)
		s.mu.Lock()
		s.streamQs[id] = q
		delete(s.waiters, id)
		s.mu.Unlock()
		return nil, &StreamResponse{svc: s, request: id, queue: q}, nil

	case ResponseReject:
		s.unregisterWaiter(id)
		s.mu.Lock()
		build, known := s.rejections[first.RejectionType]
		s.mu.Unlock()
		if known {
			return nil, nil, build(first.Args, first.Kwargs)
		}
		return nil, nil, &RejectionError{Kind: first.RejectionType, Args: first.Args, Kwargs: first.Kwargs}

	case ResponseSimple:
		s.unregisterWaiter(id)
		return &SimpleResponse{Content: first.Content}, nil, nil

	case ResponseEnd:
		s.unregisterWaiter(id)
		return &SimpleResponse{Content: nil}, nil, nil

	case ResponseError:
		s.unregisterWaiter(id)
		return nil, nil, ErrServiceError

	default:
		s.unregisterWaiter(id)
		return nil, nil, fmt.Errorf("service: unexpected response_type %q", first.ResponseType)
	}
}

func (s *Service) unregisterWaiter(id string) {
	s.mu.Lock()
	delete(s.waiters, id)
	delete(s.streamQs, id)
	s.mu.Unlock()
}
