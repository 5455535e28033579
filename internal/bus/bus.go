// Package bus turns the two raw broker.Connections into an idempotent
// subscribe/publish/reconnect substrate, grounded on
// _examples/original_source/shared/miniredis/client.py's Client.
package bus

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/mousestats/backend/internal/broker"
	"github.com/mousestats/backend/internal/rate"
	"github.com/mousestats/backend/internal/telemetry"
	"github.com/rs/zerolog"
)

// Handler receives bus-level events. Unlike the source's dynamic
// on_xxx dispatch, this is a plain registry (spec.md §9 design note).
type Handler interface {
	OnConnectionMade(sub string)
	OnConnectionLost(sub string)
	OnChannelMessage(channel, payload string)
}

// Client owns the "channels" and "main" sub-connections and the
// desired-subscription / queued-publish state that survives a
// reconnect.
type Client struct {
	host, port string
	reconnect  *rate.Reconnect
	logger     zerolog.Logger
	metrics    *telemetry.Bus
	handler    Handler

	channels *broker.Connection
	main     *broker.Connection

	mu         sync.Mutex
	subscribed map[string]struct{}
}

// New constructs a Client. Call Start to dial both sub-connections.
func New(host, port string, reconnectDelay time.Duration, logger zerolog.Logger, metrics *telemetry.Bus) *Client {
	c := &Client{
		host:       host,
		port:       port,
		reconnect:  rate.NewReconnect(reconnectDelay),
		logger:     logger,
		metrics:    metrics,
		subscribed: make(map[string]struct{}),
	}
	c.channels = broker.New("channels", false, logger)
	c.main = broker.New("main", false, logger)
	return c
}

// Start dials both sub-connections and begins the background
// reconnect loop. It does not block waiting for the broker to be
// reachable — connection state is reported through Handler.
func (c *Client) Start(ctx context.Context, handler Handler) {
	c.handler = handler
	go c.channels.Connect(ctx, c.host, c.port, &subHandler{client: c, name: "channels"})
	go c.main.Connect(ctx, c.host, c.port, &subHandler{client: c, name: "main"})
}

// Subscribe adds channel to the desired subscription set. If the
// channels connection is up, the subscribe command is sent
// immediately; otherwise it is captured and replayed on reconnect by
// resubscribeAll.
func (c *Client) Subscribe(channel string) {
	c.mu.Lock()
	_, already := c.subscribed[channel]
	c.subscribed[channel] = struct{}{}
	c.mu.Unlock()

	if !already {
		c.channels.Send([]string{"subscribe", channel})
	}
}

// Unsubscribe removes channel from the desired subscription set.
func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	_, present := c.subscribed[channel]
	delete(c.subscribed, channel)
	c.mu.Unlock()

	if present {
		c.channels.Send([]string{"unsubscribe", channel})
	}
}

// Publish sends a PUBLISH command on the main connection. If main is
// currently disconnected the payload is queued FIFO and flushed, in
// order, once main reconnects — no publish is ever silently dropped.
func (c *Client) Publish(channel, payload string) {
	c.main.Send([]string{"publish", channel, payload})
}

// subHandler adapts broker.Handler events for one named sub-connection
// back into Client-level behavior.
type subHandler struct {
	client *Client
	name   string
}

func (h *subHandler) OnConnectionMade(conn *broker.Connection) {
	c := h.client
	if h.name == "channels" {
		c.resubscribeAll()
	}
	c.handler.OnConnectionMade(h.name)
}

func (h *subHandler) OnConnectionLost(conn *broker.Connection) {
	c := h.client
	c.metrics.Reconnects.Inc()
	c.handler.OnConnectionLost(h.name)

	go func() {
		if err := c.reconnect.Wait(context.Background()); err != nil {
			return
		}
		conn.Connect(context.Background(), c.host, c.port, h)
	}()
}

func (h *subHandler) OnMessage(conn *broker.Connection, msg any) {
	c := h.client
	arr, ok := msg.([]any)
	if !ok || len(arr) < 3 {
		return
	}
	kind, _ := arr[0].(string)
	if kind != "message" {
		return
	}
	channel, _ := arr[1].(string)
	payload, _ := arr[2].(string)
	c.handler.OnChannelMessage(channel, payload)
}

// resubscribeAll replays every channel in the desired subscription
// set, in the channels connection's send order, before the client is
// considered reconnected — spec.md §4.2's core invariant.
func (c *Client) resubscribeAll() {
	c.mu.Lock()
	channels := make([]string, 0, len(c.subscribed))
	for ch := range c.subscribed {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		c.channels.Send([]string{"subscribe", ch})
	}
}

// NewFromAddr builds a Client from a single "host:port" address, the
// form the updater and service configs both expose via INFRA_ADDR.
func NewFromAddr(addr string, reconnectDelay time.Duration, logger zerolog.Logger, metrics *telemetry.Bus) *Client {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, "6379"
	}
	return New(host, port, reconnectDelay, logger, metrics)
}
