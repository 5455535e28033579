package broker

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrConnectionLost is delivered to every outstanding reply future
// when the underlying TCP connection drops.
var ErrConnectionLost = errors.New("broker: connection lost")

const dialTimeout = 3 * time.Second

// Handler receives the events one Connection dispatches. A Client
// implements this once per sub-connection it owns (spec.md §4.1:
// "channels" and "main").
type Handler interface {
	OnConnectionMade(c *Connection)
	OnConnectionLost(c *Connection)
	OnMessage(c *Connection, msg any)
}

// Connection is one of the two logical sub-connections a Client keeps
// open to the broker: "channels" (push-only, no reply correlation) or
// "main" (every send is answered by exactly one reply, in order).
// Grounded on miniredis/connection.py's Connection+RedisProtocol pair.
type Connection struct {
	Name          string
	AwaitReplies  bool

	host, port string
	handler    Handler
	logger     zerolog.Logger

	mu       sync.Mutex
	conn     net.Conn
	open     bool
	buf      bytes.Buffer
	replies  []chan replyResult
	sendQ    [][]string // queued writes while disconnected, FIFO
}

type replyResult struct {
	val any
	err error
}

// New constructs a Connection. Call Connect to actually dial.
func New(name string, awaitReplies bool, logger zerolog.Logger) *Connection {
	return &Connection{
		Name:         name,
		AwaitReplies: awaitReplies,
		logger:       logger.With().Str("sub_connection", name).Logger(),
	}
}

// Connect dials host:port with a 3s timeout. On success it flushes any
// writes queued while disconnected (in FIFO order) and starts the read
// loop in a new goroutine. On failure or timeout it dispatches
// OnConnectionLost so the owning Client can schedule a retry.
func (c *Connection) Connect(ctx context.Context, host, port string, handler Handler) {
	c.host, c.port, c.handler = host, port, handler

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		c.logger.Warn().Err(err).Msg("connect failed")
		handler.OnConnectionLost(c)
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.open = true
	queued := c.sendQ
	c.sendQ = nil
	for _, argv := range queued {
		c.writeLocked(argv)
	}
	c.mu.Unlock()

	go c.readLoop(conn)

	// Anything the handler sends from here (e.g. re-subscribing) is
	// appended strictly after the replay of what was queued while
	// disconnected, preserving FIFO order across the reconnect.
	handler.OnConnectionMade(c)
}

// IsOpen reports whether the TCP connection is currently established.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send writes argv as one encoded array. If AwaitReplies is true, the
// caller must collect the reply via RegisterReply — Send itself never
// blocks on the network. If the connection is currently closed, the
// write is queued and replayed on the next successful Connect, so no
// publish is ever silently dropped.
func (c *Connection) Send(argv []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		c.sendQ = append(c.sendQ, argv)
		return
	}
	c.writeLocked(argv)
}

func (c *Connection) writeLocked(argv []string) {
	if _, err := c.conn.Write(Encode(argv)); err != nil {
		c.logger.Warn().Err(err).Msg("write failed")
	}
}

// RegisterReply enqueues a future for the next reply on this
// connection and returns a channel that receives exactly one result,
// in the same order replies arrive — replies are strictly ordered
// with requests per spec.md §4.1.
func (c *Connection) RegisterReply() <-chan replyResult {
	ch := make(chan replyResult, 1)
	c.mu.Lock()
	c.replies = append(c.replies, ch)
	c.mu.Unlock()
	return ch
}

func (c *Connection) readLoop(conn net.Conn) {
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			c.mu.Lock()
			c.buf.Write(chunk[:n])
			pending := c.buf.Bytes()

			for {
				consumed, val, derr := Decode(pending)
				if derr != nil {
					c.mu.Unlock()
					c.logger.Error().Err(derr).Msg("protocol error, dropping connection")
					conn.Close()
					c.onLost()
					return
				}
				if consumed == 0 {
					break
				}
				pending = pending[consumed:]
				c.dispatchLocked(val)
			}
			c.buf.Next(c.buf.Len() - len(pending))
			c.mu.Unlock()
		}
		if err != nil {
			conn.Close()
			c.onLost()
			return
		}
	}
}

// dispatchLocked must be called with c.mu held.
func (c *Connection) dispatchLocked(val any) {
	if c.AwaitReplies && len(c.replies) > 0 {
		ch := c.replies[0]
		c.replies = c.replies[1:]
		ch <- replyResult{val: val}
		close(ch)
		return
	}

	handler := c.handler
	c.mu.Unlock()
	handler.OnMessage(c, val)
	c.mu.Lock()
}

func (c *Connection) onLost() {
	c.mu.Lock()
	c.open = false
	pending := c.replies
	c.replies = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- replyResult{err: ErrConnectionLost}
		close(ch)
	}

	c.handler.OnConnectionLost(c)
}
