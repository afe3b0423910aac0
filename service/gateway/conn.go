package gateway

import (
	"sync"
	"time"

	"PPresence/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Socket is the part of *websocket.Conn a Conn drives.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live socket. A single writer goroutine owns all socket writes.
type Conn struct {
	ID        string
	UserID    int64
	TenantID  int64
	SessionID int64
	Roles     []string
	Elevated  bool
	Device    DeviceInfo
	Groups    []string

	Username    string
	DisplayName string

	sock         Socket
	writeTimeout time.Duration
	pingInterval time.Duration

	mu      sync.Mutex
	send    chan []byte
	stopped bool
	done    chan struct{}
}

type connOptions struct {
	queueSize    int
	writeTimeout time.Duration
	pingInterval time.Duration
}

func newConn(sock Socket, o connOptions) *Conn {
	if o.queueSize <= 0 {
		o.queueSize = 256
	}
	if o.writeTimeout <= 0 {
		o.writeTimeout = 5 * time.Second
	}
	return &Conn{
		sock:         sock,
		writeTimeout: o.writeTimeout,
		pingInterval: o.pingInterval,
		send:         make(chan []byte, o.queueSize),
		done:         make(chan struct{}),
	}
}

// Send enqueues without blocking; a full or closed queue drops the frame.
func (c *Conn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		gatewayMetrics.dropped(c.TenantID)
		logger.Warn("[gateway] send queue full, frame dropped",
			zap.String("conn", c.ID), zap.Int64("user_id", c.UserID))
		return false
	}
}

// Kick queues a last frame (may be nil) and closes the socket once it is flushed.
// Returns false when the conn was already closing.
func (c *Conn) Kick(last []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	if last != nil {
		select {
		case c.send <- last:
		default:
			logger.Warn("[gateway] queue full on kick, closing without final frame", zap.String("conn", c.ID))
		}
	}
	c.stopped = true
	close(c.send)
	return true
}

// Close stops the writer; the socket is closed once pending frames are written.
func (c *Conn) Close() { c.Kick(nil) }

// Done is closed when the writer has exited and the socket is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) InGroup(g string) bool {
	for _, x := range c.Groups {
		if x == g {
			return true
		}
	}
	return false
}

func (c *Conn) writePump() {
	var tick <-chan time.Time
	if c.pingInterval > 0 {
		t := time.NewTicker(c.pingInterval)
		defer t.Stop()
		tick = t.C
	}
	defer func() {
		_ = c.sock.Close()
		close(c.done)
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("[gateway] write failed", zap.String("conn", c.ID), zap.Error(err))
				c.abandon()
				return
			}
		case <-tick:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.abandon()
				return
			}
		}
	}
}

// abandon marks the conn stopped after a write failure so later Sends are no-ops.
func (c *Conn) abandon() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.send)
	}
	c.mu.Unlock()
}
