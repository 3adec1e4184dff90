package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Close codes sent by the relay.
const (
	// CloseSuperseded is sent to a connection replaced by a newer
	// registration under the same identifier.
	CloseSuperseded = 4000
)

const (
	defaultSendBuffer   = 256
	defaultWriteTimeout = 10 * time.Second

	// closeGrace bounds the close frame write.
	closeGrace = time.Second
)

// Transport is the part of *websocket.Conn the relay uses.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnOptions configures a Conn.
type ConnOptions struct {
	// SendBuffer is the outbound queue length. Default: 256
	SendBuffer int

	// WriteTimeout bounds one frame write. Default: 10s
	WriteTimeout time.Duration

	// RemoteAddr is recorded for logging only.
	RemoteAddr string
}

// Conn is a handle to one client connection.
//
// Outbound frames go through a bounded queue drained by one writer
// goroutine, so Send never blocks and never interleaves frames.
type Conn struct {
	id           string
	remoteAddr   string
	transport    Transport
	writeTimeout time.Duration

	send chan []byte

	mu         sync.RWMutex
	closed     bool
	closeCode  int
	closeText  string
	closing    chan struct{}
	writerDone chan struct{}
}

// NewConn wraps t and starts its writer goroutine.
func NewConn(t Transport, opts ConnOptions) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	c := &Conn{
		id:           uuid.NewString(),
		remoteAddr:   opts.RemoteAddr,
		transport:    t,
		writeTimeout: opts.WriteTimeout,
		send:         make(chan []byte, opts.SendBuffer),
		closing:      make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
	go c.writePump()
	return c
}

// ID returns the random identifier of this connection. It is unrelated to
// the device identifier the connection registers under.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address given at construction.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Send queues one text frame. It returns ErrConnClosed after Close and
// ErrSendBufferFull when the peer is not keeping up.
func (c *Conn) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close closes the connection with a normal closure.
func (c *Conn) Close() {
	c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason stops accepting frames, flushes what is already queued,
// sends a close frame with code and text, then closes the socket. Only the
// first call has any effect.
func (c *Conn) CloseWithReason(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = text
	close(c.closing)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Done is closed once the writer has exited and the socket is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.writerDone
}

// ReadMessage reads the next frame. Only the owning Session calls it.
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.transport.ReadMessage()
}

func (c *Conn) writePump() {
	defer func() {
		c.transport.Close() //nolint:errcheck // Socket is being discarded
		close(c.writerDone)
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(frame) {
				c.abandon()
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

func (c *Conn) write(frame []byte) bool {
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.transport.WriteMessage(websocket.TextMessage, frame) == nil
}

// flush drains frames queued before Close, then sends the close frame.
// Send is rejected once closed is set, so the queue only shrinks here.
func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if !c.write(frame) {
				return
			}
		default:
			c.mu.RLock()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
			c.mu.RUnlock()
			//nolint:errcheck // Best-effort close frame
			c.transport.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
			return
		}
	}
}

// abandon marks the connection closed after a failed write so later Sends
// fail fast instead of filling a queue nobody drains.
func (c *Conn) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closing)
	}
}
