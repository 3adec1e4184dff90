package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/iot-relay/internal/device"
	"github.com/nerrad567/iot-relay/internal/infrastructure/logging"
)

// presenceTimeout bounds presence notifications run after a connection has
// gone away, when the request context may already be cancelled.
const presenceTimeout = 5 * time.Second

// Session runs the per-connection lifecycle: handshake, receive loop and
// cleanup. One Session serves every connection.
type Session struct {
	gate     *Gate
	router   *Router
	registry *Registry
	logger   *logging.Logger
	metrics  *Metrics
	now      func() time.Time

	presence keyedMutex

	mu        sync.RWMutex
	observers []PresenceObserver
}

// NewSession wires a Session from its collaborators.
func NewSession(gate *Gate, router *Router, registry *Registry, logger *logging.Logger, metrics *Metrics) *Session {
	return &Session{
		gate:     gate,
		router:   router,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// AddPresenceObserver registers o for online/offline events.
func (s *Session) AddPresenceObserver(o PresenceObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Serve runs conn until its transport closes or ctx is cancelled. It always
// closes conn before returning.
func (s *Session) Serve(ctx context.Context, conn *Conn) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	})
	defer stop()

	s.metrics.connOpened()
	defer s.metrics.connClosed()

	log := s.logger.With("conn_id", conn.ID(), "remote_addr", conn.RemoteAddr())
	log.Debug("connection opened")

	id, ok := s.handshake(ctx, conn, log)
	if !ok {
		return
	}

	log = log.With("device_id", id)
	defer s.release(id, conn, log)

	s.announce(ctx, id, conn, true, log)
	s.receive(ctx, conn, log)
}

// handshake reads the first frame, which must be a register message.
func (s *Session) handshake(ctx context.Context, conn *Conn, log *logging.Logger) (string, bool) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		log.Debug("connection closed before registering", "error", err)
		return "", false
	}

	msg, err := decodeFrame(msgType, data)
	if err != nil || msg.Kind != KindRegister {
		log.Warn("first message was not a registration", "kind", msg.Kind.String(), "error", err)
		conn.Send(ErrorFrame(MsgRegistrationRequired)) //nolint:errcheck // Closing anyway
		conn.CloseWithReason(websocket.ClosePolicyViolation, "registration required")
		return "", false
	}

	if _, err := s.gate.Authenticate(ctx, conn, msg.ID, msg.Password); err != nil {
		if errors.Is(err, device.ErrUnauthorized) {
			conn.CloseWithReason(websocket.ClosePolicyViolation, "unauthorized")
		} else {
			conn.CloseWithReason(websocket.CloseTryAgainLater, "authentication unavailable")
		}
		return "", false
	}
	return msg.ID, true
}

// receive routes frames in arrival order until the transport fails.
func (s *Session) receive(ctx context.Context, conn *Conn, log *logging.Logger) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !conn.Closed() {
				log.Warn("websocket read error", "error", err)
			} else {
				log.Debug("websocket closed", "error", err)
			}
			return
		}

		msg, err := decodeFrame(msgType, data)
		if err != nil {
			s.metrics.recordMalformed()
			log.Warn("skipping malformed message", "error", err)
			continue
		}
		s.router.Route(ctx, conn, msg)
	}
}

// release removes the registry entry if it still belongs to conn.
func (s *Session) release(id string, conn *Conn, log *logging.Logger) {
	if !s.registry.RemoveIfCurrent(id, conn) {
		log.Debug("connection closed after being superseded")
		return
	}
	s.metrics.setRegistered(s.registry.Len())
	log.Info("device disconnected")

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	s.announce(ctx, id, conn, false, log)
}

// announce notifies observers under the identifier's presence lock, after
// checking the registry still agrees with the event. An online event from a
// connection that has already been replaced, or an offline event for an
// identifier that has re-registered, is dropped. Observers therefore see
// events for one identifier in registry order and end on its current state.
func (s *Session) announce(ctx context.Context, id string, conn *Conn, online bool, log *logging.Logger) {
	unlock := s.presence.lock(id)
	defer unlock()

	cur, registered := s.registry.Lookup(id)
	if online && cur != conn {
		log.Debug("skipping online event for replaced connection")
		return
	}
	if !online && registered {
		log.Debug("skipping offline event, identifier registered again")
		return
	}
	s.notifyPresence(ctx, id, online, log)
}

func (s *Session) notifyPresence(ctx context.Context, id string, online bool, log *logging.Logger) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()

	at := s.now()
	for _, o := range observers {
		if err := o.PresenceChanged(ctx, id, online, at); err != nil {
			log.Warn("presence observer failed", "online", online, "error", err)
		}
	}
}

// keyedMutex is a set of mutexes keyed by identifier. An entry lives only
// while some goroutine holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// decodeFrame rejects non-text frames before decoding.
func decodeFrame(msgType int, data []byte) (Inbound, error) {
	if msgType != websocket.TextMessage {
		return Inbound{}, ErrMalformedMessage
	}
	return Decode(data)
}
