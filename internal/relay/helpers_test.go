package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/iot-relay/internal/device"
	"github.com/nerrad567/iot-relay/internal/infrastructure/logging"
)

const waitTimeout = 2 * time.Second

type inFrame struct {
	msgType int
	data    []byte
}

// fakeTransport is an in-memory Transport. Frames pushed with push are
// returned by ReadMessage; frames written by the Conn appear on written.
type fakeTransport struct {
	in      chan inFrame
	written chan []byte
	closed  chan struct{}

	closeOnce  sync.Once
	failWrites atomic.Bool

	mu       sync.Mutex
	closeMsg []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:      make(chan inFrame, 64),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case fr, ok := <-f.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return fr.msgType, fr.data, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	if f.failWrites.Load() {
		return errors.New("write failed")
	}
	select {
	case f.written <- append([]byte(nil), data...):
		return nil
	case <-f.closed:
		return errors.New("use of closed connection")
	}
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage {
		f.mu.Lock()
		f.closeMsg = append([]byte(nil), data...)
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// push queues a text frame for the Conn to read.
func (f *fakeTransport) push(s string) {
	f.in <- inFrame{msgType: websocket.TextMessage, data: []byte(s)}
}

// hangUp simulates the peer closing the socket.
func (f *fakeTransport) hangUp() {
	close(f.in)
}

// next waits for the next frame the Conn wrote.
func (f *fakeTransport) next(t *testing.T) string {
	t.Helper()
	select {
	case b := <-f.written:
		return string(b)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an outbound frame")
		return ""
	}
}

// expectSilence fails if a frame is written within d.
func (f *fakeTransport) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case b := <-f.written:
		t.Fatalf("unexpected outbound frame %s", b)
	case <-time.After(d):
	}
}

// waitClosed waits for the socket to close and returns the close code, or
// 0 when no close frame was sent.
func (f *fakeTransport) waitClosed(t *testing.T) int {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the transport to close")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.closeMsg) < 2 {
		return 0
	}
	return int(binary.BigEndian.Uint16(f.closeMsg[:2]))
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func newTestConn(t *testing.T) (*Conn, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c := NewConn(ft, ConnOptions{SendBuffer: 16, WriteTimeout: time.Second, RemoteAddr: "test"})
	t.Cleanup(c.Close)
	return c, ft
}

type credential struct {
	password string
	username string
}

// fakeVerifier is an in-memory device.Verifier.
type fakeVerifier struct {
	mu    sync.Mutex
	creds map[string]credential
	err   error
	calls atomic.Int32
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{creds: map[string]credential{
		"esp1": {password: "p1", username: "alice"},
		"esp2": {password: "p2", username: "bob"},
	}}
}

func (v *fakeVerifier) Verify(_ context.Context, id, password string) (device.Identity, error) {
	v.calls.Add(1)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return device.Identity{}, v.err
	}
	c, ok := v.creds[id]
	if !ok || c.password != password {
		return device.Identity{}, device.ErrUnauthorized
	}
	return device.Identity{Username: c.username}, nil
}

func (v *fakeVerifier) setErr(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
}

// recordingSink collects telemetry handed to sinks.
type recordingSink struct {
	mu   sync.Mutex
	got  []Telemetry
	err  error
	seen chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{seen: make(chan struct{}, 16)}
}

func (s *recordingSink) HandleTelemetry(_ context.Context, t Telemetry) error {
	s.mu.Lock()
	s.got = append(s.got, t)
	s.mu.Unlock()
	s.seen <- struct{}{}
	return s.err
}

func (s *recordingSink) all() []Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Telemetry(nil), s.got...)
}

type presenceEvent struct {
	id     string
	online bool
}

// recordingObserver collects presence changes.
type recordingObserver struct {
	events chan presenceEvent
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{events: make(chan presenceEvent, 16)}
}

func (o *recordingObserver) PresenceChanged(_ context.Context, id string, online bool, _ time.Time) error {
	o.events <- presenceEvent{id: id, online: online}
	return nil
}

func (o *recordingObserver) next(t *testing.T) presenceEvent {
	t.Helper()
	select {
	case e := <-o.events:
		return e
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a presence event")
		return presenceEvent{}
	}
}

// blockingObserver records presence changes in completion order. The first
// offline event blocks until unblock is called.
type blockingObserver struct {
	entered chan struct{}
	release chan struct{}

	once   sync.Once
	mu     sync.Mutex
	gated  bool
	events []presenceEvent
}

func newBlockingObserver() *blockingObserver {
	return &blockingObserver{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (o *blockingObserver) PresenceChanged(_ context.Context, id string, online bool, _ time.Time) error {
	o.mu.Lock()
	block := !online && !o.gated
	if block {
		o.gated = true
	}
	o.mu.Unlock()

	if block {
		close(o.entered)
		<-o.release
	}

	o.mu.Lock()
	o.events = append(o.events, presenceEvent{id: id, online: online})
	o.mu.Unlock()
	return nil
}

func (o *blockingObserver) unblock() {
	o.once.Do(func() { close(o.release) })
}

func (o *blockingObserver) all() []presenceEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]presenceEvent(nil), o.events...)
}

// testRelay builds a Relay over a fake verifier with metrics on a private
// registry.
func testRelay(t *testing.T) (*Relay, *fakeVerifier, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	v := newFakeVerifier()
	return New(v, logging.Discard(), NewMetrics(reg)), v, reg
}

// serve starts a session for a fresh fake connection and returns the
// transport plus a channel closed when Serve returns.
func serve(t *testing.T, r *Relay) (*Conn, *fakeTransport, <-chan struct{}) {
	t.Helper()
	ft := newFakeTransport()
	conn := NewConn(ft, ConnOptions{SendBuffer: 16, WriteTimeout: time.Second, RemoteAddr: "test"})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Serve(context.Background(), conn)
	}()
	t.Cleanup(func() {
		ft.Close()
		<-done
	})
	return conn, ft, done
}

// registered serves a connection and completes a successful handshake.
func registered(t *testing.T, r *Relay, id, password string) (*Conn, *fakeTransport, <-chan struct{}) {
	t.Helper()
	conn, ft, done := serve(t, r)
	ft.push(`{"type":"register","id":"` + id + `","password":"` + password + `"}`)
	got := ft.next(t)
	if want := `"status":"authorized"`; !strings.Contains(got, want) {
		t.Fatalf("handshake reply = %s, want %s", got, want)
	}
	return conn, ft, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("session did not exit")
	}
}

// eventually polls cond until it holds or the wait times out.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// metricValue reads a counter or gauge from reg. Labels must match exactly.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) != len(labels) {
				continue
			}
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}
