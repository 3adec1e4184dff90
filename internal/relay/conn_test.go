package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestConn_SendPreservesOrder(t *testing.T) {
	c, ft := newTestConn(t)

	for _, s := range []string{"a", "b", "c"} {
		if err := c.Send([]byte(s)); err != nil {
			t.Fatalf("Send(%q) error = %v", s, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		if got := ft.next(t); got != want {
			t.Errorf("frame = %q, want %q", got, want)
		}
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	c, ft := newTestConn(t)
	c.Close()

	if err := c.Send([]byte("x")); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Send() after Close error = %v, want ErrConnClosed", err)
	}
	if code := ft.waitClosed(t); code != websocket.CloseNormalClosure {
		t.Errorf("close code = %d, want %d", code, websocket.CloseNormalClosure)
	}
	if !c.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestConn_CloseFlushesQueuedFrames(t *testing.T) {
	ft := newFakeTransport()
	c := NewConn(ft, ConnOptions{SendBuffer: 4})

	if err := c.Send([]byte("last words")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	c.CloseWithReason(websocket.ClosePolicyViolation, "unauthorized")

	if got := ft.next(t); got != "last words" {
		t.Errorf("frame = %q, want the queued frame before close", got)
	}
	if code := ft.waitClosed(t); code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	c, ft := newTestConn(t)

	c.CloseWithReason(CloseSuperseded, "superseded")
	c.CloseWithReason(websocket.CloseNormalClosure, "")
	c.Close()

	if code := ft.waitClosed(t); code != CloseSuperseded {
		t.Errorf("close code = %d, want first reason %d", code, CloseSuperseded)
	}
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("Done() not closed")
	}
}

func TestConn_SendBufferFull(t *testing.T) {
	ft := newFakeTransport()
	// Block the writer: the fake's written channel holds 64 frames.
	ft.written = make(chan []byte)
	c := NewConn(ft, ConnOptions{SendBuffer: 2})
	t.Cleanup(func() {
		c.Close()
		ft.Close()
	})

	var err error
	for range 10 {
		if err = c.Send([]byte("x")); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("Send() error = %v, want ErrSendBufferFull", err)
	}
}

func TestConn_WriteFailureClosesConn(t *testing.T) {
	c, ft := newTestConn(t)
	ft.failWrites.Store(true)

	if err := c.Send([]byte("x")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ft.waitClosed(t)

	eventually(t, c.Closed, "conn should be marked closed after a write failure")
	if err := c.Send([]byte("y")); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Send() error = %v, want ErrConnClosed", err)
	}
}

func TestConn_IDsAreUnique(t *testing.T) {
	a, _ := newTestConn(t)
	b, _ := newTestConn(t)
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("IDs = %q, %q; want distinct non-empty", a.ID(), b.ID())
	}
	if a.RemoteAddr() != "test" {
		t.Errorf("RemoteAddr() = %q, want test", a.RemoteAddr())
	}
}
