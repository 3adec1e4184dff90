package relay

import "errors"

var (
	// ErrMalformedMessage is returned when a frame is not a JSON object.
	ErrMalformedMessage = errors.New("relay: malformed message")

	// ErrTargetOffline is returned when no connection is registered under
	// a command's target identifier.
	ErrTargetOffline = errors.New("relay: target offline")

	// ErrSendFailed wraps a failed enqueue on the target connection.
	ErrSendFailed = errors.New("relay: send failed")

	// ErrConnClosed is returned by Send after the connection was closed.
	ErrConnClosed = errors.New("relay: connection closed")

	// ErrSendBufferFull is returned by Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("relay: send buffer full")

	// ErrSinkQueueFull is returned by a QueuedSink that dropped a message.
	ErrSinkQueueFull = errors.New("relay: sink queue full")

	// ErrSinkClosed is returned by a QueuedSink after Close.
	ErrSinkClosed = errors.New("relay: sink closed")
)
