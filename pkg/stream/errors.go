package stream

import "errors"

var (
	// ErrAddrInUse means another live host owns the socket path.
	ErrAddrInUse = errors.New("stream: socket path in use by a live host")
	// ErrTimeout is returned when a frame wait deadline elapses. It is
	// distinguishable from other I/O failures so callers can retry.
	ErrTimeout = errors.New("stream: timed out waiting for frame")
	// ErrDisconnected means the connection to the host is gone and
	// reconnection is disabled.
	ErrDisconnected = errors.New("stream: disconnected from host")
	// ErrExpired means the referenced frame is no longer tracked by
	// the host.
	ErrExpired = errors.New("stream: frame expired")
	// ErrInvalidControl means the peer rejected a control message.
	ErrInvalidControl = errors.New("stream: invalid control message")
	// ErrTooManyLocked means the host refused a lock because this
	// client already holds its per-connection maximum.
	ErrTooManyLocked = errors.New("stream: too many frames locked")
	// ErrBadDescriptor means a frame event arrived without a usable
	// memory descriptor.
	ErrBadDescriptor = errors.New("stream: frame event carried no descriptor")
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("stream: closed")
	// ErrNotTracked is returned when dropping a frame the host does
	// not own.
	ErrNotTracked = errors.New("stream: frame not tracked by host")
)
