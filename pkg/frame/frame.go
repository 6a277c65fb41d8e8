// Package frame implements the transportable video frame: metadata plus
// a reference to backing memory (dma-buf, shared memory, or an attached
// external descriptor).
package frame

import (
	"errors"
	"fmt"
	"sync"

	"github.com/edgevid/videostream/pkg/fourcc"
)

var (
	// ErrNoMemory is returned by operations that need allocated or
	// attached backing memory when none is present.
	ErrNoMemory = errors.New("frame: no backing memory")
	// ErrLocked is returned by TryLock when the frame is already held.
	ErrLocked = errors.New("frame: already locked")
	// ErrNotLocked is returned by Unlock without a matching TryLock.
	ErrNotLocked = errors.New("frame: not locked by caller")
	// ErrUnsupportedLayout is returned when a fourcc has no computable
	// raw layout and no explicit stride/size was supplied.
	ErrUnsupportedLayout = errors.New("frame: no byte layout for format")
	// ErrReleased is returned by operations on a released frame.
	ErrReleased = errors.New("frame: released")
)

// Allocator identifies who provisioned the backing memory.
type Allocator int

const (
	AllocatorExternal Allocator = iota
	AllocatorDMAHeap
	AllocatorSHM
	AllocatorMemfd
)

// Info is the frame descriptor carried across the wire. Every field a
// client needs to map and interpret the backing memory independently.
type Info struct {
	Serial    int64
	Timestamp int64
	Duration  int64
	PTS       int64
	DTS       int64
	Expires   int64
	Locked    int32
	FourCC    fourcc.Code
	Width     int32
	Height    int32
	Stride    int32
	PAddr     int64
	Size      uint64
	Offset    int64
}

// Owner receives the frame back when it is released while still
// tracked by a host.
type Owner interface {
	Drop(f *Frame) error
}

// Remote relays advisory lock operations for client-received frames.
type Remote interface {
	TryLockFrame(serial int64) error
	UnlockFrame(serial int64) error
}

// Frame owns its backing memory once allocated and releases it exactly
// once. Not safe for unsynchronized concurrent use by multiple
// goroutines, matching the external-serialization contract of the
// protocol.
type Frame struct {
	mu sync.Mutex

	info      Info
	handle    int
	path      string
	allocator Allocator
	mapped    []byte
	lockHeld  bool
	released  bool

	userptr any
	cleanup func(*Frame)

	owner  Owner
	remote Remote
}

// New constructs frame metadata without backing memory. The format
// string must be exactly four characters. A zero stride falls back to
// the format's default row pitch; formats without a fixed layout
// require an explicit stride.
func New(width, height, stride int, format string) (*Frame, error) {
	code, err := fourcc.FromString(format)
	if err != nil {
		return nil, err
	}
	return NewCode(width, height, stride, code)
}

// NewCode is New for an already-packed fourcc code.
func NewCode(width, height, stride int, code fourcc.Code) (*Frame, error) {
	if stride == 0 {
		stride = code.Stride(width)
	}
	if stride == 0 && !code.Compressed() {
		return nil, ErrUnsupportedLayout
	}
	return &Frame{
		info: Info{
			FourCC:   code,
			Width:    int32(width),
			Height:   int32(height),
			Stride:   int32(stride),
			Duration: -1,
			PTS:      -1,
			DTS:      -1,
		},
		handle: -1,
	}, nil
}

// NewReceived wraps a descriptor received from a host. The handle is an
// fd delivered over SCM_RIGHTS which the frame now owns.
func NewReceived(info Info, handle int, remote Remote) *Frame {
	return &Frame{info: info, handle: handle, allocator: AllocatorExternal, remote: remote}
}

func (f *Frame) Serial() int64         { return f.info.Serial }
func (f *Frame) Timestamp() int64      { return f.info.Timestamp }
func (f *Frame) Duration() int64       { return f.info.Duration }
func (f *Frame) PTS() int64            { return f.info.PTS }
func (f *Frame) DTS() int64            { return f.info.DTS }
func (f *Frame) Expires() int64        { return f.info.Expires }
func (f *Frame) FourCC() fourcc.Code   { return f.info.FourCC }
func (f *Frame) Width() int            { return int(f.info.Width) }
func (f *Frame) Height() int           { return int(f.info.Height) }
func (f *Frame) Stride() int           { return int(f.info.Stride) }
func (f *Frame) Size() int64           { return int64(f.info.Size) }
func (f *Frame) Offset() int64         { return f.info.Offset }
func (f *Frame) Path() string          { return f.path }
func (f *Frame) UserPtr() any          { return f.userptr }
func (f *Frame) SetUserPtr(p any)      { f.userptr = p }
func (f *Frame) Allocator() Allocator  { return f.allocator }
func (f *Frame) Info() Info            { return f.info }
func (f *Frame) SetCleanup(fn func(*Frame)) { f.cleanup = fn }

// Handle returns the backing memory file descriptor, or -1 when the
// frame has none (not yet allocated, or released).
func (f *Frame) Handle() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle
}

// SetTiming updates the publication metadata. Used by the host on post;
// negative duration/pts/dts mean unknown.
func (f *Frame) SetTiming(serial, timestamp, expires, duration, pts, dts int64) {
	f.info.Serial = serial
	f.info.Timestamp = timestamp
	f.info.Expires = expires
	f.info.Duration = duration
	f.info.PTS = pts
	f.info.DTS = dts
}

// Readers returns the host-side count of client read locks held on
// this frame. A frame with readers is never expired.
func (f *Frame) Readers() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info.Locked
}

// AddReaders adjusts the host-side read-lock count by d and returns
// the new value, clamped at zero.
func (f *Frame) AddReaders(d int32) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.info.Locked += d
	if f.info.Locked < 0 {
		f.info.Locked = 0
	}
	return f.info.Locked
}

// Bind transfers logical ownership to a host. Release will route
// through the owner from now on.
func (f *Frame) Bind(o Owner) { f.owner = o }

// Unbind detaches the frame from its owner without releasing it,
// returning effective ownership to the caller.
func (f *Frame) Unbind() { f.owner = nil }

// TryLock acquires the advisory read lock without blocking. For frames
// received from a host the request is relayed over the control channel;
// in all cases holder state is tracked locally so a second TryLock
// fails immediately instead of silently succeeding.
func (f *Frame) TryLock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return ErrReleased
	}
	if f.lockHeld {
		return ErrLocked
	}
	if f.remote != nil {
		if err := f.remote.TryLockFrame(f.info.Serial); err != nil {
			return err
		}
	}
	f.lockHeld = true
	return nil
}

// Unlock releases the advisory lock. Must pair 1:1 with TryLock; an
// unmatched Unlock is reported instead of ignored.
func (f *Frame) Unlock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlockLocked()
}

func (f *Frame) unlockLocked() error {
	if !f.lockHeld {
		return ErrNotLocked
	}
	f.lockHeld = false
	if f.remote != nil {
		return f.remote.UnlockFrame(f.info.Serial)
	}
	return nil
}

// Release frees the backing memory and invalidates the handle. It is
// safe to call once; subsequent calls are no-ops. A frame posted to a
// host must not be released by its original owner — ownership moved.
func (f *Frame) Release() {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return
	}
	f.released = true
	f.munmapLocked()
	if f.lockHeld {
		_ = f.unlockLocked()
	}
	owner := f.owner
	f.owner = nil
	f.mu.Unlock()

	if owner != nil {
		_ = owner.Drop(f)
	}

	f.mu.Lock()
	f.unallocLocked()
	f.mu.Unlock()

	if f.cleanup != nil {
		f.cleanup(f)
	}
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame{#%d %dx%d %s %dB}",
		f.info.Serial, f.info.Width, f.info.Height, f.info.FourCC, f.info.Size)
}
