// Package camera captures frames from a V4L2 device and wraps the
// driver's buffers as transportable frames without copying: each
// driver buffer is exported once as a dma-buf descriptor and attached
// to a frame on dequeue; releasing the frame requeues the buffer.
package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/edgevid/videostream/pkg/fourcc"
	"github.com/edgevid/videostream/pkg/frame"
	"github.com/edgevid/videostream/pkg/logger"
	"github.com/edgevid/videostream/pkg/v4l2"
)

// Driver buffers kept in flight. Frame lifespans must stay below
// (bufferCount-1) frame intervals or capture starves.
const bufferCount = 4

var (
	// ErrNotCapture means the device cannot capture video.
	ErrNotCapture = errors.New("camera: not a capture device")
	// ErrNoStreaming means the device lacks streaming i/o.
	ErrNoStreaming = errors.New("camera: no streaming support")
	// ErrMultiplanar means the device only offers the multiplanar API.
	ErrMultiplanar = errors.New("camera: multiplanar-only device")
)

type buffer struct {
	index  uint32
	dmaFd  int
	length uint32
}

// Camera is an open, configured capture device.
type Camera struct {
	mu sync.Mutex

	path      string
	fd        int
	format    v4l2.NegotiatedFormat
	buffers   []buffer
	queued    int
	streaming bool
	closed    bool
	log       *logger.Logger
}

// Open configures the device for capture. Zero width, height or format
// keep the driver defaults; the negotiated values are available from
// the accessors and may differ from the request.
func Open(path string, width, height int, format fourcc.Code, log *logger.Logger) (*Camera, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("camera: open %q: %w", path, err)
	}
	c := &Camera{
		path: path,
		fd:   fd,
		log:  log.Extend(log.With().Str("module", "camera").Str("device", path)),
	}

	caps, err := v4l2.QueryCaps(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if !caps.HasAny(v4l2.CapVideoCapture, v4l2.CapVideoCaptureMplane) {
		_ = unix.Close(fd)
		return nil, ErrNotCapture
	}
	if !caps.Has(v4l2.CapVideoCapture) {
		_ = unix.Close(fd)
		return nil, ErrMultiplanar
	}
	if !caps.Has(v4l2.CapStreaming) {
		_ = unix.Close(fd)
		return nil, ErrNoStreaming
	}

	c.format, err = v4l2.SetFormat(fd, v4l2.BufTypeCapture, width, height, format)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	c.log.Info().
		Int("width", c.format.Width).Int("height", c.format.Height).
		Str("fourcc", c.format.FourCC.String()).
		Msg("format negotiated")

	if err := c.setupBuffers(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return c, nil
}

func (c *Camera) setupBuffers() error {
	granted, err := v4l2.RequestBuffers(c.fd, v4l2.BufTypeCapture, v4l2.MemoryMmap, bufferCount)
	if err != nil {
		return err
	}
	if granted < 2 {
		return fmt.Errorf("camera: driver granted %d buffers", granted)
	}
	for i := uint32(0); i < granted; i++ {
		length, err := v4l2.QueryBuffer(c.fd, v4l2.BufTypeCapture, v4l2.MemoryMmap, i)
		if err != nil {
			c.teardownBuffers()
			return err
		}
		dmaFd, err := v4l2.ExportBuffer(c.fd, v4l2.BufTypeCapture, i)
		if err != nil {
			c.teardownBuffers()
			return err
		}
		c.buffers = append(c.buffers, buffer{index: i, dmaFd: dmaFd, length: length})
	}
	return nil
}

func (c *Camera) teardownBuffers() {
	for _, b := range c.buffers {
		if b.dmaFd > 2 {
			_ = unix.Close(b.dmaFd)
		}
	}
	c.buffers = nil
	_, _ = v4l2.RequestBuffers(c.fd, v4l2.BufTypeCapture, v4l2.MemoryMmap, 0)
}

func (c *Camera) Path() string        { return c.path }
func (c *Camera) Width() int          { return c.format.Width }
func (c *Camera) Height() int         { return c.format.Height }
func (c *Camera) Format() fourcc.Code { return c.format.FourCC }

// Queued returns how many buffers the driver currently holds. When it
// reaches zero capture is starved: every buffer is pinned by an
// unreleased frame.
func (c *Camera) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued
}

// Start queues every buffer and turns the capture engine on.
func (c *Camera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return nil
	}
	for _, b := range c.buffers {
		if err := v4l2.QueueBuffer(c.fd, v4l2.BufTypeCapture, v4l2.MemoryMmap, b.index); err != nil {
			return err
		}
		c.queued++
	}
	if err := v4l2.StreamOn(c.fd, v4l2.BufTypeCapture); err != nil {
		return err
	}
	c.streaming = true
	c.log.Debug().Msg("streaming started")
	return nil
}

// Stop turns the capture engine off. Frames already captured remain
// valid; their buffers rejoin the queue on release.
func (c *Camera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return nil
	}
	if err := v4l2.StreamOff(c.fd, v4l2.BufTypeCapture); err != nil {
		return err
	}
	c.streaming = false
	c.queued = 0
	return nil
}

// pollBudget converts the time left until deadline into a poll(2)
// timeout in milliseconds: -1 for no deadline, 0 once it has passed,
// otherwise at least 1 so a sub-millisecond remainder still waits.
func pollBudget(deadline time.Time) int {
	if deadline.IsZero() {
		return -1
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0
	}
	if ms := int(left / time.Millisecond); ms > 0 {
		return ms
	}
	return 1
}

// Capture blocks up to wait milliseconds for the next filled buffer
// and returns it wrapped as a frame. A negative wait blocks without
// bound. The frame attaches a dup of the buffer's dma-buf descriptor;
// releasing it requeues the buffer with the driver. Returns
// unix.ETIMEDOUT when nothing arrives in time.
func (c *Camera) Capture(wait int) (*frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, unix.EBADF
	}

	var deadline time.Time
	if wait >= 0 {
		deadline = time.Now().Add(time.Duration(wait) * time.Millisecond)
	}
	deq, err := v4l2.DequeueBuffer(c.fd, v4l2.BufTypeCapture, v4l2.MemoryMmap)
	for err == unix.EAGAIN {
		budget := pollBudget(deadline)
		if budget == 0 {
			return nil, unix.ETIMEDOUT
		}
		fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		n, perr := unix.Poll(fds, budget)
		if perr == unix.EINTR {
			continue
		}
		if perr != nil {
			return nil, fmt.Errorf("camera: poll: %w", perr)
		}
		if n == 0 {
			return nil, unix.ETIMEDOUT
		}
		deq, err = v4l2.DequeueBuffer(c.fd, v4l2.BufTypeCapture, v4l2.MemoryMmap)
	}
	if err != nil {
		return nil, fmt.Errorf("camera: dqbuf: %w", err)
	}
	if int(deq.Index) >= len(c.buffers) {
		return nil, unix.EBADMSG
	}
	buf := c.buffers[deq.Index]
	c.queued--

	f, err := frame.NewCode(c.format.Width, c.format.Height, c.format.Stride, c.format.FourCC)
	if err != nil {
		c.requeueLocked(buf.index)
		return nil, err
	}
	size := int64(deq.BytesUsed)
	if size == 0 {
		size = int64(buf.length)
	}
	if err := f.Attach(buf.dmaFd, size, 0); err != nil {
		c.requeueLocked(buf.index)
		return nil, err
	}
	index := buf.index
	f.SetCleanup(func(*frame.Frame) { c.requeue(index) })
	return f, nil
}

func (c *Camera) requeue(index uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requeueLocked(index)
}

func (c *Camera) requeueLocked(index uint32) {
	if c.closed || !c.streaming {
		return
	}
	if err := v4l2.QueueBuffer(c.fd, v4l2.BufTypeCapture, v4l2.MemoryMmap, index); err != nil {
		c.log.Warn().Err(err).Uint32("buffer", index).Msg("requeue failed")
		return
	}
	c.queued++
}

// Close stops streaming and releases the device and every exported
// descriptor. Frames still alive keep their own dups of the memory.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.streaming {
		_ = v4l2.StreamOff(c.fd, v4l2.BufTypeCapture)
		c.streaming = false
	}
	c.teardownBuffers()
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}
