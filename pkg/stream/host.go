package stream

import (
	"fmt"
	"sort"
	"sync"

	"github.com/edgevid/videostream/pkg/clock"
	"github.com/edgevid/videostream/pkg/frame"
	"github.com/edgevid/videostream/pkg/logger"
	vos "github.com/edgevid/videostream/pkg/os"
	"golang.org/x/sys/unix"
)

// maxFramesPerClient bounds the read locks one subscriber may hold so
// a stuck client cannot pin the whole frame pool.
const maxFramesPerClient = 20

type hostClient struct {
	fd     int
	locked map[int64]*frame.Frame
}

// Host owns a listening SOCK_SEQPACKET unix socket, the set of
// currently-published frames, and their expiration deadlines.
//
// Post may be called from a producer goroutine while another drives
// Poll/Process; the internal mutex serializes them. Process must run
// on every tick whether or not Poll reported activity, or published
// frames never expire and the memory pools exhaust.
type Host struct {
	mu sync.Mutex

	path     string
	pathLock *vos.SocketLock
	listenFd int
	clients  map[int]*hostClient
	frames   map[int64]*frame.Frame
	serial   int64
	closed   bool
	log      *logger.Logger
}

// NewHost binds and listens on a unix socket at path.
//
// Exclusivity is enforced instead of silent takeover: a flock on
// <path>.lock plus a liveness probe of any existing socket. Only a
// socket whose previous owner is provably gone (free lock, connection
// refused) is unlinked and replaced; a live one fails with
// ErrAddrInUse.
func NewHost(path string, log *logger.Logger) (*Host, error) {
	if path == "" {
		return nil, unix.EINVAL
	}
	pathLock, err := vos.NewSocketLock(path)
	if err != nil {
		return nil, fmt.Errorf("stream: socket lock: %w", err)
	}
	held, err := pathLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("stream: socket lock: %w", err)
	}
	if !held {
		return nil, ErrAddrInUse
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		_ = pathLock.Unlock()
		return nil, fmt.Errorf("stream: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: path}
	err = unix.Bind(fd, addr)
	if err == unix.EADDRINUSE && !socketAlive(path) {
		// Stale socket from a crashed host. Safe to displace.
		_ = unix.Unlink(path)
		err = unix.Bind(fd, addr)
	}
	if err != nil {
		_ = unix.Close(fd)
		_ = pathLock.Unlock()
		if err == unix.EADDRINUSE {
			return nil, ErrAddrInUse
		}
		return nil, fmt.Errorf("stream: bind %q: %w", path, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
		_ = pathLock.Unlock()
		return nil, fmt.Errorf("stream: listen: %w", err)
	}

	h := &Host{
		path:     path,
		pathLock: pathLock,
		listenFd: fd,
		clients:  make(map[int]*hostClient),
		frames:   make(map[int64]*frame.Frame),
		log:      log.Extend(log.With().Str("module", "host").Str("socket", path)),
	}
	h.log.Info().Msg("listening")
	return h, nil
}

// socketAlive probes whether a peer still accepts connections at path.
func socketAlive(path string) bool {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)
	return unix.Connect(fd, &unix.SockaddrUnix{Name: path}) == nil
}

func (h *Host) Path() string { return h.path }

// Sockets returns the listening socket followed by all connected
// client sockets. The list is a snapshot; sockets may go stale between
// calls and should be refreshed frequently.
func (h *Host) Sockets() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	fds := make([]int, 0, len(h.clients)+1)
	fds = append(fds, h.listenFd)
	for fd := range h.clients {
		fds = append(fds, fd)
	}
	sort.Ints(fds[1:])
	return fds
}

// Poll blocks up to wait milliseconds for readiness on the listening
// socket or any client socket. wait 0 returns immediately, negative
// blocks indefinitely. Returns the number of ready descriptors.
func (h *Host) Poll(wait int) (int, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, ErrClosed
	}
	fds := make([]unix.PollFd, 0, len(h.clients)+1)
	fds = append(fds, unix.PollFd{Fd: int32(h.listenFd), Events: unix.POLLIN | unix.POLLERR | unix.POLLHUP})
	for fd := range h.clients {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN | unix.POLLERR | unix.POLLHUP})
	}
	h.mu.Unlock()

	for {
		n, err := unix.Poll(fds, wait)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("stream: poll: %w", err)
		}
		return n, nil
	}
}

// Process performs one tick of host duties and must be called on every
// tick regardless of Poll's result: accept one pending connection,
// service every connected client's pending control message, and expire
// frames past their deadline. A misbehaving client is disconnected
// without disturbing the others.
func (h *Host) Process() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	if fd, _, err := unix.Accept4(h.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC); err == nil {
		h.clients[fd] = &hostClient{fd: fd, locked: make(map[int64]*frame.Frame)}
		metricClients.Inc()
		h.log.Debug().Int("fd", fd).Msg("client connected")
	} else if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		h.log.Warn().Err(err).Msg("accept failed")
	}

	for _, c := range h.clients {
		if err := h.serviceLocked(c); err != nil && err != unix.EAGAIN {
			h.disconnectLocked(c, err)
		}
	}

	h.expireLocked()
	return nil
}

// Service processes exactly one named client socket's pending message,
// for callers that multiplex sockets themselves.
func (h *Host) Service(fd int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	c, ok := h.clients[fd]
	if !ok {
		return unix.EINVAL
	}
	err := h.serviceLocked(c)
	if err != nil && err != unix.EAGAIN {
		h.disconnectLocked(c, err)
		return err
	}
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (h *Host) serviceLocked(c *hostClient) error {
	buf := make([]byte, controlSize)
	n, _, err := unix.Recvfrom(c.fd, buf, 0)
	if err != nil {
		return err
	}
	if n == 0 {
		return unix.ECONNRESET
	}
	if n != controlSize {
		return unix.EBADMSG
	}

	message, serial := getControl(buf)
	reply := evOK
	var info frame.Info

	switch message {
	case msgTryLock:
		f, tracked := h.frames[serial]
		switch {
		case !tracked:
			reply = evExpired
		case c.locked[serial] != nil:
			// Already held by this client; treat as idempotent.
			info.Locked = 1
		case len(c.locked) >= maxFramesPerClient:
			reply = evTooManyLocked
		default:
			c.locked[serial] = f
			f.AddReaders(1)
			info.Locked = 1
		}
	case msgUnlock:
		f, tracked := h.frames[serial]
		if !tracked {
			reply = evExpired
		} else if c.locked[serial] != nil {
			delete(c.locked, serial)
			f.AddReaders(-1)
		}
	default:
		reply = evInvalidControl
	}

	out := make([]byte, eventSize)
	putEvent(out, reply, info)
	if err := unix.Sendmsg(c.fd, out, nil, nil, unix.MSG_NOSIGNAL); err != nil {
		return err
	}
	return nil
}

func (h *Host) disconnectLocked(c *hostClient, cause error) {
	for serial, f := range c.locked {
		f.AddReaders(-1)
		delete(c.locked, serial)
	}
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	_ = unix.Close(c.fd)
	delete(h.clients, c.fd)
	metricClients.Dec()
	h.log.Debug().Int("fd", c.fd).Err(cause).Msg("client disconnected")
}

func (h *Host) expireLocked() {
	now := clock.Now()
	for serial, f := range h.frames {
		if f.Readers() > 0 {
			continue
		}
		if exp := f.Expires(); exp != 0 && exp < now {
			delete(h.frames, serial)
			f.Unbind()
			f.Release()
			metricFramesExpired.Inc()
		}
	}
}

// Post transfers ownership of f to the host and broadcasts its
// descriptor to every connected client. expires is an absolute
// monotonic deadline; the frame is released no earlier than expires
// and no later than the next Process call after it elapses. Negative
// duration/pts/dts mean unknown. The caller must not touch or release
// f after Post returns.
func (h *Host) Post(f *frame.Frame, expires, duration, pts, dts int64) error {
	if f == nil {
		return unix.EINVAL
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	h.expireLocked()

	h.serial++
	f.SetTiming(h.serial, clock.Now(), expires, duration, pts, dts)
	h.frames[h.serial] = f
	f.Bind(h)
	metricFramesPosted.Inc()

	buf := make([]byte, eventSize)
	putEvent(buf, evOK, f.Info())
	var oob []byte
	if handle := f.Handle(); handle >= 0 {
		oob = unix.UnixRights(handle)
	}

	for _, c := range h.clients {
		if err := unix.Sendmsg(c.fd, buf, oob, nil, unix.MSG_NOSIGNAL); err != nil {
			h.disconnectLocked(c, err)
		}
	}
	return nil
}

// Drop removes the host's association with a previously posted frame
// before its natural expiration, returning effective ownership to the
// caller. Implements frame.Owner so releasing a posted frame detaches
// it automatically.
func (h *Host) Drop(f *frame.Frame) error {
	if f == nil {
		return unix.EINVAL
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	serial := f.Serial()
	if h.frames[serial] != f {
		return ErrNotTracked
	}
	delete(h.frames, serial)
	f.Unbind()
	metricFramesDropped.Inc()
	return nil
}

// Tracked returns the number of currently-published unexpired frames.
func (h *Host) Tracked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

// Close shuts down the host: client sockets closed, listening socket
// closed and unlinked, all still-tracked frames released.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	for _, c := range h.clients {
		h.disconnectLocked(c, ErrClosed)
	}
	for serial, f := range h.frames {
		delete(h.frames, serial)
		f.Unbind()
		f.Release()
	}
	_ = unix.Close(h.listenFd)
	_ = unix.Unlink(h.path)
	err := h.pathLock.Unlock()
	h.log.Info().Msg("closed")
	return err
}
