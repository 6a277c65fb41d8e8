package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/edgevid/videostream/pkg/clock"
	"github.com/edgevid/videostream/pkg/frame"
	"github.com/edgevid/videostream/pkg/logger"
	"golang.org/x/sys/unix"
)

const defaultTimeout = time.Second

// Staged reconnect backoff, fastest first.
var reconnectStages = []time.Duration{
	0,
	time.Millisecond,
	5 * time.Millisecond,
	25 * time.Millisecond,
	100 * time.Millisecond,
	time.Second,
}

// Client subscribes to a host's published frames.
//
// With reconnect disabled, construction fails immediately when no host
// is listening. With reconnect enabled, construction and subsequent
// operations retry transparently until a host appears.
type Client struct {
	mu sync.Mutex

	path      string
	fd        int
	reconnect bool
	timeout   time.Duration
	userptr   any
	log       *logger.Logger
}

// NewClient connects to the host socket at path.
func NewClient(path string, reconnect bool, log *logger.Logger) (*Client, error) {
	c := &Client{
		path:      path,
		fd:        -1,
		reconnect: reconnect,
		timeout:   defaultTimeout,
		log:       log.Extend(log.With().Str("module", "client").Str("socket", path)),
	}
	stage := 0
	for {
		fd, err := dial(path)
		if err == nil {
			c.fd = fd
			c.log.Debug().Int("fd", fd).Msg("connected")
			return c, nil
		}
		if !reconnect {
			return nil, fmt.Errorf("stream: connect %q: %w", path, err)
		}
		waitForPath(path, reconnectStages[stage])
		if stage < len(reconnectStages)-1 {
			stage++
		}
	}
}

func dial(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	// Connect while blocking; non-blocking connect needs special
	// handling and buys nothing on a unix socket.
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func (c *Client) Path() string     { return c.path }
func (c *Client) UserPtr() any     { return c.userptr }
func (c *Client) SetUserPtr(p any) { c.userptr = p }

// SetTimeout configures how long GetFrame waits for the next frame.
// Fractional seconds are supported; negative restores the default.
func (c *Client) SetTimeout(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds < 0 {
		c.timeout = defaultTimeout
		return
	}
	c.timeout = time.Duration(seconds * float64(time.Second))
}

// Disconnect closes the connection. With reconnect enabled a
// subsequent GetFrame attempts to reconnect instead of failing.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd < 0 {
		return nil
	}
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

// ensureConnectedLocked re-dials after a drop. Returns false when the
// caller should give up (reconnect disabled).
func (c *Client) ensureConnectedLocked(stage *int) bool {
	if c.fd >= 0 {
		return true
	}
	fd, err := dial(c.path)
	if err == nil {
		c.fd = fd
		return true
	}
	if !c.reconnect {
		return false
	}
	waitForPath(c.path, reconnectStages[*stage])
	if *stage < len(reconnectStages)-1 {
		*stage++
	}
	return true
}

func (c *Client) dropConnLocked() {
	if c.fd >= 0 {
		_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
		_ = unix.Close(c.fd)
		c.fd = -1
	}
}

// GetFrame blocks until the host publishes a frame, the configured
// timeout elapses, or the absolute monotonic deadline until passes
// (0 = no deadline beyond the timeout). The returned frame is an
// independent reference: the client maps, locks and releases it
// without affecting the host's bookkeeping.
func (c *Client) GetFrame(until int64) (*frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := make([]byte, eventSize)
	oob := make([]byte, unix.CmsgSpace(4))
	stage := 0
	reconnected := false

	for {
		if until != 0 && clock.Now() >= until {
			return nil, ErrTimeout
		}
		if !c.ensureConnectedLocked(&stage) {
			return nil, ErrDisconnected
		}
		if c.fd < 0 {
			continue
		}

		n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, 0)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if err := c.pollLocked(until); err != nil {
				if err == ErrTimeout {
					return nil, err
				}
				if !c.reconnect {
					return nil, err
				}
				c.dropConnLocked()
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			c.dropConnLocked()
			if !c.reconnect {
				if err != nil {
					return nil, fmt.Errorf("stream: recv: %w", err)
				}
				return nil, ErrDisconnected
			}
			reconnected = true
			continue
		}

		fd := parseRights(oob[:oobn])

		// The first message after a reconnect may reference memory
		// from before the drop; skip it.
		if reconnected {
			reconnected = false
			closeRights(fd)
			continue
		}
		stage = 0

		if n < eventSize {
			closeRights(fd)
			continue
		}
		code, info := getEvent(buf[:n])
		if err := eventError(code); err != nil {
			closeRights(fd)
			return nil, err
		}
		if info.Serial == 0 {
			// Control reply left over from an aborted exchange.
			closeRights(fd)
			continue
		}
		if info.Expires != 0 && info.Expires < clock.Now() {
			closeRights(fd)
			continue
		}
		if fd < 0 {
			return nil, ErrBadDescriptor
		}
		unix.CloseOnExec(fd)
		return frame.NewReceived(info, fd, c), nil
	}
}

// pollLocked waits for readability bounded by the configured timeout
// and the absolute deadline, whichever is sooner.
func (c *Client) pollLocked(until int64) error {
	wait := c.timeout
	if until != 0 {
		remaining := time.Duration(until - clock.Now())
		if remaining <= 0 {
			return ErrTimeout
		}
		if remaining < wait {
			wait = remaining
		}
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(wait.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("stream: poll: %w", err)
		}
		if n == 0 {
			return ErrTimeout
		}
		return nil
	}
}

// parseRights extracts a single SCM_RIGHTS descriptor, -1 when absent.
func parseRights(oob []byte) int {
	if len(oob) == 0 {
		return -1
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return -1
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err == nil && len(fds) > 0 {
			return fds[0]
		}
	}
	return -1
}

func closeRights(fd int) {
	if fd > 2 {
		_ = unix.Close(fd)
	}
}

// TryLockFrame relays an advisory lock request for the frame with the
// given serial and waits for the host's verdict. Frame broadcasts that
// arrive meanwhile are discarded, descriptors included; the control
// channel is strictly request/reply.
func (c *Client) TryLockFrame(serial int64) error {
	return c.control(msgTryLock, serial)
}

// UnlockFrame relays the paired unlock.
func (c *Client) UnlockFrame(serial int64) error {
	return c.control(msgUnlock, serial)
}

func (c *Client) control(message uint32, serial int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd < 0 {
		return ErrDisconnected
	}

	out := make([]byte, controlSize)
	putControl(out, message, serial)
	if err := unix.Sendmsg(c.fd, out, nil, nil, unix.MSG_NOSIGNAL); err != nil {
		c.dropConnLocked()
		return fmt.Errorf("stream: send control: %w", err)
	}

	buf := make([]byte, eventSize)
	oob := make([]byte, unix.CmsgSpace(4))
	for {
		n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, 0)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
			pn, perr := unix.Poll(fds, int(c.timeout.Milliseconds()))
			if perr == unix.EINTR {
				continue
			}
			if perr != nil {
				c.dropConnLocked()
				return fmt.Errorf("stream: poll: %w", perr)
			}
			if pn == 0 {
				// Reply never came; protocol state is indeterminate.
				c.dropConnLocked()
				return ErrTimeout
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			c.dropConnLocked()
			if err != nil {
				return fmt.Errorf("stream: recv: %w", err)
			}
			return ErrDisconnected
		}
		closeRights(parseRights(oob[:oobn]))
		if n < eventSize {
			continue
		}
		code, info := getEvent(buf[:n])
		if info.Serial != 0 {
			// A frame broadcast interleaved with the reply; drop it.
			continue
		}
		return eventError(code)
	}
}
