package stream

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/edgevid/videostream/pkg/clock"
	"github.com/edgevid/videostream/pkg/fourcc"
	"github.com/edgevid/videostream/pkg/frame"
	"github.com/edgevid/videostream/pkg/logger"
)

func newTestHost(t *testing.T) (*Host, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vsl.sock")
	h, err := NewHost(path, logger.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h, path
}

// runHost drives Poll/Process in the background until stopped or the
// host closes.
func runHost(t *testing.T, h *Host) {
	t.Helper()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, _ = h.Poll(5)
			if err := h.Process(); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { close(stop); wg.Wait() })
}

// waitForSubscriber blocks until the background host loop has accepted
// the client. Posts made before the accept reach no one, so tests that
// post right after connecting must synchronize here first.
func waitForSubscriber(t *testing.T, h *Host) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for len(h.Sockets()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("host did not accept the client")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func allocFrame(t *testing.T, w, ht int) *frame.Frame {
	t.Helper()
	f, err := frame.New(w, ht, 0, "RGB3")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Alloc(""); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestHostExclusiveBind(t *testing.T) {
	_, path := newTestHost(t)
	if _, err := NewHost(path, logger.Default()); err != ErrAddrInUse {
		t.Errorf("second host = %v, want ErrAddrInUse", err)
	}
}

func TestHostReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vsl.sock")

	// A bound but unlistened socket left behind by a crashed process.
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		t.Fatal(err)
	}
	_ = unix.Close(fd)

	h, err := NewHost(path, logger.Default())
	if err != nil {
		t.Fatalf("host did not displace stale socket: %v", err)
	}
	_ = h.Close()
}

func TestClientRequiresHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nobody.sock")
	if _, err := NewClient(path, false, logger.Default()); err == nil {
		t.Error("connect without a host did not fail")
	}
}

func TestClientReconnectWaitsForHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.sock")

	done := make(chan *Client, 1)
	go func() {
		c, err := NewClient(path, true, logger.Default())
		if err != nil {
			done <- nil
			return
		}
		done <- c
	}()

	time.Sleep(50 * time.Millisecond)
	h, err := NewHost(path, logger.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	select {
	case c := <-done:
		if c == nil {
			t.Fatal("reconnecting client gave up")
		}
		_ = c.Disconnect()
	case <-time.After(3 * time.Second):
		t.Fatal("client did not connect after host came up")
	}
}

func TestPostDeliversFrame(t *testing.T) {
	h, path := newTestHost(t)
	c, err := NewClient(path, false, logger.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()
	if err := h.Process(); err != nil {
		t.Fatal(err)
	}

	f := allocFrame(t, 640, 480)
	buf, err := f.Mmap()
	if err != nil {
		t.Fatal(err)
	}
	for i := range buf {
		buf[i] = byte(i * 13)
	}
	f.Munmap()

	if err := h.Post(f, clock.Now()+int64(time.Second), -1, -1, -1); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetFrame(0)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Release()

	if got.Serial() != 1 {
		t.Errorf("serial = %d, want 1", got.Serial())
	}
	if got.Width() != 640 || got.Height() != 480 || got.FourCC() != fourcc.RGB3 {
		t.Errorf("geometry = %dx%d %s", got.Width(), got.Height(), got.FourCC())
	}
	if got.Size() != 640*480*3 {
		t.Errorf("size = %d, want %d", got.Size(), 640*480*3)
	}

	view, err := got.Mmap()
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{0, 1, 4095, len(view) - 1} {
		if view[i] != byte(i*13) {
			t.Fatalf("byte %d = %#x, want %#x", i, view[i], byte(i*13))
		}
	}
}

func TestSerialsIncrease(t *testing.T) {
	h, path := newTestHost(t)
	c, err := NewClient(path, false, logger.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()
	if err := h.Process(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		f := allocFrame(t, 16, 16)
		if err := h.Post(f, clock.Now()+int64(time.Second), -1, -1, -1); err != nil {
			t.Fatal(err)
		}
	}

	var last int64
	for i := 0; i < 3; i++ {
		got, err := c.GetFrame(0)
		if err != nil {
			t.Fatal(err)
		}
		if got.Serial() <= last {
			t.Errorf("serial %d after %d", got.Serial(), last)
		}
		last = got.Serial()
		got.Release()
	}
	if last != 3 {
		t.Errorf("last serial = %d, want 3", last)
	}
}

func TestGetFrameTimeout(t *testing.T) {
	h, path := newTestHost(t)
	c, err := NewClient(path, false, logger.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()
	if err := h.Process(); err != nil {
		t.Fatal(err)
	}

	c.SetTimeout(0.05)
	if _, err := c.GetFrame(0); err != ErrTimeout {
		t.Errorf("idle host GetFrame = %v, want ErrTimeout", err)
	}

	// An absolute deadline sooner than the timeout wins.
	c.SetTimeout(10)
	start := time.Now()
	if _, err := c.GetFrame(clock.Now() + int64(50*time.Millisecond)); err != ErrTimeout {
		t.Errorf("deadline GetFrame = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("deadline ignored, waited %v", elapsed)
	}
}

func TestExpirationReclaims(t *testing.T) {
	h, _ := newTestHost(t)

	past := clock.Now() - 1
	for i := 0; i < 200; i++ {
		f, err := frame.New(16, 16, 0, "RGB3")
		if err != nil {
			t.Fatal(err)
		}
		if err := h.Post(f, past, -1, -1, -1); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.Process(); err != nil {
		t.Fatal(err)
	}
	if n := h.Tracked(); n != 0 {
		t.Errorf("tracked after expiry sweep = %d, want 0", n)
	}
}

func TestLockedFrameSurvivesExpiry(t *testing.T) {
	h, path := newTestHost(t)
	runHost(t, h)

	c, err := NewClient(path, false, logger.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()
	waitForSubscriber(t, h)

	f := allocFrame(t, 16, 16)
	if err := h.Post(f, clock.Now()+int64(200*time.Millisecond), -1, -1, -1); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetFrame(0)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Release()
	if err := got.TryLock(); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if n := h.Tracked(); n != 1 {
		t.Fatalf("locked frame expired, tracked = %d", n)
	}

	if err := got.Unlock(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for h.Tracked() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("frame not reclaimed after unlock")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLockUnknownSerial(t *testing.T) {
	h, path := newTestHost(t)
	runHost(t, h)

	c, err := NewClient(path, false, logger.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	if err := c.TryLockFrame(12345); err != ErrExpired {
		t.Errorf("trylock of unknown serial = %v, want ErrExpired", err)
	}
	if err := c.UnlockFrame(12345); err != ErrExpired {
		t.Errorf("unlock of unknown serial = %v, want ErrExpired", err)
	}
}

func TestLockLimit(t *testing.T) {
	h, path := newTestHost(t)
	runHost(t, h)

	c, err := NewClient(path, false, logger.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()
	waitForSubscriber(t, h)

	expires := clock.Now() + int64(time.Minute)
	frames := make([]*frame.Frame, 0, maxFramesPerClient+1)
	for i := 0; i <= maxFramesPerClient; i++ {
		f := allocFrame(t, 8, 8)
		if err := h.Post(f, expires, -1, -1, -1); err != nil {
			t.Fatal(err)
		}
		got, err := c.GetFrame(0)
		if err != nil {
			t.Fatal(err)
		}
		frames = append(frames, got)
	}
	defer func() {
		for _, f := range frames {
			f.Release()
		}
	}()

	for i := 0; i < maxFramesPerClient; i++ {
		if err := frames[i].TryLock(); err != nil {
			t.Fatalf("lock %d: %v", i, err)
		}
	}
	if err := frames[maxFramesPerClient].TryLock(); err != ErrTooManyLocked {
		t.Errorf("lock past limit = %v, want ErrTooManyLocked", err)
	}

	// Unlocking one frees a slot.
	if err := frames[0].Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := frames[maxFramesPerClient].TryLock(); err != nil {
		t.Errorf("lock after unlock = %v", err)
	}
}

func TestControlReplyHonorsTimeout(t *testing.T) {
	h, path := newTestHost(t)
	c, err := NewClient(path, false, logger.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()
	// Accept the client, then go silent so no reply ever comes.
	if err := h.Process(); err != nil {
		t.Fatal(err)
	}

	c.SetTimeout(0.05)
	start := time.Now()
	if err := c.TryLockFrame(1); err != ErrTimeout {
		t.Fatalf("trylock with silent host = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("reply wait took %v, want the configured 50ms bound", elapsed)
	}
}

func TestDropWithdrawsFrame(t *testing.T) {
	h, _ := newTestHost(t)

	f := allocFrame(t, 16, 16)
	if err := h.Post(f, clock.Now()+int64(time.Minute), -1, -1, -1); err != nil {
		t.Fatal(err)
	}
	if n := h.Tracked(); n != 1 {
		t.Fatalf("tracked = %d, want 1", n)
	}
	if err := h.Drop(f); err != nil {
		t.Fatal(err)
	}
	if n := h.Tracked(); n != 0 {
		t.Errorf("tracked after drop = %d, want 0", n)
	}
	if err := h.Drop(f); err != ErrNotTracked {
		t.Errorf("second drop = %v, want ErrNotTracked", err)
	}
	f.Release()
}
