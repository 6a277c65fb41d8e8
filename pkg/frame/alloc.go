package frame

import (
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/uuid"
	"golang.org/x/sys/unix"
)

const (
	cmaHeapPath    = "/dev/dma_heap/linux,cma"
	systemHeapPath = "/dev/dma_heap/system"
	shmDir         = "/dev/shm"
)

// Alloc provisions backing memory for the frame.
//
// A path outside /dev names a POSIX shared-memory segment clients can
// open independently. An empty path prefers a dma-buf heap when the
// kernel exposes one, falling back to an anonymous memfd segment
// (still descriptor-passable over the socket). A /dev path selects a
// specific dma-buf heap.
func (f *Frame) Alloc(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return ErrReleased
	}
	f.unallocLocked()

	if path != "" && !strings.HasPrefix(path, "/dev") {
		return f.allocSHM(path)
	}
	if path == "" {
		if accessible(cmaHeapPath) {
			path = cmaHeapPath
		} else if accessible(systemHeapPath) {
			path = systemHeapPath
		} else {
			return f.allocMemfd()
		}
	}
	return f.allocDMA(path)
}

func accessible(path string) bool {
	return unix.Access(path, unix.R_OK|unix.W_OK) == nil
}

func (f *Frame) layoutSize() uint64 {
	return uint64(f.info.FourCC.Size(int(f.info.Width), int(f.info.Height)))
}

func (f *Frame) allocSHM(path string) error {
	size := f.layoutSize()
	if size == 0 {
		return ErrUnsupportedLayout
	}
	name := strings.TrimPrefix(path, "/")
	fd, err := unix.Open(shmDir+"/"+name, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0660)
	if err != nil {
		return fmt.Errorf("frame: shm open %q: %w", path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		_ = os.Remove(shmDir + "/" + name)
		return fmt.Errorf("frame: shm truncate: %w", err)
	}
	f.handle = fd
	f.path = path
	f.allocator = AllocatorSHM
	f.info.Size = size
	f.info.Offset = 0
	return nil
}

func (f *Frame) allocMemfd() error {
	size := f.layoutSize()
	if size == 0 {
		return ErrUnsupportedLayout
	}
	id, _ := uuid.NewV4()
	fd, err := unix.MemfdCreate("vsl-"+id.String(), unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return fmt.Errorf("frame: memfd create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("frame: memfd truncate: %w", err)
	}
	f.handle = fd
	f.allocator = AllocatorMemfd
	f.info.Size = size
	f.info.Offset = 0
	return nil
}

func (f *Frame) allocDMA(heap string) error {
	// Respect a size preset by a driver for alignment, otherwise
	// derive it from the layout.
	size := f.info.Size
	if size == 0 {
		size = f.layoutSize()
	}
	if size == 0 {
		return ErrUnsupportedLayout
	}
	fd, err := unix.Open(heap, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("frame: open heap %q: %w", heap, err)
	}
	defer unix.Close(fd)

	buf, err := dmaHeapAlloc(fd, size)
	if err != nil {
		return fmt.Errorf("frame: dma heap alloc: %w", err)
	}
	f.handle = buf
	f.path = heap
	f.allocator = AllocatorDMAHeap
	f.info.Size = size
	f.info.Offset = 0
	return nil
}

// Attach associates an existing external file descriptor with the
// frame without allocating memory. The fd is duplicated so the frame's
// validity does not depend on the lifetime of the caller's descriptor.
func (f *Frame) Attach(fd int, size, offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return ErrReleased
	}
	if fd <= 0 {
		return unix.EBADF
	}
	f.unallocLocked()

	// Validates the descriptor before committing to it.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0); err != nil {
		return fmt.Errorf("frame: attach fd %d: %w", fd, err)
	}
	if size == 0 {
		size = int64(f.layoutSize())
		if size == 0 {
			return ErrUnsupportedLayout
		}
	}
	dupfd, err := unix.Dup(fd)
	if err != nil {
		return fmt.Errorf("frame: dup fd %d: %w", fd, err)
	}
	unix.CloseOnExec(dupfd)
	f.handle = dupfd
	f.allocator = AllocatorExternal
	f.info.Size = uint64(size)
	f.info.Offset = offset
	return nil
}

// Mmap maps the backing memory into the process address space. The
// mapping is cached until Munmap or Release. Callers are responsible
// for the lock discipline around concurrent access.
func (f *Frame) Mmap() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return nil, ErrReleased
	}
	if f.mapped != nil {
		return f.mapped, nil
	}
	if f.handle < 0 {
		return nil, ErrNoMemory
	}
	_ = f.syncLocked(true, SyncReadWrite)
	m, err := unix.Mmap(f.handle, f.info.Offset, int(f.info.Size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("frame: mmap fd %d size %d: %w", f.handle, f.info.Size, err)
	}
	f.mapped = m
	return m, nil
}

// Munmap drops the cached mapping, if any.
func (f *Frame) Munmap() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.munmapLocked()
}

func (f *Frame) munmapLocked() {
	if f.mapped == nil {
		return
	}
	_ = unix.Munmap(f.mapped)
	f.mapped = nil
	_ = f.syncLocked(false, SyncReadWrite)
}

func (f *Frame) unallocLocked() {
	f.munmapLocked()
	switch f.allocator {
	case AllocatorSHM:
		if f.handle > 2 {
			_ = unix.Close(f.handle)
		}
		_ = os.Remove(shmDir + "/" + strings.TrimPrefix(f.path, "/"))
		f.path = ""
	case AllocatorDMAHeap, AllocatorMemfd, AllocatorExternal:
		if f.handle > 2 {
			_ = unix.Close(f.handle)
		}
	}
	f.handle = -1
	f.allocator = AllocatorExternal
	f.info.Size = 0
	f.info.Offset = 0
}
