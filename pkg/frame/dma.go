package frame

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// dma-buf and dma-heap ioctl plumbing. Request codes follow the
// kernel's _IOW/_IOWR encoding for the structs below.
const (
	dmaHeapIoctlAlloc = 0xc0184800 // _IOWR('H', 0x00, dmaHeapAllocationData)
	dmaBufIoctlSync   = 0x40086200 // _IOW('b', 0x00, dmaBufSync)
	dmaBufIoctlPhys   = 0x4008620a // _IOW('b', 0x0a, dmaBufPhys), vendor extension

	dmaBufSyncRead  = 1 << 0
	dmaBufSyncWrite = 1 << 1
	dmaBufSyncStart = 0
	dmaBufSyncEnd   = 1 << 2
)

type dmaHeapAllocationData struct {
	len       uint64
	fd        uint32
	fdFlags   uint32
	heapFlags uint64
}

type dmaBufSync struct {
	flags uint64
}

type dmaBufPhys struct {
	phys uint64
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func dmaHeapAlloc(heapFd int, size uint64) (int, error) {
	data := dmaHeapAllocationData{
		len:     size,
		fdFlags: unix.O_RDWR | unix.O_CLOEXEC,
	}
	if err := ioctl(heapFd, dmaHeapIoctlAlloc, unsafe.Pointer(&data)); err != nil {
		return -1, err
	}
	return int(data.fd), nil
}

// SyncMode selects the cache-coherency direction of a Sync call,
// matching who touches the buffer next.
type SyncMode int

const (
	SyncRead SyncMode = iota
	SyncWrite
	SyncReadWrite
)

// Sync brackets CPU access to dma-buf memory: call with start=true
// before touching the mapping and start=false after, so CPU and device
// caches stay coherent across hardware hand-offs. Frames not backed by
// a dma-buf heap need no syncing and return nil.
func (f *Frame) Sync(start bool, mode SyncMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncLocked(start, mode)
}

func (f *Frame) syncLocked(start bool, mode SyncMode) error {
	if f.handle < 0 {
		return ErrNoMemory
	}
	if f.allocator != AllocatorDMAHeap {
		return nil
	}
	var sync dmaBufSync
	if start {
		sync.flags |= dmaBufSyncStart
	} else {
		sync.flags |= dmaBufSyncEnd
	}
	if mode != SyncWrite {
		sync.flags |= dmaBufSyncRead
	}
	if mode != SyncRead {
		sync.flags |= dmaBufSyncWrite
	}
	return ioctl(f.handle, dmaBufIoctlSync, unsafe.Pointer(&sync))
}

// PAddr returns the physical address of the buffer for
// physically-contiguous allocations. The value is queried once and
// cached in the descriptor.
func (f *Frame) PAddr() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.info.PAddr != 0 {
		return f.info.PAddr, nil
	}
	if f.handle < 0 {
		return -1, ErrNoMemory
	}
	var phys dmaBufPhys
	if err := ioctl(f.handle, dmaBufIoctlPhys, unsafe.Pointer(&phys)); err != nil {
		return -1, err
	}
	f.info.PAddr = int64(phys.phys)
	return f.info.PAddr, nil
}
