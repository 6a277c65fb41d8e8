// Package cli maps library errors to conventional process exit codes
// shared by all the videostream command-line tools.
package cli

import (
	"errors"

	"github.com/edgevid/videostream/pkg/stream"
	"golang.org/x/sys/unix"
)

const (
	ExitOK                  = 0
	ExitGeneral             = 1
	ExitInvalidArgs         = 2
	ExitDeviceNotFound      = 3
	ExitHardwareUnavailable = 4
	ExitSocketError         = 5
	ExitTimeout             = 6
)

// ExitCode classifies err into the exit-code table.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, stream.ErrTimeout) || errors.Is(err, unix.ETIMEDOUT):
		return ExitTimeout
	case errors.Is(err, stream.ErrAddrInUse),
		errors.Is(err, unix.ECONNREFUSED),
		errors.Is(err, unix.ECONNRESET),
		errors.Is(err, unix.ECONNABORTED),
		errors.Is(err, unix.EPIPE):
		return ExitSocketError
	case errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENOENT):
		return ExitDeviceNotFound
	case errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.ENOSYS):
		return ExitHardwareUnavailable
	case errors.Is(err, unix.EINVAL):
		return ExitInvalidArgs
	default:
		return ExitGeneral
	}
}
