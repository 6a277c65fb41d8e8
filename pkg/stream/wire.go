package stream

import (
	"encoding/binary"

	"github.com/edgevid/videostream/pkg/fourcc"
	"github.com/edgevid/videostream/pkg/frame"
)

// Wire records are fixed-size little-endian structs over a
// SOCK_SEQPACKET unix socket. Frame descriptors ride as events with a
// non-zero serial plus an SCM_RIGHTS descriptor in the ancillary data;
// control replies are events with serial zero.

const (
	msgTryLock uint32 = iota
	msgUnlock
)

const (
	evOK uint32 = iota
	evExpired
	evInvalidControl
	evTooManyLocked
)

const (
	infoSize    = 92
	eventSize   = 4 + infoSize
	controlSize = 4 + 8
)

func putInfo(b []byte, info frame.Info) {
	le := binary.LittleEndian
	le.PutUint64(b[0:], uint64(info.Serial))
	le.PutUint64(b[8:], uint64(info.Timestamp))
	le.PutUint64(b[16:], uint64(info.Duration))
	le.PutUint64(b[24:], uint64(info.PTS))
	le.PutUint64(b[32:], uint64(info.DTS))
	le.PutUint64(b[40:], uint64(info.Expires))
	le.PutUint32(b[48:], uint32(info.Locked))
	le.PutUint32(b[52:], uint32(info.FourCC))
	le.PutUint32(b[56:], uint32(info.Width))
	le.PutUint32(b[60:], uint32(info.Height))
	le.PutUint32(b[64:], uint32(info.Stride))
	le.PutUint64(b[68:], uint64(info.PAddr))
	le.PutUint64(b[76:], info.Size)
	le.PutUint64(b[84:], uint64(info.Offset))
}

func getInfo(b []byte) (info frame.Info) {
	le := binary.LittleEndian
	info.Serial = int64(le.Uint64(b[0:]))
	info.Timestamp = int64(le.Uint64(b[8:]))
	info.Duration = int64(le.Uint64(b[16:]))
	info.PTS = int64(le.Uint64(b[24:]))
	info.DTS = int64(le.Uint64(b[32:]))
	info.Expires = int64(le.Uint64(b[40:]))
	info.Locked = int32(le.Uint32(b[48:]))
	info.FourCC = fourcc.Code(le.Uint32(b[52:]))
	info.Width = int32(le.Uint32(b[56:]))
	info.Height = int32(le.Uint32(b[60:]))
	info.Stride = int32(le.Uint32(b[64:]))
	info.PAddr = int64(le.Uint64(b[68:]))
	info.Size = le.Uint64(b[76:])
	info.Offset = int64(le.Uint64(b[84:]))
	return
}

func putEvent(b []byte, code uint32, info frame.Info) {
	binary.LittleEndian.PutUint32(b[0:], code)
	putInfo(b[4:], info)
}

func getEvent(b []byte) (code uint32, info frame.Info) {
	code = binary.LittleEndian.Uint32(b[0:])
	info = getInfo(b[4:])
	return
}

func putControl(b []byte, message uint32, serial int64) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], message)
	le.PutUint64(b[4:], uint64(serial))
}

func getControl(b []byte) (message uint32, serial int64) {
	le := binary.LittleEndian
	message = le.Uint32(b[0:])
	serial = int64(le.Uint64(b[4:]))
	return
}

func eventError(code uint32) error {
	switch code {
	case evOK:
		return nil
	case evExpired:
		return ErrExpired
	case evInvalidControl:
		return ErrInvalidControl
	case evTooManyLocked:
		return ErrTooManyLocked
	}
	return ErrInvalidControl
}
