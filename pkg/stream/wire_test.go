package stream

import (
	"testing"

	"github.com/edgevid/videostream/pkg/fourcc"
	"github.com/edgevid/videostream/pkg/frame"
)

func TestEventRoundTrip(t *testing.T) {
	in := frame.Info{
		Serial:    42,
		Timestamp: 1234567890,
		Duration:  -1,
		PTS:       33333,
		DTS:       -1,
		Expires:   9876543210,
		Locked:    2,
		FourCC:    fourcc.RGB3,
		Width:     1920,
		Height:    1080,
		Stride:    5760,
		PAddr:     0x10000000,
		Size:      1920 * 1080 * 3,
		Offset:    4096,
	}
	b := make([]byte, eventSize)
	putEvent(b, evExpired, in)
	code, out := getEvent(b)
	if code != evExpired {
		t.Errorf("code = %d, want %d", code, evExpired)
	}
	if out != in {
		t.Errorf("info round trip:\n got %+v\nwant %+v", out, in)
	}
}

func TestControlRoundTrip(t *testing.T) {
	b := make([]byte, controlSize)
	putControl(b, msgUnlock, -7)
	message, serial := getControl(b)
	if message != msgUnlock || serial != -7 {
		t.Errorf("got (%d, %d), want (%d, -7)", message, serial, msgUnlock)
	}
}

func TestEventError(t *testing.T) {
	for code, want := range map[uint32]error{
		evOK:             nil,
		evExpired:        ErrExpired,
		evInvalidControl: ErrInvalidControl,
		evTooManyLocked:  ErrTooManyLocked,
		99:               ErrInvalidControl,
	} {
		if got := eventError(code); got != want {
			t.Errorf("eventError(%d) = %v, want %v", code, got, want)
		}
	}
}
