package camera

import (
	"testing"
	"time"

	"github.com/edgevid/videostream/pkg/logger"
)

func TestOpenMissingDevice(t *testing.T) {
	if _, err := Open("/dev/video-does-not-exist", 0, 0, 0, logger.Default()); err == nil {
		t.Error("open of missing device did not fail")
	}
}

func TestPollBudget(t *testing.T) {
	now := time.Now()
	if got := pollBudget(time.Time{}); got != -1 {
		t.Errorf("no deadline = %d, want -1", got)
	}
	if got := pollBudget(now.Add(-time.Second)); got != 0 {
		t.Errorf("passed deadline = %d, want 0", got)
	}
	if got := pollBudget(now.Add(time.Second)); got < 1 || got > 1000 {
		t.Errorf("1s out = %d, want within (0, 1000]", got)
	}
	// A sub-millisecond remainder still waits instead of spinning.
	if got := pollBudget(now.Add(500 * time.Microsecond)); got != 1 && got != 0 {
		t.Errorf("sub-ms remainder = %d, want 1 (or 0 if already passed)", got)
	}
}

func TestOpenNonVideoDevice(t *testing.T) {
	// querycap on a non-v4l2 character device must fail cleanly.
	if _, err := Open("/dev/null", 0, 0, 0, logger.Default()); err == nil {
		t.Error("open of /dev/null did not fail")
	}
}
