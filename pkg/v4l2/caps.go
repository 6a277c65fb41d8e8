package v4l2

import "strings"

// Capability is a single device capability. Values are the kernel's
// capability bits so a set converts losslessly to and from the bitmask
// reported by QUERYCAP.
type Capability uint32

const (
	CapVideoCapture       Capability = 0x00000001
	CapVideoOutput        Capability = 0x00000002
	CapVideoOverlay       Capability = 0x00000004
	CapVideoCaptureMplane Capability = 0x00001000
	CapVideoOutputMplane  Capability = 0x00002000
	CapVideoM2MMplane     Capability = 0x00004000
	CapVideoM2M           Capability = 0x00008000
	CapMetaCapture        Capability = 0x00800000
	CapReadWrite          Capability = 0x01000000
	CapStreaming          Capability = 0x04000000
)

// Bit order, lowest first, so decoded sets print deterministically.
var knownCaps = []struct {
	cap  Capability
	name string
}{
	{CapVideoCapture, "video-capture"},
	{CapVideoOutput, "video-output"},
	{CapVideoOverlay, "video-overlay"},
	{CapVideoCaptureMplane, "video-capture-mplane"},
	{CapVideoOutputMplane, "video-output-mplane"},
	{CapVideoM2MMplane, "video-m2m-mplane"},
	{CapVideoM2M, "video-m2m"},
	{CapMetaCapture, "meta-capture"},
	{CapReadWrite, "read-write"},
	{CapStreaming, "streaming"},
}

func (c Capability) String() string {
	for _, k := range knownCaps {
		if k.cap == c {
			return k.name
		}
	}
	return "unknown"
}

// Capabilities is a decoded capability set. The raw bitmask stays an
// implementation detail of the kernel interface; callers work with the
// set form.
type Capabilities []Capability

// ParseCapabilities expands a QUERYCAP bitmask into the known
// capability set. Unknown bits are dropped.
func ParseCapabilities(mask uint32) Capabilities {
	var caps Capabilities
	for _, k := range knownCaps {
		if mask&uint32(k.cap) != 0 {
			caps = append(caps, k.cap)
		}
	}
	return caps
}

// Mask folds the set back into the kernel bitmask.
func (cs Capabilities) Mask() uint32 {
	var mask uint32
	for _, c := range cs {
		mask |= uint32(c)
	}
	return mask
}

func (cs Capabilities) Has(c Capability) bool {
	for _, have := range cs {
		if have == c {
			return true
		}
	}
	return false
}

// HasAny reports whether any of the given capabilities is present.
func (cs Capabilities) HasAny(want ...Capability) bool {
	for _, c := range want {
		if cs.Has(c) {
			return true
		}
	}
	return false
}

func (cs Capabilities) String() string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}
