package v4l2

import (
	"testing"

	"github.com/edgevid/videostream/pkg/fourcc"
)

func TestCapabilitiesRoundTrip(t *testing.T) {
	mask := uint32(CapVideoCapture | CapStreaming | CapVideoM2MMplane)
	caps := ParseCapabilities(mask)
	if len(caps) != 3 {
		t.Fatalf("decoded %d caps, want 3: %v", len(caps), caps)
	}
	if got := caps.Mask(); got != mask {
		t.Errorf("mask round trip = %#x, want %#x", got, mask)
	}
	if !caps.Has(CapStreaming) || caps.Has(CapVideoOutput) {
		t.Error("set membership wrong")
	}
}

func TestParseCapabilitiesDropsUnknownBits(t *testing.T) {
	caps := ParseCapabilities(uint32(CapVideoCapture) | 0x40000000)
	if len(caps) != 1 || caps[0] != CapVideoCapture {
		t.Errorf("got %v, want [video-capture]", caps)
	}
}

func TestCapabilitiesString(t *testing.T) {
	caps := ParseCapabilities(uint32(CapVideoCapture | CapStreaming))
	if got := caps.String(); got != "video-capture, streaming" {
		t.Errorf("String() = %q", got)
	}
}

func TestClassify(t *testing.T) {
	raw := []Format{{FourCC: fourcc.YUYV}}
	coded := []Format{{FourCC: fourcc.H264, Compressed: true}}
	m2m := ParseCapabilities(uint32(CapVideoM2M))

	tests := []struct {
		name    string
		caps    Capabilities
		capture []Format
		output  []Format
		want    DeviceType
	}{
		{"camera", ParseCapabilities(uint32(CapVideoCapture)), raw, nil, TypeCamera},
		{"display", ParseCapabilities(uint32(CapVideoOutput)), nil, raw, TypeOutput},
		{"encoder", m2m, coded, raw, TypeEncoder},
		{"decoder", m2m, raw, coded, TypeDecoder},
		{"isp", m2m, raw, raw, TypeISP},
		{"transcoder", m2m, coded, coded, TypeM2M},
	}
	for _, tc := range tests {
		if got := Classify(tc.caps, tc.capture, tc.output); got != tc.want {
			t.Errorf("%s: classified as %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestDeviceTypeString(t *testing.T) {
	if TypeCamera.String() != "Camera" || DeviceType(0).String() != "Unknown" {
		t.Error("type names wrong")
	}
}
