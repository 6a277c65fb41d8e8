package fourcc

import "testing"

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"RGB3", "YUYV", "NV12", "H264", "ABCD", "    ", "\x00\x01\x02\x03"} {
		c, err := FromString(s)
		if err != nil {
			t.Fatalf("FromString(%q): %v", s, err)
		}
		if got := c.String(); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}

func TestFromStringLength(t *testing.T) {
	for _, s := range []string{"", "RGB", "RGB34", "a"} {
		if _, err := FromString(s); err != ErrInvalidFormat {
			t.Errorf("FromString(%q) = %v, want ErrInvalidFormat", s, err)
		}
	}
}

func TestStride(t *testing.T) {
	tests := []struct {
		code   Code
		width  int
		stride int
	}{
		{RGBA, 640, 2560},
		{RGB3, 640, 1920},
		{YUYV, 640, 1280},
		{NV12, 640, 960},
		{H264, 640, 0},
	}
	for _, tc := range tests {
		if got := tc.code.Stride(tc.width); got != tc.stride {
			t.Errorf("%s stride(%d) = %d, want %d", tc.code, tc.width, got, tc.stride)
		}
	}
}

func TestSize(t *testing.T) {
	if got := RGB3.Size(640, 480); got != 640*3*480 {
		t.Errorf("RGB3 size = %d", got)
	}
	if got := H264.Size(640, 480); got != 0 {
		t.Errorf("H264 size = %d, want 0", got)
	}
}
