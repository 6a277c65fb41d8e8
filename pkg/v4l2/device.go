package v4l2

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/edgevid/videostream/pkg/fourcc"
)

// DeviceType classifies what a device is for. Values are bits so a
// mask can select several classes during enumeration.
type DeviceType uint32

const (
	TypeCamera DeviceType = 1 << iota
	TypeOutput
	TypeEncoder
	TypeDecoder
	TypeISP
	TypeM2M

	TypeAny DeviceType = 0xffffffff
)

func (t DeviceType) String() string {
	switch t {
	case TypeCamera:
		return "Camera"
	case TypeOutput:
		return "Output"
	case TypeEncoder:
		return "Encoder"
	case TypeDecoder:
		return "Decoder"
	case TypeISP:
		return "ISP"
	case TypeM2M:
		return "M2M"
	}
	return "Unknown"
}

// Format is one entry of a device's format enumeration.
type Format struct {
	FourCC      fourcc.Code
	Description string
	Compressed  bool
}

// Memory is the set of buffer access modes a queue accepts, probed
// with zero-commitment REQBUFS requests.
type Memory struct {
	Mmap    bool
	UserPtr bool
	DMABuf  bool
}

func (m Memory) String() string {
	var parts []string
	if m.Mmap {
		parts = append(parts, "MMAP")
	}
	if m.UserPtr {
		parts = append(parts, "USERPTR")
	}
	if m.DMABuf {
		parts = append(parts, "DMABUF")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// Resolution is a discrete frame size a format supports.
type Resolution struct {
	Width  int
	Height int
}

// Device describes one probed /dev/video* node.
type Device struct {
	Path        string
	Driver      string
	Card        string
	BusInfo     string
	Caps        Capabilities
	Type        DeviceType
	Multiplanar bool

	CaptureFormats []Format
	OutputFormats  []Format
	CaptureMemory  Memory
	OutputMemory   Memory
}

// Enumerate probes every /dev/video* node and returns the devices
// matching the type mask, sorted by path. Nodes that are busy or not
// video devices are skipped silently.
func Enumerate(mask DeviceType) ([]Device, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("v4l2: scan /dev: %w", err)
	}
	var devices []Device
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		if _, err := strconv.Atoi(name[len("video"):]); err != nil {
			continue
		}
		dev, err := Probe("/dev/" + name)
		if err != nil {
			continue
		}
		if dev.Type&mask != 0 {
			devices = append(devices, *dev)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })
	return devices, nil
}

// Probe opens a single device node and fills its description.
func Probe(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("v4l2: open %q: %w", path, err)
	}
	defer unix.Close(fd)

	var qc rawCapability
	if err := xioctl(fd, vidiocQuerycap, unsafe.Pointer(&qc)); err != nil {
		return nil, fmt.Errorf("v4l2: querycap %q: %w", path, err)
	}

	caps := ParseCapabilities(deviceCaps(&qc))
	dev := &Device{
		Path:        path,
		Driver:      cstr(qc.Driver[:]),
		Card:        cstr(qc.Card[:]),
		BusInfo:     cstr(qc.BusInfo[:]),
		Caps:        caps,
		Multiplanar: caps.HasAny(CapVideoCaptureMplane, CapVideoOutputMplane, CapVideoM2MMplane),
	}

	if hasCapture(caps) {
		bt := captureBufType(caps)
		dev.CaptureFormats = enumFormats(fd, bt)
		dev.CaptureMemory = probeMemory(fd, bt)
	}
	if hasOutput(caps) {
		bt := outputBufType(caps)
		dev.OutputFormats = enumFormats(fd, bt)
		dev.OutputMemory = probeMemory(fd, bt)
	}
	if !hasCapture(caps) && !hasOutput(caps) {
		return nil, unix.ENODEV
	}

	dev.Type = Classify(caps, dev.CaptureFormats, dev.OutputFormats)
	return dev, nil
}

// deviceCaps honors V4L2_CAP_DEVICE_CAPS: drivers that set it report
// per-node capabilities separately from the whole physical device.
func deviceCaps(qc *rawCapability) uint32 {
	const capDeviceCaps = 0x80000000
	if qc.Capabilities&capDeviceCaps != 0 {
		return qc.DeviceCaps
	}
	return qc.Capabilities
}

func hasM2M(caps Capabilities) bool {
	return caps.HasAny(CapVideoM2M, CapVideoM2MMplane)
}

func hasCapture(caps Capabilities) bool {
	return caps.HasAny(CapVideoCapture, CapVideoCaptureMplane, CapVideoM2M, CapVideoM2MMplane)
}

func hasOutput(caps Capabilities) bool {
	return caps.HasAny(CapVideoOutput, CapVideoOutputMplane, CapVideoM2M, CapVideoM2MMplane)
}

func captureBufType(caps Capabilities) uint32 {
	if caps.HasAny(CapVideoCaptureMplane, CapVideoM2MMplane) {
		return BufTypeCaptureMplane
	}
	return BufTypeCapture
}

func outputBufType(caps Capabilities) uint32 {
	if caps.HasAny(CapVideoOutputMplane, CapVideoM2MMplane) {
		return BufTypeOutputMplane
	}
	return BufTypeOutput
}

func enumFormats(fd int, bufType uint32) []Format {
	var formats []Format
	for index := uint32(0); ; index++ {
		desc := rawFmtDesc{Index: index, Type: bufType}
		if err := xioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			break
		}
		code := fourcc.Code(desc.PixelFormat)
		formats = append(formats, Format{
			FourCC:      code,
			Description: cstr(desc.Description[:]),
			Compressed:  code.Compressed(),
		})
	}
	return formats
}

// probeMemory asks for one buffer in each access mode and immediately
// gives it back; acceptance means the mode is supported.
func probeMemory(fd int, bufType uint32) (m Memory) {
	try := func(memory uint32) bool {
		req := rawRequestBuffers{Count: 1, Type: bufType, Memory: memory}
		if err := xioctl(fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
			return false
		}
		req = rawRequestBuffers{Count: 0, Type: bufType, Memory: memory}
		_ = xioctl(fd, vidiocReqbufs, unsafe.Pointer(&req))
		return true
	}
	m.Mmap = try(MemoryMmap)
	m.UserPtr = try(MemoryUserPtr)
	m.DMABuf = try(MemoryDMABuf)
	return m
}

func anyCompressed(formats []Format) bool {
	for _, f := range formats {
		if f.Compressed {
			return true
		}
	}
	return false
}

// Classify derives the device class from its capability set and format
// lists. A memory-to-memory device with a compressed side is a codec;
// the compressed side tells which direction.
func Classify(caps Capabilities, capture, output []Format) DeviceType {
	if hasM2M(caps) {
		cc, oc := anyCompressed(capture), anyCompressed(output)
		switch {
		case cc && !oc:
			return TypeEncoder
		case oc && !cc:
			return TypeDecoder
		case !cc && !oc:
			return TypeISP
		default:
			return TypeM2M
		}
	}
	if caps.HasAny(CapVideoCapture, CapVideoCaptureMplane) {
		return TypeCamera
	}
	if caps.HasAny(CapVideoOutput, CapVideoOutputMplane) {
		return TypeOutput
	}
	return 0
}

// Resolutions enumerates the discrete frame sizes the device supports
// for a pixel format. Stepwise ranges are not expanded.
func Resolutions(path string, code fourcc.Code) ([]Resolution, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("v4l2: open %q: %w", path, err)
	}
	defer unix.Close(fd)

	var sizes []Resolution
	for index := uint32(0); ; index++ {
		frm := rawFrameSizeEnum{Index: index, PixelFormat: uint32(code)}
		if err := xioctl(fd, vidiocEnumFramesizes, unsafe.Pointer(&frm)); err != nil {
			break
		}
		if frm.Type != frmsizeTypeDiscrete {
			break
		}
		sizes = append(sizes, Resolution{Width: int(frm.Width), Height: int(frm.Height)})
	}
	return sizes, nil
}

// FindCamera returns the first capture device offering the format, or
// an empty string when none does.
func FindCamera(code fourcc.Code) string {
	return findByFormat(TypeCamera, code, func(d *Device) []Format { return d.CaptureFormats })
}

// FindEncoder returns the first encoder producing the codec. Encoders
// emit compressed data on their capture queue.
func FindEncoder(code fourcc.Code) string {
	return findByFormat(TypeEncoder, code, func(d *Device) []Format { return d.CaptureFormats })
}

// FindDecoder returns the first decoder consuming the codec. Decoders
// take compressed data on their output queue.
func FindDecoder(code fourcc.Code) string {
	return findByFormat(TypeDecoder, code, func(d *Device) []Format { return d.OutputFormats })
}

func findByFormat(mask DeviceType, code fourcc.Code, side func(*Device) []Format) string {
	devices, err := Enumerate(mask)
	if err != nil {
		return ""
	}
	for i := range devices {
		for _, f := range side(&devices[i]) {
			if f.FourCC == code {
				return devices[i].Path
			}
		}
	}
	return ""
}
