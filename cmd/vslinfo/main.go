package main

import (
	goflag "flag"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/edgevid/videostream/pkg/cli"
	"github.com/edgevid/videostream/pkg/fourcc"
	"github.com/edgevid/videostream/pkg/v4l2"
)

var Version = "?"

var (
	showResolutions = goflag.Bool("resolutions", false, "list discrete frame sizes per format")
	probeCodecs     = goflag.Bool("codecs", true, "report codec auto-detection results")
)

func main() { os.Exit(run()) }

func run() int {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	fmt.Printf("V4L2 Device Inventory (%s)\n\n", Version)

	devices, err := v4l2.Enumerate(v4l2.TypeAny)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cli.ExitCode(err)
	}
	if len(devices) == 0 {
		fmt.Println("No V4L2 video devices found.")
		return cli.ExitOK
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i := range devices {
		printDevice(&devices[i])
	}

	if *probeCodecs {
		fmt.Println("Auto-detection:")
		printFind("H.264 encoder", v4l2.FindEncoder(fourcc.H264))
		printFind("HEVC encoder ", v4l2.FindEncoder(fourcc.HEVC))
		printFind("H.264 decoder", v4l2.FindDecoder(fourcc.H264))
		printFind("NV12 camera  ", v4l2.FindCamera(fourcc.NV12))
		printFind("YUYV camera  ", v4l2.FindCamera(fourcc.YUYV))
	}
	return cli.ExitOK
}

func printDevice(dev *v4l2.Device) {
	fmt.Printf("%s: %s\n", dev.Path, dev.Card)
	fmt.Printf("  Driver: %s\n", dev.Driver)
	fmt.Printf("  Bus: %s\n", dev.BusInfo)
	planar := ""
	if dev.Multiplanar {
		planar = " (multiplanar)"
	}
	fmt.Printf("  Type: %s%s\n", dev.Type, planar)
	fmt.Printf("  Caps: %s\n", dev.Caps)

	if len(dev.CaptureFormats) > 0 {
		fmt.Printf("  Capture formats (%d):\n", len(dev.CaptureFormats))
		printFormats(dev, dev.CaptureFormats)
		fmt.Printf("  Capture memory: %s\n", dev.CaptureMemory)
	}
	if len(dev.OutputFormats) > 0 {
		fmt.Printf("  Output formats (%d):\n", len(dev.OutputFormats))
		printFormats(dev, dev.OutputFormats)
		fmt.Printf("  Output memory: %s\n", dev.OutputMemory)
	}
	fmt.Println()
}

func printFormats(dev *v4l2.Device, formats []v4l2.Format) {
	for _, f := range formats {
		suffix := ""
		if f.Compressed {
			suffix = " (compressed)"
		}
		fmt.Printf("    %s: %s%s\n", f.FourCC, f.Description, suffix)
		if *showResolutions {
			sizes, err := v4l2.Resolutions(dev.Path, f.FourCC)
			if err != nil {
				continue
			}
			for _, s := range sizes {
				fmt.Printf("      %dx%d\n", s.Width, s.Height)
			}
		}
	}
}

func printFind(label, path string) {
	if path == "" {
		path = "(not found)"
	}
	fmt.Printf("  %s: %s\n", label, path)
}
