package config

import "flag"

type Monitoring struct {
	Port             int    `fig:"port" default:"0"`
	URLPrefix        string `fig:"urlprefix"`
	MetricEnabled    bool   `fig:"metric"`
	ProfilingEnabled bool   `fig:"pprof"`
}

func (m *Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

// Video describes the frames a producer publishes.
type Video struct {
	Width  int    `fig:"width" default:"640"`
	Height int    `fig:"height" default:"480"`
	Format string `fig:"format" default:"YUYV"`
	FPS    int    `fig:"fps" default:"30"`
}

func (v *Video) WithFlags() {
	flag.IntVar(&v.Width, "width", v.Width, "frame width")
	flag.IntVar(&v.Height, "height", v.Height, "frame height")
	flag.StringVar(&v.Format, "format", v.Format, "frame fourcc format")
	flag.IntVar(&v.FPS, "fps", v.FPS, "frames per second")
}
