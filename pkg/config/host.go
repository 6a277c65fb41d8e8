package config

import (
	"flag"
	"time"
)

type HostConfig struct {
	Host struct {
		Socket     string        `fig:"socket" default:"/tmp/videostream.sock"`
		Device     string        `fig:"device"`
		Expiration time.Duration `fig:"expiration" default:"1s"`
		Debug      bool          `fig:"debug"`
		Video      Video
		Monitoring Monitoring
	}
}

func NewHostConfig() (c HostConfig) {
	_ = LoadConfig(&c, "")
	return
}

func (c *HostConfig) WithFlags() {
	h := &c.Host
	flag.StringVar(&h.Socket, "socket", h.Socket, "unix socket path to publish on")
	flag.StringVar(&h.Device, "device", h.Device, "V4L2 capture device (empty for test pattern)")
	flag.DurationVar(&h.Expiration, "expiration", h.Expiration, "published frame lifetime")
	flag.BoolVar(&h.Debug, "debug", h.Debug, "debug logging")
	flag.IntVar(&h.Monitoring.Port, "monitoring.port", h.Monitoring.Port, "monitoring server port (0 disables)")
	flag.BoolVar(&h.Monitoring.MetricEnabled, "monitoring.metrics", h.Monitoring.MetricEnabled, "export prometheus metrics")
	flag.BoolVar(&h.Monitoring.ProfilingEnabled, "monitoring.pprof", h.Monitoring.ProfilingEnabled, "enable pprof endpoints")
	h.Video.WithFlags()
}
