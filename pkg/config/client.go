package config

import "flag"

type ClientConfig struct {
	Client struct {
		Socket    string  `fig:"socket" default:"/tmp/videostream.sock"`
		Reconnect bool    `fig:"reconnect"`
		Timeout   float64 `fig:"timeout" default:"1.0"`
		Debug     bool    `fig:"debug"`
	}
}

func NewClientConfig() (c ClientConfig) {
	_ = LoadConfig(&c, "")
	return
}

func (c *ClientConfig) WithFlags() {
	cl := &c.Client
	flag.StringVar(&cl.Socket, "socket", cl.Socket, "unix socket path of the host")
	flag.BoolVar(&cl.Reconnect, "reconnect", cl.Reconnect, "reconnect automatically when the host goes away")
	flag.Float64Var(&cl.Timeout, "timeout", cl.Timeout, "frame wait timeout in seconds")
	flag.BoolVar(&cl.Debug, "debug", cl.Debug, "debug logging")
}
