package main

import (
	"context"
	goflag "flag"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/edgevid/videostream/pkg/camera"
	"github.com/edgevid/videostream/pkg/cli"
	"github.com/edgevid/videostream/pkg/clock"
	"github.com/edgevid/videostream/pkg/config"
	"github.com/edgevid/videostream/pkg/fourcc"
	"github.com/edgevid/videostream/pkg/frame"
	"github.com/edgevid/videostream/pkg/logger"
	"github.com/edgevid/videostream/pkg/monitoring"
	vos "github.com/edgevid/videostream/pkg/os"
	"github.com/edgevid/videostream/pkg/service"
	"github.com/edgevid/videostream/pkg/stream"
)

var Version = "?"

func main() { os.Exit(run()) }

func run() int {
	conf := config.NewHostConfig()
	conf.WithFlags()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Host.Debug, "host")
	log.Info().Msgf("version %s", Version)

	code, err := fourcc.FromString(conf.Host.Video.Format)
	if err != nil {
		log.Error().Err(err).Str("format", conf.Host.Video.Format).Msg("bad format")
		return cli.ExitInvalidArgs
	}

	host, err := stream.NewHost(conf.Host.Socket, log)
	if err != nil {
		log.Error().Err(err).Str("socket", conf.Host.Socket).Msg("host start failed")
		return cli.ExitCode(err)
	}
	defer host.Close()

	var services service.Group
	if conf.Host.Monitoring.IsEnabled() && conf.Host.Monitoring.Port > 0 {
		services.Add(monitoring.New(conf.Host.Monitoring, "host", log))
	}
	services.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := services.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()

	var source frameSource
	if conf.Host.Device != "" {
		cam, err := camera.Open(conf.Host.Device, conf.Host.Video.Width, conf.Host.Video.Height, code, log)
		if err != nil {
			log.Error().Err(err).Str("device", conf.Host.Device).Msg("camera open failed")
			return cli.ExitCode(err)
		}
		defer cam.Close()
		if err := cam.Start(); err != nil {
			log.Error().Err(err).Msg("camera start failed")
			return cli.ExitCode(err)
		}
		source = &cameraSource{cam: cam}
		log.Info().Msgf("publishing %s %dx%d from %s on %s",
			cam.Format(), cam.Width(), cam.Height(), cam.Path(), host.Path())
	} else {
		source = &patternSource{
			width:  conf.Host.Video.Width,
			height: conf.Host.Video.Height,
			code:   code,
			pace:   time.NewTicker(time.Second / time.Duration(max(conf.Host.Video.FPS, 1))),
		}
		log.Info().Msgf("publishing %s %dx%d test pattern on %s",
			code, conf.Host.Video.Width, conf.Host.Video.Height, host.Path())
	}

	lifespan := conf.Host.Expiration.Nanoseconds()
	done := vos.ExpectTermination()
	for {
		select {
		case <-done:
			log.Info().Msg("terminating")
			return cli.ExitOK
		default:
		}

		if _, err := host.Poll(10); err != nil {
			log.Error().Err(err).Msg("poll failed")
			return cli.ExitCode(err)
		}
		if err := host.Process(); err != nil {
			log.Error().Err(err).Msg("process failed")
			return cli.ExitCode(err)
		}

		f, err := source.next()
		if err == unix.ETIMEDOUT {
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("frame source failed")
			return cli.ExitCode(err)
		}
		if f == nil {
			continue
		}
		if err := host.Post(f, clock.Now()+lifespan, -1, -1, -1); err != nil {
			f.Release()
			log.Error().Err(err).Msg("post failed")
			return cli.ExitCode(err)
		}
		log.Debug().Msgf("posted %s", f)
	}
}

// frameSource yields the next frame to publish, nil when none is due
// yet, unix.ETIMEDOUT when the wait expired without one.
type frameSource interface {
	next() (*frame.Frame, error)
}

type cameraSource struct {
	cam *camera.Camera
}

func (s *cameraSource) next() (*frame.Frame, error) {
	return s.cam.Capture(100)
}

// patternSource produces a moving gradient at the configured rate, for
// running without capture hardware.
type patternSource struct {
	width  int
	height int
	code   fourcc.Code
	pace   *time.Ticker
	count  int
}

func (s *patternSource) next() (*frame.Frame, error) {
	select {
	case <-s.pace.C:
	default:
		return nil, nil
	}
	f, err := frame.NewCode(s.width, s.height, 0, s.code)
	if err != nil {
		return nil, err
	}
	if err := f.Alloc(""); err != nil {
		return nil, err
	}
	buf, err := f.Mmap()
	if err != nil {
		f.Release()
		return nil, err
	}
	shift := s.count * 10
	for i := range buf {
		buf[i] = byte(i + shift)
	}
	f.Munmap()
	s.count++
	return f, nil
}
