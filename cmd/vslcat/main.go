package main

import (
	"errors"
	goflag "flag"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/edgevid/videostream/pkg/cli"
	"github.com/edgevid/videostream/pkg/clock"
	"github.com/edgevid/videostream/pkg/config"
	"github.com/edgevid/videostream/pkg/logger"
	vos "github.com/edgevid/videostream/pkg/os"
	"github.com/edgevid/videostream/pkg/stream"
)

var Version = "?"

var (
	count    = goflag.Int("count", 0, "stop after this many frames (0 = unlimited)")
	duration = goflag.Duration("duration", 0, "stop after this long (0 = unlimited)")
	output   = goflag.String("output", "", "append raw frame data to this file")
)

func main() { os.Exit(run()) }

func run() int {
	conf := config.NewClientConfig()
	conf.WithFlags()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Client.Debug, "cat")
	log.Info().Msgf("version %s", Version)

	client, err := stream.NewClient(conf.Client.Socket, conf.Client.Reconnect, log)
	if err != nil {
		log.Error().Err(err).Str("socket", conf.Client.Socket).Msg("connect failed")
		return cli.ExitCode(err)
	}
	defer client.Disconnect()
	client.SetTimeout(conf.Client.Timeout)

	var sink *os.File
	if *output != "" {
		sink, err = os.OpenFile(*output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Error().Err(err).Str("output", *output).Msg("open output failed")
			return cli.ExitGeneral
		}
		defer sink.Close()
	}

	var deadline int64
	if *duration > 0 {
		deadline = clock.Now() + duration.Nanoseconds()
	}

	var (
		frames     int
		bytes      int64
		dropped    int64
		lastSerial int64
		started    = time.Now()
	)
	defer func() {
		elapsed := time.Since(started).Seconds()
		fps := 0.0
		if elapsed > 0 {
			fps = float64(frames) / elapsed
		}
		log.Info().
			Int("frames", frames).
			Int64("bytes", bytes).
			Int64("dropped", dropped).
			Float64("fps", fps).
			Msg("done")
	}()

	done := vos.ExpectTermination()
	for {
		select {
		case <-done:
			return cli.ExitOK
		default:
		}
		if *count > 0 && frames >= *count {
			return cli.ExitOK
		}
		if deadline != 0 && clock.Now() >= deadline {
			return cli.ExitOK
		}

		f, err := client.GetFrame(deadline)
		if errors.Is(err, stream.ErrTimeout) {
			if deadline != 0 && clock.Now() >= deadline {
				return cli.ExitOK
			}
			log.Warn().Msg("no frame within timeout")
			continue
		}
		if errors.Is(err, stream.ErrExpired) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("frame receive failed")
			return cli.ExitCode(err)
		}

		if f.Serial() > lastSerial+1 && lastSerial != 0 {
			dropped += f.Serial() - lastSerial - 1
		}
		lastSerial = f.Serial()

		if err := f.TryLock(); err != nil {
			// Evicted before we could pin it; count it as a drop.
			dropped++
			f.Release()
			continue
		}
		data, err := f.Mmap()
		if err == nil {
			bytes += int64(len(data))
			if sink != nil {
				if _, werr := sink.Write(data); werr != nil {
					log.Error().Err(werr).Msg("write failed")
					_ = f.Unlock()
					f.Release()
					return cli.ExitGeneral
				}
			}
		}
		_ = f.Unlock()
		f.Release()
		frames++
		log.Debug().Msgf("frame %s latency %s",
			f, time.Duration(clock.Now()-f.Timestamp()))
	}
}
