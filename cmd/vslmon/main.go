package main

import (
	"context"
	"errors"
	goflag "flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
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
	port     = goflag.Int("port", 9321, "websocket stats port")
	interval = goflag.Duration("interval", time.Second, "stats publish interval")
)

// Stats is one published measurement window.
type Stats struct {
	Serial    int64   `json:"serial"`
	Frames    int64   `json:"frames"`
	Dropped   int64   `json:"dropped"`
	FPS       float64 `json:"fps"`
	LatencyMs float64 `json:"latency_ms"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Format    string  `json:"format"`
}

func main() { os.Exit(run()) }

func run() int {
	conf := config.NewClientConfig()
	conf.WithFlags()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Client.Debug, "mon")
	log.Info().Msgf("version %s", Version)

	client, err := stream.NewClient(conf.Client.Socket, conf.Client.Reconnect, log)
	if err != nil {
		log.Error().Err(err).Str("socket", conf.Client.Socket).Msg("connect failed")
		return cli.ExitCode(err)
	}
	defer client.Disconnect()
	client.SetTimeout(conf.Client.Timeout)

	hub := newHub(log)
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", hub.serve)
	server := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: mux}
	go func() {
		log.Info().Msgf("stats feed at ws://localhost:%d/stats", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("stats server failure")
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	var (
		window      Stats
		windowStart = time.Now()
		latencySum  time.Duration
		lastSerial  int64
	)
	done := vos.ExpectTermination()
	for {
		select {
		case <-done:
			log.Info().Msg("terminating")
			return cli.ExitOK
		default:
		}

		f, err := client.GetFrame(0)
		if errors.Is(err, stream.ErrTimeout) || errors.Is(err, stream.ErrExpired) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("frame receive failed")
			return cli.ExitCode(err)
		}

		if lastSerial != 0 && f.Serial() > lastSerial+1 {
			window.Dropped += f.Serial() - lastSerial - 1
		}
		lastSerial = f.Serial()
		window.Serial = f.Serial()
		window.Frames++
		window.Width = f.Width()
		window.Height = f.Height()
		window.Format = f.FourCC().String()
		latencySum += time.Duration(clock.Now() - f.Timestamp())
		f.Release()

		if elapsed := time.Since(windowStart); elapsed >= *interval {
			window.FPS = float64(window.Frames) / elapsed.Seconds()
			if window.Frames > 0 {
				window.LatencyMs = float64(latencySum.Milliseconds()) / float64(window.Frames)
			}
			hub.publish(&window)
			serial := window.Serial
			window = Stats{Serial: serial}
			latencySum = 0
			windowStart = time.Now()
		}
	}
}

// hub fans stats out to every connected websocket viewer.
type hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	log   *logger.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func newHub(log *logger.Logger) *hub {
	return &hub{conns: make(map[*websocket.Conn]struct{}), log: log}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("peer", r.RemoteAddr).Msg("viewer connected")

	// Reads are only consumed to detect the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

func (h *hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		_ = conn.Close()
	}
}

func (h *hub) publish(s *Stats) {
	payload, err := json.Marshal(s)
	if err != nil {
		return
	}
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(c)
		}
	}
}
