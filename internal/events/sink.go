package events

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/streamspace-labs/orchestrator/internal/logger"
)

// Sink accepts events from any component and publishes them to NATS on a
// background goroutine. It never blocks the caller: when its buffer is
// full, the oldest pending event is dropped and DropCount is incremented.
type Sink struct {
	conn      *nats.Conn
	queue     chan Event
	dropCount atomic.Int64
	stopCh    chan struct{}
}

// Config configures the NATS connection backing a Sink.
type Config struct {
	URL      string
	User     string
	Password string
	Buffer   int
}

// NewSink connects to NATS and starts the draining goroutine. If cfg.URL is
// empty or the connection fails, a disabled sink is returned: Emit still
// accepts events (so callers never branch on sink availability) but they
// are dropped and counted.
func NewSink(cfg Config) *Sink {
	buf := cfg.Buffer
	if buf <= 0 {
		buf = 1024
	}
	s := &Sink{
		queue:  make(chan Event, buf),
		stopCh: make(chan struct{}),
	}

	if cfg.URL == "" {
		logger.Events().Warn().Msg("NATS_URL not configured, event sink disabled")
		go s.drainDisabled()
		return s
	}

	opts := []nats.Option{
		nats.Name("orchestrator"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Events().Warn().Err(err).Msg("NATS sink disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Events().Info().Str("url", nc.ConnectedUrl()).Msg("NATS sink reconnected")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Events().Warn().Err(err).Msg("failed to connect event sink to NATS, events will be dropped")
		go s.drainDisabled()
		return s
	}

	s.conn = conn
	go s.drain()
	return s
}

// Emit enqueues an event for delivery. Never blocks.
func (s *Sink) Emit(e Event) {
	select {
	case s.queue <- e:
	default:
		select {
		case <-s.queue:
			s.dropCount.Add(1)
		default:
		}
		select {
		case s.queue <- e:
		default:
			s.dropCount.Add(1)
		}
	}
}

// DropCount returns the number of events dropped due to a full buffer or a
// disabled sink, for the admin health surface.
func (s *Sink) DropCount() int64 {
	return s.dropCount.Load()
}

// Close stops the drain goroutine and closes the NATS connection.
func (s *Sink) Close() {
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Sink) drain() {
	for {
		select {
		case e := <-s.queue:
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := s.conn.Publish(subject(e), payload); err != nil {
				logger.Events().Warn().Err(err).Str("subject", subject(e)).Msg("failed to publish event")
				s.dropCount.Add(1)
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sink) drainDisabled() {
	for {
		select {
		case <-s.queue:
			s.dropCount.Add(1)
		case <-s.stopCh:
			return
		}
	}
}
