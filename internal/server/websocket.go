package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"photoscan/internal/logging"
	"photoscan/internal/protocol"
)

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return nil, err
	}
	if limit := s.cfg.Server.MaxFrameBytes; limit > 0 {
		conn.SetReadLimit(limit)
	}
	return conn, nil
}

// wsSink is a protocol.Sink that serializes events onto one connection.
// Send queues into a buffered channel drained by a single writer goroutine.
type wsSink struct {
	conn    *websocket.Conn
	events  chan protocol.Event
	stopped chan struct{}
	done    chan struct{}
	timeout time.Duration
	logger  *slog.Logger

	stopOnce sync.Once
}

func newWSSink(conn *websocket.Conn, buffer int, timeout time.Duration, logger *slog.Logger) *wsSink {
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sink := &wsSink{
		conn:    conn,
		events:  make(chan protocol.Event, buffer),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
		timeout: timeout,
		logger:  logger,
	}
	go sink.run()
	return sink
}

// Send never blocks. An event that finds the buffer full is dropped.
func (s *wsSink) Send(e protocol.Event) {
	select {
	case <-s.stopped:
		return
	default:
	}
	select {
	case s.events <- e:
	default:
		s.logger.Debug("status event dropped",
			logging.String(logging.FieldEventType, "status_event_dropped"),
			logging.String("status", string(e.Status)),
			logging.String(logging.FieldStage, string(e.Stage)),
		)
	}
}

func (s *wsSink) run() {
	defer close(s.done)
	for {
		select {
		case e := <-s.events:
			if !s.write(e) {
				return
			}
		case <-s.stopped:
			for {
				select {
				case e := <-s.events:
					if !s.write(e) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *wsSink) write(e protocol.Event) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := wsjson.Write(ctx, s.conn, e); err != nil {
		s.logger.Debug("socket write failed", logging.Error(err), logging.String("status", string(e.Status)))
		return false
	}
	return true
}

// Flush stops accepting events and waits until the queued ones are written.
func (s *wsSink) Flush() {
	s.stopOnce.Do(func() { close(s.stopped) })
	<-s.done
}

// Close flushes pending events and closes the socket with code.
func (s *wsSink) Close(code websocket.StatusCode, reason string) {
	s.Flush()
	_ = s.conn.Close(code, reason)
}
