package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/ouiprox/internal/metrics"
	"github.com/user/ouiprox/internal/util"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin only, plus localhost for a local dashboard or proxy.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		if rest, ok := strings.CutPrefix(origin, "http://"); ok {
			return rest == r.Host
		}
		if rest, ok := strings.CutPrefix(origin, "https://"); ok {
			return rest == r.Host
		}
		return false
	},
}

// StreamMessage is a topic-tagged frame sent to stream clients.
type StreamMessage struct {
	Topic string      `json:"topic"`
	Data  interface{} `json:"data"`
}

// stream pushes detection events to websocket clients as they happen.
type stream struct {
	engine  Engine
	bufSize int
	metrics *metrics.Registry
	done    <-chan struct{}
}

func newStream(eng Engine, bufSize int, m *metrics.Registry, done <-chan struct{}) *stream {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &stream{engine: eng, bufSize: bufSize, metrics: m, done: done}
}

func (s *stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Warn("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.engine.Subscribe(s.bufSize)
	defer cancel()

	s.metrics.StreamClients.Inc()
	defer s.metrics.StreamClients.Dec()
	util.Debug("Stream client connected from %s", r.RemoteAddr)

	// The read side only exists to process control frames and notice the
	// client going away.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.write(conn, StreamMessage{Topic: "status", Data: s.engine.Status()}); err != nil {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.write(conn, StreamMessage{Topic: "detection", Data: ev}); err != nil {
				util.Debug("Stream write failed: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.done:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (s *stream) write(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}
