package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "manabot/pkg/logx"

	"github.com/gorilla/websocket"
)

type WebSocketConfig struct {
	URL          string
	Header       http.Header
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// WebSocket relays chat over a websocket. Each text frame carries one or more
// newline-separated chat lines; commands are sent as single text frames.
//
// Run dials, reads until the connection drops, and returns the error. The
// caller restarts it (the app runs it under supervisor.GoRestart).
type WebSocket struct {
	cfg WebSocketConfig
	log logx.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	// wmu serializes writes (gorilla allows one concurrent writer).
	wmu sync.Mutex
}

func NewWebSocket(cfg WebSocketConfig, log logx.Logger) *WebSocket {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 3 * cfg.PingInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WebSocket{cfg: cfg, log: log}
}

func (w *WebSocket) Name() string { return "websocket" }

func (w *WebSocket) Run(ctx context.Context, out chan<- Line) error {
	if strings.TrimSpace(w.cfg.URL) == "" {
		return errors.New("chat websocket: url required")
	}
	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dctx, w.cfg.URL, w.cfg.Header)
	cancel()
	if err != nil {
		return fmt.Errorf("chat websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.log.Info("chat relay connected", logx.String("url", w.cfg.URL))

	stop := make(chan struct{})
	defer func() {
		close(stop)
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		w.wmu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(500*time.Millisecond))
		w.wmu.Unlock()
		_ = conn.Close()
	}()

	go func() {
		t := time.NewTicker(w.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				// Unblock ReadMessage.
				_ = conn.SetReadDeadline(time.Now())
				return
			case <-t.C:
				w.wmu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
				w.wmu.Unlock()
			}
		}
	}()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("chat websocket read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
		if typ != websocket.TextMessage {
			continue
		}
		now := time.Now()
		for _, l := range strings.Split(string(data), "\n") {
			l = strings.TrimRight(l, "\r")
			if l == "" {
				continue
			}
			select {
			case out <- Line{Text: l, At: now}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *WebSocket) SendCommand(_ context.Context, cmd string) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, []byte(strings.TrimSpace(cmd)))
}
