package chat

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "manabot/pkg/logx"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioRun(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := NewStdio(strings.NewReader("first\r\n\nsecond\n"), &out)
	lines := make(chan Line, 4)

	err := s.Run(context.Background(), lines)
	require.ErrorIs(t, err, ErrClosed)
	close(lines)

	var got []string
	for l := range lines {
		got = append(got, l.Text)
	}
	assert.Equal(t, []string{"first", "second"}, got)

	require.NoError(t, s.SendCommand(context.Background(), " /stats "))
	assert.Equal(t, "/stats\n", out.String())
}

func TestWebSocketRoundTrip(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	cmds := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte("Mana: 1,500\nhello"))
		_, data, err := c.ReadMessage()
		if err == nil {
			cmds <- string(data)
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws := NewWebSocket(WebSocketConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	lines := make(chan Line, 4)
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx, lines) }()

	first := <-lines
	assert.Equal(t, "Mana: 1,500", first.Text)
	assert.Equal(t, "hello", (<-lines).Text)

	require.NoError(t, ws.SendCommand(context.Background(), "/mana pay Bob 1500"))
	select {
	case c := <-cmds:
		assert.Equal(t, "/mana pay Bob 1500", c)
	case <-time.After(2 * time.Second):
		t.Fatal("command not received")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.ErrorIs(t, ws.SendCommand(context.Background(), "x"), ErrNotConnected)
}
