package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"manabot/internal/bot"
	"manabot/internal/eventbus"
	"manabot/internal/notifier"
	"manabot/internal/scheduler"
	logx "manabot/pkg/logx"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, target string, header ...string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestMetricsObserve(t *testing.T) {
	t.Parallel()
	m := NewMetrics(nil)

	m.Observe(eventbus.Event{Type: bot.EventLine})
	m.Observe(eventbus.Event{Type: bot.EventLine})
	m.Observe(eventbus.Event{Type: bot.EventDetected, Data: bot.DetectedEvent{Kind: "kilton", Outcome: bot.OutcomeNotify}})
	m.Observe(eventbus.Event{Type: bot.EventMatchFailed, Data: bot.MatchFailedEvent{Kind: "boss"}})
	m.Observe(eventbus.Event{Type: bot.EventProbe, Data: bot.ProbeEvent{Outcome: bot.ProbeSent}})
	m.Observe(eventbus.Event{Type: bot.EventPrediction})
	m.Observe(eventbus.Event{Type: notifier.EventSent, Data: notifier.NotificationEvent{Kind: "kilton"}})
	m.Observe(eventbus.Event{Type: scheduler.EventRun, Data: scheduler.RunEvent{Name: "bot.tick", Took: time.Millisecond}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lines))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detected.WithLabelValues("kilton", bot.OutcomeNotify)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.matchFailures.WithLabelValues("boss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues(bot.ProbeSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.predictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("kilton", "sent")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runs))
}

func TestMetricsRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	m := NewMetrics(bus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx, bus)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: bot.EventPrediction})
		return testutil.ToFloat64(m.predictions) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	m := NewMetrics(nil)
	m.Observe(eventbus.Event{Type: bot.EventLine})
	s := New(Config{Pprof: true}, m, nil, logx.Nop())
	h := s.Handler(Config{Pprof: true})

	code, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "manabot_lines_total 1")

	code, _ = get(t, h, "/debug/pprof/")
	assert.Equal(t, http.StatusOK, code)
}

func TestHandlerHealthFailure(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, func() error { return errors.New("chat down") }, logx.Nop())
	code, body := get(t, s.Handler(Config{}), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "chat down")

	code, _ = get(t, s.Handler(Config{}), "/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{}, NewMetrics(nil), nil, logx.Nop())
	h := s.Handler(Config{Token: "s3cret"})

	code, _ := get(t, h, "/metrics")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/metrics", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/metrics", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/healthz?token=s3cret")
	assert.Equal(t, http.StatusOK, code)
}

func TestHandlerAuthRejectsNearMisses(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, logx.Nop())
	h := s.Handler(Config{Token: "s3cret"})

	for _, tok := range []string{"s3cre", "s3cret2", "S3CRET", "s3creT"} {
		code, _ := get(t, h, "/healthz?token="+tok)
		assert.Equal(t, http.StatusUnauthorized, code, tok)
	}
}

func TestHandlerStatus(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, logx.Nop())
	s.HandleStatus("schedules", func() any {
		return map[string]any{"timezone": "UTC", "count": 2}
	})
	s.HandleStatus("/notifications/", func() any { return []string{"a", "b"} })
	s.HandleStatus("", func() any { return nil })
	h := s.Handler(Config{Token: "s3cret"})

	code, _ := get(t, h, "/status/schedules")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := get(t, h, "/status/schedules", "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"timezone":"UTC","count":2}`, body)

	code, body = get(t, h, "/status/notifications?token=s3cret")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["a","b"]`, body)

	code, body = get(t, h, "/status/?token=s3cret")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["notifications","schedules"]`, body)

	code, _ = get(t, h, "/status/missing?token=s3cret")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandlerStatusReadsLiveState(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, logx.Nop())
	n := 0
	s.HandleStatus("counter", func() any { n++; return n })
	h := s.Handler(Config{})

	_, body := get(t, h, "/status/counter")
	assert.Equal(t, "1", strings.TrimSpace(body))
	_, body = get(t, h, "/status/counter")
	assert.Equal(t, "2", strings.TrimSpace(body))
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, NewMetrics(nil), nil, logx.Nop())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Equal(t, "", s.Addr())
}

func TestServeRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	err := s.serveOnce(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "insecure"))
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:9310"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":9310"))
	assert.False(t, isLoopbackAddr("10.0.0.1:80"))
}
