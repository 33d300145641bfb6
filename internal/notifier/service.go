package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"manabot/internal/discord"
	"manabot/internal/eventbus"
	rtsup "manabot/internal/runtime/supervisor"
	logx "manabot/pkg/logx"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	n        Notification
	dedupKey string
	queuedAt time.Time
}

// Service implements queue + worker pool + rate limit + cooldown.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	now func() time.Time
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log,
		bus:    bus,
		dedup:  map[string]time.Time{},
		now:    time.Now,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// SetSender replaces the delivery client (e.g. after discord options change).
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Apply swaps limits in place. Worker count and queue size take effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}

	s.cfg = cfg
	// Burst = rate per sec so short spikes still go out immediately.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Delivery is best-effort; a dead worker must not take the app down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping || c.Err() != nil {
				return nil
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop blocks new notifications and drains the queue until ctx expires.
// Deliveries still in flight after that are abandoned.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Notify enqueues n for delivery. It returns nil when n was queued or
// suppressed by cooldown, discord.ErrConfigMissing when the destination is
// incomplete, and ErrDisabled, ErrStopped or ErrQueueFull otherwise.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	if err := n.Target.Validate(); err != nil {
		s.publish(EventInvalid, n, "", 0, err)
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if n.Cooldown > 0 {
		window = n.Cooldown
	}
	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(key, window, dedupMax) {
		s.publish(EventDeduped, n, key, 0, nil)
		s.log.Debug("notification suppressed by cooldown", logx.String("id", n.ID), logx.String("kind", n.Kind), logx.Duration("window", window))
		return nil
	}

	select {
	case q <- job{n: n, dedupKey: key, queuedAt: s.now()}:
		s.publish(EventQueued, n, key, 0, nil)
		return nil
	default:
		s.publish(EventDropped, n, key, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

// Snapshot returns the recent delivery history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

// deliver makes exactly one attempt. Failures are logged and published, never
// retried.
func (s *Service) deliver(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	log := s.log.With(logx.String("id", j.n.ID), logx.String("kind", j.n.Kind), logx.String("target", j.n.Target.String()))
	if sender == nil {
		log.Warn("notification dropped: no sender")
		return
	}
	if lim != nil {
		if err := lim.Wait(runCtx); err != nil {
			return
		}
	}

	callCtx, cancel := context.WithTimeout(runCtx, cfg.SendTimeout)
	ack, err := sender.Send(callCtx, j.n.Target, j.n.Body, j.n.Mention)
	cancel()

	it := HistoryItem{At: s.now(), ID: j.n.ID, Kind: j.n.Kind, Target: j.n.Target.String(), Text: j.n.Body, Status: ack.StatusCode}
	if err != nil {
		status := discord.StatusOf(err)
		it.Status = status
		it.Error = err.Error()
		s.appendHistory(it, cfg.HistorySize)
		s.publish(EventFailed, j.n, j.dedupKey, status, err)

		var de *discord.DeliveryError
		if errors.As(err, &de) {
			log.Warn("notification delivery failed", logx.Int("status", de.StatusCode), logx.String("body", de.Body))
		} else {
			log.Warn("notification delivery failed", logx.Err(err))
		}
		return
	}

	s.appendHistory(it, cfg.HistorySize)
	s.publish(EventSent, j.n, j.dedupKey, ack.StatusCode, nil)
	log.Info("notification sent", logx.Int("status", ack.StatusCode), logx.Duration("latency", s.now().Sub(j.queuedAt)))
}

func (s *Service) publish(typ string, n Notification, key string, status int, err error) {
	if s.bus == nil {
		return
	}
	now := s.now()
	ev := NotificationEvent{ID: n.ID, Kind: n.Kind, Target: n.Target.String(), Key: key, At: now, Status: status}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func dedupKey(n Notification) string {
	if n.Key != "" {
		return n.Kind + "|" + n.Key
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.Kind))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(n.Target.String()))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(n.Body))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := s.now()

	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Evict earliest expiry until within cap.
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}
