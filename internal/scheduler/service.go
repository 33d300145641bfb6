package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"manabot/internal/eventbus"
	logx "manabot/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef
	base   context.Context

	tmu  sync.Mutex
	once map[string]*onceDef
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		parser: specParser,
		once:   map[string]*onceDef{},
		base:   context.Background(),
	}
}

// Apply restarts cron when the time zone changes.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Start begins triggering. ctx is the parent of every job context.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base = ctx
	s.restartLocked()
	s.armOnceTimers(ctx)
}

// Stop halts triggering and waits for running cron jobs until ctx expires.
// One-shot definitions survive and are re-armed by the next Start.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	for _, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// AddSchedule parses schedule (see ParseSchedule) and registers a cron or
// interval trigger.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	if ps.Kind == SpecInterval {
		return s.AddInterval(name, ps.Every, timeout, job)
	}
	return s.AddCron(name, ps.Cron, timeout, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("schedule %s: %w", name, err)
	}
	return s.add(scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.add(scheduleDef{name: name, spec: "@every " + every.String(), every: every, timeout: timeout, job: job})
}

func (s *Service) add(d scheduleDef) (string, error) {
	name := strings.TrimSpace(d.name)
	if name == "" {
		return "", errors.New("name required")
	}
	if d.job == nil {
		return "", errors.New("job required")
	}
	d.name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so reloads never duplicate entries.
	s.removeScheduleLocked(name)
	s.removeOnce(name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		return name, nil
	}
	if err := s.registerLocked(&s.defs[len(s.defs)-1]); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", d.spec), logx.Err(err))
		return name, err
	}
	fields := []logx.Field{logx.String("name", name), logx.String("spec", d.spec)}
	if next := s.previewNextRunsLocked(d, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return name, nil
}

// AddOnce runs job once at `at`. A past time runs immediately. Re-adding the
// same name replaces the pending run.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	s.removeScheduleLocked(name)
	running := s.c != nil
	base := s.base
	s.mu.Unlock()

	s.tmu.Lock()
	prev := s.once[name]
	var ver uint64 = 1
	if prev != nil {
		if prev.timer != nil {
			prev.timer.Stop()
		}
		ver = prev.ver + 1
	}
	d := &onceDef{at: at, timeout: timeout, job: job, ver: ver}
	s.once[name] = d
	if running {
		s.armLocked(base, name, d)
	}
	s.tmu.Unlock()
	return name, nil
}

// Remove unschedules everything registered under name.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if s.removeOnce(name) {
		removed = true
	}
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.c != nil}
	if loc := s.loc; loc != nil {
		snap.Timezone = loc.String()
	} else {
		snap.Timezone = s.loadLocationLocked().String()
	}
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for name, d := range s.once {
		snap.Once = append(snap.Once, ScheduleInfo{Name: name, Spec: "once", Next: d.at, Timeout: d.timeout})
	}
	s.tmu.Unlock()
	sort.Slice(snap.Once, func(i, j int) bool { return snap.Once[i].Next.Before(snap.Once[j].Next) })
	return snap
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for i := range s.defs {
		if err := s.registerLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) registerLocked(d *scheduleDef) error {
	base, name, timeout, fn := s.base, d.name, d.timeout, d.job
	job := cron.FuncJob(func() { s.run(base, name, timeout, fn) })
	if d.every > 0 {
		d.entryID = s.c.Schedule(cron.Every(d.every), job)
		return nil
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

func (s *Service) armOnceTimers(base context.Context) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for name, d := range s.once {
		s.armLocked(base, name, d)
	}
}

// armLocked starts the timer for d. Call with s.tmu held.
func (s *Service) armLocked(base context.Context, name string, d *onceDef) {
	if d.timer != nil {
		d.timer.Stop()
	}
	ver := d.ver
	d.timer = time.AfterFunc(max(0, time.Until(d.at)), func() {
		s.tmu.Lock()
		cur, ok := s.once[name]
		if !ok || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.once, name)
		s.tmu.Unlock()
		s.runRecover(base, name, cur.timeout, cur.job)
	})
}

func (s *Service) runRecover(base context.Context, name string, timeout time.Duration, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	s.run(base, name, timeout, job)
}

// run must not take s.mu: restartLocked waits for running jobs while holding it.
func (s *Service) run(base context.Context, name string, timeout time.Duration, job Job) {
	if base.Err() != nil {
		return
	}
	ctx := base
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(base, timeout)
	}
	defer cancel()

	start := time.Now()
	err := job(ctx)
	took := time.Since(start)

	ev := RunEvent{Name: name, Took: took}
	if err != nil && !errors.Is(err, context.Canceled) {
		ev.Error = err.Error()
		s.log.Warn("scheduled job failed", logx.String("name", name), logx.Duration("took", took), logx.Err(err))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventRun, Data: ev})
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked is only computed when debug logging is on.
func (s *Service) previewNextRunsLocked(d scheduleDef, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	var sched cron.Schedule
	if d.every > 0 {
		sched = cron.Every(d.every)
	} else {
		var err error
		if sched, err = s.parser.Parse(d.spec); err != nil {
			return ""
		}
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

// cronLogger adapts logx to cron.Logger. cron's Info chatter goes to debug.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
