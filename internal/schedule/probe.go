package schedule

import (
	"sync"
	"time"
)

type ProbeState int

const (
	Idle ProbeState = iota
	AwaitingReply
)

func (s ProbeState) String() string {
	if s == AwaitingReply {
		return "awaiting_reply"
	}
	return "idle"
}

type ProbeConfig struct {
	Interval time.Duration
	Settle   time.Duration
	Warmup   time.Duration
}

// Probe is the Idle -> AwaitingReply -> Idle cycle of a periodic status
// command. All methods are safe for concurrent use.
type Probe struct {
	mu sync.Mutex

	cfg ProbeConfig

	started     bool
	notBefore   time.Time
	last        time.Time
	state       ProbeState
	settleUntil time.Time
	replied     bool
}

func NewProbe(cfg ProbeConfig) *Probe {
	return &Probe{cfg: normalizeProbe(cfg)}
}

func normalizeProbe(cfg ProbeConfig) ProbeConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.Warmup < 0 {
		cfg.Warmup = 0
	}
	return cfg
}

// Apply swaps timings and keeps the last probe time.
func (p *Probe) Apply(cfg ProbeConfig) {
	p.mu.Lock()
	p.cfg = normalizeProbe(cfg)
	p.mu.Unlock()
}

// Start arms the warm-up gate. Calling it again is a no-op.
func (p *Probe) Start(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.notBefore = now.Add(p.cfg.Warmup)
}

// WarmupDone returns when the first probe may be emitted.
func (p *Probe) WarmupDone() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notBefore
}

// Tick reports whether a probe command should be emitted now. A true result
// moves the probe to AwaitingReply until now+settle.
func (p *Probe) Tick(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || now.Before(p.notBefore) {
		return false
	}
	if p.state == AwaitingReply {
		if now.Before(p.settleUntil) {
			return false
		}
		p.settleLocked()
	}
	if !p.last.IsZero() && now.Sub(p.last) < p.cfg.Interval {
		return false
	}

	p.last = now
	p.state = AwaitingReply
	p.settleUntil = now.Add(p.cfg.Settle)
	p.replied = false
	return true
}

// ObserveReply records that the expected reply arrived. It returns false when
// no probe is outstanding.
func (p *Probe) ObserveReply(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != AwaitingReply || now.Before(p.last) {
		return false
	}
	p.replied = true
	return true
}

// Settle ends the settle window. settled is false when no probe is
// outstanding or the window has not elapsed yet; replied tells whether the
// probe was confirmed.
func (p *Probe) Settle(now time.Time) (replied, settled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != AwaitingReply || now.Before(p.settleUntil) {
		return false, false
	}
	return p.settleLocked(), true
}

func (p *Probe) settleLocked() bool {
	r := p.replied
	p.state = Idle
	p.replied = false
	p.settleUntil = time.Time{}
	return r
}

func (p *Probe) State() ProbeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Probe) Last() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// NextDue returns the earliest time Tick can return true.
func (p *Probe) NextDue() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last.IsZero() {
		return p.notBefore
	}
	next := p.last.Add(p.cfg.Interval)
	if next.Before(p.notBefore) {
		return p.notBefore
	}
	return next
}
