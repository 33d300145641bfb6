package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Slot is a daily time of day in the predictor's zone.
type Slot struct {
	Hour   int
	Minute int
}

// ParseSlot accepts "H:MM" or "HH:MM" (24h).
func ParseSlot(s string) (Slot, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Slot{}, fmt.Errorf("slot %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Slot{}, fmt.Errorf("slot %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return Slot{}, fmt.Errorf("slot %q: bad minute", s)
	}
	return Slot{Hour: h, Minute: m}, nil
}

// ParseSlots parses, sorts and de-duplicates slots.
func ParseSlots(raw []string) ([]Slot, error) {
	out := make([]Slot, 0, len(raw))
	seen := map[Slot]bool{}
	for _, r := range raw {
		s, err := ParseSlot(r)
		if err != nil {
			return nil, err
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out, nil
}

func (s Slot) before(o Slot) bool {
	if s.Hour != o.Hour {
		return s.Hour < o.Hour
	}
	return s.Minute < o.Minute
}

func (s Slot) String() string { return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute) }

// On returns the slot's instant on the calendar day of day (in loc).
func (s Slot) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), s.Hour, s.Minute, 0, 0, loc)
}

type PredictorConfig struct {
	Slots []Slot
	Lead  time.Duration
	// Window is the tick cadence. Each occurrence is only eligible during
	// [At-Lead, At-Lead+Window).
	Window   time.Duration
	Location *time.Location
}

// Occurrence is one concrete slot instant.
type Occurrence struct {
	Slot     Slot
	At       time.Time
	NotifyAt time.Time
	Lead     time.Duration
}

// Predictor reports each slot occurrence at most once, never retroactively.
// All methods are safe for concurrent use.
type Predictor struct {
	mu           sync.Mutex
	cfg          PredictorConfig
	lastNotified time.Time
}

func NewPredictor(cfg PredictorConfig) *Predictor {
	return &Predictor{cfg: normalizePredictor(cfg)}
}

func normalizePredictor(cfg PredictorConfig) PredictorConfig {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Lead < 0 {
		cfg.Lead = 0
	}
	cfg.Slots = append([]Slot(nil), cfg.Slots...)
	sort.Slice(cfg.Slots, func(i, j int) bool { return cfg.Slots[i].before(cfg.Slots[j]) })
	return cfg
}

// Apply swaps slots, lead and zone. LastNotified is kept so a reload never
// re-announces an occurrence.
func (p *Predictor) Apply(cfg PredictorConfig) {
	p.mu.Lock()
	p.cfg = normalizePredictor(cfg)
	p.mu.Unlock()
}

func (p *Predictor) LastNotified() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastNotified
}

func (p *Predictor) Location() *time.Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Location
}

// Next returns the next occurrence of every slot (today's if it has not
// passed yet, else tomorrow's), ordered by time.
func (p *Predictor) Next(now time.Time) []Occurrence {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()
	return nextOccurrences(cfg, now)
}

func nextOccurrences(cfg PredictorConfig, now time.Time) []Occurrence {
	local := now.In(cfg.Location)
	out := make([]Occurrence, 0, len(cfg.Slots))
	for _, s := range cfg.Slots {
		at := s.On(local, cfg.Location)
		if at.Before(local) {
			at = s.On(local.AddDate(0, 0, 1), cfg.Location)
		}
		out = append(out, Occurrence{Slot: s, At: at, NotifyAt: at.Add(-cfg.Lead), Lead: cfg.Lead})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Tick returns the occurrences due for notification at now and marks them
// notified. Calling it again inside the same window returns nothing.
func (p *Predictor) Tick(now time.Time) []Occurrence {
	p.mu.Lock()
	defer p.mu.Unlock()

	var due []Occurrence
	for _, occ := range nextOccurrences(p.cfg, now) {
		if now.Before(occ.NotifyAt) || !now.Before(occ.NotifyAt.Add(p.cfg.Window)) {
			continue
		}
		if !occ.At.After(p.lastNotified) {
			continue
		}
		p.lastNotified = occ.At
		due = append(due, occ)
	}
	return due
}

// Upcoming lists the next n occurrences after now across days.
func (p *Predictor) Upcoming(now time.Time, n int) []Occurrence {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	if n <= 0 || len(cfg.Slots) == 0 {
		return nil
	}
	out := make([]Occurrence, 0, n)
	day := now.In(cfg.Location)
	for len(out) < n {
		for _, s := range cfg.Slots {
			at := s.On(day, cfg.Location)
			if at.Before(now) {
				continue
			}
			out = append(out, Occurrence{Slot: s, At: at, NotifyAt: at.Add(-cfg.Lead), Lead: cfg.Lead})
			if len(out) == n {
				break
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}
