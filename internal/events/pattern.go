package events

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Built-in event kinds.
const (
	KindKilton = "kilton"
	KindMana   = "mana"
)

// Built-in expressions. Player names may carry rank prefixes, so the player
// group is lazy rather than \S+.
const (
	KiltonExpr = `\[KILTON SR\.\] (?P<player>.+?) contributed \$(?P<amount>[0-9][0-9,]*) towards summoning Kilton Sr\. \$(?P<amountLeft>[0-9][0-9,]*) Left`
	ManaExpr   = `Mana:\s*(?P<mana>[0-9][0-9,.]*)`
)

var (
	ErrNoMatch      = errors.New("no match")
	ErrMissingGroup = errors.New("pattern is missing a required capture group")
	ErrDuplicate    = errors.New("duplicate event kind")
)

// DetectedEvent is the result of one successful match.
type DetectedEvent struct {
	Kind   string
	Raw    string
	Fields map[string]string
}

// Field returns the captured value of name, or "".
func (e DetectedEvent) Field(name string) string {
	if e.Fields == nil {
		return ""
	}
	return e.Fields[name]
}

// Amount parses the captured field name with ParseAmount.
func (e DetectedEvent) Amount(name string) (int64, error) {
	v, ok := e.Fields[name]
	if !ok {
		return 0, fmt.Errorf("%s: field %q: %w", e.Kind, name, ErrNoMatch)
	}
	n, err := ParseAmount(v)
	if err != nil {
		return 0, fmt.Errorf("%s: field %q: %w", e.Kind, name, err)
	}
	return n, nil
}

// Pattern is an immutable compiled event pattern.
type Pattern struct {
	kind   string
	re     *regexp.Regexp
	groups []string
}

// Compile builds a Pattern and checks that every name in required is a named
// capture group of expr.
func Compile(kind, expr string, required ...string) (*Pattern, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, errors.New("event kind is empty")
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%s: compile pattern: %w", kind, err)
	}
	p := &Pattern{kind: kind, re: re}
	seen := map[string]bool{}
	for _, n := range re.SubexpNames() {
		if n != "" && !seen[n] {
			seen[n] = true
			p.groups = append(p.groups, n)
		}
	}
	sort.Strings(p.groups)
	for _, r := range required {
		if !seen[r] {
			return nil, fmt.Errorf("%s: group %q: %w", kind, r, ErrMissingGroup)
		}
	}
	return p, nil
}

// MustCompile is like Compile but panics on error. For package-level built-ins only.
func MustCompile(kind, expr string, required ...string) *Pattern {
	p, err := Compile(kind, expr, required...)
	if err != nil {
		panic(err)
	}
	return p
}

// Kilton returns the built-in Kilton contribution pattern.
func Kilton() *Pattern { return MustCompile(KindKilton, KiltonExpr, "player", "amount", "amountLeft") }

// Mana returns the built-in /stats reply pattern.
func Mana() *Pattern { return MustCompile(KindMana, ManaExpr, "mana") }

func (p *Pattern) Kind() string { return p.kind }

func (p *Pattern) String() string { return p.re.String() }

// Groups returns the sorted named capture groups.
func (p *Pattern) Groups() []string { return append([]string(nil), p.groups...) }

// HasGroup reports whether name is a named capture group.
func (p *Pattern) HasGroup(name string) bool {
	i := sort.SearchStrings(p.groups, name)
	return i < len(p.groups) && p.groups[i] == name
}

// Match strips formatting codes from line and runs the pattern against it.
// Unnamed groups are not exported. A nil pattern never matches.
func (p *Pattern) Match(line string) (DetectedEvent, bool) {
	if p == nil || p.re == nil {
		return DetectedEvent{}, false
	}
	clean := StripFormatting(line)
	m := p.re.FindStringSubmatch(clean)
	if m == nil {
		return DetectedEvent{}, false
	}
	fields := make(map[string]string, len(p.groups))
	for i, name := range p.re.SubexpNames() {
		if name == "" || i >= len(m) {
			continue
		}
		// First non-empty capture wins for duplicated names.
		if prev, ok := fields[name]; ok && (prev != "" || m[i] == "") {
			continue
		}
		fields[name] = m[i]
	}
	return DetectedEvent{Kind: p.kind, Raw: clean, Fields: fields}, true
}

// Matcher is a set of patterns keyed by kind. It is immutable once built and
// safe for concurrent use.
type Matcher struct {
	byKind map[string]*Pattern
	order  []string
}

// NewMatcher indexes patterns by kind. Kinds must be unique.
func NewMatcher(patterns ...*Pattern) (*Matcher, error) {
	m := &Matcher{byKind: make(map[string]*Pattern, len(patterns))}
	for _, p := range patterns {
		if p == nil {
			continue
		}
		if _, ok := m.byKind[p.kind]; ok {
			return nil, fmt.Errorf("%s: %w", p.kind, ErrDuplicate)
		}
		m.byKind[p.kind] = p
		m.order = append(m.order, p.kind)
	}
	return m, nil
}

// Match runs the pattern registered for kind. Unknown kinds never match.
func (m *Matcher) Match(kind, line string) (DetectedEvent, bool) {
	if m == nil {
		return DetectedEvent{}, false
	}
	return m.byKind[kind].Match(line)
}

// Kinds returns the registered kinds in registration order.
func (m *Matcher) Kinds() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.order...)
}
