// Package ping turns a configured mention descriptor into a message prefix
// and the allowed_mentions clause that restricts who actually gets pinged.
package ping

import (
	"regexp"
	"strings"
)

type Kind int

const (
	None Kind = iota
	Everyone
	Role
	User
	Literal
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Everyone:
		return "everyone"
	case Role:
		return "role"
	case User:
		return "user"
	case Literal:
		return "literal"
	default:
		return "unknown"
	}
}

// Target is an immutable parsed ping descriptor.
// ID is set for Role and User, Text for Literal.
type Target struct {
	Kind Kind
	ID   string
	Text string
}

// AllowedMentions mirrors the Discord allowed_mentions object.
// Parse is always encoded (an empty list blocks every implicit mention).
type AllowedMentions struct {
	Parse []string `json:"parse"`
	Roles []string `json:"roles,omitempty"`
	Users []string `json:"users,omitempty"`
}

var snowflakeRe = regexp.MustCompile(`^[0-9]{17,20}$`)

// Parse never fails. Keywords and prefixes are case-insensitive; ids keep
// their case and are trimmed. A bare 17-20 digit snowflake is a role. Any
// other non-empty string is a Literal.
func Parse(raw string) Target {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	switch {
	case s == "" || lower == "none":
		return Target{Kind: None}
	case lower == "everyone" || lower == "@everyone":
		return Target{Kind: Everyone}
	case strings.HasPrefix(lower, "role:"):
		if id := strings.TrimSpace(s[len("role:"):]); id != "" {
			return Target{Kind: Role, ID: id}
		}
	case strings.HasPrefix(lower, "user:"):
		if id := strings.TrimSpace(s[len("user:"):]); id != "" {
			return Target{Kind: User, ID: id}
		}
	case snowflakeRe.MatchString(s):
		return Target{Kind: Role, ID: s}
	}
	return Target{Kind: Literal, Text: s}
}

// Resolve returns the content prefix (with trailing space, or "") and the
// mention clause. Literal targets carry no clause.
func Resolve(t Target) (string, *AllowedMentions) {
	switch t.Kind {
	case Everyone:
		return "@everyone ", &AllowedMentions{Parse: []string{"everyone"}}
	case Role:
		return "<@&" + t.ID + "> ", &AllowedMentions{Parse: []string{}, Roles: []string{t.ID}}
	case User:
		return "<@" + t.ID + "> ", &AllowedMentions{Parse: []string{}, Users: []string{t.ID}}
	case Literal:
		if t.Text == "" {
			return "", nil
		}
		return t.Text + " ", nil
	default:
		return "", &AllowedMentions{Parse: []string{}}
	}
}

func (t Target) String() string {
	switch t.Kind {
	case Role, User:
		return t.Kind.String() + ":" + t.ID
	case Literal:
		return "literal:" + t.Text
	default:
		return t.Kind.String()
	}
}
