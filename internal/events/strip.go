package events

import "strings"

const sectionSign = '§'

// StripFormatting removes Minecraft formatting codes ("§" followed by one
// rune). A trailing lone "§" is dropped as well.
func StripFormatting(s string) string {
	if !strings.ContainsRune(s, sectionSign) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	skip := false
	for _, r := range s {
		if skip {
			skip = false
			continue
		}
		if r == sectionSign {
			skip = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
