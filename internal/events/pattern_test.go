package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKiltonMatch(t *testing.T) {
	t.Parallel()

	line := "[KILTON SR.] Alice contributed $500 towards summoning Kilton Sr. $19,500,000 Left (/warp kiltonsr)"
	ev, ok := Kilton().Match(line)
	require.True(t, ok)
	assert.Equal(t, KindKilton, ev.Kind)
	assert.Equal(t, "Alice", ev.Field("player"))
	assert.Equal(t, "500", ev.Field("amount"))
	assert.Equal(t, "19,500,000", ev.Field("amountLeft"))

	left, err := ev.Amount("amountLeft")
	require.NoError(t, err)
	assert.Equal(t, int64(19500000), left)
}

func TestKiltonMatchWithFormattingCodes(t *testing.T) {
	t.Parallel()

	line := "§6[KILTON SR.] §a[VIP] Bob§r contributed $1,000 towards summoning Kilton Sr. $2,000 Left"
	ev, ok := Kilton().Match(line)
	require.True(t, ok)
	assert.Equal(t, "[VIP] Bob", ev.Field("player"))
	assert.Equal(t, "2,000", ev.Field("amountLeft"))
}

func TestNonMatchingLines(t *testing.T) {
	t.Parallel()

	lines := []string{
		"",
		"hello world",
		"[KILTON SR.] Alice contributed $500 towards summoning Kilton Sr.",
		"Mana: none",
		"§§§",
	}
	for _, p := range []*Pattern{Kilton(), Mana()} {
		for _, l := range lines {
			_, ok := p.Match(l)
			assert.False(t, ok, "kind=%s line=%q", p.Kind(), l)
		}
	}
}

func TestManaMatchDotGrouping(t *testing.T) {
	t.Parallel()

	ev, ok := Mana().Match("Mana: 12.345")
	require.True(t, ok)
	n, err := ev.Amount("mana")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), n)
}

func TestCompileRequiresGroups(t *testing.T) {
	t.Parallel()

	_, err := Compile("boss", `Boss (?P<name>\w+) spawned`, "name", "hp")
	require.ErrorIs(t, err, ErrMissingGroup)

	_, err = Compile("boss", `Boss (`, "name")
	require.Error(t, err)

	p, err := Compile("boss", `Boss (?P<name>\w+) has (?P<hp>[0-9,]+) hp`, "name", "hp")
	require.NoError(t, err)
	assert.Equal(t, []string{"hp", "name"}, p.Groups())
	assert.True(t, p.HasGroup("hp"))
	assert.False(t, p.HasGroup("zone"))
}

func TestDuplicateGroupFirstNonEmptyWins(t *testing.T) {
	t.Parallel()

	p, err := Compile("dup", `^(?P<v>a+)?-(?P<v>b+)?$`, "v")
	require.NoError(t, err)

	ev, ok := p.Match("aa-bb")
	require.True(t, ok)
	assert.Equal(t, "aa", ev.Field("v"))

	ev, ok = p.Match("-bb")
	require.True(t, ok)
	assert.Equal(t, "bb", ev.Field("v"))

	ev, ok = p.Match("aa-")
	require.True(t, ok)
	assert.Equal(t, "aa", ev.Field("v"))

	ev, ok = p.Match("-")
	require.True(t, ok)
	assert.Equal(t, "", ev.Field("v"))
}

func TestMatcher(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher(Kilton(), Mana())
	require.NoError(t, err)
	assert.Equal(t, []string{KindKilton, KindMana}, m.Kinds())

	_, ok := m.Match("unknown", "Mana: 5")
	assert.False(t, ok)

	ev, ok := m.Match(KindMana, "Your Mana: 1,500")
	require.True(t, ok)
	assert.Equal(t, "1,500", ev.Field("mana"))

	_, err = NewMatcher(Mana(), Mana())
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestStripFormatting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"§aGreen§r text", "Green text"},
		{"end§", "end"},
		{"§§x", "x"},
		{"ünï§lcode", "ünïcode"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, StripFormatting(tc.in), tc.in)
	}
}
