package epg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prog(ch string, start, end int64, title string) Program {
	return Program{ID: title, ChannelID: ch, Title: title, Start: start, End: end}
}

func TestMatch_priority(t *testing.T) {
	c := NewCorrelator(&FetchResult{
		Channels: []GuideChannel{
			{ID: "news.uk", DisplayName: "News 24"},
			{ID: "sports.uk", DisplayName: "Sports One"},
		},
	})

	// tvg-id wins over tvg-name.
	id, ok := c.Match("sports.uk", "News 24")
	require.True(t, ok)
	assert.Equal(t, "sports.uk", id)

	// No tvg-id: case-insensitive display name fallback.
	id, ok = c.Match("", "news 24")
	require.True(t, ok)
	assert.Equal(t, "news.uk", id)

	id, ok = c.Match("", "NEWS 24")
	require.True(t, ok)
	assert.Equal(t, "news.uk", id)

	// Unknown tvg-id still falls through to the name.
	id, ok = c.Match("nosuch.id", "Sports One")
	require.True(t, ok)
	assert.Equal(t, "sports.uk", id)

	_, ok = c.Match("", "Unknown Channel")
	assert.False(t, ok)

	_, ok = c.Match("", "")
	assert.False(t, ok)
}

func TestNowNextAt(t *testing.T) {
	programs := []Program{
		prog("c", 100, 200, "A"),
		prog("c", 200, 300, "B"),
		prog("c", 400, 500, "C"),
	}

	nn := NowNextAt(programs, 150)
	require.NotNil(t, nn.Current)
	assert.Equal(t, "A", nn.Current.Title)
	require.NotNil(t, nn.Next)
	assert.Equal(t, "B", nn.Next.Title)
	assert.InDelta(t, 0.5, nn.Progress, 1e-9)

	// Boundary: a program ends exactly when the next starts.
	nn = NowNextAt(programs, 200)
	require.NotNil(t, nn.Current)
	assert.Equal(t, "B", nn.Current.Title)
	assert.InDelta(t, 0.0, nn.Progress, 1e-9)

	// Gap between B and C: no current, next is C.
	nn = NowNextAt(programs, 350)
	assert.Nil(t, nn.Current)
	require.NotNil(t, nn.Next)
	assert.Equal(t, "C", nn.Next.Title)

	// After the last program.
	nn = NowNextAt(programs, 600)
	assert.Nil(t, nn.Current)
	assert.Nil(t, nn.Next)

	// Before the first program.
	nn = NowNextAt(programs, 50)
	assert.Nil(t, nn.Current)
	require.NotNil(t, nn.Next)
	assert.Equal(t, "A", nn.Next.Title)

	nn = NowNextAt(nil, 100)
	assert.Nil(t, nn.Current)
	assert.Nil(t, nn.Next)
}

func TestNormalize_overlapLaterStartWins(t *testing.T) {
	in := []Program{
		prog("c", 100, 250, "A"), // overlaps B
		prog("c", 200, 300, "B"),
	}
	out := Normalize(in)
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].Title)
	assert.Equal(t, int64(200), out[0].End) // truncated to B's start
	assert.Equal(t, "B", out[1].Title)
	assert.Equal(t, int64(300), out[1].End)
}

func TestNormalize_fullyShadowed(t *testing.T) {
	in := []Program{
		prog("c", 100, 500, "Marathon"),
		prog("c", 100, 200, "Short"), // same start, later in input order
	}
	out := Normalize(in)
	// Stable sort keeps Marathon first; Short starts at Marathon's start, so
	// Marathon is emptied by truncation and dropped.
	require.Len(t, out, 1)
	assert.Equal(t, "Short", out[0].Title)
}

func TestNormalize_dropsInvalidAndSorts(t *testing.T) {
	in := []Program{
		prog("c", 300, 400, "Late"),
		prog("c", 500, 500, "Empty"),
		prog("c", 700, 600, "Backwards"),
		prog("c", 100, 200, "Early"),
	}
	out := Normalize(in)
	require.Len(t, out, 2)
	assert.Equal(t, "Early", out[0].Title)
	assert.Equal(t, "Late", out[1].Title)
}

func TestNormalize_coverageNeverShrinks(t *testing.T) {
	in := []Program{
		prog("c", 100, 400, "A"),
		prog("c", 150, 250, "B"),
		prog("c", 220, 500, "C"),
	}
	out := Normalize(in)
	require.NotEmpty(t, out)
	assert.Equal(t, int64(100), out[0].Start)
	assert.Equal(t, int64(500), out[len(out)-1].End)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].End, out[i].Start)
		assert.Less(t, out[i].Start, out[i].End)
	}
}

func TestCorrelator_endToEnd(t *testing.T) {
	c := NewCorrelator(&FetchResult{
		Channels: []GuideChannel{{ID: "news.uk", DisplayName: "News 24"}},
		Programs: []Program{
			prog("news.uk", 200, 300, "Late Report"),
			prog("news.uk", 100, 250, "Early Report"), // out of order and overlapping
		},
	})

	sched, ok := c.Schedule("", "news 24")
	require.True(t, ok)
	require.Len(t, sched.Programs, 2)
	assert.Equal(t, int64(200), sched.Programs[0].End)

	nn := c.NowNextFor("news.uk", "", 210)
	require.NotNil(t, nn.Current)
	assert.Equal(t, "Late Report", nn.Current.Title)

	// Unmatched channel: zero projection.
	nn = c.NowNextFor("", "nope", 210)
	assert.Nil(t, nn.Current)
	assert.Nil(t, nn.Next)
}
