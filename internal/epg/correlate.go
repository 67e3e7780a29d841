package epg

import (
	"sort"
	"strings"
)

// Correlator indexes one EPG fetch for channel matching and now/next
// lookups. Matching priority: exact tvg-id against the guide channel id,
// then case-insensitive tvg-name against the display name, then no match.
// A playlist channel matches at most one guide channel; one guide channel
// may back any number of playlist channels (duplicate channel entries
// sharing a guide are expected).
type Correlator struct {
	byID      map[string]GuideChannel
	byName    map[string]string // lowercased display name -> guide channel id
	schedules map[string][]Program
}

// NewCorrelator builds the index from a fetch result. Programs are grouped
// per guide channel, ordered by start, and overlap-normalized: for any
// instant covered by two programs, the one with the later start wins and
// the earlier one is truncated to end where the later starts.
func NewCorrelator(result *FetchResult) *Correlator {
	c := &Correlator{
		byID:      make(map[string]GuideChannel, len(result.Channels)),
		byName:    make(map[string]string, len(result.Channels)),
		schedules: make(map[string][]Program),
	}
	for _, gc := range result.Channels {
		if gc.ID == "" {
			continue
		}
		if _, dup := c.byID[gc.ID]; !dup {
			c.byID[gc.ID] = gc
		}
		name := strings.ToLower(strings.TrimSpace(gc.DisplayName))
		if name != "" {
			if _, dup := c.byName[name]; !dup {
				c.byName[name] = gc.ID
			}
		}
	}
	for _, p := range result.Programs {
		if p.ChannelID == "" {
			continue
		}
		c.schedules[p.ChannelID] = append(c.schedules[p.ChannelID], p)
	}
	for id, programs := range c.schedules {
		c.schedules[id] = Normalize(programs)
	}
	return c
}

// Match resolves a playlist channel's correlation keys to a guide channel
// id. Returns false when neither key matches.
func (c *Correlator) Match(tvgID, tvgName string) (string, bool) {
	if tvgID != "" {
		if _, ok := c.byID[tvgID]; ok {
			return tvgID, true
		}
	}
	if name := strings.ToLower(strings.TrimSpace(tvgName)); name != "" {
		if id, ok := c.byName[name]; ok {
			return id, true
		}
	}
	return "", false
}

// Schedule returns the normalized schedule for a playlist channel, or
// false when the channel has no guide.
func (c *Correlator) Schedule(tvgID, tvgName string) (ChannelSchedule, bool) {
	id, ok := c.Match(tvgID, tvgName)
	if !ok {
		return ChannelSchedule{}, false
	}
	return ChannelSchedule{ChannelID: id, Programs: c.schedules[id]}, true
}

// NowNextFor computes the now/next projection for a playlist channel at
// instant t. A channel with no guide yields the zero NowNext.
func (c *Correlator) NowNextFor(tvgID, tvgName string, t int64) NowNext {
	id, ok := c.Match(tvgID, tvgName)
	if !ok {
		return NowNext{}
	}
	return NowNextAt(c.schedules[id], t)
}

// NowNextAt finds the program covering t (start <= t < end) and the first
// program starting after t in a start-ordered, non-overlapping list.
// Gaps yield no current program; next is still reported when one exists.
func NowNextAt(programs []Program, t int64) NowNext {
	idx := sort.Search(len(programs), func(i int) bool { return programs[i].Start > t })
	var nn NowNext
	if idx > 0 {
		p := programs[idx-1]
		if t < p.End {
			cur := p
			nn.Current = &cur
			span := cur.End - cur.Start
			if span > 0 {
				nn.Progress = float64(t-cur.Start) / float64(span)
				if nn.Progress < 0 {
					nn.Progress = 0
				} else if nn.Progress > 1 {
					nn.Progress = 1
				}
			}
		}
	}
	if idx < len(programs) {
		next := programs[idx]
		nn.Next = &next
	}
	return nn
}

// Normalize sorts programs by start and resolves overlaps: the program
// with the later start wins the overlapping span, the earlier one is
// truncated to end at the later one's start. Programs emptied by
// truncation and programs violating start < end are dropped. The union of
// covered time never shrinks.
func Normalize(programs []Program) []Program {
	in := make([]Program, 0, len(programs))
	for _, p := range programs {
		if p.Start < p.End {
			in = append(in, p)
		}
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].Start < in[j].Start })
	out := in[:0]
	for _, p := range in {
		for len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.End <= p.Start {
				break
			}
			prev.End = p.Start
			if prev.Start < prev.End {
				break
			}
			out = out[:len(out)-1] // fully shadowed by the later start
		}
		out = append(out, p)
	}
	return out
}
