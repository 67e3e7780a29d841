package catalog

import (
	"sort"
	"sync"
)

// Catalog is the unified channel catalog across all playlist sources.
//
// Readers never block on an in-flight refresh: ReplaceSource swaps a
// source's committed channel slice under the write lock, and snapshot
// methods copy out under the read lock. A failed refresh never calls
// ReplaceSource, so the previous snapshot for that source stays visible.
type Catalog struct {
	mu       sync.RWMutex
	bySource map[string][]Channel
	order    []string // source ids in first-commit order, for stable listing
}

func New() *Catalog {
	return &Catalog{bySource: make(map[string][]Channel)}
}

// ReplaceSource atomically replaces all channels owned by sourceID.
// Replace-on-refresh semantics: prior channels for the source are
// discarded, not merged.
func (c *Catalog) ReplaceSource(sourceID string, channels []Channel) {
	cp := make([]Channel, len(channels))
	copy(cp, channels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bySource[sourceID]; !ok {
		c.order = append(c.order, sourceID)
	}
	c.bySource[sourceID] = cp
}

// RemoveSource drops sourceID and all channels it owns.
func (c *Catalog) RemoveSource(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bySource, sourceID)
	for i, id := range c.order {
		if id == sourceID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns a copy of all channels, concatenated in source commit
// order, for read-only use.
func (c *Catalog) Snapshot() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Channel
	for _, id := range c.order {
		out = append(out, c.bySource[id]...)
	}
	return out
}

// SourceChannels returns a copy of the channels owned by sourceID.
func (c *Catalog) SourceChannels(sourceID string) []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.bySource[sourceID]
	out := make([]Channel, len(src))
	copy(out, src)
	return out
}

// SourceCount returns the number of channels committed for sourceID.
func (c *Catalog) SourceCount(sourceID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bySource[sourceID])
}

// Groups recomputes the derived group list: deduplicated by
// (sourceID, name) with fresh channel counts. Channels with no group
// are not grouped.
func (c *Catalog) Groups() []ChannelGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[string]*ChannelGroup)
	var ids []string
	for _, sourceID := range c.order {
		for _, ch := range c.bySource[sourceID] {
			if ch.Group == "" {
				continue
			}
			id := GroupID(ch.SourceID, ch.Group)
			g, ok := counts[id]
			if !ok {
				g = &ChannelGroup{ID: id, Name: ch.Group, SourceID: ch.SourceID}
				counts[id] = g
				ids = append(ids, id)
			}
			g.ChannelCount++
		}
	}
	out := make([]ChannelGroup, 0, len(ids))
	for _, id := range ids {
		out = append(out, *counts[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SourceID == out[j].SourceID {
			return out[i].Name < out[j].Name
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

// Lookup returns the channel with the given id, if present.
func (c *Catalog) Lookup(channelID string) (Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		for _, ch := range c.bySource[id] {
			if ch.ID == channelID {
				return ch, true
			}
		}
	}
	return Channel{}, false
}

// SetFavorite flags the channel with channelID. Returns false if no such
// channel is committed.
func (c *Catalog) SetFavorite(channelID string, fav bool) bool {
	return c.mutate(channelID, func(ch *Channel) { ch.IsFavorite = fav })
}

// SetHidden flags the channel with channelID as hidden from default lists.
func (c *Catalog) SetHidden(channelID string, hidden bool) bool {
	return c.mutate(channelID, func(ch *Channel) { ch.IsHidden = hidden })
}

// MarkWatched records a watch timestamp (unix seconds) on the channel.
func (c *Catalog) MarkWatched(channelID string, ts int64) bool {
	return c.mutate(channelID, func(ch *Channel) { ch.LastWatched = ts })
}

func (c *Catalog) mutate(channelID string, fn func(*Channel)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		chans := c.bySource[id]
		for i := range chans {
			if chans[i].ID == channelID {
				fn(&chans[i])
				return true
			}
		}
	}
	return false
}
