// Package catalog holds the unified channel catalog built from all playlist
// sources. Channels are exclusively owned by their source: a source refresh
// replaces that source's channels wholesale in a single commit, and removing
// a source cascades to its channels and groups. Groups are derived on read,
// never stored.
package catalog

import "strings"

// Channel is a single live channel from an M3U playlist or Xtream source.
type Channel struct {
	ID            string            `json:"id"`   // unique within its source
	Name          string            `json:"name"` // display name
	URL           string            `json:"url"`  // stream URL
	LogoURL       string            `json:"logo_url,omitempty"`
	Group         string            `json:"group,omitempty"` // group-title / category name
	TVGID         string            `json:"tvg_id,omitempty"`
	TVGName       string            `json:"tvg_name,omitempty"` // EPG match fallback
	SourceID      string            `json:"source_id"`
	IsFavorite    bool              `json:"is_favorite,omitempty"`
	IsLocked      bool              `json:"is_locked,omitempty"`
	IsHidden      bool              `json:"is_hidden,omitempty"`
	LastWatched   int64             `json:"last_watched,omitempty"` // unix seconds
	ChannelNumber int               `json:"channel_number,omitempty"`
	Attrs         map[string]string `json:"attrs,omitempty"` // unrecognized EXTINF attributes, preserved verbatim
}

// ChannelGroup is a derived group/category of channels. Recomputed on every
// catalog rebuild; never mutated directly.
type ChannelGroup struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ChannelCount int    `json:"channel_count"`
	SourceID     string `json:"source_id"`
}

// GroupID returns the stable derived id for a group: groups are
// deduplicated by (sourceID, name), case-preserving.
func GroupID(sourceID, name string) string {
	return sourceID + ":" + name
}

// Filters narrows a channel list projection.
type Filters struct {
	Search        string
	GroupID       string
	FavoritesOnly bool
	ShowHidden    bool
}

// Match reports whether ch passes the filters. Hidden channels are excluded
// unless ShowHidden is set; the parental gate applies its own hiding on top.
func (f Filters) Match(ch Channel) bool {
	if ch.IsHidden && !f.ShowHidden {
		return false
	}
	if f.FavoritesOnly && !ch.IsFavorite {
		return false
	}
	if f.GroupID != "" && GroupID(ch.SourceID, ch.Group) != f.GroupID {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(ch.Name), strings.ToLower(f.Search)) {
		return false
	}
	return true
}
