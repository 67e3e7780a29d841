// Package epg holds guide data and the correlation between playlist
// channels and guide channels.
package epg

// Program is one scheduled programme. Start/End are unix seconds with
// Start < End.
type Program struct {
	ID            string `json:"id"`
	ChannelID     string `json:"channel_id"` // guide channel id (matches Channel.TVGID)
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Start         int64  `json:"start"`
	End           int64  `json:"end"`
	Category      string `json:"category,omitempty"`
	IconURL       string `json:"icon_url,omitempty"`
	Episode       string `json:"episode,omitempty"`
	Season        int    `json:"season,omitempty"`
	EpisodeNumber int    `json:"episode_number,omitempty"`
	Rating        string `json:"rating,omitempty"`
}

// GuideChannel is a channel definition from an XMLTV feed.
type GuideChannel struct {
	ID          string `json:"id"` // matches tvg-id in M3U
	DisplayName string `json:"display_name"`
	IconURL     string `json:"icon_url,omitempty"`
}

// ChannelSchedule is the guide for one channel: programs ordered ascending
// by Start and non-overlapping after ingestion.
type ChannelSchedule struct {
	ChannelID string    `json:"channel_id"`
	Programs  []Program `json:"programs"`
}

// NowNext is the live now/next projection for a channel at some instant.
type NowNext struct {
	Current  *Program `json:"current,omitempty"`
	Next     *Program `json:"next,omitempty"`
	Progress float64  `json:"progress,omitempty"` // through Current, clamped to [0,1]
}

// FetchResult is the output of one successful EPG fetch.
type FetchResult struct {
	Channels  []GuideChannel `json:"channels"`
	Programs  []Program      `json:"programs"`
	FetchedAt int64          `json:"fetched_at"`
}
