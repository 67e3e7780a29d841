// Package syncstate reconciles user state (favorites, locks, preferences)
// across devices.
//
// Reconciliation is field-wise. Set-valued fields merge by union; ordered
// and scalar fields follow the side with the later lastModified, ties
// broken toward local so a device's own recent edit is not silently
// discarded on an exact-timestamp collision. The merged result carries
// lastModified = max(local, remote), which makes re-reconciling an
// already-merged result a no-op.
package syncstate

// Data is the synced user-state aggregate.
type Data struct {
	Favorites        map[string][]string `json:"favorites"`               // source id -> channel ids
	ChannelOrder     map[string][]string `json:"channel_order,omitempty"` // source id -> ordered channel ids
	HiddenChannels   []string            `json:"hidden_channels"`
	RecentlyWatched  []string            `json:"recently_watched"`
	Preferences      Preferences         `json:"preferences"`
	ParentalControls *ParentalSync       `json:"parental_controls,omitempty"`
	LastModified     int64               `json:"last_modified"` // unix seconds
}

// Preferences are the synced app preferences. Each field merges
// independently (per-sub-field, later lastModified side wins).
type Preferences struct {
	Theme              string `json:"theme,omitempty"`             // light | dark | system
	DefaultTab         string `json:"default_tab,omitempty"`       // channels | favorites | epg
	TimeFormat         string `json:"time_format,omitempty"`       // 12h | 24h
	ChannelListMode    string `json:"channel_list_mode,omitempty"` // list | grid
	ShowChannelNumbers bool   `json:"show_channel_numbers,omitempty"`
}

// ParentalSync is the encrypted parental-control snapshot carried in the
// sync payload. Merged as one unit.
type ParentalSync struct {
	Enabled          bool     `json:"enabled"`
	LockedChannels   []string `json:"locked_channels"`
	LockedGroups     []string `json:"locked_groups"`
	TimeRestrictions *struct {
		Enabled      bool   `json:"enabled"`
		AllowedStart string `json:"allowed_start"` // "HH:MM"
		AllowedEnd   string `json:"allowed_end"`   // "HH:MM"
	} `json:"time_restrictions,omitempty"`
}

// ConflictResolution selects how differing fields resolve.
type ConflictResolution string

const (
	ResolveLocal  ConflictResolution = "local"
	ResolveRemote ConflictResolution = "remote"
	ResolveMerge  ConflictResolution = "merge"
)

// Conflict is a diagnostic record of one field that differed. Reported
// alongside a successful merge for optional user review; never an error
// and never persisted.
type Conflict struct {
	Field           string `json:"field"`
	LocalValue      any    `json:"local_value"`
	RemoteValue     any    `json:"remote_value"`
	LocalTimestamp  int64  `json:"local_timestamp"`
	RemoteTimestamp int64  `json:"remote_timestamp"`
}
