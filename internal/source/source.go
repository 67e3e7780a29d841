// Package source defines playlist and EPG source records and the forms
// that create them.
//
// PlaylistSource is a closed tagged union over {m3u, xtream}: the Type tag
// selects exactly one of the variant configs, and Validate enforces the
// variant invariants. Xtream passwords are never carried on the persisted
// record; they live only in the secure credential store, keyed by source id.
package source

import (
	"strings"

	"github.com/google/uuid"

	"github.com/oncue-tv/oncue/internal/faults"
)

// Type tags the playlist source variant.
type Type string

const (
	TypeM3U    Type = "m3u"
	TypeXtream Type = "xtream"
)

// OutputFormat is the preferred Xtream stream container.
type OutputFormat string

const (
	OutputM3U8 OutputFormat = "m3u8"
	OutputTS   OutputFormat = "ts"
)

// PlaylistSource is one configured playlist source. Exactly one of M3U /
// Xtream is non-nil, matching Type.
type PlaylistSource struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          Type   `json:"type"`
	CreatedAt     int64  `json:"created_at"` // unix seconds
	LastRefreshed int64  `json:"last_refreshed,omitempty"`
	IsRefreshing  bool   `json:"is_refreshing,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	ChannelCount  int    `json:"channel_count,omitempty"`

	M3U    *M3UConfig    `json:"m3u,omitempty"`
	Xtream *XtreamConfig `json:"xtream,omitempty"`
}

// M3UConfig configures an m3u variant: a remote URL or a local file,
// never both, with an optional associated EPG feed.
type M3UConfig struct {
	URL       string `json:"url,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
	EPGURL    string `json:"epg_url,omitempty"`
}

// XtreamConfig configures an xtream variant. The password is resolved from
// the secure store at refresh time and is not part of this record.
type XtreamConfig struct {
	ServerURL    string            `json:"server_url"`
	Username     string            `json:"username"`
	OutputFormat OutputFormat      `json:"output_format,omitempty"`
	ServerInfo   *XtreamServerInfo `json:"server_info,omitempty"`
	UserInfo     *XtreamUserInfo   `json:"user_info,omitempty"`
}

// XtreamServerInfo is the server_info block of the player_api auth response.
type XtreamServerInfo struct {
	URL            string `json:"url"`
	Port           string `json:"port"`
	HTTPSPort      string `json:"https_port,omitempty"`
	ServerProtocol string `json:"server_protocol,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	TimestampNow   int64  `json:"timestamp_now,omitempty"`
}

// XtreamUserInfo is the user_info block of the player_api auth response.
type XtreamUserInfo struct {
	Username       string `json:"username"`
	Status         string `json:"status,omitempty"`
	Message        string `json:"message,omitempty"`
	Auth           int    `json:"auth"`
	ExpDate        string `json:"exp_date,omitempty"`
	IsTrial        string `json:"is_trial,omitempty"`
	ActiveCons     string `json:"active_cons,omitempty"`
	MaxConnections string `json:"max_connections,omitempty"`
}

// EPGSource is an XMLTV feed. PlaylistSourceID is a lookup association,
// not ownership: removing the playlist source does not remove the feed.
type EPGSource struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	URL              string `json:"url"`
	PlaylistSourceID string `json:"playlist_source_id,omitempty"`
	LastRefreshed    int64  `json:"last_refreshed,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	IsRefreshing     bool   `json:"is_refreshing,omitempty"`
}

// Validate checks the variant invariants: an m3u source carries exactly one
// of URL / LocalPath; an xtream source requires server URL and username
// (the password invariant is enforced at form time, before the secret is
// handed to the secure store).
func (s *PlaylistSource) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &faults.ValidationError{Field: "name", Msg: "required"}
	}
	switch s.Type {
	case TypeM3U:
		if s.M3U == nil || s.Xtream != nil {
			return &faults.ValidationError{Field: "type", Msg: "m3u source must carry the m3u config only"}
		}
		hasURL := strings.TrimSpace(s.M3U.URL) != ""
		hasPath := strings.TrimSpace(s.M3U.LocalPath) != ""
		if hasURL == hasPath {
			return &faults.ValidationError{Field: "m3u", Msg: "exactly one of url and local_path must be set"}
		}
	case TypeXtream:
		if s.Xtream == nil || s.M3U != nil {
			return &faults.ValidationError{Field: "type", Msg: "xtream source must carry the xtream config only"}
		}
		if strings.TrimSpace(s.Xtream.ServerURL) == "" {
			return &faults.ValidationError{Field: "server_url", Msg: "required"}
		}
		if strings.TrimSpace(s.Xtream.Username) == "" {
			return &faults.ValidationError{Field: "username", Msg: "required"}
		}
	default:
		return &faults.ValidationError{Field: "type", Msg: "unknown source type " + string(s.Type)}
	}
	return nil
}

// NewID returns a fresh source id.
func NewID() string { return uuid.NewString() }
