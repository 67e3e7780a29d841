package source

import (
	"net/url"
	"strings"

	"github.com/oncue-tv/oncue/internal/faults"
)

// AddM3UForm is the user submission for a new m3u source.
type AddM3UForm struct {
	Name      string `json:"name"`
	URL       string `json:"url,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
	EPGURL    string `json:"epg_url,omitempty"`
}

// AddXtreamForm is the user submission for a new xtream source. Password
// is accepted here once, handed to the secure store, and never persisted
// or logged elsewhere.
type AddXtreamForm struct {
	Name         string `json:"name"`
	ServerURL    string `json:"server_url"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	OutputFormat string `json:"output_format,omitempty"`
}

// Source validates the form and builds the PlaylistSource record.
func (f AddM3UForm) Source(now int64) (PlaylistSource, error) {
	s := PlaylistSource{
		ID:        NewID(),
		Name:      strings.TrimSpace(f.Name),
		Type:      TypeM3U,
		CreatedAt: now,
		M3U: &M3UConfig{
			URL:       strings.TrimSpace(f.URL),
			LocalPath: strings.TrimSpace(f.LocalPath),
			EPGURL:    strings.TrimSpace(f.EPGURL),
		},
	}
	if s.M3U.URL != "" {
		if err := checkHTTPURL("url", s.M3U.URL); err != nil {
			return PlaylistSource{}, err
		}
	}
	if s.M3U.EPGURL != "" {
		if err := checkHTTPURL("epg_url", s.M3U.EPGURL); err != nil {
			return PlaylistSource{}, err
		}
	}
	if err := s.Validate(); err != nil {
		return PlaylistSource{}, err
	}
	return s, nil
}

// Source validates the form and builds the PlaylistSource record. The
// password is returned separately so the caller can hand it straight to
// the secure store.
func (f AddXtreamForm) Source(now int64) (PlaylistSource, string, error) {
	if strings.TrimSpace(f.Password) == "" {
		return PlaylistSource{}, "", &faults.ValidationError{Field: "password", Msg: "required"}
	}
	format := OutputFormat(strings.TrimSpace(f.OutputFormat))
	switch format {
	case "", OutputM3U8:
		format = OutputM3U8
	case OutputTS:
	default:
		return PlaylistSource{}, "", &faults.ValidationError{Field: "output_format", Msg: `must be "m3u8" or "ts"`}
	}
	s := PlaylistSource{
		ID:        NewID(),
		Name:      strings.TrimSpace(f.Name),
		Type:      TypeXtream,
		CreatedAt: now,
		Xtream: &XtreamConfig{
			ServerURL:    strings.TrimSuffix(strings.TrimSpace(f.ServerURL), "/"),
			Username:     strings.TrimSpace(f.Username),
			OutputFormat: format,
		},
	}
	if err := checkHTTPURL("server_url", s.Xtream.ServerURL); err != nil {
		return PlaylistSource{}, "", err
	}
	if err := s.Validate(); err != nil {
		return PlaylistSource{}, "", err
	}
	return s, f.Password, nil
}

func checkHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &faults.ValidationError{Field: field, Msg: "must be an http(s) URL"}
	}
	return nil
}
