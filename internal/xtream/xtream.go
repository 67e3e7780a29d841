// Package xtream talks to Xtream-Codes panels over player_api.php.
//
// An authentication rejection is a distinct, user-facing failure from a
// transient network error: auth failures are never retried, while network
// failures are retry-eligible upstream. Panels return ids and ports as
// either numbers or strings depending on version, so the decode layer
// normalizes both.
package xtream

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/oncue-tv/oncue/internal/catalog"
	"github.com/oncue-tv/oncue/internal/faults"
	"github.com/oncue-tv/oncue/internal/httpclient"
	"github.com/oncue-tv/oncue/internal/source"
)

// Credentials is a full Xtream account: all three fields are required.
type Credentials struct {
	ServerURL string
	Username  string
	Password  string
}

// Result is everything one live enumeration yields.
type Result struct {
	Channels   []catalog.Channel
	Groups     []catalog.ChannelGroup
	ServerInfo *source.XtreamServerInfo
	UserInfo   *source.XtreamUserInfo
}

// Client fetches live categories and streams for one account.
type Client struct {
	Fetcher      *httpclient.Fetcher
	Creds        Credentials
	OutputFormat source.OutputFormat
}

// FetchLive authenticates and enumerates live streams, mapping each to a
// catalog channel owned by sourceID.
func (c *Client) FetchLive(ctx context.Context, sourceID string) (*Result, error) {
	base := strings.TrimSuffix(c.Creds.ServerURL, "/")
	ext := string(c.OutputFormat)
	if ext == "" {
		ext = string(source.OutputM3U8)
	}
	fetcher := c.Fetcher
	if fetcher == nil {
		fetcher = &httpclient.Fetcher{}
	}

	apiBase := base + "/player_api.php?username=" + url.QueryEscape(c.Creds.Username) +
		"&password=" + url.QueryEscape(c.Creds.Password)

	serverInfo, userInfo, err := authenticate(ctx, fetcher, apiBase)
	if err != nil {
		return nil, err
	}

	groupNames, err := fetchCategories(ctx, fetcher, apiBase)
	if err != nil {
		return nil, err
	}

	streamBase := resolveStreamBase(base, serverInfo)
	channels, err := fetchLiveStreams(ctx, fetcher, apiBase, streamBase, c.Creds, ext, sourceID, groupNames)
	if err != nil {
		return nil, err
	}

	return &Result{
		Channels:   channels,
		Groups:     deriveGroups(channels),
		ServerInfo: serverInfo,
		UserInfo:   userInfo,
	}, nil
}

// authResponse mirrors the player_api auth payload. Panels disagree on
// number-vs-string for several fields; jsonNum / jsonStr absorb that.
type authResponse struct {
	UserInfo *struct {
		Username       string      `json:"username"`
		Auth           jsonNum     `json:"auth"`
		Status         string      `json:"status"`
		Message        string      `json:"message"`
		ExpDate        jsonStr     `json:"exp_date"`
		IsTrial        jsonStr     `json:"is_trial"`
		ActiveCons     jsonStr     `json:"active_cons"`
		MaxConnections jsonStr     `json:"max_connections"`
	} `json:"user_info"`
	ServerInfo *struct {
		URL            string  `json:"url"`
		Port           jsonStr `json:"port"`
		HTTPSPort      jsonStr `json:"https_port"`
		ServerProtocol string  `json:"server_protocol"`
		Timezone       string  `json:"timezone"`
		TimestampNow   jsonNum `json:"timestamp_now"`
	} `json:"server_info"`
}

func authenticate(ctx context.Context, fetcher *httpclient.Fetcher, apiBase string) (*source.XtreamServerInfo, *source.XtreamUserInfo, error) {
	body, err := fetcher.Fetch(ctx, apiBase)
	if err != nil {
		// Some panels reject bad credentials with a 401/403 whose body is
		// still a recognizable auth payload.
		if len(body) > 0 && isAuthRejection(body) {
			return nil, nil, &faults.AuthError{Msg: authMessage(body)}
		}
		return nil, nil, err
	}
	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, nil, &faults.ParseError{Format: "xtream", Msg: "auth response", Err: err}
	}
	if auth.UserInfo == nil || int(auth.UserInfo.Auth) != 1 {
		return nil, nil, &faults.AuthError{Msg: authMessage(body)}
	}

	ui := &source.XtreamUserInfo{
		Username:       auth.UserInfo.Username,
		Status:         auth.UserInfo.Status,
		Message:        auth.UserInfo.Message,
		Auth:           int(auth.UserInfo.Auth),
		ExpDate:        string(auth.UserInfo.ExpDate),
		IsTrial:        string(auth.UserInfo.IsTrial),
		ActiveCons:     string(auth.UserInfo.ActiveCons),
		MaxConnections: string(auth.UserInfo.MaxConnections),
	}
	var si *source.XtreamServerInfo
	if auth.ServerInfo != nil {
		si = &source.XtreamServerInfo{
			URL:            auth.ServerInfo.URL,
			Port:           string(auth.ServerInfo.Port),
			HTTPSPort:      string(auth.ServerInfo.HTTPSPort),
			ServerProtocol: auth.ServerInfo.ServerProtocol,
			Timezone:       auth.ServerInfo.Timezone,
			TimestampNow:   int64(auth.ServerInfo.TimestampNow),
		}
	}
	return si, ui, nil
}

func isAuthRejection(body []byte) bool {
	var probe struct {
		UserInfo *struct {
			Auth jsonNum `json:"auth"`
		} `json:"user_info"`
	}
	if json.Unmarshal(body, &probe) != nil {
		return false
	}
	return probe.UserInfo != nil && int(probe.UserInfo.Auth) != 1
}

func authMessage(body []byte) string {
	var probe struct {
		UserInfo *struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"user_info"`
	}
	if json.Unmarshal(body, &probe) == nil && probe.UserInfo != nil {
		if probe.UserInfo.Message != "" {
			return probe.UserInfo.Message
		}
		if probe.UserInfo.Status != "" {
			return probe.UserInfo.Status
		}
	}
	return "credentials rejected"
}

func fetchCategories(ctx context.Context, fetcher *httpclient.Fetcher, apiBase string) (map[string]string, error) {
	body, err := fetcher.Fetch(ctx, apiBase+"&action=get_live_categories")
	if err != nil {
		return nil, err
	}
	var cats []struct {
		CategoryID   jsonStr `json:"category_id"`
		CategoryName string  `json:"category_name"`
	}
	if err := json.Unmarshal(body, &cats); err != nil {
		return nil, &faults.ParseError{Format: "xtream", Msg: "live categories", Err: err}
	}
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		if id := string(c.CategoryID); id != "" {
			names[id] = strings.TrimSpace(c.CategoryName)
		}
	}
	return names, nil
}

func fetchLiveStreams(ctx context.Context, fetcher *httpclient.Fetcher, apiBase, streamBase string, creds Credentials, ext, sourceID string, groupNames map[string]string) ([]catalog.Channel, error) {
	body, err := fetcher.Fetch(ctx, apiBase+"&action=get_live_streams")
	if err != nil {
		return nil, err
	}
	var streams []struct {
		StreamID     jsonStr `json:"stream_id"`
		Num          jsonNum `json:"num"`
		Name         string  `json:"name"`
		EPGChannelID jsonStr `json:"epg_channel_id"`
		StreamIcon   string  `json:"stream_icon"`
		CategoryID   jsonStr `json:"category_id"`
	}
	if err := json.Unmarshal(body, &streams); err != nil {
		return nil, &faults.ParseError{Format: "xtream", Msg: "live streams", Err: err}
	}
	channels := make([]catalog.Channel, 0, len(streams))
	for _, s := range streams {
		sid := string(s.StreamID)
		if sid == "" {
			continue
		}
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = "Channel " + sid
		}
		channels = append(channels, catalog.Channel{
			ID:            "xt_" + sid,
			Name:          name,
			URL:           streamURL(streamBase, creds, sid, ext),
			LogoURL:       s.StreamIcon,
			Group:         groupNames[string(s.CategoryID)],
			TVGID:         string(s.EPGChannelID),
			TVGName:       name,
			SourceID:      sourceID,
			ChannelNumber: int(s.Num),
		})
	}
	return channels, nil
}

func streamURL(base string, creds Credentials, streamID, ext string) string {
	return fmt.Sprintf("%s/live/%s/%s/%s.%s",
		base,
		url.PathEscape(creds.Username),
		url.PathEscape(creds.Password),
		url.PathEscape(streamID),
		ext)
}

// resolveStreamBase picks the host for playback URLs: server_info when
// present, else the API base. https only when the panel reports the https
// port as the active one.
func resolveStreamBase(apiBase string, si *source.XtreamServerInfo) string {
	if si == nil || si.URL == "" || si.Port == "" {
		return apiBase
	}
	host := strings.TrimSuffix(si.URL, "/")
	port := strings.TrimSpace(si.Port)
	httpsPort := strings.TrimSpace(si.HTTPSPort)
	scheme := "http"
	if httpsPort != "" && httpsPort == port {
		scheme = "https"
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + port
}

func deriveGroups(channels []catalog.Channel) []catalog.ChannelGroup {
	byID := make(map[string]*catalog.ChannelGroup)
	var order []string
	for _, ch := range channels {
		if ch.Group == "" {
			continue
		}
		id := catalog.GroupID(ch.SourceID, ch.Group)
		g, ok := byID[id]
		if !ok {
			g = &catalog.ChannelGroup{ID: id, Name: ch.Group, SourceID: ch.SourceID}
			byID[id] = g
			order = append(order, id)
		}
		g.ChannelCount++
	}
	out := make([]catalog.ChannelGroup, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// jsonStr decodes a JSON string or number into a string.
type jsonStr string

func (s *jsonStr) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = jsonStr(v)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = jsonStr(strconv.FormatInt(int64(n), 10))
	return nil
}

// jsonNum decodes a JSON number or numeric string into an int64.
type jsonNum int64

func (n *jsonNum) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		if v == "" {
			*n = 0
			return nil
		}
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*n = 0
			return nil
		}
		*n = jsonNum(i)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = jsonNum(int64(f))
	return nil
}
