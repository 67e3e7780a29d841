package xtream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncue-tv/oncue/internal/faults"
	"github.com/oncue-tv/oncue/internal/httpclient"
	"github.com/oncue-tv/oncue/internal/source"
)

func testFetcher() *httpclient.Fetcher {
	return &httpclient.Fetcher{
		Limiter:        httpclient.NewHostLimiter(1000, 1000),
		MaxRetries:     -1,
		InitialBackoff: time.Millisecond,
	}
}

const authOK = `{
	"user_info": {"username": "u", "auth": 1, "status": "Active", "exp_date": "1767225600", "is_trial": "0", "active_cons": "1", "max_connections": 2},
	"server_info": {"url": "stream.example.com", "port": "8080", "https_port": "8443", "server_protocol": "http", "timezone": "UTC", "timestamp_now": 1700000000}
}`

func panelHandler(t *testing.T, auth string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/player_api.php", r.URL.Path)
		switch r.URL.Query().Get("action") {
		case "":
			w.Write([]byte(auth))
		case "get_live_categories":
			w.Write([]byte(`[{"category_id": 5, "category_name": "Sports"}]`))
		case "get_live_streams":
			w.Write([]byte(`[
				{"stream_id": 101, "num": 1, "name": "Sports One", "epg_channel_id": "sports1.uk", "stream_icon": "http://logo/1.png", "category_id": "5"},
				{"stream_id": "102", "num": "2", "name": "", "category_id": "99"}
			]`))
		default:
			t.Fatalf("unexpected action %q", r.URL.Query().Get("action"))
		}
	}
}

func TestFetchLive(t *testing.T) {
	srv := httptest.NewServer(panelHandler(t, authOK))
	defer srv.Close()

	c := &Client{
		Fetcher: testFetcher(),
		Creds:   Credentials{ServerURL: srv.URL, Username: "u", Password: "p"},
	}
	res, err := c.FetchLive(context.Background(), "src1")
	require.NoError(t, err)
	require.Len(t, res.Channels, 2)

	ch := res.Channels[0]
	assert.Equal(t, "xt_101", ch.ID)
	assert.Equal(t, "Sports One", ch.Name)
	assert.Equal(t, "sports1.uk", ch.TVGID)
	assert.Equal(t, "Sports", ch.Group)
	assert.Equal(t, 1, ch.ChannelNumber)
	assert.Equal(t, "src1", ch.SourceID)
	// server_info reports http on a non-https port, so playback stays http.
	assert.Equal(t, "http://stream.example.com:8080/live/u/p/101.m3u8", ch.URL)

	// Missing name falls back to the stream id; unknown category leaves the
	// group empty.
	assert.Equal(t, "Channel 102", res.Channels[1].Name)
	assert.Empty(t, res.Channels[1].Group)

	require.NotNil(t, res.UserInfo)
	assert.Equal(t, 1, res.UserInfo.Auth)
	assert.Equal(t, "2", res.UserInfo.MaxConnections)
	require.NotNil(t, res.ServerInfo)
	assert.Equal(t, "8080", res.ServerInfo.Port)

	require.Len(t, res.Groups, 1)
	assert.Equal(t, "Sports", res.Groups[0].Name)
}

func TestFetchLive_authRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user_info": {"auth": 0, "status": "Expired", "message": "account expired"}}`))
	}))
	defer srv.Close()

	c := &Client{Fetcher: testFetcher(), Creds: Credentials{ServerURL: srv.URL, Username: "u", Password: "p"}}
	_, err := c.FetchLive(context.Background(), "src1")
	require.Error(t, err)
	var ae *faults.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "account expired", ae.Msg)
}

func TestFetchLive_authRejected403Body(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"user_info": {"auth": 0, "status": "Banned"}}`))
	}))
	defer srv.Close()

	c := &Client{Fetcher: testFetcher(), Creds: Credentials{ServerURL: srv.URL, Username: "u", Password: "p"}}
	_, err := c.FetchLive(context.Background(), "src1")
	var ae *faults.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Banned", ae.Msg)
}

func TestFetchLive_serverErrorIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := &Client{Fetcher: testFetcher(), Creds: Credentials{ServerURL: srv.URL, Username: "u", Password: "p"}}
	_, err := c.FetchLive(context.Background(), "src1")
	var ne *faults.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, http.StatusBadGateway, ne.Status)
}

func TestResolveStreamBase(t *testing.T) {
	cases := []struct {
		name string
		si   *source.XtreamServerInfo
		want string
	}{
		{"nil server info", nil, "http://api.example.com"},
		{"plain port", &source.XtreamServerInfo{URL: "s.example.com", Port: "8080", HTTPSPort: "8443"}, "http://s.example.com:8080"},
		{"https active", &source.XtreamServerInfo{URL: "s.example.com", Port: "443", HTTPSPort: "443"}, "https://s.example.com"},
		{"default http port", &source.XtreamServerInfo{URL: "s.example.com", Port: "80"}, "http://s.example.com"},
		{"missing port", &source.XtreamServerInfo{URL: "s.example.com"}, "http://api.example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolveStreamBase("http://api.example.com", tc.si))
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	var s jsonStr
	require.NoError(t, s.UnmarshalJSON([]byte(`8080`)))
	assert.Equal(t, "8080", string(s))
	require.NoError(t, s.UnmarshalJSON([]byte(`"8443"`)))
	assert.Equal(t, "8443", string(s))

	var n jsonNum
	require.NoError(t, n.UnmarshalJSON([]byte(`"7"`)))
	assert.Equal(t, int64(7), int64(n))
	require.NoError(t, n.UnmarshalJSON([]byte(`3.0`)))
	assert.Equal(t, int64(3), int64(n))
	require.NoError(t, n.UnmarshalJSON([]byte(`"not a number"`)))
	assert.Equal(t, int64(0), int64(n))
}
