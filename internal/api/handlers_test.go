package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncue-tv/oncue/internal/catalog"
	"github.com/oncue-tv/oncue/internal/httpclient"
	"github.com/oncue-tv/oncue/internal/parental"
	"github.com/oncue-tv/oncue/internal/refresh"
	"github.com/oncue-tv/oncue/internal/source"
	"github.com/oncue-tv/oncue/internal/store"
	"github.com/oncue-tv/oncue/internal/syncstate"
)

func newTestHandler(t *testing.T) (*Handler, *source.MemorySecureStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	secrets := source.NewMemorySecureStore()
	cat := catalog.New()
	fetcher := &httpclient.Fetcher{
		Limiter:        httpclient.NewHostLimiter(1000, 1000),
		MaxRetries:     -1,
		InitialBackoff: time.Millisecond,
	}
	h := &Handler{
		Log:     zerolog.Nop(),
		Catalog: cat,
		Manager: refresh.New(zerolog.Nop(), st, secrets, cat, fetcher),
		Gate:    parental.NewGate(parental.State{}, parental.DefaultSettings(), secrets),
		Syncer:  syncstate.NewSyncer(),
		Store:   st,
	}
	return h, secrets
}

func doJSON(t *testing.T, h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
}

func TestListChannels_filteredAndGated(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Catalog.ReplaceSource("src1", []catalog.Channel{
		{ID: "a", Name: "News 24", SourceID: "src1", Group: "News"},
		{ID: "b", Name: "Movies", SourceID: "src1", Group: "Cinema"},
		{ID: "c", Name: "Hidden", SourceID: "src1"},
	})
	h.Gate.SetEnabled(true)
	settings := h.Gate.Settings()
	settings.HiddenChannels = []string{"c"}
	settings.LockedChannels = []string{"b"}
	require.NoError(t, h.Gate.UpdateSettings(settings))

	rr := doJSON(t, h, http.MethodGet, "/api/channels", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var channels []catalog.Channel
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &channels))
	require.Len(t, channels, 2)
	assert.Equal(t, "a", channels[0].ID)
	assert.False(t, channels[0].IsLocked)
	assert.Equal(t, "b", channels[1].ID)
	assert.True(t, channels[1].IsLocked)

	rr = doJSON(t, h, http.MethodGet, "/api/channels?search=news", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "a", channels[0].ID)
}

func TestGetChannel_notFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := doJSON(t, h, http.MethodGet, "/api/channels/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAddM3USource_validationFailure(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := doJSON(t, h, http.MethodPost, "/api/sources/m3u", source.AddM3UForm{Name: "p"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "m3u")
}

func TestAddAndListSources(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := doJSON(t, h, http.MethodPost, "/api/sources/m3u", source.AddM3UForm{
		Name: "prov", URL: "http://prov.example.com/list.m3u",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/api/sources", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sources []source.PlaylistSource
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, "prov", sources[0].Name)
}

func TestAddXtreamSource_passwordNeverInResponse(t *testing.T) {
	h, secrets := newTestHandler(t)
	rr := doJSON(t, h, http.MethodPost, "/api/sources/xtream", source.AddXtreamForm{
		Name: "panel", ServerURL: "http://panel.example.com", Username: "u", Password: "hunter2",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.NotContains(t, rr.Body.String(), "hunter2")

	var s source.PlaylistSource
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	pw, ok, err := secrets.Get(source.CredentialKey(s.ID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hunter2", pw)
}

func TestParentalVerify_lockoutIs423(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Gate.SetEnabled(true)
	require.NoError(t, h.Gate.SetPIN("1234"))

	for i := 0; i < 5; i++ {
		rr := doJSON(t, h, http.MethodPost, "/api/parental/verify", map[string]string{"pin": "0000"})
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	// Locked out now: even the correct PIN yields 423.
	rr := doJSON(t, h, http.MethodPost, "/api/parental/verify", map[string]string{"pin": "1234"})
	assert.Equal(t, http.StatusLocked, rr.Code)
	assert.Contains(t, rr.Body.String(), "lockout_expires_at")
}

func TestParentalVerify_success(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Gate.SetEnabled(true)
	require.NoError(t, h.Gate.SetPIN("1234"))

	rr := doJSON(t, h, http.MethodPost, "/api/parental/verify", map[string]string{"pin": "1234"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"success":true`)
	assert.Equal(t, parental.Unlocked, h.Gate.GateState())

	// State persisted for restart recovery.
	var st parental.State
	ok, err := h.Store.Get(store.KeyParentalState, &st)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, st.IsLocked)
}

func TestUpdateParentalSettings_requiresUnlock(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Gate.SetEnabled(true)
	require.NoError(t, h.Gate.SetPIN("1234"))

	settings := h.Gate.Settings()
	settings.LockedChannels = []string{"x"}
	rr := doJSON(t, h, http.MethodPut, "/api/parental/settings", settings)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	_, err := h.Gate.VerifyPIN("1234")
	require.NoError(t, err)
	rr = doJSON(t, h, http.MethodPut, "/api/parental/settings", settings)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"x"}, h.Gate.Settings().LockedChannels)
}

func TestSyncEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	require.NoError(t, h.Store.Put(store.KeySyncData, syncstate.Data{
		Favorites:    map[string][]string{"src1": {"a"}},
		LastModified: 100,
	}))

	rr := doJSON(t, h, http.MethodPost, "/api/sync", map[string]any{
		"account": "acct",
		"remote": syncstate.Data{
			Favorites:    map[string][]string{"src1": {"b"}},
			LastModified: 200,
		},
		"strategy": "merge",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data      syncstate.Data       `json:"data"`
		Conflicts []syncstate.Conflict `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"a", "b"}, resp.Data.Favorites["src1"])
	assert.Equal(t, int64(200), resp.Data.LastModified)
	require.Len(t, resp.Conflicts, 1)

	// The merged result replaced the stored local copy.
	var stored syncstate.Data
	ok, err := h.Store.Get(store.KeySyncData, &stored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200), stored.LastModified)
}

func TestSyncEndpoint_badStrategy(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := doJSON(t, h, http.MethodPost, "/api/sync", map[string]any{"strategy": "newest"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFavoriteFlagPersists(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Catalog.ReplaceSource("src1", []catalog.Channel{{ID: "a", Name: "One", SourceID: "src1"}})

	rr := doJSON(t, h, http.MethodPost, "/api/channels/a/favorite", map[string]bool{"favorite": true})
	require.Equal(t, http.StatusOK, rr.Code)

	var stored []catalog.Channel
	ok, err := h.Store.Get(store.KeyChannels("src1"), &stored)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].IsFavorite)
}
