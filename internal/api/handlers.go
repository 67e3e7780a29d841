// Package api exposes the catalog engine over HTTP. It is a thin
// presentation layer: handlers decode, call a collaborator, encode. All
// policy lives in the packages behind it.
package api

import (
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/oncue-tv/oncue/internal/catalog"
	"github.com/oncue-tv/oncue/internal/faults"
	"github.com/oncue-tv/oncue/internal/metrics"
	"github.com/oncue-tv/oncue/internal/parental"
	"github.com/oncue-tv/oncue/internal/refresh"
	"github.com/oncue-tv/oncue/internal/source"
	"github.com/oncue-tv/oncue/internal/store"
	"github.com/oncue-tv/oncue/internal/syncstate"
)

// Handler carries the engine collaborators the HTTP surface needs.
type Handler struct {
	Log     zerolog.Logger
	Catalog *catalog.Catalog
	Manager *refresh.Manager
	Gate    *parental.Gate
	Syncer  *syncstate.Syncer
	Store   *store.Store
}

// ── channels ─────────────────────────────────────────────────────────────────

func (h *Handler) listChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filters{
		Search:        q.Get("search"),
		GroupID:       q.Get("group_id"),
		FavoritesOnly: q.Get("favorites_only") == "true",
		ShowHidden:    q.Get("show_hidden") == "true",
	}
	if f.ShowHidden {
		d := h.Gate.Authorize(parental.ActionViewHidden, "", "")
		if !d.Allowed {
			respondJSON(w, http.StatusForbidden, d)
			return
		}
	}

	all := h.Catalog.Snapshot()
	filtered := make([]catalog.Channel, 0, len(all))
	for _, ch := range all {
		if f.Match(ch) {
			filtered = append(filtered, ch)
		}
	}
	visible := parental.FilterVisible(filtered, h.Gate.Settings(), h.Gate.GateState())
	respondJSON(w, http.StatusOK, visible)
}

func (h *Handler) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.Catalog.Lookup(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "no such channel")
		return
	}
	respondJSON(w, http.StatusOK, ch)
}

func (h *Handler) channelNowNext(w http.ResponseWriter, r *http.Request) {
	nn, ok := h.Manager.NowNext(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "no such channel")
		return
	}
	respondJSON(w, http.StatusOK, nn)
}

// authorizeChannel answers whether playback may start right now, and if
// not, whether a PIN prompt would help.
func (h *Handler) authorizeChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.Catalog.Lookup(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "no such channel")
		return
	}
	groupID := ""
	if ch.Group != "" {
		groupID = catalog.GroupID(ch.SourceID, ch.Group)
	}
	respondJSON(w, http.StatusOK, h.Gate.Authorize(parental.ActionViewChannel, ch.ID, groupID))
}

func (h *Handler) setFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Favorite bool `json:"favorite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.mutateChannel(w, mux.Vars(r)["id"], func(id string) bool {
		return h.Catalog.SetFavorite(id, req.Favorite)
	})
}

func (h *Handler) setHidden(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hidden bool `json:"hidden"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.mutateChannel(w, mux.Vars(r)["id"], func(id string) bool {
		return h.Catalog.SetHidden(id, req.Hidden)
	})
}

func (h *Handler) markWatched(w http.ResponseWriter, r *http.Request) {
	h.mutateChannel(w, mux.Vars(r)["id"], func(id string) bool {
		return h.Catalog.MarkWatched(id, time.Now().Unix())
	})
}

// mutateChannel applies fn and re-persists the owning source's channel
// list so the flag survives a restart.
func (h *Handler) mutateChannel(w http.ResponseWriter, id string, fn func(string) bool) {
	ch, ok := h.Catalog.Lookup(id)
	if !ok || !fn(id) {
		respondError(w, http.StatusNotFound, "no such channel")
		return
	}
	if err := h.Store.Put(store.KeyChannels(ch.SourceID), h.Catalog.SourceChannels(ch.SourceID)); err != nil {
		respondFault(w, err)
		return
	}
	updated, _ := h.Catalog.Lookup(id)
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Catalog.Groups())
}

// ── sources ──────────────────────────────────────────────────────────────────

func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Manager.Sources())
}

func (h *Handler) addM3USource(w http.ResponseWriter, r *http.Request) {
	var form source.AddM3UForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.Manager.AddM3USource(form)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s)
}

func (h *Handler) addXtreamSource(w http.ResponseWriter, r *http.Request) {
	var form source.AddXtreamForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.Manager.AddXtreamSource(form)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s)
}

func (h *Handler) removeSource(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.RemoveSource(mux.Vars(r)["id"]); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) refreshSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Manager.RefreshSource(r.Context(), id); err != nil {
		respondFault(w, err)
		return
	}
	s, _ := h.Manager.Source(id)
	respondJSON(w, http.StatusOK, s)
}

func (h *Handler) listEPGSources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Manager.EPGSources())
}

func (h *Handler) addEPGSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             string `json:"name"`
		URL              string `json:"url"`
		PlaylistSourceID string `json:"playlist_source_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	es, err := h.Manager.AddEPGSource(req.Name, req.URL, req.PlaylistSourceID)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, es)
}

func (h *Handler) removeEPGSource(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.RemoveEPGSource(mux.Vars(r)["id"]); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) refreshEPGSource(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.RefreshEPG(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) refreshAll(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.RefreshAll(r.Context()); err != nil {
		respondFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── parental controls ────────────────────────────────────────────────────────

func (h *Handler) parentalState(w http.ResponseWriter, r *http.Request) {
	st := h.Gate.State()
	respondJSON(w, http.StatusOK, map[string]any{
		"enabled":    st.Enabled,
		"gate_state": h.Gate.GateState(),
		"settings":   h.Gate.Settings(),
	})
}

func (h *Handler) setParentalEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if d := h.Gate.Authorize(parental.ActionAccessSettings, "", ""); !d.Allowed {
		respondJSON(w, http.StatusForbidden, d)
		return
	}
	h.Gate.SetEnabled(req.Enabled)
	h.persistGate(w)
}

func (h *Handler) updateParentalSettings(w http.ResponseWriter, r *http.Request) {
	var s parental.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if d := h.Gate.Authorize(parental.ActionModifyLocks, "", ""); !d.Allowed {
		respondJSON(w, http.StatusForbidden, d)
		return
	}
	if err := h.Gate.UpdateSettings(s); err != nil {
		respondFault(w, err)
		return
	}
	if err := h.Store.Put(store.KeyParentalSettings, h.Gate.Settings()); err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.Gate.Settings())
}

func (h *Handler) setPIN(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if d := h.Gate.Authorize(parental.ActionAccessSettings, "", ""); !d.Allowed {
		respondJSON(w, http.StatusForbidden, d)
		return
	}
	if err := h.Gate.SetPIN(req.PIN); err != nil {
		respondFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) verifyPIN(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.Gate.VerifyPIN(req.PIN)
	if err == nil && !res.Success {
		metrics.PINFailures.Inc()
		if res.LockoutExpiresAt > 0 {
			metrics.PINLockouts.Inc()
		}
	}
	if perr := h.Store.Put(store.KeyParentalState, h.Gate.State()); perr != nil {
		h.Log.Error().Err(perr).Msg("persist gate state")
	}
	var le *faults.LockoutError
	if errors.As(err, &le) {
		// The lockout expiry rides along so clients can show a countdown.
		respondJSON(w, http.StatusLocked, res)
		return
	}
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) unlockBiometric(w http.ResponseWriter, r *http.Request) {
	if err := h.Gate.UnlockWithBiometric(); err != nil {
		respondFault(w, err)
		return
	}
	h.persistGate(w)
}

func (h *Handler) lockGate(w http.ResponseWriter, r *http.Request) {
	h.Gate.Relock()
	h.persistGate(w)
}

func (h *Handler) appBackgrounded(w http.ResponseWriter, r *http.Request) {
	h.Gate.AppBackgrounded()
	h.persistGate(w)
}

func (h *Handler) persistGate(w http.ResponseWriter) {
	if err := h.Store.Put(store.KeyParentalState, h.Gate.State()); err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"gate_state": h.Gate.GateState()})
}

// ── sync ─────────────────────────────────────────────────────────────────────

func (h *Handler) reconcileSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account  string                      `json:"account"`
		Remote   syncstate.Data              `json:"remote"`
		Strategy syncstate.ConflictResolution `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Strategy {
	case syncstate.ResolveLocal, syncstate.ResolveRemote, syncstate.ResolveMerge:
	default:
		respondError(w, http.StatusBadRequest, "strategy must be local, remote or merge")
		return
	}

	var local syncstate.Data
	if _, err := h.Store.Get(store.KeySyncData, &local); err != nil {
		respondFault(w, err)
		return
	}
	merged, conflicts := h.Syncer.Reconcile(req.Account, local, req.Remote, req.Strategy)
	if len(conflicts) > 0 {
		metrics.SyncConflicts.Add(float64(len(conflicts)))
	}
	if err := h.Store.Put(store.KeySyncData, merged); err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":      merged,
		"conflicts": conflicts,
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
