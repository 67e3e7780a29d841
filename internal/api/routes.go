package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP surface.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/channels", h.listChannels).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}", h.getChannel).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}/nownext", h.channelNowNext).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}/authorize", h.authorizeChannel).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}/favorite", h.setFavorite).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}/hidden", h.setHidden).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}/watch", h.markWatched).Methods(http.MethodPost)
	api.HandleFunc("/groups", h.listGroups).Methods(http.MethodGet)

	api.HandleFunc("/sources", h.listSources).Methods(http.MethodGet)
	api.HandleFunc("/sources/m3u", h.addM3USource).Methods(http.MethodPost)
	api.HandleFunc("/sources/xtream", h.addXtreamSource).Methods(http.MethodPost)
	api.HandleFunc("/sources/refresh", h.refreshAll).Methods(http.MethodPost)
	api.HandleFunc("/sources/{id}", h.removeSource).Methods(http.MethodDelete)
	api.HandleFunc("/sources/{id}/refresh", h.refreshSource).Methods(http.MethodPost)

	api.HandleFunc("/epg/sources", h.listEPGSources).Methods(http.MethodGet)
	api.HandleFunc("/epg/sources", h.addEPGSource).Methods(http.MethodPost)
	api.HandleFunc("/epg/sources/{id}", h.removeEPGSource).Methods(http.MethodDelete)
	api.HandleFunc("/epg/sources/{id}/refresh", h.refreshEPGSource).Methods(http.MethodPost)

	api.HandleFunc("/parental", h.parentalState).Methods(http.MethodGet)
	api.HandleFunc("/parental/enabled", h.setParentalEnabled).Methods(http.MethodPost)
	api.HandleFunc("/parental/settings", h.updateParentalSettings).Methods(http.MethodPut)
	api.HandleFunc("/parental/pin", h.setPIN).Methods(http.MethodPost)
	api.HandleFunc("/parental/verify", h.verifyPIN).Methods(http.MethodPost)
	api.HandleFunc("/parental/biometric", h.unlockBiometric).Methods(http.MethodPost)
	api.HandleFunc("/parental/lock", h.lockGate).Methods(http.MethodPost)
	api.HandleFunc("/parental/background", h.appBackgrounded).Methods(http.MethodPost)

	api.HandleFunc("/sync", h.reconcileSync).Methods(http.MethodPost)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
