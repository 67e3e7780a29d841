package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/oncue-tv/oncue/internal/faults"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondFault maps the engine's error taxonomy onto HTTP statuses.
// Results, not side channels: the command's outcome is the response body.
func respondFault(w http.ResponseWriter, err error) {
	var ve *faults.ValidationError
	if errors.As(err, &ve) {
		respondError(w, http.StatusBadRequest, ve.Error())
		return
	}
	if faults.IsAuth(err) {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var le *faults.LockoutError
	if errors.As(err, &le) {
		respondError(w, http.StatusLocked, le.Error())
		return
	}
	var ne *faults.NetworkError
	if errors.As(err, &ne) {
		respondError(w, http.StatusBadGateway, ne.Error())
		return
	}
	var pe *faults.ParseError
	if errors.As(err, &pe) {
		respondError(w, http.StatusUnprocessableEntity, pe.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
