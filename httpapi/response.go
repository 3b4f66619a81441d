package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"domain_ingest/services"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// writeServiceError maps validation failures to 400 and everything else to 500
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Reason)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// intParam reads a non-negative integer query parameter
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &services.ValidationError{Reason: name + " must be a non-negative integer"}
	}
	return v, nil
}
