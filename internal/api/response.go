// Package api implements the Execution API (spec.md §4.5 / C5), the HTTP
// surface in front of the Session Manager and Engine Worker, grounded on
// the teacher's server package for its handler/response idioms.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/teranos/stata-bridge/internal/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeErr maps err's apperrors.Kind to its HTTP status (spec.md §7) and
// writes a JSON body of {error, kind, correlation_id?}.
func writeErr(w http.ResponseWriter, err error) {
	ae := apperrors.AsApp(err)
	body := map[string]string{
		"error": ae.Message,
		"kind":  string(ae.Kind),
	}
	if ae.CorrelationID != "" {
		body["correlation_id"] = ae.CorrelationID
	}
	writeJSON(w, ae.Kind.HTTPStatus(), body)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.BadRequest("invalid request body: " + err.Error())
	}
	return nil
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeErr(w, apperrors.BadRequest("method "+r.Method+" not allowed"))
		return false
	}
	return true
}
