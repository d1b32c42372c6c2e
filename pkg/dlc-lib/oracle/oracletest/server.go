package oracletest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler serves the oracle http api: info, announcements and published
// attestations. Unknown events and unpublished attestations are 404.
func (o *Oracle) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, o.Info())
	})
	r.Get("/announcements", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, o.Announcements())
	})
	r.Get("/announcement/{event_id}", func(w http.ResponseWriter, req *http.Request) {
		ann, ok := o.Announcement(chi.URLParam(req, "event_id"))
		if !ok {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		writeJSON(w, ann)
	})
	r.Get("/attestation/{event_id}", func(w http.ResponseWriter, req *http.Request) {
		att, ok := o.attestation(chi.URLParam(req, "event_id"))
		if !ok {
			http.Error(w, "attestation not found", http.StatusNotFound)
			return
		}
		writeJSON(w, att)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	// nolint
	json.NewEncoder(w).Encode(v)
}
