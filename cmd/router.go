package main

import (
	"encoding/json"
	"net/http"

	"github.com/chatphantom/phantomchat/internal/metrics"
	"github.com/chatphantom/phantomchat/pkg/httpext"
	"github.com/gorilla/mux"
)

// trackedLister reports which phantoms have a status channel.
type trackedLister interface {
	TrackedIDs() []string
}

func setupRouter(tracker trackedLister) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		tracked := 0
		if tracker != nil {
			tracked = len(tracker.TrackedIDs())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          "ok",
			"status_channels": tracked,
		})
	}).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpext.JsonError(w, "not found", http.StatusNotFound)
	})
	return r
}
