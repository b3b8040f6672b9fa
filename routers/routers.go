package routers

import (
	"net/http"

	"tangle-node/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes of the tangle API. metricsHandler may be nil.
func RegisterRoutes(r *mux.Router, h *handlers.Handler, metricsHandler http.Handler) {

	// Inserts a message; a milestone index makes it a milestone
	r.HandleFunc("/messages", h.SubmitMessage).Methods("POST")

	// Returns a vertex with its metadata and children
	r.HandleFunc("/messages/{id}", h.GetMessage).Methods("GET")

	// Selects tips for a new message to reference
	r.HandleFunc("/tips", h.GetTips).Methods("GET")

	r.HandleFunc("/milestones/{index:[0-9]+}", h.GetMilestone).Methods("GET")

	// Milestone indexes, sync state and sizes
	r.HandleFunc("/status", h.GetStatus).Methods("GET")

	r.HandleFunc("/solid-entry-points", h.GetSolidEntryPoints).Methods("GET")

	// Manual pruning, on top of the background pruning loop
	r.HandleFunc("/prune/{index:[0-9]+}", h.Prune).Methods("POST")

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods("GET")
	}
}
