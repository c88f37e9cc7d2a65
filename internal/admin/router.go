// Package admin mounts the introspection HTTP surface every peer and
// the name server expose alongside the TCP protocol: health, directory,
// seats, and Prometheus metrics. This is purely additive — the protocol
// in spec.md §6 has no HTTP component; this surface exists only for
// operators, the way the teacher repo mounts its own gorilla/mux routes.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LucaCantagallo/DS-Cinema/internal/metrics"
	"github.com/LucaCantagallo/DS-Cinema/internal/protocol"
)

// PeerView is implemented by whatever owns the directory being exposed.
type PeerView interface {
	Peers() map[string]protocol.PeerAddr
}

// SeatView is implemented by the replica coordinator; nil for the name
// server, which has no seats.
type SeatView interface {
	Seats() []string
}

// Router builds the gorilla/mux router. nodeID is reported by /healthz;
// seats may be nil (name server has none).
func Router(nodeID string, peers PeerView, seats SeatView, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "healthy",
			"node_id": nodeID,
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/peers", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(peers.Peers())
	}).Methods(http.MethodGet)

	if seats != nil {
		r.HandleFunc("/seats", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			writeSeatsTable(w, seats.Seats())
		}).Methods(http.MethodGet)
	}

	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return r
}

// writeSeatsTable renders the seat array as an ASCII table with one
// (seat, owner) row per seat; a free seat's owner shows as "-".
func writeSeatsTable(w http.ResponseWriter, seats []string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"seat", "owner"})
	for i, owner := range seats {
		if owner == "" {
			owner = "-"
		}
		table.Append([]string{strconv.Itoa(i), owner})
	}
	table.Render()
}
