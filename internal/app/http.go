package app

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/rickgao/marketsync/internal/aggregator"
	"github.com/rickgao/marketsync/internal/metrics"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/version"
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// VenueHealth is one venue's entry in Health.
type VenueHealth struct {
	State        string `json:"state"`
	Capabilities string `json:"capabilities,omitempty"`
	Books        int    `json:"books"`
	SyncedBooks  int    `json:"synced_books"`
	Error        string `json:"error,omitempty"`
}

// Health is the /health response.
type Health struct {
	Status   string                 `json:"status"`
	Instance string                 `json:"instance"`
	Version  string                 `json:"version"`
	Venues   map[string]VenueHealth `json:"venues"`
}

// Health summarizes session and book state. A venue that is disabled, not
// SUBSCRIBED, or has an unsynced book makes the process degraded; no
// SUBSCRIBED venue at all makes it unhealthy.
func (r *Runtime) Health() Health {
	h := Health{
		Status:   StatusHealthy,
		Instance: r.cfg.Instance.ID,
		Version:  version.String(),
		Venues:   make(map[string]VenueHealth),
	}

	books := r.agg.BookStatuses(false)
	subscribed := 0
	for _, venue := range r.agg.Venues() {
		vh := VenueHealth{State: model.StateDisconnected.String()}
		if st, err := r.agg.SessionStatus(venue); err == nil {
			vh.State = st.String()
			if st == model.StateSubscribed {
				subscribed++
			} else {
				h.Status = StatusDegraded
			}
		}
		if caps, err := r.agg.Capabilities(venue); err == nil {
			vh.Capabilities = caps.String()
		}
		for _, b := range books {
			if b.Key.Venue != venue {
				continue
			}
			vh.Books++
			if b.Synced {
				vh.SyncedBooks++
			}
		}
		if vh.SyncedBooks < vh.Books {
			h.Status = StatusDegraded
		}
		h.Venues[string(venue)] = vh
	}

	for venue, err := range r.disabled {
		h.Venues[string(venue)] = VenueHealth{State: "DISABLED", Error: err.Error()}
		h.Status = StatusDegraded
	}

	if subscribed == 0 {
		h.Status = StatusUnhealthy
	}
	return h
}

// Handler serves /health, the metrics path, /debug/books and
// /debug/markets.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		h := r.Health()
		code := http.StatusOK
		if h.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	})

	mux.Handle(r.cfg.Metrics.Path, metrics.Handler(r.registry))

	mux.HandleFunc("/debug/books", func(w http.ResponseWriter, req *http.Request) {
		full := req.URL.Query().Get("full") == "1"
		statuses := r.agg.BookStatuses(full)
		if statuses == nil {
			statuses = []aggregator.BookStatus{}
		}
		writeJSON(w, http.StatusOK, statuses)
	})

	mux.HandleFunc("/debug/markets", func(w http.ResponseWriter, req *http.Request) {
		venue := model.Venue(req.URL.Query().Get("venue"))
		limit := 100
		if v, err := strconv.Atoi(req.URL.Query().Get("limit")); err == nil && v > 0 {
			limit = v
		}

		all := r.agg.Markets(venue)
		shown := all
		if len(shown) > limit {
			shown = shown[:limit]
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":   len(all),
			"showing": len(shown),
			"markets": shown,
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
