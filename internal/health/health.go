package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/vwc_edge/internal/observability"
)

// Report is what a running component tells the health endpoints.
type Report struct {
	State         string
	Connected     bool
	LastPublished time.Time
	Interval      time.Duration
	LastStatus    string
	SlotAges      map[string]time.Duration
}

// Source produces a Report on demand.
type Source interface {
	Health() Report
}

// staleAfter is how many missed intervals turn a connected loop "degraded".
const staleAfter = 3

type healthHandler struct {
	src Source
	now func() time.Time
}

func NewHealthHandler(src Source) http.Handler {
	return &healthHandler{src: src, now: time.Now}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string             `json:"status"`
		State           string             `json:"connection_state"`
		Connected       bool               `json:"mqtt_connected"`
		LastPublishAgeS float64            `json:"last_publish_age_sec"`
		LastStatus      string             `json:"last_status,omitempty"`
		SlotAgeS        map[string]float64 `json:"slot_age_sec,omitempty"`
	}

	r := h.src.Health()
	st := status{
		State:      r.State,
		Connected:  r.Connected,
		LastStatus: r.LastStatus,
	}
	fresh := false
	if !r.LastPublished.IsZero() {
		age := h.now().Sub(r.LastPublished)
		st.LastPublishAgeS = age.Seconds()
		fresh = r.Interval <= 0 || age <= staleAfter*r.Interval
	}
	if len(r.SlotAges) > 0 {
		st.SlotAgeS = make(map[string]float64, len(r.SlotAges))
		for k, v := range r.SlotAges {
			st.SlotAgeS[k] = v.Seconds()
		}
	}

	switch {
	case r.Connected && fresh:
		st.Status = "ok"
	case r.Connected:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// readyHandler answers 200 only while the broker session is up.
type readyHandler struct {
	src Source
}

func NewReadyHandler(src Source) http.Handler {
	return &readyHandler{src: src}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.src.Health().Connected
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}

// NewMux wires /healthz, /readyz and /metrics.
func NewMux(src Source) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", NewHealthHandler(src))
	mux.Handle("/readyz", NewReadyHandler(src))
	mux.Handle("/metrics", observability.Handler())
	return mux
}
