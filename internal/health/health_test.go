package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource Report

func (s staticSource) Health() Report { return Report(s) }

func getJSON(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		rep  Report
		want string
	}{
		{"fresh", Report{State: "CONNECTED", Connected: true, LastPublished: now.Add(-5 * time.Second), Interval: 10 * time.Second}, "ok"},
		{"stale", Report{State: "CONNECTED", Connected: true, LastPublished: now.Add(-time.Minute), Interval: 10 * time.Second}, "degraded"},
		{"never published", Report{State: "CONNECTED", Connected: true, Interval: 10 * time.Second}, "degraded"},
		{"no cadence", Report{State: "CONNECTED", Connected: true, LastPublished: now.Add(-time.Hour)}, "ok"},
		{"connecting", Report{State: "CONNECTING", LastPublished: now.Add(-time.Second), Interval: 10 * time.Second}, "down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &healthHandler{src: staticSource(tc.rep), now: func() time.Time { return now }}
			code, body := getJSON(t, h, "/healthz")
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, tc.want, body["status"])
			assert.Equal(t, tc.rep.State, body["connection_state"])
		})
	}
}

func TestHealthz_SlotAges(t *testing.T) {
	src := staticSource(Report{
		State:     "CONNECTED",
		Connected: true,
		SlotAges:  map[string]time.Duration{"satellite": 2 * time.Hour, "ground": 4 * time.Second},
	})
	_, body := getJSON(t, NewHealthHandler(src), "/healthz")

	ages, ok := body["slot_age_sec"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 7200.0, ages["satellite"], 1e-9)
	assert.InDelta(t, 4.0, ages["ground"], 1e-9)
}

func TestReadyz(t *testing.T) {
	code, body := getJSON(t, NewReadyHandler(staticSource(Report{Connected: true})), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ready"])

	code, body = getJSON(t, NewReadyHandler(staticSource(Report{State: "DISCONNECTED"})), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["ready"])
}

func TestMux_ServesMetrics(t *testing.T) {
	mux := NewMux(staticSource(Report{}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vwc_connection_state")
}
