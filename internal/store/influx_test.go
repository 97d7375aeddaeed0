package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
)

func TestBuildLatestFlux(t *testing.T) {
	q := buildLatestFlux("edge", "vwc_slot", SlotGround, 48*time.Hour)

	assert.Contains(t, q, `from(bucket: "edge")`)
	assert.Contains(t, q, "range(start: -2880m)")
	assert.Contains(t, q, `r._measurement == "vwc_slot" and r.slot == "ground"`)
	// rows are assembled per point before the newest one is taken, so
	// points with differing field sets cannot mix
	assert.NotContains(t, q, "last()")
	pivot := strings.Index(q, "pivot(")
	sort := strings.Index(q, `sort(columns: ["_time"], desc: true)`)
	limit := strings.Index(q, "limit(n: 1)")
	require.True(t, pivot >= 0 && sort >= 0 && limit >= 0, q)
	assert.Less(t, pivot, sort)
	assert.Less(t, sort, limit)
}

func TestSlotPoint(t *testing.T) {
	at := time.Date(2026, 2, 2, 2, 2, 2, 0, time.UTC)
	p := slotPoint("vwc_slot", SlotSatellite, messages.Estimate{
		Value: 0.33, ObservedAt: at, Status: messages.EstimateSuccess, Source: "optram",
	})

	assert.Equal(t, "vwc_slot", p.Name())
	assert.True(t, at.Equal(p.Time()))
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "slot", p.TagList()[0].Key)
	assert.Equal(t, "satellite", p.TagList()[0].Value)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 0.33, fields["value"])
	assert.Equal(t, "success", fields["status"])
	assert.Equal(t, "optram", fields["source"])
}

func TestRecordToEstimate(t *testing.T) {
	at := time.Date(2026, 2, 2, 2, 2, 2, 0, time.UTC)

	rec, err := recordToEstimate(at, map[string]interface{}{
		"value": 0.21, "shift_applied": -0.3, "source": "ground-sim",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.21, rec.Value)
	assert.Equal(t, -0.3, rec.ShiftApplied)
	assert.True(t, at.Equal(rec.ObservedAt))

	_, err = recordToEstimate(at, map[string]interface{}{"status": "success"})
	assert.ErrorIs(t, err, ErrSlotCorrupt)
}
