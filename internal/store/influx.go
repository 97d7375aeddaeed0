package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
)

// InfluxConfig points the slot backend at a bucket.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string        // default "vwc_slot"
	Lookback    time.Duration // how far back last() searches
	Timeout     time.Duration // per request
}

// InfluxBackend stores each slot as a series tagged slot=<name> and reads
// the latest point back with last(). A single point carries every field of
// the record, so a write is visible all at once.
type InfluxBackend struct {
	client  influxdb2.Client
	writer  api.WriteAPIBlocking
	query   api.QueryAPI
	cfg     InfluxConfig
	breaker *gobreaker.CircuitBreaker
}

func NewInfluxBackend(cfg InfluxConfig) (*InfluxBackend, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "vwc_slot"
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 30 * 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxBackend{
		client:  client,
		writer:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:   client.QueryAPI(cfg.Org),
		cfg:     cfg,
		breaker: newBreaker("influx-store"),
	}, nil
}

// newBreaker trips after consecutive failures so an unreachable database
// degrades reads to defaults without waiting for a timeout every cycle.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			// a slot that was never written is a healthy answer
			return err == nil || errors.Is(err, ErrSlotNotFound) || errors.Is(err, ErrSlotCorrupt)
		},
	})
}

func (b *InfluxBackend) Save(ctx context.Context, slot Slot, rec messages.Estimate) error {
	p := slotPoint(b.cfg.Measurement, slot, rec)
	_, err := b.breaker.Execute(func() (interface{}, error) {
		wctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
		return nil, b.writer.WritePoint(wctx, p)
	})
	return err
}

func (b *InfluxBackend) Load(ctx context.Context, slot Slot) (messages.Estimate, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()

		res, err := b.query.Query(qctx, buildLatestFlux(b.cfg.Bucket, b.cfg.Measurement, slot, b.cfg.Lookback))
		if err != nil {
			return nil, err
		}
		defer func() { _ = res.Close() }()

		if !res.Next() {
			if res.Err() != nil {
				return nil, res.Err()
			}
			return nil, ErrSlotNotFound
		}
		return recordToEstimate(res.Record().Time(), res.Record().Values())
	})
	if err != nil {
		return messages.Estimate{}, err
	}
	return out.(messages.Estimate), nil
}

func (b *InfluxBackend) Close() error {
	b.client.Close()
	return nil
}

func slotPoint(measurement string, slot Slot, rec messages.Estimate) *write.Point {
	tags := map[string]string{"slot": string(slot)}
	fields := map[string]interface{}{
		"value":         rec.Value,
		"shift_applied": rec.ShiftApplied,
	}
	if rec.Status != "" {
		fields["status"] = string(rec.Status)
	}
	if rec.Source != "" {
		fields["source"] = rec.Source
	}
	return influxdb2.NewPoint(measurement, tags, fields, rec.ObservedAt.UTC())
}

func buildLatestFlux(bucket, measurement string, slot Slot, lookback time.Duration) string {
	minutes := int(lookback.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q and r.slot == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)
`, bucket, minutes, measurement, string(slot))
}

// recordToEstimate maps a pivoted row back to a record.
func recordToEstimate(t time.Time, values map[string]interface{}) (messages.Estimate, error) {
	v, ok := values["value"].(float64)
	if !ok {
		return messages.Estimate{}, fmt.Errorf("%w: value column missing", ErrSlotCorrupt)
	}
	rec := messages.Estimate{Value: v, ObservedAt: t.UTC()}
	if s, ok := values["status"].(string); ok {
		rec.Status = messages.EstimateStatus(s)
	}
	if s, ok := values["source"].(string); ok {
		rec.Source = s
	}
	if f, ok := values["shift_applied"].(float64); ok {
		rec.ShiftApplied = f
	}
	return rec, nil
}
