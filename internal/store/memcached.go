package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
)

const memcachedKeyPrefix = "vwc:slot:"

// MemcachedBackend keeps each slot as one JSON item. memcached replaces an
// item in a single operation, which gives the same atomic visibility as
// the file rename. Items never expire; a restart of memcached loses them
// and reads degrade to defaults.
type MemcachedBackend struct {
	client *memcache.Client
}

// NewMemcachedBackend accepts a comma-separated list of host:port addresses.
func NewMemcachedBackend(addrs string, timeout time.Duration) (*MemcachedBackend, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, fmt.Errorf("store: no memcached addresses in %q", addrs)
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &MemcachedBackend{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func memcachedKey(slot Slot) string {
	return memcachedKeyPrefix + string(slot)
}

func (m *MemcachedBackend) Load(ctx context.Context, slot Slot) (messages.Estimate, error) {
	if err := ctx.Err(); err != nil {
		return messages.Estimate{}, err
	}
	item, err := m.client.Get(memcachedKey(slot))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return messages.Estimate{}, ErrSlotNotFound
		}
		return messages.Estimate{}, err
	}
	var rec messages.Estimate
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return messages.Estimate{}, fmt.Errorf("%w: %v", ErrSlotCorrupt, err)
	}
	return rec, nil
}

func (m *MemcachedBackend) Save(ctx context.Context, slot Slot, rec messages.Estimate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.client.Set(&memcache.Item{Key: memcachedKey(slot), Value: raw})
}

// Ping checks that memcached is reachable.
func (m *MemcachedBackend) Ping() error {
	return m.client.Ping()
}

func (m *MemcachedBackend) Close() error {
	return m.client.Close()
}
