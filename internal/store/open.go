package store

import (
	"fmt"
	"time"
)

// Options selects and configures a Backend.
type Options struct {
	Backend          string // file | influx | memcached
	Dir              string
	Influx           InfluxConfig
	MemcachedAddrs   string
	MemcachedTimeout time.Duration
}

func OpenBackend(o Options) (Backend, error) {
	switch o.Backend {
	case "", "file":
		return NewFileBackend(o.Dir)
	case "influx":
		return NewInfluxBackend(o.Influx)
	case "memcached":
		return NewMemcachedBackend(o.MemcachedAddrs, o.MemcachedTimeout)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", o.Backend)
	}
}
