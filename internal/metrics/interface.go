// Package metrics keeps a sqlite history of emitted status records for
// offline analysis of how the controller behaved.
package metrics

import (
	"context"
	"time"
)

// Collector records status snapshots.
type Collector interface {
	Record(ctx context.Context, rec *Record) error
	Close() error
}

// Repository stores records, buffering them into batches.
type Repository interface {
	Record(rec *Record) error
	Close() error
}

// Record is one emitted status.
type Record struct {
	Timestamp time.Time
	Tick      uint64
	Profile   string
	Reason    string
	Severity  int
	Emergency bool
	Phase     string
	Trend     float64
	Zones     []ZoneRecord
}

type ZoneRecord struct {
	Name        string
	Active      bool
	Temperature float64
	FanSpeed    float64
	Severity    int
	FanStall    bool
	Slope       float64
}
