// Package sensor reads raw temperature and fan-speed values from the host.
// A source never fails a whole sweep because one entry is unreadable: per-entry
// failures are returned next to the readings that did succeed.
package sensor

import (
	"context"
	"time"
)

// Kind tells temperatures and fan speeds apart.
type Kind int

const (
	Temperature Kind = iota
	FanSpeed
)

func (k Kind) String() string {
	switch k {
	case Temperature:
		return "temperature"
	case FanSpeed:
		return "fan_speed"
	}

	return "unknown"
}

// Reading is a single value from one sensor entry. Temperatures are in °C,
// fan speeds in RPM.
type Reading struct {
	Source    string
	Kind      Kind
	Value     float64
	Timestamp time.Time
}

// Source produces the readings for one tick.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]Reading, []error)
}

// Closer is implemented by sources holding a library or device handle.
type Closer interface {
	Close() error
}
