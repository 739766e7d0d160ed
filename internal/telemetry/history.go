package telemetry

import (
	"context"

	"codeberg.org/mutker/profilectl/internal/metrics"
)

// HistoryPublisher stores emitted records in the status history.
type HistoryPublisher struct {
	Collector metrics.Collector
}

func (p HistoryPublisher) Publish(ctx context.Context, s Status) error {
	return p.Collector.Record(ctx, toRecord(s))
}

func toRecord(s Status) *metrics.Record {
	rec := &metrics.Record{
		Timestamp: s.Timestamp,
		Tick:      s.Tick,
		Profile:   s.Profile.String(),
		Reason:    string(s.Reason),
		Severity:  int(s.Severity),
		Emergency: s.Emergency,
		Phase:     s.Phase,
		Trend:     s.Trend,
		Zones:     make([]metrics.ZoneRecord, len(s.Zones)),
	}

	for i, z := range s.Zones {
		rec.Zones[i] = metrics.ZoneRecord{
			Name:        z.Name,
			Active:      z.Active,
			Temperature: z.Temperature,
			FanSpeed:    z.FanSpeed,
			Severity:    int(z.Effective),
			FanStall:    z.FanStall,
			Slope:       z.Slope,
		}
	}

	return rec
}
