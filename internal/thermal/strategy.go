package thermal

import (
	"codeberg.org/mutker/profilectl/internal/errors"
)

// Strategy selects how a zone's temperature is derived from its recent maxima.
type Strategy string

const (
	// StrategyMax uses the hottest reading of the current tick.
	StrategyMax Strategy = "max"
	// StrategyWindowedAverage averages the last few per-tick maxima, which
	// flattens single-core spikes at the cost of reacting a little later.
	StrategyWindowedAverage Strategy = "windowed-average"

	DefaultSmoothingWindow = 3
)

const ErrInvalidStrategy = errors.ErrorCode("thermal_invalid_strategy")

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyMax, "":
		return StrategyMax, nil
	case StrategyWindowedAverage:
		return StrategyWindowedAverage, nil
	}

	return "", errors.New().WithData(ErrInvalidStrategy, s)
}

// Smoother keeps the recent per-tick maxima of one zone.
type Smoother struct {
	Recent []float64
}

// Apply records temp and returns the temperature the zone is judged by.
func (s *Smoother) Apply(strategy Strategy, window int, temp float64) float64 {
	if strategy != StrategyWindowedAverage {
		return temp
	}
	if window <= 0 {
		window = DefaultSmoothingWindow
	}

	s.Recent = append(s.Recent, temp)
	if len(s.Recent) > window {
		s.Recent = s.Recent[len(s.Recent)-window:]
	}

	sum := 0.0
	for _, v := range s.Recent {
		sum += v
	}

	return sum / float64(len(s.Recent))
}

// Clone returns an independent copy.
func (s Smoother) Clone() Smoother {
	return Smoother{Recent: append([]float64(nil), s.Recent...)}
}
