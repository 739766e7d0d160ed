package zone

import "codeberg.org/mutker/profilectl/internal/errors"

const (
	ErrInvalidZone      = errors.ErrInvalidZone
	ErrDuplicateZone    = errors.ErrorCode("zone_duplicate_name")
	ErrInvalidPattern   = errors.ErrorCode("zone_invalid_pattern")
	ErrDegenerateBand   = errors.ErrorCode("zone_release_not_below_trigger")
	ErrInvalidWeight    = errors.ErrorCode("zone_invalid_trend_weight")
	ErrInvalidRPMBounds = errors.ErrorCode("zone_invalid_rpm_bounds")
)
