package engine

import "codeberg.org/mutker/profilectl/internal/errors"

const (
	ErrInvalidCadence = errors.ErrInvalidCadence
	ErrInvalidPolicy  = errors.ErrorCode("engine_invalid_policy")
	ErrInvalidMode    = errors.ErrorCode("engine_invalid_cadence_mode")
	ErrInvalidLock    = errors.ErrorCode("engine_invalid_lock")
)
