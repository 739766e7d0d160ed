package daemon

import "codeberg.org/mutker/profilectl/internal/errors"

const (
	ErrActuation  = errors.ErrActuation
	ErrMainLoop   = errors.ErrMainLoop
	ErrInvalidArg = errors.ErrInvalidArgument
)
