package sensor

import "codeberg.org/mutker/profilectl/internal/errors"

const (
	ErrEnumerate   = errors.ErrorCode("sensor_enumerate_failed")
	ErrReadEntry   = errors.ErrorCode("sensor_read_failed")
	ErrParseEntry  = errors.ErrorCode("sensor_parse_failed")
	ErrReadTimeout = errors.ErrorCode("sensor_read_timeout")
	ErrSource      = errors.ErrorCode("sensor_source_failed")
)
