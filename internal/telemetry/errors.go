package telemetry

import "codeberg.org/mutker/profilectl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrPublish       = errors.ErrorCode("telemetry_publish_failed")
)
