package exporter

import "codeberg.org/mutker/profilectl/internal/errors"

const (
	ErrInvalidListen = errors.ErrorCode("exporter_invalid_listen")
	ErrServe         = errors.ErrorCode("exporter_serve_failed")
)
