package profile

import "codeberg.org/mutker/profilectl/internal/errors"

const (
	ErrActuation          = errors.ErrActuation
	ErrPermission         = errors.ErrPermission
	ErrUnknownProfile     = errors.ErrorCode("profile_unknown")
	ErrUnsupportedProfile = errors.ErrorCode("profile_not_supported")
	ErrReadProfile        = errors.ErrorCode("profile_read_failed")
	ErrReadChoices        = errors.ErrorCode("profile_choices_read_failed")
)
