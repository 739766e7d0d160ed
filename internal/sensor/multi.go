package sensor

import (
	"context"

	"codeberg.org/mutker/profilectl/internal/errors"
)

// Multi reads several sources in order and concatenates their results.
type Multi []Source

func (Multi) Name() string {
	return "multi"
}

// Read tags each failure with the name of the source it came from.
func (m Multi) Read(ctx context.Context) ([]Reading, []error) {
	errFactory := errors.New()

	var (
		readings []Reading
		failures []error
	)

	for _, src := range m {
		r, errs := src.Read(ctx)
		readings = append(readings, r...)
		for _, err := range errs {
			failures = append(failures, errFactory.Wrap(ErrSource, err).WithMessage(src.Name()))
		}
	}

	return readings, failures
}

// Close closes every source that holds resources.
func (m Multi) Close() error {
	var first error
	for _, src := range m {
		if c, ok := src.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}

	return first
}
