package types

import "github.com/pkg/errors"

var (
	// ErrConfiguration is returned when component is asked to do something it does not support.
	ErrConfiguration = errors.New("configuration error")

	// ErrDecodeViolation is returned when received block is not a member of the legal encoding table.
	ErrDecodeViolation = errors.New("decode violation")

	// ErrOverrun is returned when elastic buffer receives more bits than it can hold.
	ErrOverrun = errors.New("elastic buffer overrun")

	// ErrUnderrun is returned when elastic buffer runs dry while the source is still streaming.
	ErrUnderrun = errors.New("elastic buffer underrun")

	// ErrDomain is returned when component is invoked from the clock domain it does not belong to.
	ErrDomain = errors.New("clock domain violation")
)
