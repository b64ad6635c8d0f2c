package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrClosed             = errors.New("closed")
	ErrSequenceGap        = errors.New("sequence gap")
	ErrSequenceRegression = errors.New("sequence regression")
	ErrCrossedBook        = errors.New("crossed book")
	ErrUnknownFeeTier     = errors.New("unknown fee tier")
	ErrInvalidParams      = errors.New("invalid simulation parameters")
	ErrInvalidFeature     = errors.New("invalid feature value")
	ErrLockHeld           = errors.New("lock already held")
)
