package dag

import "github.com/pkg/errors"

var (
	ErrShutdown             = errors.New("tangle is shut down")
	ErrInvalidMessage       = errors.New("invalid message")
	ErrBackendUnavailable   = errors.New("storage backend unavailable")
	ErrNotMilestone         = errors.New("message is not a milestone")
	ErrUnknownMessage       = errors.New("message is not in the tangle")
	ErrMilestoneRegression  = errors.New("milestone index not above the confirmed index")
	ErrConflictingMilestone = errors.New("another milestone with the same index is known")
	ErrPruningTooEarly      = errors.New("pruning target is inside the retained window")
	ErrNotReady             = errors.New("no tips and no milestone to fall back on")
	ErrInvalidTipCount      = errors.New("tip count must be positive")
)
