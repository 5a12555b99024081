package wait

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("wait: timed out")
	// ErrConditionBroken matches every *HoldError.
	ErrConditionBroken = errors.New("wait: condition did not hold")
)

// TimeoutError is returned when a condition is still false after its budget.
type TimeoutError struct {
	Condition string
	Budget    time.Duration
	Attempts  int
	// LastErr is the most recent evaluation error, if any poll failed.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s (%d polls)", e.Budget, e.Condition, e.Attempts)
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// HoldError is returned by Hold when the condition turned false inside the window.
type HoldError struct {
	Condition string
	After     time.Duration
}

func (e *HoldError) Error() string {
	return fmt.Sprintf("%s stopped holding after %s", e.Condition, e.After.Round(time.Millisecond))
}

func (e *HoldError) Is(target error) bool { return target == ErrConditionBroken }
