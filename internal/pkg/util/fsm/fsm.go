// Package fsm holds helpers around github.com/looplab/fsm.
package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error returning callback; a non-nil error is stored on the event
// and surfaces from FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Skipped reports whether err only says that an event did not move the machine:
// no transition, a canceled event or an event invalid in the current state.
func Skipped(err error) bool {
	var noTransition fsm.NoTransitionError
	var canceled fsm.CanceledError
	var invalid fsm.InvalidEventError
	return errors.As(err, &noTransition) || errors.As(err, &canceled) || errors.As(err, &invalid)
}
