package domain

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// Lifecycle events of a RetryAttempt.
const (
	EventSchedule   = "schedule"
	EventClaim      = "claim"
	EventSucceed    = "succeed"
	EventFail       = "fail"
	EventReschedule = "reschedule"
	EventDefer      = "defer"
	EventSettle     = "settle"
)

var lifecycleEvents = fsm.Events{
	{Name: EventSchedule, Src: []string{StatusPending.String()}, Dst: StatusScheduled.String()},
	{Name: EventClaim, Src: []string{StatusScheduled.String()}, Dst: StatusProcessing.String()},
	{Name: EventSucceed, Src: []string{StatusProcessing.String()}, Dst: StatusSucceeded.String()},
	{Name: EventFail, Src: []string{StatusProcessing.String()}, Dst: StatusFailed.String()},
	{Name: EventReschedule, Src: []string{StatusFailed.String()}, Dst: StatusScheduled.String()},
	// Returned to the queue without a charge outcome: awaiting a payment
	// method, or released by the stuck sweep.
	{Name: EventDefer, Src: []string{StatusProcessing.String()}, Dst: StatusScheduled.String()},
	// Closed outside the retry path (manual payment, cancellation).
	{Name: EventSettle, Src: []string{StatusPending.String(), StatusScheduled.String()}, Dst: StatusSucceeded.String()},
}

// Transition returns the status reached by applying event to current.
func Transition(current Status, event string) (Status, error) {
	machine := fsm.NewFSM(current.String(), lifecycleEvents, fsm.Callbacks{})
	if err := machine.Event(context.Background(), event); err != nil {
		return current, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, current)
	}
	return Status(machine.Current()), nil
}

// CanTransition reports whether event is permitted from current.
func CanTransition(current Status, event string) bool {
	return fsm.NewFSM(current.String(), lifecycleEvents, fsm.Callbacks{}).Can(event)
}
