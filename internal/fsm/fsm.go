package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

const (
	EventStart   Event = "start"
	EventStarted Event = "started"
	EventFail    Event = "fail"
	EventStop    Event = "stop"
	EventStopped Event = "stopped"
)

// Transition returns the next session state for one event.
//
// Active is only reachable from Starting, and Idle is only re-entered through a
// failed start or a completed stop.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateStarting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStarting:
		switch event {
		case EventStarted:
			return StateActive, nil
		case EventFail:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateActive:
		switch event {
		case EventStop:
			return StateStopping, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopping:
		switch event {
		case EventStopped:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// CanSwitchCamera reports whether camera switching is permitted in state.
func CanSwitchCamera(state State) bool {
	return state == StateIdle || state == StateActive
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
