package workflow

// State is the per-turn state of a Dispatcher.
type State string

const (
	StateIdle          State = "idle"
	StateClassifying   State = "classifying"
	StateLocalFallback State = "local-fallback"
	StateDispatching   State = "dispatching"
	StateCompleted     State = "completed"
)

// validTransitions lists the successors of each state. Any state may move
// to Completed when the turn fails.
var validTransitions = map[State][]State{
	StateIdle:          {StateClassifying, StateDispatching},
	StateClassifying:   {StateLocalFallback, StateDispatching},
	StateLocalFallback: {StateCompleted},
	StateDispatching:   {StateCompleted},
}

// CanTransition reports whether the dispatcher may move from one state to another.
func CanTransition(from, to State) bool {
	if to == StateCompleted && from != StateCompleted {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
