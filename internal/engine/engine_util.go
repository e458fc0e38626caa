package engine

import "slices"

type ButtonState string

const (
	ButtonActive    ButtonState = "ACTIVE"
	ButtonTooFar    ButtonState = "TOO_FAR"
	ButtonCompleted ButtonState = "COMPLETED"
)

func NewState(collected []int, rules Rules) State {
	return State{
		Collected: slices.Clone(collected),
		Rules:     rules,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// DeriveButton maps progress to the find-task button.
func DeriveButton(s State) ButtonState {
	switch {
	case s.Ended:
		return ButtonCompleted
	case s.Current != nil:
		return ButtonActive
	default:
		return ButtonTooFar
	}
}

// DeriveStep is the stage the map shows: one per collected spot, capped at
// the number of active spots.
func DeriveStep(s State, cfg *GameConfig) int {
	step := len(s.Collected)
	if cfg != nil && step > cfg.Active {
		step = cfg.Active
	}
	return step
}

// difference keeps the order of a.
func difference(a, b []int) []int {
	out := []int{}
	for _, id := range a {
		if !slices.Contains(b, id) {
			out = append(out, id)
		}
	}
	return out
}

func union(a, b []int) []int {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
