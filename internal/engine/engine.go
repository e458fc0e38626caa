package engine

import (
	"errors"
	"slices"
)

var ErrConfigNotLoaded = errors.New("game config not loaded")
var ErrGameAlreadyCompleted = errors.New("game already completed")

// TaskItem is the content attached to one spot.
type TaskItem struct {
	Code        int    `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Hint        string `json:"hint"`
}

// GameConfig is loaded once per game from the backend. Active is the number
// of spots a player has to collect to finish.
type GameConfig struct {
	Tasks  []TaskItem `json:"tasks"`
	Active int        `json:"active"`
}

// Task returns the task whose code matches id.
func (c *GameConfig) Task(id int) (TaskItem, bool) {
	if c == nil {
		return TaskItem{}, false
	}
	for _, t := range c.Tasks {
		if t.Code == id {
			return t, true
		}
	}
	return TaskItem{}, false
}

// ProximityInfo is one resolved proximity tick.
type ProximityInfo struct {
	DiscoveredBeaconIDs []int `json:"discoveredBeaconsIds"`
}

type Rules struct {
	// UnionCollected merges discovered IDs into the collected set instead of
	// replacing it. Off by default: the backend reports the full collected set
	// on every tick.
	UnionCollected bool
}

type State struct {
	Collected []int `json:"collected"`
	Current   *int  `json:"current,omitempty"`
	Ended     bool  `json:"ended"`
	Rules     Rules `json:"-"`
}

type EventType string

const (
	EvtSpotDiscovered   EventType = "SpotDiscovered"
	EvtSpotLost         EventType = "SpotLost"
	EvtCollectedChanged EventType = "CollectedChanged"
	EvtGameCompleted    EventType = "GameCompleted"
)

type Event struct {
	Type   EventType
	SpotID int
	IDs    []int
}

/*
	tick with new spot     -> EvtSpotDiscovered (+ EvtCollectedChanged)
	tick without new spot  -> EvtSpotLost if a spot was current before
	discovered == active   -> EvtGameCompleted
	nil info               -> only clears Current; collected set is kept
*/

// Apply folds one proximity tick into the game state. cfg nil means the
// config has not been loaded yet and the tick is ignored.
func Apply(s State, cfg *GameConfig, info *ProximityInfo) ([]Event, State, error) {
	if cfg == nil {
		return nil, s, ErrConfigNotLoaded
	}
	if s.Ended {
		return nil, s, ErrGameAlreadyCompleted
	}

	var discovered []int
	if info != nil {
		discovered = info.DiscoveredBeaconIDs
	}

	newState := s
	newState.Collected = slices.Clone(s.Collected)
	events := []Event{}

	fresh := difference(discovered, s.Collected)
	if len(fresh) > 0 {
		id := fresh[0]
		newState.Current = &id
		events = append(events, Event{Type: EvtSpotDiscovered, SpotID: id})
	} else {
		newState.Current = nil
		if s.Current != nil {
			events = append(events, Event{Type: EvtSpotLost, SpotID: *s.Current})
		}
	}

	if len(discovered) > 0 {
		if s.Rules.UnionCollected {
			newState.Collected = union(s.Collected, discovered)
		} else {
			newState.Collected = slices.Clone(discovered)
		}
		if !slices.Equal(newState.Collected, s.Collected) {
			events = append(events, Event{Type: EvtCollectedChanged, IDs: slices.Clone(newState.Collected)})
		}
	}

	newState.Ended = len(discovered) == cfg.Active
	if newState.Ended {
		events = append(events, Event{Type: EvtGameCompleted})
	}

	return events, newState, nil
}
