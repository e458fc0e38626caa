package types

import (
	"errors"
	"slices"

	"github.com/DoyleJ11/jetfinder/internal/finder"
	"github.com/DoyleJ11/jetfinder/internal/session"
)

// Client message types accepted on the websocket.
const (
	MsgStartScan    = "StartScan"
	MsgStopScan     = "StopScan"
	MsgLoadConfig   = "LoadConfig"
	MsgRegister     = "Register"
	MsgResetCookies = "ResetCookies"
)

// Server message types.
const (
	MsgStateSnapshot = "StateSnapshot"
	MsgRegistered    = "Registered"
	MsgError         = "Error"
)

type ClientMessage struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type ServerMessage struct {
	Type    string         `json:"type"` // "StateSnapshot" | "Registered" | "Error"
	Version int            `json:"version,omitempty"`
	State   *StateSnapshot `json:"state,omitempty"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Action  string         `json:"action,omitempty"`
	Retry   bool           `json:"retry,omitempty"`
}

// StateSnapshot is the render model of the hunt screen.
type StateSnapshot struct {
	CollectedSpotIDs []int  `json:"collected_spot_ids"`
	DiscoveredSpotID *int   `json:"discovered_spot_id,omitempty"`
	Step             int    `json:"step"`
	Button           string `json:"button"`
	Ended            bool   `json:"ended"`
	Quiet            bool   `json:"quiet"`
	ConfigLoaded     bool   `json:"config_loaded"`
}

func NewStateMessage(snap session.Snapshot) ServerMessage {
	collected := slices.Clone(snap.State.Collected)
	if collected == nil {
		collected = []int{}
	}
	return ServerMessage{
		Type:    MsgStateSnapshot,
		Version: snap.Version,
		State: &StateSnapshot{
			CollectedSpotIDs: collected,
			DiscoveredSpotID: snap.DiscoveredSpotID,
			Step:             snap.Step,
			Button:           string(snap.Button),
			Ended:            snap.Ended,
			Quiet:            snap.Quiet,
			ConfigLoaded:     snap.ConfigLoaded,
		},
	}
}

// NewErrorMessage renders err for the UI. Action errors keep their action and
// whether the UI may offer a retry.
func NewErrorMessage(err error) ServerMessage {
	msg := ServerMessage{Type: MsgError, Error: err.Error()}
	var ae *finder.ActionError
	if errors.As(err, &ae) {
		msg.Error = ae.Err.Error()
		msg.Action = ae.Action
		msg.Retry = ae.Retry != nil
	}
	return msg
}
