// Package types holds the wire models of the finder backend API.
package types

// GET /finder/config
type ConfigResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Active int            `json:"active"`
}

type TaskResponse struct {
	Code        int    `json:"code"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Hint        string `json:"hint,omitempty"`
}

// GET /finder/proximity?beacons=name:rssi,...
type ProximityResponse struct {
	DiscoveredBeaconsIDs []int `json:"discoveredBeaconsIds"`
}

// GET /finder/register?name=...
type RegisterResponse struct {
	Message *string `json:"message,omitempty"`
}
