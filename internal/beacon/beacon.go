package beacon

import "errors"

// Transient adapter conditions. The scan loop retries these after RetryDelay.
var ErrUnsupported = errors.New("bluetooth unsupported")
var ErrNotEnabled = errors.New("bluetooth not enabled")
var ErrResetting = errors.New("bluetooth resetting")
var ErrUnknownState = errors.New("bluetooth in unknown state")

// Info is one usable sighting of a named beacon.
type Info struct {
	Name string `json:"name"`
	RSSI int    `json:"rssi"`
}

// Peripheral is what the adapter reports about a device. Name is empty and
// RSSI is nil when the advertisement did not carry them.
type Peripheral struct {
	Address string
	Name    string
	RSSI    *int
}

// Event is the single stream the adapter feeds into the scanner.
type Event interface{ isScanEvent() }

type DeviceDiscovered struct {
	Peripheral Peripheral
}

func (DeviceDiscovered) isScanEvent() {}

type RSSIUpdated struct {
	Peripheral Peripheral
}

func (RSSIUpdated) isScanEvent() {}

type ScanFailed struct {
	Err error
}

func (ScanFailed) isScanEvent() {}

// Adapter abstracts the BLE stack.
//
// Scan starts scanning and returns as soon as the scan is running (or could not
// be started). Events, including asynchronous failures, are delivered to onEvent
// until StopScan is called.
type Adapter interface {
	Scan(onEvent func(Event)) error
	StopScan() error
	Scanning() bool
}

// Sink receives deduplicated sightings. It must not block.
type Sink interface {
	Push(Info)
}

// IsTransient reports whether err is an adapter condition worth waiting out.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnsupported) ||
		errors.Is(err, ErrNotEnabled) ||
		errors.Is(err, ErrResetting) ||
		errors.Is(err, ErrUnknownState)
}

func infoFrom(p Peripheral) (Info, bool) {
	if p.Name == "" || p.RSSI == nil {
		return Info{}, false
	}
	return Info{Name: p.Name, RSSI: *p.RSSI}, true
}
