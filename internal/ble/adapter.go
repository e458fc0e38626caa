// Package ble connects the beacon scanner to the host Bluetooth stack.
package ble

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/DoyleJ11/jetfinder/internal/beacon"
)

// Adapter implements beacon.Adapter on top of tinygo's bluetooth package.
// The first advertisement from an address is reported as DeviceDiscovered,
// later ones as RSSIUpdated.
type Adapter struct {
	adapter *bluetooth.Adapter
	logger  *zap.Logger

	mu       sync.Mutex
	enabled  bool
	scanning bool
	seen     map[string]struct{}
}

func NewAdapter(logger *zap.Logger) *Adapter {
	return &Adapter{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger.Named("ble"),
		seen:    make(map[string]struct{}),
	}
}

func (a *Adapter) Scan(onEvent func(beacon.Event)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scanning {
		return nil
	}
	if !a.enabled {
		if err := a.adapter.Enable(); err != nil {
			return fmt.Errorf("%w: %v", beacon.ErrNotEnabled, err)
		}
		a.enabled = true
	}

	a.scanning = true
	clear(a.seen)

	// bluetooth.Adapter.Scan blocks until StopScan.
	go func() {
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
			onEvent(a.toEvent(res))
		})

		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()

		if err != nil {
			onEvent(beacon.ScanFailed{Err: fmt.Errorf("scanning: %w", err)})
		}
	}()
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	scanning := a.scanning
	a.mu.Unlock()

	if !scanning {
		return nil
	}
	if err := a.adapter.StopScan(); err != nil {
		return fmt.Errorf("stopping scan: %w", err)
	}
	return nil
}

func (a *Adapter) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

func (a *Adapter) toEvent(res bluetooth.ScanResult) beacon.Event {
	rssi := int(res.RSSI)
	p := beacon.Peripheral{
		Address: res.Address.String(),
		Name:    res.LocalName(),
		RSSI:    &rssi,
	}

	a.mu.Lock()
	_, known := a.seen[p.Address]
	a.seen[p.Address] = struct{}{}
	a.mu.Unlock()

	if known {
		return beacon.RSSIUpdated{Peripheral: p}
	}
	a.logger.Debug("device discovered", zap.String("address", p.Address), zap.String("name", p.Name))
	return beacon.DeviceDiscovered{Peripheral: p}
}
