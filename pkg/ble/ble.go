// Package ble connects the Progressor client to a real Bluetooth adapter through tinygo.org/x/bluetooth.
package ble

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/BTBurke/critforce/pkg/progressor"
)

// Adapter is the host Bluetooth adapter.  Only one scan may run at a time.
type Adapter struct {
	adapter *bluetooth.Adapter
	log     *slog.Logger

	mu   sync.Mutex
	seen map[string]bluetooth.Address
}

var _ progressor.Adapter = &Adapter{}

// NewAdapter enables the default adapter
func NewAdapter(log *slog.Logger) (*Adapter, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	a := bluetooth.DefaultAdapter
	if err := a.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}
	return &Adapter{
		adapter: a,
		log:     log,
		seen:    make(map[string]bluetooth.Address),
	}, nil
}

// ScanBeacon scans until an advertisement whose local name is accepted by match is seen or ctx ends
func (a *Adapter) ScanBeacon(ctx context.Context, match progressor.NameFilter) (*progressor.Beacon, error) {
	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanErr <- a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if name == "" || (match != nil && !match(name)) {
				return
			}
			select {
			case found <- result:
				if err := adapter.StopScan(); err != nil {
					a.log.Warn("stop scan", "error", err)
				}
			default:
			}
		})
	}()

	select {
	case result := <-found:
		<-scanErr
		addr := result.Address.String()
		a.mu.Lock()
		a.seen[addr] = result.Address
		a.mu.Unlock()
		return &progressor.Beacon{Address: addr, LocalName: result.LocalName(), RSSI: result.RSSI}, nil
	case err := <-scanErr:
		if err == nil {
			err = fmt.Errorf("ble: scan ended without a match")
		}
		return nil, err
	case <-ctx.Done():
		if err := a.adapter.StopScan(); err != nil {
			a.log.Debug("stop scan", "error", err)
		}
		<-scanErr
		return nil, ctx.Err()
	}
}

// Connect connects to a device found by ScanBeacon
func (a *Adapter) Connect(ctx context.Context, beacon *progressor.Beacon) (progressor.Device, error) {
	if beacon == nil {
		return nil, fmt.Errorf("ble: no beacon")
	}
	a.mu.Lock()
	addr, ok := a.seen[beacon.Address]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ble: %s has not been seen in a scan", beacon.Address)
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	done := make(chan result, 1)
	go func() {
		dev, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		done <- result{dev: dev, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return &device{dev: r.dev}, nil
	case <-ctx.Done():
		// the connection attempt cannot be cancelled, release it when it completes
		go func() {
			if r := <-done; r.err == nil {
				_ = r.dev.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type device struct {
	dev bluetooth.Device
}

func (d *device) Service(ctx context.Context, uuid string) (progressor.Service, error) {
	id, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: service uuid: %w", err)
	}
	services, err := d.dev.DiscoverServices([]bluetooth.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", uuid)
	}
	return &service{svc: services[0]}, nil
}

func (d *device) Close() error {
	return d.dev.Disconnect()
}

type service struct {
	svc bluetooth.DeviceService
}

func (s *service) characteristic(uuid string) (bluetooth.DeviceCharacteristic, error) {
	id, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble: characteristic uuid: %w", err)
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{id})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	if len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble: characteristic %s not found", uuid)
	}
	return chars[0], nil
}

func (s *service) Rx(uuid string, callback func(buf []byte)) error {
	char, err := s.characteristic(uuid)
	if err != nil {
		return err
	}
	// the buffer is reused by the stack after the callback returns
	return char.EnableNotifications(func(buf []byte) {
		callback(append([]byte(nil), buf...))
	})
}

func (s *service) Tx(uuid string) (io.Writer, error) {
	char, err := s.characteristic(uuid)
	if err != nil {
		return nil, err
	}
	return writer{char: char}, nil
}

// writer sends commands without waiting for a write response
type writer struct {
	char bluetooth.DeviceCharacteristic
}

func (w writer) Write(p []byte) (int, error) {
	return w.char.WriteWithoutResponse(p)
}
