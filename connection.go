package legohub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

var bleLog = logrus.WithField("logger", "ble")

// HubHardwareHandle is the fixed hardware handle every downstream command
// is written to.
const HubHardwareHandle uint16 = 0x0E

// LEGO wireless protocol GATT identifiers.
const (
	LWPHubServiceUUID     = "00001623-1212-efde-1623-785feabcd123"
	LWPCharacteristicUUID = "00001624-1212-efde-1623-785feabcd123"
)

// Connection is the transport under a hub: it writes raw command bytes and
// delivers raw notification bytes to a single callback slot.
type Connection interface {
	Write(handle uint16, data []byte) error
	SetNotifyHandler(handler func(handle uint16, data []byte))
	EnableNotifications() error
	Disconnect() error
	IsAlive() bool
}

// BLEConnection talks to a hub over Bluetooth Low Energy through the LEGO
// wireless protocol characteristic.
type BLEConnection struct {
	adapter *bluetooth.Adapter
	device  bluetooth.Device
	char    bluetooth.DeviceCharacteristic

	mu        sync.RWMutex
	notify    func(handle uint16, data []byte)
	connected bool
}

func lwpUUIDs() (service, char bluetooth.UUID, err error) {
	service, err = bluetooth.ParseUUID(LWPHubServiceUUID)
	if err != nil {
		return service, char, err
	}
	char, err = bluetooth.ParseUUID(LWPCharacteristicUUID)
	return service, char, err
}

// ScanForHubs scans for hubs advertising the LEGO wireless protocol
// service and reports every one seen within the timeout.
func ScanForHubs(timeout time.Duration) ([]HubInfo, error) {
	adapter := bluetooth.DefaultAdapter
	if adapter == nil {
		return nil, fmt.Errorf("legohub: no BLE adapter available")
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enabling BLE adapter: %w", err)
	}

	serviceUUID, _, err := lwpUUIDs()
	if err != nil {
		return nil, err
	}

	var (
		scanMu sync.Mutex
		found  []HubInfo
		seen   = make(map[string]bool)
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	bleLog.Debug("Scanning for hubs...")
	err = adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		select {
		case <-ctx.Done():
			a.StopScan()
			return
		default:
		}
		if !result.HasServiceUUID(serviceUUID) {
			return
		}
		address := result.Address.String()
		scanMu.Lock()
		if !seen[address] {
			seen[address] = true
			found = append(found, HubInfo{
				Name:    result.LocalName(),
				Address: address,
				RSSI:    int(result.RSSI),
			})
			bleLog.Infof("Found hub: %s [%s] RSSI: %d", result.LocalName(), address, result.RSSI)
		}
		scanMu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}

	<-ctx.Done()
	adapter.StopScan()
	return found, nil
}

// ConnectBLE scans for a hub and opens a connection to it. An empty address
// connects to the first hub seen advertising the LEGO wireless protocol
// service.
func ConnectBLE(address string, timeout time.Duration) (*BLEConnection, error) {
	adapter := bluetooth.DefaultAdapter
	if adapter == nil {
		return nil, fmt.Errorf("legohub: no BLE adapter available")
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enabling BLE adapter: %w", err)
	}

	serviceUUID, charUUID, err := lwpUUIDs()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var (
		target bluetooth.ScanResult
		found  bool
	)
	err = adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		select {
		case <-ctx.Done():
			a.StopScan()
			return
		default:
		}
		if address != "" {
			if result.Address.String() != address {
				return
			}
		} else if !result.HasServiceUUID(serviceUUID) {
			return
		}
		target = result
		found = true
		a.StopScan()
		cancel()
	})
	if err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	<-ctx.Done()
	adapter.StopScan()

	if !found {
		if address == "" {
			return nil, fmt.Errorf("legohub: no hub found within %s", timeout)
		}
		return nil, fmt.Errorf("legohub: hub %s not found within %s", address, timeout)
	}

	bleLog.Infof("Connecting to hub: %s [%s]", target.LocalName(), target.Address.String())
	device, err := adapter.Connect(target.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("discovering services: %w", err)
	}
	if len(services) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("legohub: hub does not expose the LWP service")
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil || len(chars) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("discovering characteristics: %w", err)
	}

	return &BLEConnection{
		adapter:   adapter,
		device:    device,
		char:      chars[0],
		connected: true,
	}, nil
}

// Write sends one command frame to the hub. The handle argument exists for
// the Connection contract; BLE routes everything through the LWP
// characteristic.
func (c *BLEConnection) Write(handle uint16, data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return fmt.Errorf("legohub: not connected to hub")
	}
	bleLog.Debugf("Write on 0x%02x: %s", handle, hexStr(data))
	_, err := c.char.WriteWithoutResponse(data)
	if err != nil {
		return fmt.Errorf("writing characteristic: %w", err)
	}
	return nil
}

// SetNotifyHandler installs the single notification callback.
func (c *BLEConnection) SetNotifyHandler(handler func(handle uint16, data []byte)) {
	c.mu.Lock()
	c.notify = handler
	c.mu.Unlock()
}

// EnableNotifications subscribes to the LWP characteristic and starts
// delivering frames to the notify handler.
func (c *BLEConnection) EnableNotifications() error {
	return c.char.EnableNotifications(func(buf []byte) {
		c.mu.RLock()
		handler := c.notify
		c.mu.RUnlock()
		if handler == nil {
			bleLog.Warnf("Notification with no handler installed: %s", hexStr(buf))
			return
		}
		// The characteristic buffer is reused by the stack; hand out a copy.
		data := make([]byte, len(buf))
		copy(data, buf)
		handler(HubHardwareHandle, data)
	})
}

// Disconnect drops the BLE link. Safe to call more than once.
func (c *BLEConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	bleLog.Info("Disconnecting from hub")
	return c.device.Disconnect()
}

// IsAlive reports whether the BLE link is still up.
func (c *BLEConnection) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
