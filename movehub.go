package legohub

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var moveHubLog = logrus.WithField("logger", "movehub")

// Move Hub port conventions. Ports A, B and their combined pair hold the
// built-in motors; the remaining fixed ports hold the built-in sensors.
const (
	PortA          byte = 0x00
	PortB          byte = 0x01
	PortC          byte = 0x02
	PortD          byte = 0x03
	PortAB         byte = 0x10
	PortLED        byte = 0x32
	PortTiltSensor byte = 0x3A
	PortCurrent    byte = 0x3B
	PortVoltage    byte = 0x3C
)

// MoveHub drives a LEGO Boost Move Hub: a hub engine plus named accessors
// for the model's fixed device topology. Accessors update reactively as
// attach and detach notifications arrive, so a device may not be visible
// immediately after it is physically attached.
type MoveHub struct {
	*Hub

	button *Button

	mu            sync.RWMutex
	info          HubInfo
	led           *LEDRGB
	tiltSensor    *TiltSensor
	current       *Current
	voltage       *Voltage
	visionSensor  *VisionSensor
	motorA        *EncodedMotor
	motorB        *EncodedMotor
	motorAB       *EncodedMotor
	motorExternal *EncodedMotor
	portC         Peripheral
	portD         Peripheral
}

// NewMoveHub builds a hub engine on the connection, waits for the Move
// Hub's built-in devices to appear and logs a short status report. A hub
// with some built-in devices missing is still returned and usable.
func NewMoveHub(conn Connection, opts ...Option) (*MoveHub, error) {
	hub, err := NewHub(conn, opts...)
	if err != nil {
		return nil, err
	}
	m := &MoveHub{Hub: hub}
	m.button = NewButton(hub)
	// Registered after the base attachment tracker, so the peripheral set
	// is current by the time the binder runs.
	hub.AddMessageHandler(MsgTypeHubAttachedIO, m.bindDevice)
	// Devices that attached before the binder was registered are swept up
	// here; everything later arrives through the handler.
	for port, p := range hub.Peripherals() {
		m.bind(port, p)
	}

	m.waitForDevices()
	m.reportStatus()
	return m, nil
}

// bindDevice extends the attachment tracker: peripherals at well-known
// fixed ports become named accessors, and a couple of device capabilities
// are bound by type wherever they show up.
func (m *MoveHub) bindDevice(msg UpstreamMessage) {
	change, ok := msg.(*AttachedIOMessage)
	if !ok {
		return
	}

	if change.Event == IOEventDetached {
		m.unbindPort(change.Port)
		return
	}

	p, ok := m.Peripheral(change.Port)
	if !ok {
		return
	}
	m.bind(change.Port, p)
}

func (m *MoveHub) bind(port byte, p Peripheral) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch port {
	case PortA:
		m.motorA, _ = p.(*EncodedMotor)
	case PortB:
		m.motorB, _ = p.(*EncodedMotor)
	case PortAB:
		m.motorAB, _ = p.(*EncodedMotor)
	case PortC:
		m.portC = p
	case PortD:
		m.portD = p
	case PortLED:
		m.led, _ = p.(*LEDRGB)
	case PortTiltSensor:
		m.tiltSensor, _ = p.(*TiltSensor)
	case PortCurrent:
		m.current, _ = p.(*Current)
	case PortVoltage:
		m.voltage, _ = p.(*Voltage)
	}

	switch dev := p.(type) {
	case *VisionSensor:
		m.visionSensor = dev
	case *EncodedMotor:
		if port != PortA && port != PortB && port != PortAB {
			m.motorExternal = dev
		}
	}
}

func (m *MoveHub) unbindPort(port byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch port {
	case PortA:
		m.motorA = nil
	case PortB:
		m.motorB = nil
	case PortAB:
		m.motorAB = nil
	case PortC:
		m.portC = nil
	case PortD:
		m.portD = nil
	case PortLED:
		m.led = nil
	case PortTiltSensor:
		m.tiltSensor = nil
	case PortCurrent:
		m.current = nil
	case PortVoltage:
		m.voltage = nil
	}
	if m.visionSensor != nil && m.visionSensor.Port() == port {
		m.visionSensor = nil
	}
	if m.motorExternal != nil && m.motorExternal.Port() == port {
		m.motorExternal = nil
	}
}

// waitForDevices polls until every built-in device has appeared, bounded by
// the configured attempt count and interval (about six seconds by default).
func (m *MoveHub) waitForDevices() {
	for attempt := 0; attempt < m.waitAttempts; attempt++ {
		if missing := m.missingDevices(); len(missing) == 0 {
			moveHubLog.Debug("All built-in devices are present")
			return
		}
		moveHubLog.Debug("Waiting for built-in devices to appear...")
		time.Sleep(m.waitInterval)
	}
	moveHubLog.Warnf("Still missing built-in devices: %s", strings.Join(m.missingDevices(), ", "))
}

func (m *MoveHub) missingDevices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var missing []string
	if m.motorA == nil {
		missing = append(missing, "motor A")
	}
	if m.motorB == nil {
		missing = append(missing, "motor B")
	}
	if m.motorAB == nil {
		missing = append(missing, "motor AB")
	}
	if m.led == nil {
		missing = append(missing, "LED")
	}
	if m.tiltSensor == nil {
		missing = append(missing, "tilt sensor")
	}
	if m.current == nil {
		missing = append(missing, "current sensor")
	}
	if m.voltage == nil {
		missing = append(missing, "voltage sensor")
	}
	return missing
}

// reportStatus issues a short fixed sequence of synchronous property
// queries for diagnostic logging. Failures are logged, never fatal: the
// hub stays usable either way.
func (m *MoveHub) reportStatus() {
	var info HubInfo

	if reply, err := m.requestProperty(HubPropertyAdvertiseName); err == nil {
		info.Name = string(reply.Params)
	} else {
		moveHubLog.WithError(err).Warn("Could not read advertised name")
	}
	if reply, err := m.requestProperty(HubPropertyPrimaryMAC); err == nil {
		info.MAC = macStr(reply.Params)
	} else {
		moveHubLog.WithError(err).Warn("Could not read MAC address")
	}
	moveHubLog.Infof("%s on %s", info.Name, info.MAC)

	if reply, err := m.requestProperty(HubPropertyVoltagePerc); err != nil {
		moveHubLog.WithError(err).Warn("Could not read battery voltage")
	} else if len(reply.Params) > 0 {
		info.BatteryPercent = int(reply.Params[0])
		moveHubLog.Infof("Voltage: %d%%", info.BatteryPercent)
	}

	if reply, err := m.Send(&HubAlertRequest{Alert: AlertLowVoltage, Operation: AlertOpRequestUpdate}); err == nil {
		if alert, ok := reply.(*HubAlertUpdate); ok && !alert.IsOK() {
			moveHubLog.Warn("Low voltage, check power source (maybe replace battery)")
		}
	} else {
		moveHubLog.WithError(err).Warn("Could not read low-voltage alert")
	}

	m.mu.Lock()
	m.info = info
	m.mu.Unlock()
}

func (m *MoveHub) requestProperty(property byte) (*HubPropertiesUpdate, error) {
	reply, err := m.Send(&HubPropertiesRequest{Property: property, Operation: PropOpRequestUpdate})
	if err != nil {
		return nil, err
	}
	update, ok := reply.(*HubPropertiesUpdate)
	if !ok {
		return nil, ErrProtocol
	}
	return update, nil
}

// Info returns the details gathered during the startup status report.
func (m *MoveHub) Info() HubInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// Button is the hub's own push button.
func (m *MoveHub) Button() *Button { return m.button }

// MotorA is the built-in encoded motor on port A, nil until attached.
func (m *MoveHub) MotorA() *EncodedMotor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.motorA
}

// MotorB is the built-in encoded motor on port B, nil until attached.
func (m *MoveHub) MotorB() *EncodedMotor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.motorB
}

// MotorAB is the synchronized pair of the built-in motors, nil until
// attached.
func (m *MoveHub) MotorAB() *EncodedMotor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.motorAB
}

// MotorExternal is an encoded motor plugged into one of the free ports,
// nil until attached.
func (m *MoveHub) MotorExternal() *EncodedMotor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.motorExternal
}

// LED is the hub's RGB indicator, nil until attached.
func (m *MoveHub) LED() *LEDRGB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.led
}

// TiltSensor is the built-in tilt sensor, nil until attached.
func (m *MoveHub) TiltSensor() *TiltSensor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tiltSensor
}

// CurrentSensor is the built-in current meter, nil until attached.
func (m *MoveHub) CurrentSensor() *Current {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// VoltageSensor is the built-in voltage meter, nil until attached.
func (m *MoveHub) VoltageSensor() *Voltage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.voltage
}

// VisionSensor is a color/distance sensor wherever it is plugged in, nil
// until attached.
func (m *MoveHub) VisionSensor() *VisionSensor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visionSensor
}

// PortC is whatever is plugged into port C, nil when empty.
func (m *MoveHub) PortC() Peripheral {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.portC
}

// PortD is whatever is plugged into port D, nil when empty.
func (m *MoveHub) PortD() Peripheral {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.portD
}
