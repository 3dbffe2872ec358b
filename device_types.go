package legohub

import "fmt"

// IO type codes reported in attached I/O notifications.
const (
	DevMotor              uint16 = 0x0001
	DevSystemTrainMotor   uint16 = 0x0002
	DevButton             uint16 = 0x0005
	DevLEDLight           uint16 = 0x0008
	DevVoltage            uint16 = 0x0014
	DevCurrent            uint16 = 0x0015
	DevPiezoTone          uint16 = 0x0016
	DevRGBLight           uint16 = 0x0017
	DevTiltExternal       uint16 = 0x0022
	DevMotionSensor       uint16 = 0x0023
	DevVisionSensor       uint16 = 0x0025
	DevMotorExternalTacho uint16 = 0x0026
	DevMotorInternalTacho uint16 = 0x0027
	DevTiltInternal       uint16 = 0x0028
)

// PeripheralFactory builds the peripheral abstraction for one attached
// device. Implementations typically embed BasePeripheral.
type PeripheralFactory func(hub *Hub, port byte, ioType uint16) Peripheral

var peripheralTypes = map[uint16]PeripheralFactory{
	DevMotor:              newMotorPeripheral,
	DevMotorExternalTacho: newEncodedMotorPeripheral,
	DevMotorInternalTacho: newEncodedMotorPeripheral,
	DevVisionSensor:       newVisionSensorPeripheral,
	DevRGBLight:           newLEDRGBPeripheral,
	DevTiltExternal:       newTiltSensorPeripheral,
	DevTiltInternal:       newTiltSensorPeripheral,
	DevCurrent:            newCurrentPeripheral,
	DevVoltage:            newVoltagePeripheral,
}

// RegisterPeripheralType maps a device type code to a peripheral
// constructor, so new device types can be supported without touching the
// hub engine. Registering during hub operation is not supported.
func RegisterPeripheralType(ioType uint16, factory PeripheralFactory) {
	peripheralTypes[ioType] = factory
}

// peripheralFactory resolves the constructor for a device type. Unknown
// types get the generic fallback, which keeps port bookkeeping intact
// without specialized behavior.
func peripheralFactory(ioType uint16) (PeripheralFactory, bool) {
	factory, ok := peripheralTypes[ioType]
	if !ok {
		return newGenericPeripheral, false
	}
	return factory, true
}

// DeviceTypeName returns a human-readable name for a device type code.
func DeviceTypeName(ioType uint16) string {
	switch ioType {
	case DevMotor:
		return "Motor"
	case DevSystemTrainMotor:
		return "System train motor"
	case DevButton:
		return "Button"
	case DevLEDLight:
		return "LED light"
	case DevVoltage:
		return "Voltage sensor"
	case DevCurrent:
		return "Current sensor"
	case DevPiezoTone:
		return "Piezo tone"
	case DevRGBLight:
		return "RGB light"
	case DevTiltExternal, DevTiltInternal:
		return "Tilt sensor"
	case DevMotionSensor:
		return "Motion sensor"
	case DevVisionSensor:
		return "Vision sensor"
	case DevMotorExternalTacho, DevMotorInternalTacho:
		return "Encoded motor"
	default:
		return fmt.Sprintf("Unknown (0x%04x)", ioType)
	}
}
