package legohub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attachPeripheral(t *testing.T, conn *fakeConn, hub *Hub, port byte, ioType uint16) Peripheral {
	t.Helper()
	conn.inject(attachFrame(port, ioType))
	p, ok := hub.Peripheral(port)
	require.True(t, ok)
	return p
}

func TestMotorStartSpeedEncoding(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	motor := attachPeripheral(t, conn, hub, PortA, DevMotorInternalTacho).(*EncodedMotor)

	require.NoError(t, motor.StartSpeed(0.5))
	assert.Equal(t,
		[]byte{0x09, 0x00, MsgTypePortOutput, PortA, 0x11, SubcmdStartSpeed, 50, 100, 0x03},
		conn.lastWrite())

	require.NoError(t, motor.Stop())
	assert.Equal(t, byte(0), conn.lastWrite()[6])
}

func TestMotorTimedEncoding(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	motor := attachPeripheral(t, conn, hub, PortA, DevMotorInternalTacho).(*EncodedMotor)

	require.NoError(t, motor.Timed(time.Second, 1.0))
	assert.Equal(t,
		[]byte{0x0C, 0x00, MsgTypePortOutput, PortA, 0x11, SubcmdStartSpeedForTime,
			0xE8, 0x03, 100, 100, EndStateBrake, 0x03},
		conn.lastWrite())
}

func TestMotorAngledEncoding(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	motor := attachPeripheral(t, conn, hub, PortA, DevMotorInternalTacho).(*EncodedMotor)

	// Negative degrees flip the direction instead of going on the wire.
	require.NoError(t, motor.Angled(-90, 0.3))
	assert.Equal(t,
		[]byte{0x0E, 0x00, MsgTypePortOutput, PortA, 0x11, SubcmdStartSpeedForDegrees,
			90, 0x00, 0x00, 0x00, 0xE2, 100, EndStateBrake, 0x03},
		conn.lastWrite())
}

func TestMotorBrakeEncoding(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	motor := attachPeripheral(t, conn, hub, PortA, DevMotorInternalTacho).(*EncodedMotor)

	require.NoError(t, motor.Brake())
	assert.Equal(t,
		[]byte{0x08, 0x00, MsgTypePortOutput, PortA, 0x11, SubcmdWriteDirectModeData,
			SubcmdStartPower, brakePower},
		conn.lastWrite())
}

func TestVirtualMotorPairEncoding(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)

	conn.inject(virtualAttachFrame(PortAB, DevMotorInternalTacho, PortA, PortB))
	p, ok := hub.Peripheral(PortAB)
	require.True(t, ok)
	pair := p.(*EncodedMotor)

	// Virtual pairs carry two speed bytes and shift the subcommand by one.
	require.NoError(t, pair.StartSpeedPair(0.2, -0.2))
	assert.Equal(t,
		[]byte{0x0A, 0x00, MsgTypePortOutput, PortAB, 0x11, SubcmdStartSpeed + 1,
			20, 0xEC, 100, 0x03},
		conn.lastWrite())
}

func TestSpeedAbs(t *testing.T) {
	assert.Equal(t, int8(100), speedAbs(1.0))
	assert.Equal(t, int8(-100), speedAbs(-1.0))
	assert.Equal(t, int8(100), speedAbs(2.5))
	assert.Equal(t, int8(-100), speedAbs(-2.5))
	assert.Equal(t, int8(0), speedAbs(0))
	assert.Equal(t, int8(1), speedAbs(0.004))
	assert.Equal(t, int8(50), speedAbs(0.5))
}

func TestLEDSetColor(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	led := attachPeripheral(t, conn, hub, PortLED, DevRGBLight).(*LEDRGB)

	require.NoError(t, led.SetColor(ColorRed))
	frames := conn.writtenFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, MsgTypePortInputFmtSetup, frames[0][2])
	assert.Equal(t,
		[]byte{0x08, 0x00, MsgTypePortOutput, PortLED, 0x11, SubcmdWriteDirectModeData,
			LEDModeIndex, ColorRed},
		frames[1])

	// Switching to another indexed color reuses the mode, no second setup.
	require.NoError(t, led.SetColor(ColorGreen))
	assert.Len(t, conn.writtenFrames(), 3)
}

func TestLEDSetColorRGB(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	led := attachPeripheral(t, conn, hub, PortLED, DevRGBLight).(*LEDRGB)

	require.NoError(t, led.SetColorRGB(0x10, 0x20, 0x30))
	assert.Equal(t,
		[]byte{0x0A, 0x00, MsgTypePortOutput, PortLED, 0x11, SubcmdWriteDirectModeData,
			LEDModeRGB, 0x10, 0x20, 0x30},
		conn.lastWrite())
}

func TestLEDRejectsUnknownColor(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	led := attachPeripheral(t, conn, hub, PortLED, DevRGBLight).(*LEDRGB)

	err := led.SetColor(0x42)
	require.Error(t, err)
	assert.Empty(t, conn.writtenFrames())
}

func TestSubscribeDeliversDecodedValues(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	tilt := attachPeripheral(t, conn, hub, PortTiltSensor, DevTiltInternal).(*TiltSensor)

	readings := make(chan []float64, 4)
	require.NoError(t, tilt.Subscribe(func(values ...float64) {
		readings <- values
	}, TiltMode2AxisAngle, 1))

	conn.inject(frame(MsgTypePortValueSingle, PortTiltSensor, 0xFE, 0x05))
	select {
	case values := <-readings:
		assert.Equal(t, []float64{-2, 5}, values)
	case <-time.After(time.Second):
		t.Fatal("no sensor values delivered")
	}
}

func TestSubscribeRejectsConflictingMode(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	tilt := attachPeripheral(t, conn, hub, PortTiltSensor, DevTiltInternal).(*TiltSensor)

	require.NoError(t, tilt.Subscribe(func(values ...float64) {}, TiltMode2AxisAngle, 1))
	err := tilt.Subscribe(func(values ...float64) {}, TiltMode3AxisSimple, 1)
	assert.Error(t, err)
}

func TestUnsubscribeTurnsUpdatesOff(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	tilt := attachPeripheral(t, conn, hub, PortTiltSensor, DevTiltInternal).(*TiltSensor)

	require.NoError(t, tilt.Subscribe(func(values ...float64) {}, TiltMode2AxisAngle, 1))
	require.NoError(t, tilt.Unsubscribe())

	last := conn.lastWrite()
	require.Equal(t, MsgTypePortInputFmtSetup, last[2])
	assert.Equal(t, byte(0x00), last[len(last)-1], "notify flag must be off")
}

func TestGetSensorData(t *testing.T) {
	conn := newFakeConn()
	autoRespond(conn)
	hub := newTestHub(t, conn)
	tilt := attachPeripheral(t, conn, hub, PortTiltSensor, DevTiltInternal).(*TiltSensor)

	// Answer the port value poll with a fixed 3-axis reading.
	base := conn.onWrite
	conn.onWrite = func(data []byte) {
		if len(data) >= 5 && data[2] == MsgTypePortInfoRequest && data[4] == InfoPortValue {
			conn.inject(frame(MsgTypePortValueSingle, data[3], 0x00))
			return
		}
		base(data)
	}

	values, err := tilt.GetSensorData(TiltMode3AxisSimple)
	require.NoError(t, err)
	assert.Equal(t, []float64{float64(TiltBack)}, values)
}

func TestTiltDecoding(t *testing.T) {
	tilt := newTiltSensorPeripheral(nil, PortTiltSensor, DevTiltInternal).(*TiltSensor)
	defer tilt.stop()

	assert.Equal(t, []float64{-2, 5}, tilt.decodePortValues(TiltMode2AxisAngle, []byte{0xFE, 0x05}))
	assert.Equal(t, []float64{float64(TiltFront)}, tilt.decodePortValues(TiltMode3AxisSimple, []byte{TiltFront}))
	assert.Equal(t, []float64{7}, tilt.decodePortValues(TiltModeImpactCount, []byte{0x07, 0x00, 0x00, 0x00}))
	assert.Equal(t, []float64{-1, 2, -3}, tilt.decodePortValues(TiltMode3AxisAccel, []byte{0xFF, 0x02, 0xFD}))
	assert.Nil(t, tilt.decodePortValues(TiltMode2AxisAngle, []byte{0x01}))
}

func TestVisionDecoding(t *testing.T) {
	vision := newVisionSensorPeripheral(nil, PortC, DevVisionSensor).(*VisionSensor)
	defer vision.stop()

	assert.Equal(t, []float64{float64(ColorYellow)}, vision.decodePortValues(VisionColorIndex, []byte{ColorYellow}))
	assert.Equal(t, []float64{3, 5.5}, vision.decodePortValues(VisionColorDistanceFloat, []byte{0x03, 0x05, 0x00, 0x02}))
	assert.Equal(t, []float64{0.5}, vision.decodePortValues(VisionDistanceReflected, []byte{50}))
	assert.Equal(t, []float64{255, 0, 255}, vision.decodePortValues(VisionColorRGB,
		[]byte{0xFF, 0x03, 0x00, 0x00, 0xFF, 0x03}))
	assert.Nil(t, vision.decodePortValues(VisionColorRGB, []byte{0x01, 0x02}))
}

func TestMotorDecoding(t *testing.T) {
	motor := newEncodedMotorPeripheral(nil, PortA, DevMotorInternalTacho).(*EncodedMotor)
	defer motor.stop()

	assert.Equal(t, []float64{-360}, motor.decodePortValues(MotorSensorAngle, []byte{0x98, 0xFE, 0xFF, 0xFF}))
	assert.Equal(t, []float64{-5}, motor.decodePortValues(MotorSensorSpeed, []byte{0xFB}))
	assert.Nil(t, motor.decodePortValues(MotorSensorPower, []byte{0x10}))
}

func TestVoltageCurrentDecoding(t *testing.T) {
	voltage := newVoltagePeripheral(nil, PortVoltage, DevVoltage).(*Voltage)
	defer voltage.stop()
	values := voltage.decodePortValues(0x00, []byte{0x35, 0x0F}) // 3893 raw
	require.Len(t, values, 1)
	assert.InDelta(t, 9.6, values[0], 0.001)

	current := newCurrentPeripheral(nil, PortCurrent, DevCurrent).(*Current)
	defer current.stop()
	values = current.decodePortValues(0x00, []byte{0xFF, 0x0F}) // 4095 raw
	require.Len(t, values, 1)
	assert.InDelta(t, 2444.0, values[0], 0.001)
}

func TestQueueDropsWhenOverrun(t *testing.T) {
	p := newBasePeripheral(nil, 0x00, 0x7777)
	p.stop()
	// Give the reader a moment to exit, so the queue can only hold one
	// message.
	time.Sleep(10 * time.Millisecond)

	p.QueuePortData(&PortValueSingleMessage{Port: 0x00, Data: []byte{0x01}})
	p.QueuePortData(&PortValueSingleMessage{Port: 0x00, Data: []byte{0x02}})

	first := <-p.dataCh
	assert.Equal(t, []byte{0x01}, first.(*PortValueSingleMessage).Data)
	select {
	case msg := <-p.dataCh:
		t.Fatalf("second message should have been dropped, got %v", msg)
	default:
	}
}

func TestColorName(t *testing.T) {
	assert.Equal(t, "RED", ColorName(ColorRed))
	assert.Equal(t, "NONE", ColorName(ColorNone))
	assert.Equal(t, "0x42", ColorName(0x42))
}
