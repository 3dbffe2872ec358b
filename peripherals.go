package legohub

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var periphLog = logrus.WithField("logger", "peripherals")

// Color indexes understood by the RGB light and the vision sensor.
const (
	ColorBlack     byte = 0x00
	ColorPink      byte = 0x01
	ColorPurple    byte = 0x02
	ColorBlue      byte = 0x03
	ColorLightBlue byte = 0x04
	ColorCyan      byte = 0x05
	ColorGreen     byte = 0x06
	ColorYellow    byte = 0x07
	ColorOrange    byte = 0x08
	ColorRed       byte = 0x09
	ColorWhite     byte = 0x0A
	ColorNone      byte = 0xFF
)

var colorNames = map[byte]string{
	ColorBlack:     "BLACK",
	ColorPink:      "PINK",
	ColorPurple:    "PURPLE",
	ColorBlue:      "BLUE",
	ColorLightBlue: "LIGHTBLUE",
	ColorCyan:      "CYAN",
	ColorGreen:     "GREEN",
	ColorYellow:    "YELLOW",
	ColorOrange:    "ORANGE",
	ColorRed:       "RED",
	ColorWhite:     "WHITE",
	ColorNone:      "NONE",
}

// ColorName returns the symbolic name of a color index.
func ColorName(color byte) string {
	if name, ok := colorNames[color]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", color)
}

// SensorCallback receives decoded sensor values from a subscribed
// peripheral. It runs on the peripheral's own reader goroutine.
type SensorCallback func(values ...float64)

// Peripheral is a device attached to a hub port. Implementations embed
// BasePeripheral; the hub creates them on attach notifications and removes
// them on detach, never by any other path.
type Peripheral interface {
	fmt.Stringer
	Hub() *Hub
	Port() byte
	DeviceType() uint16
	// VirtualPorts reports the physical port pair a virtual (merged)
	// peripheral spans.
	VirtualPorts() (a, b byte, virtual bool)
	// QueuePortData feeds a port value notification into the peripheral's
	// intake queue. It never blocks; data is dropped when the peripheral
	// cannot keep up.
	QueuePortData(msg UpstreamMessage)

	setVirtualPorts(a, b byte)
	stop()
}

// portDataDecoder turns a raw port value payload into sensor readings,
// interpreted according to the port's current mode.
type portDataDecoder func(mode byte, data []byte) []float64

// BasePeripheral carries the bookkeeping every peripheral shares: the
// owning hub, the port binding, the cached port mode and the subscriber
// list. It doubles as the generic fallback for unrecognized device types.
type BasePeripheral struct {
	hub    *Hub
	port   byte
	ioType uint16

	// Buffered queues output commands in the hub instead of executing them
	// immediately.
	Buffered bool

	mu          sync.Mutex
	virtualA    byte
	virtualB    byte
	virtual     bool
	subscribers []SensorCallback
	portMode    *PortInputFormatMessage

	decoder  portDataDecoder
	dataCh   chan UpstreamMessage // capacity 1: drop data we cannot handle fast enough
	done     chan struct{}
	stopOnce sync.Once
}

func newBasePeripheral(hub *Hub, port byte, ioType uint16) *BasePeripheral {
	p := &BasePeripheral{
		hub:    hub,
		port:   port,
		ioType: ioType,
		dataCh: make(chan UpstreamMessage, 1),
		done:   make(chan struct{}),
	}
	go p.queueReader()
	return p
}

func newGenericPeripheral(hub *Hub, port byte, ioType uint16) Peripheral {
	return newBasePeripheral(hub, port, ioType)
}

func (p *BasePeripheral) Hub() *Hub          { return p.hub }
func (p *BasePeripheral) Port() byte         { return p.port }
func (p *BasePeripheral) DeviceType() uint16 { return p.ioType }

func (p *BasePeripheral) VirtualPorts() (byte, byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.virtualA, p.virtualB, p.virtual
}

func (p *BasePeripheral) setVirtualPorts(a, b byte) {
	p.mu.Lock()
	p.virtualA, p.virtualB, p.virtual = a, b, true
	p.mu.Unlock()
}

func (p *BasePeripheral) String() string {
	if a, b, virtual := p.VirtualPorts(); virtual {
		return fmt.Sprintf("%s on port 0x%02x (ports 0x%02x and 0x%02x combined)",
			DeviceTypeName(p.ioType), p.port, a, b)
	}
	return fmt.Sprintf("%s on port 0x%02x", DeviceTypeName(p.ioType), p.port)
}

func (p *BasePeripheral) stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

// QueuePortData implements the drop-on-overrun intake queue.
func (p *BasePeripheral) QueuePortData(msg UpstreamMessage) {
	select {
	case p.dataCh <- msg:
	default:
		periphLog.Debugf("Dropped port data: %v", msg)
	}
}

func (p *BasePeripheral) queueReader() {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.dataCh:
			p.handlePortData(msg)
		}
	}
}

func (p *BasePeripheral) handlePortData(msg UpstreamMessage) {
	var data []byte
	switch m := msg.(type) {
	case *PortValueSingleMessage:
		data = m.Data
	case *PortValueCombinedMessage:
		data = m.Data
	default:
		return
	}
	values := p.decodePortData(data)
	if values != nil {
		p.notifySubscribers(values...)
	}
}

func (p *BasePeripheral) decodePortData(data []byte) []float64 {
	p.mu.Lock()
	decoder := p.decoder
	mode := byte(0x00)
	if p.portMode != nil {
		mode = p.portMode.Mode
	}
	p.mu.Unlock()

	if decoder == nil {
		periphLog.Warnf("Unhandled port data on %v: %s", p, hexStr(data))
		return nil
	}
	return decoder(mode, data)
}

func (p *BasePeripheral) notifySubscribers(values ...float64) {
	p.mu.Lock()
	subscribers := make([]SensorCallback, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()
	for _, cb := range subscribers {
		cb(values...)
	}
}

// SetPortMode switches the port into the given sensor mode and configures
// value-update delivery. A no-op when the port is already configured that
// way.
func (p *BasePeripheral) SetPortMode(mode byte, notify bool, delta uint32) error {
	p.mu.Lock()
	current := p.portMode
	p.mu.Unlock()
	if current != nil && current.Mode == mode &&
		current.NotifyEnabled == notify && current.UpdateDelta == delta {
		periphLog.Debug("Already in target mode, no need to switch")
		return nil
	}

	reply, err := p.hub.Send(&PortInputFormatSetupRequest{
		Port:          p.port,
		Mode:          mode,
		UpdateDelta:   delta,
		NotifyEnabled: notify,
	})
	if err != nil {
		return err
	}
	fmtMsg, ok := reply.(*PortInputFormatMessage)
	if !ok {
		return fmt.Errorf("%w: unexpected reply %v to input format setup", ErrProtocol, reply)
	}
	p.mu.Lock()
	p.portMode = fmtMsg
	p.mu.Unlock()
	return nil
}

// Subscribe registers a callback for decoded sensor values and switches the
// port into the requested mode with update notifications on. Granularity is
// the minimum value delta that triggers an update.
func (p *BasePeripheral) Subscribe(cb SensorCallback, mode byte, granularity uint32) error {
	p.mu.Lock()
	if p.portMode != nil && p.portMode.Mode != mode && len(p.subscribers) > 0 {
		current := p.portMode.Mode
		p.mu.Unlock()
		return fmt.Errorf("legohub: port 0x%02x is in active mode 0x%02x, unsubscribe first", p.port, current)
	}
	p.mu.Unlock()

	if err := p.SetPortMode(mode, true, granularity); err != nil {
		return err
	}
	if cb != nil {
		p.mu.Lock()
		p.subscribers = append(p.subscribers, cb)
		p.mu.Unlock()
	}
	return nil
}

// Unsubscribe drops all subscribers and turns port value updates off.
func (p *BasePeripheral) Unsubscribe() error {
	p.mu.Lock()
	p.subscribers = nil
	mode := p.portMode
	p.mu.Unlock()

	if mode == nil || !mode.NotifyEnabled {
		periphLog.Warnf("Attempt to unsubscribe while port value updates are off: %v", p)
		return nil
	}
	return p.SetPortMode(mode.Mode, false, mode.UpdateDelta)
}

// GetSensorData polls the port for one reading in the given mode.
func (p *BasePeripheral) GetSensorData(mode byte) ([]float64, error) {
	notify := false
	delta := uint32(1)
	p.mu.Lock()
	if p.portMode != nil {
		notify = p.portMode.NotifyEnabled
		delta = p.portMode.UpdateDelta
	}
	p.mu.Unlock()
	if err := p.SetPortMode(mode, notify, delta); err != nil {
		return nil, err
	}

	reply, err := p.hub.Send(&PortInfoRequest{Port: p.port, InfoType: InfoPortValue})
	if err != nil {
		return nil, err
	}
	value, ok := reply.(*PortValueSingleMessage)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected reply %v to port value request", ErrProtocol, reply)
	}
	return p.decodePortData(value.Data), nil
}

func (p *BasePeripheral) sendOutput(subcmd byte, params []byte) error {
	_, err := p.hub.Send(&PortOutputCommand{
		Port:       p.port,
		SubCommand: subcmd,
		Params:     params,
		Buffered:   p.Buffered,
	})
	return err
}

func (p *BasePeripheral) writeDirectModeData(mode byte, data ...byte) error {
	return p.sendOutput(SubcmdWriteDirectModeData, append([]byte{mode}, data...))
}

// PortModeDescription names one mode of a port.
type PortModeDescription struct {
	Mode   byte
	Name   string
	Symbol string
}

// PortModes summarizes the capabilities of a port, assembled from a series
// of synchronous information queries. Intended for diagnostics.
type PortModes struct {
	TotalModes     byte
	CanInput       bool
	CanOutput      bool
	Combinable     bool
	Synchronizable bool
	InputModes     []PortModeDescription
	OutputModes    []PortModeDescription
	Combinations   []uint16
}

// DescribeModes interrogates the port for its mode listing and the name and
// symbol of every advertised mode.
func (p *BasePeripheral) DescribeModes() (*PortModes, error) {
	reply, err := p.hub.Send(&PortInfoRequest{Port: p.port, InfoType: InfoModeInfo})
	if err != nil {
		return nil, err
	}
	info, ok := reply.(*PortInfoMessage)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected reply %v to mode info request", ErrProtocol, reply)
	}

	modes := &PortModes{
		TotalModes:     info.TotalModes,
		CanInput:       info.IsInput(),
		CanOutput:      info.IsOutput(),
		Combinable:     info.IsCombinable(),
		Synchronizable: info.IsSynchronizable(),
	}

	if info.IsCombinable() {
		reply, err = p.hub.Send(&PortInfoRequest{Port: p.port, InfoType: InfoModeCombinations})
		if err != nil {
			return nil, err
		}
		if combos, ok := reply.(*PortInfoMessage); ok {
			modes.Combinations = combos.ModeCombinations
		}
	}

	for _, mode := range ListedModes(info.InputModes) {
		modes.InputModes = append(modes.InputModes, p.describeMode(mode))
	}
	for _, mode := range ListedModes(info.OutputModes) {
		modes.OutputModes = append(modes.OutputModes, p.describeMode(mode))
	}
	return modes, nil
}

func (p *BasePeripheral) describeMode(mode byte) PortModeDescription {
	descr := PortModeDescription{Mode: mode}
	if reply, err := p.hub.Send(&PortModeInfoRequest{Port: p.port, Mode: mode, InfoType: ModeInfoName}); err == nil {
		if info, ok := reply.(*PortModeInfoMessage); ok {
			descr.Name = info.Text()
		}
	} else {
		periphLog.Debugf("Got error while requesting name of mode 0x%02x: %v", mode, err)
		return descr
	}
	if reply, err := p.hub.Send(&PortModeInfoRequest{Port: p.port, Mode: mode, InfoType: ModeInfoSymbol}); err == nil {
		if info, ok := reply.(*PortModeInfoMessage); ok {
			descr.Symbol = info.Text()
		}
	}
	return descr
}

// LEDRGB modes.
const (
	LEDModeIndex byte = 0x00
	LEDModeRGB   byte = 0x01
)

// LEDRGB is the hub's indicator light.
type LEDRGB struct {
	*BasePeripheral
}

func newLEDRGBPeripheral(hub *Hub, port byte, ioType uint16) Peripheral {
	return &LEDRGB{BasePeripheral: newBasePeripheral(hub, port, ioType)}
}

// SetColor sets the light to one of the indexed colors.
func (l *LEDRGB) SetColor(color byte) error {
	if color == ColorNone {
		color = ColorBlack
	}
	if _, ok := colorNames[color]; !ok {
		return fmt.Errorf("legohub: color 0x%02x is not in the list of available colors", color)
	}
	if err := l.SetPortMode(LEDModeIndex, false, 1); err != nil {
		return err
	}
	return l.writeDirectModeData(LEDModeIndex, color)
}

// SetColorRGB sets the light to an arbitrary RGB value.
func (l *LEDRGB) SetColorRGB(r, g, b byte) error {
	if err := l.SetPortMode(LEDModeRGB, false, 1); err != nil {
		return err
	}
	return l.writeDirectModeData(LEDModeRGB, r, g, b)
}

// Motor output subcommands and end states.
const (
	SubcmdStartPower        byte = 0x01
	SubcmdSetAccTime        byte = 0x05
	SubcmdSetDecTime        byte = 0x06
	SubcmdStartSpeed        byte = 0x07
	SubcmdStartSpeedForTime byte = 0x09

	EndStateBrake byte = 127
	EndStateHold  byte = 126
	EndStateFloat byte = 0

	brakePower byte = 127
)

// Motor is a plain motor without rotation feedback. Speeds run from -1.0 to
// 1.0; MaxPower, EndState and UseProfile shape every movement command and
// can be adjusted before issuing one.
type Motor struct {
	*BasePeripheral

	MaxPower   float64
	EndState   byte
	UseProfile byte
}

func newMotor(hub *Hub, port byte, ioType uint16) *Motor {
	return &Motor{
		BasePeripheral: newBasePeripheral(hub, port, ioType),
		MaxPower:       1.0,
		EndState:       EndStateBrake,
		UseProfile:     0b11,
	}
}

func newMotorPeripheral(hub *Hub, port byte, ioType uint16) Peripheral {
	return newMotor(hub, port, ioType)
}

// speedAbs scales a relative speed into the wire range of -100..100.
func speedAbs(relative float64) int8 {
	if relative < -1 {
		periphLog.Warn("Speed cannot be less than -1")
		relative = -1
	}
	if relative > 1 {
		periphLog.Warn("Speed cannot be more than 1")
		relative = 1
	}
	return int8(math.Ceil(relative * 100))
}

func (m *Motor) isVirtual() bool {
	_, _, virtual := m.VirtualPorts()
	return virtual
}

// Subcommand numbers shift by one for virtual port pairs.
func (m *Motor) subcommand(subcmd byte) byte {
	if m.isVirtual() {
		return subcmd + 1
	}
	return subcmd
}

func (m *Motor) writeDirect(subcmd byte, params []byte) error {
	return m.sendOutput(SubcmdWriteDirectModeData, append([]byte{m.subcommand(subcmd)}, params...))
}

func (m *Motor) sendCommand(subcmd byte, params []byte) error {
	return m.sendOutput(m.subcommand(subcmd), params)
}

func (m *Motor) speedParams(primary, secondary float64) []byte {
	params := []byte{byte(speedAbs(primary))}
	if m.isVirtual() {
		params = append(params, byte(speedAbs(secondary)))
	}
	return params
}

// StartPower drives the motor at a raw power level with no regulation.
func (m *Motor) StartPower(speed float64) error {
	return m.StartPowerPair(speed, speed)
}

// StartPowerPair drives the two motors of a virtual pair at separate power
// levels.
func (m *Motor) StartPowerPair(primary, secondary float64) error {
	return m.writeDirect(SubcmdStartPower, m.speedParams(primary, secondary))
}

// Brake actively brakes the motor.
func (m *Motor) Brake() error {
	params := []byte{brakePower}
	if m.isVirtual() {
		params = append(params, brakePower)
	}
	return m.writeDirect(SubcmdStartPower, params)
}

// StartSpeed runs the motor at a regulated speed until told otherwise.
func (m *Motor) StartSpeed(speed float64) error {
	return m.StartSpeedPair(speed, speed)
}

// StartSpeedPair runs the two motors of a virtual pair at separate speeds.
func (m *Motor) StartSpeedPair(primary, secondary float64) error {
	params := m.speedParams(primary, secondary)
	params = append(params, byte(int(100*m.MaxPower)), m.UseProfile)
	return m.sendCommand(SubcmdStartSpeed, params)
}

// Stop lets the motor spin down.
func (m *Motor) Stop() error {
	return m.StartSpeed(0)
}

// Timed runs the motor for a fixed duration.
func (m *Motor) Timed(d time.Duration, speed float64) error {
	return m.TimedPair(d, speed, speed)
}

// TimedPair runs the two motors of a virtual pair for a fixed duration.
func (m *Motor) TimedPair(d time.Duration, primary, secondary float64) error {
	params := make([]byte, 2)
	binary.LittleEndian.PutUint16(params, uint16(d.Milliseconds()))
	params = append(params, m.speedParams(primary, secondary)...)
	params = append(params, byte(int(100*m.MaxPower)), m.EndState, m.UseProfile)
	return m.sendCommand(SubcmdStartSpeedForTime, params)
}

// SetAccProfile sets how long the motor takes to ramp up to full speed.
func (m *Motor) SetAccProfile(d time.Duration, profileNo byte) error {
	params := make([]byte, 2)
	binary.LittleEndian.PutUint16(params, uint16(d.Milliseconds()))
	return m.sendCommand(SubcmdSetAccTime, append(params, profileNo))
}

// SetDecProfile sets how long the motor takes to ramp down to a stop.
func (m *Motor) SetDecProfile(d time.Duration, profileNo byte) error {
	params := make([]byte, 2)
	binary.LittleEndian.PutUint16(params, uint16(d.Milliseconds()))
	return m.sendCommand(SubcmdSetDecTime, append(params, profileNo))
}

// Encoded motor subcommands and sensor modes.
const (
	SubcmdStartSpeedForDegrees byte = 0x0B
	SubcmdGotoAbsolutePosition byte = 0x0D
	SubcmdPresetEncoder        byte = 0x14

	MotorSensorPower byte = 0x00
	MotorSensorSpeed byte = 0x01
	MotorSensorAngle byte = 0x02
)

// EncodedMotor is a motor with rotation feedback, supporting angle-bounded
// movements and position targeting.
type EncodedMotor struct {
	*Motor
}

func newEncodedMotorPeripheral(hub *Hub, port byte, ioType uint16) Peripheral {
	em := &EncodedMotor{Motor: newMotor(hub, port, ioType)}
	em.decoder = em.decodePortValues
	return em
}

// Angled turns the motor by the given number of degrees; negative degrees
// reverse the direction.
func (em *EncodedMotor) Angled(degrees int, speed float64) error {
	return em.AngledPair(degrees, speed, speed)
}

// AngledPair turns the two motors of a virtual pair by the given number of
// degrees at separate speeds.
func (em *EncodedMotor) AngledPair(degrees int, primary, secondary float64) error {
	if degrees < 0 {
		degrees = -degrees
		primary = -primary
		secondary = -secondary
	}
	params := make([]byte, 4)
	binary.LittleEndian.PutUint32(params, uint32(degrees))
	params = append(params, em.speedParams(primary, secondary)...)
	params = append(params, byte(int(100*em.MaxPower)), em.EndState, em.UseProfile)
	return em.sendCommand(SubcmdStartSpeedForDegrees, params)
}

// GotoPosition turns the motor to an absolute encoder position.
func (em *EncodedMotor) GotoPosition(degrees int32, speed float64) error {
	return em.GotoPositionPair(degrees, degrees, speed)
}

// GotoPositionPair turns the two motors of a virtual pair to separate
// absolute positions.
func (em *EncodedMotor) GotoPositionPair(primary, secondary int32, speed float64) error {
	params := make([]byte, 4)
	binary.LittleEndian.PutUint32(params, uint32(primary))
	if em.isVirtual() {
		second := make([]byte, 4)
		binary.LittleEndian.PutUint32(second, uint32(secondary))
		params = append(params, second...)
	}
	params = append(params, byte(speedAbs(speed)), em.EndState, byte(int(100*em.MaxPower)), em.UseProfile)
	return em.sendCommand(SubcmdGotoAbsolutePosition, params)
}

// PresetEncoder redefines the current position as the given degree value.
func (em *EncodedMotor) PresetEncoder(degrees int32) error {
	if em.isVirtual() {
		params := make([]byte, 8)
		binary.LittleEndian.PutUint32(params, uint32(degrees))
		binary.LittleEndian.PutUint32(params[4:], uint32(degrees))
		return em.sendCommand(SubcmdPresetEncoder, params)
	}
	params := make([]byte, 4)
	binary.LittleEndian.PutUint32(params, uint32(degrees))
	return em.writeDirect(MotorSensorAngle, params)
}

func (em *EncodedMotor) decodePortValues(mode byte, data []byte) []float64 {
	switch mode {
	case MotorSensorAngle:
		if len(data) < 4 {
			return nil
		}
		return []float64{float64(int32(binary.LittleEndian.Uint32(data)))}
	case MotorSensorSpeed:
		if len(data) < 1 {
			return nil
		}
		return []float64{float64(int8(data[0]))}
	default:
		periphLog.Debugf("Got motor sensor data while in unexpected mode 0x%02x", mode)
		return nil
	}
}

// SubscribeAngle reports encoder positions with the given granularity.
func (em *EncodedMotor) SubscribeAngle(cb SensorCallback, granularity uint32) error {
	return em.Subscribe(cb, MotorSensorAngle, granularity)
}

// Tilt sensor modes and orientation states.
const (
	TiltMode2AxisAngle  byte = 0x00
	TiltMode2AxisSimple byte = 0x01
	TiltMode3AxisSimple byte = 0x02
	TiltModeImpactCount byte = 0x03
	TiltMode3AxisAccel  byte = 0x04
	TiltModeOrientCF    byte = 0x05
	TiltModeImpactCF    byte = 0x06
	TiltModeCalibration byte = 0x07

	TiltBack  byte = 0x00
	TiltUp    byte = 0x01
	TiltDown  byte = 0x02
	TiltLeft  byte = 0x03
	TiltRight byte = 0x04
	TiltFront byte = 0x05
)

// TiltStateName names a three-axis simple orientation state.
var TiltStateName = map[byte]string{
	TiltBack:  "BACK",
	TiltUp:    "UP",
	TiltDown:  "DOWN",
	TiltLeft:  "LEFT",
	TiltRight: "RIGHT",
	TiltFront: "FRONT",
}

// TiltSensor reports hub orientation, acceleration and impacts.
type TiltSensor struct {
	*BasePeripheral
}

func newTiltSensorPeripheral(hub *Hub, port byte, ioType uint16) Peripheral {
	t := &TiltSensor{BasePeripheral: newBasePeripheral(hub, port, ioType)}
	t.decoder = t.decodePortValues
	return t
}

func (t *TiltSensor) decodePortValues(mode byte, data []byte) []float64 {
	switch mode {
	case TiltMode2AxisAngle:
		if len(data) < 2 {
			return nil
		}
		return []float64{float64(int8(data[0])), float64(int8(data[1]))}
	case TiltMode2AxisSimple, TiltMode3AxisSimple, TiltModeOrientCF, TiltModeImpactCF:
		if len(data) < 1 {
			return nil
		}
		return []float64{float64(data[0])}
	case TiltModeImpactCount:
		if len(data) < 4 {
			return nil
		}
		return []float64{float64(binary.LittleEndian.Uint32(data))}
	case TiltMode3AxisAccel:
		if len(data) < 3 {
			return nil
		}
		return []float64{float64(int8(data[0])), float64(int8(data[1])), float64(int8(data[2]))}
	case TiltModeCalibration:
		if len(data) < 3 {
			return nil
		}
		return []float64{float64(data[0]), float64(data[1]), float64(data[2])}
	default:
		periphLog.Debugf("Got tilt sensor data while in unexpected mode 0x%02x", mode)
		return nil
	}
}

// Vision sensor modes.
const (
	VisionColorIndex         byte = 0x00
	VisionDistanceInches     byte = 0x01
	VisionCount2Inch         byte = 0x02
	VisionDistanceReflected  byte = 0x03
	VisionAmbientLight       byte = 0x04
	VisionSetColor           byte = 0x05
	VisionColorRGB           byte = 0x06
	VisionSetIRTx            byte = 0x07
	VisionColorDistanceFloat byte = 0x08
)

// VisionSensor is the combined color and distance sensor.
type VisionSensor struct {
	*BasePeripheral
}

func newVisionSensorPeripheral(hub *Hub, port byte, ioType uint16) Peripheral {
	v := &VisionSensor{BasePeripheral: newBasePeripheral(hub, port, ioType)}
	v.decoder = v.decodePortValues
	return v
}

func (v *VisionSensor) decodePortValues(mode byte, data []byte) []float64 {
	switch mode {
	case VisionColorIndex, VisionDistanceInches:
		if len(data) < 1 {
			return nil
		}
		return []float64{float64(data[0])}
	case VisionColorDistanceFloat:
		if len(data) < 4 {
			return nil
		}
		distance := float64(data[1])
		if partial := data[3]; partial != 0 {
			distance += 1.0 / float64(partial)
		}
		return []float64{float64(data[0]), distance}
	case VisionDistanceReflected, VisionAmbientLight:
		if len(data) < 1 {
			return nil
		}
		return []float64{float64(data[0]) / 100.0}
	case VisionCount2Inch:
		if len(data) < 4 {
			return nil
		}
		return []float64{float64(binary.LittleEndian.Uint32(data))}
	case VisionColorRGB:
		if len(data) < 6 {
			return nil
		}
		return []float64{
			math.Floor(255 * float64(binary.LittleEndian.Uint16(data)) / 1023.0),
			math.Floor(255 * float64(binary.LittleEndian.Uint16(data[2:])) / 1023.0),
			math.Floor(255 * float64(binary.LittleEndian.Uint16(data[4:])) / 1023.0),
		}
	default:
		periphLog.Debugf("Unhandled vision data in mode 0x%02x: %s", mode, hexStr(data))
		return nil
	}
}

// SetColor makes the sensor's own LED glow in an indexed color.
func (v *VisionSensor) SetColor(color byte) error {
	if color == ColorNone {
		color = ColorBlack
	}
	if _, ok := colorNames[color]; !ok {
		return fmt.Errorf("legohub: color 0x%02x is not in the list of available colors", color)
	}
	if err := v.SetPortMode(VisionSetColor, false, 1); err != nil {
		return err
	}
	return v.writeDirectModeData(VisionSetColor, color)
}

// SetIRTx sets the infrared transmitter output level, 0.0 to 1.0.
func (v *VisionSensor) SetIRTx(level float64) error {
	if level < 0 || level > 1 {
		return fmt.Errorf("legohub: IR level %v out of range 0..1", level)
	}
	if err := v.SetPortMode(VisionSetIRTx, false, 1); err != nil {
		return err
	}
	raw := make([]byte, 2)
	binary.LittleEndian.PutUint16(raw, uint16(level*65535))
	return v.writeDirectModeData(VisionSetIRTx, raw...)
}

// Voltage reads the hub battery voltage. Conversion constants match the
// hub's ADC scaling.
type Voltage struct {
	*BasePeripheral
}

func newVoltagePeripheral(hub *Hub, port byte, ioType uint16) Peripheral {
	v := &Voltage{BasePeripheral: newBasePeripheral(hub, port, ioType)}
	v.decoder = v.decodePortValues
	return v
}

func (v *Voltage) decodePortValues(mode byte, data []byte) []float64 {
	if len(data) < 2 {
		return nil
	}
	raw := float64(binary.LittleEndian.Uint16(data))
	return []float64{9600.0 * raw / 3893.0 / 1000.0}
}

// Current reads the hub current draw in milliamperes.
type Current struct {
	*BasePeripheral
}

func newCurrentPeripheral(hub *Hub, port byte, ioType uint16) Peripheral {
	c := &Current{BasePeripheral: newBasePeripheral(hub, port, ioType)}
	c.decoder = c.decodePortValues
	return c
}

func (c *Current) decodePortValues(mode byte, data []byte) []float64 {
	if len(data) < 2 {
		return nil
	}
	raw := float64(binary.LittleEndian.Uint16(data))
	return []float64{2444.0 * raw / 4095.0}
}

// Button is the hub's own push button. It is not a real port peripheral;
// state arrives through hub property updates, so it listens on the hub's
// handler table instead of a port.
type Button struct {
	*BasePeripheral
}

// NewButton wires a button pseudo-peripheral to the hub's property
// notifications.
func NewButton(hub *Hub) *Button {
	b := &Button{BasePeripheral: newBasePeripheral(hub, 0x00, DevButton)}
	hub.AddMessageHandler(MsgTypeHubProperties, b.handleProperties)
	return b
}

// Subscribe registers a callback for button state changes; values are 1 for
// pressed and 0 for released.
func (b *Button) Subscribe(cb SensorCallback) error {
	_, err := b.hub.Send(&HubPropertiesRequest{Property: HubPropertyButton, Operation: PropOpEnableUpdates})
	if err != nil {
		return err
	}
	if cb != nil {
		b.mu.Lock()
		b.subscribers = append(b.subscribers, cb)
		b.mu.Unlock()
	}
	return nil
}

// Unsubscribe drops all subscribers and turns button updates off.
func (b *Button) Unsubscribe() error {
	b.mu.Lock()
	b.subscribers = nil
	b.mu.Unlock()
	_, err := b.hub.Send(&HubPropertiesRequest{Property: HubPropertyButton, Operation: PropOpDisableUpdates})
	return err
}

func (b *Button) handleProperties(msg UpstreamMessage) {
	props, ok := msg.(*HubPropertiesUpdate)
	if !ok || props.Property != HubPropertyButton || props.Operation != PropOpUpdate {
		return
	}
	if len(props.Params) < 1 {
		return
	}
	b.notifySubscribers(float64(props.Params[0]))
}
