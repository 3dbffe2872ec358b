package legohub

import (
	"encoding/binary"
	"fmt"
)

// Message types of the LEGO Wireless Protocol 3.0. The type byte sits at a
// fixed offset in the frame header and selects the upstream decoder.
const (
	MsgTypeHubProperties       byte = 0x01
	MsgTypeHubAction           byte = 0x02
	MsgTypeHubAlert            byte = 0x03
	MsgTypeHubAttachedIO       byte = 0x04
	MsgTypeGenericError        byte = 0x05
	MsgTypePortInfoRequest     byte = 0x21
	MsgTypePortModeInfoRequest byte = 0x22
	MsgTypePortInputFmtSetup   byte = 0x41
	MsgTypePortInfo            byte = 0x43
	MsgTypePortModeInfo        byte = 0x44
	MsgTypePortValueSingle     byte = 0x45
	MsgTypePortValueCombined   byte = 0x46
	MsgTypePortInputFmt        byte = 0x47
	MsgTypeVirtualPortSetup    byte = 0x61
	MsgTypePortOutput          byte = 0x81
	MsgTypePortOutputFeedback  byte = 0x82
)

// Hub property references.
const (
	HubPropertyAdvertiseName byte = 0x01
	HubPropertyButton        byte = 0x02
	HubPropertyFWVersion     byte = 0x03
	HubPropertyHWVersion     byte = 0x04
	HubPropertyRSSI          byte = 0x05
	HubPropertyVoltagePerc   byte = 0x06
	HubPropertyBatteryType   byte = 0x07
	HubPropertyPrimaryMAC    byte = 0x0D
)

// Hub property operations.
const (
	PropOpSet            byte = 0x01
	PropOpEnableUpdates  byte = 0x02
	PropOpDisableUpdates byte = 0x03
	PropOpReset          byte = 0x04
	PropOpRequestUpdate  byte = 0x05
	PropOpUpdate         byte = 0x06
)

// Hub actions. Values 0x30 and up are only ever sent by the hub.
const (
	HubActionSwitchOff          byte = 0x01
	HubActionDisconnect         byte = 0x02
	HubActionVCCPortControlOn   byte = 0x03
	HubActionVCCPortControlOff  byte = 0x04
	HubActionActivateBusy       byte = 0x05
	HubActionResetBusy          byte = 0x06
	HubActionUpstreamShutdown   byte = 0x30
	HubActionUpstreamDisconnect byte = 0x31
	HubActionUpstreamBootMode   byte = 0x32
)

// Hub alert types and operations.
const (
	AlertLowVoltage  byte = 0x01
	AlertHighCurrent byte = 0x02
	AlertLowSignal   byte = 0x03
	AlertOverPower   byte = 0x04

	AlertOpEnableUpdates  byte = 0x01
	AlertOpDisableUpdates byte = 0x02
	AlertOpRequestUpdate  byte = 0x03
	AlertOpUpdate         byte = 0x04
)

// Attached I/O events.
const (
	IOEventDetached        byte = 0x00
	IOEventAttached        byte = 0x01
	IOEventAttachedVirtual byte = 0x02
)

// Port information request types.
const (
	InfoPortValue        byte = 0x00
	InfoModeInfo         byte = 0x01
	InfoModeCombinations byte = 0x02
)

// Port mode information types.
const (
	ModeInfoName        byte = 0x00
	ModeInfoRaw         byte = 0x01
	ModeInfoPct         byte = 0x02
	ModeInfoSI          byte = 0x03
	ModeInfoSymbol      byte = 0x04
	ModeInfoMapping     byte = 0x05
	ModeInfoMotorBias   byte = 0x07
	ModeInfoCapability  byte = 0x08
	ModeInfoValueFormat byte = 0x80
)

// Port output subcommands shared by all output-capable peripherals.
const (
	SubcmdWriteDirect         byte = 0x50
	SubcmdWriteDirectModeData byte = 0x51
)

// DownstreamMessage is an outbound command. Implementations are immutable
// once constructed.
type DownstreamMessage interface {
	Type() byte
	// NeedsReply reports whether the hub answers this command with a
	// correlated upstream message.
	NeedsReply() bool
	Payload() []byte
}

// UpstreamMessage is a decoded inbound notification.
type UpstreamMessage interface {
	Type() byte
	// IsReplyTo reports whether this message completes the given pending
	// synchronous request.
	IsReplyTo(req DownstreamMessage) bool
}

// EncodeMessage frames a downstream message for the wire: length prefix,
// hub ID 0x00, type byte, payload. Lengths above 127 take a two-byte prefix
// with the high bit of the first byte set.
func EncodeMessage(m DownstreamMessage) []byte {
	payload := m.Payload()
	n := len(payload) + 3
	if n <= 127 {
		buf := make([]byte, 0, n)
		buf = append(buf, byte(n), 0x00, m.Type())
		return append(buf, payload...)
	}
	n = len(payload) + 4
	buf := make([]byte, 0, n)
	buf = append(buf, byte(n&0x7F)|0x80, byte(n>>7), 0x00, m.Type())
	return append(buf, payload...)
}

type upstreamDecoder func(payload []byte) (UpstreamMessage, error)

var upstreamDecoders = map[byte]upstreamDecoder{
	MsgTypeHubProperties:      decodeHubProperties,
	MsgTypeHubAction:          decodeHubAction,
	MsgTypeHubAlert:           decodeHubAlert,
	MsgTypeHubAttachedIO:      decodeAttachedIO,
	MsgTypeGenericError:       decodeGenericError,
	MsgTypePortInfo:           decodePortInfo,
	MsgTypePortModeInfo:       decodePortModeInfo,
	MsgTypePortValueSingle:    decodePortValueSingle,
	MsgTypePortValueCombined:  decodePortValueCombined,
	MsgTypePortInputFmt:       decodePortInputFormat,
	MsgTypePortOutputFeedback: decodePortOutputFeedback,
}

// DecodeUpstream parses a raw notification frame into its typed message.
// An unrecognized type byte is a protocol violation: the wire framing is
// indeterminate from that point on, so the caller must treat it as fatal
// for the connection.
func DecodeUpstream(frame []byte) (UpstreamMessage, error) {
	if len(frame) < 3 {
		return nil, fmt.Errorf("%w: frame too short: %s", ErrProtocol, hexStr(frame))
	}
	headerLen := 3
	if frame[0]&0x80 != 0 {
		headerLen = 4
	}
	if len(frame) < headerLen {
		return nil, fmt.Errorf("%w: truncated header: %s", ErrProtocol, hexStr(frame))
	}
	msgType := frame[headerLen-1]
	dec, ok := upstreamDecoders[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown message type 0x%02x in %s", ErrProtocol, msgType, hexStr(frame))
	}
	return dec(frame[headerLen:])
}

func shortPayload(msgType byte, payload []byte) error {
	return fmt.Errorf("%w: short payload for type 0x%02x: %s", ErrProtocol, msgType, hexStr(payload))
}

// HubPropertiesRequest queries or configures a hub property, such as the
// advertised name or the battery voltage percentage.
type HubPropertiesRequest struct {
	Property  byte
	Operation byte
	Params    []byte
}

func (m *HubPropertiesRequest) Type() byte       { return MsgTypeHubProperties }
func (m *HubPropertiesRequest) NeedsReply() bool { return m.Operation == PropOpRequestUpdate }

func (m *HubPropertiesRequest) Payload() []byte {
	return append([]byte{m.Property, m.Operation}, m.Params...)
}

func (m *HubPropertiesRequest) String() string {
	return fmt.Sprintf("HubPropertiesRequest(prop=0x%02x, op=0x%02x)", m.Property, m.Operation)
}

// HubPropertiesUpdate is the hub-side report of a property value.
type HubPropertiesUpdate struct {
	Property  byte
	Operation byte
	Params    []byte
}

func decodeHubProperties(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 2 {
		return nil, shortPayload(MsgTypeHubProperties, payload)
	}
	return &HubPropertiesUpdate{Property: payload[0], Operation: payload[1], Params: payload[2:]}, nil
}

func (m *HubPropertiesUpdate) Type() byte { return MsgTypeHubProperties }

func (m *HubPropertiesUpdate) IsReplyTo(req DownstreamMessage) bool {
	r, ok := req.(*HubPropertiesRequest)
	return ok && r.Property == m.Property && m.Operation == PropOpUpdate
}

func (m *HubPropertiesUpdate) String() string {
	return fmt.Sprintf("HubPropertiesUpdate(prop=0x%02x, params=%s)", m.Property, hexStr(m.Params))
}

// HubActionRequest asks the hub to perform a hub-level action, e.g. drop
// the connection or power down.
type HubActionRequest struct {
	Action byte
}

func (m *HubActionRequest) Type() byte       { return MsgTypeHubAction }
func (m *HubActionRequest) Payload() []byte  { return []byte{m.Action} }

func (m *HubActionRequest) NeedsReply() bool {
	return m.Action == HubActionDisconnect || m.Action == HubActionSwitchOff
}

// HubActionNotification reports a hub-initiated action, e.g. an imminent
// disconnect or shutdown.
type HubActionNotification struct {
	Action byte
}

func decodeHubAction(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 1 {
		return nil, shortPayload(MsgTypeHubAction, payload)
	}
	return &HubActionNotification{Action: payload[0]}, nil
}

func (m *HubActionNotification) Type() byte { return MsgTypeHubAction }

func (m *HubActionNotification) IsReplyTo(req DownstreamMessage) bool {
	r, ok := req.(*HubActionRequest)
	if !ok {
		return false
	}
	switch r.Action {
	case HubActionDisconnect:
		return m.Action == HubActionUpstreamDisconnect
	case HubActionSwitchOff:
		return m.Action == HubActionUpstreamShutdown
	}
	return false
}

// HubAlertRequest queries or configures a hub alert, e.g. the low-voltage
// warning.
type HubAlertRequest struct {
	Alert     byte
	Operation byte
}

func (m *HubAlertRequest) Type() byte       { return MsgTypeHubAlert }
func (m *HubAlertRequest) NeedsReply() bool { return m.Operation == AlertOpRequestUpdate }
func (m *HubAlertRequest) Payload() []byte  { return []byte{m.Alert, m.Operation} }

// HubAlertUpdate is the hub-side report of an alert status.
type HubAlertUpdate struct {
	Alert     byte
	Operation byte
	Status    byte
}

func decodeHubAlert(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 3 {
		return nil, shortPayload(MsgTypeHubAlert, payload)
	}
	return &HubAlertUpdate{Alert: payload[0], Operation: payload[1], Status: payload[2]}, nil
}

func (m *HubAlertUpdate) Type() byte { return MsgTypeHubAlert }

// IsOK reports whether the alert condition is clear.
func (m *HubAlertUpdate) IsOK() bool { return m.Status == 0x00 }

func (m *HubAlertUpdate) IsReplyTo(req DownstreamMessage) bool {
	r, ok := req.(*HubAlertRequest)
	return ok && r.Alert == m.Alert && m.Operation == AlertOpUpdate
}

// AttachedIOMessage reports that a peripheral appeared on or vanished from
// a port. Virtual attachments name the two physical ports being merged.
type AttachedIOMessage struct {
	Port   byte
	Event  byte
	IOType uint16
	PortA  byte // virtual attach only
	PortB  byte // virtual attach only
	HWRev  uint32
	SWRev  uint32
}

func decodeAttachedIO(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 2 {
		return nil, shortPayload(MsgTypeHubAttachedIO, payload)
	}
	m := &AttachedIOMessage{Port: payload[0], Event: payload[1]}
	rest := payload[2:]
	switch m.Event {
	case IOEventDetached:
	case IOEventAttached:
		if len(rest) < 10 {
			return nil, shortPayload(MsgTypeHubAttachedIO, payload)
		}
		m.IOType = binary.LittleEndian.Uint16(rest)
		m.HWRev = binary.LittleEndian.Uint32(rest[2:])
		m.SWRev = binary.LittleEndian.Uint32(rest[6:])
	case IOEventAttachedVirtual:
		if len(rest) < 4 {
			return nil, shortPayload(MsgTypeHubAttachedIO, payload)
		}
		m.IOType = binary.LittleEndian.Uint16(rest)
		m.PortA = rest[2]
		m.PortB = rest[3]
	default:
		return nil, fmt.Errorf("%w: unknown attached I/O event 0x%02x", ErrProtocol, m.Event)
	}
	return m, nil
}

func (m *AttachedIOMessage) Type() byte                          { return MsgTypeHubAttachedIO }
func (m *AttachedIOMessage) IsReplyTo(req DownstreamMessage) bool { return false }

func (m *AttachedIOMessage) String() string {
	switch m.Event {
	case IOEventDetached:
		return fmt.Sprintf("AttachedIO(port=0x%02x, detached)", m.Port)
	case IOEventAttachedVirtual:
		return fmt.Sprintf("AttachedIO(port=0x%02x, type=0x%04x, virtual of 0x%02x+0x%02x)",
			m.Port, m.IOType, m.PortA, m.PortB)
	}
	return fmt.Sprintf("AttachedIO(port=0x%02x, type=0x%04x)", m.Port, m.IOType)
}

// Generic error codes reported by the hub.
const (
	ErrCodeACK              byte = 0x01
	ErrCodeMACK             byte = 0x02
	ErrCodeBufferOverflow   byte = 0x03
	ErrCodeTimeout          byte = 0x04
	ErrCodeNotRecognized    byte = 0x05
	ErrCodeInvalidUse       byte = 0x06
	ErrCodeOvercurrent      byte = 0x07
	ErrCodeInternalError    byte = 0x08
)

var errCodeNames = map[byte]string{
	ErrCodeACK:            "ACK",
	ErrCodeMACK:           "MACK",
	ErrCodeBufferOverflow: "buffer overflow",
	ErrCodeTimeout:        "timeout",
	ErrCodeNotRecognized:  "command not recognized",
	ErrCodeInvalidUse:     "invalid use",
	ErrCodeOvercurrent:    "overcurrent",
	ErrCodeInternalError:  "internal error",
}

// GenericErrorMessage is the hub's report that a command failed. It matches
// any pending synchronous request.
type GenericErrorMessage struct {
	Command byte
	Code    byte
}

func decodeGenericError(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 2 {
		return nil, shortPayload(MsgTypeGenericError, payload)
	}
	return &GenericErrorMessage{Command: payload[0], Code: payload[1]}, nil
}

func (m *GenericErrorMessage) Type() byte                          { return MsgTypeGenericError }
func (m *GenericErrorMessage) IsReplyTo(req DownstreamMessage) bool { return true }

// Message renders the device-reported error text.
func (m *GenericErrorMessage) Message() string {
	name, ok := errCodeNames[m.Code]
	if !ok {
		name = fmt.Sprintf("error 0x%02x", m.Code)
	}
	return fmt.Sprintf("%s for command 0x%02x", name, m.Command)
}

// PortInfoRequest asks for information about a port: its current value, its
// mode listing, or its possible mode combinations.
type PortInfoRequest struct {
	Port     byte
	InfoType byte
}

func (m *PortInfoRequest) Type() byte       { return MsgTypePortInfoRequest }
func (m *PortInfoRequest) NeedsReply() bool { return true }
func (m *PortInfoRequest) Payload() []byte  { return []byte{m.Port, m.InfoType} }

// PortModeInfoRequest asks for one aspect of one mode of a port.
type PortModeInfoRequest struct {
	Port     byte
	Mode     byte
	InfoType byte
}

func (m *PortModeInfoRequest) Type() byte       { return MsgTypePortModeInfoRequest }
func (m *PortModeInfoRequest) NeedsReply() bool { return true }
func (m *PortModeInfoRequest) Payload() []byte  { return []byte{m.Port, m.Mode, m.InfoType} }

// Port capability bits carried by PortInfoMessage.
const (
	PortCapOutput         byte = 0x01
	PortCapInput          byte = 0x02
	PortCapCombinable     byte = 0x04
	PortCapSynchronizable byte = 0x08
)

// PortInfoMessage answers a PortInfoRequest for mode info or mode
// combinations.
type PortInfoMessage struct {
	Port             byte
	InfoType         byte
	Capabilities     byte
	TotalModes       byte
	InputModes       uint16
	OutputModes      uint16
	ModeCombinations []uint16
}

func decodePortInfo(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 2 {
		return nil, shortPayload(MsgTypePortInfo, payload)
	}
	m := &PortInfoMessage{Port: payload[0], InfoType: payload[1]}
	rest := payload[2:]
	switch m.InfoType {
	case InfoModeInfo:
		if len(rest) < 6 {
			return nil, shortPayload(MsgTypePortInfo, payload)
		}
		m.Capabilities = rest[0]
		m.TotalModes = rest[1]
		m.InputModes = binary.LittleEndian.Uint16(rest[2:])
		m.OutputModes = binary.LittleEndian.Uint16(rest[4:])
	case InfoModeCombinations:
		for i := 0; i+1 < len(rest); i += 2 {
			m.ModeCombinations = append(m.ModeCombinations, binary.LittleEndian.Uint16(rest[i:]))
		}
	}
	return m, nil
}

func (m *PortInfoMessage) Type() byte { return MsgTypePortInfo }

func (m *PortInfoMessage) IsReplyTo(req DownstreamMessage) bool {
	r, ok := req.(*PortInfoRequest)
	return ok && r.Port == m.Port && r.InfoType != InfoPortValue
}

func (m *PortInfoMessage) IsOutput() bool         { return m.Capabilities&PortCapOutput != 0 }
func (m *PortInfoMessage) IsInput() bool          { return m.Capabilities&PortCapInput != 0 }
func (m *PortInfoMessage) IsCombinable() bool     { return m.Capabilities&PortCapCombinable != 0 }
func (m *PortInfoMessage) IsSynchronizable() bool { return m.Capabilities&PortCapSynchronizable != 0 }

// ListedModes expands a mode bitmask into mode numbers.
func ListedModes(mask uint16) []byte {
	var modes []byte
	for i := byte(0); i < 16; i++ {
		if mask&(1<<i) != 0 {
			modes = append(modes, i)
		}
	}
	return modes
}

// PortModeInfoMessage answers a PortModeInfoRequest.
type PortModeInfoMessage struct {
	Port     byte
	Mode     byte
	InfoType byte
	Data     []byte
}

func decodePortModeInfo(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 3 {
		return nil, shortPayload(MsgTypePortModeInfo, payload)
	}
	return &PortModeInfoMessage{Port: payload[0], Mode: payload[1], InfoType: payload[2], Data: payload[3:]}, nil
}

func (m *PortModeInfoMessage) Type() byte { return MsgTypePortModeInfo }

func (m *PortModeInfoMessage) IsReplyTo(req DownstreamMessage) bool {
	r, ok := req.(*PortModeInfoRequest)
	return ok && r.Port == m.Port && r.Mode == m.Mode && r.InfoType == m.InfoType
}

// Text interprets the data bytes as a zero-padded ASCII string, the format
// of the name and symbol info types.
func (m *PortModeInfoMessage) Text() string {
	end := len(m.Data)
	for end > 0 && m.Data[end-1] == 0x00 {
		end--
	}
	return string(m.Data[:end])
}

// PortInputFormatSetupRequest switches a port into a sensor mode and
// configures value-update delivery.
type PortInputFormatSetupRequest struct {
	Port          byte
	Mode          byte
	UpdateDelta   uint32
	NotifyEnabled bool
}

func (m *PortInputFormatSetupRequest) Type() byte       { return MsgTypePortInputFmtSetup }
func (m *PortInputFormatSetupRequest) NeedsReply() bool { return true }

func (m *PortInputFormatSetupRequest) Payload() []byte {
	buf := make([]byte, 7)
	buf[0] = m.Port
	buf[1] = m.Mode
	binary.LittleEndian.PutUint32(buf[2:], m.UpdateDelta)
	buf[6] = boolByte(m.NotifyEnabled)
	return buf
}

// PortInputFormatMessage confirms the input format of a port after a setup
// request.
type PortInputFormatMessage struct {
	Port          byte
	Mode          byte
	UpdateDelta   uint32
	NotifyEnabled bool
}

func decodePortInputFormat(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 7 {
		return nil, shortPayload(MsgTypePortInputFmt, payload)
	}
	return &PortInputFormatMessage{
		Port:          payload[0],
		Mode:          payload[1],
		UpdateDelta:   binary.LittleEndian.Uint32(payload[2:]),
		NotifyEnabled: payload[6] != 0x00,
	}, nil
}

func (m *PortInputFormatMessage) Type() byte { return MsgTypePortInputFmt }

func (m *PortInputFormatMessage) IsReplyTo(req DownstreamMessage) bool {
	r, ok := req.(*PortInputFormatSetupRequest)
	return ok && r.Port == m.Port
}

// PortValueSingleMessage carries a sensor value notification for one port.
type PortValueSingleMessage struct {
	Port byte
	Data []byte
}

func decodePortValueSingle(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 1 {
		return nil, shortPayload(MsgTypePortValueSingle, payload)
	}
	return &PortValueSingleMessage{Port: payload[0], Data: payload[1:]}, nil
}

func (m *PortValueSingleMessage) Type() byte { return MsgTypePortValueSingle }

func (m *PortValueSingleMessage) IsReplyTo(req DownstreamMessage) bool {
	r, ok := req.(*PortInfoRequest)
	return ok && r.Port == m.Port && r.InfoType == InfoPortValue
}

// PortValueCombinedMessage carries a combined-mode sensor value
// notification for one port.
type PortValueCombinedMessage struct {
	Port byte
	Data []byte
}

func decodePortValueCombined(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 3 {
		return nil, shortPayload(MsgTypePortValueCombined, payload)
	}
	return &PortValueCombinedMessage{Port: payload[0], Data: payload[1:]}, nil
}

func (m *PortValueCombinedMessage) Type() byte                          { return MsgTypePortValueCombined }
func (m *PortValueCombinedMessage) IsReplyTo(req DownstreamMessage) bool { return false }

// VirtualPortSetupRequest merges two physical ports into a virtual one, or
// dissolves an existing virtual port. The hub confirms through an attached
// I/O notification, not a direct reply.
type VirtualPortSetupRequest struct {
	Disconnect bool
	Port       byte // dissolve only
	PortA      byte
	PortB      byte
}

func (m *VirtualPortSetupRequest) Type() byte       { return MsgTypeVirtualPortSetup }
func (m *VirtualPortSetupRequest) NeedsReply() bool { return false }

func (m *VirtualPortSetupRequest) Payload() []byte {
	if m.Disconnect {
		return []byte{0x00, m.Port}
	}
	return []byte{0x01, m.PortA, m.PortB}
}

// PortOutputCommand drives an output-capable peripheral. Unbuffered
// commands execute immediately; every command requests completion feedback.
type PortOutputCommand struct {
	Port       byte
	SubCommand byte
	Params     []byte
	Buffered   bool
}

func (m *PortOutputCommand) Type() byte       { return MsgTypePortOutput }
func (m *PortOutputCommand) NeedsReply() bool { return true }

func (m *PortOutputCommand) Payload() []byte {
	sc := byte(0x01) // request feedback
	if !m.Buffered {
		sc |= 0x10 // execute immediately
	}
	buf := append([]byte{m.Port, sc, m.SubCommand}, m.Params...)
	return buf
}

// Port output feedback bits.
const (
	FeedbackInProgress byte = 0x01
	FeedbackCompleted  byte = 0x02
	FeedbackDiscarded  byte = 0x04
	FeedbackIdle       byte = 0x08
	FeedbackBusyFull   byte = 0x10
)

// PortOutputFeedbackMessage acknowledges a port output command.
type PortOutputFeedbackMessage struct {
	Port   byte
	Status byte
}

func decodePortOutputFeedback(payload []byte) (UpstreamMessage, error) {
	if len(payload) < 2 {
		return nil, shortPayload(MsgTypePortOutputFeedback, payload)
	}
	return &PortOutputFeedbackMessage{Port: payload[0], Status: payload[1]}, nil
}

func (m *PortOutputFeedbackMessage) Type() byte { return MsgTypePortOutputFeedback }

func (m *PortOutputFeedbackMessage) IsReplyTo(req DownstreamMessage) bool {
	r, ok := req.(*PortOutputCommand)
	return ok && r.Port == m.Port
}
