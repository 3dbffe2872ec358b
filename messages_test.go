package legohub

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeShortFrame(t *testing.T) {
	data := EncodeMessage(&HubPropertiesRequest{Property: HubPropertyAdvertiseName, Operation: PropOpRequestUpdate})
	assert.Equal(t, []byte{0x05, 0x00, MsgTypeHubProperties, HubPropertyAdvertiseName, PropOpRequestUpdate}, data)
}

func TestEncodeLongFrame(t *testing.T) {
	name := bytes.Repeat([]byte{'x'}, 150)
	data := EncodeMessage(&HubPropertiesRequest{
		Property:  HubPropertyAdvertiseName,
		Operation: PropOpSet,
		Params:    name,
	})
	// 150 params, property and operation bytes, four header bytes. The low
	// seven bits of the length land in the first byte with the extension
	// bit set, the rest in the second.
	n := 156
	require.Len(t, data, n)
	assert.Equal(t, byte(n&0x7F)|0x80, data[0])
	assert.Equal(t, byte(n>>7), data[1])
	assert.Equal(t, byte(0x00), data[2])
	assert.Equal(t, MsgTypeHubProperties, data[3])
	assert.Equal(t, name, data[6:])
}

func TestDecodeLongHeader(t *testing.T) {
	payload := append([]byte{0x00}, bytes.Repeat([]byte{0xAB}, 140)...)
	frm := append([]byte{byte(145 & 0x7F) | 0x80, byte(145 >> 7), 0x00, MsgTypePortValueSingle}, payload...)
	msg, err := DecodeUpstream(frm)
	require.NoError(t, err)
	value, ok := msg.(*PortValueSingleMessage)
	require.True(t, ok)
	assert.Equal(t, byte(0x00), value.Port)
	assert.Len(t, value.Data, 140)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := DecodeUpstream([]byte{0x04, 0x00, 0xEE, 0x01})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeRejectsShortFrames(t *testing.T) {
	for _, frm := range [][]byte{nil, {0x01}, {0x02, 0x00}} {
		_, err := DecodeUpstream(frm)
		assert.ErrorIs(t, err, ErrProtocol)
	}
}

func TestDecodeRejectsShortPayloads(t *testing.T) {
	for _, frm := range [][]byte{
		frame(MsgTypeHubProperties, HubPropertyButton),
		frame(MsgTypeHubAction),
		frame(MsgTypeHubAlert, AlertLowVoltage, AlertOpUpdate),
		frame(MsgTypeHubAttachedIO, 0x00),
		frame(MsgTypeGenericError, 0x81),
		frame(MsgTypePortInputFmt, 0x00, 0x01, 0x01, 0x00, 0x00, 0x00),
		frame(MsgTypePortOutputFeedback, 0x00),
	} {
		_, err := DecodeUpstream(frm)
		assert.ErrorIs(t, err, ErrProtocol, "frame %v", frm)
	}
}

func TestPropertyUpdateCorrelation(t *testing.T) {
	msg, err := DecodeUpstream(frame(MsgTypeHubProperties, HubPropertyVoltagePerc, PropOpUpdate, 0x62))
	require.NoError(t, err)
	update := msg.(*HubPropertiesUpdate)
	assert.Equal(t, []byte{0x62}, update.Params)

	assert.True(t, update.IsReplyTo(&HubPropertiesRequest{Property: HubPropertyVoltagePerc, Operation: PropOpRequestUpdate}))
	assert.False(t, update.IsReplyTo(&HubPropertiesRequest{Property: HubPropertyRSSI, Operation: PropOpRequestUpdate}))
	assert.False(t, update.IsReplyTo(&PortInfoRequest{Port: 0x00, InfoType: InfoModeInfo}))
}

func TestPropertyRequestNeedsReply(t *testing.T) {
	assert.True(t, (&HubPropertiesRequest{Operation: PropOpRequestUpdate}).NeedsReply())
	assert.False(t, (&HubPropertiesRequest{Operation: PropOpEnableUpdates}).NeedsReply())
	assert.False(t, (&HubPropertiesRequest{Operation: PropOpSet}).NeedsReply())
}

func TestActionCorrelation(t *testing.T) {
	msg, err := DecodeUpstream(frame(MsgTypeHubAction, HubActionUpstreamDisconnect))
	require.NoError(t, err)
	action := msg.(*HubActionNotification)

	assert.True(t, action.IsReplyTo(&HubActionRequest{Action: HubActionDisconnect}))
	assert.False(t, action.IsReplyTo(&HubActionRequest{Action: HubActionSwitchOff}))

	msg, err = DecodeUpstream(frame(MsgTypeHubAction, HubActionUpstreamShutdown))
	require.NoError(t, err)
	assert.True(t, msg.IsReplyTo(&HubActionRequest{Action: HubActionSwitchOff}))
}

func TestAlertCorrelation(t *testing.T) {
	msg, err := DecodeUpstream(frame(MsgTypeHubAlert, AlertLowVoltage, AlertOpUpdate, 0x01))
	require.NoError(t, err)
	alert := msg.(*HubAlertUpdate)

	assert.False(t, alert.IsOK())
	assert.True(t, alert.IsReplyTo(&HubAlertRequest{Alert: AlertLowVoltage, Operation: AlertOpRequestUpdate}))
	assert.False(t, alert.IsReplyTo(&HubAlertRequest{Alert: AlertHighCurrent, Operation: AlertOpRequestUpdate}))
}

func TestGenericErrorMatchesAnyRequest(t *testing.T) {
	msg, err := DecodeUpstream(frame(MsgTypeGenericError, MsgTypePortOutput, ErrCodeOvercurrent))
	require.NoError(t, err)
	errMsg := msg.(*GenericErrorMessage)

	assert.True(t, errMsg.IsReplyTo(&PortOutputCommand{Port: 0x00}))
	assert.True(t, errMsg.IsReplyTo(&HubPropertiesRequest{Property: HubPropertyRSSI, Operation: PropOpRequestUpdate}))
	assert.Equal(t, "overcurrent for command 0x81", errMsg.Message())

	unknown := &GenericErrorMessage{Command: 0x41, Code: 0x7F}
	assert.Equal(t, "error 0x7f for command 0x41", unknown.Message())
}

func TestAttachedIODecode(t *testing.T) {
	msg, err := DecodeUpstream(attachFrame(PortC, DevVisionSensor))
	require.NoError(t, err)
	attach := msg.(*AttachedIOMessage)
	assert.Equal(t, PortC, attach.Port)
	assert.Equal(t, IOEventAttached, attach.Event)
	assert.Equal(t, DevVisionSensor, attach.IOType)
	assert.False(t, attach.IsReplyTo(&PortInfoRequest{Port: PortC}))

	msg, err = DecodeUpstream(virtualAttachFrame(PortAB, DevMotorInternalTacho, PortA, PortB))
	require.NoError(t, err)
	virtual := msg.(*AttachedIOMessage)
	assert.Equal(t, IOEventAttachedVirtual, virtual.Event)
	assert.Equal(t, PortA, virtual.PortA)
	assert.Equal(t, PortB, virtual.PortB)

	msg, err = DecodeUpstream(detachFrame(PortC))
	require.NoError(t, err)
	assert.Equal(t, IOEventDetached, msg.(*AttachedIOMessage).Event)

	_, err = DecodeUpstream(frame(MsgTypeHubAttachedIO, PortC, 0x09))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestPortInfoCorrelation(t *testing.T) {
	msg, err := DecodeUpstream(frame(MsgTypePortInfo, 0x00, InfoModeInfo,
		PortCapInput|PortCapOutput|PortCapCombinable, 0x04, 0x0E, 0x00, 0x01, 0x00))
	require.NoError(t, err)
	info := msg.(*PortInfoMessage)

	assert.True(t, info.IsInput())
	assert.True(t, info.IsOutput())
	assert.True(t, info.IsCombinable())
	assert.False(t, info.IsSynchronizable())
	assert.Equal(t, byte(4), info.TotalModes)
	assert.Equal(t, []byte{1, 2, 3}, ListedModes(info.InputModes))
	assert.Equal(t, []byte{0}, ListedModes(info.OutputModes))

	assert.True(t, info.IsReplyTo(&PortInfoRequest{Port: 0x00, InfoType: InfoModeInfo}))
	assert.False(t, info.IsReplyTo(&PortInfoRequest{Port: 0x00, InfoType: InfoPortValue}))
	assert.False(t, info.IsReplyTo(&PortInfoRequest{Port: 0x01, InfoType: InfoModeInfo}))
}

func TestPortValueAnswersValueRequest(t *testing.T) {
	msg, err := DecodeUpstream(frame(MsgTypePortValueSingle, 0x3A, 0x01, 0x02))
	require.NoError(t, err)
	value := msg.(*PortValueSingleMessage)

	assert.True(t, value.IsReplyTo(&PortInfoRequest{Port: 0x3A, InfoType: InfoPortValue}))
	assert.False(t, value.IsReplyTo(&PortInfoRequest{Port: 0x3A, InfoType: InfoModeInfo}))
	assert.False(t, value.IsReplyTo(&PortInfoRequest{Port: 0x00, InfoType: InfoPortValue}))
	assert.Equal(t, []byte{0x01, 0x02}, value.Data)
}

func TestPortModeInfoText(t *testing.T) {
	msg, err := DecodeUpstream(frame(MsgTypePortModeInfo, 0x00, 0x02, ModeInfoName,
		'P', 'O', 'S', 0x00, 0x00, 0x00))
	require.NoError(t, err)
	info := msg.(*PortModeInfoMessage)

	assert.Equal(t, "POS", info.Text())
	assert.True(t, info.IsReplyTo(&PortModeInfoRequest{Port: 0x00, Mode: 0x02, InfoType: ModeInfoName}))
	assert.False(t, info.IsReplyTo(&PortModeInfoRequest{Port: 0x00, Mode: 0x02, InfoType: ModeInfoSymbol}))
	assert.False(t, info.IsReplyTo(&PortModeInfoRequest{Port: 0x00, Mode: 0x01, InfoType: ModeInfoName}))
}

func TestInputFormatRoundTrip(t *testing.T) {
	req := &PortInputFormatSetupRequest{Port: 0x3A, Mode: 0x02, UpdateDelta: 5, NotifyEnabled: true}
	data := EncodeMessage(req)
	assert.Equal(t, []byte{0x0A, 0x00, MsgTypePortInputFmtSetup, 0x3A, 0x02, 0x05, 0x00, 0x00, 0x00, 0x01}, data)

	// The hub echoes the accepted format back in a 0x47 message.
	msg, err := DecodeUpstream(frame(MsgTypePortInputFmt, data[3:]...))
	require.NoError(t, err)
	format := msg.(*PortInputFormatMessage)
	assert.Equal(t, req.Port, format.Port)
	assert.Equal(t, req.Mode, format.Mode)
	assert.Equal(t, req.UpdateDelta, format.UpdateDelta)
	assert.True(t, format.NotifyEnabled)
	assert.True(t, format.IsReplyTo(req))
	assert.False(t, format.IsReplyTo(&PortInputFormatSetupRequest{Port: 0x3B}))
}

func TestVirtualPortSetupPayload(t *testing.T) {
	merge := &VirtualPortSetupRequest{PortA: PortA, PortB: PortB}
	assert.False(t, merge.NeedsReply())
	assert.Equal(t, []byte{0x05, 0x00, MsgTypeVirtualPortSetup, 0x01, PortA, PortB}, EncodeMessage(merge))

	dissolve := &VirtualPortSetupRequest{Disconnect: true, Port: PortAB}
	assert.Equal(t, []byte{0x04, 0x00, MsgTypeVirtualPortSetup, 0x00, PortAB}, EncodeMessage(dissolve))
}

func TestPortOutputExecutionFlags(t *testing.T) {
	immediate := &PortOutputCommand{Port: PortA, SubCommand: SubcmdStartSpeed, Params: []byte{0x32, 0x64, 0x03}}
	require.True(t, immediate.NeedsReply())
	assert.Equal(t,
		[]byte{0x09, 0x00, MsgTypePortOutput, PortA, 0x11, SubcmdStartSpeed, 0x32, 0x64, 0x03},
		EncodeMessage(immediate))

	buffered := &PortOutputCommand{Port: PortA, SubCommand: SubcmdStartSpeed, Params: []byte{0x32, 0x64, 0x03}, Buffered: true}
	assert.Equal(t, byte(0x01), EncodeMessage(buffered)[4])
}

func TestPortOutputFeedbackCorrelation(t *testing.T) {
	msg, err := DecodeUpstream(frame(MsgTypePortOutputFeedback, PortA, FeedbackCompleted|FeedbackIdle))
	require.NoError(t, err)
	feedback := msg.(*PortOutputFeedbackMessage)

	assert.True(t, feedback.IsReplyTo(&PortOutputCommand{Port: PortA}))
	assert.False(t, feedback.IsReplyTo(&PortOutputCommand{Port: PortB}))
}
