package legohub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var hubLog = logrus.WithField("logger", "hub")

var (
	// ErrRequestPending means a synchronous send was attempted while another
	// one was still waiting for its reply. Callers must serialize their own
	// synchronous sends.
	ErrRequestPending = errors.New("legohub: synchronous request already pending")
	// ErrReplyTimeout means the hub never answered a synchronous request
	// within the configured reply timeout.
	ErrReplyTimeout = errors.New("legohub: timed out waiting for reply")
	// ErrHubClosed means the hub was torn down, by the caller or by a
	// hub-initiated disconnect.
	ErrHubClosed = errors.New("legohub: hub closed")
	// ErrProtocol means the driver and the hub desynchronized: an
	// unrecognized frame, a detach for an untracked port, or an attach to an
	// occupied port. There is no recovery; the connection is torn down.
	ErrProtocol = errors.New("legohub: protocol violation")
)

// CommandError is a device-reported command failure, surfaced to the caller
// of Send when the reply to a synchronous request is a generic error.
type CommandError struct {
	Msg *GenericErrorMessage
}

func (e *CommandError) Error() string {
	return "legohub: command failed: " + e.Msg.Message()
}

const (
	defaultReplyTimeout = 10 * time.Second
	defaultWaitAttempts = 60
	defaultWaitInterval = 100 * time.Millisecond
)

// MessageHandler consumes one decoded upstream message. Handlers run on the
// notification-delivery goroutine and must not assume exclusivity: a message
// may be both the awaited reply of a synchronous send and dispatched here.
type MessageHandler func(msg UpstreamMessage)

type handlerEntry struct {
	msgType byte
	handler MessageHandler
}

// Option configures a Hub.
type Option func(*Hub)

// WithReplyTimeout bounds the wait for a synchronous reply. Zero waits
// forever, matching the hub's own behavior of never dropping a request.
func WithReplyTimeout(d time.Duration) Option {
	return func(h *Hub) { h.replyTimeout = d }
}

// WithDeviceWait tunes how long a hub variant polls for its expected fixed
// device topology on startup.
func WithDeviceWait(attempts int, interval time.Duration) Option {
	return func(h *Hub) {
		h.waitAttempts = attempts
		h.waitInterval = interval
	}
}

// Hub is the single authority over one BLE connection to one physical hub.
// It routes every decoded notification to registered handlers, arbitrates
// the one-at-a-time synchronous request/reply exchange, and tracks the live
// set of attached peripherals.
type Hub struct {
	conn Connection

	mu          sync.Mutex
	pending     DownstreamMessage
	replies     chan UpstreamMessage
	handlers    []handlerEntry
	peripherals map[byte]Peripheral
	closed      bool
	failure     error
	done        chan struct{}

	replyTimeout time.Duration
	waitAttempts int
	waitInterval time.Duration
}

// NewHub takes ownership of the connection, registers the built-in message
// handlers and enables notification delivery.
func NewHub(conn Connection, opts ...Option) (*Hub, error) {
	h := &Hub{
		conn:         conn,
		replies:      make(chan UpstreamMessage, 1),
		peripherals:  make(map[byte]Peripheral),
		done:         make(chan struct{}),
		replyTimeout: defaultReplyTimeout,
		waitAttempts: defaultWaitAttempts,
		waitInterval: defaultWaitInterval,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.AddMessageHandler(MsgTypeHubAttachedIO, h.handleDeviceChange)
	h.AddMessageHandler(MsgTypePortValueSingle, h.handleSensorData)
	h.AddMessageHandler(MsgTypePortValueCombined, h.handleSensorData)
	h.AddMessageHandler(MsgTypeGenericError, h.handleError)
	h.AddMessageHandler(MsgTypeHubAction, h.handleAction)

	conn.SetNotifyHandler(h.notify)
	if err := conn.EnableNotifications(); err != nil {
		return nil, fmt.Errorf("enabling notifications: %w", err)
	}
	return h, nil
}

// AddMessageHandler appends a handler for one message type. Handlers fire in
// registration order; several handlers may see the same message.
func (h *Hub) AddMessageHandler(msgType byte, handler MessageHandler) {
	h.mu.Lock()
	h.handlers = append(h.handlers, handlerEntry{msgType, handler})
	h.mu.Unlock()
}

// Send writes a downstream message to the hub. For a message that needs a
// reply it blocks until the correlated upstream message arrives, and returns
// it; a device-reported error completes the exchange as a *CommandError.
// Messages that need no reply return (nil, nil) once written.
//
// At most one synchronous request may be in flight per hub; a second one is
// rejected with ErrRequestPending before any byte is written.
func (h *Hub) Send(msg DownstreamMessage) (UpstreamMessage, error) {
	data := EncodeMessage(msg)
	hubLog.Debugf("Send message: %v (%s)", msg, hexStr(data))

	if !msg.NeedsReply() {
		return nil, h.conn.Write(HubHardwareHandle, data)
	}

	h.mu.Lock()
	if h.closed {
		err := h.failure
		h.mu.Unlock()
		return nil, err
	}
	if h.pending != nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %v while trying to send %v", ErrRequestPending, h.pending, msg)
	}
	h.pending = msg
	h.mu.Unlock()

	if err := h.conn.Write(HubHardwareHandle, data); err != nil {
		h.mu.Lock()
		if h.pending == msg {
			h.pending = nil
		} else {
			// A reply snuck in before the write error surfaced; drop it so
			// it cannot complete a later request.
			select {
			case <-h.replies:
			default:
			}
		}
		h.mu.Unlock()
		return nil, err
	}

	reply, err := h.awaitReply(msg)
	if err != nil {
		return nil, err
	}
	hubLog.Debugf("Fetched sync reply: %v", reply)
	if errMsg, ok := reply.(*GenericErrorMessage); ok {
		return nil, &CommandError{Msg: errMsg}
	}
	return reply, nil
}

func (h *Hub) awaitReply(msg DownstreamMessage) (UpstreamMessage, error) {
	var timeout <-chan time.Time
	if h.replyTimeout > 0 {
		timer := time.NewTimer(h.replyTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case reply := <-h.replies:
		return reply, nil
	case <-timeout:
		h.mu.Lock()
		if h.pending == msg {
			h.pending = nil
			h.mu.Unlock()
			return nil, fmt.Errorf("%w: %v after %s", ErrReplyTimeout, msg, h.replyTimeout)
		}
		h.mu.Unlock()
		// The request was cleared by someone else between the timer firing
		// and taking the lock: either the reply raced in and sits in the
		// channel, or a teardown cleared it.
		select {
		case reply := <-h.replies:
			return reply, nil
		case <-h.done:
			select {
			case reply := <-h.replies:
				return reply, nil
			default:
			}
			h.mu.Lock()
			err := h.failure
			h.mu.Unlock()
			return nil, err
		}
	case <-h.done:
		// A reply delivered in the same instant the hub closed still wins;
		// hub-initiated disconnects confirm the request that asked for them.
		select {
		case reply := <-h.replies:
			return reply, nil
		default:
		}
		h.mu.Lock()
		err := h.failure
		if h.pending == msg {
			h.pending = nil
		}
		h.mu.Unlock()
		return nil, err
	}
}

// notify is the Connection's delivery callback. It runs on the notification
// goroutine, serially: correlation and handler dispatch for one frame finish
// before the next frame is processed.
func (h *Hub) notify(handle uint16, data []byte) {
	hubLog.Debugf("Notification on 0x%02x: %s", handle, hexStr(data))

	msg, err := DecodeUpstream(data)
	if err != nil {
		h.fail(err)
		return
	}

	h.mu.Lock()
	if h.pending != nil && msg.IsReplyTo(h.pending) {
		hubLog.Debugf("Found matching upstream msg: %v", msg)
		h.pending = nil
		h.replies <- msg // capacity 1, never blocks with a single pending slot
	}
	handlers := make([]handlerEntry, len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.Unlock()

	for _, entry := range handlers {
		if entry.msgType == msg.Type() {
			entry.handler(msg)
		}
	}
}

// fail records an unrecoverable protocol desync, wakes any blocked sender
// and tears the connection down.
func (h *Hub) fail(err error) {
	hubLog.WithError(err).Error("Protocol failure, closing hub")
	h.shutdown(err)
}

func (h *Hub) shutdown(cause error) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.failure = cause
	h.pending = nil
	stopped := make([]Peripheral, 0, len(h.peripherals))
	for _, p := range h.peripherals {
		stopped = append(stopped, p)
	}
	close(h.done)
	h.mu.Unlock()

	for _, p := range stopped {
		p.stop()
	}
	if h.conn.IsAlive() {
		return h.conn.Disconnect()
	}
	return nil
}

// Close releases the connection. It is idempotent: repeated calls after the
// first are no-ops.
func (h *Hub) Close() error {
	return h.shutdown(ErrHubClosed)
}

// Disconnect asks the hub to drop the connection and waits for its
// confirmation.
func (h *Hub) Disconnect() error {
	_, err := h.Send(&HubActionRequest{Action: HubActionDisconnect})
	return err
}

// SwitchOff asks the hub to power down and waits for its confirmation.
func (h *Hub) SwitchOff() error {
	_, err := h.Send(&HubActionRequest{Action: HubActionSwitchOff})
	return err
}

// Peripheral returns the peripheral attached to the given port, if any.
// Readers outside the notification goroutine see eventually consistent
// state: a device may not be visible immediately after a physical attach.
func (h *Hub) Peripheral(port byte) (Peripheral, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peripherals[port]
	return p, ok
}

// Peripherals returns a snapshot of the attached peripheral set.
func (h *Hub) Peripherals() map[byte]Peripheral {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[byte]Peripheral, len(h.peripherals))
	for port, p := range h.peripherals {
		out[port] = p
	}
	return out
}

// handleDeviceChange is the attachment tracker: it mutates the peripheral
// set as devices come and go.
func (h *Hub) handleDeviceChange(m UpstreamMessage) {
	msg, ok := m.(*AttachedIOMessage)
	if !ok {
		return
	}

	if msg.Event == IOEventDetached {
		h.mu.Lock()
		p, tracked := h.peripherals[msg.Port]
		if !tracked {
			h.mu.Unlock()
			h.fail(fmt.Errorf("%w: detach for untracked port 0x%02x", ErrProtocol, msg.Port))
			return
		}
		delete(h.peripherals, msg.Port)
		h.mu.Unlock()
		p.stop()
		hubLog.Debugf("Detached peripheral: %v", p)
		return
	}

	h.mu.Lock()
	if existing, occupied := h.peripherals[msg.Port]; occupied {
		h.mu.Unlock()
		h.fail(fmt.Errorf("%w: attach on occupied port 0x%02x (already %v)", ErrProtocol, msg.Port, existing))
		return
	}
	h.mu.Unlock()

	factory, known := peripheralFactory(msg.IOType)
	if !known {
		hubLog.Warnf("No dedicated class for peripheral type 0x%04x on port 0x%02x", msg.IOType, msg.Port)
	}
	p := factory(h, msg.Port, msg.IOType)
	if msg.Event == IOEventAttachedVirtual {
		p.setVirtualPorts(msg.PortA, msg.PortB)
	}

	h.mu.Lock()
	if h.closed {
		// The hub was torn down while the peripheral was being built;
		// shutdown already stopped the tracked set, so this one must not
		// join it.
		h.mu.Unlock()
		p.stop()
		return
	}
	h.peripherals[msg.Port] = p
	h.mu.Unlock()
	hubLog.Infof("Attached peripheral: %v", p)
}

// handleSensorData forwards port value notifications to the owning
// peripheral's intake queue.
func (h *Hub) handleSensorData(msg UpstreamMessage) {
	var port byte
	switch m := msg.(type) {
	case *PortValueSingleMessage:
		port = m.Port
	case *PortValueCombinedMessage:
		port = m.Port
	default:
		return
	}

	h.mu.Lock()
	p, ok := h.peripherals[port]
	h.mu.Unlock()
	if !ok {
		hubLog.Warnf("Notification on port with no device: 0x%02x", port)
		return
	}
	p.QueuePortData(msg)
}

// handleError logs device-reported errors. Reply correlation already
// completed any pending request with the error, since a generic error
// matches every request.
func (h *Hub) handleError(msg UpstreamMessage) {
	errMsg, ok := msg.(*GenericErrorMessage)
	if !ok {
		return
	}
	hubLog.Warnf("Command error: %s", errMsg.Message())
}

// handleAction tears the connection down when the hub announces it is
// disconnecting or switching off.
func (h *Hub) handleAction(msg UpstreamMessage) {
	action, ok := msg.(*HubActionNotification)
	if !ok {
		return
	}
	switch action.Action {
	case HubActionUpstreamDisconnect:
		hubLog.Warn("Hub disconnects")
		h.Close()
	case HubActionUpstreamShutdown:
		hubLog.Warn("Hub switches off")
		h.Close()
	}
}
