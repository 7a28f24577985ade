package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

// CloseIntentional is the close code reserved for caller-initiated closure.
// Any other close code is treated as unclean and triggers the reconnect policy.
const CloseIntentional = websocket.CloseNormalClosure

var (
	ErrNotConnected       = errors.New("not connected to chat service")
	ErrReconnectExhausted = errors.New("failed to reconnect after multiple attempts")
	ErrClosed             = errors.New("connection manager closed")
)

// EventKind 连接事件类型
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventOpened
	EventFrame
	EventClosed
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state"
	case EventOpened:
		return "opened"
	case EventFrame:
		return "frame"
	case EventClosed:
		return "closed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is emitted by the manager in dispatch order.
type Event struct {
	Kind  EventKind
	State chat.ConnectionState
	Frame Frame
	Code  int
	Err   error
}

// Handler consumes manager events. It runs on the manager loop goroutine and
// must not call back into Connect, Disconnect, Reconnect, Send or Close.
type Handler func(Event)

// Options configures a Manager.
type Options struct {
	// BaseURL is the websocket origin, e.g. ws://localhost:8080.
	BaseURL string
	// Token is sent as a bearer credential on the handshake.
	Token string

	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	PingInterval         time.Duration
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration

	Dialer Dialer
	Clock  Clock
}

func (o *Options) applyDefaults() {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = NewWebsocketDialer(o.HandshakeTimeout)
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
}

// Endpoint returns the chat channel URL for a session.
func Endpoint(baseURL, sessionID string) string {
	return strings.TrimRight(baseURL, "/") + "/ws/chat/" + sessionID
}

// Manager owns one logical channel for a session id. All state below the
// loop marker is touched only by the loop goroutine.
type Manager struct {
	sessionID string
	url       string
	opts      Options
	handler   Handler

	ctx    context.Context
	cancel context.CancelFunc

	cmds      chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	snapshotMu sync.RWMutex
	snapshot   chat.ConnectionState
	lastErr    error

	// loop-owned
	state          chat.ConnectionState
	conn           Conn
	gen            uint64
	attempts       int
	cancelDial     context.CancelFunc
	pingTimer      Timer
	pingSeq        uint64
	reconnectTimer Timer
	reconnectSeq   uint64
}

// New creates a manager for sessionID and starts its event loop. The caller
// must Close it to release the loop, timers and channel.
func New(sessionID string, opts Options, handler Handler) (*Manager, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("realtime: session id is required")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("realtime: base url is required")
	}
	opts.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessionID: sessionID,
		url:       Endpoint(opts.BaseURL, sessionID),
		opts:      opts,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		cmds:      make(chan func(), 64),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		snapshot:  chat.StateDisconnected,
		state:     chat.StateDisconnected,
	}
	go m.run()
	return m, nil
}

// URL returns the channel endpoint.
func (m *Manager) URL() string { return m.url }

// State returns the current connection state.
func (m *Manager) State() chat.ConnectionState {
	m.snapshotMu.RLock()
	defer m.snapshotMu.RUnlock()
	return m.snapshot
}

// LastError returns the most recent connection failure, if any.
func (m *Manager) LastError() error {
	m.snapshotMu.RLock()
	defer m.snapshotMu.RUnlock()
	return m.lastErr
}

// Attempts returns the number of retries made in the current failure streak.
func (m *Manager) Attempts() int {
	var n int
	if err := m.do(func() { n = m.attempts }); err != nil {
		return 0
	}
	return n
}

// Connect requests a channel. It is a no-op while connecting or connected.
func (m *Manager) Connect() error {
	return m.do(func() {
		if m.state == chat.StateConnecting || m.state == chat.StateConnected {
			return
		}
		if m.reconnectTimer == nil {
			// a fresh open request starts a new failure streak
			m.attempts = 0
		}
		m.stopReconnect()
		m.open()
	})
}

// Disconnect closes the channel intentionally. It never triggers a reconnect.
func (m *Manager) Disconnect() error {
	return m.do(func() {
		m.shutdown()
		m.setState(chat.StateDisconnected)
	})
}

// Reconnect drops any pending retry, resets the attempt counter and opens
// a fresh channel immediately.
func (m *Manager) Reconnect() error {
	return m.do(func() {
		m.shutdown()
		m.open()
	})
}

// Send writes a frame on the open channel. onAccept, when non-nil, runs on
// the loop after the connected check and before the write, so anything it
// records is ordered ahead of frames the remote side sends in response.
func (m *Manager) Send(f Frame, onAccept func()) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	if err := m.do(func() { result <- m.write(data, onAccept) }); err != nil {
		return err
	}
	return <-result
}

// Close tears the session down: both timers are cancelled, the channel is
// closed with the intentional code and the loop exits.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		_ = m.do(func() {
			m.shutdown()
			m.setState(chat.StateDisconnected)
		})
		m.cancel()
		close(m.done)
		<-m.stopped
	})
	return nil
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.cmds:
			fn()
		case <-m.done:
			return
		}
	}
}

// post enqueues fn on the loop without waiting for it.
func (m *Manager) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.cmds <- fn:
		return true
	case <-m.done:
		return false
	}
}

// do runs fn on the loop and waits until it has executed.
func (m *Manager) do(fn func()) error {
	finished := make(chan struct{})
	if !m.post(func() {
		fn()
		close(finished)
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-m.stopped:
		return ErrClosed
	}
}

func (m *Manager) emit(ev Event) {
	if m.handler != nil {
		m.handler(ev)
	}
}

func (m *Manager) setState(state chat.ConnectionState) {
	if m.state == state {
		return
	}
	m.state = state

	m.snapshotMu.Lock()
	m.snapshot = state
	m.snapshotMu.Unlock()

	m.emit(Event{Kind: EventStateChanged, State: state})
}

func (m *Manager) recordError(err error) {
	m.snapshotMu.Lock()
	m.lastErr = err
	m.snapshotMu.Unlock()
}

func (m *Manager) header() http.Header {
	header := http.Header{}
	if m.opts.Token != "" {
		header.Set("Authorization", "Bearer "+m.opts.Token)
	}
	return header
}

// open starts a dial on its own goroutine; the result is posted back.
func (m *Manager) open() {
	m.gen++
	gen := m.gen
	m.setState(chat.StateConnecting)

	ctx, cancel := context.WithTimeout(m.ctx, m.opts.HandshakeTimeout)
	m.cancelDial = cancel
	header := m.header()

	log.Printf("[realtime] connecting session=%s attempt=%d url=%s", m.sessionID, m.attempts, m.url)
	go func() {
		conn, err := m.opts.Dialer.DialContext(ctx, m.url, header)
		cancel()
		if !m.post(func() { m.handleDial(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) handleDial(gen uint64, conn Conn, err error) {
	if gen != m.gen {
		// superseded by a disconnect or a newer attempt
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		log.Printf("[realtime] open failed session=%s: %v", m.sessionID, err)
		m.recordError(err)
		m.setState(chat.StateError)
		m.emit(Event{Kind: EventFailed, Err: err})
		m.retry(err)
		return
	}

	m.conn = conn
	m.attempts = 0
	m.recordError(nil)
	m.setState(chat.StateConnected)
	m.emit(Event{Kind: EventOpened})
	m.armPing()

	log.Printf("[realtime] connected session=%s", m.sessionID)
	go m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			}
			m.post(func() { m.handleClosed(gen, code, err) })
			return
		}
		m.post(func() { m.handleData(gen, data) })
	}
}

func (m *Manager) handleData(gen uint64, data []byte) {
	if gen != m.gen || m.conn == nil {
		return
	}
	frame, err := Decode(data)
	if err != nil {
		log.Printf("[realtime] dropping frame session=%s: %v", m.sessionID, err)
		return
	}
	m.emit(Event{Kind: EventFrame, Frame: frame})
}

func (m *Manager) handleClosed(gen uint64, code int, cause error) {
	if gen != m.gen || m.conn == nil {
		return
	}
	m.releaseConn()
	m.emit(Event{Kind: EventClosed, Code: code})

	if code == CloseIntentional {
		log.Printf("[realtime] channel closed cleanly session=%s", m.sessionID)
		m.attempts = 0
		m.setState(chat.StateDisconnected)
		return
	}

	log.Printf("[realtime] channel closed unexpectedly session=%s code=%d: %v", m.sessionID, code, cause)
	m.recordError(cause)
	if m.attempts < m.opts.MaxReconnectAttempts {
		m.setState(chat.StateConnecting)
	}
	m.retry(fmt.Errorf("connection closed with code %d: %w", code, cause))
}

// retry schedules the next attempt or surfaces exhaustion.
func (m *Manager) retry(cause error) {
	if m.attempts >= m.opts.MaxReconnectAttempts {
		err := fmt.Errorf("%w: %v", ErrReconnectExhausted, cause)
		log.Printf("[realtime] giving up session=%s after %d attempts", m.sessionID, m.attempts)
		m.recordError(err)
		m.setState(chat.StateError)
		m.emit(Event{Kind: EventFailed, Err: err})
		return
	}

	delay := Backoff(m.attempts, m.opts.BaseDelay, m.opts.MaxDelay)
	m.attempts++

	m.stopReconnect()
	m.reconnectSeq++
	seq := m.reconnectSeq
	m.reconnectTimer = m.opts.Clock.AfterFunc(delay, func() {
		m.post(func() { m.onReconnectTimer(seq) })
	})
	log.Printf("[realtime] reconnect scheduled session=%s attempt=%d/%d delay=%s",
		m.sessionID, m.attempts, m.opts.MaxReconnectAttempts, delay)
}

func (m *Manager) onReconnectTimer(seq uint64) {
	if seq != m.reconnectSeq || m.reconnectTimer == nil {
		return
	}
	m.reconnectTimer = nil
	m.open()
}

func (m *Manager) stopReconnect() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectSeq++
}

func (m *Manager) armPing() {
	m.stopPing()
	m.pingSeq++
	seq := m.pingSeq
	m.pingTimer = m.opts.Clock.AfterFunc(m.opts.PingInterval, func() {
		m.post(func() { m.onPing(seq) })
	})
}

func (m *Manager) stopPing() {
	if m.pingTimer != nil {
		m.pingTimer.Stop()
		m.pingTimer = nil
	}
	m.pingSeq++
}

func (m *Manager) onPing(seq uint64) {
	if seq != m.pingSeq || m.state != chat.StateConnected || m.conn == nil {
		return
	}
	m.pingTimer = nil

	data, err := Encode(PingFrame())
	if err != nil {
		return
	}
	if err := m.writeRaw(data); err != nil {
		log.Printf("[realtime] keepalive failed session=%s: %v", m.sessionID, err)
		m.handleClosed(m.gen, websocket.CloseAbnormalClosure, err)
		return
	}
	m.armPing()
}

func (m *Manager) write(data []byte, onAccept func()) error {
	if m.state != chat.StateConnected || m.conn == nil {
		return ErrNotConnected
	}
	if onAccept != nil {
		onAccept()
	}
	if err := m.writeRaw(data); err != nil {
		log.Printf("[realtime] write failed session=%s: %v", m.sessionID, err)
		m.handleClosed(m.gen, websocket.CloseAbnormalClosure, err)
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (m *Manager) writeRaw(data []byte) error {
	_ = m.conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// releaseConn stops the keepalive and closes the socket without a close
// frame, invalidating events from its reader.
func (m *Manager) releaseConn() {
	m.stopPing()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.gen++
}

// shutdown cancels every pending operation and closes the channel with the
// intentional code.
func (m *Manager) shutdown() {
	m.stopReconnect()
	m.stopPing()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.conn != nil {
		msg := websocket.FormatCloseMessage(CloseIntentional, "User disconnected")
		if err := m.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.opts.WriteTimeout)); err != nil {
			log.Printf("[realtime] close frame failed session=%s: %v", m.sessionID, err)
		}
		_ = m.conn.Close()
		m.conn = nil
	}
	m.gen++
	m.attempts = 0
}
