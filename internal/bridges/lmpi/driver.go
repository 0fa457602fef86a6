package lmpi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and sizes for reader host communication.
const (
	// DefaultConnectReaderInterval is how often "connectreader" is re-sent
	// while waiting for the device to confirm its name.
	DefaultConnectReaderInterval = 60 * time.Second

	// DefaultDialTimeout bounds a single TCP connect attempt.
	DefaultDialTimeout = 10 * time.Second

	// DefaultWriteQueueSize is the capacity of the outbound command queue.
	DefaultWriteQueueSize = 64

	// defaultWriteTimeout bounds a single socket write.
	defaultWriteTimeout = 5 * time.Second

	// defaultKeepAlive is the TCP keepalive period used to detect dead hosts
	// while the read loop is idle.
	defaultKeepAlive = 30 * time.Second

	// updateQueueSize is the buffer between the socket loops and the
	// update handler.
	updateQueueSize = 128
)

// Config holds the connection parameters of one driver.
type Config struct {
	// Host is the IP address or hostname of the reader host.
	Host string

	// Port is the TCP port of the reader host.
	Port int

	// UniqueName is the device name this driver answers for. Messages
	// carrying any other name are discarded.
	UniqueName string

	// RetryInterval is the base reconnect delay.
	// Default: 30 seconds.
	RetryInterval time.Duration

	// MaxBackoff caps the exponential reconnect delay.
	// Default: 300 seconds.
	MaxBackoff time.Duration

	// Jitter is the upper bound of the random delay added to each backoff.
	// Default: 2 seconds. A negative value disables jitter.
	Jitter time.Duration

	// ConnectReaderInterval is the "connectreader" retry period.
	// Default: 60 seconds.
	ConnectReaderInterval time.Duration

	// DialTimeout bounds each TCP connect.
	// Default: 10 seconds.
	DialTimeout time.Duration

	// WriteQueueSize is the outbound command queue capacity.
	// Default: 64.
	WriteQueueSize int
}

func (c *Config) applyDefaults() {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.Jitter == 0 {
		c.Jitter = DefaultJitter
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.ConnectReaderInterval <= 0 {
		c.ConnectReaderInterval = DefaultConnectReaderInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = DefaultWriteQueueSize
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UpdateKind identifies the payload of an Update.
type UpdateKind int

const (
	UpdateState UpdateKind = iota
	UpdateEvent
	UpdateCapacity
	UpdateAppState
	UpdateReaderState
)

// Update is delivered from a driver to its handler, in the order the driver
// produced it.
type Update struct {
	Kind        UpdateKind
	State       TCPState
	Err         error // last connection error, set on transitions to Disconnected
	Event       *Event
	Capacity    *Capacity
	AppState    AppState
	ReaderState ReaderState
	At          time.Time
}

// Stats holds operational statistics of one driver.
type Stats struct {
	CommandsSent    uint64    `json:"commands_sent"`
	CommandsDropped uint64    `json:"commands_dropped"`
	EventsReceived  uint64    `json:"events_received"`
	UpdatesDropped  uint64    `json:"updates_dropped"`
	Connects        uint64    `json:"connects"`
	ErrorsTotal     uint64    `json:"errors_total"`
	LastActivity    time.Time `json:"last_activity"`
	State           TCPState  `json:"state"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Driver owns the TCP connection to one reader.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Outbound commands are written by a single goroutine in FIFO order.
//   - Updates are delivered to the handler by a single goroutine, in order.
//
// Lifecycle:
//   - New returns an idle driver; Start launches the connection loop.
//   - The loop reconnects with exponential backoff until Close is called.
type Driver struct {
	cfg     Config
	backoff Backoff

	state       atomic.Int32
	appState    atomic.Int32
	readerState atomic.Int32

	conn   net.Conn
	connMu sync.Mutex

	// Cancels the "connectreader" loop of the current connection.
	confirmCancel context.CancelFunc
	confirmMu     sync.Mutex

	writeQueue chan []byte
	updates    chan Update
	handler    func(Update)

	// Latest state update that did not fit in updates. While set, newer
	// state updates overwrite it instead of entering the queue.
	pendingState *Update
	pendingMu    sync.Mutex
	stateKick    chan struct{}

	ctx          context.Context
	cancel       context.CancelFunc
	started      atomic.Bool
	closeOnce    sync.Once
	firstAttempt *closeOnce
	dispatchDone *closeOnce
	loopWG       sync.WaitGroup
	dispatchWG   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	commandsSent    atomic.Uint64
	commandsDropped atomic.Uint64
	eventsReceived  atomic.Uint64
	updatesDropped  atomic.Uint64
	connects        atomic.Uint64
	errorsTotal     atomic.Uint64
	lastActivity    atomic.Int64
}

// New creates a driver for one reader. The handler receives every state
// change and device message; it may be nil. Panics in the handler are
// recovered and logged.
//
// Parameters:
//   - cfg: Connection parameters (defaults applied to zero fields)
//   - handler: Update consumer, invoked from a dedicated goroutine
//
// Returns:
//   - *Driver: Idle driver (call Start to connect)
func New(cfg Config, handler func(Update)) *Driver {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Driver{
		cfg: cfg,
		backoff: Backoff{
			Base:   cfg.RetryInterval,
			Max:    cfg.MaxBackoff,
			Jitter: cfg.Jitter,
		},
		writeQueue:   make(chan []byte, cfg.WriteQueueSize),
		updates:      make(chan Update, updateQueueSize),
		stateKick:    make(chan struct{}, 1),
		handler:      handler,
		ctx:          ctx,
		cancel:       cancel,
		firstAttempt: newCloseOnce(),
		dispatchDone: newCloseOnce(),
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for this driver.
func (d *Driver) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *Driver) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// Start launches the connection, writer and dispatch goroutines. It returns
// immediately; progress is reported through the handler. Calling Start more
// than once, or after Close, has no effect.
func (d *Driver) Start() {
	if d.ctx.Err() != nil || !d.started.CompareAndSwap(false, true) {
		return
	}

	d.dispatchWG.Add(1)
	go d.dispatchLoop()

	d.loopWG.Add(2)
	go d.connectionLoop()
	go d.writeLoop()
}

// FirstAttempt is closed once the first connect attempt has resolved
// (success, failure or Close).
func (d *Driver) FirstAttempt() <-chan struct{} {
	return d.firstAttempt.Done()
}

// Close cancels every loop, closes the socket and waits for all goroutines
// to exit. Safe to call multiple times.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.setState(StateDisconnecting, nil)
		d.cancel()
		d.closeConn()
		d.loopWG.Wait()
		d.firstAttempt.Close()
		d.setState(StateDisconnected, nil)

		d.dispatchDone.Close()
		d.dispatchWG.Wait()

		d.log().Info("reader driver closed", "reader", d.cfg.UniqueName, "address", d.cfg.Address())
	})
	return nil
}

// Config returns the driver's effective configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// State returns the current connection state.
func (d *Driver) State() TCPState {
	return TCPState(d.state.Load())
}

// AppState returns the last host-wide flag reported by the device.
func (d *Driver) AppState() AppState {
	return AppState(d.appState.Load())
}

// ReaderState returns the last per-reader flag reported by the device.
func (d *Driver) ReaderState() ReaderState {
	return ReaderState(d.readerState.Load())
}

// IsTCPConnected reports whether the socket is open.
func (d *Driver) IsTCPConnected() bool {
	return d.State().Satisfies(StateTCPConnected)
}

// IsReaderConnected reports whether the device has confirmed its name.
func (d *Driver) IsReaderConnected() bool {
	return d.State() == StateReaderConnected
}

// Stats returns current operational statistics.
func (d *Driver) Stats() Stats {
	return Stats{
		CommandsSent:    d.commandsSent.Load(),
		CommandsDropped: d.commandsDropped.Load(),
		EventsReceived:  d.eventsReceived.Load(),
		UpdatesDropped:  d.updatesDropped.Load(),
		Connects:        d.connects.Load(),
		ErrorsTotal:     d.errorsTotal.Load(),
		LastActivity:    time.Unix(d.lastActivity.Load(), 0),
		State:           d.State(),
	}
}

// =============================================================================
// Command surface
// =============================================================================

// Send queues cmd if the driver is in the state the command requires.
// Reader-targeted commands always carry the driver's unique name; for the
// others param is appended verbatim.
//
// A command issued in the wrong state, or while the queue is full, is
// dropped with a warning. The return value reports whether it was queued.
func (d *Driver) Send(cmd Command, param string) bool {
	required, ok := requiredStates[cmd]
	if !ok {
		d.log().Warn("ignoring unknown command", "reader", d.cfg.UniqueName, "command", string(cmd))
		return false
	}

	state := d.State()
	if !state.Satisfies(required) {
		d.log().Warn("cannot send command in current state",
			"reader", d.cfg.UniqueName,
			"address", d.cfg.Address(),
			"command", string(cmd),
			"state", state.String(),
			"required", required.String(),
		)
		return false
	}

	if cmd.TargetsReader() {
		param = d.cfg.UniqueName
	}
	return d.enqueue(cmd, param)
}

// Sync asks the host to resynchronise its user database.
func (d *Driver) Sync() bool { return d.Send(CmdSync, "") }

// Emergency opens every door on the host.
func (d *Driver) Emergency() bool { return d.Send(CmdEmergency, "") }

// EmergencyEnd ends a host-wide emergency.
func (d *Driver) EmergencyEnd() bool { return d.Send(CmdEmergencyEnd, "") }

// OpenOnce pulses the reader's relay.
func (d *Driver) OpenOnce() bool { return d.Send(CmdOpenOnceReader, "") }

// Restart restarts the reader.
func (d *Driver) Restart() bool { return d.Send(CmdRestartReader, "") }

// EmergencyReader puts this reader alone into emergency mode.
func (d *Driver) EmergencyReader() bool { return d.Send(CmdEmergencyReader, "") }

// EmergencyEndReader ends emergency mode for this reader.
func (d *Driver) EmergencyEndReader() bool { return d.Send(CmdEmergencyEndReader, "") }

// Quit stops the host application.
func (d *Driver) Quit() bool { return d.Send(CmdQuit, "") }

// Reboot reboots the host.
func (d *Driver) Reboot() bool { return d.Send(CmdReboot, "") }

// PowerOff powers the host down.
func (d *Driver) PowerOff() bool { return d.Send(CmdPowerOff, "") }

// ResetUSB power-cycles the host's USB bus.
func (d *Driver) ResetUSB() bool { return d.Send(CmdResetUSB, "") }

// FakeScan injects a card scan on the host.
func (d *Driver) FakeScan(card string) bool { return d.Send(CmdFakeScan, card) }

// enqueue pushes a frame onto the write queue without blocking.
func (d *Driver) enqueue(cmd Command, param string) bool {
	select {
	case d.writeQueue <- EncodeCommand(cmd, param):
		return true
	default:
		d.commandsDropped.Add(1)
		d.log().Warn("write queue full, dropping command",
			"reader", d.cfg.UniqueName,
			"command", string(cmd),
			"queue_size", cap(d.writeQueue),
		)
		return false
	}
}

// =============================================================================
// Connection loop
// =============================================================================

// connectionLoop dials, reads until failure, and reconnects with backoff
// until the driver is closed.
func (d *Driver) connectionLoop() {
	defer d.loopWG.Done()

	attempt := 0
	for {
		if d.ctx.Err() != nil {
			return
		}

		d.setState(StateConnecting, nil)
		attempt++

		conn, err := d.dial()
		d.firstAttempt.Close()

		if err == nil {
			attempt = 0
			d.connects.Add(1)
			d.lastActivity.Store(time.Now().Unix())
			d.log().Info("tcp connected", "reader", d.cfg.UniqueName, "address", d.cfg.Address())

			if !d.attachConn(conn) {
				conn.Close()
				return
			}
			d.setState(StateTCPConnected, nil)
			d.startConfirmLoop()

			err = d.readLoop(conn)
		}

		if err != nil && d.ctx.Err() == nil {
			d.errorsTotal.Add(1)
			d.log().Warn("reader connection failed",
				"reader", d.cfg.UniqueName,
				"address", d.cfg.Address(),
				"error", err,
			)
		}

		d.stopConfirmLoop()
		d.closeConn()
		if d.ctx.Err() != nil {
			return
		}
		d.setState(StateDisconnected, err)

		delay := d.backoff.Delay(attempt)
		d.log().Debug("scheduling reconnect",
			"reader", d.cfg.UniqueName,
			"attempt", attempt,
			"delay", delay.String(),
		)

		timer := time.NewTimer(delay)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// dial opens the TCP connection, honouring DialTimeout and Close.
func (d *Driver) dial() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.DialTimeout)
	defer cancel()

	dialer := net.Dialer{KeepAlive: defaultKeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", d.cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDialFailed, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true) //nolint:errcheck // best effort
	}
	return conn, nil
}

// readLoop decodes frames until the stream fails. It always returns a
// non-nil error.
func (d *Driver) readLoop(conn net.Conn) error {
	dec := NewDecoder(conn)
	for {
		msg, err := dec.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrProtocolDesync) {
				d.log().Error("protocol desync, dropping connection", "reader", d.cfg.UniqueName, "error", err)
			}
			return fmt.Errorf("read: %w", err)
		}
		d.lastActivity.Store(time.Now().Unix())
		d.handleMessage(msg)
	}
}

// handleMessage applies one decoded frame.
func (d *Driver) handleMessage(msg Message) {
	switch msg.Type {
	case MsgConnected:
		if msg.UniqueName != d.cfg.UniqueName {
			return
		}
		d.stopConfirmLoop()
		if d.State() != StateReaderConnected {
			d.log().Info("reader connected", "reader", d.cfg.UniqueName, "address", d.cfg.Address())
		}
		d.setState(StateReaderConnected, nil)

	case MsgEvent:
		if msg.UniqueName != d.cfg.UniqueName {
			return
		}
		d.eventsReceived.Add(1)
		d.log().Debug("reader event",
			"reader", d.cfg.UniqueName,
			"user_id", msg.Event.UserID,
			"incidence", msg.Event.Incidence,
		)
		d.emit(Update{Kind: UpdateEvent, Event: msg.Event})

	case MsgLogMessage:
		hostLogFunc(d.log(), msg.Log.Level)("reader host log",
			"reader", d.cfg.UniqueName,
			"address", d.cfg.Address(),
			"level", msg.Log.Level,
			"text", msg.Log.Text,
		)

	case MsgCapacity:
		d.emit(Update{Kind: UpdateCapacity, Capacity: msg.Capacity})

	case MsgAppState:
		d.appState.Store(int32(msg.AppState))
		d.emit(Update{Kind: UpdateAppState, AppState: msg.AppState})

	case MsgReaderState:
		if msg.UniqueName != d.cfg.UniqueName {
			return
		}
		d.readerState.Store(int32(msg.ReaderState))
		d.emit(Update{Kind: UpdateReaderState, ReaderState: msg.ReaderState})
	}
}

// startConfirmLoop sends "connectreader" now and every
// ConnectReaderInterval until the device confirms or the connection ends.
func (d *Driver) startConfirmLoop() {
	ctx, cancel := context.WithCancel(d.ctx)

	d.confirmMu.Lock()
	if d.confirmCancel != nil {
		d.confirmCancel()
	}
	d.confirmCancel = cancel
	d.confirmMu.Unlock()

	d.loopWG.Add(1)
	go func() {
		defer d.loopWG.Done()

		ticker := time.NewTicker(d.cfg.ConnectReaderInterval)
		defer ticker.Stop()

		for {
			if d.IsReaderConnected() {
				return
			}
			d.log().Debug("sending connectreader", "reader", d.cfg.UniqueName)
			d.enqueue(CmdConnectReader, d.cfg.UniqueName)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// stopConfirmLoop cancels the "connectreader" loop, if any.
func (d *Driver) stopConfirmLoop() {
	d.confirmMu.Lock()
	if d.confirmCancel != nil {
		d.confirmCancel()
		d.confirmCancel = nil
	}
	d.confirmMu.Unlock()
}

// =============================================================================
// Write loop
// =============================================================================

// writeLoop is the only goroutine that writes to the socket.
func (d *Driver) writeLoop() {
	defer d.loopWG.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case frame := <-d.writeQueue:
			d.write(frame)
		}
	}
}

// write sends one frame. A failed write closes the socket so the read loop
// falls into the reconnect path.
func (d *Driver) write(frame []byte) {
	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()

	if conn == nil {
		d.log().Debug("no connection, discarding queued command", "reader", d.cfg.UniqueName)
		return
	}

	//nolint:errcheck // a failed deadline surfaces as a write error below
	conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if _, err := conn.Write(frame); err != nil {
		d.errorsTotal.Add(1)
		d.log().Warn("write failed", "reader", d.cfg.UniqueName, "address", d.cfg.Address(), "error", err)
		conn.Close()
		return
	}

	d.commandsSent.Add(1)
	d.lastActivity.Store(time.Now().Unix())
}

// =============================================================================
// Helpers
// =============================================================================

// attachConn publishes conn for the writer and for Close. It refuses once
// the driver is cancelled, so a socket dialled during Close is never kept.
func (d *Driver) attachConn(conn net.Conn) bool {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.ctx.Err() != nil {
		return false
	}
	d.conn = conn
	return true
}

// hostLogFunc maps a host log level to a logger method:
// 0 debug, 1 info, 2 warn, 3 and above error.
func hostLogFunc(l Logger, level int32) func(string, ...any) {
	switch {
	case level <= 0:
		return l.Debug
	case level == 1:
		return l.Info
	case level == 2:
		return l.Warn
	default:
		return l.Error
	}
}

func (d *Driver) closeConn() {
	d.connMu.Lock()
	conn := d.conn
	d.conn = nil
	d.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// setState records a transition and emits it. Repeated states are ignored.
func (d *Driver) setState(s TCPState, err error) {
	if TCPState(d.state.Swap(int32(s))) == s {
		return
	}
	d.emit(Update{Kind: UpdateState, State: s, Err: err})
}

// emit queues an update for the handler without blocking the socket loops.
// When the queue is full, events are dropped but the latest state update is
// kept aside and delivered once the queue has drained.
func (d *Driver) emit(u Update) {
	if d.handler == nil {
		return
	}
	u.At = time.Now().UTC()

	if u.Kind == UpdateState {
		d.emitState(u)
		return
	}

	select {
	case d.updates <- u:
	default:
		d.updatesDropped.Add(1)
		d.log().Warn("update queue full, dropping update", "reader", d.cfg.UniqueName, "kind", int(u.Kind))
	}
}

func (d *Driver) emitState(u Update) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if d.pendingState == nil {
		select {
		case d.updates <- u:
			return
		default:
		}
	}

	d.pendingState = &u
	select {
	case d.stateKick <- struct{}{}:
	default:
	}
}

// drainUpdates delivers everything queued, then the pending state update.
func (d *Driver) drainUpdates() {
	for {
		select {
		case u := <-d.updates:
			d.deliver(u)
			continue
		default:
		}

		d.pendingMu.Lock()
		pending := d.pendingState
		d.pendingState = nil
		d.pendingMu.Unlock()

		if pending == nil {
			return
		}
		d.deliver(*pending)
	}
}

// dispatchLoop hands updates to the handler in order. On shutdown it
// delivers whatever is still queued, then exits.
func (d *Driver) dispatchLoop() {
	defer d.dispatchWG.Done()

	for {
		select {
		case u := <-d.updates:
			d.deliver(u)
		case <-d.stateKick:
			d.drainUpdates()
		case <-d.dispatchDone.Done():
			d.drainUpdates()
			return
		}
	}
}

// deliver invokes the handler, recovering panics.
func (d *Driver) deliver(u Update) {
	if d.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log().Error("update handler panic", "reader", d.cfg.UniqueName, "panic", r)
		}
	}()
	d.handler(u)
}
