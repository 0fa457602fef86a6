package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
	"github.com/nerrad567/cardpass-core/internal/reader"
)

// DefaultStartConcurrency caps simultaneous connect attempts during Start.
const DefaultStartConcurrency = 10

// Config tunes the Manager and the drivers it builds.
type Config struct {
	// StartConcurrency caps simultaneous first connect attempts during the
	// startup sweep.
	// Default: 10.
	StartConcurrency int

	// RetryInterval is the base reconnect delay used when the settings store
	// holds no usable connectionRetriesIntervalSeconds value.
	// Default: 30 seconds.
	RetryInterval time.Duration

	// Driver tuning, passed through to every driver. Zero values select the
	// driver defaults.
	MaxBackoff            time.Duration
	Jitter                time.Duration
	ConnectReaderInterval time.Duration
	DialTimeout           time.Duration
	WriteQueueSize        int
}

func (c *Config) applyDefaults() {
	if c.StartConcurrency <= 0 {
		c.StartConcurrency = DefaultStartConcurrency
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = lmpi.DefaultRetryInterval
	}
}

// driverEntry pairs a driver with the session its updates are tagged with.
// Updates carrying any other session come from a replaced driver.
type driverEntry struct {
	driver  Driver
	session uuid.UUID
}

// dialSettings are the store-backed values read before building drivers.
type dialSettings struct {
	retryInterval time.Duration
	useEffective  bool
}

// Manager owns one driver per enabled reader and the registry of live
// connection state for every known reader.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The registry and driver table are guarded by one mutex held only for
//     map updates; drivers are never started or closed under it.
//   - At most one driver and one registry entry exist per reader ID.
type Manager struct {
	repo     reader.Repository
	settings reader.Settings
	factory  DriverFactory
	cfg      Config

	mu      sync.RWMutex
	infos   map[int]*ConnectionInfo
	drivers map[int]driverEntry

	// rev counts registry mutations; revs holds the rev of the last
	// mutation per reader ID and outlives removed entries. Work planned
	// against an older rev is discarded instead of resurrecting state.
	rev  uint64
	revs map[int]uint64

	started   atomic.Bool
	stopped   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once

	notes *notifier

	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager creates an idle manager.
//
// Parameters:
//   - repo: Reader store
//   - settings: Key/value store for retry interval and effective-IP flag (may be nil)
//   - factory: Builds drivers; nil selects LMPIFactory without logging
//   - cfg: Tuning (defaults applied to zero fields)
//
// Returns:
//   - *Manager: Manager ready for Start
func NewManager(repo reader.Repository, settings reader.Settings, factory DriverFactory, cfg Config) *Manager {
	cfg.applyDefaults()
	if factory == nil {
		factory = LMPIFactory(nil)
	}
	return &Manager{
		repo:     repo,
		settings: settings,
		factory:  factory,
		cfg:      cfg,
		infos:    make(map[int]*ConnectionInfo),
		drivers:  make(map[int]driverEntry),
		rev:      1,
		revs:     make(map[int]uint64),
		ready:    make(chan struct{}),
		notes:    newNotifier(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for this manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

func (m *Manager) log() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start loads every non-deleted reader, publishes an Idle entry for each and
// starts drivers for the enabled ones, at most StartConcurrency connect
// attempts at a time. It returns once every enabled reader has had its first
// attempt.
//
// Start runs once. A second call logs a warning and returns
// ErrAlreadyStarted. Ready is closed when Start returns, whatever the outcome.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		m.log().Warn("connection manager already started, ignoring start")
		return ErrAlreadyStarted
	}
	defer m.markReady()

	if m.stopped.Load() {
		return ErrStopped
	}

	m.mu.RLock()
	loadedAt := m.rev
	m.mu.RUnlock()

	all, err := m.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("loading readers: %w", err)
	}
	ds := m.loadDialSettings(ctx)

	// Readers added, updated or removed through the Manager while the list
	// was loading are already handled; the sweep leaves them alone.
	m.mu.Lock()
	readers := make([]reader.Reader, 0, len(all))
	notes := make([]Notification, 0, len(all))
	for _, r := range all {
		if m.revs[r.ID] > loadedAt {
			continue
		}
		readers = append(readers, r)
		notes = append(notes, noteFor(StateChanged, m.ensureInfoLocked(r)))
	}
	asOf := m.rev
	m.mu.Unlock()
	m.publish(notes...)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.StartConcurrency)

	enabled := 0
	for _, r := range readers {
		if !r.Enabled {
			continue
		}
		enabled++
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			d := m.startDriverIfCurrent(r, ds, asOf)
			if d == nil {
				return nil
			}
			select {
			case <-d.FirstAttempt():
			case <-gctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never fail

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("startup sweep interrupted: %w", err)
	}

	m.log().Info("connection manager started",
		"readers", len(readers),
		"enabled", enabled,
		"concurrency", m.cfg.StartConcurrency,
	)
	return nil
}

// Ready is closed once the startup sweep has finished (or Stop was called).
// Nothing reading the registry for reconciliation should run before it.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// IsReady reports whether Ready is closed.
func (m *Manager) IsReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

func (m *Manager) markReady() {
	m.readyOnce.Do(func() { close(m.ready) })
}

// Stop closes every driver, waits for them to exit and clears the registry.
// Subscriber channels are closed. Safe to call multiple times.
func (m *Manager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	olds := make([]Driver, 0, len(m.drivers))
	for id, e := range m.drivers {
		olds = append(olds, e.driver)
		delete(m.drivers, id)
	}
	clear(m.infos)
	m.mu.Unlock()

	closeDrivers(olds...)
	m.markReady()
	m.notes.close()

	m.log().Info("connection manager stopped", "drivers_closed", len(olds))
}

// =============================================================================
// Connection control
// =============================================================================

// Connect rebuilds the driver for id from freshly loaded configuration.
// Returns reader.ErrReaderNotFound if the reader no longer exists.
func (m *Manager) Connect(ctx context.Context, id int) error {
	if m.stopped.Load() {
		return ErrStopped
	}

	m.mu.Lock()
	old := m.removeDriverLocked(id)
	asOf := m.rev
	var note *Notification
	if info, ok := m.infos[id]; ok && old != nil {
		info.State = StateDisconnected
		n := noteFor(StateChanged, info)
		note = &n
	}
	m.mu.Unlock()

	closeDrivers(old)
	if note != nil {
		m.publish(*note)
	}

	r, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if m.startDriverIfCurrent(*r, m.loadDialSettings(ctx), asOf) == nil && !m.stopped.Load() {
		m.log().Debug("reader changed during connect, not starting driver", "reader_id", id)
	}
	return nil
}

// Disconnect closes the driver for id and marks the entry Disconnected.
// Returns ErrReaderNotTracked if the registry has no entry for id.
func (m *Manager) Disconnect(id int) error {
	if m.stopped.Load() {
		return ErrStopped
	}

	m.mu.Lock()
	old := m.removeDriverLocked(id)
	info, ok := m.infos[id]
	var note Notification
	if ok {
		info.State = StateDisconnected
		info.LastError = ""
		note = noteFor(StateChanged, info)
	}
	m.mu.Unlock()

	closeDrivers(old)
	if !ok {
		return ErrReaderNotTracked
	}
	m.publish(note)
	return nil
}

// SetEnabled persists the flag, then connects or disconnects the reader.
func (m *Manager) SetEnabled(ctx context.Context, id int, enabled bool) error {
	if m.stopped.Load() {
		return ErrStopped
	}
	if err := m.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}

	m.mu.Lock()
	if info, ok := m.infos[id]; ok {
		info.Reader.Enabled = enabled
		m.touchLocked(id)
	}
	m.mu.Unlock()

	if enabled {
		return m.Connect(ctx, id)
	}
	if err := m.Disconnect(id); err != nil && !errors.Is(err, ErrReaderNotTracked) {
		return err
	}
	return nil
}

// =============================================================================
// Reader lifecycle
// =============================================================================

// AddReader persists r (assigning its ID) and tracks it. A driver is started
// only when r is enabled.
func (m *Manager) AddReader(ctx context.Context, r *reader.Reader) error {
	if m.stopped.Load() {
		return ErrStopped
	}
	if err := m.repo.Insert(ctx, r); err != nil {
		return err
	}

	if r.Enabled {
		m.startDriver(*r, m.loadDialSettings(ctx))
		return nil
	}

	m.mu.Lock()
	note := noteFor(StateChanged, m.ensureInfoLocked(*r))
	m.mu.Unlock()
	m.publish(note)
	return nil
}

// UpdateReader persists r and always discards its old driver. A new driver
// is built when r is enabled; otherwise the entry becomes Disconnected.
func (m *Manager) UpdateReader(ctx context.Context, r *reader.Reader) error {
	if m.stopped.Load() {
		return ErrStopped
	}
	if err := m.repo.Update(ctx, r); err != nil {
		return err
	}

	if r.Enabled {
		m.startDriver(*r, m.loadDialSettings(ctx))
		return nil
	}

	m.mu.Lock()
	old := m.removeDriverLocked(r.ID)
	info := m.ensureInfoLocked(*r)
	info.State = StateDisconnected
	note := noteFor(StateChanged, info)
	m.mu.Unlock()

	closeDrivers(old)
	m.publish(note)
	return nil
}

// RemoveReader closes the reader's driver, soft-deletes it and drops its
// registry entry. The entry is dropped even when the store fails; the
// synchronizer restores it if the reader still exists.
func (m *Manager) RemoveReader(ctx context.Context, id int) error {
	if m.stopped.Load() {
		return ErrStopped
	}

	closeDrivers(m.detach(id))
	err := m.repo.SoftDelete(ctx, id)

	m.mu.Lock()
	info, ok := m.infos[id]
	var note Notification
	if ok {
		note = noteFor(ReaderRemoved, info)
	}
	m.deleteInfoLocked(id)
	m.mu.Unlock()

	if ok {
		m.publish(note)
	}
	return err
}

// =============================================================================
// Commands
// =============================================================================

// OpenRelay pulses the reader's relay. Returns false when the reader has no
// driver or the command could not be queued.
func (m *Manager) OpenRelay(id int) bool {
	d := m.driver(id)
	return d != nil && d.OpenOnce()
}

// Restart restarts the reader. Returns false when the reader has no driver
// or the command could not be queued.
func (m *Manager) Restart(id int) bool {
	d := m.driver(id)
	return d != nil && d.Restart()
}

// SendCommand forwards any protocol command to the reader's driver.
func (m *Manager) SendCommand(id int, cmd lmpi.Command, param string) bool {
	d := m.driver(id)
	return d != nil && d.Send(cmd, param)
}

// EmergencyOpen sends "emergency" over every tracked connection and returns
// how many drivers queued it.
func (m *Manager) EmergencyOpen() int {
	queued := 0
	for _, d := range m.allDrivers() {
		if d.Emergency() {
			queued++
		}
	}
	m.log().Warn("emergency open issued", "drivers_queued", queued)
	return queued
}

// EmergencyEnd sends "emergencyend" over every tracked connection and
// returns how many drivers queued it.
func (m *Manager) EmergencyEnd() int {
	queued := 0
	for _, d := range m.allDrivers() {
		if d.EmergencyEnd() {
			queued++
		}
	}
	m.log().Info("emergency end issued", "drivers_queued", queued)
	return queued
}

// =============================================================================
// Synchronisation
// =============================================================================

// applySyncDiff applies a diff computed by the Synchronizer. All registry
// and driver-table changes happen under one lock acquisition.
func (m *Manager) applySyncDiff(ctx context.Context, diff SyncDiff) {
	if diff.Empty() || m.stopped.Load() {
		return
	}
	ds := m.loadDialSettings(ctx)

	var olds, fresh []Driver
	var notes []Notification
	skipped := 0

	// Entries changed after the snapshot the diff was computed from are
	// left alone; the next poll sees their current state.
	stale := func(id int) bool {
		if diff.asOf == 0 || m.revs[id] <= diff.asOf {
			return false
		}
		skipped++
		return true
	}

	apply := func(r reader.Reader, updated bool) {
		if stale(r.ID) {
			return
		}
		if r.Enabled {
			old, d, info := m.installLocked(r, ds)
			olds = append(olds, old)
			fresh = append(fresh, d)
			notes = append(notes, noteFor(StateChanged, info))
			return
		}
		olds = append(olds, m.removeDriverLocked(r.ID))
		info := m.ensureInfoLocked(r)
		if updated {
			info.State = StateDisconnected
		}
		notes = append(notes, noteFor(StateChanged, info))
	}

	m.mu.Lock()
	for _, id := range diff.Removed {
		if stale(id) {
			continue
		}
		olds = append(olds, m.removeDriverLocked(id))
		if info, ok := m.infos[id]; ok {
			notes = append(notes, noteFor(ReaderRemoved, info))
		}
		m.deleteInfoLocked(id)
	}
	for _, r := range diff.Added {
		apply(r, false)
	}
	for _, r := range diff.Updated {
		apply(r, true)
	}
	m.mu.Unlock()

	closeDrivers(olds...)
	m.publish(notes...)
	for _, d := range fresh {
		d.Start()
	}

	m.log().Info("applied reader sync diff",
		"added", len(diff.Added),
		"updated", len(diff.Updated),
		"removed", len(diff.Removed),
		"skipped", skipped,
	)
}

// readerSnapshot returns the configuration of every tracked reader and the
// registry revision it reflects.
func (m *Manager) readerSnapshot() (map[int]reader.Reader, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(map[int]reader.Reader, len(m.infos))
	for id, info := range m.infos {
		snap[id] = info.Reader
	}
	return snap, m.rev
}

// =============================================================================
// Registry views
// =============================================================================

// Readers returns a copy of every registry entry ordered by reader ID.
func (m *Manager) Readers() []ConnectionInfo {
	m.mu.RLock()
	out := make([]ConnectionInfo, 0, len(m.infos))
	for _, info := range m.infos {
		out = append(out, *info)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Reader.ID < out[j].Reader.ID })
	return out
}

// Info returns a copy of one registry entry.
func (m *Manager) Info(id int) (ConnectionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.infos[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	return *info, true
}

// DriverStats returns the statistics of the reader's driver, if any.
func (m *Manager) DriverStats(id int) (lmpi.Stats, bool) {
	d := m.driver(id)
	if d == nil {
		return lmpi.Stats{}, false
	}
	return d.Stats(), true
}

// Subscribe returns a channel receiving every notification published after
// the call, and a func that cancels the subscription. Notifications are
// dropped for a subscriber whose buffer is full.
func (m *Manager) Subscribe(buffer int) (<-chan Notification, func()) {
	return m.notes.subscribe(buffer)
}

// Stats summarises the manager for health reporting.
type Stats struct {
	Readers              int            `json:"readers"`
	Drivers              int            `json:"drivers"`
	States               map[string]int `json:"states"`
	Subscribers          int            `json:"subscribers"`
	NotificationsDropped uint64         `json:"notifications_dropped"`
	CommandsSent         uint64         `json:"commands_sent"`
	CommandsDropped      uint64         `json:"commands_dropped"`
	EventsReceived       uint64         `json:"events_received"`
	UpdatesDropped       uint64         `json:"updates_dropped"`
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		Readers: len(m.infos),
		Drivers: len(m.drivers),
		States:  make(map[string]int),
	}
	for _, info := range m.infos {
		s.States[info.State.String()]++
	}
	m.mu.RUnlock()

	for _, d := range m.allDrivers() {
		ds := d.Stats()
		s.CommandsSent += ds.CommandsSent
		s.CommandsDropped += ds.CommandsDropped
		s.EventsReceived += ds.EventsReceived
		s.UpdatesDropped += ds.UpdatesDropped
	}
	s.Subscribers = m.notes.count()
	s.NotificationsDropped = m.notes.dropped.Load()
	return s
}

// =============================================================================
// Driver table
// =============================================================================

// startDriver installs and starts a fresh driver for r. Returns nil after
// Stop.
func (m *Manager) startDriver(r reader.Reader, ds dialSettings) Driver {
	m.mu.Lock()
	if m.stopped.Load() {
		m.mu.Unlock()
		return nil
	}
	old, d, info := m.installLocked(r, ds)
	note := noteFor(StateChanged, info)
	m.mu.Unlock()

	closeDrivers(old)
	m.publish(note)
	d.Start()
	return d
}

// startDriverIfCurrent is startDriver for work planned at registry revision
// asOf. It does nothing if the reader's entry or driver changed since, or
// if the entry was removed.
func (m *Manager) startDriverIfCurrent(r reader.Reader, ds dialSettings, asOf uint64) Driver {
	m.mu.Lock()
	if m.stopped.Load() || m.revs[r.ID] > asOf {
		m.mu.Unlock()
		return nil
	}
	old, d, info := m.installLocked(r, ds)
	note := noteFor(StateChanged, info)
	m.mu.Unlock()

	closeDrivers(old)
	m.publish(note)
	d.Start()
	return d
}

// installLocked replaces the driver for r.ID with a new, unstarted one and
// marks the entry Connecting. The caller holds m.mu, and must close old and
// start the new driver after releasing it.
func (m *Manager) installLocked(r reader.Reader, ds dialSettings) (old, fresh Driver, info *ConnectionInfo) {
	old = m.removeDriverLocked(r.ID)

	info = m.ensureInfoLocked(r)
	now := time.Now().UTC()
	info.State = StateConnecting
	info.LastAttemptAt = &now
	info.LastError = ""

	session := uuid.New()
	fresh = m.factory(m.driverConfig(r, ds), m.updateHandler(r.ID, session))
	m.drivers[r.ID] = driverEntry{driver: fresh, session: session}

	m.log().Debug("driver installed",
		"reader_id", r.ID,
		"unique_name", r.UniqueName,
		"session", session.String(),
	)
	return old, fresh, info
}

// removeDriverLocked drops the driver for id from the table and returns it
// (nil if there was none). The caller holds m.mu.
func (m *Manager) removeDriverLocked(id int) Driver {
	m.touchLocked(id)
	e, ok := m.drivers[id]
	if !ok {
		return nil
	}
	delete(m.drivers, id)
	return e.driver
}

// ensureInfoLocked returns the entry for r.ID, creating an Idle one if
// missing, and refreshes its reader configuration. The caller holds m.mu.
func (m *Manager) ensureInfoLocked(r reader.Reader) *ConnectionInfo {
	m.touchLocked(r.ID)
	info, ok := m.infos[r.ID]
	if !ok {
		info = newConnectionInfo(r)
		m.infos[r.ID] = info
		return info
	}
	info.Reader = r
	return info
}

// deleteInfoLocked drops the registry entry for id. The caller holds m.mu.
func (m *Manager) deleteInfoLocked(id int) {
	m.touchLocked(id)
	delete(m.infos, id)
}

// touchLocked records a mutation of id. The caller holds m.mu.
func (m *Manager) touchLocked(id int) {
	m.rev++
	m.revs[id] = m.rev
}

// detach removes and returns the driver for id.
func (m *Manager) detach(id int) Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeDriverLocked(id)
}

func (m *Manager) driver(id int) Driver {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.drivers[id]
	if !ok {
		return nil
	}
	return e.driver
}

func (m *Manager) allDrivers() []Driver {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Driver, 0, len(m.drivers))
	for _, e := range m.drivers {
		out = append(out, e.driver)
	}
	return out
}

// closeDrivers closes every non-nil driver in parallel and waits.
func closeDrivers(drivers ...Driver) {
	var wg sync.WaitGroup
	for _, d := range drivers {
		if d == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Close() //nolint:errcheck // Close always succeeds
		}()
	}
	wg.Wait()
}

// =============================================================================
// Driver updates
// =============================================================================

// updateHandler returns the callback for the driver of readerID installed
// under session.
func (m *Manager) updateHandler(readerID int, session uuid.UUID) func(lmpi.Update) {
	return func(u lmpi.Update) {
		m.handleUpdate(readerID, session, u)
	}
}

// handleUpdate applies one driver update to the registry. Updates from a
// driver that has since been replaced or removed are ignored.
func (m *Manager) handleUpdate(readerID int, session uuid.UUID, u lmpi.Update) {
	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	m.mu.Lock()
	e, ok := m.drivers[readerID]
	info := m.infos[readerID]
	if !ok || e.session != session || info == nil {
		m.mu.Unlock()
		return
	}

	var note Notification
	switch u.Kind {
	case lmpi.UpdateState:
		info.State = stateFromDriver(u.State)
		switch info.State {
		case StateConnecting:
			info.LastAttemptAt = &at
		case StateReaderConnected:
			info.ConnectedAt = &at
			info.LastError = ""
		case StateDisconnected:
			if u.Err != nil {
				info.LastError = u.Err.Error()
			}
		}
		note = noteFor(StateChanged, info)

	case lmpi.UpdateEvent:
		note = noteFor(EventReceived, info)
		note.Event = u.Event

	case lmpi.UpdateCapacity:
		if u.Capacity != nil {
			c := *u.Capacity
			info.Capacity = &c
		}
		note = noteFor(CapacityChanged, info)

	case lmpi.UpdateAppState:
		info.AppState = u.AppState
		note = noteFor(StateChanged, info)

	case lmpi.UpdateReaderState:
		info.ReaderState = u.ReaderState
		note = noteFor(StateChanged, info)

	default:
		m.mu.Unlock()
		return
	}
	note.At = at
	m.mu.Unlock()

	m.publish(note)
}

func noteFor(kind NotificationKind, info *ConnectionInfo) Notification {
	return Notification{Kind: kind, Info: *info, At: time.Now().UTC()}
}

func (m *Manager) publish(notes ...Notification) {
	for _, n := range notes {
		m.notes.publish(n)
	}
}

// =============================================================================
// Settings
// =============================================================================

// loadDialSettings reads the retry interval and effective-IP flag. Store
// errors are logged and the defaults used.
func (m *Manager) loadDialSettings(ctx context.Context) dialSettings {
	ds := dialSettings{retryInterval: m.cfg.RetryInterval}
	if m.settings == nil {
		return ds
	}

	secs, err := reader.PositiveInt(ctx, m.settings, reader.SettingRetryInterval, 0)
	if err != nil {
		m.log().Warn("reading retry interval failed, using default",
			"error", err,
			"default", m.cfg.RetryInterval.String(),
		)
	}
	if secs > 0 {
		ds.retryInterval = time.Duration(secs) * time.Second
	}

	use, err := reader.Flag(ctx, m.settings, reader.SettingUseEffectiveIP)
	if err != nil {
		m.log().Warn("reading effective ip flag failed", "error", err)
	}
	ds.useEffective = use
	return ds
}

func (m *Manager) driverConfig(r reader.Reader, ds dialSettings) lmpi.Config {
	return lmpi.Config{
		Host:                  r.EffectiveIP(ds.useEffective),
		Port:                  r.Port,
		UniqueName:            r.UniqueName,
		RetryInterval:         ds.retryInterval,
		MaxBackoff:            m.cfg.MaxBackoff,
		Jitter:                m.cfg.Jitter,
		ConnectReaderInterval: m.cfg.ConnectReaderInterval,
		DialTimeout:           m.cfg.DialTimeout,
		WriteQueueSize:        m.cfg.WriteQueueSize,
	}
}
