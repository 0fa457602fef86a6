package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/database"
	"github.com/nerrad567/cardpass-core/internal/reader"
	_ "github.com/nerrad567/cardpass-core/migrations" // registers the schema
)

// =============================================================================
// Fake driver
// =============================================================================

// fakeDriver records what the Manager asks of it and lets tests inject
// updates through the handler the Manager installed.
type fakeDriver struct {
	cfg     lmpi.Config
	handler func(lmpi.Update)

	mu      sync.Mutex
	started bool
	closed  bool
	state   lmpi.TCPState
	sent    []lmpi.Command

	firstAttempt chan struct{}
	faOnce       sync.Once
	hold         <-chan struct{}
	onStart      func()
}

func (d *fakeDriver) resolveFirstAttempt() {
	d.faOnce.Do(func() { close(d.firstAttempt) })
}

func (d *fakeDriver) Start() {
	d.mu.Lock()
	if d.closed || d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	if d.onStart != nil {
		d.onStart()
	}
	if d.hold == nil {
		d.resolveFirstAttempt()
		return
	}
	go func() {
		<-d.hold
		d.resolveFirstAttempt()
	}()
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.resolveFirstAttempt()
	return nil
}

func (d *fakeDriver) FirstAttempt() <-chan struct{} { return d.firstAttempt }

func (d *fakeDriver) State() lmpi.TCPState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDriver) Stats() lmpi.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lmpi.Stats{CommandsSent: uint64(len(d.sent)), State: d.state}
}

func (d *fakeDriver) Send(cmd lmpi.Command, _ string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.state.Satisfies(cmd.RequiredState()) {
		return false
	}
	d.sent = append(d.sent, cmd)
	return true
}

func (d *fakeDriver) OpenOnce() bool     { return d.Send(lmpi.CmdOpenOnceReader, "") }
func (d *fakeDriver) Restart() bool      { return d.Send(lmpi.CmdRestartReader, "") }
func (d *fakeDriver) Emergency() bool    { return d.Send(lmpi.CmdEmergency, "") }
func (d *fakeDriver) EmergencyEnd() bool { return d.Send(lmpi.CmdEmergencyEnd, "") }

// setState moves the fake to s and reports it like a real driver would.
func (d *fakeDriver) setState(s lmpi.TCPState, err error) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.handler(lmpi.Update{Kind: lmpi.UpdateState, State: s, Err: err, At: time.Now().UTC()})
}

func (d *fakeDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDriver) isStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *fakeDriver) sentCommands() []lmpi.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]lmpi.Command(nil), d.sent...)
}

// fakeFactory builds fakeDrivers and remembers them by unique name.
type fakeFactory struct {
	mu      sync.Mutex
	drivers []*fakeDriver
	hold    chan struct{}
	onStart func()
}

func (f *fakeFactory) build(cfg lmpi.Config, handler func(lmpi.Update)) Driver {
	d := &fakeDriver{
		cfg:          cfg,
		handler:      handler,
		firstAttempt: make(chan struct{}),
		hold:         f.hold,
		onStart:      f.onStart,
	}
	f.mu.Lock()
	f.drivers = append(f.drivers, d)
	f.mu.Unlock()
	return d
}

// byName returns every driver built for uniqueName, oldest first.
func (f *fakeFactory) byName(uniqueName string) []*fakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeDriver
	for _, d := range f.drivers {
		if d.cfg.UniqueName == uniqueName {
			out = append(out, d)
		}
	}
	return out
}

// latest returns the newest driver built for uniqueName.
func (f *fakeFactory) latest(t *testing.T, uniqueName string) *fakeDriver {
	t.Helper()
	ds := f.byName(uniqueName)
	if len(ds) == 0 {
		t.Fatalf("no driver built for %q", uniqueName)
	}
	return ds[len(ds)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drivers)
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	repo     *reader.SQLiteRepository
	settings *reader.SettingsStore
	factory  *fakeFactory
	manager  *Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	f := &fixture{
		repo:     reader.NewSQLiteRepository(db.DB),
		settings: reader.NewSettingsStore(db.DB),
		factory:  &fakeFactory{},
	}
	f.manager = NewManager(f.repo, f.settings, f.factory.build, cfg)

	t.Cleanup(func() {
		f.manager.Stop()
		db.Close()
	})
	return f
}

// seed inserts readers straight into the store, bypassing the Manager.
func (f *fixture) seed(t *testing.T, readers ...*reader.Reader) {
	t.Helper()
	for _, r := range readers {
		if err := f.repo.Insert(context.Background(), r); err != nil {
			t.Fatalf("seed Insert(%s) error = %v", r.UniqueName, err)
		}
	}
}

func newReader(name, ip string, enabled bool) *reader.Reader {
	return &reader.Reader{
		Description: "Door " + name,
		IPAddress:   ip,
		UniqueName:  name,
		Enabled:     enabled,
		Driver:      reader.DriverLMPI,
	}
}

func mustInfo(t *testing.T, m *Manager, id int) ConnectionInfo {
	t.Helper()
	info, ok := m.Info(id)
	if !ok {
		t.Fatalf("no registry entry for reader %d", id)
	}
	return info
}

// waitNote reads from ch until match succeeds or the timeout expires.
func waitNote(t *testing.T, ch <-chan Notification, match func(Notification) bool) Notification {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatal("notification channel closed")
			}
			if match(n) {
				return n
			}
		case <-timeout:
			t.Fatal("timed out waiting for notification")
			return Notification{}
		}
	}
}
