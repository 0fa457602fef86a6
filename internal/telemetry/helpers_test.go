package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/cardpass-core/internal/audit"
	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
	"github.com/nerrad567/cardpass-core/internal/connection"
	"github.com/nerrad567/cardpass-core/internal/reader"
)

type published struct {
	topic    string
	v        any
	retained bool
}

type fakePublisher struct {
	mu        sync.Mutex
	msgs      []published
	connected bool
	err       error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{connected: true}
}

func (p *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, v: v, retained: retained})
	return nil
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func (p *fakePublisher) last() (published, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.msgs) == 0 {
		return published{}, false
	}
	return p.msgs[len(p.msgs)-1], true
}

type fakeMetrics struct {
	mu         sync.Mutex
	events     []string
	states     []string
	capacities []int32
}

func (m *fakeMetrics) WriteReaderEvent(_ int, _ string, _ int32, incidence string, _ time.Time) {
	m.mu.Lock()
	m.events = append(m.events, incidence)
	m.mu.Unlock()
}

func (m *fakeMetrics) WriteConnectionState(_ int, _ string, state string, _ bool, _ time.Time) {
	m.mu.Lock()
	m.states = append(m.states, state)
	m.mu.Unlock()
}

func (m *fakeMetrics) WriteCapacity(_ int, _ string, current, _ int32, _ time.Time) {
	m.mu.Lock()
	m.capacities = append(m.capacities, current)
	m.mu.Unlock()
}

type fakeStore struct {
	mu      sync.Mutex
	records []reader.EventRecord
	err     error
}

func (s *fakeStore) Record(_ context.Context, ev *reader.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	ev.ID = int64(len(s.records) + 1)
	s.records = append(s.records, *ev)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fakeSource struct {
	ch chan connection.Notification
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan connection.Notification, 8)}
}

func (s *fakeSource) Subscribe(int) (<-chan connection.Notification, func()) {
	var once sync.Once
	return s.ch, func() { once.Do(func() { close(s.ch) }) }
}

type fakeStats struct {
	ready bool
	stats connection.Stats
}

func (s *fakeStats) Stats() connection.Stats { return s.stats }
func (s *fakeStats) IsReady() bool           { return s.ready }

var errNotTracked = errors.New("not tracked")

type call struct {
	op    string
	id    int
	cmd   lmpi.Command
	param string
}

type fakeController struct {
	mu      sync.Mutex
	calls   []call
	known   map[int]bool
	reject  bool
	drivers int
}

func newFakeController(ids ...int) *fakeController {
	known := make(map[int]bool)
	for _, id := range ids {
		known[id] = true
	}
	return &fakeController{known: known, drivers: len(ids)}
}

func (c *fakeController) record(op string, id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{op: op, id: id})
	return c.known[id] && !c.reject
}

func (c *fakeController) OpenRelay(id int) bool { return c.record("open", id) }
func (c *fakeController) Restart(id int) bool   { return c.record("restart", id) }

func (c *fakeController) SendCommand(id int, cmd lmpi.Command, param string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{op: "send", id: id, cmd: cmd, param: param})
	return c.known[id] && !c.reject
}

func (c *fakeController) Connect(_ context.Context, id int) error {
	if !c.record("connect", id) {
		return errNotTracked
	}
	return nil
}

func (c *fakeController) Disconnect(id int) error {
	if !c.record("disconnect", id) {
		return errNotTracked
	}
	return nil
}

func (c *fakeController) SetEnabled(_ context.Context, id int, enabled bool) error {
	op := "disable"
	if enabled {
		op = "enable"
	}
	if !c.record(op, id) {
		return errNotTracked
	}
	return nil
}

func (c *fakeController) EmergencyOpen() int {
	c.record("emergency", 0)
	return c.drivers
}

func (c *fakeController) EmergencyEnd() int {
	c.record("emergency_end", 0)
	return c.drivers
}

func (c *fakeController) lastCall() call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return call{}
	}
	return c.calls[len(c.calls)-1]
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (b *fakeBroadcaster) Send(payload string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return false
	}
	b.sent = append(b.sent, payload)
	return true
}

func testInfo(id int, name string, state connection.State) connection.ConnectionInfo {
	return connection.ConnectionInfo{
		Reader: reader.Reader{ID: id, UniqueName: name, IPAddress: "10.0.0.1", Port: 5000, Enabled: true},
		State:  state,
	}
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.AuditLog
	err     error
}

func (a *fakeAudit) Create(_ context.Context, log *audit.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, *log)
	return nil
}

func (a *fakeAudit) all() []audit.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.AuditLog(nil), a.entries...)
}
