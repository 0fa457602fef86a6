package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/cardpass-core/internal/infrastructure/config"
)

// fakeInflux answers /ping and records line protocol posted to
// /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu    sync.Mutex
	lines []string
	fail  bool
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.mu.Lock()
			fail := f.fail
			if !fail {
				f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			}
			f.mu.Unlock()
			if fail {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"code":"invalid","message":"bad point"}`) //nolint:errcheck // test server
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "cardpass-test-token",
		Org:           "cardpass",
		Bucket:        "readers",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// =============================================================================
// Points
// =============================================================================

func TestPoints(t *testing.T) {
	at := time.Unix(1700000000, 0)

	tests := []struct {
		name  string
		point *write.Point
		want  []string
	}{
		{
			name:  "reader event",
			point: readerEventPoint(3, "door-a", 1042, "granted", at),
			want:  []string{"reader_event,", "incidence=granted", "reader_id=3", "unique_name=door-a", "user_id=1042i"},
		},
		{
			name:  "connection up",
			point: connectionStatePoint(3, "door-a", "reader_connected", true, at),
			want:  []string{"reader_connection,", `state="reader_connected"`, "connected=1i"},
		},
		{
			name:  "connection down",
			point: connectionStatePoint(3, "door-a", "disconnected", false, at),
			want:  []string{"connected=0i"},
		},
		{
			name:  "capacity",
			point: capacityPoint(4, "gate", 12, 40, at),
			want:  []string{"reader_capacity,", "reader_id=4", "current=12i", "maximum=40i"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(tt.point, time.Second)
			for _, want := range tt.want {
				if !strings.Contains(line, want) {
					t.Errorf("line %q does not contain %q", line, want)
				}
			}
			if !strings.HasSuffix(strings.TrimSpace(line), " 1700000000") {
				t.Errorf("line %q does not end with the timestamp", line)
			}
		})
	}
}

// =============================================================================
// Client
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if _, err := Connect(testConfig("http://127.0.0.1:1")); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClientWrites(t *testing.T) {
	srv := newFakeInflux(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = 0
	cfg.FlushInterval = 0

	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	now := time.Now()
	c.WriteReaderEvent(1, "door-a", 77, "granted", now)
	c.WriteConnectionState(1, "door-a", "reader_connected", true, now)
	c.WriteCapacity(1, "door-a", 5, 20, now)
	c.Flush()

	lines := srv.written()
	if len(lines) != 3 {
		t.Fatalf("server received %d lines, want 3: %v", len(lines), lines)
	}
	for i, prefix := range []string{MeasurementReaderEvent, MeasurementConnectionState, MeasurementReaderCapacity} {
		if !strings.HasPrefix(lines[i], prefix+",") {
			t.Errorf("line %d = %q, want measurement %s", i, lines[i], prefix)
		}
	}
}

func TestClientWriteErrorCallback(t *testing.T) {
	srv := newFakeInflux(t)
	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	errs := make(chan error, 4)
	c.SetOnError(func(err error) { errs <- err })

	srv.mu.Lock()
	srv.fail = true
	srv.mu.Unlock()

	c.WriteReaderEvent(1, "door-a", 1, "denied", time.Now())
	c.Flush()

	select {
	case <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("write error not reported")
	}
}

func TestClose(t *testing.T) {
	srv := newFakeInflux(t)
	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}

	// Writes after Close are dropped silently.
	c.WriteReaderEvent(1, "door-a", 1, "granted", time.Now())
	c.Flush()
	if n := len(srv.written()); n != 0 {
		t.Errorf("server received %d lines after Close", n)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}
