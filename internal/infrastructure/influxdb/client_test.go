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

	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.points = append(w.points, p)
	w.mu.Unlock()
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	c := &Client{writer: w}
	c.open.Store(true)
	return c, w
}

func tags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWritePowerState(t *testing.T) {
	c, w := newTestClient()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c.WritePowerState("projector-1", projector.PowerOn, at)

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != measurementPower {
		t.Errorf("measurement = %q", p.Name())
	}
	if !p.Time().Equal(at) {
		t.Errorf("time = %v, want %v", p.Time(), at)
	}
	if tags(p)["device_id"] != "projector-1" {
		t.Errorf("tags = %v", tags(p))
	}
	f := fields(p)
	if f["on"] != true || f["state"] != "on" {
		t.Errorf("fields = %v", f)
	}
}

func TestWriteCommand(t *testing.T) {
	c, w := newTestClient()

	c.WriteCommand("projector-1", projector.CommandResult{
		TargetOn: false,
		Err:      projector.ErrCommandTimeout,
		Latency:  1500 * time.Millisecond,
	}, time.Now())

	p := w.points[0]
	if tags(p)["target"] != "off" {
		t.Errorf("target tag = %q, want off", tags(p)["target"])
	}
	f := fields(p)
	if f["success"] != false {
		t.Errorf("success = %v, want false", f["success"])
	}
	if f["latency_ms"] != 1500.0 {
		t.Errorf("latency_ms = %v, want 1500", f["latency_ms"])
	}
	if f["error"] != projector.ErrCommandTimeout.Error() {
		t.Errorf("error = %v", f["error"])
	}
}

func TestWriteAfterClose_Dropped(t *testing.T) {
	c, w := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes on close = %d, want 1", w.flushes)
	}

	c.WritePoll("projector-1", time.Now())
	c.Flush()

	if len(w.points) != 0 {
		t.Errorf("points after close = %d, want 0", len(w.points))
	}
	if w.flushes != 1 {
		t.Errorf("Flush after close reached the writer")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
}

func TestClose_ZeroClient(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestTelemetry(t *testing.T) {
	c, w := newTestClient()
	tel := NewTelemetry(c, "projector-1")
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tel.now = func() time.Time { return fixed }

	tel.ConnectionChanged(projector.StateConnected)
	tel.ConnectFailed(errors.New("refused"))
	tel.Reconnecting(projector.ErrSilentLink)
	tel.PollSent()
	tel.PowerChanged(projector.PowerOff)
	tel.CommandCompleted(projector.CommandResult{TargetOn: true, Latency: time.Second})

	wantNames := []string{
		measurementConnection,
		measurementConnection,
		measurementConnection,
		measurementPoll,
		measurementPower,
		measurementCommand,
	}
	if len(w.points) != len(wantNames) {
		t.Fatalf("points = %d, want %d", len(w.points), len(wantNames))
	}
	for i, want := range wantNames {
		if got := w.points[i].Name(); got != want {
			t.Errorf("point %d = %q, want %q", i, got, want)
		}
		if !w.points[i].Time().Equal(fixed) {
			t.Errorf("point %d time = %v", i, w.points[i].Time())
		}
	}

	if ev := tags(w.points[1])["event"]; ev != "connect_failed" {
		t.Errorf("event tag = %q, want connect_failed", ev)
	}
	if msg := fields(w.points[2])["error"]; msg != projector.ErrSilentLink.Error() {
		t.Errorf("reconnect reason = %v", msg)
	}
	if f := fields(w.points[5]); f["success"] != true {
		t.Errorf("command fields = %v", f)
	}
}

// TestConnect_FakeServer drives the real client against a minimal
// InfluxDB v2 HTTP endpoint.
func TestConnect_FakeServer(t *testing.T) {
	var mu sync.Mutex
	var bodies []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(b))
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := Connect(config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "token",
		Org:           "graylogic",
		Bucket:        "projector",
		BatchSize:     10,
		FlushInterval: 60,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	c.WritePowerState("projector-1", projector.PowerOn, time.Now())
	c.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) == 0 {
		t.Fatal("no write request received")
	}
	if !strings.HasPrefix(bodies[0], "projector_power,device_id=projector-1 ") {
		t.Errorf("line protocol = %q", bodies[0])
	}
}

func TestWriteOptions(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.InfluxDBConfig
		wantBatch uint
		wantFlush uint
	}{
		{"defaults", config.InfluxDBConfig{}, 100, 10000},
		{"configured", config.InfluxDBConfig{BatchSize: 20, FlushInterval: 2}, 20, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := writeOptions(tt.cfg)
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval = %d, want %d", got, tt.wantFlush)
			}
		})
	}
}
