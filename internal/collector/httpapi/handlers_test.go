package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cloudpico-node/internal/collector/store"
	"cloudpico-node/internal/metrics"
	"cloudpico-node/internal/mqtt"
)

type fakeRepo struct {
	mu        sync.Mutex
	readings  []store.Reading
	insertErr error
	gotLimit  int
}

func (f *fakeRepo) InsertReading(_ context.Context, r store.Reading) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	r.ID = int64(len(f.readings) + 1)
	f.readings = append(f.readings, r)
	return r.ID, nil
}

func (f *fakeRepo) LatestReading(context.Context) (*store.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readings) == 0 {
		return nil, nil
	}
	r := f.readings[len(f.readings)-1]
	return &r, nil
}

func (f *fakeRepo) RecentReadings(_ context.Context, limit int) ([]store.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotLimit = limit
	out := f.readings
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]store.Reading{}, out...), nil
}

func (f *fakeRepo) CountReadings(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readings), nil
}

type fakeMirror struct {
	mu        sync.Mutex
	telemetry []mqtt.Telemetry
	alerts    []mqtt.Alert
	// block, when set, holds every telemetry publish until it is closed.
	block chan struct{}
}

func (m *fakeMirror) PublishTelemetry(t mqtt.Telemetry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry = append(m.telemetry, t)
	return nil
}

func (m *fakeMirror) PublishAlert(a mqtt.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *fakeMirror) snapshot() ([]mqtt.Telemetry, []mqtt.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mqtt.Telemetry(nil), m.telemetry...), append([]mqtt.Alert(nil), m.alerts...)
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type testEnv struct {
	ts      *httptest.Server
	repo    *fakeRepo
	mirror  *fakeMirror
	reg     *prometheus.Registry
	metrics *metrics.Collector
}

func newTestServer(t *testing.T, ping error) *testEnv {
	t.Helper()
	return newTestServerWithMirror(t, ping, &fakeMirror{})
}

func newTestServerWithMirror(t *testing.T, ping error, mirror *fakeMirror) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	env := &testEnv{
		repo:    &fakeRepo{},
		mirror:  mirror,
		reg:     reg,
		metrics: metrics.NewCollector(reg),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	fwd := NewForwarder(mirror, 4, logger)
	go fwd.Run(ctx)

	h := NewRouter(Deps{
		DB:        fakePinger{err: ping},
		Repo:      env.repo,
		Forwarder: fwd,
		AlertTemp: 40,
		Metrics:   env.metrics,
		Gatherer:  reg,
		Logger:    logger,
	})
	env.ts = httptest.NewServer(NewServer(":0", h).Handler)
	t.Cleanup(env.ts.Close)
	return env
}

func mustGetJSON[T any](t *testing.T, client *http.Client, url string, out *T) *http.Response {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return resp
}

func mustPost(t *testing.T, client *http.Client, url, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return resp, out
}

// counterValue reads a counter from reg. result selects the "result" label
// and is ignored for unlabelled counters.
func counterValue(t *testing.T, reg prometheus.Gatherer, name, result string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if result == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

const validBody = `{"temperature":26.50,"humidity":51.20,"windSpeed":3.00,"noiseLevel":40.00}`

func TestHealthz(t *testing.T) {
	env := newTestServer(t, nil)

	var body map[string]string
	resp := mustGetJSON(t, env.ts.Client(), env.ts.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if body["status"] != "ok" {
		t.Fatalf("body.status=%q want=%q", body["status"], "ok")
	}
}

func TestHealthz_DatabaseDown(t *testing.T) {
	env := newTestServer(t, errors.New("disk gone"))

	var body map[string]string
	resp := mustGetJSON(t, env.ts.Client(), env.ts.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusInternalServerError)
	}
	if body["message"] == "" {
		t.Fatalf("expected message, got %v", body)
	}
}

func TestPostWeather(t *testing.T) {
	env := newTestServer(t, nil)

	resp, body := mustPost(t, env.ts.Client(), env.ts.URL+"/api/weather", validBody,
		map[string]string{"X-Station-ID": "garden"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if body["success"] != true {
		t.Fatalf("body=%v want success", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID not echoed")
	}

	if len(env.repo.readings) != 1 {
		t.Fatalf("stored %d readings, want 1", len(env.repo.readings))
	}
	got := env.repo.readings[0]
	if got.StationID != "garden" || *got.Temperature != 26.5 || *got.NoiseLevel != 40 {
		t.Fatalf("stored %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}

	waitFor(t, "mirrored telemetry", func() bool {
		tel, _ := env.mirror.snapshot()
		return len(tel) == 1
	})
	tel, alerts := env.mirror.snapshot()
	if tel[0].StationID != "garden" {
		t.Fatalf("mirrored %v", tel)
	}
	if len(alerts) != 0 {
		t.Fatalf("unexpected alerts %v", alerts)
	}
	if v := counterValue(t, env.reg, "cloudpico_collector_readings_total", "stored"); v != 1 {
		t.Fatalf("stored counter=%v want 1", v)
	}
}

func TestPostWeather_DefaultStation(t *testing.T) {
	env := newTestServer(t, nil)

	mustPost(t, env.ts.Client(), env.ts.URL+"/api/weather", validBody, nil)
	if got := env.repo.readings[0].StationID; got != "default" {
		t.Fatalf("station=%q want=%q", got, "default")
	}
}

func TestPostWeather_KeepsCallerRequestID(t *testing.T) {
	env := newTestServer(t, nil)

	const id = "0b7c3c8e-6c8a-4a57-8f0e-2f7d1c0a9b11"
	resp, _ := mustPost(t, env.ts.Client(), env.ts.URL+"/api/weather", validBody,
		map[string]string{"X-Request-ID": id})
	if got := resp.Header.Get("X-Request-ID"); got != id {
		t.Fatalf("X-Request-ID=%q want=%q", got, id)
	}
}

func TestPostWeather_Alert(t *testing.T) {
	env := newTestServer(t, nil)

	body := `{"temperature":46,"humidity":20,"windSpeed":90,"noiseLevel":40}`
	resp, _ := mustPost(t, env.ts.Client(), env.ts.URL+"/api/weather", body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	waitFor(t, "published alert", func() bool {
		_, alerts := env.mirror.snapshot()
		return len(alerts) == 1
	})
	_, alerts := env.mirror.snapshot()
	if n := len(alerts[0].Messages); n != 3 {
		t.Fatalf("messages=%v want 3", alerts[0].Messages)
	}
	if v := counterValue(t, env.reg, "cloudpico_collector_alerts_total", ""); v != 1 {
		t.Fatalf("alerts counter=%v want 1", v)
	}
}

func TestPostWeather_StalledBrokerDoesNotDelayResponse(t *testing.T) {
	mirror := &fakeMirror{block: make(chan struct{})}
	env := newTestServerWithMirror(t, nil, mirror)
	t.Cleanup(func() { close(mirror.block) })

	client := &http.Client{Timeout: 500 * time.Millisecond}
	// More posts than the queue holds: the overflow is dropped, never waited on.
	for i := 0; i < 8; i++ {
		resp, body := mustPost(t, client, env.ts.URL+"/api/weather",
			`{"temperature":46,"humidity":50,"windSpeed":1,"noiseLevel":30}`, nil)
		if resp.StatusCode != http.StatusOK || body["success"] != true {
			t.Fatalf("post %d: status=%d body=%v", i, resp.StatusCode, body)
		}
	}
	if n := len(env.repo.readings); n != 8 {
		t.Fatalf("stored %d readings, want 8", n)
	}
}

func TestPostWeather_Invalid(t *testing.T) {
	env := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `temperature=1`},
		{"missing field", `{"temperature":1,"humidity":2,"windSpeed":3}`},
		{"string value", `{"temperature":"1","humidity":2,"windSpeed":3,"noiseLevel":4}`},
		{"null value", `{"temperature":null,"humidity":2,"windSpeed":3,"noiseLevel":4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := mustPost(t, env.ts.Client(), env.ts.URL+"/api/weather", tt.body, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusBadRequest)
			}
			if body["success"] != false {
				t.Fatalf("body=%v", body)
			}
		})
	}
	if len(env.repo.readings) != 0 {
		t.Fatalf("stored %d readings, want 0", len(env.repo.readings))
	}
	if v := counterValue(t, env.reg, "cloudpico_collector_readings_total", "invalid"); v != float64(len(tests)) {
		t.Fatalf("invalid counter=%v want %d", v, len(tests))
	}
}

func TestPostWeather_StoreError(t *testing.T) {
	env := newTestServer(t, nil)
	env.repo.insertErr = errors.New("database is locked")

	resp, body := mustPost(t, env.ts.Client(), env.ts.URL+"/api/weather", validBody, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusInternalServerError)
	}
	if body["success"] != false || body["error"] != "database is locked" {
		t.Fatalf("body=%v", body)
	}
	if tel, _ := env.mirror.snapshot(); len(tel) != 0 {
		t.Fatal("failed insert must not be mirrored")
	}
}

func TestLatest(t *testing.T) {
	env := newTestServer(t, nil)

	var empty map[string]any
	resp := mustGetJSON(t, env.ts.Client(), env.ts.URL+"/api/readings/latest", &empty)
	if resp.StatusCode != http.StatusOK || len(empty) != 0 {
		t.Fatalf("status=%d body=%v, want 200 {}", resp.StatusCode, empty)
	}

	mustPost(t, env.ts.Client(), env.ts.URL+"/api/weather", validBody, nil)

	var r store.Reading
	mustGetJSON(t, env.ts.Client(), env.ts.URL+"/api/readings/latest", &r)
	if r.ID != 1 || r.Humidity == nil || *r.Humidity != 51.2 {
		t.Fatalf("latest=%+v", r)
	}
}

func TestReadings_Range(t *testing.T) {
	env := newTestServer(t, nil)

	tests := []struct {
		query string
		want  int
	}{
		{"", 1440},
		{"?range=1h", 60},
		{"?range=6h", 360},
		{"?range=12h", 720},
		{"?range=24h", 1440},
		{"?range=7d", 10080},
		{"?range=bogus", 1440},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var items []store.Reading
			resp := mustGetJSON(t, env.ts.Client(), env.ts.URL+"/api/readings"+tt.query, &items)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
			}
			if items == nil {
				t.Fatal("want [] not null")
			}
			if env.repo.gotLimit != tt.want {
				t.Fatalf("limit=%d want=%d", env.repo.gotLimit, tt.want)
			}
		})
	}
}

func TestDebugCount(t *testing.T) {
	env := newTestServer(t, nil)

	mustPost(t, env.ts.Client(), env.ts.URL+"/api/weather", validBody, nil)
	mustPost(t, env.ts.Client(), env.ts.URL+"/api/weather", validBody, nil)

	var body map[string]int
	mustGetJSON(t, env.ts.Client(), env.ts.URL+"/api/debug/count", &body)
	if body["count"] != 2 {
		t.Fatalf("count=%d want=2", body["count"])
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestServer(t, nil)
	mustPost(t, env.ts.Client(), env.ts.URL+"/api/weather", validBody, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `cloudpico_collector_readings_total{result="stored"} 1`) {
		t.Fatalf("metrics output missing stored counter:\n%s", b)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/weather", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin=%q want=*", got)
	}
}

func TestRouting_UnknownRoute(t *testing.T) {
	env := newTestServer(t, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestRouting_WrongMethod(t *testing.T) {
	env := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/healthz", nil)
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestRangeLimit(t *testing.T) {
	if got := rangeLimit("7d"); got != 10080 {
		t.Errorf("rangeLimit(7d)=%d", got)
	}
	if got := rangeLimit(""); got != 1440 {
		t.Errorf("rangeLimit(\"\")=%d", got)
	}
}
