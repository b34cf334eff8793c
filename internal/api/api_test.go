package api

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/gorilla/websocket"

	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/backend"
	"github.com/smazurov/camnode/internal/capture"
	"github.com/smazurov/camnode/internal/devices"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/host"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/metrics/exporters"
)

const cam0 = "camnode://camera/0"

func newHost(t *testing.T, bus *events.Bus, opts ...host.Option) *host.Host {
	t.Helper()
	sim := backend.NewSim(backend.SimConfig{
		Cameras:       1,
		Default:       "8/4@30",
		Modes:         []string{"8/4@30", "4/2@30", "320/240@30", "640/480@30"},
		FrameInterval: time.Millisecond,
	})
	var notifier devices.Notifier = devices.NopNotifier{}
	if bus != nil {
		notifier = events.NewDeviceNotifier(bus)
	}
	reg := devices.NewRegistry(devices.DefaultRegistryConfig(), sim, notifier)
	if err := reg.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	var pub host.Publisher
	if bus != nil {
		pub = bus
	}
	h := host.New(reg, pub, opts...)
	t.Cleanup(h.Shutdown)
	return h
}

func newTestAPI(t *testing.T, opts ...host.Option) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	bus := events.New()
	t.Cleanup(func() { _ = bus.Close() })
	s := &Server{
		api:      api,
		mux:      http.NewServeMux(),
		host:     newHost(t, bus, opts...),
		eventBus: bus,
		options:  &Options{},
		logger:   logging.GetLogger("api"),
	}
	s.registerRoutes()
	return api
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", resp.Body.String(), err)
	}
	return v
}

func TestHealthAndVersion(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Get("/api/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("health status = %d", resp.Code)
	}
	if body := decode[models.HealthData](t, resp); body.Status != "ok" {
		t.Errorf("health = %+v", body)
	}

	resp = api.Get("/api/version")
	if resp.Code != http.StatusOK || decode[models.VersionData](t, resp).GoVersion == "" {
		t.Errorf("version = %d %s", resp.Code, resp.Body.String())
	}
}

func TestDeviceRoutes(t *testing.T) {
	api := newTestAPI(t)

	list := decode[models.DeviceListData](t, api.Get("/api/devices"))
	if list.Count != 1 || list.Devices[0].URI != cam0 || list.Devices[0].State != "connected" {
		t.Fatalf("devices = %+v", list)
	}

	resp := api.Post("/api/devices/open?uri=" + cam0)
	if resp.Code != http.StatusOK || decode[models.DeviceData](t, resp).State != "opened" {
		t.Fatalf("open = %d %s", resp.Code, resp.Body.String())
	}

	sensors := decode[models.SensorListData](t, api.Get("/api/devices/sensors?uri="+cam0))
	if sensors.DriverVersion != "0.3.0.0" || len(sensors.Sensors) != 1 || sensors.Sensors[0].Type != "color" {
		t.Errorf("sensors = %+v", sensors)
	}
	if got := sensors.Sensors[0].Modes; len(got) != 3 || got[0] != "8/4@30" {
		t.Errorf("modes = %v", got)
	}

	resp = api.Post("/api/devices/close?uri=" + cam0)
	if resp.Code != http.StatusOK || decode[models.DeviceData](t, resp).State != "connected" {
		t.Errorf("close = %d %s", resp.Code, resp.Body.String())
	}
}

func TestGetModeLeavesDeviceClosed(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Get("/api/streams/mode?uri=" + cam0)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("mode = %d, want 404: %s", resp.Code, resp.Body.String())
	}

	list := decode[models.DeviceListData](t, api.Get("/api/devices"))
	if list.Count != 1 || list.Devices[0].State != "connected" {
		t.Errorf("devices after mode lookup = %+v", list)
	}
	streams := decode[models.StreamListData](t, api.Get("/api/streams"))
	if streams.Count != 0 {
		t.Errorf("streams after mode lookup = %+v", streams)
	}
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"open unknown", http.MethodPost, "/api/devices/open?uri=camnode://camera/7", nil, http.StatusNotFound},
		{"try unknown with enumeration", http.MethodPost, "/api/devices/try?uri=camnode://camera/7", nil, http.StatusNotFound},
		{"close unopened", http.MethodPost, "/api/devices/close?uri=" + cam0, nil, http.StatusConflict},
		{"stop unopened", http.MethodPost, "/api/streams/stop?uri=" + cam0, nil, http.StatusNotFound},
		{"snapshot unopened", http.MethodGet, "/api/streams/snapshot?uri=" + cam0, nil, http.StatusNotFound},
		{"mode unopened", http.MethodGet, "/api/streams/mode?uri=" + cam0, nil, http.StatusNotFound},
		{"bad mode text", http.MethodPut, "/api/streams/mode?uri=" + cam0, map[string]any{"mode": "640x480"}, http.StatusBadRequest},
		{"refused mode", http.MethodPut, "/api/streams/mode?uri=" + cam0, map[string]any{"mode": "1920/1080@30"}, http.StatusUnprocessableEntity},
		{"oversized mode", http.MethodPut, "/api/streams/mode?uri=" + cam0, map[string]any{"mode": "2147483647/2147483647@30"}, http.StatusUnprocessableEntity},
		{"trigger continuous", http.MethodPost, "/api/streams/trigger?uri=" + cam0, map[string]any{"frames": 1}, http.StatusNotImplemented},
		{"missing uri", http.MethodGet, "/api/devices/sensors", nil, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var args []any
			if tt.body != nil {
				args = append(args, tt.body)
			}
			resp := api.Do(tt.method, tt.path, args...)
			if resp.Code != tt.want {
				t.Errorf("%s %s = %d, want %d: %s", tt.method, tt.path, resp.Code, tt.want, resp.Body.String())
			}
		})
	}
}

func TestStreamLifecycle(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Put("/api/streams/mode?uri="+cam0, map[string]any{"mode": "4/2@30"})
	if resp.Code != http.StatusOK || decode[models.StreamData](t, resp).Mode != "4/2@30" {
		t.Fatalf("set mode = %d %s", resp.Code, resp.Body.String())
	}

	resp = api.Put("/api/streams/mirroring?uri="+cam0, map[string]any{"enabled": true})
	if resp.Code != http.StatusOK || !decode[models.StreamData](t, resp).Mirroring {
		t.Fatalf("mirroring = %d %s", resp.Code, resp.Body.String())
	}

	resp = api.Post("/api/streams/start?uri=" + cam0)
	if resp.Code != http.StatusOK || !decode[models.StreamData](t, resp).Running {
		t.Fatalf("start = %d %s", resp.Code, resp.Body.String())
	}

	var snap *httptest.ResponseRecorder
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap = api.Get("/api/streams/snapshot?uri=" + cam0)
		if snap.Code == http.StatusOK {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap.Code != http.StatusOK {
		t.Fatalf("snapshot = %d %s", snap.Code, snap.Body.String())
	}
	if ct := snap.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	img, err := png.Decode(bytes.NewReader(snap.Body.Bytes()))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Errorf("snapshot size = %v", b)
	}
	if snap.Header().Get("X-Frame-Index") == "" {
		t.Error("missing X-Frame-Index")
	}

	list := decode[models.StreamListData](t, api.Get("/api/streams"))
	if list.Count != 1 || list.Streams[0].URI != cam0 || list.Streams[0].Delivered == 0 {
		t.Errorf("streams = %+v", list)
	}

	resp = api.Post("/api/streams/stop?uri=" + cam0)
	if resp.Code != http.StatusOK || decode[models.StreamData](t, resp).Running {
		t.Errorf("stop = %d %s", resp.Code, resp.Body.String())
	}
}

func TestBurstTrigger(t *testing.T) {
	api := newTestAPI(t, host.WithStreamOptions(capture.WithPushPolicy(capture.PushBurst)))

	if resp := api.Post("/api/streams/start?uri=" + cam0); resp.Code != http.StatusOK {
		t.Fatalf("start = %d", resp.Code)
	}
	resp := api.Post("/api/streams/trigger?uri="+cam0, map[string]any{"frames": 3})
	if resp.Code != http.StatusOK {
		t.Fatalf("trigger = %d %s", resp.Code, resp.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	var st models.StreamData
	for time.Now().Before(deadline) {
		st = decode[models.StreamData](t, api.Get("/api/streams/mode?uri="+cam0))
		if st.Delivered == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st.Delivered != 3 || st.Policy != "burst" {
		t.Errorf("after trigger = %+v", st)
	}
}

func TestLogRoutes(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Put("/api/logs/levels", map[string]any{"module": "capture", "level": "debug"})
	if resp.Code != http.StatusOK {
		t.Fatalf("set level = %d %s", resp.Code, resp.Body.String())
	}
	if lv := decode[models.LogLevelsData](t, api.Get("/api/logs/levels")); lv.Levels["capture"] != "debug" {
		t.Errorf("levels = %v", lv.Levels)
	}
	if resp := api.Put("/api/logs/levels", map[string]any{"level": "loud"}); resp.Code != http.StatusUnprocessableEntity && resp.Code != http.StatusBadRequest {
		t.Errorf("invalid level = %d", resp.Code)
	}
	if resp := api.Get("/api/logs?limit=5"); resp.Code != http.StatusOK {
		t.Errorf("logs = %d", resp.Code)
	}
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

func newHTTPServer(t *testing.T, bus *events.Bus) *httptest.Server {
	t.Helper()
	server := NewServer(&Options{
		AuthUsername:      "admin",
		AuthPassword:      "secret",
		Host:              newHost(t, bus),
		EventBus:          bus,
		PrometheusHandler: exporters.HTTPHandler(),
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestBasicAuth(t *testing.T) {
	bus := events.New()
	defer bus.Close()
	ts := newHTTPServer(t, bus)

	tests := []struct {
		name string
		path string
		auth string
		want int
	}{
		{"health is public", "/api/health", "", http.StatusOK},
		{"metrics are public", "/metrics", "", http.StatusOK},
		{"missing credentials", "/api/devices", "", http.StatusUnauthorized},
		{"wrong password", "/api/devices", "Basic " + basicAuth("admin", "nope"), http.StatusUnauthorized},
		{"wrong scheme", "/api/devices", "Bearer token", http.StatusUnauthorized},
		{"valid", "/api/devices", "Basic " + basicAuth("admin", "secret"), http.StatusOK},
		{"query credentials", "/api/devices?auth=" + basicAuth("admin", "secret"), "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSSEEvents(t *testing.T) {
	bus := events.New()
	defer bus.Close()
	ts := newHTTPServer(t, bus)
	auth := basicAuth("admin", "secret")

	resp, err := http.Get(ts.URL + "/api/events?auth=" + auth)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("Content-Type = %s", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitLine := func(want string) {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed waiting for %q", want)
				}
				if strings.Contains(line, want) {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	waitLine(`"uri":"` + cam0 + `"`)

	start, err := http.Post(ts.URL+"/api/streams/start?uri="+cam0+"&auth="+auth, "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	start.Body.Close()

	waitLine("event: stream-state-changed")
}

func TestWebsocketFrames(t *testing.T) {
	bus := events.New()
	defer bus.Close()
	ts := newHTTPServer(t, bus)
	auth := basicAuth("admin", "secret")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/frames?uri=" + cam0

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated dial err=%v", err)
	}
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"&auth="+auth, nil); err == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("dial before start err=%v", err)
	}

	start, err := http.Post(ts.URL+"/api/streams/start?uri="+cam0+"&auth="+auth, "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	start.Body.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"&auth="+auth, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msg) != host.HeaderSize+8*4*3 {
		t.Errorf("message length = %d", len(msg))
	}
}
