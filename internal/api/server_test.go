package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/displaynode/internal/api/models"
	"github.com/smazurov/displaynode/internal/config"
	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/display"
	"github.com/smazurov/displaynode/internal/events"
	"github.com/smazurov/displaynode/internal/layer"
	"github.com/smazurov/displaynode/internal/metrics"
)

func newTestServer(t *testing.T) (*httptest.Server, *display.Subsystem, *events.Bus) {
	t.Helper()
	bus := events.New()
	sub, err := display.New(display.Options{
		Board:    config.DefaultBoard(),
		Simulate: true,
		Bus:      bus,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sub.Close() })

	server := NewServer(&Options{
		AuthUsername:      "admin",
		AuthPassword:      "secret",
		Display:           sub,
		EventBus:          bus,
		PrometheusHandler: metrics.Handler(),
		Sim:               sub.Sim(),
	})
	ts := httptest.NewServer(server.GetMux())
	t.Cleanup(ts.Close)
	return ts, sub, bus
}

func do(t *testing.T, ts *httptest.Server, method, path, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth("admin", "secret")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/pipes")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("pipes without auth = %d", resp.StatusCode)
	}
}

func TestPipeRoutes(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var list models.PipeListData
	if code := do(t, ts, http.MethodGet, "/api/pipes", "", &list); code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	if list.Count != 2 || list.Pipes[1].Name != "hdmi0" {
		t.Errorf("pipes = %+v", list)
	}

	if code := do(t, ts, http.MethodGet, "/api/pipes/7", "", nil); code != http.StatusNotFound {
		t.Errorf("unknown pipe = %d", code)
	}

	var modes models.ModeListData
	if code := do(t, ts, http.MethodGet, "/api/pipes/1/modes", "", &modes); code != http.StatusOK {
		t.Fatalf("modes = %d", code)
	}
	if modes.Count == 0 || !modes.Modes[0].Preferred || modes.Modes[0].Origin != "edid" {
		t.Errorf("modes = %+v", modes)
	}

	var neg models.NegotiateData
	if code := do(t, ts, http.MethodPost, "/api/pipes/1/negotiate", "", &neg); code != http.StatusOK {
		t.Fatalf("negotiate = %d", code)
	}
	if neg.Mode.HActive != 1920 || neg.Mode.VActive != 1080 {
		t.Errorf("negotiated = %+v", neg)
	}

	var info display.PipeInfo
	if code := do(t, ts, http.MethodPut, "/api/pipes/1/power", `{"target":"on"}`, &info); code != http.StatusOK {
		t.Fatalf("power on = %d", code)
	}
	if info.State.String() != "on" {
		t.Errorf("state = %v", info.State)
	}
	if code := do(t, ts, http.MethodPut, "/api/pipes/1/power", `{"target":"sideways"}`, nil); code != http.StatusUnprocessableEntity && code != http.StatusBadRequest {
		t.Errorf("bad target = %d", code)
	}
}

func TestSimSinkRoute(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var data models.SimSinkData
	if code := do(t, ts, http.MethodPut, "/api/sim/pipes/1/sink", `{"connected":false}`, &data); code != http.StatusOK {
		t.Fatalf("unplug = %d", code)
	}
	if data.Connected {
		t.Error("sink still connected")
	}

	var info display.PipeInfo
	do(t, ts, http.MethodGet, "/api/pipes/1", "", &info)
	if info.Connected {
		t.Error("pipe should report disconnected")
	}

	if code := do(t, ts, http.MethodPut, "/api/sim/pipes/0/sink", `{"connected":true}`, nil); code != http.StatusBadRequest {
		t.Errorf("sink on MIPI pipe = %d, want 400", code)
	}
}

func TestPowerWithoutModeIsUnprocessable(t *testing.T) {
	ts, _, _ := newTestServer(t)
	if code := do(t, ts, http.MethodPut, "/api/pipes/1/power", `{"target":"on"}`, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("power on without mode = %d", code)
	}
}

func TestLayerRoutes(t *testing.T) {
	ts, _, _ := newTestServer(t)
	if code := do(t, ts, http.MethodPost, "/api/pipes/1/negotiate", "", nil); code != http.StatusOK {
		t.Fatalf("negotiate = %d", code)
	}

	if code := do(t, ts, http.MethodPatch, "/api/pipes/1/layers/0", `{"address":1073741824,"stride":7680}`, nil); code != http.StatusConflict {
		t.Errorf("address before format = %d", code)
	}
	if code := do(t, ts, http.MethodPatch, "/api/pipes/1/layers/0", `{"format":"yuv420"}`, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("yuv on rgb layer = %d", code)
	}
	if code := do(t, ts, http.MethodPatch, "/api/pipes/1/layers/9", `{}`, nil); code != http.StatusNotFound {
		t.Errorf("unknown layer = %d", code)
	}

	var l layer.Layer
	body := `{"format":"argb8888","dest":{"x":0,"y":0,"w":1920,"h":1080},"address":1073741824,"stride":7680,"enabled":true}`
	if code := do(t, ts, http.MethodPatch, "/api/pipes/1/layers/0", body, &l); code != http.StatusOK {
		t.Fatalf("update = %d", code)
	}
	if !l.Enabled || !l.Pending {
		t.Errorf("layer = %+v", l)
	}

	var commit models.CommitData
	if code := do(t, ts, http.MethodPost, "/api/pipes/1/commit", "", &commit); code != http.StatusOK {
		t.Fatalf("commit = %d", code)
	}
	if commit.Committed != 1 {
		t.Errorf("committed = %d", commit.Committed)
	}
}

func TestEventStream(t *testing.T) {
	ts, _, bus := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	creds := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/events?auth=%s", ts.URL, creds), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content type = %s", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 10)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	// The handler subscribes after the headers are flushed; publish until
	// the event arrives.
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "event:") && strings.Contains(line, "hotplug") {
				return
			}
		case <-tick.C:
			bus.Publish(events.HotplugEvent{Pipe: 1, Backend: "hdmi", Connected: true})
		case <-deadline:
			t.Fatal("no hotplug event on stream")
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}

func TestMapDisplayError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown pipe", disperr.Wrap(disperr.CodeInvalidArgument, "op", "pipe 3", display.ErrUnknownPipe), http.StatusNotFound},
		{"bad argument", disperr.New(disperr.CodeInvalidArgument, "op", "bad"), http.StatusBadRequest},
		{"busy", disperr.ErrResourceBusy, http.StatusConflict},
		{"sequencing", disperr.ErrInvalidLayerSequencing, http.StatusConflict},
		{"no mode", disperr.ErrNoMatchingMode, http.StatusUnprocessableEntity},
		{"format", disperr.ErrUnsupportedPixelFormat, http.StatusUnprocessableEntity},
		{"not connected", disperr.ErrNotConnected, http.StatusServiceUnavailable},
		{"not ready", disperr.ErrHardwareNotReady, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var se interface{ GetStatus() int }
			if !errors.As(mapDisplayError(tt.err), &se) {
				t.Fatal("not a status error")
			}
			if se.GetStatus() != tt.want {
				t.Errorf("status = %d, want %d", se.GetStatus(), tt.want)
			}
		})
	}
}
