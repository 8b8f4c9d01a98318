package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/smazurov/ispnode/internal/api/models"
	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/isp"
	"github.com/smazurov/ispnode/internal/isp/isptest"
	"github.com/smazurov/ispnode/internal/logging"
	"github.com/smazurov/ispnode/internal/vpp"
	"github.com/smazurov/ispnode/internal/vpp/vpptest"
)

func newTestController(t *testing.T) *isp.Controller {
	t.Helper()
	opts, _ := isptest.Options()
	opts.StarvingWait = time.Millisecond
	c, err := isp.New(opts)
	if err != nil {
		t.Fatalf("isp.New: %v", err)
	}
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Stop()
		_ = c.Close()
	})
	return c
}

// newTestAPI registers the routes on a humatest API, without the auth and
// CORS middleware NewServer adds.
func newTestAPI(t *testing.T, opts *Options) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t, huma.DefaultConfig("ISPNode Test", "1.0.0"))
	s := &Server{
		api:      api,
		options:  opts,
		isp:      opts.ISP,
		vpp:      opts.VPP,
		eventBus: opts.EventBus,
		logger:   slog.New(slog.DiscardHandler),
	}
	s.registerRoutes()
	return api
}

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return v
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, &Options{})
	resp := api.Get("/api/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	got := decode[models.HealthData](t, resp.Body.String())
	if got.Status != "ok" || got.Build.GoVersion == "" {
		t.Errorf("health = %+v", got)
	}
}

func TestISPModeLifecycle(t *testing.T) {
	ctrl := newTestController(t)
	api := newTestAPI(t, &Options{ISP: ctrl})

	resp := api.Get("/api/isp/status")
	if resp.Code != http.StatusOK {
		t.Fatalf("status code = %d", resp.Code)
	}
	st := decode[models.ISPStatusData](t, resp.Body.String())
	if st.Mode != "none" || st.Session != 0 {
		t.Errorf("initial status = %+v", st)
	}

	resp = api.Post("/api/isp/mode", map[string]any{"mode": "preview"})
	if resp.Code != http.StatusOK {
		t.Fatalf("start preview = %d: %s", resp.Code, resp.Body.String())
	}
	st = decode[models.ISPStatusData](t, resp.Body.String())
	if st.Mode != "preview" || st.Session != 1 {
		t.Errorf("after start = %+v", st)
	}
	if st.QueuedPreview == 0 {
		t.Error("no preview buffers queued after start")
	}
	if len(st.Roles) == 0 {
		t.Error("role table missing")
	}

	// A second start while streaming is refused.
	resp = api.Post("/api/isp/mode", map[string]any{"mode": "video"})
	if resp.Code != http.StatusConflict {
		t.Errorf("start while streaming = %d, want 409", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), string(isp.CodeInvalidOperation)) {
		t.Errorf("conflict body = %s", resp.Body.String())
	}

	resp = api.Delete("/api/isp/mode")
	if resp.Code != http.StatusOK {
		t.Fatalf("stop = %d: %s", resp.Code, resp.Body.String())
	}
	if st = decode[models.ISPStatusData](t, resp.Body.String()); st.Mode != "none" {
		t.Errorf("after stop mode = %s", st.Mode)
	}
	if ctrl.Mode() != isp.ModeNone {
		t.Errorf("controller mode = %s", ctrl.Mode())
	}

	// Stop while idle is not an error.
	if resp = api.Delete("/api/isp/mode"); resp.Code != http.StatusOK {
		t.Errorf("idle stop = %d", resp.Code)
	}
}

func TestISPRequestValidation(t *testing.T) {
	api := newTestAPI(t, &Options{ISP: newTestController(t)})

	tests := []struct {
		name string
		path string
		body map[string]any
		want int
	}{
		{"unknown mode", "/api/isp/mode", map[string]any{"mode": "timelapse"}, http.StatusUnprocessableEntity},
		{"zoom too large", "/api/isp/zoom", map[string]any{"value": 2000}, http.StatusUnprocessableEntity},
		{"negative torch", "/api/isp/torch", map[string]any{"level": -1}, http.StatusUnprocessableEntity},
		{"zoom while idle", "/api/isp/zoom", map[string]any{"value": 300}, http.StatusOK},
		{"torch off", "/api/isp/torch", map[string]any{"level": 0}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.Post(tt.path, tt.body)
			if resp.Code != tt.want {
				t.Errorf("POST %s = %d, want %d: %s", tt.path, resp.Code, tt.want, resp.Body.String())
			}
		})
	}

	st := decode[models.ISPStatusData](t, api.Get("/api/isp/status").Body.String())
	if st.Zoom != 300 {
		t.Errorf("zoom = %d, want 300 kept for the next configure", st.Zoom)
	}
}

func newTestRegistry(t *testing.T, bus *events.Bus) (*vpp.Registry, *vpp.Session) {
	t.Helper()
	reg := vpp.NewRegistry(vpp.RegistryOptions{
		Settings: vpp.Settings{CommonOn: true},
		Bus:      bus,
		Logger:   slog.New(slog.DiscardHandler),
	})
	t.Cleanup(reg.CloseAll)
	sess, err := reg.Open(vpptest.NewWindow("api-hdmi0", 12, 100), vpptest.NewContext(), vpptest.NewDecoder(12, 1, 30))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return reg, sess
}

func TestVPPSessions(t *testing.T) {
	reg, sess := newTestRegistry(t, nil)
	api := newTestAPI(t, &Options{VPP: reg})

	list := decode[models.VPPSessionListData](t, api.Get("/api/vpp/sessions").Body.String())
	if list.Count != 1 || list.Sessions[0].Window != "api-hdmi0" || list.Sessions[0].ID != sess.ID {
		t.Fatalf("list = %+v", list)
	}

	for _, key := range []string{"api-hdmi0", sess.ID} {
		resp := api.Get("/api/vpp/sessions/" + key)
		if resp.Code != http.StatusOK {
			t.Errorf("GET session %s = %d", key, resp.Code)
			continue
		}
		if got := decode[models.VPPSessionData](t, resp.Body.String()); got.ID != sess.ID {
			t.Errorf("GET session %s returned %s", key, got.ID)
		}
	}

	if resp := api.Get("/api/vpp/sessions/missing"); resp.Code != http.StatusNotFound {
		t.Errorf("GET missing session = %d, want 404", resp.Code)
	}

	// Seek on an idle session returns at once.
	if resp := api.Post("/api/vpp/sessions/api-hdmi0/seek"); resp.Code != http.StatusOK {
		t.Errorf("seek = %d: %s", resp.Code, resp.Body.String())
	}
	if resp := api.Post("/api/vpp/sessions/api-hdmi0/eos"); resp.Code != http.StatusOK {
		t.Errorf("eos = %d: %s", resp.Code, resp.Body.String())
	}
	if resp := api.Post("/api/vpp/sessions/missing/seek"); resp.Code != http.StatusNotFound {
		t.Errorf("seek missing = %d, want 404", resp.Code)
	}

	if resp := api.Delete("/api/vpp/sessions/" + sess.ID); resp.Code != http.StatusOK {
		t.Fatalf("close = %d: %s", resp.Code, resp.Body.String())
	}
	if list = decode[models.VPPSessionListData](t, api.Get("/api/vpp/sessions").Body.String()); list.Count != 0 {
		t.Errorf("sessions after close = %d", list.Count)
	}
}

func TestVPPSettings(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	api := newTestAPI(t, &Options{VPP: reg})

	got := decode[models.VPPSettingsData](t, api.Get("/api/vpp/settings").Body.String())
	if !got.CommonOn || got.FrcOn {
		t.Errorf("initial settings = %+v", got)
	}

	resp := api.Put("/api/vpp/settings", models.VPPSettingsData{
		CommonOn:         true,
		FrcOn:            true,
		FrcForHDMI:       true,
		HDMIConnected:    true,
		HDMIRefreshRates: []int{50, 60},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("PUT settings = %d: %s", resp.Code, resp.Body.String())
	}
	s := reg.Settings()
	if !s.FrcOn || !s.HDMIConnected || len(s.HDMIRefreshRates) != 2 {
		t.Errorf("registry settings = %+v", s)
	}
}

type logsBody struct {
	Entries []models.LogEntryData `json:"entries"`
	Count   int                   `json:"count"`
}

func TestLogs(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	logger := logging.GetLogger("apitest")
	logger.Info("first", "n", 1)
	logger.Info("second", "n", 2)
	logging.GetLogger("other").Info("unrelated")

	api := newTestAPI(t, &Options{})

	resp := api.Get("/api/logs?module=apitest")
	if resp.Code != http.StatusOK {
		t.Fatalf("GET logs = %d", resp.Code)
	}
	body := decode[logsBody](t, resp.Body.String())
	if body.Count != 2 || body.Entries[0].Message != "first" || body.Entries[1].Message != "second" {
		t.Fatalf("logs = %+v", body)
	}

	resp = api.Get("/api/logs?module=apitest&limit=1")
	body = decode[logsBody](t, resp.Body.String())
	if body.Count != 1 || body.Entries[0].Message != "second" {
		t.Errorf("limited logs = %+v", body)
	}

	if resp = api.Put("/api/logs/level", map[string]any{"module": "apitest", "level": "debug"}); resp.Code != http.StatusOK {
		t.Errorf("set level = %d: %s", resp.Code, resp.Body.String())
	}
	logger.Debug("now visible")
	body = decode[logsBody](t, api.Get("/api/logs?module=apitest&limit=1").Body.String())
	if body.Count != 1 || body.Entries[0].Message != "now visible" {
		t.Errorf("debug entry missing: %+v", body)
	}
}
