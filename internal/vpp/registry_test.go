package vpp_test

import (
	"errors"
	"testing"
	"time"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/metrics"
	"github.com/smazurov/ispnode/internal/vpp"
	"github.com/smazurov/ispnode/internal/vpp/vpptest"
)

func TestRegistryOneSessionPerWindow(t *testing.T) {
	bus := events.New()
	opened := make(chan events.SessionOpenedEvent, 8)
	closed := make(chan events.SessionClosedEvent, 8)
	defer bus.Subscribe(func(e events.SessionOpenedEvent) { opened <- e })()
	defer bus.Subscribe(func(e events.SessionClosedEvent) { closed <- e })()

	reg := vpp.NewRegistry(vpp.RegistryOptions{Settings: vpp.Settings{CommonOn: true}, Bus: bus})

	s, err := reg.Open(vpptest.NewWindow("registry-a", 8, 100), vpptest.NewContext(), vpptest.NewDecoder(8, 1, 30))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.ID == "" || s.Window != "registry-a" {
		t.Errorf("session = %+v", s)
	}

	_, err = reg.Open(vpptest.NewWindow("registry-a", 8, 200), vpptest.NewContext(), vpptest.NewDecoder(8, 1, 30))
	if !errors.Is(err, vpp.ErrSessionExists) {
		t.Fatalf("second Open = %v, want SESSION_EXISTS", err)
	}

	other, err := reg.Open(vpptest.NewWindow("registry-b", 8, 300), vpptest.NewContext(), vpptest.NewDecoder(8, 1, 30))
	if err != nil {
		t.Fatalf("Open other window: %v", err)
	}
	if other.ID == s.ID {
		t.Error("sessions share an ID")
	}

	list := reg.List()
	if len(list) != 2 || list[0].Window != "registry-a" || list[1].Window != "registry-b" {
		t.Errorf("List = %v", list)
	}

	select {
	case e := <-opened:
		if e.SessionID != s.ID {
			t.Errorf("opened event = %+v, want session %s", e, s.ID)
		}
	case <-time.After(time.Second):
		t.Error("no session opened event")
	}

	if err := reg.Close("registry-a"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := reg.Get("registry-a"); !errors.Is(err, vpp.ErrSessionNotFound) {
		t.Errorf("Get after Close = %v, want SESSION_NOT_FOUND", err)
	}
	if err := reg.Close("registry-a"); !errors.Is(err, vpp.ErrSessionNotFound) {
		t.Errorf("second Close = %v, want SESSION_NOT_FOUND", err)
	}
	select {
	case e := <-closed:
		if e.Window != "registry-a" {
			t.Errorf("closed event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no session closed event")
	}

	// The window is free again.
	if _, err := reg.Open(vpptest.NewWindow("registry-a", 8, 100), vpptest.NewContext(), vpptest.NewDecoder(8, 1, 30)); err != nil {
		t.Errorf("reopen: %v", err)
	}
	reg.CloseAll()
	if n := len(reg.List()); n != 0 {
		t.Errorf("%d sessions after CloseAll", n)
	}
}

func TestRegistrySetSettingsReachesSessions(t *testing.T) {
	bus := events.New()
	changes := make(chan events.FrcChangedEvent, 4)
	defer bus.Subscribe(func(e events.FrcChangedEvent) { changes <- e })()

	reg := vpp.NewRegistry(vpp.RegistryOptions{
		Settings:   vpp.Settings{CommonOn: true},
		Bus:        bus,
		RenderWait: 5 * time.Millisecond,
	})
	defer reg.CloseAll()

	dec := vpptest.NewDecoder(12, 1, 30)
	s, err := reg.Open(vpptest.NewWindow("registry-frc", 12, 100), vpptest.NewContext(), dec)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Processor.ValidateVideoInfo(vpp.VideoInfo{Width: 176, Height: 144, Fps: 30}, 0); err != nil {
		t.Fatalf("ValidateVideoInfo: %v", err)
	}
	if err := s.Processor.Init(t.Context(), dec.Surfaces()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	reg.SetSettings(vpp.Settings{CommonOn: true, FrcOn: true})
	if !reg.Settings().FrcOn {
		t.Error("registry settings not updated")
	}
	select {
	case e := <-changes:
		if e.Window != "registry-frc" || e.Rate != "2x" {
			t.Errorf("frc event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not pick up the new settings")
	}
	if m := metrics.GetVPPMetrics("registry-frc"); m == nil || m.FrcRate != 2 {
		t.Errorf("frc metric = %+v, want 2", m)
	}
}
