package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func resetState() {
	std = newRegistry()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"isp": "debug",
			"vpp": "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"isp", true, true, true},
		{"vpp", false, false, true},
		{"observer", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			ctx := context.Background()

			if got := handler.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, want %v", tt.module, got, tt.wantDebug)
			}
			if got := handler.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, want %v", tt.module, got, tt.wantInfo)
			}
			if got := handler.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, want %v", tt.module, got, tt.wantWarn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState()

	before := GetLogger("vpp")
	handlerBefore := before.Handler()
	if handlerBefore.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("logger created before Initialize should default to info")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"vpp": "debug"}})

	// The old handler shares the module LevelVar.
	if !handlerBefore.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("handler created before Initialize should observe the new module level")
	}
	if !GetLogger("vpp").Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger fetched after Initialize should have debug enabled")
	}
}

func TestSetModuleLevel(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info"})

	logger := GetLogger("isp")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should start disabled")
	}
	if !SetModuleLevel("isp", "debug") {
		t.Fatal("SetModuleLevel rejected a valid level")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled after SetModuleLevel")
	}
	if SetModuleLevel("isp", "loud") {
		t.Error("SetModuleLevel accepted an invalid level")
	}
}

func TestBufferHandlerCapturesModule(t *testing.T) {
	resetState()
	Initialize(Config{Level: "debug"})

	var got []LogEntry
	SetLogCallback(func(entry LogEntry) { got = append(got, entry) })

	GetLogger("observer").Info("poll timeout", "device", 2, "retry", 3)

	entries := GetBuffer().ReadAll()
	if len(entries) == 0 {
		t.Fatal("ring buffer is empty")
	}
	last := entries[len(entries)-1]
	if last.Module != "observer" {
		t.Errorf("Module = %q, want observer", last.Module)
	}
	if last.Attributes["device"] != int64(2) {
		t.Errorf("device attribute = %v, want 2", last.Attributes["device"])
	}
	if len(got) == 0 || got[len(got)-1].Message != "poll timeout" {
		t.Errorf("callback did not receive the entry: %+v", got)
	}
}

func TestFanoutDebugOutput(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(fanout{debugHandler, infoHandler}).With("module", "test")
	logger.Debug("debug only message")

	if count := strings.Count(buf.String(), "debug only message"); count != 1 {
		t.Errorf("expected 1 debug message, got %d. Output: %s", count, buf.String())
	}
}

func TestBufferHandlerGroups(t *testing.T) {
	resetState()
	Initialize(Config{Level: "debug"})

	logger := slog.New(NewBufferHandler(slog.LevelDebug)).With("module", "vpp").WithGroup("frc")
	logger.Info("rate chosen", "rate", "2x", slog.Group("hdmi", "refresh", 60), "wait", 5*time.Millisecond)

	entries := GetBuffer().ReadAll()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Module != "vpp" {
		t.Errorf("module = %q, want vpp", e.Module)
	}
	want := map[string]any{"frc.rate": "2x", "frc.hdmi.refresh": int64(60), "frc.wait": "5ms"}
	for k, v := range want {
		if e.Attributes[k] != v {
			t.Errorf("attribute %s = %v (%T), want %v", k, e.Attributes[k], e.Attributes[k], v)
		}
	}
}

func TestJournalFieldName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"window", "WINDOW"},
		{"frc_rate", "FRC_RATE"},
		{"hdmi.refresh-rate", "HDMI_REFRESH_RATE"},
		{"_private", "PRIVATE"},
		{"3a", "F_3A"},
		{"", "F_"},
	}
	for _, tt := range tests {
		if got := journalFieldName(tt.key); got != tt.want {
			t.Errorf("journalFieldName(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestJournalFieldsFlattenGroups(t *testing.T) {
	fields := map[string]string{}
	addJournalField(fields, []string{"isp"}, slog.Group("zoom", "ratio", 2.5, "value", 150))
	if fields["ISP_ZOOM_RATIO"] != "2.5" || fields["ISP_ZOOM_VALUE"] != "150" {
		t.Errorf("fields = %v", fields)
	}
}

func TestRingBufferWrap(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := range 5 {
		e := rb.Write(LogEntry{Message: string(rune('a' + i)), Timestamp: time.Unix(int64(i), 0)})
		if e.Seq != uint64(i+1) {
			t.Fatalf("write %d got seq %d", i, e.Seq)
		}
	}

	entries := rb.ReadAll()
	if len(entries) != 3 || rb.Count() != 3 {
		t.Fatalf("len = %d, count = %d, want 3", len(entries), rb.Count())
	}
	for i, want := range []string{"c", "d", "e"} {
		if entries[i].Message != want || entries[i].Seq != uint64(i+3) {
			t.Errorf("entries[%d] = %q seq %d, want %q seq %d", i, entries[i].Message, entries[i].Seq, want, i+3)
		}
	}
}

func TestRingBufferRead(t *testing.T) {
	rb := NewRingBuffer(8)
	for i, module := range []string{"isp", "vpp", "isp", "api", "isp"} {
		rb.Write(LogEntry{Module: module, Message: string(rune('a' + i))})
	}

	tests := []struct {
		name   string
		module string
		limit  int
		want   string
	}{
		{"all", "", 0, "abcde"},
		{"module", "isp", 0, "ace"},
		{"module limit", "isp", 2, "ce"},
		{"limit above count", "vpp", 10, "b"},
		{"unknown module", "led", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got strings.Builder
			for _, e := range rb.Read(tt.module, tt.limit) {
				got.WriteString(e.Message)
			}
			if got.String() != tt.want {
				t.Errorf("Read(%q, %d) = %q, want %q", tt.module, tt.limit, got.String(), tt.want)
			}
		})
	}
}

func TestFormatLogLine(t *testing.T) {
	line := FormatLogLine(LogEntry{
		Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Level:      "warn",
		Module:     "isp",
		Message:    "starving",
		Attributes: map[string]any{"b": 2, "a": 1},
	})
	if !strings.HasSuffix(line, "[WARN] [isp] starving a=1 b=2") {
		t.Errorf("unexpected line: %s", line)
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"DEBUG", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"Warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"trace", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseLevel(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseLevel(%q) = %v, %t, want %v, %t", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}
