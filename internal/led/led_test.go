package led

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/ispnode/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeLED(t *testing.T, name string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, attr := range []string{"trigger", "brightness"} {
		if err := os.WriteFile(filepath.Join(dir, attr), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func readAttr(t *testing.T, root, name, attr string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name, attr))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSysfsPatterns(t *testing.T) {
	tests := []struct {
		pattern    Pattern
		trigger    string
		brightness string
	}{
		{PatternSolid, "none", "1"},
		{PatternOff, "none", "0"},
		{PatternBlink, "heartbeat", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.pattern), func(t *testing.T) {
			root := fakeLED(t, "usr_led")
			c := New(root, "usr_led", discardLogger())
			if c.Name() != "usr_led" {
				t.Fatalf("controller = %T %q", c, c.Name())
			}
			if err := c.Set(tt.pattern); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if got := readAttr(t, root, "usr_led", "trigger"); got != tt.trigger {
				t.Errorf("trigger = %q, want %q", got, tt.trigger)
			}
			if got := readAttr(t, root, "usr_led", "brightness"); got != tt.brightness {
				t.Errorf("brightness = %q, want %q", got, tt.brightness)
			}
		})
	}
}

func TestNewMissingLEDIsNoop(t *testing.T) {
	c := New(t.TempDir(), "missing", discardLogger())
	if _, ok := c.(*noop); !ok {
		t.Fatalf("controller = %T, want noop", c)
	}
	if err := c.Set(PatternSolid); err != nil {
		t.Errorf("Set: %v", err)
	}
}

func TestPatternForMode(t *testing.T) {
	tests := []struct {
		mode string
		want Pattern
	}{
		{"none", PatternOff},
		{"preview", PatternSolid},
		{"video", PatternBlink},
		{"capture", PatternSolid},
		{"continuous", PatternSolid},
		{"bogus", PatternOff},
	}
	for _, tt := range tests {
		if got := PatternForMode(tt.mode); got != tt.want {
			t.Errorf("PatternForMode(%q) = %s, want %s", tt.mode, got, tt.want)
		}
	}
}

type recorder struct {
	set chan Pattern
}

func (r *recorder) Set(p Pattern) error {
	r.set <- p
	return nil
}

func (r *recorder) Name() string { return "test" }

func TestManagerFollowsModeChanges(t *testing.T) {
	rec := &recorder{set: make(chan Pattern, 8)}
	bus := events.New()
	m := NewManager(rec, bus, discardLogger())
	m.Start()

	expect := func(want Pattern) {
		t.Helper()
		select {
		case got := <-rec.set:
			if got != want {
				t.Errorf("pattern = %s, want %s", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no pattern, want %s", want)
		}
	}

	expect(PatternOff)
	bus.Publish(events.ModeChangedEvent{Previous: "none", Mode: "video"})
	expect(PatternBlink)
	bus.Publish(events.ModeChangedEvent{Previous: "video", Mode: "none"})
	expect(PatternOff)

	m.Stop()
	expect(PatternOff)
	bus.Publish(events.ModeChangedEvent{Mode: "preview"})
	select {
	case p := <-rec.set:
		t.Errorf("pattern %s after Stop", p)
	case <-time.After(50 * time.Millisecond):
	}
}
