package led

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SysfsRoot is where the kernel exposes LED class devices.
const SysfsRoot = "/sys/class/leds"

const deviceTreeModelPath = "/proc/device-tree/model"

// Indicator LEDs of the boards ispnode ships on, by device tree model.
var boardLEDs = []struct {
	model string
	led   string
}{
	{"NanoPC-T6", "usr_led"},
	{"Orange Pi", "green_led"},
	{"Raspberry Pi", "ACT"},
}

// sysfs drives an LED through its trigger and brightness attributes.
type sysfs struct {
	dir string
}

func newSysfs(root, name string) *sysfs {
	return &sysfs{dir: filepath.Join(root, name)}
}

func (s *sysfs) Name() string { return filepath.Base(s.dir) }

func (s *sysfs) write(attr, value string) error {
	if err := os.WriteFile(filepath.Join(s.dir, attr), []byte(value), 0o644); err != nil {
		return fmt.Errorf("led %s: set %s: %w", s.Name(), attr, err)
	}
	return nil
}

func (s *sysfs) Set(p Pattern) error {
	switch p {
	case PatternBlink:
		return s.write("trigger", "heartbeat")
	case PatternSolid:
		if err := s.write("trigger", "none"); err != nil {
			return err
		}
		return s.write("brightness", "1")
	case PatternOff:
		if err := s.write("trigger", "none"); err != nil {
			return err
		}
		return s.write("brightness", "0")
	default:
		return fmt.Errorf("led %s: unknown pattern %q", s.Name(), p)
	}
}

// New returns a controller for the named LED under root. An empty name
// picks the indicator of the detected board; boards without one and
// names that do not exist get a no-op controller.
func New(root, name string, logger *slog.Logger) Controller {
	if name == "" {
		model := detectBoard()
		for _, b := range boardLEDs {
			if strings.Contains(model, b.model) {
				name = b.led
				break
			}
		}
		logger.Info("Detected board for indicator LED", "board_model", model, "led", name)
	}
	if name == "" {
		return newNoop(logger)
	}
	if _, err := os.Stat(filepath.Join(root, name)); err != nil {
		logger.Warn("Indicator LED not found", "led", name, "error", err)
		return newNoop(logger)
	}
	return newSysfs(root, name)
}

func detectBoard() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00")
}
