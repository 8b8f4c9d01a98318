package led

import (
	"log/slog"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/isp"
)

// PatternForMode maps a capture mode to the indicator pattern: off while
// idle, blinking while recording and solid for any other stream.
func PatternForMode(mode string) Pattern {
	m, err := isp.ParseMode(mode)
	if err != nil {
		return PatternOff
	}
	switch m {
	case isp.ModeNone:
		return PatternOff
	case isp.ModeVideo:
		return PatternBlink
	default:
		return PatternSolid
	}
}

// Manager follows ModeChangedEvent and keeps the indicator in step.
type Manager struct {
	controller  Controller
	eventBus    *events.Bus
	unsubscribe func()
	logger      *slog.Logger
}

// NewManager creates a manager; Start subscribes it.
func NewManager(controller Controller, eventBus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
	}
}

// Start turns the indicator off and begins following mode changes.
func (m *Manager) Start() {
	m.apply(PatternOff)
	m.unsubscribe = m.eventBus.Subscribe(func(e events.ModeChangedEvent) {
		m.logger.Debug("Mode changed", "previous", e.Previous, "mode", e.Mode)
		m.apply(PatternForMode(e.Mode))
	})
	m.logger.Info("Indicator LED manager started", "led", m.controller.Name())
}

// Stop unsubscribes and turns the indicator off.
func (m *Manager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.apply(PatternOff)
}

func (m *Manager) apply(p Pattern) {
	if err := m.controller.Set(p); err != nil {
		m.logger.Warn("Failed to set indicator LED", "pattern", string(p), "error", err)
	}
}
