package vpp

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/logging"
	"github.com/smazurov/ispnode/internal/metrics"
)

// Session is one processor bound to an output window.
type Session struct {
	ID        string
	Window    string
	CreatedAt time.Time
	Processor *Processor
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Settings   Settings
	Bus        *events.Bus
	Logger     *slog.Logger
	RenderWait time.Duration
}

// Registry owns the post-processing sessions of the process. At most one
// session exists per window.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	settings   Settings
	bus        *events.Bus
	logger     *slog.Logger
	renderWait time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("vpp")
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		settings:   opts.Settings,
		bus:        opts.Bus,
		logger:     logger,
		renderWait: opts.RenderWait,
	}
}

// Open creates a session for window. The processor still needs
// ValidateVideoInfo and Init before use.
func (r *Registry) Open(window Window, hw Context, decoder FrameReleaser) (*Session, error) {
	if window == nil {
		return nil, NewError(CodeFail, "window is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := window.ID()
	if _, exists := r.sessions[id]; exists {
		return nil, NewError(CodeSessionExists, "window already has a session", map[string]any{"window": id})
	}
	proc, err := NewProcessor(ProcessorOptions{
		Window:     window,
		Context:    hw,
		Decoder:    decoder,
		Settings:   r.settings,
		Logger:     r.logger.With("window", id),
		Bus:        r.bus,
		RenderWait: r.renderWait,
	})
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:        uuid.NewString(),
		Window:    id,
		CreatedAt: time.Now(),
		Processor: proc,
	}
	r.sessions[id] = s
	metrics.SetVPPSessions(len(r.sessions))
	r.bus.Publish(events.SessionOpenedEvent{SessionID: s.ID, Window: id, Timestamp: s.CreatedAt.Format(time.RFC3339)})
	r.logger.Info("Session opened", "session", s.ID, "window", id)
	return s, nil
}

// Get returns the session of a window.
func (r *Registry) Get(window string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[window]
	if !ok {
		return nil, NewError(CodeSessionNotFound, "no session for window", map[string]any{"window": window})
	}
	return s, nil
}

// Lookup finds a session by window or by session ID.
func (r *Registry) Lookup(key string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[key]; ok {
		return s, nil
	}
	for _, s := range r.sessions {
		if s.ID == key {
			return s, nil
		}
	}
	return nil, NewError(CodeSessionNotFound, "no session with this window or id", map[string]any{"key": key})
}

// List returns every session ordered by window.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int { return strings.Compare(a.Window, b.Window) })
	return out
}

// Close tears down the session of a window.
func (r *Registry) Close(window string) error {
	r.mu.Lock()
	s, ok := r.sessions[window]
	if !ok {
		r.mu.Unlock()
		return NewError(CodeSessionNotFound, "no session for window", map[string]any{"window": window})
	}
	delete(r.sessions, window)
	metrics.SetVPPSessions(len(r.sessions))
	r.mu.Unlock()

	err := s.Processor.Close()
	metrics.DeleteVPPMetrics(window)
	r.bus.Publish(events.SessionClosedEvent{SessionID: s.ID, Window: window, Timestamp: time.Now().Format(time.RFC3339)})
	r.logger.Info("Session closed", "session", s.ID, "window", window)
	return err
}

// CloseAll tears down every session.
func (r *Registry) CloseAll() {
	for _, s := range r.List() {
		if err := r.Close(s.Window); err != nil {
			r.logger.Warn("Close session failed", "window", s.Window, "error", err)
		}
	}
}

// Settings returns the switches new sessions start with.
func (r *Registry) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// SetSettings updates the switches of the registry and of every open
// session.
func (r *Registry) SetSettings(s Settings) {
	r.mu.Lock()
	r.settings = s
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Processor.SetSettings(s)
	}
	r.logger.Debug("Settings applied", "sessions", len(sessions))
}
