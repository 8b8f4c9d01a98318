package isp

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/smazurov/ispnode/internal/events"
	"github.com/smazurov/ispnode/internal/logging"
	"github.com/smazurov/ispnode/internal/metrics"
	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

// Observer sources.
const (
	SourcePreview    = "preview"
	SourceStatistics = "3a_statistics"
)

// MessageKind tells what a Message carries.
type MessageKind int

const (
	MessageFrame MessageKind = iota
	MessageEvent
	MessageError
)

func (k MessageKind) String() string {
	switch k {
	case MessageFrame:
		return "frame"
	case MessageEvent:
		return "event"
	default:
		return "error"
	}
}

// Message is one result of observing a source.
type Message struct {
	Kind MessageKind
	// Frame is valid only during Notify; it is re-queued once every
	// observer has seen it. Copy Frame.Data to keep the pixels.
	Frame     *Buffer
	Sequence  uint32
	Timestamp time.Time
	// Status is FrameSkipped for frames and statistics to discard.
	Status FrameStatus
	Err    error
}

// Observer consumes messages on the polling goroutine of a source.
// Notify must not detach observers.
type Observer interface {
	Notify(msg Message)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(msg Message)

// Notify calls f(msg).
func (f ObserverFunc) Notify(msg Message) { f(msg) }

type source interface {
	name() string
	subscribe() error
	unsubscribe()
	// reset runs before each polling run starts.
	reset()
	observe(ctx context.Context) Message
	release(msg Message)
}

// ObserverManager runs one polling goroutine per source with attached
// observers, while the controller is streaming.
type ObserverManager struct {
	logger  *slog.Logger
	bus     *events.Bus
	sources map[string]source

	mu      sync.Mutex
	loops   map[string]*observerLoop
	running bool
	nextID  int
}

type observerLoop struct {
	src       source
	observers map[int]Observer
	cancel    context.CancelFunc
	done      chan struct{}
}

func newObserverManager(c *Controller) *ObserverManager {
	return &ObserverManager{
		logger: logging.GetLogger("observer"),
		bus:    c.bus,
		sources: map[string]source{
			SourcePreview:    &previewSource{c: c},
			SourceStatistics: c.stats3A,
		},
		loops: make(map[string]*observerLoop),
	}
}

// Attach adds o to the named source and returns the function that
// detaches it. The source polls only while at least one observer is
// attached and a stream is running.
func (m *ObserverManager) Attach(sourceName string, o Observer) (func(), error) {
	if o == nil {
		return nil, NewError(CodeBadValue, "nil observer", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[sourceName]
	if !ok {
		return nil, NewError(CodeBadValue, "unknown observer source", map[string]any{"source": sourceName})
	}
	loop := m.loops[sourceName]
	if loop == nil {
		if err := src.subscribe(); err != nil {
			return nil, err
		}
		loop = &observerLoop{src: src, observers: make(map[int]Observer)}
		m.loops[sourceName] = loop
		if m.running {
			m.startLoop(loop)
		}
		m.logger.Debug("Observer source attached", "source", sourceName)
	}
	id := m.nextID
	m.nextID++
	loop.observers[id] = o

	var once sync.Once
	return func() { once.Do(func() { m.detach(sourceName, id) }) }, nil
}

func (m *ObserverManager) detach(sourceName string, id int) {
	m.mu.Lock()
	loop := m.loops[sourceName]
	if loop == nil {
		m.mu.Unlock()
		return
	}
	delete(loop.observers, id)
	if len(loop.observers) > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.loops, sourceName)
	wait := loop.halt()
	m.mu.Unlock()

	wait()
	loop.src.unsubscribe()
	m.logger.Debug("Observer source detached", "source", sourceName)
}

// Attached returns the number of observers on the named source.
func (m *ObserverManager) Attached(sourceName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loop := m.loops[sourceName]; loop != nil {
		return len(loop.observers)
	}
	return 0
}

func (m *ObserverManager) setRunning(running bool) {
	m.mu.Lock()
	if m.running == running {
		m.mu.Unlock()
		return
	}
	m.running = running
	var waits []func()
	for _, loop := range m.loops {
		if running {
			m.startLoop(loop)
		} else {
			waits = append(waits, loop.halt())
		}
	}
	m.mu.Unlock()

	for _, wait := range waits {
		wait()
	}
}

func (m *ObserverManager) close() {
	m.mu.Lock()
	m.running = false
	loops := m.loops
	m.loops = make(map[string]*observerLoop)
	waits := make([]func(), 0, len(loops))
	for _, loop := range loops {
		waits = append(waits, loop.halt())
	}
	m.mu.Unlock()

	for _, wait := range waits {
		wait()
	}
	for _, loop := range loops {
		loop.src.unsubscribe()
	}
}

// startLoop runs with m.mu held.
func (m *ObserverManager) startLoop(loop *observerLoop) {
	if loop.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop.cancel = cancel
	loop.done = make(chan struct{})
	loop.src.reset()
	go m.run(ctx, loop.src, loop.observers, loop.done)
}

// halt cancels the polling goroutine of loop and returns a function
// waiting for it to exit. It runs with m.mu held.
func (loop *observerLoop) halt() func() {
	if loop.cancel == nil {
		return func() {}
	}
	cancel, done := loop.cancel, loop.done
	loop.cancel, loop.done = nil, nil
	cancel()
	return func() { <-done }
}

func (m *ObserverManager) run(ctx context.Context, src source, observers map[int]Observer, done chan struct{}) {
	defer close(done)
	name := src.name()
	for {
		msg := src.observe(ctx)
		if ctx.Err() != nil {
			src.release(msg)
			return
		}
		m.dispatch(observers, msg)
		src.release(msg)

		if msg.Kind == MessageError {
			m.logger.Warn("Observer source failed", "source", name, "error", msg.Err)
			metrics.IncISPObserverErrors(name)
			m.bus.Publish(events.ObserverErrorEvent{
				Source:    name,
				Error:     errString(msg.Err),
				Timestamp: time.Now().Format(time.RFC3339),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(eventRecoveryWaitMs * time.Millisecond):
			}
		}
	}
}

func (m *ObserverManager) dispatch(observers map[int]Observer, msg Message) {
	m.mu.Lock()
	targets := make([]Observer, 0, len(observers))
	for _, o := range observers {
		targets = append(targets, o)
	}
	m.mu.Unlock()
	for _, o := range targets {
		o.Notify(msg)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func errorMessage(err error) Message {
	return Message{Kind: MessageError, Err: err, Timestamp: time.Now()}
}

// CheckSkipFrame reports whether frame n is dropped to bring sensorFPS
// down to targetFPS. Half rate drops even frames, a third drops two of
// every three. Other ratios keep every frame.
func CheckSkipFrame(n int, sensorFPS, targetFPS float64) bool {
	if targetFPS <= 0 {
		return false
	}
	ratio := sensorFPS / targetFPS
	switch {
	case math.Abs(ratio-2) < 0.1:
		return n%2 == 0
	case math.Abs(ratio-3) < 0.1:
		return n%3 != 0
	}
	return false
}

// previewSource delivers preview frames.
type previewSource struct {
	c            *Controller
	timeouts     int
	initialSkips int
}

func (s *previewSource) name() string { return SourcePreview }
func (s *previewSource) subscribe() error { return nil }
func (s *previewSource) unsubscribe() {}

func (s *previewSource) reset() {
	s.timeouts = 0
	s.initialSkips = s.c.initialSkips
}

// observe waits for the next preview frame. A poll timeout, a poll error
// and a failed dequeue all retry through the starvation wait. Only
// timeouts count toward the platform's ISP timeout limit.
func (s *previewSource) observe(ctx context.Context) Message {
	c := s.c
	failures := 0
	for ctx.Err() == nil {
		var failure error
		res, err := c.PollPreview(previewPollTimeoutMs)
		switch {
		case err == nil && res == v4l2.PollReady:
			b, grabErr := c.GetPreviewFrame()
			if grabErr == nil {
				return s.classify(b)
			}
			c.logger.Warn("Preview dequeue failed", "error", grabErr)
			failure = unknownError("dequeue preview frame", grabErr)
		case err != nil:
			s.timeouts++
			c.logger.Warn("Preview poll failed", "error", err, "timeouts", s.timeouts)
			failure = unknownError("poll preview device", err)
		default:
			s.timeouts++
			c.logger.Warn("Preview poll timed out", "timeouts", s.timeouts)
			if limit := c.platform.MaxISPTimeoutCount(); limit > 0 && s.timeouts >= limit {
				return errorMessage(NewError(CodeUnknownError, "ISP timed out",
					map[string]any{"timeouts": s.timeouts}))
			}
			failure = NewError(CodeNotEnoughData, "preview starved of buffers",
				map[string]any{"retries": c.getFrameRetry})
		}

		for c.queuedPreview.value() < 1 && ctx.Err() == nil {
			failures++
			if failures > c.getFrameRetry {
				break
			}
			c.queuedPreview.waitAtLeast(1, c.starvingWait)
		}
		failures++
		if failures > c.getFrameRetry {
			return errorMessage(failure)
		}
	}
	return errorMessage(ctx.Err())
}

func (s *previewSource) classify(b *Buffer) Message {
	c := s.c
	msg := Message{
		Kind:      MessageFrame,
		Frame:     b,
		Sequence:  b.Sequence,
		Timestamp: time.Now(),
		Status:    b.Status,
	}
	var reason string
	switch {
	case b.Status == FrameCorrupted && b.FrameCounter <= s.initialSkips:
		msg.Status = FrameSkipped
		reason = "initial"
	case b.Status == FrameCorrupted:
		reason = "corrupt"
	default:
		s.timeouts = 0
		cfg := c.Config()
		if CheckSkipFrame(b.FrameCounter, cfg.FPS, cfg.PreviewFPS) {
			msg.Status = FrameSkipped
			reason = "rate"
		}
	}
	if reason != "" {
		c.logger.Debug("Preview frame skipped", "frame_counter", b.FrameCounter, "reason", reason)
		metrics.IncISPSkippedFrames(reason)
		c.bus.Publish(events.FrameSkippedEvent{
			Device:    SourcePreview,
			Sequence:  b.Sequence,
			Reason:    reason,
			Timestamp: msg.Timestamp.Format(time.RFC3339),
		})
	}
	return msg
}

func (s *previewSource) release(msg Message) {
	if msg.Kind != MessageFrame || msg.Frame == nil {
		return
	}
	if err := s.c.PutPreviewFrame(msg.Frame); err != nil && !errors.Is(err, ErrDeadObject) {
		s.c.logger.Warn("Returning observed preview frame failed", "error", err)
	}
}

// statsSource delivers 3A statistics ready events from the ISP subdevice.
// The event subscription is shared by every observer.
type statsSource struct {
	c *Controller

	mu       sync.Mutex
	refs     int
	skips    int
	detector corruptStatsDetector
}

func newStatsSource(c *Controller) *statsSource {
	return &statsSource{c: c}
}

func (s *statsSource) name() string { return SourceStatistics }

func (s *statsSource) subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev := s.c.isp
	if dev == nil {
		return NewError(CodeNotSupported, "no ISP subdevice for statistics events", nil)
	}
	if s.refs == 0 {
		if !dev.IsOpen() {
			if err := dev.Open(); err != nil {
				return unknownError("open ISP subdevice", err)
			}
		}
		if err := dev.SubscribeEvent(Event3AStatsReady); err != nil {
			return unknownError("subscribe 3A statistics event", err)
		}
	}
	s.refs++
	return nil
}

func (s *statsSource) unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}
	if err := s.c.isp.UnsubscribeEvent(Event3AStatsReady); err != nil {
		s.c.logger.Warn("Unsubscribe 3A statistics event failed", "error", err)
	}
	if err := s.c.isp.Close(); err != nil {
		s.c.logger.Warn("Close ISP subdevice failed", "error", err)
	}
}

func (s *statsSource) reset() {
	s.mu.Lock()
	s.skips = s.c.statisticSkips
	s.detector = corruptStatsDetector{}
	s.mu.Unlock()
}

func (s *statsSource) observe(ctx context.Context) Message {
	c := s.c
	for ctx.Err() == nil {
		res, err := c.isp.Poll(frameSyncPollTimeoutMs)
		if err != nil || res == v4l2.PollError {
			return errorMessage(unknownError("poll ISP subdevice", err))
		}
		if res == v4l2.PollTimeout {
			continue
		}
		ev, err := c.isp.DequeueEvent()
		if err != nil {
			return errorMessage(unknownError("dequeue 3A statistics event", err))
		}

		msg := Message{Kind: MessageEvent, Sequence: ev.Sequence, Timestamp: time.Now(), Status: FrameOK}
		s.mu.Lock()
		skipped := int(ev.Sequence) < s.skips
		s.mu.Unlock()
		if skipped {
			msg.Status = FrameSkipped
		} else if c.IsOfflineCaptureRunning() {
			if _, err := c.GetStatistics(); CodeOf(err) == CodeNotEnoughData {
				msg.Status = FrameCorrupted
			}
		}
		c.bus.Publish(events.StatisticsReadyEvent{
			Sequence:  ev.Sequence,
			Skipped:   msg.Status != FrameOK,
			Timestamp: msg.Timestamp.Format(time.RFC3339),
		})
		return msg
	}
	return errorMessage(ctx.Err())
}

func (s *statsSource) release(Message) {}

func (s *statsSource) checkCorrupt(st Statistics3A, flashOn bool) statsVerdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detector.check(st, flashOn)
}

// GetStatistics reads the latest 3A statistics from the main device.
// While offline capture runs, buffers rejected by the corrupt statistics
// workaround return NOT_ENOUGH_DATA; fetch again.
func (c *Controller) GetStatistics() (Statistics3A, error) {
	r, ok := c.devices[DeviceMain].(StatisticsReader)
	if !ok {
		return Statistics3A{}, NewError(CodeNotSupported, "main device does not export 3A statistics", nil)
	}
	st, err := r.Statistics()
	if err != nil {
		return Statistics3A{}, unknownError("read 3A statistics", err)
	}
	if c.IsOfflineCaptureRunning() {
		if v := c.stats3A.checkCorrupt(st, c.flashOn.Load()); v != statsAccepted {
			c.logger.Debug("3A statistics dropped", "verdict", v.String(), "flash", c.flashOn.Load())
			return Statistics3A{}, NewError(CodeNotEnoughData, "3A statistics dropped",
				map[string]any{"verdict": v.String()})
		}
	}
	return st, nil
}
