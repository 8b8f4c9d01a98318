package events

// Event type constants for kelindar/event.
const (
	TypeModeChanged uint32 = iota + 1
	TypeFrameSkipped
	TypeStatisticsReady
	TypeObserverError
	TypeSessionOpened
	TypeSessionClosed
	TypeFlushCompleted
	TypeFrcChanged
	TypeLogEntry
	TypeVPPMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ModeChangedEvent is published after every capture-mode transition, including failed ones.
type ModeChangedEvent struct {
	Previous  string `json:"previous" example:"none" doc:"Mode before the transition"`
	Mode      string `json:"mode" example:"preview" doc:"Mode after the transition"`
	Session   int    `json:"session" example:"3" doc:"Capture session counter"`
	Error     string `json:"error,omitempty" doc:"Failure reason when the transition reverted to none"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ModeChangedEvent.
func (e ModeChangedEvent) Type() uint32 { return TypeModeChanged }

// FrameSkippedEvent reports a preview frame dropped by the observer.
type FrameSkippedEvent struct {
	Device    string `json:"device" example:"preview" doc:"Device role that produced the frame"`
	Sequence  uint32 `json:"sequence" doc:"Driver sequence number"`
	Reason    string `json:"reason" example:"initial" doc:"initial, rate or corrupt"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameSkippedEvent.
func (e FrameSkippedEvent) Type() uint32 { return TypeFrameSkipped }

// StatisticsReadyEvent reports a 3A statistics event from the ISP.
type StatisticsReadyEvent struct {
	Sequence  uint32 `json:"sequence" doc:"Event sequence number"`
	Skipped   bool   `json:"skipped" doc:"True while initial statistics are being discarded"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StatisticsReadyEvent.
func (e StatisticsReadyEvent) Type() uint32 { return TypeStatisticsReady }

// ObserverErrorEvent reports a poll source that gave up.
type ObserverErrorEvent struct {
	Source    string `json:"source" example:"preview" doc:"Observer source name"`
	Error     string `json:"error" doc:"Error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ObserverErrorEvent.
func (e ObserverErrorEvent) Type() uint32 { return TypeObserverError }

// SessionOpenedEvent is published when a post-processing session is registered.
type SessionOpenedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Window    string `json:"window" doc:"Output surface identity"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionOpenedEvent.
func (e SessionOpenedEvent) Type() uint32 { return TypeSessionOpened }

// SessionClosedEvent is published when a post-processing session is torn down.
type SessionClosedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Window    string `json:"window" doc:"Output surface identity"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionClosedEvent.
func (e SessionClosedEvent) Type() uint32 { return TypeSessionClosed }

// FlushCompletedEvent is published when the post-processing pipeline drains a flush marker.
type FlushCompletedEvent struct {
	Window    string `json:"window" doc:"Output surface identity"`
	Reason    string `json:"reason" example:"seek" doc:"seek, eos or frc"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FlushCompletedEvent.
func (e FlushCompletedEvent) Type() uint32 { return TypeFlushCompleted }

// FrcChangedEvent is published when a staged frame-rate-conversion change is applied.
type FrcChangedEvent struct {
	Window    string `json:"window" doc:"Output surface identity"`
	Enabled   bool   `json:"enabled" doc:"Whether frame-rate conversion is on"`
	Rate      string `json:"rate" example:"2x" doc:"Conversion rate"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrcChangedEvent.
func (e FrcChangedEvent) Type() uint32 { return TypeFrcChanged }

// LogEntryEvent carries one log record for the SSE log stream.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" doc:"Sequence number"`
	Timestamp  string         `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"isp" doc:"Module name"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Additional attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// VPPMetricsEvent is a periodic snapshot of one window's post-processing counters.
type VPPMetricsEvent struct {
	Window        string  `json:"window" doc:"Output surface identity"`
	TasksInFlight float64 `json:"tasks_in_flight" doc:"Submissions outstanding on the hardware"`
	FrcRate       float64 `json:"frc_rate" example:"2" doc:"Frame-rate conversion multiplier"`
	Flushes       float64 `json:"flushes" doc:"Completed flushes"`
	Replaced      float64 `json:"replaced" doc:"Output frames that replaced a render-list entry"`
	Inserted      float64 `json:"inserted" doc:"Interpolated frames inserted into the render list"`
	Dropped       float64 `json:"dropped" doc:"Output frames with no render-list slot"`
	Timestamp     string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for VPPMetricsEvent.
func (e VPPMetricsEvent) Type() uint32 { return TypeVPPMetrics }
