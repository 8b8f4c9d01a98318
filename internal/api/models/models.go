package models

import (
	"time"

	"github.com/smazurov/ispnode/internal/version"
)

// Health check models
type HealthData struct {
	Status  string       `json:"status" example:"ok" doc:"Service status"`
	Message string       `json:"message" example:"API is healthy" doc:"Status message"`
	Build   version.Info `json:"build" doc:"Running build"`
}

type HealthResponse struct {
	Body HealthData
}

// ISP models
type ISPStatusData struct {
	Mode            string            `json:"mode" example:"preview" doc:"Active capture mode"`
	Session         int               `json:"session" example:"3" doc:"Capture session counter, bumped on every start"`
	QueuedPreview   int               `json:"queued_preview" doc:"Preview buffers queued in the driver"`
	QueuedRecording int               `json:"queued_recording" doc:"Recording buffers queued in the driver"`
	QueuedCapture   int               `json:"queued_capture" doc:"Snapshot buffers queued in the driver"`
	HALZSL          bool              `json:"hal_zsl" doc:"Whether the HAL zero-shutter-lag ring is active"`
	Roles           map[string]string `json:"roles" doc:"Device node serving each logical role"`
	FPS             float64           `json:"fps" example:"30" doc:"Sensor frame rate"`
	Zoom            int               `json:"zoom" example:"0" doc:"Digital zoom control value"`
	Timestamp       time.Time         `json:"timestamp" doc:"When the snapshot was taken"`
}

type ISPStatusResponse struct {
	Body ISPStatusData
}

type ISPModeRequestData struct {
	Mode string `json:"mode" enum:"preview,video,capture,continuous" example:"preview" doc:"Capture mode to configure, allocate and start"`
}

type ISPModeRequest struct {
	Body ISPModeRequestData
}

type ISPZoomRequestData struct {
	Value int `json:"value" minimum:"0" maximum:"1500" example:"100" doc:"Zoom control value; the ratio is (100 + value) / 100"`
}

type ISPZoomRequest struct {
	Body ISPZoomRequestData
}

type ISPTorchRequestData struct {
	Level int `json:"level" minimum:"0" maximum:"100" example:"50" doc:"Torch level, 0 turns it off"`
}

type ISPTorchRequest struct {
	Body ISPTorchRequestData
}

// VPP models
type VPPFilters struct {
	Deblock     bool   `json:"deblock"`
	Denoise     bool   `json:"denoise"`
	Deinterlace bool   `json:"deinterlace"`
	Sharpen     bool   `json:"sharpen"`
	Color       bool   `json:"color"`
	Frc         bool   `json:"frc"`
	FrcRate     string `json:"frc_rate" example:"2x"`
}

type VPPSessionData struct {
	ID            string     `json:"id" doc:"Session identifier"`
	Window        string     `json:"window" example:"hdmi0" doc:"Output surface identity"`
	CreatedAt     time.Time  `json:"created_at" doc:"When the session was opened"`
	Running       bool       `json:"running" doc:"Whether the pipeline thread is running"`
	Filters       VPPFilters `json:"filters" doc:"Stages the worker runs"`
	InputFps      int        `json:"input_fps" example:"30"`
	OutputFps     int        `json:"output_fps" example:"60"`
	TasksInFlight int        `json:"tasks_in_flight" doc:"Frames submitted to the hardware and not yet completed"`
	Flushing      bool       `json:"flushing" doc:"Whether a flush marker is pending"`
	RenderList    int        `json:"render_list" doc:"Frames waiting for presentation"`
	Decoded       int        `json:"decoded" doc:"Decoder frames admitted"`
	Processed     int        `json:"processed" doc:"Output frames produced"`
	Rendered      int        `json:"rendered" doc:"Output frames handed to the window"`
	Error         string     `json:"error,omitempty" doc:"Sticky pipeline error"`
}

type VPPSessionResponse struct {
	Body VPPSessionData
}

type VPPSessionListData struct {
	Sessions []VPPSessionData `json:"sessions" doc:"Open post-processing sessions"`
	Count    int              `json:"count" example:"1"`
}

type VPPSessionListResponse struct {
	Body VPPSessionListData
}

type VPPSessionPathInput struct {
	ID string `path:"id" doc:"Session identifier or window"`
}

type VPPSettingsData struct {
	CommonOn         bool  `json:"common_on" doc:"Enable the resolution-driven filters"`
	FrcOn            bool  `json:"frc_on" doc:"Enable frame-rate conversion"`
	FrcForHDMI       bool  `json:"frc_for_hdmi" doc:"Match the conversion to the HDMI sink while connected"`
	HDMIConnected    bool  `json:"hdmi_connected" doc:"Whether output goes to HDMI"`
	HDMIRefreshRates []int `json:"hdmi_refresh_rates,omitempty" doc:"Refresh rates the sink accepts"`
}

type VPPSettingsResponse struct {
	Body VPPSettingsData
}

type VPPSettingsRequest struct {
	Body VPPSettingsData
}

// Log models
type LogEntryData struct {
	Seq        uint64         `json:"seq" doc:"Position in the log buffer"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level" example:"info"`
	Module     string         `json:"module" example:"vpp"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type LogsInput struct {
	Module string `query:"module" doc:"Only return entries of this module"`
	Limit  int    `query:"limit" minimum:"0" doc:"Return at most this many of the newest entries, 0 for all"`
}

type LogsResponse struct {
	Body struct {
		Entries []LogEntryData `json:"entries"`
		Count   int            `json:"count"`
	}
}

type LogLevelRequest struct {
	Body struct {
		Module string `json:"module" example:"vpp" doc:"Module logger name"`
		Level  string `json:"level" enum:"debug,info,warn,error" example:"debug"`
	}
}

// StatusResponse is returned by control endpoints that have no other payload.
type StatusResponse struct {
	Body struct {
		Status  string `json:"status" example:"ok"`
		Message string `json:"message,omitempty"`
	}
}
