package isp_test

import (
	"errors"
	"testing"
	"time"

	"github.com/smazurov/ispnode/internal/isp"
	"github.com/smazurov/ispnode/internal/isp/isptest"
	"github.com/smazurov/ispnode/pkg/linuxav/v4l2"
)

func newController(t *testing.T, mutate func(opts *isp.Options, set *isptest.Set)) (*isp.Controller, *isptest.Set) {
	t.Helper()
	opts, set := isptest.Options()
	opts.StarvingWait = time.Millisecond
	if mutate != nil {
		mutate(&opts, set)
	}
	c, err := isp.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, set
}

func startMode(t *testing.T, c *isp.Controller, mode isp.Mode) {
	t.Helper()
	if err := c.Configure(mode); err != nil {
		t.Fatalf("Configure(%s): %v", mode, err)
	}
	if err := c.AllocateBuffers(mode); err != nil {
		t.Fatalf("AllocateBuffers(%s): %v", mode, err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start(%s): %v", mode, err)
	}
}

func TestNewRequiresDevices(t *testing.T) {
	opts, _ := isptest.Options()
	opts.Devices.Preview = nil
	if _, err := isp.New(opts); isp.CodeOf(err) != isp.CodeBadValue {
		t.Errorf("New without preview device: %v, want BAD_VALUE", err)
	}

	opts, _ = isptest.Options()
	opts.Devices.Inject = nil
	opts.FileInjection = true
	if _, err := isp.New(opts); isp.CodeOf(err) != isp.CodeBadValue {
		t.Errorf("New with injection but no inject device: %v, want BAD_VALUE", err)
	}
}

func TestPreviewLifecycle(t *testing.T) {
	c, set := newController(t, nil)

	if c.DataAvailable() {
		t.Error("DataAvailable while stopped")
	}
	startMode(t, c, isp.ModePreview)

	if c.Mode() != isp.ModePreview {
		t.Fatalf("mode = %s, want preview", c.Mode())
	}
	if c.Session() != 1 {
		t.Errorf("session = %d, want 1", c.Session())
	}
	if !c.DataAvailable() {
		t.Error("DataAvailable = false with a full queue")
	}

	b, err := c.GetPreviewFrame()
	if err != nil {
		t.Fatalf("GetPreviewFrame: %v", err)
	}
	if b.ID < 0 || b.Queued() {
		t.Errorf("dequeued buffer ID = %d", b.ID)
	}
	if b.Session != 1 || b.FrameCounter != 1 {
		t.Errorf("buffer session %d counter %d", b.Session, b.FrameCounter)
	}
	if got := c.Stats().QueuedPreview; got != 5 {
		t.Errorf("queued preview = %d, want 5", got)
	}

	if err := c.PutPreviewFrame(b); err != nil {
		t.Fatalf("PutPreviewFrame: %v", err)
	}
	if !b.Queued() {
		t.Error("returned buffer should be queued")
	}
	if err := c.PutPreviewFrame(b); isp.CodeOf(err) != isp.CodeBadValue {
		t.Errorf("double put: %v, want BAD_VALUE", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.Mode() != isp.ModeNone {
		t.Errorf("mode after stop = %s", c.Mode())
	}
	if set.Preview.IsOpen() {
		t.Error("preview device left open after stop")
	}
	if !set.Main.IsOpen() {
		t.Error("main device must stay open")
	}
	if _, err := c.GetPreviewFrame(); isp.CodeOf(err) != isp.CodeInvalidOperation {
		t.Errorf("GetPreviewFrame while stopped: %v, want INVALID_OPERATION", err)
	}
}

func TestStaleBufferIsDeadObject(t *testing.T) {
	c, _ := newController(t, nil)
	startMode(t, c, isp.ModePreview)

	stale, err := c.GetPreviewFrame()
	if err != nil {
		t.Fatalf("GetPreviewFrame: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	startMode(t, c, isp.ModePreview)
	if c.Session() != 2 {
		t.Fatalf("session = %d, want 2", c.Session())
	}

	before := c.Stats().QueuedPreview
	err = c.PutPreviewFrame(stale)
	if !errors.Is(err, isp.ErrDeadObject) {
		t.Fatalf("PutPreviewFrame(stale) = %v, want DEAD_OBJECT", err)
	}
	if after := c.Stats().QueuedPreview; after != before {
		t.Errorf("queued preview changed from %d to %d", before, after)
	}
}

func TestTransitionFailureRevertsToNone(t *testing.T) {
	boom := errors.New("driver refused")
	tests := []struct {
		name  string
		op    string
		stage string
	}{
		{"set format", isptest.OpSetFormat, "configure"},
		{"buffer pool", isptest.OpSetBufferPool, "allocate"},
		{"stream on", isptest.OpStart, "start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, set := newController(t, nil)
			set.Preview.FailNext(tt.op, boom)

			err := c.Configure(isp.ModePreview)
			if err == nil {
				err = c.AllocateBuffers(isp.ModePreview)
			}
			if err == nil {
				err = c.Start()
			}
			if isp.CodeOf(err) != isp.CodeUnknownError {
				t.Fatalf("%s failure: %v, want UNKNOWN_ERROR", tt.stage, err)
			}
			if c.Mode() != isp.ModeNone {
				t.Errorf("mode = %s, want none", c.Mode())
			}
			if q := c.Stats().QueuedPreview; q != 0 {
				t.Errorf("queued preview = %d, want 0", q)
			}
			if set.Preview.IsOpen() {
				t.Error("preview device left open")
			}

			// The controller recovers on the next attempt.
			startMode(t, c, isp.ModePreview)
		})
	}
}

func TestConfigureGuards(t *testing.T) {
	c, _ := newController(t, nil)

	if err := c.Configure(isp.ModeNone); isp.CodeOf(err) != isp.CodeBadValue {
		t.Errorf("Configure(none): %v, want BAD_VALUE", err)
	}
	if err := c.Start(); isp.CodeOf(err) != isp.CodeInvalidOperation {
		t.Errorf("Start before configure: %v, want INVALID_OPERATION", err)
	}
	if err := c.Configure(isp.ModeContinuous); isp.CodeOf(err) != isp.CodeUnknownError {
		t.Errorf("continuous without prepare: %v, want UNKNOWN_ERROR", err)
	}
	if c.Mode() != isp.ModeNone {
		t.Fatalf("mode = %s after failed configure", c.Mode())
	}

	startMode(t, c, isp.ModePreview)
	if err := c.Configure(isp.ModeVideo); isp.CodeOf(err) != isp.CodeInvalidOperation {
		t.Errorf("Configure while streaming: %v, want INVALID_OPERATION", err)
	}
	if err := c.AllocateBuffers(isp.ModeVideo); isp.CodeOf(err) != isp.CodeInvalidOperation {
		t.Errorf("AllocateBuffers for another mode: %v, want INVALID_OPERATION", err)
	}
	if err := c.SetPreviewFrameFormat(320, 240, v4l2.PixFmtNV12); isp.CodeOf(err) != isp.CodeInvalidOperation {
		t.Errorf("format change while streaming: %v, want INVALID_OPERATION", err)
	}
}

func TestVideoBeyondPostprocessorNotSupported(t *testing.T) {
	c, set := newController(t, func(opts *isp.Options, _ *isptest.Set) {
		p := isptest.DefaultPlatform()
		p.MaxVFPPWidth, p.MaxVFPPHeight = 1280, 720
		opts.Platform = p
	})
	if err := c.SetPreviewFrameFormat(1920, 1080, v4l2.PixFmtNV12); err != nil {
		t.Fatal(err)
	}
	if err := c.SetVideoFrameFormat(1600, 900, v4l2.PixFmtNV12); err != nil {
		t.Fatal(err)
	}

	err := c.Configure(isp.ModeVideo)
	if !errors.Is(err, isp.ErrNotSupported) {
		t.Fatalf("Configure(video) = %v, want NOT_SUPPORTED", err)
	}
	if c.Mode() != isp.ModeNone {
		t.Errorf("mode = %s, want none", c.Mode())
	}
	if set.Preview.IsOpen() || set.Recording.IsOpen() {
		t.Error("video devices left open")
	}
}

func TestVideoSwapsDevicesForSmallVideo(t *testing.T) {
	c, set := newController(t, nil)
	if err := c.SetPreviewFrameFormat(1280, 720, v4l2.PixFmtNV12); err != nil {
		t.Fatal(err)
	}
	if err := c.SetVideoFrameFormat(640, 480, v4l2.PixFmtNV12); err != nil {
		t.Fatal(err)
	}
	startMode(t, c, isp.ModeVideo)

	roles := c.Stats().Roles
	if roles["preview"] != "recording" || roles["recording"] != "preview" {
		t.Fatalf("roles = %v, want preview and recording swapped", roles)
	}
	if got := set.Recording.Format().Width; got != 1280 {
		t.Errorf("recording device width = %d, want the 1280 preview stream", got)
	}

	var held []*isp.Buffer
	for range 2 {
		b, err := c.GetRecordingFrame()
		if err != nil {
			t.Fatalf("GetRecordingFrame: %v", err)
		}
		if b.Format.Width != 640 {
			t.Errorf("recording buffer width = %d, want 640", b.Format.Width)
		}
		held = append(held, b)
	}
	if got := c.Stats().QueuedRecording; got != 7 {
		t.Errorf("queued recording = %d, want 7", got)
	}
	if err := c.ReturnRecordingBuffers(); err != nil {
		t.Fatalf("ReturnRecordingBuffers: %v", err)
	}
	if got := c.Stats().QueuedRecording; got != 9 {
		t.Errorf("queued recording = %d, want 9", got)
	}
	for _, b := range held {
		if !b.Queued() {
			t.Error("returned recording buffer not queued")
		}
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if roles := c.Stats().Roles; roles["preview"] != "preview" {
		t.Errorf("roles not restored after stop: %v", roles)
	}
}

func TestCaptureSnapshot(t *testing.T) {
	c, set := newController(t, func(_ *isp.Options, set *isptest.Set) {
		set.Main.SetControlValue(isp.CIDSkipFrames, 2)
	})
	startMode(t, c, isp.ModeCapture)

	// Two corrupted frames were consumed by the start.
	if got := set.Main.FrameCounter(); got != 2 {
		t.Errorf("main frame counter after start = %d, want 2", got)
	}
	res, err := c.PollCapture(0)
	if err != nil || res != v4l2.PollReady {
		t.Fatalf("PollCapture = %v, %v", res, err)
	}
	snap, post, err := c.GetSnapshot()
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.Status != isp.FrameOK || post == nil || post.ID != snap.ID {
		t.Fatalf("snapshot status %s postview %v", snap.Status, post)
	}
	if snap.Kind() != isp.KindSnapshot || post.Kind() != isp.KindPostview {
		t.Errorf("kinds %s/%s", snap.Kind(), post.Kind())
	}
	if err := c.PutSnapshot(snap, post); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if set.Postview.IsOpen() {
		t.Error("postview left open")
	}
}

func TestRawDumpSkipsPostview(t *testing.T) {
	c, set := newController(t, nil)
	c.SetRawDump(true)
	startMode(t, c, isp.ModeCapture)

	if set.Postview.IsOpen() {
		t.Error("postview opened in raw dump mode")
	}
	if got := set.Main.Format().PixelFormat; got != v4l2.PixFmtSGRBG10 {
		t.Errorf("main format = %s, want the sensor RAW format", v4l2.FormatFourCC(got))
	}
	snap, post, err := c.GetSnapshot()
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if post != nil {
		t.Error("raw dump returned a postview")
	}
	if err := c.PutSnapshot(snap, nil); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}
}

func TestPauseResumePreview(t *testing.T) {
	c, set := newController(t, nil)
	startMode(t, c, isp.ModePreview)

	if err := c.PausePreview(); err != nil {
		t.Fatalf("PausePreview: %v", err)
	}
	if set.Preview.State() != v4l2.StatePopulated || c.DataAvailable() {
		t.Errorf("paused preview state %s", set.Preview.State())
	}
	if err := c.ResumePreview(); err != nil {
		t.Fatalf("ResumePreview: %v", err)
	}
	if got := c.Stats().QueuedPreview; got != 6 {
		t.Errorf("queued preview after resume = %d, want 6", got)
	}
}

func TestZoomAndTorch(t *testing.T) {
	c, set := newController(t, nil)

	if err := c.SetZoom(isp.MaxZoom + 1); isp.CodeOf(err) != isp.CodeBadValue {
		t.Errorf("SetZoom beyond max: %v, want BAD_VALUE", err)
	}
	if err := c.SetZoom(200); err != nil {
		t.Fatalf("SetZoom: %v", err)
	}
	if _, ok := set.Main.ControlValue(isp.CIDZoomAbsolute); ok {
		t.Error("zoom applied while stopped")
	}
	if err := c.SetTorch(40); err != nil {
		t.Fatalf("SetTorch: %v", err)
	}

	startMode(t, c, isp.ModePreview)
	if v, _ := set.Main.ControlValue(isp.CIDZoomAbsolute); v != 200 {
		t.Errorf("zoom control = %d, want 200", v)
	}
	if v, _ := set.Main.ControlValue(isp.CIDTorchLevel); v != 40 {
		t.Errorf("torch level = %d, want 40", v)
	}
	if v, _ := set.Main.ControlValue(isp.CIDFlashMode); v == 0 {
		t.Error("flash mode off while torch is set")
	}

	if err := c.SetZoom(300); err != nil {
		t.Fatalf("SetZoom while streaming: %v", err)
	}
	if v, _ := set.Main.ControlValue(isp.CIDZoomAbsolute); v != 300 {
		t.Errorf("zoom control = %d, want 300", v)
	}

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if v, _ := set.Main.ControlValue(isp.CIDFlashMode); v != 0 {
		t.Errorf("flash mode after stop = %d, want off", v)
	}
}

func TestFileInjection(t *testing.T) {
	c, set := newController(t, func(opts *isp.Options, _ *isptest.Set) {
		opts.FileInjection = true
	})
	startMode(t, c, isp.ModePreview)
	if set.Inject.State() != v4l2.StateStarted {
		t.Errorf("inject state = %s, want started", set.Inject.State())
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if set.Inject.IsOpen() {
		t.Error("inject device left open")
	}
}
