package isp_test

import (
	"errors"
	"testing"
	"time"

	"github.com/smazurov/ispnode/internal/isp"
	"github.com/smazurov/ispnode/internal/isp/isptest"
)

type seen struct {
	kind     isp.MessageKind
	status   isp.FrameStatus
	id       int
	counter  int
	session  int
	sequence uint32
}

// recorder keeps what it saw during Notify, up to its capacity.
func recorder(ch chan seen) isp.ObserverFunc {
	return func(msg isp.Message) {
		s := seen{kind: msg.Kind, status: msg.Status, sequence: msg.Sequence, id: -1}
		if msg.Frame != nil {
			s.id = msg.Frame.ID
			s.counter = msg.Frame.FrameCounter
			s.session = msg.Frame.Session
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func collect(t *testing.T, ch chan seen, n int) []seen {
	t.Helper()
	out := make([]seen, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case s := <-ch:
			out = append(out, s)
		case <-timeout:
			t.Fatalf("received %d of %d messages", len(out), n)
		}
	}
	return out
}

func TestPreviewObserverSkipsInitialFrames(t *testing.T) {
	c, set := newController(t, func(_ *isp.Options, set *isptest.Set) {
		set.Main.SetControlValue(isp.CIDSkipFrames, 2)
	})

	ch := make(chan seen, 3)
	detach, err := c.Observers().Attach(isp.SourcePreview, recorder(ch))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer detach()

	startMode(t, c, isp.ModePreview)
	got := collect(t, ch, 3)

	for i, s := range got[:2] {
		if s.kind != isp.MessageFrame || s.status != isp.FrameSkipped {
			t.Errorf("message %d: %s %s, want a skipped frame", i, s.kind, s.status)
		}
	}
	third := got[2]
	if third.status != isp.FrameOK || third.id < 0 || third.counter != 3 {
		t.Errorf("third message: status %s ID %d counter %d", third.status, third.id, third.counter)
	}
	if third.session != 1 {
		t.Errorf("third message session = %d, want 1", third.session)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if q := set.Preview.Queued(); q != 0 {
		t.Errorf("preview device holds %d buffers after stop", q)
	}
}

func TestPreviewObserverRetriesFailedDequeue(t *testing.T) {
	c, set := newController(t, nil)
	set.Preview.FailNext(isptest.OpGrab, errors.New("dequeue interrupted"))

	ch := make(chan seen, 1)
	detach, err := c.Observers().Attach(isp.SourcePreview, recorder(ch))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer detach()

	startMode(t, c, isp.ModePreview)
	first := collect(t, ch, 1)[0]
	if first.kind != isp.MessageFrame {
		t.Fatalf("first message is %s, want the frame behind the failed dequeue", first.kind)
	}
	if first.counter != 1 || first.id < 0 {
		t.Errorf("first frame: counter %d ID %d, want counter 1", first.counter, first.id)
	}

	grabs := 0
	for _, op := range set.Preview.Ops() {
		if op == isptest.OpGrab {
			grabs++
		}
	}
	if grabs < 2 {
		t.Errorf("grab calls = %d, want the failed one plus a retry", grabs)
	}
}

func TestPreviewObserverRateSkipping(t *testing.T) {
	c, _ := newController(t, nil)
	c.SetPreviewFramerate(7.5)

	ch := make(chan seen, 4)
	detach, err := c.Observers().Attach(isp.SourcePreview, recorder(ch))
	if err != nil {
		t.Fatal(err)
	}
	defer detach()

	startMode(t, c, isp.ModePreview)
	// The sensor runs at 15 fps, half the frames are dropped.
	for _, s := range collect(t, ch, 4) {
		want := isp.FrameOK
		if s.counter%2 == 0 {
			want = isp.FrameSkipped
		}
		if s.status != want {
			t.Errorf("frame %d: status %s, want %s", s.counter, s.status, want)
		}
	}
}

func TestObserverAttachUnknownSource(t *testing.T) {
	c, _ := newController(t, nil)
	if _, err := c.Observers().Attach("histogram", isp.ObserverFunc(func(isp.Message) {})); isp.CodeOf(err) != isp.CodeBadValue {
		t.Errorf("Attach(histogram): %v, want BAD_VALUE", err)
	}
	if _, err := c.Observers().Attach(isp.SourcePreview, nil); isp.CodeOf(err) != isp.CodeBadValue {
		t.Errorf("Attach(nil): %v, want BAD_VALUE", err)
	}
}

func TestStatisticsSubscriptionIsShared(t *testing.T) {
	c, set := newController(t, nil)
	noop := isp.ObserverFunc(func(isp.Message) {})

	first, err := c.Observers().Attach(isp.SourceStatistics, noop)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	second, err := c.Observers().Attach(isp.SourceStatistics, noop)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if got := set.ISP.SubscribeCalls(); got != 1 {
		t.Errorf("SubscribeEvent called %d times, want 1", got)
	}
	if got := c.Observers().Attached(isp.SourceStatistics); got != 2 {
		t.Errorf("Attached = %d, want 2", got)
	}

	first()
	first()
	if !set.ISP.Subscribed(isp.Event3AStatsReady) {
		t.Error("unsubscribed while an observer is still attached")
	}
	second()
	if set.ISP.IsOpen() {
		t.Error("ISP subdevice left open after the last detach")
	}
	if got := c.Observers().Attached(isp.SourceStatistics); got != 0 {
		t.Errorf("Attached = %d, want 0", got)
	}
}

func TestStatisticsObserverSkipsInitialEvents(t *testing.T) {
	c, set := newController(t, func(opts *isp.Options, _ *isptest.Set) {
		p := isptest.DefaultPlatform()
		p.StatisticsSkip = 1
		opts.Platform = p
	})

	ch := make(chan seen, 2)
	detach, err := c.Observers().Attach(isp.SourceStatistics, recorder(ch))
	if err != nil {
		t.Fatal(err)
	}
	defer detach()
	startMode(t, c, isp.ModePreview)

	for range 2 {
		if _, ok := set.ISP.Emit(isp.Event3AStatsReady); !ok {
			t.Fatal("event not subscribed")
		}
	}
	got := collect(t, ch, 2)
	if got[0].kind != isp.MessageEvent || got[0].status != isp.FrameSkipped || got[0].sequence != 0 {
		t.Errorf("first event: %+v", got[0])
	}
	if got[1].status != isp.FrameOK || got[1].sequence != 1 {
		t.Errorf("second event: %+v", got[1])
	}
}
