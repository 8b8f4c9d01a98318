package systemd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestNotifier() *Notifier {
	return NewNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("ListenUnixgram: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func readState(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 256)
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return string(buf[:n])
}

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := newTestNotifier()
	if err := n.Ready(); err != nil {
		t.Errorf("Ready: %v", err)
	}
	if err := n.StartWatchdog(context.Background()); err != nil {
		t.Errorf("StartWatchdog: %v", err)
	}
	n.Stop()
}

func TestNotifyStates(t *testing.T) {
	conn := listenNotify(t)
	n := newTestNotifier()

	tests := []struct {
		name string
		send func() error
		want string
	}{
		{"ready", n.Ready, "READY=1"},
		{"status", func() error { return n.Status("preview running") }, "STATUS=preview running"},
		{"stopping", n.Stopping, "STOPPING=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.send(); err != nil {
				t.Fatalf("send: %v", err)
			}
			if got := readState(t, conn); got != tt.want {
				t.Errorf("state = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWatchdogPings(t *testing.T) {
	conn := listenNotify(t)
	t.Setenv("WATCHDOG_USEC", "40000")
	t.Setenv("WATCHDOG_PID", strconv.Itoa(os.Getpid()))

	n := newTestNotifier()
	if err := n.StartWatchdog(context.Background()); err != nil {
		t.Fatalf("StartWatchdog: %v", err)
	}
	defer n.Stop()
	if got := readState(t, conn); !strings.HasPrefix(got, "WATCHDOG=1") {
		t.Errorf("state = %q, want WATCHDOG=1", got)
	}
}
