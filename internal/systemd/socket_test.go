package systemd

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("GetListeners failed: %v", err)
	}
	if listeners.Activated {
		t.Error("Expected no socket activation")
	}
	if listeners.Metrics != nil {
		t.Error("Expected no metrics listener")
	}
}

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	if err := NotifyReady(); err != nil {
		t.Errorf("NotifyReady failed: %v", err)
	}
	if err := NotifyStatus("polling"); err != nil {
		t.Errorf("NotifyStatus failed: %v", err)
	}
	if WatchdogInterval() != 0 {
		t.Error("Expected watchdog to be disabled")
	}
}

func TestNotifySendsState(t *testing.T) {
	dir, err := os.MkdirTemp("", "sd")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram sockets unavailable: %v", err)
	}
	defer conn.Close()

	t.Setenv("NOTIFY_SOCKET", path)

	if err := NotifyStatus("live feed connected"); err != nil {
		t.Fatalf("NotifyStatus failed: %v", err)
	}

	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if got := string(buf[:n]); !strings.Contains(got, "STATUS=live feed connected") {
		t.Errorf("Unexpected notification %q", got)
	}
}
