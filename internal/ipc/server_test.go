package ipc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestServer(t *testing.T, handler Handler) *Server {
	t.Helper()
	cfg := DefaultServerConfig(filepath.Join(t.TempDir(), "d.sock"))
	cfg.Logger = quietLogger()
	srv := NewServer(cfg, handler)
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func connectTestClient(t *testing.T, socketPath string) *Client {
	t.Helper()
	cfg := DefaultClientConfig(socketPath)
	cfg.AutoReconnect = false
	cfg.RequestTimeout = 2 * time.Second
	c := NewClient(cfg)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// awaitEvent reads events until one of the wanted type arrives.
func awaitEvent(t *testing.T, c *Client, want EventType) *Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %#x event within deadline", want)
		}
	}
}

func testHandler() Handler {
	return HandlerFunc(func(ctx context.Context, client *ClientConn, msg *Message) (*Message, error) {
		switch msg.Header.Type {
		case MsgStatus:
			return NewResponse(MsgStatusResp, msg.Header.RequestID, &StatusResponse{
				Version: "9.9.9",
				State:   "running",
				Combos:  3,
			})
		case MsgCombos:
			return NewErrorMessage(msg.Header.RequestID, ErrNotFound, "no such combo"), nil
		default:
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "unexpected"), nil
		}
	})
}

func TestHelloAssignsClientID(t *testing.T) {
	srv := startTestServer(t, nil)
	c := connectTestClient(t, srv.SocketPath())

	if c.ClientID() == "" {
		t.Error("no client id assigned")
	}
	if c.ServerVersion() != "0.0.0" {
		t.Errorf("server version = %q", c.ServerVersion())
	}
	if n := srv.ClientCount(); n != 1 {
		t.Errorf("client count = %d, want 1", n)
	}
}

func TestPing(t *testing.T) {
	srv := startTestServer(t, nil)
	c := connectTestClient(t, srv.SocketPath())

	if err := c.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestRequestResponse(t *testing.T) {
	srv := startTestServer(t, testHandler())
	c := connectTestClient(t, srv.SocketPath())

	status, err := c.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Version != "9.9.9" || status.State != "running" || status.Combos != 3 {
		t.Errorf("status = %+v", status)
	}
}

func TestErrorResponseSurfaced(t *testing.T) {
	srv := startTestServer(t, testHandler())
	c := connectTestClient(t, srv.SocketPath())

	_, err := c.Combos(false, false)
	if err == nil || err.Error() != "no such combo" {
		t.Fatalf("err = %v, want no such combo", err)
	}
}

func TestNoHandlerRejectsRequests(t *testing.T) {
	srv := startTestServer(t, nil)
	c := connectTestClient(t, srv.SocketPath())

	if _, err := c.Status(); err == nil {
		t.Fatal("request without handler succeeded")
	}
}

func TestEventDelivery(t *testing.T) {
	srv := startTestServer(t, nil)
	c := connectTestClient(t, srv.SocketPath())

	if err := c.Subscribe(nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	srv.Broadcast(&Event{
		Type:      EventFire,
		Timestamp: time.Now(),
		Data:      map[string]any{"keyword": "btw"},
	})

	ev := awaitEvent(t, c, EventFire)
	if ev.Data["keyword"] != "btw" {
		t.Errorf("event data = %v", ev.Data)
	}
}

func TestSubscriptionFilters(t *testing.T) {
	srv := startTestServer(t, nil)
	c := connectTestClient(t, srv.SocketPath())

	if err := c.Subscribe([]EventType{EventStateChanged}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	srv.Broadcast(&Event{Type: EventFire, Timestamp: time.Now()})
	srv.Broadcast(&Event{Type: EventStateChanged, Timestamp: time.Now()})

	// The filtered EventFire must not arrive; the first event through is
	// the state change.
	select {
	case ev := <-c.Events():
		if ev.Type != EventStateChanged {
			t.Fatalf("event type = %#x, want state change", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event within deadline")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	srv := startTestServer(t, nil)
	c := connectTestClient(t, srv.SocketPath())

	if err := c.Subscribe(nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	srv.Broadcast(&Event{Type: EventFire, Timestamp: time.Now()})

	select {
	case ev := <-c.Events():
		t.Fatalf("event %#x after unsubscribe", ev.Type)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestShutdownEventOnStop(t *testing.T) {
	srv := startTestServer(t, nil)
	c := connectTestClient(t, srv.SocketPath())

	if err := c.Subscribe(nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	srv.Stop()
	awaitEvent(t, c, EventDaemonShutdown)
}

func TestStartFailsWhileSocketBusy(t *testing.T) {
	srv := startTestServer(t, nil)

	cfg := DefaultServerConfig(srv.SocketPath())
	cfg.Logger = quietLogger()
	second := NewServer(cfg, nil)
	if err := second.Start(); err == nil {
		second.Stop()
		t.Fatal("second server bound the same socket")
	}
}

func TestStartRemovesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "d.sock")

	// A dead daemon leaves the socket file behind.
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	l.Close()

	cfg := DefaultServerConfig(socketPath)
	cfg.Logger = quietLogger()
	srv := NewServer(cfg, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start over stale socket: %v", err)
	}
	defer srv.Stop()
}

func TestStartRefusesNonSocketPath(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "d.sock")
	if err := os.WriteFile(socketPath, []byte("not a socket"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg := DefaultServerConfig(socketPath)
	cfg.Logger = quietLogger()
	srv := NewServer(cfg, nil)
	if err := srv.Start(); err == nil {
		srv.Stop()
		t.Fatal("started over a regular file")
	}
}

func TestConnectionLimit(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "d.sock")
	cfg := DefaultServerConfig(socketPath)
	cfg.Logger = quietLogger()
	cfg.MaxConnections = 1
	srv := NewServer(cfg, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	connectTestClient(t, socketPath)

	over := NewClient(ClientConfig{
		SocketPath:     socketPath,
		ConnectTimeout: time.Second,
		RequestTimeout: time.Second,
	})
	if err := over.Connect(); err == nil {
		over.Close()
		t.Fatal("connection over the limit accepted")
	}
}

func TestConnectWithoutDaemon(t *testing.T) {
	c := NewClient(DefaultClientConfig(filepath.Join(t.TempDir(), "missing.sock")))
	if err := c.Connect(); err != ErrDaemonNotRunning {
		t.Fatalf("err = %v, want ErrDaemonNotRunning", err)
	}
}
