package stream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

func TestBackoffDoublesToCapAndResets(t *testing.T) {
	var b Backoff
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	prev := time.Duration(0)
	for i, w := range want {
		got := b.Next()
		if got != w*time.Second {
			t.Fatalf("Next() #%d = %v, want %v", i, got, w*time.Second)
		}
		if got < prev {
			t.Fatalf("backoff decreased: %v after %v", got, prev)
		}
		prev = got
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("Next() after Reset = %v, want 1s", got)
	}
}

func TestBackoffCustomBounds(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: 250 * time.Millisecond}
	for _, want := range []time.Duration{100, 200, 250, 250} {
		if got := b.Next(); got != want*time.Millisecond {
			t.Fatalf("Next() = %v, want %v", got, want*time.Millisecond)
		}
	}
}

func nopLogger() logx.Logger { return logx.NewWriter(io.Discard, "debug") }

// feedServer upgrades connections; the first failDials requests are refused
// with 503, and every accepted connection receives one text frame with its
// ordinal and is then closed.
func feedServer(t *testing.T, failDials int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n <= failDials {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("missing configured header")
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		msg := `{"n":` + strconv.Itoa(int(n-failDials)) + `}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		// wait for the client to go away
		_, _, _ = conn.ReadMessage()
	}))
	return srv, &hits
}

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

func TestClientReconnectsWithBackoff(t *testing.T) {
	srv, _ := feedServer(t, 2)
	defer srv.Close()

	msgs := make(chan string, 16)
	h := HandlerFunc(func(ctx context.Context, raw []byte) error {
		select {
		case msgs <- string(raw):
		case <-ctx.Done():
		}
		return nil
	})
	c, err := NewClient(Config{URL: wsURL(srv), Header: http.Header{"X-Token": {"secret"}}}, h, nopLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	waits := make(chan time.Duration, 16)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case waits <- d:
		case <-ctx.Done():
		}
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	expect := func(want time.Duration) {
		t.Helper()
		select {
		case d := <-waits:
			if d != want {
				t.Fatalf("wait = %v, want %v", d, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("no reconnect wait")
		}
	}
	expectMsg := func(want string) {
		t.Helper()
		select {
		case m := <-msgs:
			if m != want {
				t.Fatalf("message = %q, want %q", m, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("no message")
		}
	}

	// two refused dials back off 1s then 2s
	expect(time.Second)
	expect(2 * time.Second)
	// the open resets the delay
	expectMsg(`{"n":1}`)
	expect(time.Second)
	expectMsg(`{"n":2}`)
	expect(time.Second)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
	if c.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", c.State())
	}
	if c.Connects() < 2 {
		t.Fatalf("Connects() = %d, want >= 2", c.Connects())
	}
}

func TestClientStopsWhileOpen(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: wsURL(srv), PingInterval: 50 * time.Millisecond}, nil, nopLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for c.State() != StateOpen {
		if time.Now().After(deadline) {
			t.Fatal("client never opened")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// keepalive pings hold the connection past the read deadline
	time.Sleep(200 * time.Millisecond)
	if c.State() != StateOpen || c.Connects() != 1 {
		t.Fatalf("state = %v connects = %d, want open/1", c.State(), c.Connects())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}, nil, nopLogger(), nil); err != ErrNoURL {
		t.Fatalf("err = %v, want ErrNoURL", err)
	}
}

func TestRedact(t *testing.T) {
	got := redact("wss://user:pw@example.com/feed?token=abc#x")
	if got != "wss://example.com/feed" {
		t.Fatalf("redact() = %q", got)
	}
}
