package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

func nopLogger() logx.Logger { return logx.NewWriter(io.Discard, "debug") }

func TestWebhookSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	p := Payload{Username: "Bob#A1", Content: "頻道: general\n內容: hi"}
	if err := wh.Send(context.Background(), p); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got["username"] != "Bob#A1" || got["content"] != p.Content {
		t.Fatalf("body = %v", got)
	}
	if _, ok := got["avatar_url"]; ok {
		t.Fatalf("empty avatar_url should be omitted: %v", got)
	}
}

func TestWebhookErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    string
		body      string
		wantRetry time.Duration
		wantHint  bool
		wantCode  int
	}{
		{name: "429 integer header", status: 429, header: "5", wantRetry: 5 * time.Second, wantHint: true},
		{name: "429 fractional header", status: 429, header: "1.5", wantRetry: 1500 * time.Millisecond, wantHint: true},
		{name: "429 body hint", status: 429, body: `{"message":"You are being rate limited.","retry_after":0.25,"global":false}`, wantRetry: 250 * time.Millisecond, wantHint: true},
		{name: "429 explicit zero", status: 429, header: "0", wantRetry: 0, wantHint: true},
		{name: "429 negative header", status: 429, header: "-1", wantRetry: 0},
		{name: "429 no hint", status: 429, wantRetry: 0},
		{name: "429 garbage header", status: 429, header: "soon", wantRetry: 0},
		{name: "server error", status: 500, body: "boom", wantCode: 500},
		{name: "bad request", status: 400, body: `{"code":50006}`, wantCode: 400},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			wh, _ := NewWebhook(WebhookConfig{URL: srv.URL})
			err := wh.Send(context.Background(), Payload{Username: "u", Content: "c"})
			if tt.wantCode != 0 {
				var se *StatusError
				if !errors.As(err, &se) || se.Code != tt.wantCode || se.Body != tt.body {
					t.Fatalf("Send() = %v, want StatusError %d", err, tt.wantCode)
				}
				return
			}
			var rl *RateLimitedError
			if !errors.As(err, &rl) {
				t.Fatalf("Send() = %v, want RateLimitedError", err)
			}
			if rl.RetryAfter != tt.wantRetry || rl.Hinted != tt.wantHint {
				t.Fatalf("RateLimitedError = %+v, want retry %v hinted %v", rl, tt.wantRetry, tt.wantHint)
			}
		})
	}
}

func TestNewWebhookRequiresURL(t *testing.T) {
	if _, err := NewWebhook(WebhookConfig{URL: "  "}); !errors.Is(err, ErrNoURL) {
		t.Fatalf("err = %v, want ErrNoURL", err)
	}
}
