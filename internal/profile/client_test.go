package profile

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

func nopLogger() logx.Logger { return logx.NewWriter(io.Discard, "debug") }

func TestClientFetch(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantURL string
		wantErr error
	}{
		{name: "ok", status: http.StatusOK, body: `{"data":{"profileImageUrl":"http://x/a.png","nickname":"Bob"}}`, wantURL: "http://x/a.png"},
		{name: "empty image url is still a profile", status: http.StatusOK, body: `{"data":{"profileImageUrl":""}}`, wantURL: ""},
		{name: "not found", status: http.StatusNotFound, body: `{}`, wantErr: &StatusError{}},
		{name: "missing data", status: http.StatusOK, body: `{"result":1}`, wantErr: ErrMalformed},
		{name: "data not an object", status: http.StatusOK, body: `{"data":"nope"}`, wantErr: ErrMalformed},
		{name: "missing image field", status: http.StatusOK, body: `{"data":{"nickname":"Bob"}}`, wantErr: ErrMalformed},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("method = %s, want GET", r.Method)
				}
				if r.URL.Path != "/api/profile/A1" {
					t.Errorf("path = %s, want /api/profile/A1", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(ClientConfig{BaseURL: srv.URL + "/api/profile/", RatePerSec: 100})
			p, err := c.Fetch(context.Background(), "A1")
			if tt.wantErr != nil {
				var se *StatusError
				switch {
				case errors.As(tt.wantErr, &se):
					if !errors.As(err, &se) || se.Code != tt.status {
						t.Fatalf("Fetch() error = %v, want StatusError %d", err, tt.status)
					}
				case !errors.Is(err, tt.wantErr):
					t.Fatalf("Fetch() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch() unexpected error: %v", err)
			}
			if p.ImageURL != tt.wantURL {
				t.Fatalf("ImageURL = %q, want %q", p.ImageURL, tt.wantURL)
			}
			if len(p.Raw) == 0 {
				t.Fatal("expected raw data to be kept")
			}
		})
	}
}

func TestClientFetchEscapesID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = io.WriteString(w, `{"data":{"profileImageUrl":"u"}}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	if _, err := c.Fetch(context.Background(), "a/b c"); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if gotPath != "/a%2Fb%20c" {
		t.Fatalf("escaped path = %q", gotPath)
	}
}

func TestClientFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{BaseURL: base})
	if _, err := c.Fetch(context.Background(), "A1"); err == nil {
		t.Fatal("expected network error")
	}
}
