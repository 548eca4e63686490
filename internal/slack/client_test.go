package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
)

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	all := append([]Option{WithAPIBase(srv.URL), WithRetry(3, time.Millisecond)}, opts...)
	return NewClient("xoxb-test", all...)
}

func TestPostMessage_Success(t *testing.T) {
	var gotPath, gotChannel, gotBlocks string
	var authed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotPath = r.URL.Path
		gotChannel = r.FormValue("channel")
		gotBlocks = r.FormValue("blocks")
		authed = r.Header.Get("Authorization") == "Bearer xoxb-test" || r.FormValue("token") == "xoxb-test"
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1.2"}`))
	}))
	defer srv.Close()

	err := newTestClient(srv).PostMessage(context.Background(), PostMessage{
		Channel: "C1",
		Text:    "hi",
		Blocks:  []slackapi.Block{Section("hello")},
	})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if !authed || gotPath != "/chat.postMessage" {
		t.Errorf("authed=%v path=%q", authed, gotPath)
	}
	if gotChannel != "C1" || !strings.Contains(gotBlocks, "hello") {
		t.Errorf("channel=%q blocks=%q", gotChannel, gotBlocks)
	}
}

func TestPostMessage_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	err := newTestClient(srv).PostMessage(context.Background(), PostMessage{Channel: "C404"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "channel_not_found" {
		t.Fatalf("expected APIError channel_not_found, got %v", err)
	}
}

func TestRetry_On429And5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	if err := newTestClient(srv).PostMessage(context.Background(), PostMessage{Channel: "C1"}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newTestClient(srv).PostMessage(context.Background(), PostMessage{Channel: "C1"})
	if code := statusCode(err); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
	if n := calls.Load(); n != 4 {
		t.Fatalf("calls = %d, want 4", n)
	}
}

func TestRetry_NoneOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).Download(context.Background(), srv.URL+"/f"); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>login</html>"))
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpegdata"))
	}))
	defer srv.Close()

	b, err := newTestClient(srv).Download(context.Background(), srv.URL+"/files/F1")
	if err != nil || string(b) != "jpegdata" {
		t.Fatalf("Download = %q, %v", b, err)
	}

	anon := NewClient("", WithRetry(0, time.Millisecond))
	if _, err := anon.Download(context.Background(), srv.URL+"/files/F1"); err == nil {
		t.Fatal("expected error for html login page")
	}
}

func TestDownload_SizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	_, err := newTestClient(srv, WithMaxDownload(16)).Download(context.Background(), srv.URL)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestRespond_NoToken(t *testing.T) {
	var gotAuth string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	err := newTestClient(srv).Respond(context.Background(), srv.URL+"/hooks/x", ResponseMessage{Text: "warn"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("response_url must not receive the bot token, got %q", gotAuth)
	}
	if got["text"] != "warn" || got["replace_original"] == true {
		t.Errorf("unexpected response %v", got)
	}
}

func TestBackoffDelay(t *testing.T) {
	c := NewClient("t", WithRetry(3, time.Second))
	if d := c.backoffDelay(1, nil); d != time.Second {
		t.Errorf("attempt 1 = %v", d)
	}
	if d := c.backoffDelay(3, nil); d != 4*time.Second {
		t.Errorf("attempt 3 = %v", d)
	}
	if d := c.backoffDelay(10, nil); d != maxBackoff {
		t.Errorf("attempt 10 = %v, want cap", d)
	}
	if d := c.backoffDelay(1, &slackapi.RateLimitedError{RetryAfter: 7 * time.Second}); d != 7*time.Second {
		t.Errorf("retry-after = %v", d)
	}
}
