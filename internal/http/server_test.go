package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"receipts/internal/core"
	"receipts/internal/slack"
)

type fakeDispatcher struct {
	envs    []slack.EventEnvelope
	ctxErrs []error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, env slack.EventEnvelope) string {
	f.envs = append(f.envs, env)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if env.Type == slack.TypeURLVerification {
		return env.Challenge()
	}
	return Accepted
}

type fakeInteractions struct {
	payloads []slack.InteractionPayload
	err      error
}

func (f *fakeInteractions) Handle(_ context.Context, p slack.InteractionPayload) error {
	f.payloads = append(f.payloads, p)
	return f.err
}

type fakeAudit struct {
	dumps  []string
	errors []core.ErrorEntry
}

func (f *fakeAudit) DumpRequest(_ context.Context, _ time.Time, raw string) error {
	f.dumps = append(f.dumps, raw)
	return nil
}

func (f *fakeAudit) LogError(_ context.Context, e core.ErrorEntry) error {
	f.errors = append(f.errors, e)
	return nil
}

type fixture struct {
	srv          *Server
	dispatcher   *fakeDispatcher
	interactions *fakeInteractions
	audit        *fakeAudit
}

func newFixture(t *testing.T, edit func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		dispatcher:   &fakeDispatcher{},
		interactions: &fakeInteractions{},
		audit:        &fakeAudit{},
	}
	opts := Options{
		Addr:         ":0",
		Dispatcher:   f.dispatcher,
		Interactions: f.interactions,
		Audit:        f.audit,
		DumpRequests: true,
	}
	if edit != nil {
		edit(&opts)
	}
	f.srv = NewServer(opts)
	t.Cleanup(func() { _ = f.srv.Shutdown(context.Background()) })
	return f
}

func (f *fixture) post(path, contentType, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, req)
	return rr
}

const eventBody = `{"type":"event_callback","event_id":"Ev1","event":{"type":"message","channel":"C1","files":[{"id":"F1","mimetype":"image/png","url_private_download":"https://files/F1"}]}}`

func TestSlackEvents_URLVerification(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.post("/slack/events", "application/json", `{"type":"url_verification","challenge":"abc123"}`, nil)

	if rr.Code != http.StatusOK || rr.Body.String() != "abc123" {
		t.Fatalf("got %d %q, want 200 abc123", rr.Code, rr.Body.String())
	}
}

func TestSlackEvents_EventCallback(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/slack/events", "/"} {
		rr := f.post(path, "application/json", eventBody, nil)
		if rr.Code != http.StatusOK || rr.Body.String() != Accepted {
			t.Fatalf("%s: got %d %q", path, rr.Code, rr.Body.String())
		}
	}
	if len(f.dispatcher.envs) != 2 {
		t.Fatalf("dispatched %d, want 2", len(f.dispatcher.envs))
	}
	env := f.dispatcher.envs[0]
	ev, ok := env.InboundEvent()
	if !ok || ev.ID != "Ev1" || len(ev.Attachments) != 1 || ev.Attachments[0].DownloadURL != "https://files/F1" {
		t.Errorf("unexpected event %+v", ev)
	}
	if f.dispatcher.ctxErrs[0] != nil {
		t.Errorf("dispatch context already done: %v", f.dispatcher.ctxErrs[0])
	}
	if len(f.audit.dumps) != 2 || f.audit.dumps[0] != eventBody {
		t.Errorf("request dump = %v", f.audit.dumps)
	}
}

func TestSlackEvents_MalformedBodyStillOK(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.post("/slack/events", "application/json", `{"type":`, nil)

	if rr.Code != http.StatusOK || rr.Body.String() != Accepted {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
	if len(f.dispatcher.envs) != 0 {
		t.Fatal("malformed body must not be dispatched")
	}
}

func TestSlackInteractive_BlockActions(t *testing.T) {
	f := newFixture(t, nil)
	payload := `{"type":"block_actions","user":{"id":"U1","name":"taro"},"response_url":"https://hooks/x","actions":[{"action_id":"btn_approve","block_id":"approval_actions","value":"{}"}]}`
	form := url.Values{"payload": {payload}}.Encode()

	rr := f.post("/slack/interactive", "application/x-www-form-urlencoded", form, nil)

	if rr.Code != http.StatusOK || rr.Body.String() != Accepted {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
	if len(f.interactions.payloads) != 1 {
		t.Fatalf("callbacks = %d, want 1", len(f.interactions.payloads))
	}
	p := f.interactions.payloads[0]
	if p.User.Name != "taro" || len(p.ActionCallback.BlockActions) != 1 || p.ActionCallback.BlockActions[0].ActionID != "btn_approve" || p.ResponseURL != "https://hooks/x" {
		t.Errorf("unexpected payload %+v", p)
	}
	if len(f.dispatcher.envs) != 0 {
		t.Error("form payloads must not reach the event dispatcher")
	}
}

func TestSlackInteractive_FailureLogged(t *testing.T) {
	f := newFixture(t, nil)
	f.interactions.err = errors.New("invalid approval token")
	payload := `{"type":"block_actions","actions":[{"block_id":"approval_actions","value":"garbage"}]}`

	rr := f.post("/slack/interactive", "application/x-www-form-urlencoded; charset=utf-8", url.Values{"payload": {payload}}.Encode(), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(f.audit.errors) != 1 {
		t.Fatalf("error log entries = %d, want 1", len(f.audit.errors))
	}
	e := f.audit.errors[0]
	if e.Stage != "approve" || e.Event != payload || !strings.Contains(e.Message, "invalid approval token") {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestSlackInteractive_IgnoresOtherTypes(t *testing.T) {
	f := newFixture(t, nil)

	f.post("/slack/interactive", "application/x-www-form-urlencoded", url.Values{"payload": {`{"type":"view_submission"}`}}.Encode(), nil)
	f.post("/slack/interactive", "application/x-www-form-urlencoded", "other=1", nil)

	if len(f.interactions.payloads) != 0 {
		t.Fatalf("unexpected callbacks %+v", f.interactions.payloads)
	}
}

func sign(secret, ts, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSlackSignatureVerification(t *testing.T) {
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	f := newFixture(t, func(o *Options) { o.Verifier = slack.NewVerifier(secret) })

	rr := f.post("/slack/events", "application/json", eventBody, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request: status %d, want 401", rr.Code)
	}
	if len(f.dispatcher.envs) != 0 || len(f.audit.dumps) != 0 {
		t.Fatal("rejected requests must not be processed or dumped")
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	h := http.Header{}
	h.Set(slack.HeaderTimestamp, ts)
	h.Set(slack.HeaderSignature, sign(secret, ts, eventBody))
	rr = f.post("/slack/events", "application/json", eventBody, h)
	if rr.Code != http.StatusOK || len(f.dispatcher.envs) != 1 {
		t.Fatalf("signed request: status %d, dispatched %d", rr.Code, len(f.dispatcher.envs))
	}

	h.Set(slack.HeaderSignature, "v0=deadbeef")
	if rr := f.post("/slack/events", "application/json", eventBody, h); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: status %d, want 401", rr.Code)
	}
}

func TestRequestDumpDisabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.DumpRequests = false })

	f.post("/slack/events", "application/json", eventBody, nil)

	if len(f.audit.dumps) != 0 {
		t.Fatalf("dumps = %d, want 0", len(f.audit.dumps))
	}
}

func TestHealthAndReady(t *testing.T) {
	var readyErr error
	f := newFixture(t, func(o *Options) {
		o.Ready = func(context.Context) error { return readyErr }
	})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		f.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s missing security headers", path)
		}
	}

	readyErr = errors.New("sheets unreachable")
	rr := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rr.Code)
	}
}

func TestWrongMethod(t *testing.T) {
	f := newFixture(t, nil)
	rr := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/slack/events", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RateLimitPerMinute = 2 })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.post("/slack/events", "application/json", eventBody, nil).Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want third request limited", codes)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.9:5555", "", "", "203.0.113.9"},
		{"untrusted peer ignores headers", "203.0.113.9:5555", "198.51.100.1", "", "203.0.113.9"},
		{"trusted proxy uses first forwarded", "10.0.0.2:80", "198.51.100.1, 10.0.0.2", "", "198.51.100.1"},
		{"trusted proxy falls back to real ip", "10.0.0.2:80", "garbage", "198.51.100.7", "198.51.100.7"},
		{"no port", "192.0.2.1", "", "", "192.0.2.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				r.Header.Set("X-Real-IP", tc.xri)
			}
			if got := ClientIP(r); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
