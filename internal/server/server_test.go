package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/toastd/toastd/internal/actions/actionstest"
	"github.com/toastd/toastd/internal/activation"
	"github.com/toastd/toastd/internal/authgate"
	"github.com/toastd/toastd/internal/client"
	"github.com/toastd/toastd/internal/dispatch"
	"github.com/toastd/toastd/internal/dispatch/dispatchtest"
	"github.com/toastd/toastd/internal/health"
	"github.com/toastd/toastd/internal/notify"
	"github.com/toastd/toastd/internal/stager"
)

const (
	localAddr  = "127.0.0.1:50000"
	remoteAddr = "192.0.2.10:50000"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type fixture struct {
	srv      *Server
	handler  http.Handler
	backend  *dispatchtest.Backend
	store    *activation.Registry
	recorder *actionstest.Recorder
}

func newFixture(t *testing.T, gateOpts authgate.Options, opts Options) *fixture {
	t.Helper()
	st, err := stager.New(t.TempDir())
	if err != nil {
		t.Fatalf("stager.New: %v", err)
	}
	f := &fixture{
		backend:  dispatchtest.New(),
		store:    activation.NewRegistry(),
		recorder: actionstest.NewRecorder(),
	}
	monitor := health.NewMonitor()
	svc := notify.New(notify.Options{
		Stager:   st,
		Store:    f.store,
		Backend:  f.backend,
		Source:   dispatch.Source{AppID: "Test.App"},
		Executor: f.recorder.Executor(),
		Monitor:  monitor,
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.srv = New(opts, svc, authgate.New(gateOpts), monitor)
	f.handler = f.srv.Handler()
	t.Cleanup(func() {
		f.srv.Shutdown(context.Background())
		svc.Shutdown(context.Background())
	})
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func formRequest(remote string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = remote
	return req
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not JSON: %q", rr.Body.String())
	}
	return env
}

func TestNotifyFromLoopback(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{})
	rr := f.do(formRequest(localAddr, url.Values{"title": {"Hello"}, "message": {"World"}}))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	env := decode(t, rr)
	if env.ID == "" || env.Message == "" {
		t.Fatalf("unexpected body %+v", env)
	}
	if f.store.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", f.store.Len())
	}
	e, ok := f.store.Take(env.ID)
	if !ok || e.Action.Kind != activation.CopyText || e.Action.Text != "World" {
		t.Fatalf("unexpected entry %+v (found %v)", e, ok)
	}
}

func TestCallbackCommandRunsVerbatim(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{})
	rr := f.do(formRequest(localAddr, url.Values{"title": {"Run"}, "message": {"m"}, "callback_command": {"echo hi"}}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	p, ok := f.backend.Last()
	if !ok {
		t.Fatal("nothing shown")
	}
	f.backend.Click(p)
	select {
	case <-f.recorder.Calls:
	case <-time.After(5 * time.Second):
		t.Fatal("command did not run")
	}
	if cmds := f.recorder.Commands(); len(cmds) != 1 || cmds[0] != "echo hi" {
		t.Fatalf("commands = %q", cmds)
	}
}

func TestRemoteWithoutCredentialsDenied(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{})
	for i := 0; i < 20; i++ {
		rr := f.do(formRequest(remoteAddr, url.Values{"title": {"t"}, "message": {"m"}}))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d", i, rr.Code)
		}
	}
	if len(f.backend.Shown()) != 0 {
		t.Fatal("rejected requests must not reach the pipeline")
	}
}

func TestRemoteCredentials(t *testing.T) {
	f := newFixture(t, authgate.Options{
		Credentials: authgate.Credentials{Username: "admin", Password: "s3cret"},
		MaxFailures: 3,
	}, Options{})

	req := formRequest(remoteAddr, url.Values{"title": {"t"}, "message": {"m"}})
	req.SetBasicAuth("admin", "s3cret")
	if rr := f.do(req); rr.Code != http.StatusOK {
		t.Fatalf("valid credentials: status = %d", rr.Code)
	}

	req = formRequest(remoteAddr, url.Values{"title": {"t"}, "message": {"m"}})
	req.SetBasicAuth("admin", "wrong")
	rr := f.do(req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status = %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate challenge")
	}

	// Loopback bypasses the gate entirely.
	if rr := f.do(formRequest(localAddr, url.Values{"title": {"t"}, "message": {"m"}})); rr.Code != http.StatusOK {
		t.Fatalf("loopback: status = %d", rr.Code)
	}
}

func TestRepeatedAuthFailuresThrottled(t *testing.T) {
	f := newFixture(t, authgate.Options{
		Credentials: authgate.Credentials{Username: "admin", Password: "s3cret"},
		MaxFailures: 2,
	}, Options{})

	var last int
	for i := 0; i < 4; i++ {
		req := formRequest(remoteAddr, url.Values{"title": {"t"}, "message": {"m"}})
		req.SetBasicAuth("admin", "nope")
		last = f.do(req).Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last)
	}
}

func TestValidationErrorIs400(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{})
	rr := f.do(formRequest(localAddr, url.Values{"title": {"  "}, "message": {"m"}}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if env := decode(t, rr); !strings.Contains(env.Error, "title") {
		t.Fatalf("error %q does not name the field", env.Error)
	}
}

func TestDispatchFailureIs500(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{})
	f.backend.ShowErr = errBadRequest
	rr := f.do(formRequest(localAddr, url.Values{"title": {"t"}, "message": {"m"}}))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if env := decode(t, rr); !strings.HasPrefix(env.Error, "failed to send notification") {
		t.Fatalf("error = %q", env.Error)
	}
}

func TestMultipartWithImageAndFiles(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("title", "Build finished")
	mw.WriteField("message", "2 artifacts")
	mw.WriteField("image_position", "logo")
	img, _ := mw.CreateFormFile("image", "status.png")
	img.Write(pngBytes)
	for _, name := range []string{"a.log", "b.log"} {
		part, _ := mw.CreateFormFile("files", name)
		part.Write([]byte(name))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/notify", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = localAddr
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	env := decode(t, rr)
	if env.Action != "reveal_files" {
		t.Fatalf("action = %q", env.Action)
	}
	e, ok := f.store.Take(env.ID)
	if !ok || len(e.Action.Paths) != 2 {
		t.Fatalf("entry = %+v", e)
	}
	p, _ := f.backend.Last()
	if p.Image == nil || p.Image.Placement != "logo" {
		t.Fatalf("image = %+v", p.Image)
	}
}

func TestJSONBody(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{})
	payload, _ := json.Marshal(jsonRequest{
		Title:     "t",
		Message:   "m",
		ImageData: base64.StdEncoding.EncodeToString(pngBytes),
		ImageType: "image/png",
	})
	req := httptest.NewRequest(http.MethodPost, "/notify", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = localAddr
	if rr := f.do(req); rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(`{"title":`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = localAddr
	if rr := f.do(req); rr.Code != http.StatusBadRequest {
		t.Fatalf("truncated JSON: status = %d", rr.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{MaxBodyBytes: 64})
	rr := f.do(formRequest(localAddr, url.Values{"title": {"t"}, "message": {strings.Repeat("x", 256)}}))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{RateLimit: 0.001, RateBurst: 2})
	codes := make([]int, 3)
	for i := range codes {
		codes[i] = f.do(formRequest(localAddr, url.Values{"title": {"t"}, "message": {"m"}})).Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{})
	f.do(formRequest(localAddr, url.Values{"title": {"t"}, "message": {"m"}}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = localAddr
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ready || resp.Pending != 1 || resp.Status != health.Healthy {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{})
	f.do(formRequest(localAddr, url.Values{"title": {"t"}, "message": {"m"}}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = localAddr
	rr := f.do(req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "toastd_http_requests_total") {
		t.Fatalf("status = %d, metrics missing", rr.Code)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{})
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered after the upgrade completes.
	deadline := time.Now().Add(5 * time.Second)
	for f.srv.svc.Events().Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.PostForm(ts.URL+"/notify", url.Values{"title": {"t"}, "message": {"m"}})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != notify.EventShown || ev.CorrelationID == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestServeWithConnectionLimit(t *testing.T) {
	f := newFixture(t, authgate.Options{}, Options{MaxConnections: 1})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- f.srv.Serve(ln) }()

	c := client.New("http://"+ln.Addr().String(), "", "")
	for i := 0; i < 3; i++ {
		reply, err := c.Health(context.Background())
		if err != nil || reply.Status != http.StatusOK {
			t.Fatalf("health %d: status=%d err=%v", i, reply.Status, err)
		}
	}

	if err := f.srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
