package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/progress"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/runner"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

type fakeRunner struct {
	mu       sync.Mutex
	startErr error
	total    int
	texts    []string
	stops    int
	snap     verify.Snapshot
}

func (f *fakeRunner) Start(_ context.Context, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.startErr != nil {
		return 0, f.startErr
	}
	return f.total, nil
}

func (f *fakeRunner) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeRunner) Snapshot() verify.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func newTestServer(r *fakeRunner, cfg Config) (*Server, *progress.Broadcaster) {
	b := progress.NewBroadcaster()
	return NewServer(r, b, cfg, zap.NewNop()), b
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Start(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		startErr   error
		notReady   bool
		running    bool
		wantStatus int
		wantError  string
		wantCalls  int
	}{
		{name: "accepted", body: `{"numbersText":"11999990000"}`, wantStatus: http.StatusOK, wantCalls: 1},
		{name: "session not ready", body: `{"numbersText":"11999990000"}`, startErr: runner.ErrSessionNotReady,
			wantStatus: http.StatusConflict, wantError: "session is not ready; scan the QR code", wantCalls: 1},
		{name: "already running", body: `{"numbersText":"11999990000"}`, startErr: runner.ErrAlreadyRunning,
			wantStatus: http.StatusConflict, wantError: "a verification run is already in progress", wantCalls: 1},
		{name: "no valid numbers", body: `{"numbersText":"123\nabc"}`, startErr: runner.ErrNoValidNumbers,
			wantStatus: http.StatusBadRequest, wantError: "no valid numbers found", wantCalls: 1},
		{name: "missing text", body: `{}`, wantStatus: http.StatusBadRequest, wantError: "no valid numbers found"},
		{name: "missing text while not ready", body: `{}`, notReady: true,
			wantStatus: http.StatusConflict, wantError: "session is not ready; scan the QR code"},
		{name: "missing text while running", body: `{"numbersText":""}`, running: true,
			wantStatus: http.StatusConflict, wantError: "a verification run is already in progress"},
		{name: "malformed JSON", body: `{"numbersText":`, wantStatus: http.StatusBadRequest, wantError: "invalid JSON"},
		{name: "unexpected failure", body: `{"numbersText":"1"}`, startErr: errors.New("boom"),
			wantStatus: http.StatusInternalServerError, wantError: "failed to start run", wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap := verify.Snapshot{SessionReady: !tt.notReady, Running: tt.running}
			r := &fakeRunner{startErr: tt.startErr, total: 3, snap: snap}
			s, _ := newTestServer(r, Config{})

			rec := do(t, s, http.MethodPost, "/start", tt.body)

			require.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			} else {
				assert.Equal(t, true, body["ok"])
				assert.EqualValues(t, 3, body["total"])
			}
			assert.Len(t, r.texts, tt.wantCalls)
		})
	}
}

func TestServer_StartRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{total: 1}
	s, _ := newTestServer(r, Config{MaxBodyBytes: 64})
	body := `{"numbersText":"` + strings.Repeat("1", 128) + `"}`

	rec := do(t, s, http.MethodPost, "/start", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "payload too large", decodeBody(t, rec)["error"])
	assert.Empty(t, r.texts)
}

func TestServer_StopAlwaysSucceeds(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	s, _ := newTestServer(r, Config{})

	for range 2 {
		rec := do(t, s, http.MethodPost, "/stop", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["ok"])
	}
	assert.Equal(t, 2, r.stops)
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	current := "5511999990000"
	r := &fakeRunner{snap: verify.Snapshot{
		SessionReady: true, Running: true, Total: 4, Processed: 1,
		Current: &current, HasMatchCount: 1, ProgressPct: 25,
	}}
	s, _ := newTestServer(r, Config{})

	rec := do(t, s, http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, current, body["current"])
	assert.EqualValues(t, 25, body["progressPct"])
	assert.Nil(t, body["lastQrDataUrl"])
}

func TestServer_HealthEndpoints(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	s, _ := newTestServer(r, Config{})

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ok": true, "sessionReady": false}, decodeBody(t, rec))

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/readyz", "").Code)

	r.mu.Lock()
	r.snap.SessionReady = true
	r.mu.Unlock()
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, true, decodeBody(t, do(t, s, http.MethodGet, "/health", ""))["sessionReady"])
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	s, _ := newTestServer(r, Config{APIKey: "secret"})

	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/status", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/status?api_key=secret", "").Code)

	req := httptest.NewRequest(http.MethodPost, "/stop", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes and the UI shell stay open.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/", "").Code)
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(&fakeRunner{}, Config{})

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "bad id\ninjected")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.NotEqual(t, "bad id\ninjected", rec.Header().Get("X-Request-ID"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestLoggingMiddlewareLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	handler := loggingMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))

	for _, path := range []string{"/healthz", "/stop", "/status"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "/status", entries[2].ContextMap()["path"])
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(&fakeRunner{}, Config{})
	req := httptest.NewRequest(http.MethodOptions, "/start", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_StaticUI(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(&fakeRunner{}, Config{})

	rec := do(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "WhatsApp number validator")

	rec = do(t, s, http.MethodGet, "/app.js", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "EventSource")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(&fakeRunner{}, Config{})
	do(t, s, http.MethodGet, "/healthz", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, sc *bufio.Scanner) sseEvent {
	t.Helper()
	var evt sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if evt.name != "" {
				return evt
			}
		case strings.HasPrefix(line, "event: "):
			evt.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			evt.data = strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return evt
}

func TestServer_EventsStream(t *testing.T) {
	t.Parallel()

	qr := "data:image/png;base64,AAAA"
	r := &fakeRunner{snap: verify.Snapshot{Total: 2, LastQRDataURL: &qr}}
	s, b := newTestServer(r, Config{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	sc := bufio.NewScanner(resp.Body)

	first := readEvent(t, sc)
	assert.Equal(t, "qr", first.name)
	assert.JSONEq(t, `{"dataUrl":"data:image/png;base64,AAAA"}`, first.data)

	second := readEvent(t, sc)
	assert.Equal(t, "status", second.name)
	assert.Contains(t, second.data, `"total":2`)

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	now := time.Now().UTC()
	require.NoError(t, b.Consume(context.Background(), []progress.Event{
		progress.ProgressEvent(now, progress.Item{
			Result: progress.ItemMatch, Identifier: "5511999990000", Via: verify.TierSession,
		}),
		{Kind: progress.KindDone, TS: now, ReportID: "run_1.json"},
	}))

	third := readEvent(t, sc)
	assert.Equal(t, "progress", third.name)
	assert.JSONEq(t, `{"type":"ok","digits":"5511999990000","via":"wweb"}`, third.data)

	fourth := readEvent(t, sc)
	assert.Equal(t, "done", fourth.name)
	assert.JSONEq(t, `{"reportFile":"run_1.json"}`, fourth.data)

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_EventsSkipsQRWhenReady(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{snap: verify.Snapshot{SessionReady: true}}
	s, b := newTestServer(r, Config{Heartbeat: 20 * time.Millisecond})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	assert.Equal(t, "status", readEvent(t, sc).name)

	// Heartbeats keep the connection alive without producing events.
	var sawPing bool
	for sc.Scan() {
		if sc.Text() == ": ping" {
			sawPing = true
			break
		}
	}
	assert.True(t, sawPing)

	// Closing the feed ends the stream from the server side.
	require.NoError(t, b.Close(context.Background()))
	_, err = io.Copy(io.Discard, resp.Body)
	require.NoError(t, err)
}

func TestWriteEvent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeEvent(&buf, progress.Event{Kind: progress.KindUnready, TS: time.Now(), Reason: "logged out"}))
	assert.Equal(t, "event: unready\ndata: {\"reason\":\"logged out\"}\n\n", buf.String())
}
