package dashboard

import (
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

	"github.com/gin-gonic/gin"
	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/gateway"
	"github.com/zulandar/shellyard/internal/persona"
	"github.com/zulandar/shellyard/internal/transport"
)

// --- Fakes ---

// blockingGateway never answers Chat until the context ends.
type blockingGateway struct {
	models []string
	err    error
}

func (g blockingGateway) Chat(ctx context.Context, _ []gateway.Message, _ gateway.Params) (gateway.Message, error) {
	<-ctx.Done()
	return gateway.Message{}, ctx.Err()
}

func (g blockingGateway) ListModels(context.Context, gateway.Params) ([]string, error) {
	return g.models, g.err
}

type fakeShell struct {
	out    *io.PipeReader
	remote *io.PipeWriter
	once   sync.Once
}

func newFakeShell() *fakeShell {
	pr, pw := io.Pipe()
	return &fakeShell{out: pr, remote: pw}
}

func (f *fakeShell) Read(p []byte) (int, error)  { return f.out.Read(p) }
func (f *fakeShell) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeShell) Resize(int, int) error       { return nil }
func (f *fakeShell) Close() error {
	f.once.Do(func() { f.remote.Close() })
	return nil
}

type harness struct {
	router *gin.Engine
	runner *automation.Runner
	shell  *fakeShell
}

func newHarness(t *testing.T, gw gateway.Gateway) *harness {
	t.Helper()
	hub := transport.NewHub(transport.HubOpts{})
	shell := newFakeShell()
	if _, err := hub.Attach(transport.Info{ID: "s1", HostName: "web01"}, shell); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	personas := persona.NewSet(persona.Defaults())
	r, err := automation.NewRunner(automation.Config{
		SessionID: "s1",
		Gateway:   gw,
		Transport: hub,
		Personas:  personas,
		Persona:   persona.Defaults()[0],
		AutoRun:   true,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	m := automation.NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx, r); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		m.Wait()
		hub.Shutdown()
	})

	router, err := NewRouter(StartOpts{
		Manager:      m,
		Personas:     personas,
		Gateway:      gw,
		Params:       gateway.Params{Provider: gateway.ProviderOllama},
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &harness{router: router, runner: r, shell: shell}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var st map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return st
}

// --- Construction ---

func TestNewRouter_RequiresManager(t *testing.T) {
	_, err := NewRouter(StartOpts{Personas: persona.NewSet(nil)})
	if err == nil || !strings.Contains(err.Error(), "manager is required") {
		t.Errorf("err = %v, want manager is required", err)
	}
}

func TestNewRouter_RequiresPersonas(t *testing.T) {
	_, err := NewRouter(StartOpts{Manager: automation.NewManager(nil)})
	if err == nil || !strings.Contains(err.Error(), "persona catalog is required") {
		t.Errorf("err = %v, want persona catalog is required", err)
	}
}

func TestStart_InvalidOpts(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Fatal("expected error for empty opts")
	}
}

func TestStartOpts_Defaults(t *testing.T) {
	opts := StartOpts{}
	opts.applyDefaults()
	if opts.Port != 8080 {
		t.Errorf("Port = %d, want 8080", opts.Port)
	}
	if opts.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", opts.PollInterval)
	}
	if opts.Heartbeat != 15*time.Second {
		t.Errorf("Heartbeat = %v, want 15s", opts.Heartbeat)
	}
}

// --- Sessions ---

func TestSessionList(t *testing.T) {
	h := newHarness(t, blockingGateway{})
	w := h.do(t, http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Sessions []map[string]any `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0]["session_id"] != "s1" {
		t.Fatalf("sessions = %+v", body.Sessions)
	}
	if body.Sessions[0]["state"] != "idle" {
		t.Errorf("state = %v, want idle", body.Sessions[0]["state"])
	}
}

func TestSessionStatus_Unknown(t *testing.T) {
	h := newHarness(t, blockingGateway{})
	w := h.do(t, http.MethodGet, "/api/sessions/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSendMessage_ThenBusy(t *testing.T) {
	h := newHarness(t, blockingGateway{})

	w := h.do(t, http.MethodPost, "/api/sessions/s1/messages", `{"text":"list /tmp"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", w.Code, w.Body.String())
	}
	if st := decodeStatus(t, w); st["state"] != "awaiting_model" {
		t.Errorf("state = %v, want awaiting_model", st["state"])
	}

	w = h.do(t, http.MethodPost, "/api/sessions/s1/messages", `{"text":"again"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}

	w = h.do(t, http.MethodGet, "/api/sessions/s1/transcript", "")
	var body struct {
		Messages []map[string]any `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Messages) != 1 || body.Messages[0]["content"] != "list /tmp" {
		t.Errorf("transcript = %+v", body.Messages)
	}
}

func TestSendMessage_BadRequest(t *testing.T) {
	h := newHarness(t, blockingGateway{})
	for _, body := range []string{`{}`, `{"text":"   "}`, `not json`} {
		w := h.do(t, http.MethodPost, "/api/sessions/s1/messages", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestStop(t *testing.T) {
	h := newHarness(t, blockingGateway{})
	h.do(t, http.MethodPost, "/api/sessions/s1/messages", `{"text":"uptime"}`)

	w := h.do(t, http.MethodPost, "/api/sessions/s1/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	st := decodeStatus(t, w)
	if st["state"] != "stopped" {
		t.Errorf("state = %v, want stopped", st["state"])
	}
	if st["auto_run"] != false {
		t.Errorf("auto_run = %v, want false", st["auto_run"])
	}

	// A new task is accepted after stopping.
	w = h.do(t, http.MethodPost, "/api/sessions/s1/messages", `{"text":"df -h"}`)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
}

func TestAutoRun(t *testing.T) {
	h := newHarness(t, blockingGateway{})
	w := h.do(t, http.MethodPut, "/api/sessions/s1/autorun", `{"enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if st := decodeStatus(t, w); st["auto_run"] != false {
		t.Errorf("auto_run = %v, want false", st["auto_run"])
	}

	w = h.do(t, http.MethodPut, "/api/sessions/s1/autorun", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSelectPersona(t *testing.T) {
	h := newHarness(t, blockingGateway{})
	w := h.do(t, http.MethodPut, "/api/sessions/s1/persona", `{"id":"3"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if st := decodeStatus(t, w); st["persona"] != "3" {
		t.Errorf("persona = %v, want 3", st["persona"])
	}
	msgs := h.runner.Transcript(false)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "Log analyst") {
		t.Errorf("transcript = %+v", msgs)
	}

	w = h.do(t, http.MethodPut, "/api/sessions/s1/persona", `{"id":"99"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// --- Personas and models ---

func TestPersonaList(t *testing.T) {
	h := newHarness(t, blockingGateway{})
	w := h.do(t, http.MethodGet, "/api/personas", "")
	var body struct {
		Personas []persona.Persona `json:"personas"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Personas) != 3 || body.Personas[0].ID != "1" {
		t.Errorf("personas = %+v", body.Personas)
	}
}

func TestModels(t *testing.T) {
	h := newHarness(t, blockingGateway{models: []string{"llama3", "qwen2"}})
	w := h.do(t, http.MethodGet, "/api/models", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"models":["llama3","qwen2"]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestModels_GatewayError(t *testing.T) {
	h := newHarness(t, blockingGateway{err: errors.New("connection refused")})
	w := h.do(t, http.MethodGet, "/api/models", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, blockingGateway{})
	w := h.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("healthz = %d %s", w.Code, w.Body.String())
	}
}

// --- SSE ---

func TestSSE_StreamsUntilSessionEnds(t *testing.T) {
	h := newHarness(t, blockingGateway{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1/events", nil)
	done := make(chan struct{})
	go func() {
		h.router.ServeHTTP(w, req)
		close(done)
	}()

	// Let the stream start before changing state.
	time.Sleep(30 * time.Millisecond)
	if err := h.runner.SetAutoRun(context.Background(), false); err != nil {
		t.Fatalf("SetAutoRun: %v", err)
	}
	if err := h.runner.SelectPersona(context.Background(), "2"); err != nil {
		t.Fatalf("SelectPersona: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	h.shell.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end with the session")
	}

	body := w.Body.String()
	for _, want := range []string{
		"event: connected\n",
		"event: status\n",
		"event: message\n",
		"Persona switched to: Code explainer",
		"event: closed\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestSSE_UnknownSession(t *testing.T) {
	h := newHarness(t, blockingGateway{})
	w := h.do(t, http.MethodGet, "/api/sessions/nope/events", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestWriteSSE(t *testing.T) {
	var sb strings.Builder
	writeSSE(&sb, "status", map[string]int{"n": 1})
	if got, want := sb.String(), "event: status\ndata: {\"n\":1}\n\n"; got != want {
		t.Errorf("writeSSE = %q, want %q", got, want)
	}
}
