package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/persona"
)

// fakeSession records what the router asked of it.
type fakeSession struct {
	mu       sync.Mutex
	messages []string
	stopped  int
	autoRun  *bool
	persona  string
	sendErr  error
	status   automation.Status
}

func (f *fakeSession) SendUserMessage(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeSession) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeSession) SetAutoRun(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoRun = &on
	return nil
}

func (f *fakeSession) SelectPersona(ctx context.Context, id string) error {
	if _, err := persona.NewSet(persona.Defaults()).Get(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persona = id
	return nil
}

func (f *fakeSession) Status() automation.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSession) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func setupRouter(t *testing.T, sess *fakeSession) (*Router, *MockAdapter) {
	t.Helper()
	adapter := NewMockAdapter()
	adapter.Connect(context.Background())
	router, err := NewRouter(RouterOpts{
		Adapter: adapter,
		Resolve: func(host string) (Session, error) {
			if host != "web01" || sess == nil {
				return nil, automation.ErrUnknownRunner
			}
			return sess, nil
		},
		Personas:  persona.NewSet(persona.Defaults()),
		Channels:  map[string]string{"C1": "web01", "C2": "db01"},
		BotUserID: "BOT",
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router, adapter
}

func inbound(channel, text string) InboundMessage {
	return InboundMessage{Platform: "slack", ChannelID: channel, UserID: "U1", UserName: "alice", Text: text}
}

// --- NewRouter tests ---

func TestNewRouter_Validation(t *testing.T) {
	resolve := func(string) (Session, error) { return nil, nil }
	tests := []struct {
		name string
		opts RouterOpts
		want string
	}{
		{"nil adapter", RouterOpts{Resolve: resolve, Personas: persona.NewSet(nil)}, "adapter is required"},
		{"nil resolver", RouterOpts{Adapter: NewMockAdapter(), Personas: persona.NewSet(nil)}, "resolver is required"},
		{"nil personas", RouterOpts{Adapter: NewMockAdapter(), Resolve: resolve}, "persona catalog is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRouter(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

// --- Routing ---

func TestHandle_TextBecomesUserMessage(t *testing.T) {
	sess := &fakeSession{}
	router, adapter := setupRouter(t, sess)

	router.Handle(context.Background(), inbound("C1", "<@BOT> check disk usage"))

	if got := sess.Messages(); len(got) != 1 || got[0] != "check disk usage" {
		t.Errorf("messages = %v, want [check disk usage]", got)
	}
	if adapter.SentCount() != 0 {
		t.Errorf("SentCount = %d, want 0", adapter.SentCount())
	}
}

func TestHandle_IgnoresSelfAndUnboundChannels(t *testing.T) {
	sess := &fakeSession{}
	router, adapter := setupRouter(t, sess)

	self := inbound("C1", "hello")
	self.UserID = "BOT"
	router.Handle(context.Background(), self)
	router.Handle(context.Background(), inbound("C9", "hello"))
	router.Handle(context.Background(), inbound("C1", "<@BOT>   "))

	if len(sess.Messages()) != 0 || adapter.SentCount() != 0 {
		t.Errorf("messages = %v, sent = %d, want nothing", sess.Messages(), adapter.SentCount())
	}
}

func TestHandle_SelfFilterFromAdapter(t *testing.T) {
	sess := &fakeSession{}
	adapter := NewMockAdapter()
	adapter.Connect(context.Background())
	adapter.SetBotUserID("B42")
	router, _ := NewRouter(RouterOpts{
		Adapter:  adapter,
		Resolve:  func(string) (Session, error) { return sess, nil },
		Personas: persona.NewSet(nil),
		Channels: map[string]string{"C1": "web01"},
	})

	msg := inbound("C1", "hi")
	msg.UserID = "B42"
	router.Handle(context.Background(), msg)
	if len(sess.Messages()) != 0 {
		t.Errorf("self message routed: %v", sess.Messages())
	}
}

func TestHandle_BusySession(t *testing.T) {
	sess := &fakeSession{sendErr: automation.ErrBusy}
	router, adapter := setupRouter(t, sess)

	msg := inbound("C1", "restart nginx")
	msg.ThreadID = "T1"
	router.Handle(context.Background(), msg)

	last, ok := adapter.LastSent()
	if !ok {
		t.Fatal("expected a reply")
	}
	if !strings.Contains(last.Text, "web01 is busy") {
		t.Errorf("reply = %q, want busy notice", last.Text)
	}
	if last.ChannelID != "C1" || last.ThreadID != "T1" {
		t.Errorf("reply sent to %s/%s, want C1/T1", last.ChannelID, last.ThreadID)
	}
}

func TestHandle_NoSession(t *testing.T) {
	router, adapter := setupRouter(t, &fakeSession{})
	router.Handle(context.Background(), inbound("C2", "uptime"))
	last, _ := adapter.LastSent()
	if last.Text != "No session is open on db01." {
		t.Errorf("reply = %q", last.Text)
	}
}

func TestHandle_SendError(t *testing.T) {
	router, adapter := setupRouter(t, &fakeSession{sendErr: errors.New("boom")})
	router.Handle(context.Background(), inbound("C1", "uptime"))
	last, _ := adapter.LastSent()
	if last.Text != "Error: boom" {
		t.Errorf("reply = %q, want Error: boom", last.Text)
	}
}

// --- Commands ---

func TestCommands(t *testing.T) {
	sess := &fakeSession{status: automation.Status{
		Host: "web01", State: automation.StateAwaitingCompletion, AutoRun: true, Persona: "1", Directive: "ls /tmp",
	}}
	router, adapter := setupRouter(t, sess)
	ctx := context.Background()

	tests := []struct {
		text string
		want string
	}{
		{"!sy", "Commands:"},
		{"!sy help", "Commands:"},
		{"!sy status", "web01: awaiting_completion, auto-run on, persona 1\nrunning: ls /tmp"},
		{"!sy stop", "Stopped. Auto-run is off."},
		{"!sy auto off", "Auto-run off."},
		{"!sy auto maybe", "Usage: !sy auto on|off"},
		{"!sy persona", "Usage: !sy persona <id>"},
		{"!sy persona 42", `Unknown persona "42"`},
		{"!sy personas", "1  Linux operations expert\n2  Code explainer\n3  Log analyst"},
		{"!sy frobnicate", `Unknown command "frobnicate"`},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			router.Handle(ctx, inbound("C1", tt.text))
			last, ok := adapter.LastSent()
			if !ok {
				t.Fatal("no reply")
			}
			if !strings.Contains(last.Text, tt.want) {
				t.Errorf("reply = %q, want to contain %q", last.Text, tt.want)
			}
		})
	}

	if sess.stopped != 1 {
		t.Errorf("stopped = %d, want 1", sess.stopped)
	}
	if sess.autoRun == nil || *sess.autoRun {
		t.Errorf("autoRun = %v, want false", sess.autoRun)
	}
	if len(sess.Messages()) != 0 {
		t.Errorf("commands leaked into messages: %v", sess.Messages())
	}
}

func TestCommand_PersonaSwitchIsSilent(t *testing.T) {
	sess := &fakeSession{}
	router, adapter := setupRouter(t, sess)
	router.Handle(context.Background(), inbound("C1", "!sy persona 3"))
	if sess.persona != "3" {
		t.Errorf("persona = %q, want 3", sess.persona)
	}
	if adapter.SentCount() != 0 {
		t.Errorf("SentCount = %d, want 0", adapter.SentCount())
	}
}

func TestCommand_NoSession(t *testing.T) {
	router, adapter := setupRouter(t, nil)
	router.Handle(context.Background(), inbound("C1", "!sy status"))
	last, _ := adapter.LastSent()
	if last.Text != "No session is open on web01." {
		t.Errorf("reply = %q", last.Text)
	}
}

// --- Helpers ---

func TestStripMentions(t *testing.T) {
	tests := map[string]string{
		"<@U123ABC> hi":        "hi",
		"<@!998877> run df":    "run df",
		"no mention":           "no mention",
		"  <@1> <@2>  ":        "",
		"email a@b.com please": "email a@b.com please",
	}
	for in, want := range tests {
		if got := stripMentions(in); got != want {
			t.Errorf("stripMentions(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsCommand(t *testing.T) {
	for text, want := range map[string]bool{
		"!sy":        true,
		"!sy status": true,
		"!systemctl": false,
		"sy status":  false,
	} {
		if got := isCommand(text); got != want {
			t.Errorf("isCommand(%q) = %v, want %v", text, got, want)
		}
	}
}
