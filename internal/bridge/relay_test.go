package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/transcript"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRelay(t *testing.T, opts RelayOpts) (*Relay, *MockAdapter) {
	t.Helper()
	adapter := NewMockAdapter()
	adapter.Connect(context.Background())
	opts.Adapter = adapter
	if opts.Channels == nil {
		opts.Channels = map[string]string{"C1": "web01", "C2": "web01", "C3": "db01"}
	}
	r, err := NewRelay(opts)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	return r, adapter
}

func msgEvent(host string, m transcript.Message) automation.Event {
	return automation.Event{
		SessionID: "s-" + host,
		Kind:      automation.EventMessage,
		Message:   m,
		Status:    automation.Status{SessionID: "s-" + host, Host: host},
	}
}

func statusEvent(host string, st automation.State, directive string) automation.Event {
	return automation.Event{
		SessionID: "s-" + host,
		Kind:      automation.EventStatus,
		Status: automation.Status{
			SessionID: "s-" + host, Host: host, State: st, Directive: directive, AutoRun: true, Persona: "1",
		},
	}
}

func TestNewRelay_RequiresAdapter(t *testing.T) {
	if _, err := NewRelay(RelayOpts{}); err == nil {
		t.Fatal("expected error for nil adapter")
	}
}

func TestRelay_MessagesToBoundChannels(t *testing.T) {
	r, adapter := newTestRelay(t, RelayOpts{})
	ctx := context.Background()

	r.deliver(ctx, msgEvent("web01", transcript.Message{Role: transcript.RoleAssistant, Content: "Disk is fine."}))
	r.deliver(ctx, msgEvent("web01", transcript.Message{Role: transcript.RoleUser, Content: "check disk"}))
	r.deliver(ctx, msgEvent("web01", transcript.Message{Role: transcript.RoleUser, Content: "output", Hidden: true}))
	r.deliver(ctx, msgEvent("mail01", transcript.Message{Role: transcript.RoleAssistant, Content: "unbound"}))

	sent := adapter.AllSent()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v, want 2 messages", sent)
	}
	if sent[0].ChannelID != "C1" || sent[1].ChannelID != "C2" {
		t.Errorf("channels = %s, %s, want C1, C2", sent[0].ChannelID, sent[1].ChannelID)
	}
	if sent[0].Text != "Disk is fine." {
		t.Errorf("text = %q", sent[0].Text)
	}
}

func TestRelay_RendersDirectivesAsCode(t *testing.T) {
	r, adapter := newTestRelay(t, RelayOpts{Channels: map[string]string{"C1": "web01"}})
	r.deliver(context.Background(), msgEvent("web01", transcript.Message{
		Role:    transcript.RoleAssistant,
		Content: "Listing files.\n<run>ls /tmp</run>",
	}))
	last, _ := adapter.LastSent()
	if last.Text != "Listing files.\n\n```\nls /tmp\n```" {
		t.Errorf("text = %q", last.Text)
	}
}

func TestRelay_CommandEventOncePerExecution(t *testing.T) {
	r, adapter := newTestRelay(t, RelayOpts{Channels: map[string]string{"C1": "web01"}})
	ctx := context.Background()

	r.deliver(ctx, statusEvent("web01", automation.StateAwaitingModel, ""))
	r.deliver(ctx, statusEvent("web01", automation.StateAwaitingCompletion, "ls /tmp"))
	r.deliver(ctx, statusEvent("web01", automation.StateAwaitingCompletion, "ls /tmp"))
	r.deliver(ctx, statusEvent("web01", automation.StateIdle, ""))

	sent := adapter.AllSent()
	if len(sent) != 1 {
		t.Fatalf("sent = %+v, want 1 event", sent)
	}
	if len(sent[0].Events) != 1 {
		t.Fatalf("events = %+v", sent[0].Events)
	}
	ev := sent[0].Events[0]
	if ev.Title != "Running on web01" || !strings.Contains(ev.Body, "ls /tmp") {
		t.Errorf("event = %+v", ev)
	}
	if ev.Color != ColorInfo {
		t.Errorf("Color = %q, want %q", ev.Color, ColorInfo)
	}
}

func TestRelay_ChunksLongMessages(t *testing.T) {
	r, adapter := newTestRelay(t, RelayOpts{Channels: map[string]string{"C1": "web01"}, MaxMessageLen: 10})
	r.deliver(context.Background(), msgEvent("web01", transcript.Message{
		Role:    transcript.RoleSystem,
		Content: "0123456789abcdefghij",
	}))
	if adapter.SentCount() != 2 {
		t.Errorf("SentCount = %d, want 2", adapter.SentCount())
	}
}

func TestRelay_ObserveDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r, _ := newTestRelay(t, RelayOpts{Buffer: 1, Logger: zap.New(core)})
	r.Observe(statusEvent("web01", automation.StateIdle, ""))
	r.Observe(statusEvent("web01", automation.StateIdle, ""))
	if logs.FilterMessage("bridge: relay: queue full, event dropped").Len() != 1 {
		t.Error("expected one drop warning")
	}
}

func TestRelay_Run(t *testing.T) {
	r, adapter := newTestRelay(t, RelayOpts{Channels: map[string]string{"C1": "web01"}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Observe(msgEvent("web01", transcript.Message{Role: transcript.RoleSystem, Content: "Stopped by user."}))

	deadline := time.Now().Add(2 * time.Second)
	for adapter.SentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
	if last, _ := adapter.LastSent(); last.Text != "Stopped by user." {
		t.Errorf("text = %q", last.Text)
	}
}

// --- chunkMessage ---

func TestChunkMessage(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"hard split", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline break", "aaaa\nbbbbbbbb", 6, []string{"aaaa", "bbbbbb", "bb"}},
		{"default limit", "x", 0, []string{"x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkMessage(tt.text, tt.maxLen)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("chunkMessage = %q, want %q", got, tt.want)
			}
		})
	}
}
