package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/directive"
	"github.com/zulandar/shellyard/internal/transcript"
	"go.uber.org/zap"
)

const (
	defaultRelayBuffer   = 256
	defaultMaxMessageLen = 2000 // Discord's limit; Slack allows more
)

// RelayOpts configures a Relay.
type RelayOpts struct {
	Adapter       Adapter
	Channels      map[string]string // channel id -> host name
	Buffer        int
	MaxMessageLen int
	Logger        *zap.Logger
}

// Relay forwards runner events to the chat channels bound to the runner's
// host. Observe is called from runner loops and never blocks; Run does the
// sending.
type Relay struct {
	adapter Adapter
	byHost  map[string][]string
	events  chan automation.Event
	maxLen  int
	log     *zap.Logger

	lastState map[string]automation.State // owned by Run
}

// NewRelay creates a Relay.
func NewRelay(opts RelayOpts) (*Relay, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: relay: adapter is required")
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultRelayBuffer
	}
	if opts.MaxMessageLen <= 0 {
		opts.MaxMessageLen = defaultMaxMessageLen
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	byHost := make(map[string][]string)
	for ch, host := range opts.Channels {
		byHost[host] = append(byHost[host], ch)
	}
	for _, chs := range byHost {
		sort.Strings(chs)
	}

	return &Relay{
		adapter:   opts.Adapter,
		byHost:    byHost,
		events:    make(chan automation.Event, opts.Buffer),
		maxLen:    opts.MaxMessageLen,
		log:       opts.Logger.Named("bridge"),
		lastState: make(map[string]automation.State),
	}, nil
}

// Observe queues ev for delivery. It is an automation.Observer.
func (r *Relay) Observe(ev automation.Event) {
	select {
	case r.events <- ev:
	default:
		r.log.Warn("bridge: relay: queue full, event dropped", zap.String("session", ev.SessionID))
	}
}

// Run delivers queued events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.events:
			r.deliver(ctx, ev)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, ev automation.Event) {
	channels := r.byHost[ev.Status.Host]
	if len(channels) == 0 {
		return
	}

	var out OutboundMessage
	switch ev.Kind {
	case automation.EventMessage:
		if ev.Message.Hidden || ev.Message.Role == transcript.RoleUser {
			return
		}
		text := renderMessage(ev.Message)
		for _, ch := range channels {
			for _, chunk := range chunkMessage(text, r.maxLen) {
				r.send(ctx, OutboundMessage{ChannelID: ch, Text: chunk})
			}
		}
		return

	case automation.EventStatus:
		prev, seen := r.lastState[ev.SessionID]
		r.lastState[ev.SessionID] = ev.Status.State
		if ev.Status.State != automation.StateAwaitingCompletion || (seen && prev == automation.StateAwaitingCompletion) {
			return
		}
		out.Events = []FormattedEvent{commandEvent(ev.Status)}
		out.Text = "Running on " + ev.Status.Host
	default:
		return
	}

	for _, ch := range channels {
		out.ChannelID = ch
		r.send(ctx, out)
	}
}

func (r *Relay) send(ctx context.Context, msg OutboundMessage) {
	if err := r.adapter.Send(ctx, msg); err != nil {
		r.log.Error("bridge: relay: send", zap.String("channel", msg.ChannelID), zap.Error(err))
	}
}

// commandEvent describes a directive that was just sent to the shell.
func commandEvent(st automation.Status) FormattedEvent {
	auto := "off"
	if st.AutoRun {
		auto = "on"
	}
	return FormattedEvent{
		Title:    "Running on " + st.Host,
		Body:     "```\n" + st.Directive + "\n```",
		Severity: "info",
		Color:    severityColor("info"),
		Fields: []Field{
			{Name: "Persona", Value: st.Persona, Short: true},
			{Name: "Auto-run", Value: auto, Short: true},
		},
	}
}

// renderMessage formats a transcript entry for chat. Assistant replies have
// their commands and files set as code blocks.
func renderMessage(m transcript.Message) string {
	if m.Role != transcript.RoleAssistant {
		return m.Content
	}
	var sb strings.Builder
	for _, seg := range directive.Split(m.Content) {
		switch seg.Type {
		case directive.SegmentCommand:
			sb.WriteString("\n```\n" + seg.Content + "\n```\n")
		case directive.SegmentFile:
			sb.WriteString("\n`" + seg.Path + "`\n```\n" + seg.Content + "\n```\n")
		default:
			sb.WriteString(seg.Content)
		}
	}
	return strings.TrimSpace(sb.String())
}

// chunkMessage splits text into chunks of at most maxLen bytes, preferring
// to break at a newline in the second half of each chunk.
func chunkMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = defaultMaxMessageLen
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		chunk := text[:maxLen]
		breakAt := strings.LastIndexByte(chunk[maxLen/2:], '\n')
		if breakAt >= 0 {
			breakAt += maxLen / 2
			chunks = append(chunks, text[:breakAt])
			text = text[breakAt+1:]
		} else {
			chunks = append(chunks, chunk)
			text = text[maxLen:]
		}
	}
	return chunks
}
