package bridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/persona"
	"go.uber.org/zap"
)

// commandPrefix is the prefix that marks a chat message as a bridge command
// rather than operator input for the session.
const commandPrefix = "!sy"

// Session is the part of an automation runner the bridge drives.
type Session interface {
	SendUserMessage(ctx context.Context, text string) error
	Stop(ctx context.Context) error
	SetAutoRun(ctx context.Context, on bool) error
	SelectPersona(ctx context.Context, id string) error
	Status() automation.Status
}

// Resolver finds the session that serves a host.
type Resolver func(host string) (Session, error)

// ManagerResolver resolves hosts through the runners of m.
func ManagerResolver(m *automation.Manager) Resolver {
	return func(host string) (Session, error) {
		r, err := m.ByHost(host)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Router classifies inbound chat messages: commands are executed, other text
// from a bound channel becomes a user message for that channel's host.
type Router struct {
	adapter   Adapter
	resolve   Resolver
	personas  persona.Catalog
	channels  map[string]string // channel id -> host name
	botUserID string
	log       *zap.Logger
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Adapter   Adapter
	Resolve   Resolver
	Personas  persona.Catalog
	Channels  map[string]string
	BotUserID string // filters self-messages; queried from the adapter if empty
	Logger    *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: router: adapter is required")
	}
	if opts.Resolve == nil {
		return nil, fmt.Errorf("bridge: router: resolver is required")
	}
	if opts.Personas == nil {
		return nil, fmt.Errorf("bridge: router: persona catalog is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Router{
		adapter:   opts.Adapter,
		resolve:   opts.Resolve,
		personas:  opts.Personas,
		channels:  opts.Channels,
		botUserID: opts.BotUserID,
		log:       opts.Logger.Named("bridge"),
	}, nil
}

// Handle classifies and routes a single inbound message:
//  1. Bot self-message or unbound channel -> ignore
//  2. "!sy ..." -> command, answered in the same thread
//  3. Anything else -> user message for the channel's host session
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.isSelfMessage(msg) {
		return
	}
	host, ok := r.channels[msg.ChannelID]
	if !ok {
		r.log.Debug("bridge: router: ignore unbound channel", zap.String("channel", msg.ChannelID))
		return
	}

	text := stripMentions(msg.Text)
	if text == "" {
		return
	}
	r.log.Info("bridge: router: recv",
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
		zap.String("host", host),
		zap.String("text", truncate(text, 80)),
	)

	if isCommand(text) {
		r.reply(ctx, msg, r.execute(ctx, host, strings.Fields(text)[1:]))
		return
	}

	sess, err := r.resolve(host)
	if err != nil {
		r.reply(ctx, msg, fmt.Sprintf("No session is open on %s.", host))
		return
	}
	if err := sess.SendUserMessage(ctx, text); err != nil {
		if errors.Is(err, automation.ErrBusy) {
			r.reply(ctx, msg, fmt.Sprintf("%s is busy with the current task. Send `%s stop` to abandon it.", host, commandPrefix))
			return
		}
		r.reply(ctx, msg, "Error: "+err.Error())
	}
}

// execute runs a bridge command and returns the response text.
func (r *Router) execute(ctx context.Context, host string, args []string) string {
	if len(args) == 0 || args[0] == "help" {
		return helpText
	}

	if args[0] == "personas" {
		list, err := r.personas.List(ctx)
		if err != nil {
			return "Error: " + err.Error()
		}
		var sb strings.Builder
		for _, p := range list {
			fmt.Fprintf(&sb, "%s  %s\n", p.ID, p.Title)
		}
		return strings.TrimRight(sb.String(), "\n")
	}

	sess, err := r.resolve(host)
	if err != nil {
		return fmt.Sprintf("No session is open on %s.", host)
	}

	switch args[0] {
	case "status":
		return formatStatus(sess.Status())
	case "stop":
		if err := sess.Stop(ctx); err != nil {
			return "Error: " + err.Error()
		}
		return "Stopped. Auto-run is off."
	case "auto":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return fmt.Sprintf("Usage: %s auto on|off", commandPrefix)
		}
		on := args[1] == "on"
		if err := sess.SetAutoRun(ctx, on); err != nil {
			return "Error: " + err.Error()
		}
		return "Auto-run " + args[1] + "."
	case "persona":
		if len(args) != 2 {
			return fmt.Sprintf("Usage: %s persona <id>", commandPrefix)
		}
		if err := sess.SelectPersona(ctx, args[1]); err != nil {
			if errors.Is(err, persona.ErrUnknownPersona) {
				return fmt.Sprintf("Unknown persona %q. Send `%s personas` for the list.", args[1], commandPrefix)
			}
			return "Error: " + err.Error()
		}
		return ""
	}
	return fmt.Sprintf("Unknown command %q.\n%s", args[0], helpText)
}

var helpText = strings.Join([]string{
	"Commands:",
	commandPrefix + " status          show the session state",
	commandPrefix + " stop            abandon the current task",
	commandPrefix + " auto on|off     toggle feeding command output back to the model",
	commandPrefix + " persona <id>    switch persona",
	commandPrefix + " personas        list personas",
	"Anything else is sent to the session as a task.",
}, "\n")

func formatStatus(st automation.Status) string {
	auto := "off"
	if st.AutoRun {
		auto = "on"
	}
	s := fmt.Sprintf("%s: %s, auto-run %s, persona %s", st.Host, st.State, auto, st.Persona)
	if st.Directive != "" {
		s += "\nrunning: " + st.Directive
	}
	return s
}

// reply answers in the thread the message came from. Empty text is dropped;
// persona switches already announce themselves through the transcript.
func (r *Router) reply(ctx context.Context, msg InboundMessage, text string) {
	if text == "" {
		return
	}
	if err := r.adapter.Send(ctx, OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		Text:      text,
	}); err != nil {
		r.log.Error("bridge: router: send reply", zap.Error(err))
	}
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	id := r.botUserID
	if id == "" {
		if b, ok := r.adapter.(BotUserIDer); ok {
			id = b.BotUserID()
		}
	}
	return id != "" && msg.UserID == id
}

// isCommand returns true if the text starts with the command prefix.
func isCommand(text string) bool {
	return strings.HasPrefix(text, commandPrefix+" ") || text == commandPrefix
}

// mentionRe matches Discord (<@ID>, <@!ID>) and Slack (<@U123>) mentions.
var mentionRe = regexp.MustCompile(`<@!?[A-Za-z0-9]+>`)

func stripMentions(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
