// Package slack implements the bridge Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/shellyard/internal/bridge"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements bridge.Adapter for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	log          *zap.Logger
	botUserID    string
	appToken     string
	botToken     string
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan bridge.InboundMessage
	cancelFunc   context.CancelFunc
	pumpDone     chan struct{}
	users        map[string]string // user id -> display name
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	Logger   *zap.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		log:          opts.Logger.Named("slack"),
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		inbound:      make(chan bridge.InboundMessage, 100),
		users:        make(map[string]string),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect verifies the bot token and records the bot's user id.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.connected = true
	return nil
}

// Listen starts Socket Mode and returns the inbound message channel.
func (a *Adapter) Listen(ctx context.Context) (<-chan bridge.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}
	if a.cancelFunc != nil {
		return a.inbound, nil
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel
	a.pumpDone = make(chan struct{})

	go a.runWithReconnect(listenCtx)
	go func() {
		defer close(a.pumpDone)
		a.pumpEvents(listenCtx)
	}()

	return a.inbound, nil
}

// Send posts a message, replying in a thread when ThreadID is set.
func (a *Adapter) Send(ctx context.Context, msg bridge.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	if msg.ChannelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	options := buildMessageOptions(msg)
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessage(msg.ChannelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close stops Socket Mode and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	cancel, pumpDone := a.cancelFunc, a.pumpDone
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-pumpDone
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when it returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn("slack: socket mode disconnected, reconnecting",
			zap.Int("attempt", attempt+1), zap.Int("max", a.maxReconnect),
			zap.Duration("wait", wait), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.log.Error("slack: socket mode exhausted reconnection attempts", zap.Int("max", a.maxReconnect))
}

// pumpEvents reads Socket Mode events and converts them to InboundMessages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if msg, ok := a.handleSocketEvent(evt); ok {
				select {
				case a.inbound <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// handleSocketEvent processes a single Socket Mode event and returns the
// chat message it carries, if any.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) (bridge.InboundMessage, bool) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return bridge.InboundMessage{}, false
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		return a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeConnecting:
		a.log.Info("slack: connecting to Socket Mode")
	case socketmode.EventTypeConnected:
		a.log.Info("slack: connected to Socket Mode")
	case socketmode.EventTypeConnectionError:
		a.log.Warn("slack: connection error", zap.Any("data", evt.Data))
	case socketmode.EventTypeDisconnect:
		a.log.Info("slack: server requested disconnect, will reconnect")
	}
	return bridge.InboundMessage{}, false
}

// handleEventsAPI converts message and app_mention callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) (bridge.InboundMessage, bool) {
	if event.Type != slackevents.CallbackEvent {
		return bridge.InboundMessage{}, false
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Skip bots, edits, deletes and other subtypes.
		if ev.User == a.BotUserID() || ev.BotID != "" || ev.SubType != "" {
			return bridge.InboundMessage{}, false
		}
		return a.inboundMessage(ev.Channel, ev.ThreadTimeStamp, ev.User, ev.Text, ev.TimeStamp), true
	case *slackevents.AppMentionEvent:
		if ev.User == a.BotUserID() {
			return bridge.InboundMessage{}, false
		}
		return a.inboundMessage(ev.Channel, ev.ThreadTimeStamp, ev.User, ev.Text, ev.TimeStamp), true
	}
	return bridge.InboundMessage{}, false
}

func (a *Adapter) inboundMessage(channel, thread, user, text, ts string) bridge.InboundMessage {
	return bridge.InboundMessage{
		Platform:  "slack",
		ChannelID: channel,
		ThreadID:  thread,
		UserID:    user,
		UserName:  a.resolveUserName(user),
		Text:      text,
		Timestamp: parseSlackTimestamp(ts),
	}
}

// resolveUserName looks up a user's display name, caching hits. Falls back
// to the user ID.
func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	a.mu.Lock()
	name, ok := a.users[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	name = user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	a.mu.Lock()
	a.users[userID] = name
	a.mu.Unlock()
	return name
}

// buildMessageOptions translates an OutboundMessage into Slack MsgOptions.
func buildMessageOptions(msg bridge.OutboundMessage) []slackapi.MsgOption {
	var options []slackapi.MsgOption
	if msg.ThreadID != "" {
		options = append(options, slackapi.MsgOptionTS(msg.ThreadID))
	}
	if len(msg.Events) > 0 {
		var attachments []slackapi.Attachment
		for _, evt := range msg.Events {
			attachments = append(attachments, eventToAttachment(evt))
		}
		options = append(options, slackapi.MsgOptionAttachments(attachments...))
		if msg.Text != "" {
			options = append(options, slackapi.MsgOptionText(msg.Text, false))
		}
	} else {
		options = append(options, slackapi.MsgOptionText(msg.Text, false))
	}
	return options
}

// eventToAttachment converts a FormattedEvent to a Slack Attachment.
func eventToAttachment(evt bridge.FormattedEvent) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    evt.Title,
		Text:     evt.Body,
		Color:    evt.Color,
		Fallback: evt.Title,
	}
	for _, f := range evt.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors, waiting
// for the RetryAfter Slack asks for.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// parseSlackTimestamp converts a Slack timestamp ("1234567890.123456") to a
// time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
