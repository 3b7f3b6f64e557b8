// Package bridge connects host sessions to a chat platform (Slack, Discord):
// chat messages become operator input and the session's visible transcript is
// relayed back to the bound channels.
package bridge

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string // "slack" or "discord"
	ChannelID string
	ThreadID  string // empty for top-level messages
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string
	ThreadID  string // thread to reply in (empty for a top-level message)
	Text      string
	Events    []FormattedEvent
}

// FormattedEvent is a session event rendered as a chat attachment.
type FormattedEvent struct {
	Title    string
	Body     string
	Severity string // "info", "warning", "error", "success"
	Color    string
	Fields   []Field
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool
}

// BotUserIDer is implemented by adapters that know the bot's own user id.
type BotUserIDer interface {
	BotUserID() string
}

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}
