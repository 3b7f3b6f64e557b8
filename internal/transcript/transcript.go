// Package transcript holds the chat history of a shell session: the ordered
// messages exchanged between the operator, the model and the automation loop.
package transcript

import "context"

// Role identifies who a transcript message speaks for.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one transcript entry. Hidden entries are kept out of
// operator-facing views but still go to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Hidden  bool   `json:"hidden,omitempty"`
}

// Store persists transcripts. Implementations must keep per-session order.
type Store interface {
	Append(ctx context.Context, sessionID string, generation uint64, msg Message) error
	Load(ctx context.Context, sessionID string) ([]Message, error)
}

// RecentLoader is implemented by stores that can return just the tail of a
// transcript.
type RecentLoader interface {
	LoadRecent(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

// Tail returns the last n messages of msgs, or msgs itself when n <= 0.
func Tail(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// Visible filters out hidden messages.
func Visible(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Hidden {
			out = append(out, m)
		}
	}
	return out
}
