// Package prompt turns a session transcript into the message list sent to the
// model, and renders the texts the automation loop feeds back to it.
package prompt

import (
	"fmt"
	"strings"

	"github.com/zulandar/shellyard/internal/gateway"
	"github.com/zulandar/shellyard/internal/persona"
	"github.com/zulandar/shellyard/internal/transcript"
)

// DefaultBase opens every system prompt.
const DefaultBase = "You are a helpful SSH assistant."

// DefaultInstructions tells the model how to drive the shell.
const DefaultInstructions = `Remote shell automation rules

GOAL
Carry the operator's request through to the end and confirm that it worked.

ACTIONS
- To run a command, wrap it in run tags:
  <run>
  command
  </run>
- To create or replace a file, use a write_file block instead of echo or sed:
  <write_file path="/absolute/path">
  file content
  </write_file>
- Issue exactly ONE action per reply. Wait for its output before the next one.
- Avoid full-screen or interactive programs such as top, vim or nano.

INTERACTIVE PROGRAMS
A command may stop and wait for input ("[y/n]", "Password:", "Selection number:").
When the output ends like that, or you are told the capture timed out, answer
with only the value to type, for example <run>y</run> or <run>2</run>.
An empty <run></run> presses Enter. Do not wrap such input in echo or a pipe:
the program is already running and reads it directly.

CONTINUING
After every action you receive its output and are asked for the next step.
Keep going until the request is complete.

VERIFY
- After writing a file, check that it exists and holds the expected content.
- After changing a service, check its status.
- After changing configuration, confirm the change is in effect.

ERRORS
If a command fails, read the error and try another approach.

FINISHING
When everything is done and verified, reply with a short summary and no
run or write_file tags.`

// Builder synthesizes model contexts.
type Builder struct {
	base         string
	instructions string
}

// BuilderOpts holds parameters for creating a Builder.
type BuilderOpts struct {
	Base         string // defaults to DefaultBase
	Instructions string // defaults to DefaultInstructions
}

// NewBuilder creates a Builder.
func NewBuilder(opts BuilderOpts) *Builder {
	b := &Builder{base: opts.Base, instructions: opts.Instructions}
	if strings.TrimSpace(b.base) == "" {
		b.base = DefaultBase
	}
	if strings.TrimSpace(b.instructions) == "" {
		b.instructions = DefaultInstructions
	}
	return b
}

// SystemPrompt renders the system prompt for a persona.
func (b *Builder) SystemPrompt(p persona.Persona) string {
	return b.base + " " + p.Content + "\n\n" + b.instructions
}

// Build maps a transcript to a model context whose first element is the
// system prompt for p. Assistant entries keep their role; user and system
// entries are both sent as user turns. Hidden entries are included.
func (b *Builder) Build(msgs []transcript.Message, p persona.Persona) *Context {
	c := &Context{messages: make([]gateway.Message, 0, len(msgs)+2)}
	c.messages = append(c.messages, gateway.Message{Role: string(transcript.RoleSystem)})
	for _, m := range msgs {
		role := string(transcript.RoleUser)
		if m.Role == transcript.RoleAssistant {
			role = string(transcript.RoleAssistant)
		}
		c.messages = append(c.messages, gateway.Message{Role: role, Content: m.Content})
	}
	c.SetSystem(b.SystemPrompt(p))
	return c
}

// Context is an ordered model context. Element 0 is always the system prompt.
type Context struct {
	messages []gateway.Message
}

// SetSystem replaces the system prompt in place.
func (c *Context) SetSystem(content string) {
	if len(c.messages) == 0 || c.messages[0].Role != string(transcript.RoleSystem) {
		c.messages = append([]gateway.Message{{Role: string(transcript.RoleSystem)}}, c.messages...)
	}
	c.messages[0].Content = content
}

// AddUser appends a user turn.
func (c *Context) AddUser(content string) {
	c.messages = append(c.messages, gateway.Message{Role: string(transcript.RoleUser), Content: content})
}

// Messages returns a copy of the context.
func (c *Context) Messages() []gateway.Message {
	out := make([]gateway.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages, system prompt included.
func (c *Context) Len() int {
	return len(c.messages)
}

// Loop feedback texts.
const (
	StopMessage = "Task stopped by user. Forget previous pending tasks and wait for new instructions."

	followUpQuestion = "Please analyze the output. Is the original task fully completed and VERIFIED? \n" +
		"- If NO: Provide the next command in <run> tags.\n" +
		"- If YES: Provide a final summary."

	followUpTimeout = "\n\n[System Warning]: The command timed out and might be waiting for input. " +
		"If so, provide ONLY the input value (e.g. <run>yes</run> or <run>2</run>) to interact with the running process."

	observationTimeout = "\n\n[System Warning]: Output capture timed out (%s). The command might be interactive " +
		"(waiting for input) or simply slow. If it's waiting for input (e.g. [y/n], selection number), please provide " +
		"the input in <run> tags (e.g. <run>2</run> or <run>y</run>). DO NOT wrap the input in echo or pipe if the " +
		"command is already running."

	timeoutNotice = "Command output capture timed out after %s. The command may be waiting for input."
)

// FollowUp renders the user turn that asks the model to judge a command's
// output and continue.
func FollowUp(output string, timedOut bool) string {
	s := "Command executed. Output:\n" + output + "\n\n" + followUpQuestion
	if timedOut {
		s += followUpTimeout
	}
	return s
}

// Observation renders the hidden transcript entry that records a command's
// output. quiescence is the silence threshold that ended a timed-out window.
func Observation(output string, timedOut bool, quiescence fmt.Stringer) string {
	s := "Output:\n" + output
	if timedOut {
		s += fmt.Sprintf(observationTimeout, quiescence)
	}
	return s
}

// TimeoutNotice renders the visible entry shown when capture timed out.
func TimeoutNotice(quiescence fmt.Stringer) string {
	return fmt.Sprintf(timeoutNotice, quiescence)
}

// PersonaSwitched renders the visible entry recorded on a persona change.
func PersonaSwitched(title string) string {
	return "Persona switched to: " + title
}

// ErrorMessage renders the visible entry recorded when a model call fails.
func ErrorMessage(err error) string {
	return "Error: " + err.Error()
}

// WriteFailed renders the visible entry recorded when a directive could not
// be written to the shell.
func WriteFailed(err error) string {
	return "Error: failed to send command to shell: " + err.Error()
}
