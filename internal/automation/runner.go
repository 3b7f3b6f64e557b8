// Package automation drives a shell session from model replies: it sends
// each directive to the shell, waits for the command to finish, and feeds the
// output back to the model until the task is done or the operator stops it.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zulandar/shellyard/internal/detector"
	"github.com/zulandar/shellyard/internal/directive"
	"github.com/zulandar/shellyard/internal/gateway"
	"github.com/zulandar/shellyard/internal/persona"
	"github.com/zulandar/shellyard/internal/prompt"
	"github.com/zulandar/shellyard/internal/transcript"
	"github.com/zulandar/shellyard/internal/transport"
	"go.uber.org/zap"
)

var (
	// ErrBusy is returned when a user message arrives while the runner is
	// waiting on the model or on a command.
	ErrBusy = errors.New("automation: busy")
	// ErrNotRunning is returned once the runner's loop has exited.
	ErrNotRunning = errors.New("automation: runner not running")
	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("automation: runner already started")
)

// DefaultResumeLimit is how many stored messages a runner reloads on start.
const DefaultResumeLimit = 200

// Config holds the collaborators and settings of one runner.
type Config struct {
	SessionID string
	Host      string // configured host name, for routing by name
	Gateway   gateway.Gateway
	Params    gateway.Params
	Transport transport.Transport
	Personas  persona.Catalog
	Persona   persona.Persona // active at start
	Prompts   *prompt.Builder // defaults to prompt.NewBuilder with defaults
	Detector  detector.Config
	AutoRun   bool
	// ResumeLimit caps the stored messages reloaded on start. Defaults to
	// DefaultResumeLimit; negative reloads everything.
	ResumeLimit int
}

// Option customises a Runner.
type Option func(*Runner)

// WithStore persists the transcript through s and resumes from it on start.
func WithStore(s transcript.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithLogger sets the runner's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithObserver registers an observer for transcript and status changes.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// Runner owns one session's automation loop. All mutable state belongs to the
// goroutine running Run; the public methods post commands to it.
type Runner struct {
	cfg       Config
	store     transcript.Store
	log       *zap.Logger
	observers []Observer

	cmds    chan command
	replies chan modelReply
	done    chan struct{}
	calls   sync.WaitGroup
	started atomic.Bool

	// Loop-owned state.
	det        *detector.Detector
	state      State
	generation uint64
	autoRun    bool
	persona    persona.Persona
	request    *Request
	history    []transcript.Message
	callCtx    context.Context

	// Read-side snapshots.
	mu       sync.RWMutex
	snapshot Status
	messages []transcript.Message
}

type cmdKind int

const (
	cmdUserMessage cmdKind = iota
	cmdStop
	cmdSetAutoRun
	cmdSelectPersona
)

type command struct {
	kind    cmdKind
	text    string
	flag    bool
	persona persona.Persona
	resp    chan error
}

type modelReply struct {
	generation uint64
	msg        gateway.Message
	err        error
}

// NewRunner creates a Runner. Call Run to start it.
func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("automation: session id is required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("automation: gateway is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("automation: transport is required")
	}
	if cfg.Personas == nil {
		return nil, fmt.Errorf("automation: persona catalog is required")
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompt.NewBuilder(prompt.BuilderOpts{})
	}
	if cfg.ResumeLimit == 0 {
		cfg.ResumeLimit = DefaultResumeLimit
	}

	r := &Runner{
		cfg:     cfg,
		log:     zap.NewNop(),
		cmds:    make(chan command),
		replies: make(chan modelReply),
		done:    make(chan struct{}),
		det:     detector.New(cfg.Detector),
		state:   StateIdle,
		autoRun: cfg.AutoRun,
		persona: cfg.Persona,
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.Named("automation").With(zap.String("session", cfg.SessionID))
	r.snapshot = r.status()
	return r, nil
}

// SessionID returns the id of the session this runner drives.
func (r *Runner) SessionID() string {
	return r.cfg.SessionID
}

// Done is closed when Run has returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Run processes events until ctx is cancelled or the session ends. A runner
// runs once; later calls return ErrAlreadyStarted.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(r.done)
		r.calls.Wait()
	}()
	r.callCtx = ctx

	if r.store != nil {
		msgs, err := r.resume(ctx)
		if err != nil {
			return fmt.Errorf("automation: resume transcript: %w", err)
		}
		r.history = msgs
		r.mu.Lock()
		r.messages = append([]transcript.Message(nil), msgs...)
		r.mu.Unlock()
	}

	sub, err := r.cfg.Transport.Subscribe(r.cfg.SessionID)
	if err != nil {
		return fmt.Errorf("automation: subscribe: %w", err)
	}
	defer sub.Close()

	ticker := time.NewTicker(r.det.Config().TickInterval)
	defer ticker.Stop()

	r.log.Info("automation: runner started", zap.Bool("auto_run", r.autoRun),
		zap.String("persona", r.persona.ID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-r.cmds:
			cmd.resp <- r.handle(cmd)
		case rep := <-r.replies:
			r.onReply(rep)
		case chunk, ok := <-sub.Chunks():
			if !ok {
				r.log.Info("automation: session ended")
				return nil
			}
			if res, done := r.det.Feed(chunk, time.Now()); done {
				r.onCompletion(res)
			}
		case now := <-ticker.C:
			if res, done := r.det.Tick(now); done {
				r.onCompletion(res)
			}
		}
	}
}

// resume loads the tail of the stored transcript.
func (r *Runner) resume(ctx context.Context) ([]transcript.Message, error) {
	limit := r.cfg.ResumeLimit
	if limit < 0 {
		return r.store.Load(ctx, r.cfg.SessionID)
	}
	if rl, ok := r.store.(transcript.RecentLoader); ok {
		return rl.LoadRecent(ctx, r.cfg.SessionID, limit)
	}
	msgs, err := r.store.Load(ctx, r.cfg.SessionID)
	if err != nil {
		return nil, err
	}
	return transcript.Tail(msgs, limit), nil
}

func (r *Runner) send(ctx context.Context, cmd command) error {
	cmd.resp = make(chan error, 1)
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendUserMessage starts a new task from operator input. It fails with
// ErrBusy while a model call or command is outstanding.
func (r *Runner) SendUserMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("automation: message is empty")
	}
	return r.send(ctx, command{kind: cmdUserMessage, text: text})
}

// Stop abandons the current task. Any reply or output still in flight is
// discarded, and auto-run is switched off.
func (r *Runner) Stop(ctx context.Context) error {
	return r.send(ctx, command{kind: cmdStop})
}

// SetAutoRun toggles whether command output is fed back to the model.
func (r *Runner) SetAutoRun(ctx context.Context, on bool) error {
	return r.send(ctx, command{kind: cmdSetAutoRun, flag: on})
}

// SelectPersona makes the persona with the given id active.
func (r *Runner) SelectPersona(ctx context.Context, id string) error {
	p, err := r.cfg.Personas.Get(ctx, id)
	if err != nil {
		return err
	}
	return r.send(ctx, command{kind: cmdSelectPersona, persona: p})
}

// Transcript returns a copy of the transcript, optionally with hidden entries.
func (r *Runner) Transcript(includeHidden bool) []transcript.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if includeHidden {
		return append([]transcript.Message(nil), r.messages...)
	}
	return transcript.Visible(r.messages)
}

// Status returns the latest status snapshot.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func (r *Runner) handle(cmd command) error {
	switch cmd.kind {
	case cmdUserMessage:
		if r.state.Busy() {
			return ErrBusy
		}
		r.append(transcript.Message{Role: transcript.RoleUser, Content: cmd.text})
		r.callModel(r.cfg.Prompts.Build(r.history, r.persona))
		return nil

	case cmdStop:
		r.generation++
		r.autoRun = false
		r.det.Disarm()
		r.request = nil
		r.append(transcript.Message{Role: transcript.RoleSystem, Content: prompt.StopMessage})
		r.setState(StateStopped)
		r.log.Info("automation: stopped by user", zap.Uint64("generation", r.generation))
		return nil

	case cmdSetAutoRun:
		r.autoRun = cmd.flag
		r.publish()
		return nil

	case cmdSelectPersona:
		r.persona = cmd.persona
		r.append(transcript.Message{Role: transcript.RoleSystem, Content: prompt.PersonaSwitched(cmd.persona.Title)})
		r.publish()
		return nil
	}
	return fmt.Errorf("automation: unknown command %d", cmd.kind)
}

// callModel starts a gateway call in the background. The reply comes back
// through r.replies tagged with the generation current at call time.
func (r *Runner) callModel(c *prompt.Context) {
	gen := r.generation
	msgs := c.Messages()
	r.setState(StateAwaitingModel)

	r.calls.Add(1)
	go func() {
		defer r.calls.Done()
		reply, err := r.cfg.Gateway.Chat(r.callCtx, msgs, r.cfg.Params)
		select {
		case r.replies <- modelReply{generation: gen, msg: reply, err: err}:
		case <-r.done:
		}
	}()
}

func (r *Runner) onReply(rep modelReply) {
	if rep.generation != r.generation || r.state != StateAwaitingModel {
		r.log.Debug("automation: stale model reply dropped",
			zap.Uint64("reply_generation", rep.generation), zap.Uint64("generation", r.generation))
		return
	}

	if rep.err != nil {
		r.log.Warn("automation: model call failed", zap.Error(rep.err))
		r.append(transcript.Message{Role: transcript.RoleSystem, Content: prompt.ErrorMessage(rep.err)})
		r.setState(StateIdle)
		return
	}

	r.append(transcript.Message{Role: transcript.RoleAssistant, Content: rep.msg.Content})

	d := directive.Parse(rep.msg.Content)
	if !d.Actionable() {
		r.setState(StateIdle)
		return
	}
	r.execute(d)
}

func (r *Runner) execute(d directive.Directive) {
	r.det.Arm(time.Now())
	if err := r.cfg.Transport.Write(r.callCtx, r.cfg.SessionID, d.Payload()); err != nil {
		r.det.Disarm()
		r.log.Warn("automation: write directive", zap.String("kind", d.Kind.String()), zap.Error(err))
		r.append(transcript.Message{Role: transcript.RoleSystem, Content: prompt.WriteFailed(err)})
		r.setState(StateIdle)
		return
	}
	r.request = &Request{Generation: r.generation, Directive: d, SessionID: r.cfg.SessionID}
	r.log.Info("automation: directive sent", zap.String("kind", d.Kind.String()),
		zap.String("directive", d.Describe()), zap.Uint64("generation", r.generation))
	r.setState(StateAwaitingCompletion)
}

func (r *Runner) onCompletion(res detector.Result) {
	if r.request == nil || r.request.Generation != r.generation || r.state != StateAwaitingCompletion {
		r.log.Debug("automation: stale completion dropped", zap.Uint64("generation", r.generation))
		return
	}
	r.request = nil

	quiescence := r.det.Config().Quiescence
	r.append(transcript.Message{
		Role:    transcript.RoleSystem,
		Content: prompt.Observation(res.Output, res.TimedOut, quiescence),
		Hidden:  true,
	})
	if res.TimedOut {
		r.append(transcript.Message{Role: transcript.RoleSystem, Content: prompt.TimeoutNotice(quiescence)})
	}

	if !r.autoRun {
		r.setState(StateIdle)
		return
	}
	c := r.cfg.Prompts.Build(r.history, r.persona)
	c.AddUser(prompt.FollowUp(res.Output, res.TimedOut))
	r.callModel(c)
}

func (r *Runner) append(msg transcript.Message) {
	r.history = append(r.history, msg)
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Append(r.callCtx, r.cfg.SessionID, r.generation, msg); err != nil {
			r.log.Error("automation: persist transcript entry", zap.Error(err))
		}
	}
	r.notify(Event{Kind: EventMessage, Message: msg})
}

func (r *Runner) setState(s State) {
	r.state = s
	r.publish()
}

func (r *Runner) status() Status {
	st := Status{
		SessionID:  r.cfg.SessionID,
		Host:       r.cfg.Host,
		State:      r.state,
		AutoRun:    r.autoRun,
		Generation: r.generation,
		Persona:    r.persona.ID,
	}
	if r.request != nil {
		st.Directive = r.request.Directive.Describe()
	}
	return st
}

func (r *Runner) publish() {
	st := r.status()
	r.mu.Lock()
	r.snapshot = st
	r.mu.Unlock()
	r.notify(Event{Kind: EventStatus})
}

func (r *Runner) notify(ev Event) {
	if len(r.observers) == 0 {
		return
	}
	ev.SessionID = r.cfg.SessionID
	ev.Status = r.Status()
	for _, o := range r.observers {
		o(ev)
	}
}
