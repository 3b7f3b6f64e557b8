// Package schedule sends operator prompts to host sessions on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/shellyard/internal/automation"
	"go.uber.org/zap"
)

// cronParser accepts standard 5-field expressions and descriptors like @daily.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Entry is one recurring prompt.
type Entry struct {
	Host   string
	Cron   string
	Prompt string
}

// Sender accepts operator messages for a session.
type Sender interface {
	SendUserMessage(ctx context.Context, text string) error
}

// Resolver finds the session that serves a host.
type Resolver func(host string) (Sender, error)

// ManagerResolver resolves hosts through the runners of m.
func ManagerResolver(m *automation.Manager) Resolver {
	return func(host string) (Sender, error) {
		r, err := m.ByHost(host)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Opts configures a Scheduler.
type Opts struct {
	Entries  []Entry
	Resolve  Resolver
	Logger   *zap.Logger
	Location *time.Location // defaults to time.Local
}

// Scheduler fires entries on their schedules.
type Scheduler struct {
	cron    *cron.Cron
	resolve Resolver
	log     *zap.Logger
	ctx     context.Context
	entries map[cron.EntryID]Entry
}

// Validate reports whether expr is an accepted cron expression.
func Validate(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("schedule: parse %q: %w", expr, err)
	}
	return nil
}

// New parses every entry and returns a Scheduler. It fails on the first bad
// cron expression.
func New(opts Opts) (*Scheduler, error) {
	if opts.Resolve == nil {
		return nil, fmt.Errorf("schedule: resolver is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithParser(cronParser), cron.WithLocation(opts.Location)),
		resolve: opts.Resolve,
		log:     opts.Logger.Named("schedule"),
		ctx:     context.Background(),
		entries: make(map[cron.EntryID]Entry),
	}
	for _, e := range opts.Entries {
		e := e
		id, err := s.cron.AddFunc(e.Cron, func() { s.Fire(s.ctx, e) })
		if err != nil {
			return nil, fmt.Errorf("schedule: add %s %q: %w", e.Host, e.Cron, err)
		}
		s.entries[id] = e
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is cancelled. Prompts that
// are still being delivered are waited for before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info("schedule: started", zap.Int("entries", len(s.entries)))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Fire delivers e's prompt now. A busy or missing session is logged and
// skipped; the next tick tries again.
func (s *Scheduler) Fire(ctx context.Context, e Entry) error {
	sender, err := s.resolve(e.Host)
	if err != nil {
		s.log.Warn("schedule: no session for host", zap.String("host", e.Host), zap.Error(err))
		return err
	}
	err = sender.SendUserMessage(ctx, e.Prompt)
	switch {
	case errors.Is(err, automation.ErrBusy):
		s.log.Info("schedule: session busy, skipping", zap.String("host", e.Host))
	case err != nil:
		s.log.Error("schedule: send prompt", zap.String("host", e.Host), zap.Error(err))
	default:
		s.log.Info("schedule: prompt sent", zap.String("host", e.Host), zap.String("cron", e.Cron))
	}
	return err
}

// Next returns the next fire time of every entry, keyed by host and cron.
func (s *Scheduler) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for _, ce := range s.cron.Entries() {
		e := s.entries[ce.ID]
		out[e.Host+" "+e.Cron] = ce.Schedule.Next(time.Now())
	}
	return out
}
