package bridge

import (
	"context"
	"fmt"

	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/persona"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Opts configures a Bridge.
type Opts struct {
	Adapter  Adapter
	Resolve  Resolver
	Personas persona.Catalog
	Channels map[string]string // channel id -> host name
	Logger   *zap.Logger
}

// Bridge runs a Router over an adapter's inbound messages and a Relay for
// runner events.
type Bridge struct {
	adapter Adapter
	router  *Router
	relay   *Relay
	log     *zap.Logger
}

// New creates a Bridge. Register Observer with every runner whose host is
// bound to a channel before calling Run.
func New(opts Opts) (*Bridge, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	router, err := NewRouter(RouterOpts{
		Adapter:  opts.Adapter,
		Resolve:  opts.Resolve,
		Personas: opts.Personas,
		Channels: opts.Channels,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	relay, err := NewRelay(RelayOpts{
		Adapter:  opts.Adapter,
		Channels: opts.Channels,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Bridge{
		adapter: opts.Adapter,
		router:  router,
		relay:   relay,
		log:     opts.Logger.Named("bridge"),
	}, nil
}

// Observer returns the observer that feeds the relay.
func (b *Bridge) Observer() automation.Observer {
	return b.relay.Observe
}

// Run connects the adapter and handles traffic until ctx is cancelled or the
// adapter's inbound channel closes. The adapter is closed on return.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bridge: connect: %w", err)
	}
	inbound, err := b.adapter.Listen(ctx)
	if err != nil {
		b.adapter.Close()
		return fmt.Errorf("bridge: listen: %w", err)
	}
	b.log.Info("bridge: connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.relay.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg, ok := <-inbound:
				if !ok {
					b.log.Info("bridge: inbound closed")
					return nil
				}
				b.router.Handle(gctx, msg)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		return b.adapter.Close()
	})
	return g.Wait()
}
