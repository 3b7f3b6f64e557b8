package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/bridge"
	"github.com/zulandar/shellyard/internal/bridge/discord"
	"github.com/zulandar/shellyard/internal/bridge/slack"
	"github.com/zulandar/shellyard/internal/config"
	"github.com/zulandar/shellyard/internal/dashboard"
	"github.com/zulandar/shellyard/internal/schedule"
	"github.com/zulandar/shellyard/internal/transcript"
	"github.com/zulandar/shellyard/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath  string
		port        int
		noDashboard bool
		only        []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open every configured host and serve the automation API",
		Long: "Opens an SSH shell on each configured host, starts one automation loop per shell,\n" +
			"and serves the dashboard API, the chat bridge and scheduled prompts until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, noDashboard, only)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Shellyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "dashboard port (overrides dashboard.port)")
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "do not start the HTTP dashboard")
	cmd.Flags().StringSliceVar(&only, "host", nil, "open only these hosts (repeatable)")
	return cmd
}

// selectHosts returns the configured hosts named in only, or all of them.
func selectHosts(cfg *config.Config, only []string) ([]config.HostConfig, error) {
	if len(only) == 0 {
		return cfg.Hosts, nil
	}
	out := make([]config.HostConfig, 0, len(only))
	for _, name := range only {
		h, ok := cfg.Host(name)
		if !ok {
			return nil, fmt.Errorf("host %q is not configured", name)
		}
		out = append(out, h)
	}
	return out, nil
}

// newAdapter builds the chat adapter for the configured platform.
func newAdapter(cfg config.BridgeConfig, logger *zap.Logger) (bridge.Adapter, error) {
	switch cfg.Platform {
	case "slack":
		return slack.New(slack.AdapterOpts{
			BotToken: os.Getenv(cfg.BotTokenEnv),
			AppToken: os.Getenv(cfg.AppTokenEnv),
			Logger:   logger,
		})
	case "discord":
		return discord.New(discord.AdapterOpts{
			BotToken: os.Getenv(cfg.BotTokenEnv),
			Logger:   logger,
		})
	}
	return nil, fmt.Errorf("unsupported bridge platform %q", cfg.Platform)
}

func runServe(cmd *cobra.Command, configPath string, port int, noDashboard bool, only []string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	hosts, err := selectHosts(cfg, only)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		return fmt.Errorf("no hosts configured in %s", configPath)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	personas, err := openPersonas(ctx, gormDB, cfg)
	if err != nil {
		return err
	}
	active, err := personas.Get(ctx, cfg.Automation.DefaultPersona)
	if err != nil {
		return err
	}
	gw, params, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	store, err := transcript.NewDBStore(transcript.DBStoreOpts{DB: gormDB})
	if err != nil {
		return err
	}

	hub := transport.NewHub(transport.HubOpts{DB: gormDB, Logger: logger})
	manager := automation.NewManager(logger)
	defer func() {
		cancel()
		manager.Wait()
		hub.Shutdown()
	}()

	var br *bridge.Bridge
	if cfg.Bridge.Platform != "" {
		adapter, err := newAdapter(cfg.Bridge, logger)
		if err != nil {
			return err
		}
		br, err = bridge.New(bridge.Opts{
			Adapter:  adapter,
			Resolve:  bridge.ManagerResolver(manager),
			Personas: personas,
			Channels: cfg.Bridge.Channels,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	dialer := transport.SSHDialer{}
	opened := 0
	for _, h := range hosts {
		info, err := hub.Open(gctx, dialer, hostTarget(h, h.ResolvePassword()))
		if err != nil {
			fmt.Fprintf(out, "Skipping %s: %v\n", h.Name, err)
			logger.Warn("serve: open host", zap.String("host", h.Name), zap.Error(err))
			continue
		}
		sub, err := hub.Subscribe(info.ID)
		if err != nil {
			return err
		}

		opts := []automation.Option{automation.WithStore(store), automation.WithLogger(logger)}
		if br != nil {
			opts = append(opts, automation.WithObserver(br.Observer()))
		}
		r, err := automation.NewRunner(runnerConfig(cfg, info, gw, params, hub, personas, active), opts...)
		if err != nil {
			return err
		}
		if err := manager.Start(gctx, r); err != nil {
			return err
		}

		rec := transport.NewRecorder(gormDB, info.ID)
		g.Go(func() error {
			if err := rec.Run(gctx, sub, transport.DefaultFlushInterval); err != nil {
				logger.Warn("serve: output log", zap.String("session", info.ID), zap.Error(err))
			}
			return nil
		})

		fmt.Fprintf(out, "Opened %s (%s@%s) as session %s\n", h.Name, info.User, info.Address, info.ID)
		opened++
	}
	if opened == 0 {
		return fmt.Errorf("no host could be opened")
	}

	if !noDashboard {
		if port == 0 {
			port = cfg.Dashboard.Port
		}
		g.Go(func() error {
			return dashboard.Start(gctx, dashboard.StartOpts{
				Manager:  manager,
				Personas: personas,
				Gateway:  gw,
				Params:   params,
				Port:     port,
				Out:      out,
				Logger:   logger,
			})
		})
	}

	if len(cfg.Schedules) > 0 {
		entries := make([]schedule.Entry, 0, len(cfg.Schedules))
		for _, s := range cfg.Schedules {
			entries = append(entries, schedule.Entry{Host: s.Host, Cron: s.Cron, Prompt: s.Prompt})
		}
		sched, err := schedule.New(schedule.Opts{
			Entries: entries,
			Resolve: schedule.ManagerResolver(manager),
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
		fmt.Fprintf(out, "Scheduled %d prompt(s)\n", len(entries))
	}

	if br != nil {
		g.Go(func() error { return br.Run(gctx) })
		fmt.Fprintf(out, "Bridge connected to %s (%d channel(s))\n", cfg.Bridge.Platform, len(cfg.Bridge.Channels))
	}

	return g.Wait()
}
