package main

import (
	"context"
	"fmt"

	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/config"
	"github.com/zulandar/shellyard/internal/db"
	"github.com/zulandar/shellyard/internal/detector"
	"github.com/zulandar/shellyard/internal/gateway"
	"github.com/zulandar/shellyard/internal/logging"
	"github.com/zulandar/shellyard/internal/persona"
	"github.com/zulandar/shellyard/internal/prompt"
	"github.com/zulandar/shellyard/internal/transport"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// connectFromConfig loads the config file and opens a migrated database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
}

// configPersonas returns the personas named in the config, or the built-ins
// when none are.
func configPersonas(cfg *config.Config) []persona.Persona {
	if len(cfg.Personas) == 0 {
		return persona.Defaults()
	}
	out := make([]persona.Persona, 0, len(cfg.Personas))
	for _, p := range cfg.Personas {
		out = append(out, persona.Persona{ID: p.ID, Title: p.Title, Content: p.Content})
	}
	return out
}

// openPersonas returns the database catalog, seeded from the config.
func openPersonas(ctx context.Context, gormDB *gorm.DB, cfg *config.Config) (*persona.Store, error) {
	store, err := persona.NewStore(gormDB)
	if err != nil {
		return nil, err
	}
	if err := store.Seed(ctx, configPersonas(cfg)); err != nil {
		return nil, err
	}
	return store, nil
}

// newGateway builds the model client and the request parameters for the
// configured provider.
func newGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gateway.Client, gateway.Params, error) {
	opts := gateway.ClientOpts{Timeout: cfg.Gateway.Timeout, Logger: logger}
	if o := cfg.Gateway.OAuth; o != nil {
		ts, err := gateway.NewTokenSource(ctx, gateway.OAuthOpts{
			TokenURL:     o.TokenURL,
			ClientID:     o.ClientID,
			ClientSecret: o.ResolveClientSecret(),
			Scopes:       o.Scopes,
		})
		if err != nil {
			return nil, gateway.Params{}, err
		}
		opts.TokenSource = ts
	}

	params := gateway.Params{
		Provider: cfg.Gateway.Provider,
		BaseURL:  cfg.Gateway.BaseURL,
		Model:    cfg.Gateway.Model,
		APIKey:   cfg.Gateway.ResolveAPIKey(),
	}
	return gateway.NewClient(opts), params, nil
}

// hostTarget maps a configured host to an SSH target. The host name doubles
// as the session id so a restart resumes the host's transcript.
func hostTarget(h config.HostConfig, password string) transport.Target {
	return transport.Target{
		SessionID:             h.Name,
		Name:                  h.Name,
		Host:                  h.Host,
		Port:                  h.Port,
		User:                  h.User,
		Password:              password,
		IdentityFile:          h.IdentityFile,
		KnownHostsFile:        h.KnownHosts,
		InsecureIgnoreHostKey: h.InsecureIgnoreHostKey,
	}
}

// runnerConfig assembles the automation settings shared by serve and chat.
func runnerConfig(cfg *config.Config, info transport.Info, gw gateway.Gateway, params gateway.Params,
	tr transport.Transport, personas persona.Catalog, active persona.Persona) automation.Config {
	return automation.Config{
		SessionID: info.ID,
		Host:      info.HostName,
		Gateway:   gw,
		Params:    params,
		Transport: tr,
		Personas:  personas,
		Persona:   active,
		Prompts: prompt.NewBuilder(prompt.BuilderOpts{
			Base:         cfg.Automation.BasePrompt,
			Instructions: cfg.Automation.Instructions,
		}),
		Detector: detector.Config{
			Quiescence:   cfg.Automation.Quiescence,
			TickInterval: cfg.Automation.TickInterval,
		},
		AutoRun:     cfg.AutoRunEnabled(),
		ResumeLimit: cfg.Automation.ResumeLimit,
	}
}
