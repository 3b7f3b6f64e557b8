package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/shellyard/internal/config"
	"github.com/zulandar/shellyard/internal/gateway"
	"github.com/zulandar/shellyard/internal/transport"
	"go.uber.org/zap"
)

func TestSelectHosts(t *testing.T) {
	cfg := &config.Config{Hosts: []config.HostConfig{{Name: "web01"}, {Name: "db01"}}}

	all, err := selectHosts(cfg, nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("selectHosts(nil) = %v, %v", all, err)
	}
	some, err := selectHosts(cfg, []string{"db01"})
	if err != nil || len(some) != 1 || some[0].Name != "db01" {
		t.Fatalf("selectHosts(db01) = %v, %v", some, err)
	}
	if _, err := selectHosts(cfg, []string{"ghost"}); err == nil {
		t.Error("expected error for an unconfigured host")
	}
}

func TestServe_NoHosts(t *testing.T) {
	path := writeConfig(t, "")
	_, err := run(t, "serve", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "no hosts configured") {
		t.Fatalf("err = %v, want 'no hosts configured'", err)
	}
}

func TestServe_UnknownHostFlag(t *testing.T) {
	path := writeConfig(t, "hosts:\n  - {name: web01, host: 10.0.0.1, user: deploy}\n")
	_, err := run(t, "serve", "--host", "db01", "--config", path)
	if err == nil || !strings.Contains(err.Error(), `host "db01" is not configured`) {
		t.Fatalf("err = %v", err)
	}
}

func TestServe_NoHostReachable(t *testing.T) {
	// A host without credentials fails before any network dial.
	path := writeConfig(t, "hosts:\n  - {name: web01, host: 127.0.0.1, user: deploy}\n")
	out, err := run(t, "serve", "--no-dashboard", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "no host could be opened") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out, "Skipping web01") {
		t.Errorf("output = %s", out)
	}
}

func TestNewAdapter(t *testing.T) {
	t.Setenv("SY_TEST_BOT", "")
	if _, err := newAdapter(config.BridgeConfig{Platform: "slack", BotTokenEnv: "SY_TEST_BOT"}, zap.NewNop()); err == nil {
		t.Error("slack without tokens should fail")
	}
	if _, err := newAdapter(config.BridgeConfig{Platform: "discord", BotTokenEnv: "SY_TEST_BOT"}, zap.NewNop()); err == nil {
		t.Error("discord without a token should fail")
	}
	if _, err := newAdapter(config.BridgeConfig{Platform: "irc"}, zap.NewNop()); err == nil {
		t.Error("unknown platform should fail")
	}

	t.Setenv("SY_TEST_BOT", "token")
	a, err := newAdapter(config.BridgeConfig{Platform: "discord", BotTokenEnv: "SY_TEST_BOT"}, zap.NewNop())
	if err != nil || a == nil {
		t.Errorf("discord adapter = %v, %v", a, err)
	}
}

func TestHostTarget(t *testing.T) {
	h := config.HostConfig{Name: "db01", Host: "10.0.0.2", Port: 2222, User: "ops", KnownHosts: "/kh", InsecureIgnoreHostKey: true}
	got := hostTarget(h, "pw")
	want := transport.Target{
		SessionID: "db01", Name: "db01", Host: "10.0.0.2", Port: 2222, User: "ops",
		Password: "pw", KnownHostsFile: "/kh", InsecureIgnoreHostKey: true,
	}
	if got != want {
		t.Errorf("hostTarget = %+v, want %+v", got, want)
	}
}

func TestNewGateway(t *testing.T) {
	t.Setenv("SY_TEST_KEY", "sk-test")
	cfg, err := config.Parse([]byte("gateway:\n  provider: openai\n  model: gpt-4o\n  api_key_env: SY_TEST_KEY\n"))
	if err != nil {
		t.Fatal(err)
	}
	gw, params, err := newGateway(context.Background(), cfg, zap.NewNop())
	if err != nil || gw == nil {
		t.Fatalf("newGateway = %v, %v", gw, err)
	}
	if params.APIKey != "sk-test" || params.BaseURL != "https://api.openai.com/v1" || params.Model != "gpt-4o" {
		t.Errorf("params = %+v", params)
	}

	cfg.Gateway.OAuth = &config.OAuthConfig{ClientID: "sy"}
	if _, _, err := newGateway(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("oauth without token_url should fail")
	}
}

func TestRunnerConfig(t *testing.T) {
	cfg, err := config.Parse([]byte("automation:\n  auto_run: false\n  quiescence: 3s\n  resume_limit: 50\n"))
	if err != nil {
		t.Fatal(err)
	}
	rc := runnerConfig(cfg, transport.Info{ID: "web01", HostName: "web01"}, nil, gateway.Params{}, nil, nil, configPersonas(cfg)[0])
	if rc.SessionID != "web01" || rc.Host != "web01" {
		t.Errorf("ids = %q/%q", rc.SessionID, rc.Host)
	}
	if rc.AutoRun {
		t.Error("AutoRun = true, want false")
	}
	if rc.ResumeLimit != 50 {
		t.Errorf("ResumeLimit = %d, want 50", rc.ResumeLimit)
	}
	if rc.Detector.Quiescence != 3*time.Second || rc.Detector.TickInterval != time.Second {
		t.Errorf("Detector = %+v", rc.Detector)
	}
	if rc.Persona.ID != "1" || rc.Prompts == nil {
		t.Errorf("Persona = %+v, Prompts = %v", rc.Persona, rc.Prompts)
	}
}
