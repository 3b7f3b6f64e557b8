package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/zulandar/shellyard/internal/automation"
	"github.com/zulandar/shellyard/internal/config"
	"github.com/zulandar/shellyard/internal/directive"
	"github.com/zulandar/shellyard/internal/persona"
	"github.com/zulandar/shellyard/internal/transcript"
	"github.com/zulandar/shellyard/internal/transport"
	"golang.org/x/term"
)

func newChatCmd() *cobra.Command {
	var (
		configPath string
		personaID  string
		manual     bool
	)

	cmd := &cobra.Command{
		Use:   "chat <host>",
		Short: "Drive one host interactively from the terminal",
		Long: "Opens a shell on the named host and reads tasks from stdin. Lines starting with /\n" +
			"are commands: /stop, /auto on|off, /persona <id>, /personas, /status, /quit.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, args[0], personaID, manual)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Shellyard config file")
	cmd.Flags().StringVar(&personaID, "persona", "", "persona to start with (defaults to automation.default_persona)")
	cmd.Flags().BoolVar(&manual, "manual", false, "start with auto-run off")
	return cmd
}

// hostPassword returns the configured password for h, prompting on the
// terminal when h has neither a password nor an identity file.
func hostPassword(h config.HostConfig, in io.Reader, out io.Writer) (string, error) {
	if pw := h.ResolvePassword(); pw != "" || h.IdentityFile != "" {
		return pw, nil
	}
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", nil
	}
	fmt.Fprintf(out, "Password for %s@%s: ", h.User, h.Host)
	pw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

func runChat(cmd *cobra.Command, configPath, hostName, personaID string, manual bool) error {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	h, ok := cfg.Host(hostName)
	if !ok {
		return fmt.Errorf("host %q is not configured", hostName)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	personas, err := openPersonas(ctx, gormDB, cfg)
	if err != nil {
		return err
	}
	if personaID == "" {
		personaID = cfg.Automation.DefaultPersona
	}
	active, err := personas.Get(ctx, personaID)
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

	password, err := hostPassword(h, in, out)
	if err != nil {
		return err
	}
	hub := transport.NewHub(transport.HubOpts{DB: gormDB, Logger: logger})
	defer hub.Shutdown()
	info, err := hub.Open(ctx, transport.SSHDialer{}, hostTarget(h, password))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s (%s@%s). Persona: %s.\n", h.Name, info.User, info.Address, active.Title)

	rc := runnerConfig(cfg, info, gw, params, hub, personas, active)
	if manual {
		rc.AutoRun = false
	}
	printer := &chatPrinter{out: out}
	r, err := automation.NewRunner(rc,
		automation.WithStore(store),
		automation.WithLogger(logger),
		automation.WithObserver(printer.observe),
	)
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-r.Done():
			fmt.Fprintln(out, "Session closed.")
			return <-runErr
		case line, ok := <-lines:
			if !ok {
				cancel()
				return <-runErr
			}
			quit, err := chatLine(ctx, r, personas, line, printer)
			if err != nil {
				printer.printf("error: %v\n", err)
			}
			if quit {
				cancel()
				return <-runErr
			}
		}
	}
}

// chatSession is what the chat loop drives.
type chatSession interface {
	SendUserMessage(ctx context.Context, text string) error
	Stop(ctx context.Context) error
	SetAutoRun(ctx context.Context, on bool) error
	SelectPersona(ctx context.Context, id string) error
	Status() automation.Status
}

// chatLine handles one line of operator input. It reports whether the
// operator asked to quit.
func chatLine(ctx context.Context, s chatSession, personas persona.Catalog, line string, p *chatPrinter) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		err := s.SendUserMessage(ctx, line)
		if errors.Is(err, automation.ErrBusy) {
			p.printf("Busy with the current task. Type /stop to abandon it.\n")
			return false, nil
		}
		return false, err
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/stop":
		if err := s.Stop(ctx); err != nil {
			return false, err
		}
		p.printf("Stopped.\n")
	case "/auto":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			p.printf("usage: /auto on|off\n")
			return false, nil
		}
		if err := s.SetAutoRun(ctx, fields[1] == "on"); err != nil {
			return false, err
		}
		p.printf("Auto-run %s.\n", fields[1])
	case "/persona":
		if len(fields) != 2 {
			p.printf("usage: /persona <id>\n")
			return false, nil
		}
		return false, s.SelectPersona(ctx, fields[1])
	case "/personas":
		list, err := personas.List(ctx)
		if err != nil {
			return false, err
		}
		for _, pp := range list {
			p.printf("  %s  %s\n", pp.ID, pp.Title)
		}
	case "/status":
		st := s.Status()
		p.printf("state=%s auto_run=%v persona=%s\n", st.State, st.AutoRun, st.Persona)
	default:
		p.printf("unknown command %s\n", fields[0])
	}
	return false, nil
}

// chatPrinter writes visible transcript messages to the terminal. Output
// from the runner's observer and the input loop is serialized.
type chatPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *chatPrinter) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *chatPrinter) observe(ev automation.Event) {
	if ev.Kind != automation.EventMessage || ev.Message.Hidden {
		return
	}
	switch ev.Message.Role {
	case transcript.RoleUser:
		// The operator already sees what they typed.
	case transcript.RoleSystem:
		p.printf("* %s\n", ev.Message.Content)
	default:
		p.printf("%s\n", renderReply(ev.Message.Content))
	}
}

// renderReply formats an assistant reply for the terminal, showing commands
// and file writes on their own lines.
func renderReply(text string) string {
	var b strings.Builder
	for _, seg := range directive.Split(text) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		switch seg.Type {
		case directive.SegmentCommand:
			b.WriteString("$ " + seg.Content)
		case directive.SegmentFile:
			fmt.Fprintf(&b, "[write %s]\n%s", seg.Path, seg.Content)
		default:
			b.WriteString(strings.TrimSpace(seg.Content))
		}
	}
	return b.String()
}
