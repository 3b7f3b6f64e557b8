package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Default SSH parameters.
const (
	DefaultSSHPort     = 22
	DefaultDialTimeout = 15 * time.Second
	DefaultTerm        = "xterm-256color"
	DefaultCols        = 120
	DefaultRows        = 40
)

// Target is a remote host to open a shell on.
type Target struct {
	// SessionID, when set, is used as the session id so a reconnect to the
	// same host resumes its transcript. A random id is generated otherwise.
	SessionID             string
	Name                  string
	Host                  string
	Port                  int
	User                  string
	Password              string
	IdentityFile          string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	Term                  string
	Cols                  int
	Rows                  int
}

// Address returns host:port, filling the default port.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// SSHDialer opens interactive PTY shells over SSH.
type SSHDialer struct {
	Timeout time.Duration // defaults to DefaultDialTimeout
}

// Dial connects to target, requests a PTY and starts a login shell.
func (d SSHDialer) Dial(ctx context.Context, target Target) (Shell, error) {
	cfg, err := clientConfig(target, d.Timeout)
	if err != nil {
		return nil, err
	}

	addr := target.Address()
	conn, err := (&net.Dialer{Timeout: cfg.Timeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: ssh session %s: %w", addr, err)
	}

	term, cols, rows := ptySize(target)
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(term, rows, cols, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh pty %s: %w", addr, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh stdin %s: %w", addr, err)
	}
	pr, pw := io.Pipe()
	sess.Stdout = pw
	sess.Stderr = pw

	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh shell %s: %w", addr, err)
	}

	sh := &sshShell{client: client, sess: sess, stdin: stdin, out: pr}
	go func() {
		err := sess.Wait()
		if err == nil {
			err = io.EOF
		}
		pw.CloseWithError(err)
		sh.Close()
	}()
	return sh, nil
}

func ptySize(t Target) (term string, cols, rows int) {
	term, cols, rows = t.Term, t.Cols, t.Rows
	if term == "" {
		term = DefaultTerm
	}
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}
	return term, cols, rows
}

func clientConfig(t Target, timeout time.Duration) (*ssh.ClientConfig, error) {
	if t.Host == "" {
		return nil, fmt.Errorf("transport: ssh: host is required")
	}
	if t.User == "" {
		return nil, fmt.Errorf("transport: ssh: user is required")
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	var auth []ssh.AuthMethod
	if t.IdentityFile != "" {
		key, err := os.ReadFile(expandHome(t.IdentityFile))
		if err != nil {
			return nil, fmt.Errorf("transport: ssh: read identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("transport: ssh: parse identity file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if t.Password != "" {
		auth = append(auth, ssh.Password(t.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("transport: ssh: no password or identity file for %s", t.Name)
	}

	hostKey, err := hostKeyCallback(t)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func hostKeyCallback(t Target) (ssh.HostKeyCallback, error) {
	if t.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := t.KnownHostsFile
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	cb, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("transport: ssh: known hosts: %w", err)
	}
	return cb, nil
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

type sshShell struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	out    *io.PipeReader

	once sync.Once
}

func (s *sshShell) Read(p []byte) (int, error)  { return s.out.Read(p) }
func (s *sshShell) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *sshShell) Resize(cols, rows int) error {
	return s.sess.WindowChange(rows, cols)
}

func (s *sshShell) Close() error {
	var err error
	s.once.Do(func() {
		s.sess.Close()
		err = s.client.Close()
		s.out.Close()
	})
	return err
}
