// Package transport owns live remote shells. It writes operator and model
// input into them and fans their merged output stream out to any number of
// subscribers.
package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrUnknownSession is returned for an id with no live shell.
	ErrUnknownSession = errors.New("transport: unknown session")
	// ErrSessionClosed is returned when writing to a shell that has ended.
	ErrSessionClosed = errors.New("transport: session closed")
)

// Transport is what the automation loop needs from a session host.
type Transport interface {
	Write(ctx context.Context, sessionID string, p []byte) error
	Subscribe(sessionID string) (*Subscription, error)
}

// Shell is one interactive terminal. Read returns stdout and stderr merged
// into a single stream and fails once the remote side has gone away.
type Shell interface {
	io.ReadWriteCloser
	Resize(cols, rows int) error
}

// Dialer opens shells on remote hosts.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Shell, error)
}

// Info describes a live session.
type Info struct {
	ID       string    `json:"id"`
	HostName string    `json:"host_name"`
	Address  string    `json:"address"`
	User     string    `json:"user"`
	OpenedAt time.Time `json:"opened_at"`
}
