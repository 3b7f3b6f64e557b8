package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownRunner is returned when no runner drives the given session.
var ErrUnknownRunner = errors.New("automation: no runner for session")

// Manager keeps the runners of a host process by session id.
type Manager struct {
	log *zap.Logger

	mu      sync.RWMutex
	runners map[string]*Runner
	wg      sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{log: logger.Named("automation"), runners: make(map[string]*Runner)}
}

// Start registers r and runs it until ctx is cancelled or its session ends,
// after which it is removed.
func (m *Manager) Start(ctx context.Context, r *Runner) error {
	id := r.SessionID()
	m.mu.Lock()
	if _, exists := m.runners[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("automation: runner for session %s already started", id)
	}
	m.runners[id] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := r.Run(ctx); err != nil {
			m.log.Error("automation: runner exited", zap.String("session", id), zap.Error(err))
		}
		m.mu.Lock()
		if m.runners[id] == r {
			delete(m.runners, id)
		}
		m.mu.Unlock()
	}()
	return nil
}

// Get returns the runner for a session.
func (m *Manager) Get(sessionID string) (*Runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runners[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRunner, sessionID)
	}
	return r, nil
}

// ByHost returns the runner driving a session on the named host. When several
// sessions share a host the one with the lowest session id wins.
func (m *Manager) ByHost(host string) (*Runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *Runner
	for id, r := range m.runners {
		if r.cfg.Host != host {
			continue
		}
		if found == nil || id < found.SessionID() {
			found = r
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: host %s", ErrUnknownRunner, host)
	}
	return found, nil
}

// List returns the status of every runner, ordered by session id.
func (m *Manager) List() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.runners))
	for _, r := range m.runners {
		out = append(out, r.Status())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Wait blocks until every started runner has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
