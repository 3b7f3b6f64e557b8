package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/shellyard/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Default hub parameters.
const (
	DefaultSubscriberBuffer = 256
	DefaultMaxBacklog       = 4096
	readBufferSize          = 32 * 1024
)

// Hub tracks live shells by session id.
type Hub struct {
	db      *gorm.DB
	log     *zap.Logger
	bufSize int
	backlog int

	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

type session struct {
	info  Info
	shell Shell
	done  chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// HubOpts holds parameters for creating a Hub.
type HubOpts struct {
	// DB, when set, records each session as a ShellSession row.
	DB               *gorm.DB
	Logger           *zap.Logger
	SubscriberBuffer int // defaults to DefaultSubscriberBuffer
	// MaxBacklog bounds the chunks queued for a subscriber that has stopped
	// reading. Further chunks are dropped for that subscriber only.
	MaxBacklog int // defaults to DefaultMaxBacklog
}

// NewHub creates a Hub.
func NewHub(opts HubOpts) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.SubscriberBuffer
	if size <= 0 {
		size = DefaultSubscriberBuffer
	}
	backlog := opts.MaxBacklog
	if backlog <= 0 {
		backlog = DefaultMaxBacklog
	}
	return &Hub{
		db:       opts.DB,
		log:      logger,
		bufSize:  size,
		backlog:  backlog,
		sessions: make(map[string]*session),
	}
}

// Open dials target and attaches the resulting shell.
func (h *Hub) Open(ctx context.Context, dialer Dialer, target Target) (Info, error) {
	shell, err := dialer.Dial(ctx, target)
	if err != nil {
		return Info{}, fmt.Errorf("transport: open %s: %w", target.Name, err)
	}
	return h.Attach(Info{
		ID:       target.SessionID,
		HostName: target.Name,
		Address:  target.Address(),
		User:     target.User,
	}, shell)
}

// Attach registers an already-open shell and starts pumping its output. An
// id is generated when info.ID is empty.
func (h *Hub) Attach(info Info, shell Shell) (Info, error) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	info.OpenedAt = time.Now()

	s := &session{
		info:  info,
		shell: shell,
		done:  make(chan struct{}),
		subs:  make(map[*Subscription]struct{}),
	}

	h.mu.Lock()
	if _, exists := h.sessions[info.ID]; exists {
		h.mu.Unlock()
		return Info{}, fmt.Errorf("transport: attach: session %s already exists", info.ID)
	}
	h.sessions[info.ID] = s
	h.mu.Unlock()

	if h.db != nil {
		row := models.ShellSession{
			ID:        info.ID,
			HostName:  info.HostName,
			Address:   info.Address,
			User:      info.User,
			Status:    "connected",
			CreatedAt: info.OpenedAt,
		}
		if err := h.db.Save(&row).Error; err != nil {
			h.log.Warn("transport: record session", zap.String("session", info.ID), zap.Error(err))
		}
	}

	h.wg.Add(1)
	go h.pump(s)

	h.log.Info("transport: session attached",
		zap.String("session", info.ID), zap.String("host", info.HostName))
	return info, nil
}

// pump reads the shell until it fails, fanning each chunk out to every
// subscriber, then tears the session down.
func (h *Hub) pump(s *session) {
	defer h.wg.Done()

	buf := make([]byte, readBufferSize)
	var readErr error
	for {
		n, err := s.shell.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast(chunk)
		}
		if err != nil {
			readErr = err
			break
		}
	}

	h.mu.Lock()
	delete(h.sessions, s.info.ID)
	h.mu.Unlock()

	s.shell.Close()

	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	close(s.done)
	for sub := range subs {
		sub.end()
	}

	if h.db != nil {
		now := time.Now()
		err := h.db.Model(&models.ShellSession{}).Where("id = ?", s.info.ID).
			Updates(map[string]interface{}{"status": "closed", "closed_at": now}).Error
		if err != nil {
			h.log.Warn("transport: record session close", zap.String("session", s.info.ID), zap.Error(err))
		}
	}

	if errors.Is(readErr, io.EOF) {
		h.log.Info("transport: session closed", zap.String("session", s.info.ID))
	} else {
		h.log.Warn("transport: session ended", zap.String("session", s.info.ID), zap.Error(readErr))
	}
}

// broadcast queues chunk on every subscriber. It never waits on a reader.
func (s *session) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.push(chunk)
	}
}

func (h *Hub) lookup(id string) (*session, error) {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Write sends p to the session's shell.
func (h *Hub) Write(ctx context.Context, sessionID string, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := h.lookup(sessionID)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.shell.Write(p); err != nil {
		return fmt.Errorf("transport: write %s: %w", sessionID, err)
	}
	return nil
}

// Subscribe registers a new consumer of the session's output. Every chunk
// read after this call is delivered to it in order.
func (h *Hub) Subscribe(sessionID string) (*Subscription, error) {
	s, err := h.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		ch:      make(chan []byte, h.bufSize),
		quit:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    s.done,
		session: s,
		backlog: h.backlog,
		log:     h.log.With(zap.String("session", sessionID)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}
	s.subs[sub] = struct{}{}
	go sub.forward()
	return sub, nil
}

// Resize changes the remote terminal size.
func (h *Hub) Resize(sessionID string, cols, rows int) error {
	s, err := h.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := s.shell.Resize(cols, rows); err != nil {
		return fmt.Errorf("transport: resize %s: %w", sessionID, err)
	}
	return nil
}

// Close ends a session. Subscribers see their channels closed once the
// output pump has drained.
func (h *Hub) Close(sessionID string) error {
	s, err := h.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := s.shell.Close(); err != nil {
		return fmt.Errorf("transport: close %s: %w", sessionID, err)
	}
	return nil
}

// Shutdown closes every session and waits for their pumps to exit.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	shells := make([]Shell, 0, len(h.sessions))
	for _, s := range h.sessions {
		shells = append(shells, s.shell)
	}
	h.mu.RUnlock()

	for _, sh := range shells {
		sh.Close()
	}
	h.wg.Wait()
}

// Get returns the description of a live session.
func (h *Hub) Get(sessionID string) (Info, error) {
	s, err := h.lookup(sessionID)
	if err != nil {
		return Info{}, err
	}
	return s.info, nil
}

// Sessions lists live sessions, oldest first.
func (h *Hub) Sessions() []Info {
	h.mu.RLock()
	out := make([]Info, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.info)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Subscription is one consumer's view of a session's output. Each
// subscription has its own queue, so a stalled reader does not hold up the
// others.
type Subscription struct {
	ch      chan []byte
	quit    chan struct{}
	wake    chan struct{}
	done    <-chan struct{}
	session *session
	once    sync.Once
	backlog int
	log     *zap.Logger

	qmu     sync.Mutex
	queue   [][]byte
	ended   bool
	dropped int
}

func (s *Subscription) push(chunk []byte) {
	s.qmu.Lock()
	if len(s.queue) >= s.backlog {
		s.dropped++
		if s.dropped == 1 {
			s.log.Warn("transport: subscriber backlog full, dropping output", zap.Int("backlog", s.backlog))
		}
		s.qmu.Unlock()
		return
	}
	s.queue = append(s.queue, chunk)
	s.qmu.Unlock()
	s.signal()
}

// end marks the session as finished. Chunks closes once the queue drains.
func (s *Subscription) end() {
	s.qmu.Lock()
	s.ended = true
	s.qmu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// forward moves queued chunks onto ch until the session ends or the
// subscription is closed.
func (s *Subscription) forward() {
	defer close(s.ch)
	for {
		s.qmu.Lock()
		batch := s.queue
		s.queue = nil
		ended := s.ended
		s.qmu.Unlock()

		if len(batch) == 0 {
			if ended {
				return
			}
			select {
			case <-s.wake:
			case <-s.quit:
				return
			}
			continue
		}
		for _, chunk := range batch {
			select {
			case s.ch <- chunk:
			case <-s.quit:
				return
			}
		}
	}
}

// Chunks delivers output in arrival order. It is closed when the session ends
// and every queued chunk has been delivered, or when the subscription is closed.
func (s *Subscription) Chunks() <-chan []byte {
	return s.ch
}

// Done is closed when the session ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops delivery to this subscriber. It does not close the session.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.session.mu.Lock()
		if s.session.subs != nil {
			delete(s.session.subs, s)
		}
		s.session.mu.Unlock()
		close(s.quit)
	})
}
