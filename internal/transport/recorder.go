package transport

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/zulandar/shellyard/internal/models"
	"gorm.io/gorm"
)

// DefaultFlushInterval is the interval between periodic output flushes.
const DefaultFlushInterval = 5 * time.Second

// Recorder buffers a session's raw terminal output and periodically flushes
// it to output_logs. It is an io.Writer.
type Recorder struct {
	sessionID string

	mu      sync.Mutex
	buf     bytes.Buffer
	writeFn func(models.OutputLog) error
}

// NewRecorder creates a Recorder that flushes to the DB via db.Create.
func NewRecorder(db *gorm.DB, sessionID string) *Recorder {
	return &Recorder{
		sessionID: sessionID,
		writeFn: func(log models.OutputLog) error {
			return db.Create(&log).Error
		},
	}
}

// Write appends bytes to the internal buffer.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Flush writes accumulated output as one OutputLog row and resets the buffer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf.Len() == 0 {
		return nil
	}

	content := r.buf.String()
	r.buf.Reset()

	return r.writeFn(models.OutputLog{
		SessionID: r.sessionID,
		Content:   content,
		Bytes:     len(content),
		CreatedAt: time.Now(),
	})
}

// Close performs a final flush.
func (r *Recorder) Close() error {
	return r.Flush()
}

// Run copies sub's output into the recorder, flushing every interval, until
// the session ends or ctx is cancelled. It always flushes before returning.
func (r *Recorder) Run(ctx context.Context, sub *Subscription, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return r.Close()
		case chunk, ok := <-sub.Chunks():
			if !ok {
				return r.Close()
			}
			r.Write(chunk)
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				return err
			}
		}
	}
}
