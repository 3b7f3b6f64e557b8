package transcript

import (
	"context"
	"fmt"

	"github.com/zulandar/shellyard/internal/models"
	"gorm.io/gorm"
)

// Default configuration values for DBStore.
const DefaultMaxEntriesPerSession = 5000

// DBStore persists transcripts as TranscriptEntry rows. Each session keeps
// its most recent MaxEntries rows; older rows are pruned as new ones arrive.
type DBStore struct {
	db         *gorm.DB
	maxEntries int
}

// DBStoreOpts holds parameters for creating a DBStore.
type DBStoreOpts struct {
	DB         *gorm.DB
	MaxEntries int // rows retained per session, defaults to DefaultMaxEntriesPerSession
}

// NewDBStore creates a DBStore.
func NewDBStore(opts DBStoreOpts) (*DBStore, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("transcript: store: db is required")
	}
	max := opts.MaxEntries
	if max <= 0 {
		max = DefaultMaxEntriesPerSession
	}
	return &DBStore{db: opts.DB, maxEntries: max}, nil
}

// Append records msg as the next entry of the session's transcript and
// prunes entries older than the retention window.
func (s *DBStore) Append(ctx context.Context, sessionID string, generation uint64, msg Message) error {
	seq, err := s.nextSequence(ctx, sessionID)
	if err != nil {
		return err
	}

	entry := models.TranscriptEntry{
		SessionID:  sessionID,
		Sequence:   seq,
		Role:       string(msg.Role),
		Content:    msg.Content,
		Hidden:     msg.Hidden,
		Generation: generation,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("transcript: append: %w", err)
	}

	if cutoff := seq - s.maxEntries; cutoff > 0 {
		if err := s.db.WithContext(ctx).
			Where("session_id = ? AND sequence <= ?", sessionID, cutoff).
			Delete(&models.TranscriptEntry{}).Error; err != nil {
			return fmt.Errorf("transcript: prune: %w", err)
		}
	}
	return nil
}

// Load returns a session's transcript ordered by sequence.
func (s *DBStore) Load(ctx context.Context, sessionID string) ([]Message, error) {
	return s.LoadRecent(ctx, sessionID, 0)
}

// LoadRecent returns the last limit entries of a session's transcript in
// sequence order. A limit of zero or less returns every retained entry.
func (s *DBStore) LoadRecent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	var entries []models.TranscriptEntry
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if limit > 0 {
		q = q.Order("sequence DESC").Limit(limit)
	} else {
		q = q.Order("sequence")
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("transcript: load: %w", err)
	}
	if limit > 0 {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	msgs := make([]Message, len(entries))
	for i, e := range entries {
		msgs[i] = Message{Role: Role(e.Role), Content: e.Content, Hidden: e.Hidden}
	}
	return msgs, nil
}

// Count returns the number of entries recorded for a session.
func (s *DBStore) Count(ctx context.Context, sessionID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.TranscriptEntry{}).
		Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("transcript: count: %w", err)
	}
	return int(count), nil
}

func (s *DBStore) nextSequence(ctx context.Context, sessionID string) (int, error) {
	var maxSeq int
	result := s.db.WithContext(ctx).Model(&models.TranscriptEntry{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(sequence), 0)").Scan(&maxSeq)
	if result.Error != nil {
		return 0, fmt.Errorf("transcript: next sequence: %w", result.Error)
	}
	return maxSeq + 1, nil
}
