package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/shellyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is a Catalog backed by the personas table.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("persona: store: db is required")
	}
	return &Store{db: db}, nil
}

// Get returns the persona with the given id.
func (s *Store) Get(ctx context.Context, id string) (Persona, error) {
	var row models.Persona
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Persona{}, fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}
	if err != nil {
		return Persona{}, fmt.Errorf("persona: get %q: %w", id, err)
	}
	return fromModel(row), nil
}

// List returns all personas ordered by id.
func (s *Store) List(ctx context.Context) ([]Persona, error) {
	var rows []models.Persona
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("persona: list: %w", err)
	}
	out := make([]Persona, len(rows))
	for i, r := range rows {
		out[i] = fromModel(r)
	}
	return out, nil
}

// Add inserts a new persona. The id must not already exist.
func (s *Store) Add(ctx context.Context, p Persona) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("persona: add: id is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("persona: add: title is required")
	}
	row := models.Persona{ID: p.ID, Title: p.Title, Content: p.Content}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("persona: add %q: %w", p.ID, err)
	}
	return nil
}

// Delete removes a persona. Built-in personas cannot be deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	var row models.Persona
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}
	if err != nil {
		return fmt.Errorf("persona: delete %q: %w", id, err)
	}
	if row.Builtin {
		return fmt.Errorf("persona: delete %q: built-in personas cannot be removed", id)
	}
	if err := s.db.WithContext(ctx).Delete(&row).Error; err != nil {
		return fmt.Errorf("persona: delete %q: %w", id, err)
	}
	return nil
}

// Seed upserts personas as built-ins, keeping the catalog in step with
// configuration.
func (s *Store) Seed(ctx context.Context, personas []Persona) error {
	for _, p := range personas {
		row := models.Persona{ID: p.ID, Title: p.Title, Content: p.Content, Builtin: true}
		result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "content", "builtin", "updated_at"}),
		}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("persona: seed %q: %w", p.ID, result.Error)
		}
	}
	return nil
}

func fromModel(m models.Persona) Persona {
	return Persona{ID: m.ID, Title: m.Title, Content: m.Content}
}
