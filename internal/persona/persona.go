// Package persona manages the role descriptions that are injected into the
// model's system prompt.
package persona

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownPersona is returned when an id does not name a known persona.
var ErrUnknownPersona = errors.New("persona: unknown persona")

// Persona is a named role description.
type Persona struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// Catalog looks personas up by id.
type Catalog interface {
	Get(ctx context.Context, id string) (Persona, error)
	List(ctx context.Context) ([]Persona, error)
}

// Defaults returns the built-in personas.
func Defaults() []Persona {
	return []Persona{
		{
			ID:    "1",
			Title: "Linux operations expert",
			Content: "You are an experienced Linux operations engineer who diagnoses system faults, " +
				"tunes performance and manages network services. Keep answers short and give concrete commands.",
		},
		{
			ID:    "2",
			Title: "Code explainer",
			Content: "You are a code expert. Explain what the code or commands on screen do, " +
				"their risks, and how they could be improved.",
		},
		{
			ID:    "3",
			Title: "Log analyst",
			Content: "You analyse system logs. Find the cause of the errors in the log excerpts " +
				"you are given and propose a fix.",
		},
	}
}

// Set is an in-memory Catalog.
type Set struct {
	mu       sync.RWMutex
	personas map[string]Persona
}

// NewSet creates a Set holding personas. Later entries replace earlier ones
// with the same id.
func NewSet(personas []Persona) *Set {
	s := &Set{personas: make(map[string]Persona, len(personas))}
	for _, p := range personas {
		s.personas[p.ID] = p
	}
	return s
}

// Get returns the persona with the given id.
func (s *Set) Get(_ context.Context, id string) (Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}
	return p, nil
}

// List returns all personas ordered by id.
func (s *Set) List(_ context.Context) ([]Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put adds or replaces a persona.
func (s *Set) Put(p Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[p.ID] = p
}
