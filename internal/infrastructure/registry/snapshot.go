package registry

import (
	"context"
	"fmt"
	"sync"

	"FiveSBot/internal/domain"
	"FiveSBot/internal/ports"
)

// Snapshot holds the immutable roster currently in effect. The core reads
// it concurrently; Reload swaps the whole mapping at once.
type Snapshot struct {
	mu     sync.RWMutex
	source ports.RegistrySource

	entities []domain.Entity
	byID     map[string]domain.Entity
}

// NewSnapshot loads the initial roster from the source.
func NewSnapshot(ctx context.Context, source ports.RegistrySource) (*Snapshot, error) {
	s := &Snapshot{source: source}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the source and atomically replaces the roster.
func (s *Snapshot) Reload(ctx context.Context) error {
	entities, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}

	byID := make(map[string]domain.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	s.mu.Lock()
	s.entities = entities
	s.byID = byID
	s.mu.Unlock()
	return nil
}

// Entities returns the current roster.
func (s *Snapshot) Entities() []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Entity(nil), s.entities...)
}

// Lookup resolves one entity id; ok is false for ids not under tracking.
func (s *Snapshot) Lookup(id string) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// Size returns the number of tracked entities.
func (s *Snapshot) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}
