package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrPlanNotFound is returned when a source has no plan for the requested id.
var ErrPlanNotFound = errors.New("plan not found")

// Source resolves a plan id to its ordered work items.
type Source interface {
	WorkItems(ctx context.Context, planID string) ([]WorkItem, error)
}

// DirSource looks plans up as files named <planID>.<ext> in a directory.
type DirSource struct {
	Dir string
}

var planExtensions = []string{".yaml", ".yml", ".json", ".hcl"}

// WorkItems implements Source.
func (s DirSource) WorkItems(ctx context.Context, planID string) ([]WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, ext := range planExtensions {
		path := filepath.Join(s.Dir, planID+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		p, err := Load(path)
		if err != nil {
			return nil, err
		}
		if p.ID != planID {
			return nil, fmt.Errorf("plan file %s declares id %q, expected %q", path, p.ID, planID)
		}
		return p.Items, nil
	}

	return nil, fmt.Errorf("%w: %q in %s", ErrPlanNotFound, planID, s.Dir)
}

// MemorySource holds plans in memory.
type MemorySource struct {
	mu    sync.RWMutex
	plans map[string][]WorkItem
}

// NewMemorySource creates a source pre-populated with the given plans.
func NewMemorySource(plans ...*Plan) *MemorySource {
	s := &MemorySource{plans: make(map[string][]WorkItem)}
	for _, p := range plans {
		s.Put(p)
	}
	return s
}

// Put adds or replaces a plan.
func (s *MemorySource) Put(p *Plan) {
	items := append([]WorkItem(nil), p.Items...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = items
}

// WorkItems implements Source.
func (s *MemorySource) WorkItems(_ context.Context, planID string) ([]WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlanNotFound, planID)
	}
	return append([]WorkItem(nil), items...), nil
}
