package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

// MemoryStore keeps assignments and applied mutations in memory. It backs the
// "memory" remote driver and the package tests.
type MemoryStore struct {
	mu          sync.Mutex
	assignments map[string]*model.Assignment
	tables      map[string]bool
	applied     []model.Mutation
	records     map[string]map[string]map[string]any

	// FailFetch and FailApply, when set, are returned instead of doing the work.
	FailFetch error
	FailApply func(model.Mutation) error

	fetches int
	applies int
}

func NewMemoryStore(tables []string) *MemoryStore {
	t := make(map[string]bool, len(tables))
	for _, name := range tables {
		t[name] = true
	}
	return &MemoryStore{
		assignments: map[string]*model.Assignment{},
		tables:      t,
		records:     map[string]map[string]map[string]any{},
	}
}

// SetAssignment replaces what FetchAssignment returns for code. nil removes
// the device.
func (s *MemoryStore) SetAssignment(code string, a *model.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a == nil {
		delete(s.assignments, code)
		return
	}
	s.assignments[code] = a
}

func (s *MemoryStore) SetFailFetch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailFetch = err
}

func (s *MemoryStore) SetFailApply(fn func(model.Mutation) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailApply = fn
}

func (s *MemoryStore) FetchAssignment(ctx context.Context, code string) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FailFetch != nil {
		return nil, s.FailFetch
	}
	a, ok := s.assignments[code]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	out := *a
	out.Media = make(map[string]model.Media, len(a.Media))
	for k, v := range a.Media {
		out.Media[k] = v
	}
	return &out, nil
}

func (s *MemoryStore) Apply(ctx context.Context, m model.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applies++
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.tables[m.Table] {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, m.Table)
	}
	if s.FailApply != nil {
		if err := s.FailApply(m); err != nil {
			return err
		}
	}

	id, _ := m.Record["id"].(string)
	rows := s.records[m.Table]
	if rows == nil {
		rows = map[string]map[string]any{}
		s.records[m.Table] = rows
	}
	switch m.Op {
	case model.OpInsert:
		if _, exists := rows[id]; exists && id != "" {
			// duplicate delivery
			break
		}
		rows[id] = m.Record
	case model.OpUpdate:
		if row, ok := rows[id]; ok {
			for k, v := range m.Record {
				row[k] = v
			}
		}
	case model.OpDelete:
		delete(rows, id)
	default:
		return fmt.Errorf("%w: op %q", ErrUnknownTarget, m.Op)
	}
	s.applied = append(s.applied, m)
	return nil
}

// Applied returns successfully applied mutations in order.
func (s *MemoryStore) Applied() []model.Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Mutation(nil), s.applied...)
}

// Calls returns how many fetch and apply calls were made, including failed ones.
func (s *MemoryStore) Calls() (fetches, applies int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches, s.applies
}
