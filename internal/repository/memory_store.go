package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"doc-approval/backend/pkg/models"
)

// MemoryStore is an in-process InstanceStore and DefinitionStore used for
// development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	locks       map[string]*sync.Mutex
	instances   map[string]*models.Instance
	history     map[string][]models.HistoryEntry
	definitions map[string]*models.StageGraph
}

var (
	_ InstanceStore   = (*MemoryStore)(nil)
	_ DefinitionStore = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:       make(map[string]*sync.Mutex),
		instances:   make(map[string]*models.Instance),
		history:     make(map[string][]models.HistoryEntry),
		definitions: make(map[string]*models.StageGraph),
	}
}

func (s *MemoryStore) documentLock(documentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[documentID] = l
	}
	return l
}

// WithinDocument implements InstanceStore. Writes are buffered and applied
// only when fn returns nil.
func (s *MemoryStore) WithinDocument(ctx context.Context, documentID string, fn func(ctx context.Context, tx InstanceTx) error) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{store: s, documentID: documentID}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// GetInstance implements InstanceStore.
func (s *MemoryStore) GetInstance(_ context.Context, documentID string) (*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return inst.Clone(), nil
}

// ListInstances implements InstanceStore. Results are ordered by most recent
// update first.
func (s *MemoryStore) ListInstances(_ context.Context, filter models.InstanceFilter) ([]*models.Instance, int, error) {
	s.mu.RLock()
	var matched []*models.Instance
	for _, inst := range s.instances {
		if matches(inst, filter) {
			matched = append(matched, inst.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].DocumentID < matched[j].DocumentID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	total := len(matched)
	if filter.Offset >= total {
		return []*models.Instance{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func matches(inst *models.Instance, f models.InstanceFilter) bool {
	if f.OrganizationID != "" && inst.OrganizationID != f.OrganizationID {
		return false
	}
	if f.WorkflowID != "" && inst.WorkflowID != f.WorkflowID {
		return false
	}
	if f.StageID != "" && inst.CurrentStageID != f.StageID {
		return false
	}
	if f.Active != nil && inst.Active != *f.Active {
		return false
	}
	return true
}

// History implements HistoryReader.
func (s *MemoryStore) History(_ context.Context, documentID string) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[documentID]
	out := make([]models.HistoryEntry, len(entries))
	for i, e := range entries {
		e.Metadata = models.CloneMetadata(e.Metadata)
		out[i] = e
	}
	return out, nil
}

// Ping implements InstanceStore.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// SaveDefinition implements DefinitionStore.
func (s *MemoryStore) SaveDefinition(_ context.Context, graph *models.StageGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := definitionKey(graph.ID, graph.Version)
	if _, ok := s.definitions[key]; ok {
		return ErrDefinitionExists
	}
	clone := *graph
	s.definitions[key] = &clone
	return nil
}

func definitionKey(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

// ListDefinitions implements DefinitionStore.
func (s *MemoryStore) ListDefinitions(context.Context) ([]*models.StageGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.StageGraph, 0, len(s.definitions))
	for _, g := range s.definitions {
		clone := *g
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID == out[j].ID {
			return out[i].Version < out[j].Version
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memoryTx struct {
	store      *MemoryStore
	documentID string
	staged     *models.Instance
	baseline   int64
	entries    []models.HistoryEntry
}

func (t *memoryTx) Instance(ctx context.Context) (*models.Instance, error) {
	if t.staged != nil {
		return t.staged.Clone(), nil
	}
	return t.store.GetInstance(ctx, t.documentID)
}

func (t *memoryTx) SaveInstance(_ context.Context, inst *models.Instance) error {
	if t.staged == nil {
		t.baseline = inst.Version
	} else if inst.Version != t.staged.Version {
		return ErrVersionConflict
	}
	inst.Version++
	t.staged = inst.Clone()
	return nil
}

func (t *memoryTx) AppendHistory(_ context.Context, entry *models.HistoryEntry) error {
	t.store.mu.RLock()
	next := int64(len(t.store.history[t.documentID]) + len(t.entries) + 1)
	t.store.mu.RUnlock()
	entry.Sequence = next
	e := *entry
	e.Metadata = models.CloneMetadata(entry.Metadata)
	t.entries = append(t.entries, e)
	return nil
}

func (t *memoryTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.staged != nil {
		var current int64
		if existing, ok := s.instances[t.documentID]; ok {
			current = existing.Version
		}
		if current != t.baseline {
			return ErrVersionConflict
		}
		s.instances[t.documentID] = t.staged
	}
	s.history[t.documentID] = append(s.history[t.documentID], t.entries...)
	return nil
}
