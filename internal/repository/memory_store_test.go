package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"doc-approval/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedInstance(t *testing.T, s *MemoryStore, doc, org string, updated time.Time) {
	t.Helper()
	err := s.WithinDocument(context.Background(), doc, func(ctx context.Context, tx InstanceTx) error {
		return tx.SaveInstance(ctx, &models.Instance{
			ID: "i-" + doc, DocumentID: doc, WorkflowID: "wf", OrganizationID: org,
			CurrentStageID: "1", Active: true, Lifecycle: 1, Metadata: map[string]any{}, UpdatedAt: updated,
		})
	})
	require.NoError(t, err)
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.WithinDocument(ctx, "doc", func(ctx context.Context, tx InstanceTx) error {
		require.NoError(t, tx.SaveInstance(ctx, &models.Instance{ID: "i", DocumentID: "doc", Active: true}))
		require.NoError(t, tx.AppendHistory(ctx, &models.HistoryEntry{Action: "started"}))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = s.GetInstance(ctx, "doc")
	assert.ErrorIs(t, err, ErrNotFound)
	history, err := s.History(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMemoryStore_VersionAndSequence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedInstance(t, s, "doc", "org", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinDocument(ctx, "doc", func(ctx context.Context, tx InstanceTx) error {
				inst, err := tx.Instance(ctx)
				if err != nil {
					return err
				}
				if err := tx.SaveInstance(ctx, inst); err != nil {
					return err
				}
				return tx.AppendHistory(ctx, &models.HistoryEntry{Action: "touch"})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	inst, err := s.GetInstance(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(21), inst.Version)

	history, err := s.History(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, history, 20)
	for i, e := range history {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestMemoryStore_StaleVersionRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedInstance(t, s, "doc", "org", time.Now())

	err := s.WithinDocument(ctx, "doc", func(ctx context.Context, tx InstanceTx) error {
		return tx.SaveInstance(ctx, &models.Instance{ID: "i-doc", DocumentID: "doc", Version: 7})
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedInstance(t, s, "doc", "org", time.Now())

	inst, err := s.GetInstance(ctx, "doc")
	require.NoError(t, err)
	inst.Metadata["mutated"] = true
	inst.CurrentStageID = "9"

	again, err := s.GetInstance(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "1", again.CurrentStageID)
	assert.NotContains(t, again.Metadata, "mutated")
}

func TestMemoryStore_ListInstances(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedInstance(t, s, "a", "org-1", base)
	seedInstance(t, s, "b", "org-1", base.Add(time.Hour))
	seedInstance(t, s, "c", "org-2", base.Add(2*time.Hour))

	items, total, err := s.ListInstances(ctx, models.InstanceFilter{OrganizationID: "org-1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].DocumentID)

	items, _, err = s.ListInstances(ctx, models.InstanceFilter{OrganizationID: "org-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].DocumentID)

	inactive := false
	_, total, err = s.ListInstances(ctx, models.InstanceFilter{Active: &inactive})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestMemoryStore_DefinitionsImmutable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	g := &models.StageGraph{ID: "wf", Version: 1}
	require.NoError(t, s.SaveDefinition(ctx, g))
	assert.ErrorIs(t, s.SaveDefinition(ctx, g), ErrDefinitionExists)
	require.NoError(t, s.SaveDefinition(ctx, &models.StageGraph{ID: "wf", Version: 2}))

	graphs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, graphs, 2)
	assert.Equal(t, 1, graphs[0].Version)
}
