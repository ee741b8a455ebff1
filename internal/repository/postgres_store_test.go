package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"doc-approval/backend/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool), "migrations are idempotent")

	store := NewPostgresStore(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("Save and Get", func(t *testing.T) {
		inst := &models.Instance{
			ID:              uuid.NewString(),
			DocumentID:      "doc-1",
			WorkflowID:      "wf",
			WorkflowVersion: 1,
			OrganizationID:  "org-1",
			CurrentStageID:  "1",
			Active:          true,
			Lifecycle:       1,
			Metadata:        map[string]any{"startedBy": "u1"},
			StartedAt:       now,
			UpdatedAt:       now,
		}
		err := store.WithinDocument(ctx, "doc-1", func(ctx context.Context, tx InstanceTx) error {
			if err := tx.SaveInstance(ctx, inst); err != nil {
				return err
			}
			return tx.AppendHistory(ctx, &models.HistoryEntry{
				ID: uuid.NewString(), InstanceID: inst.ID, Lifecycle: 1, StageID: "1",
				Action: "started", PerformedBy: "u1", Timestamp: now,
			})
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), inst.Version)

		got, err := store.GetInstance(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, inst.ID, got.ID)
		assert.Equal(t, "1", got.CurrentStageID)
		assert.Equal(t, "u1", got.Metadata["startedBy"])
		assert.Nil(t, got.Distribution)

		history, err := store.History(ctx, "doc-1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, int64(1), history[0].Sequence)
	})

	t.Run("Rolled back unit of work leaves no trace", func(t *testing.T) {
		err := store.WithinDocument(ctx, "doc-1", func(ctx context.Context, tx InstanceTx) error {
			inst, err := tx.Instance(ctx)
			if err != nil {
				return err
			}
			inst.CurrentStageID = "2"
			if err := tx.SaveInstance(ctx, inst); err != nil {
				return err
			}
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		got, err := store.GetInstance(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "1", got.CurrentStageID)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("Stale version is rejected", func(t *testing.T) {
		stale, err := store.GetInstance(ctx, "doc-1")
		require.NoError(t, err)
		stale.Version = 42
		err = store.WithinDocument(ctx, "doc-1", func(ctx context.Context, tx InstanceTx) error {
			return tx.SaveInstance(ctx, stale)
		})
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("Concurrent units of work serialize per document", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.WithinDocument(ctx, "doc-1", func(ctx context.Context, tx InstanceTx) error {
					inst, err := tx.Instance(ctx)
					if err != nil {
						return err
					}
					inst.Metadata["n"] = inst.Version
					if err := tx.SaveInstance(ctx, inst); err != nil {
						return err
					}
					return tx.AppendHistory(ctx, &models.HistoryEntry{
						ID: uuid.NewString(), InstanceID: inst.ID, Lifecycle: 1, StageID: "1",
						Action: "touch", PerformedBy: "u1", Timestamp: time.Now(),
					})
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.GetInstance(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(9), got.Version)

		history, err := store.History(ctx, "doc-1")
		require.NoError(t, err)
		require.Len(t, history, 9)
		for i, e := range history {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	})

	t.Run("History rows cannot be updated", func(t *testing.T) {
		_, err := pool.Exec(ctx, "UPDATE workflow_history SET action = 'tampered' WHERE document_id = 'doc-1'")
		assert.Error(t, err)
	})

	t.Run("List filters by organization", func(t *testing.T) {
		items, total, err := store.ListInstances(ctx, models.InstanceFilter{OrganizationID: "org-1", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, items, 1)

		_, total, err = store.ListInstances(ctx, models.InstanceFilter{OrganizationID: "other"})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("Definitions are immutable once published", func(t *testing.T) {
		g := &models.StageGraph{ID: "wf", Name: "WF", Version: 1, Stages: []models.Stage{{ID: "1", Name: "Draft", Order: 1}}}
		require.NoError(t, store.SaveDefinition(ctx, g))
		assert.ErrorIs(t, store.SaveDefinition(ctx, g), ErrDefinitionExists)

		graphs, err := store.ListDefinitions(ctx)
		require.NoError(t, err)
		require.Len(t, graphs, 1)
		assert.Equal(t, "Draft", graphs[0].Stages[0].Name)
	})
}
