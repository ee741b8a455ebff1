package workflow

import (
	"context"
	"sync"
	"testing"

	"doc-approval/backend/internal/repository"
	"doc-approval/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_StartCreatesInstanceAtInitialStage(t *testing.T) {
	h := newHarness(t)
	inst := h.start(t, "doc")

	assert.Equal(t, "1", inst.CurrentStageID)
	assert.True(t, inst.Active)
	assert.Equal(t, 1, inst.Lifecycle)
	assert.Equal(t, "pipeline", inst.WorkflowID)
	assert.Equal(t, 1, inst.WorkflowVersion)
	assert.Equal(t, "ao", inst.Metadata["startedBy"])
	assert.Equal(t, "org", inst.OrganizationID)

	entries, err := h.ledger.Entries(context.Background(), "doc")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, HistoryStarted, entries[0].Action)
	assert.Equal(t, "Draft", entries[0].StageName)
	assert.Equal(t, "ao", entries[0].PerformedBy)
}

func TestManager_StartRejectsActiveInstance(t *testing.T) {
	h := newHarness(t)
	h.start(t, "doc")

	_, err := h.manager.Start(context.Background(), "doc", "pipeline", officer)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = h.manager.Start(context.Background(), "doc", "other", officer)
	assert.ErrorIs(t, err, ErrConflict, "conflict regardless of the requested workflow")
	assert.Equal(t, 1, h.historyLen(t, "doc"))
}

func TestManager_StartValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.manager.Start(ctx, "", "pipeline", officer)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.manager.Start(ctx, "doc", "pipeline", models.Actor{ID: "x", Role: "janitor"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.manager.Start(ctx, "doc", "missing", officer)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_AdvanceAlongEdge(t *testing.T) {
	h := newHarness(t)
	h.start(t, "doc")

	inst, err := h.manager.Advance(context.Background(), "doc", "2", "Submit to PCM", map[string]any{"note": "ready"}, officer)
	require.NoError(t, err)
	assert.Equal(t, "2", inst.CurrentStageID)
	assert.Equal(t, "Submit to PCM", inst.Metadata["lastAction"])
	assert.Equal(t, "ready", inst.Metadata["note"])
	assert.NotEmpty(t, inst.Metadata["lastActionAt"])
	assert.Equal(t, int64(2), inst.Version)

	entries, err := h.ledger.Entries(context.Background(), "doc")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "t1", entries[1].Action)
	assert.Equal(t, "2", entries[1].StageID)
	assert.Equal(t, "PCM Review", entries[1].StageName)
	assert.Equal(t, "1", entries[1].Metadata["from"])
}

func TestManager_AdvanceRejections(t *testing.T) {
	h := newHarness(t)
	h.start(t, "doc")
	ctx := context.Background()

	_, err := h.manager.Advance(ctx, "doc", "4", "", nil, officer)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.manager.Advance(ctx, "doc", "2", "", nil, pcm)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "requires ACTION_OFFICER role at this stage", err.(*Error).Reason)

	_, err = h.manager.Advance(ctx, "doc", "9", "", nil, admin)
	assert.ErrorIs(t, err, ErrInvalidTransition, "admins still cannot leave the graph")

	_, err = h.manager.Advance(ctx, "doc", "", "", nil, officer)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.manager.Advance(ctx, "missing", "2", "", nil, officer)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, h.historyLen(t, "doc"), "failed calls append nothing")
	inst, err := h.manager.GetInstance(ctx, "doc", admin)
	require.NoError(t, err)
	assert.Equal(t, "1", inst.CurrentStageID)
}

func TestManager_AdvanceResolvesTargetFromAction(t *testing.T) {
	h := newHarness(t)
	h.start(t, "doc")

	inst, err := h.manager.Advance(context.Background(), "doc", "", "submit to pcm", nil, officer)
	require.NoError(t, err)
	assert.Equal(t, "2", inst.CurrentStageID)

	_, err = h.manager.Advance(context.Background(), "doc", "", "Teleport", nil, pcm)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestManager_AdminOverrideIsLoggedDistinctly(t *testing.T) {
	h := newHarness(t)
	h.start(t, "doc")

	inst, err := h.manager.Advance(context.Background(), "doc", "5", "", nil, admin)
	require.NoError(t, err)
	assert.Equal(t, "5", inst.CurrentStageID)

	entries, err := h.ledger.Entries(context.Background(), "doc")
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, HistoryAdminOverride, last.Action)
	assert.Equal(t, "admin", last.PerformedBy)
	assert.Equal(t, "ADMIN", last.Metadata["role"])

	// An admin taking a real edge is recorded under the edge's id.
	_, err = h.manager.Advance(context.Background(), "doc", "6", "", nil, admin)
	require.NoError(t, err)
	entries, err = h.ledger.Entries(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, "t5", entries[len(entries)-1].Action)
}

func TestManager_TerminalCompletion(t *testing.T) {
	h := newHarness(t)
	h.at(t, "doc", "6")
	ctx := context.Background()

	inst, err := h.manager.Advance(ctx, "doc", "", "Publish", nil, publisher)
	require.NoError(t, err)
	assert.True(t, inst.Active, "completion requires completeWorkflow")

	inst, err = h.manager.Advance(ctx, "doc", "", "Publish", map[string]any{"completeWorkflow": true}, publisher)
	require.NoError(t, err)
	assert.False(t, inst.Active)
	require.NotNil(t, inst.CompletedAt)
	assert.Equal(t, "6", inst.CurrentStageID)

	_, err = h.manager.Advance(ctx, "doc", "", "Publish", nil, publisher)
	assert.ErrorIs(t, err, ErrNotFound, "inactive instances cannot be advanced")
}

func TestManager_ResetPreservesHistoryAndAllowsRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.at(t, "doc", "3")
	before := h.historyLen(t, "doc")

	require.NoError(t, h.manager.Reset(ctx, "doc", coordinator))
	inst, err := h.manager.GetInstance(ctx, "doc", admin)
	require.NoError(t, err)
	assert.False(t, inst.Active)
	assert.Empty(t, inst.CurrentStageID)
	assert.Equal(t, before+1, h.historyLen(t, "doc"))

	require.NoError(t, h.manager.Reset(ctx, "doc", coordinator), "reset is idempotent")
	assert.Equal(t, before+1, h.historyLen(t, "doc"))
	require.NoError(t, h.manager.Reset(ctx, "never-started", coordinator))

	restarted, err := h.manager.Start(ctx, "doc", "pipeline", officer)
	require.NoError(t, err)
	assert.Equal(t, 2, restarted.Lifecycle)
	assert.Equal(t, inst.ID, restarted.ID)
	assert.Equal(t, "1", restarted.CurrentStageID)

	second, err := h.ledger.Lifecycle(ctx, "doc", 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, HistoryStarted, second[0].Action)
	assert.Equal(t, before+2, h.historyLen(t, "doc"))
}

func TestManager_AvailableActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t, "doc")

	actions, err := h.manager.AvailableActions(ctx, "doc", officer)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, permitted(actions))

	require.NoError(t, h.manager.Reset(ctx, "doc", officer))
	actions, err = h.manager.AvailableActions(ctx, "doc", officer)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestManager_ListInstancesScopesToOrganization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t, "a")
	h.start(t, "b")
	_, err := h.manager.Start(ctx, "c", "pipeline", models.Actor{ID: "x", Role: models.RoleActionOfficer, OrganizationID: "elsewhere"})
	require.NoError(t, err)

	page, err := h.manager.ListInstances(ctx, models.InstanceFilter{OrganizationID: "elsewhere"}, officer)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total, "non-admins cannot read other organizations")
	assert.Equal(t, DefaultPageSize, page.Limit)

	page, err = h.manager.ListInstances(ctx, models.InstanceFilter{Limit: 1000}, admin)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, MaxPageSize, page.Limit)
}

func TestManager_ConcurrentAdvanceSerializes(t *testing.T) {
	h := newHarness(t)
	h.start(t, "doc")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.manager.Advance(context.Background(), "doc", "2", "", nil, officer)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition, "losers see the document already at stage 2")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 2, h.historyLen(t, "doc"))
}

type failingStore struct {
	*repository.MemoryStore
}

func (f failingStore) WithinDocument(ctx context.Context, documentID string, fn func(ctx context.Context, tx repository.InstanceTx) error) error {
	return f.MemoryStore.WithinDocument(ctx, documentID, func(ctx context.Context, tx repository.InstanceTx) error {
		return fn(ctx, failingTx{tx})
	})
}

type failingTx struct {
	repository.InstanceTx
}

func (failingTx) AppendHistory(context.Context, *models.HistoryEntry) error {
	return assert.AnError
}

func TestManager_TornWriteImpossible(t *testing.T) {
	store := repository.NewMemoryStore()
	g := pipeline()
	ok := NewManager(store, staticDefs{g.ID: g})
	_, err := ok.Start(context.Background(), "doc", g.ID, officer)
	require.NoError(t, err)

	broken := NewManager(failingStore{store}, staticDefs{g.ID: g})
	_, err = broken.Advance(context.Background(), "doc", "2", "", nil, officer)
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, KindOf(err))

	inst, err := store.GetInstance(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, "1", inst.CurrentStageID, "instance write rolled back with the failed history append")
}

func TestOrganizationScoping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t, "doc")
	outsider := models.Actor{ID: "ao2", Role: models.RoleActionOfficer, OrganizationID: "other-org"}
	outsiderAdmin := models.Actor{ID: "root", Role: models.RoleAdmin, OrganizationID: "other-org"}

	_, err := h.manager.Advance(ctx, "doc", "2", "", nil, outsider)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.manager.GetInstance(ctx, "doc", outsider)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.manager.AvailableActions(ctx, "doc", outsider)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.manager.Start(ctx, "doc", h.graph.ID, outsider)
	assert.ErrorIs(t, err, ErrUnauthorized)

	entries, err := h.manager.History(ctx, "doc", outsider)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, h.manager.Reset(ctx, "doc", outsider))
	inst, err := h.manager.GetInstance(ctx, "doc", officer)
	require.NoError(t, err)
	assert.True(t, inst.Active)
	assert.Equal(t, "1", inst.CurrentStageID)
	assert.Equal(t, 1, h.historyLen(t, "doc"))

	entries, err = h.manager.History(ctx, "doc", outsiderAdmin)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	_, err = h.manager.Advance(ctx, "doc", "2", "", nil, outsiderAdmin)
	assert.NoError(t, err)
}

func TestAdvance_RejectsNonCanonicalPhaseIDs(t *testing.T) {
	h := newHarness(t)
	h.at(t, "doc", "3")
	for _, target := range []string{"3.05", "3.+5"} {
		_, err := h.manager.Advance(context.Background(), "doc", target, "", nil, admin)
		assert.ErrorIs(t, err, ErrInvalidTransition, target)
	}
	inst, err := h.manager.GetInstance(context.Background(), "doc", admin)
	require.NoError(t, err)
	assert.Equal(t, "3", inst.CurrentStageID)
}
