package workflow

import (
	"context"
	"testing"
	"time"

	"doc-approval/backend/internal/repository"
	"doc-approval/backend/pkg/models"

	"github.com/stretchr/testify/require"
)

type staticDefs map[string]*models.StageGraph

func (d staticDefs) Get(_ context.Context, id string, version int) (*models.StageGraph, error) {
	g, ok := d[id]
	if !ok || (version > 0 && g.Version != version) {
		return nil, repository.ErrNotFound
	}
	return g, nil
}

// pipeline is 1→2→3→4→5→6 with fan-out from 3 and 5 and publication at 6.
func pipeline() *models.StageGraph {
	return &models.StageGraph{
		ID:      "pipeline",
		Name:    "Pipeline",
		Version: 1,
		Stages: []models.Stage{
			{ID: "1", Name: "Draft", Kind: models.StageKindDraft, Order: 1, RequiredRoles: []models.Role{models.RoleActionOfficer}},
			{ID: "2", Name: "PCM Review", Kind: models.StageKindReview, Order: 2, RequiredRoles: []models.Role{models.RolePCM}},
			{ID: "3", Name: "First Coordination", Kind: models.StageKindDistribution, Order: 3, RequiredRoles: []models.Role{models.RoleCoordinator}},
			{ID: "4", Name: "Feedback", Kind: models.StageKindFeedbackIncorporation, Order: 4, RequiredRoles: []models.Role{models.RoleActionOfficer}},
			{ID: "5", Name: "Second Coordination", Kind: models.StageKindDistribution, Order: 5, RequiredRoles: []models.Role{models.RoleCoordinator}},
			{
				ID:              "6",
				Name:            "Publication",
				Kind:            models.StageKindPublication,
				Order:           6,
				AssignedRole:    models.RolePublisher,
				DeclaredActions: []models.Action{{ID: "publish", Label: "Publish", Effect: models.EffectPublish}},
			},
		},
		Transitions: []models.Transition{
			{ID: "t1", From: "1", To: "2", Label: "Submit to PCM"},
			{ID: "t2", From: "2", To: "3", Label: "Approve for Coordination"},
			{ID: "t3", From: "3", To: "4", Label: "Skip Coordination"},
			{ID: "t4", From: "4", To: "5", Label: "Submit for Second Coordination"},
			{ID: "t5", From: "5", To: "6", Label: "Send to Publication"},
		},
		Settings: models.Settings{
			TerminalStageID:      "6",
			AllowedFanOutOrigins: []string{"3", "5"},
		},
	}
}

var (
	admin       = models.Actor{ID: "admin", Role: models.RoleAdmin, OrganizationID: "org"}
	officer     = models.Actor{ID: "ao", Role: models.RoleActionOfficer, OrganizationID: "org"}
	pcm         = models.Actor{ID: "pcm", Role: models.RolePCM, OrganizationID: "org"}
	coordinator = models.Actor{ID: "coord", Role: models.RoleCoordinator, OrganizationID: "org"}
	leadership  = models.Actor{ID: "lead", Role: models.RoleLeadership, OrganizationID: "org"}
	publisher   = models.Actor{ID: "afdpo", Role: models.RolePublisher, OrganizationID: "org"}
	reviewer1   = models.Actor{ID: "r1", Role: models.RoleSubReviewer, OrganizationID: "org"}
	reviewer2   = models.Actor{ID: "r2", Role: models.RoleLegal, OrganizationID: "org"}
)

type harness struct {
	store       *repository.MemoryStore
	manager     *Manager
	coordinator *Coordinator
	ledger      *Ledger
	graph       *models.StageGraph
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	g := pipeline()
	store := repository.NewMemoryStore()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})}, opts...)
	m := NewManager(store, staticDefs{g.ID: g}, opts...)
	return &harness{store: store, manager: m, coordinator: NewCoordinator(m), ledger: NewLedger(store), graph: g}
}

func (h *harness) start(t *testing.T, doc string) *models.Instance {
	t.Helper()
	inst, err := h.manager.Start(context.Background(), doc, h.graph.ID, officer)
	require.NoError(t, err)
	return inst
}

// at starts doc and admin-moves it to stageID.
func (h *harness) at(t *testing.T, doc, stageID string) *models.Instance {
	t.Helper()
	h.start(t, doc)
	if stageID == "1" {
		inst, err := h.manager.GetInstance(context.Background(), doc, admin)
		require.NoError(t, err)
		return inst
	}
	inst, err := h.manager.Advance(context.Background(), doc, stageID, "", nil, admin)
	require.NoError(t, err)
	return inst
}

func (h *harness) historyLen(t *testing.T, doc string) int {
	t.Helper()
	entries, err := h.ledger.Entries(context.Background(), doc)
	require.NoError(t, err)
	return len(entries)
}

func instanceAt(stageID string) *models.Instance {
	return &models.Instance{DocumentID: "doc", CurrentStageID: stageID, Active: true, Metadata: map[string]any{}}
}
