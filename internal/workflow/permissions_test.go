package workflow

import (
	"testing"

	"doc-approval/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(actions []ResolvedAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.ID
	}
	return out
}

func permitted(actions []ResolvedAction) []string {
	var out []string
	for _, a := range actions {
		if a.Permitted {
			out = append(out, a.ID)
		}
	}
	return out
}

func byID(t *testing.T, actions []ResolvedAction, id string) ResolvedAction {
	t.Helper()
	for _, a := range actions {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("action %s not in %v", id, ids(actions))
	return ResolvedAction{}
}

func TestResolve_MemberOfStage(t *testing.T) {
	r := NewResolver()
	actions, err := r.Resolve(pipeline(), instanceAt("2"), pcm)
	require.NoError(t, err)

	assert.Equal(t, []string{"t2", "return"}, ids(actions))
	assert.Equal(t, []string{"t2", "return"}, permitted(actions))
	assert.Equal(t, "3", byID(t, actions, "t2").TargetStageID)
	assert.Equal(t, "1", byID(t, actions, "return").TargetStageID)
}

func TestResolve_NonMemberGetsReason(t *testing.T) {
	r := NewResolver()
	actions, err := r.Resolve(pipeline(), instanceAt("3"), officer)
	require.NoError(t, err)

	require.NotEmpty(t, actions)
	for _, a := range actions {
		assert.False(t, a.Permitted, a.ID)
		assert.Equal(t, "requires COORDINATOR role at this stage", a.ReasonIfDenied)
	}
}

func TestResolve_RoleIsNormalized(t *testing.T) {
	r := NewResolver()
	actions, err := r.Resolve(pipeline(), instanceAt("2"), models.Actor{ID: "x", Role: models.Role("pcm")})
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "return"}, permitted(actions))
}

func TestResolve_FanOutOriginOffersDistribute(t *testing.T) {
	r := NewResolver()
	actions, err := r.Resolve(pipeline(), instanceAt("3"), coordinator)
	require.NoError(t, err)

	d := byID(t, actions, models.ActionDistribute)
	assert.True(t, d.Permitted)
	assert.Equal(t, "3.5", d.TargetStageID)
	assert.Equal(t, models.EffectDistribute, d.Effect)

	actions, err = r.Resolve(pipeline(), instanceAt("2"), pcm)
	require.NoError(t, err)
	assert.NotContains(t, ids(actions), models.ActionDistribute)
}

func TestResolve_LeadershipEquivalentOnFeedbackStages(t *testing.T) {
	r := NewResolver()
	actions, err := r.Resolve(pipeline(), instanceAt("4"), leadership)
	require.NoError(t, err)
	assert.Equal(t, []string{"t4", "return"}, permitted(actions))

	actions, err = r.Resolve(pipeline(), instanceAt("1"), leadership)
	require.NoError(t, err)
	assert.Empty(t, permitted(actions), "equivalence only applies to FEEDBACK_INCORPORATION")
}

func TestResolve_GraphEquivalencesExtendTable(t *testing.T) {
	g := pipeline()
	g.Settings.RoleEquivalences = []models.RoleEquivalence{
		{Kind: models.StageKindReview, Role: models.RoleCoordinator, EquivalentTo: models.RolePCM},
	}
	actions, err := NewResolver().Resolve(g, instanceAt("2"), coordinator)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "return"}, permitted(actions))
}

func TestResolve_ReviewCollectionPartitionsParticipants(t *testing.T) {
	r := NewResolver()
	g := pipeline()

	reviewerActions, err := r.Resolve(g, instanceAt("3.5"), reviewer1)
	require.NoError(t, err)
	assert.Equal(t, []string{models.ActionSubmitReview}, permitted(reviewerActions))
	agg := byID(t, reviewerActions, models.ActionAllReviewsComplete)
	assert.False(t, agg.Permitted)
	assert.Equal(t, "requires COORDINATOR role at this stage", agg.ReasonIfDenied)

	coordActions, err := r.Resolve(g, instanceAt("3.5"), coordinator)
	require.NoError(t, err)
	got := permitted(coordActions)
	assert.Contains(t, got, models.ActionAllReviewsComplete)
	assert.Contains(t, got, models.ActionProcessFeedback)
	assert.Contains(t, got, models.ActionReturn)
	assert.NotContains(t, got, models.ActionSubmitReview)
	assert.Equal(t, "coordinators aggregate reviews and cannot submit one",
		byID(t, coordActions, models.ActionSubmitReview).ReasonIfDenied)
}

func TestResolve_DistributorRoleCoordinatesPhase(t *testing.T) {
	inst := instanceAt("3.5")
	inst.Distribution = &models.Distribution{StageID: "3.5", DistributedBy: "pcm", DistributedByRole: models.RolePCM}

	actions, err := NewResolver().Resolve(pipeline(), inst, pcm)
	require.NoError(t, err)
	assert.NotContains(t, permitted(actions), models.ActionSubmitReview)
	assert.Contains(t, permitted(actions), models.ActionAllReviewsComplete)
}

func TestResolve_PhaseDedupesInheritedEdge(t *testing.T) {
	actions, err := NewResolver().Resolve(pipeline(), instanceAt("3.5"), coordinator)
	require.NoError(t, err)

	targets := make(map[string][]string)
	for _, a := range actions {
		targets[a.TargetStageID] = append(targets[a.TargetStageID], a.ID)
	}
	// t3 (3→4) is inherited by 3.5 but both aggregation actions already go to 4.
	assert.Equal(t, []string{models.ActionAllReviewsComplete, models.ActionProcessFeedback}, targets["4"])
	assert.Equal(t, []string{models.ActionReturn}, targets["3"])
}

func TestResolve_PublishOnlyAtTerminal(t *testing.T) {
	g := pipeline()
	g.Stages[4].DeclaredActions = []models.Action{{ID: "early-publish", Label: "Publish", Effect: models.EffectPublish}}

	actions, err := NewResolver().Resolve(g, instanceAt("5"), admin)
	require.NoError(t, err)
	assert.NotContains(t, ids(actions), "early-publish")

	actions, err = NewResolver().Resolve(g, instanceAt("6"), publisher)
	require.NoError(t, err)
	p := byID(t, actions, "publish")
	assert.True(t, p.Permitted)
	assert.Equal(t, "6", p.TargetStageID)
}

func TestResolve_AdminOverridesEverything(t *testing.T) {
	actions, err := NewResolver().Resolve(pipeline(), instanceAt("3.5"), admin)
	require.NoError(t, err)
	for _, a := range actions {
		assert.True(t, a.Permitted, a.ID)
		assert.True(t, a.AdminOverride, a.ID)
	}
	assert.Contains(t, ids(actions), models.ActionSubmitReview)
}

func TestResolve_PerActionRoles(t *testing.T) {
	g := pipeline()
	g.Stages[1].RequiredRoles = []models.Role{models.RolePCM, models.RoleCoordinator}
	g.Stages[1].DeclaredActions = []models.Action{
		{ID: "approve", Label: "Approve for Coordination", TargetStageID: "3", Roles: []models.Role{models.RolePCM}},
	}

	actions, err := NewResolver().Resolve(g, instanceAt("2"), coordinator)
	require.NoError(t, err)
	approve := byID(t, actions, "approve")
	assert.False(t, approve.Permitted)
	assert.Equal(t, "requires PCM role at this stage", approve.ReasonIfDenied)
	assert.True(t, byID(t, actions, "return").Permitted)
	assert.NotContains(t, ids(actions), "t2", "transition to 3 is shadowed by the declared action")
}

func TestResolve_ConditionGatesTransition(t *testing.T) {
	g := pipeline()
	g.Transitions[1].Condition = &models.Condition{Field: "legalCleared", Operator: "equals", Value: true}

	inst := instanceAt("2")
	actions, err := NewResolver().Resolve(g, inst, pcm)
	require.NoError(t, err)
	assert.Equal(t, "condition on legalCleared is not met", byID(t, actions, "t2").ReasonIfDenied)

	inst.Metadata["legalCleared"] = true
	actions, err = NewResolver().Resolve(g, inst, pcm)
	require.NoError(t, err)
	assert.True(t, byID(t, actions, "t2").Permitted)
}

func TestResolve_UnknownStage(t *testing.T) {
	_, err := NewResolver().Resolve(pipeline(), instanceAt("2.5"), admin)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFind(t *testing.T) {
	actions, err := NewResolver().Resolve(pipeline(), instanceAt("3.5"), coordinator)
	require.NoError(t, err)

	a, ok := Find(actions, "4", "Process Feedback")
	require.True(t, ok)
	assert.Equal(t, models.ActionProcessFeedback, a.ID)

	a, ok = Find(actions, "", "allreviewscomplete")
	require.True(t, ok)
	assert.Equal(t, "4", a.TargetStageID)

	a, ok = Find(actions, "4", "Looks good")
	require.True(t, ok, "unknown label falls back to the first action with that target")
	assert.Equal(t, models.ActionAllReviewsComplete, a.ID)

	_, ok = Find(actions, "6", "")
	assert.False(t, ok)
}
