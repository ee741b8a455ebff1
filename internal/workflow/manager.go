// Package workflow holds the approval engine: permission resolution, the
// instance state machine, fan-out distribution and the history ledger.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"doc-approval/backend/internal/repository"
	"doc-approval/backend/pkg/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Definitions looks up published stage graphs. Version 0 means latest.
// Implementations return repository.ErrNotFound for unknown graphs.
type Definitions interface {
	Get(ctx context.Context, workflowID string, version int) (*models.StageGraph, error)
}

// Action names recorded in the history ledger besides graph action ids.
const (
	HistoryStarted       = "started"
	HistoryReset         = "reset"
	HistoryAdminOverride = "admin-override"
)

// Page size bounds for ListInstances.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Manager owns instance state. Every mutation runs as one unit of work per
// document: permission checks happen before any write, and the instance
// update and its history entry commit together.
type Manager struct {
	store    repository.InstanceStore
	ledger   *Ledger
	defs     Definitions
	resolver *Resolver
	quorum   QuorumPolicy
	logger   Logger
	metrics  *instruments
	meter    metric.Meter
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithQuorum sets the process-wide quorum policy.
func WithQuorum(p QuorumPolicy) Option {
	return func(m *Manager) { m.quorum = p }
}

// WithResolver replaces the default permission resolver.
func WithResolver(r *Resolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMeter records operation counters on meter instead of the global one.
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) { m.meter = meter }
}

// NewManager creates a manager over store and defs.
func NewManager(store repository.InstanceStore, defs Definitions, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		ledger:   NewLedger(store),
		defs:     defs,
		resolver: NewResolver(),
		quorum:   QuorumPolicy{Mode: QuorumManual},
		logger:   nopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = newInstruments(m.meter)
	return m
}

// Resolver returns the permission resolver in use.
func (m *Manager) Resolver() *Resolver { return m.resolver }

func (m *Manager) graph(ctx context.Context, workflowID string, version int) (*models.StageGraph, error) {
	g, err := m.defs.Get(ctx, workflowID, version)
	if errors.Is(err, repository.ErrNotFound) {
		if version > 0 {
			return nil, NotFoundError("workflow %s v%d not found", workflowID, version)
		}
		return nil, NotFoundError("workflow %s not found", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	return g, nil
}

func isAdmin(actor models.Actor) bool {
	return models.NormalizeRole(string(actor.Role)) == models.RoleAdmin
}

// visible reports whether actor may see inst. Admins see every organization.
func visible(inst *models.Instance, actor models.Actor) bool {
	return isAdmin(actor) || inst.OrganizationID == actor.OrganizationID
}

func checkActor(actor models.Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return UnauthorizedError("actor id is required")
	}
	if models.NormalizeRole(string(actor.Role)) == "" {
		return UnauthorizedError("unrecognised role %q", actor.Role)
	}
	return nil
}

// Start creates the document's instance at the graph's initial stage, or
// begins a new lifecycle on an inactive one.
func (m *Manager) Start(ctx context.Context, documentID, workflowID string, actor models.Actor) (*models.Instance, error) {
	inst, err := m.start(ctx, documentID, workflowID, actor)
	m.metrics.operation(ctx, "start", err)
	return inst, err
}

func (m *Manager) start(ctx context.Context, documentID, workflowID string, actor models.Actor) (*models.Instance, error) {
	if documentID == "" {
		return nil, ValidationError("documentId is required")
	}
	if workflowID == "" {
		return nil, ValidationError("workflowId is required")
	}
	if err := checkActor(actor); err != nil {
		return nil, err
	}

	var (
		result *models.Instance
		g      *models.StageGraph
	)
	err := m.store.WithinDocument(ctx, documentID, func(ctx context.Context, tx repository.InstanceTx) error {
		inst, err := tx.Instance(ctx)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			inst = &models.Instance{ID: uuid.NewString(), DocumentID: documentID}
		case err != nil:
			return fmt.Errorf("load instance: %w", err)
		case !visible(inst, actor):
			return UnauthorizedError("document %s belongs to another organization", documentID)
		case inst.Active:
			return ConflictError("workflow %s is already active for document %s", inst.WorkflowID, documentID)
		}

		if g, err = m.graph(ctx, workflowID, 0); err != nil {
			return err
		}
		initial, ok := g.InitialStage()
		if !ok {
			return ValidationError("workflow %s has no stages", workflowID)
		}

		now := m.now()
		inst.WorkflowID = g.ID
		inst.WorkflowVersion = g.Version
		inst.OrganizationID = actor.OrganizationID
		inst.CurrentStageID = initial.ID
		inst.Active = true
		inst.Lifecycle++
		inst.Distribution = nil
		inst.PriorDistributions = nil
		inst.StartedAt = now
		inst.UpdatedAt = now
		inst.CompletedAt = nil
		inst.Metadata = map[string]any{
			"startedBy":       actor.ID,
			"startedAt":       now.Format(time.RFC3339),
			"workflowVersion": g.Version,
		}
		if actor.OrganizationID != "" {
			inst.Metadata["organizationId"] = actor.OrganizationID
		}
		if err := tx.SaveInstance(ctx, inst); err != nil {
			return fmt.Errorf("save instance: %w", err)
		}
		entry := &models.HistoryEntry{
			Action:   HistoryStarted,
			StageID:  initial.ID,
			Metadata: map[string]any{"workflowId": g.ID, "workflowVersion": g.Version},
		}
		if err := m.append(ctx, tx, inst, entry, actor, initial.Name, now); err != nil {
			return err
		}
		result = inst.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.appended(ctx, HistoryStarted)
	m.logger.Info("workflow started", "document", documentID, "workflow", g.ID, "version", g.Version, "lifecycle", result.Lifecycle)
	return result, nil
}

// Advance moves the instance to targetStageID. When targetStageID is empty
// the target is taken from the action named by id or label. Non-admin actors
// need a permitted graph edge; admins may move to any stage that resolves.
func (m *Manager) Advance(ctx context.Context, documentID, targetStageID, action string, metadata map[string]any, actor models.Actor) (*models.Instance, error) {
	if err := checkActor(actor); err != nil {
		m.metrics.operation(ctx, "advance", err)
		return nil, err
	}
	return m.mutate(ctx, "advance", documentID, actor, func(g *models.StageGraph, inst *models.Instance, now time.Time) (*models.HistoryEntry, error) {
		step, err := m.authorizeAdvance(g, inst, targetStageID, action, actor)
		if err != nil {
			return nil, err
		}
		from := inst.CurrentStageID
		inst.CurrentStageID = step.target
		for k, v := range metadata {
			inst.Metadata[k] = v
		}
		inst.Metadata["lastAction"] = step.label
		inst.Metadata["lastActionAt"] = now.Format(time.RFC3339)

		completed := g.IsTerminal(step.target) && truthy(metadata["completeWorkflow"])
		if completed {
			inst.Active = false
			inst.CompletedAt = &now
		}
		entryMeta := map[string]any{"from": from, "to": step.target, "label": step.label}
		if completed {
			entryMeta["completed"] = true
		}
		return &models.HistoryEntry{Action: step.name, StageID: step.target, Metadata: entryMeta}, nil
	})
}

type advanceStep struct {
	target string
	name   string
	label  string
}

func (m *Manager) authorizeAdvance(g *models.StageGraph, inst *models.Instance, targetStageID, action string, actor models.Actor) (advanceStep, error) {
	actions, err := m.resolver.Resolve(g, inst, actor)
	if err != nil {
		return advanceStep{}, err
	}
	target := strings.TrimSpace(targetStageID)
	action = strings.TrimSpace(action)
	if target == "" {
		if action == "" {
			return advanceStep{}, ValidationError("targetStageId or action is required")
		}
		a, ok := Find(actions, "", action)
		if !ok {
			return advanceStep{}, InvalidTransitionError("no action %q at stage %s", action, inst.CurrentStageID)
		}
		target = a.TargetStageID
	}
	if _, ok := g.StageByID(target); !ok {
		return advanceStep{}, InvalidTransitionError("stage %q does not exist in workflow %s", target, g.ID)
	}

	a, ok := Find(actions, target, action)
	if !ok {
		if !isAdmin(actor) {
			return advanceStep{}, InvalidTransitionError("no transition from %s to %s", inst.CurrentStageID, target)
		}
		label := action
		if label == "" {
			label = HistoryAdminOverride
		}
		return advanceStep{target: target, name: HistoryAdminOverride, label: label}, nil
	}
	if !a.Permitted {
		return advanceStep{}, UnauthorizedError("%s", a.ReasonIfDenied)
	}
	switch a.Effect {
	case models.EffectDistribute:
		return advanceStep{}, ValidationError("%s requires a reviewer list; use distribute", a.ID)
	case models.EffectSubmitReview:
		return advanceStep{}, ValidationError("%s records a review; use submitReview", a.ID)
	case models.EffectAggregate:
		if !isAdmin(actor) {
			if err := m.quorum.For(g).Check(inst.Distribution); err != nil {
				return advanceStep{}, err
			}
		}
	}
	label := a.Label
	if action != "" && !a.Matches(action) {
		label = action
	}
	if label == "" {
		label = a.ID
	}
	return advanceStep{target: target, name: a.ID, label: label}, nil
}

// Reset deactivates the document's instance without touching its history
// beyond a single "reset" entry. Resetting an unknown or inactive document
// is a no-op.
func (m *Manager) Reset(ctx context.Context, documentID string, actor models.Actor) error {
	err := m.reset(ctx, documentID, actor)
	m.metrics.operation(ctx, "reset", err)
	return err
}

func (m *Manager) reset(ctx context.Context, documentID string, actor models.Actor) error {
	if documentID == "" {
		return ValidationError("documentId is required")
	}
	var changed bool
	err := m.store.WithinDocument(ctx, documentID, func(ctx context.Context, tx repository.InstanceTx) error {
		inst, err := tx.Instance(ctx)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load instance: %w", err)
		}
		if !inst.Active || !visible(inst, actor) {
			return nil
		}
		now := m.now()
		prev := inst.CurrentStageID
		stageName := ""
		if g, err := m.graph(ctx, inst.WorkflowID, inst.WorkflowVersion); err == nil {
			if s, ok := g.StageByID(prev); ok {
				stageName = s.Name
			}
		}
		inst.Active = false
		inst.CurrentStageID = ""
		inst.UpdatedAt = now
		if err := tx.SaveInstance(ctx, inst); err != nil {
			return fmt.Errorf("save instance: %w", err)
		}
		entry := &models.HistoryEntry{Action: HistoryReset, StageID: prev, Metadata: map[string]any{"from": prev}}
		if err := m.append(ctx, tx, inst, entry, actor, stageName, now); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		m.metrics.appended(ctx, HistoryReset)
		m.logger.Info("workflow reset", "document", documentID, "actor", actor.ID)
	}
	return nil
}

// GetInstance returns the document's instance record, active or not.
// Instances of another organization are reported as not found to non-admins.
func (m *Manager) GetInstance(ctx context.Context, documentID string, actor models.Actor) (*models.Instance, error) {
	if documentID == "" {
		return nil, ValidationError("documentId is required")
	}
	inst, err := m.store.GetInstance(ctx, documentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFoundError("no workflow for document %s", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	if !visible(inst, actor) {
		return nil, NotFoundError("no workflow for document %s", documentID)
	}
	return inst, nil
}

// History returns the document's ledger in append order. A document of
// another organization has an empty history for non-admins, like an unknown one.
func (m *Manager) History(ctx context.Context, documentID string, actor models.Actor) ([]models.HistoryEntry, error) {
	if documentID == "" {
		return nil, ValidationError("documentId is required")
	}
	inst, err := m.store.GetInstance(ctx, documentID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load instance: %w", err)
	case !visible(inst, actor):
		return []models.HistoryEntry{}, nil
	}
	return m.ledger.Entries(ctx, documentID)
}

// AvailableActions resolves the actions actor may take on the document now.
// Inactive instances have none.
func (m *Manager) AvailableActions(ctx context.Context, documentID string, actor models.Actor) ([]ResolvedAction, error) {
	inst, err := m.GetInstance(ctx, documentID, actor)
	if err != nil {
		return nil, err
	}
	if !inst.Active {
		return []ResolvedAction{}, nil
	}
	g, err := m.graph(ctx, inst.WorkflowID, inst.WorkflowVersion)
	if err != nil {
		return nil, err
	}
	return m.resolver.Resolve(g, inst, actor)
}

// ListInstances pages through instances. Non-admin actors only see their own
// organization.
func (m *Manager) ListInstances(ctx context.Context, filter models.InstanceFilter, actor models.Actor) (*models.InstancePage, error) {
	if !isAdmin(actor) {
		filter.OrganizationID = actor.OrganizationID
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultPageSize
	}
	if filter.Limit > MaxPageSize {
		filter.Limit = MaxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	items, total, err := m.store.ListInstances(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	if items == nil {
		items = []*models.Instance{}
	}
	return &models.InstancePage{Instances: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// mutation changes inst in place and returns the history entry to append.
type mutation func(g *models.StageGraph, inst *models.Instance, now time.Time) (*models.HistoryEntry, error)

// mutate runs fn against the document's active instance inside one unit of
// work. Nothing is written when fn fails.
func (m *Manager) mutate(ctx context.Context, op, documentID string, actor models.Actor, fn mutation) (*models.Instance, error) {
	if documentID == "" {
		err := ValidationError("documentId is required")
		m.metrics.operation(ctx, op, err)
		return nil, err
	}
	var (
		result   *models.Instance
		recorded string
	)
	err := m.store.WithinDocument(ctx, documentID, func(ctx context.Context, tx repository.InstanceTx) error {
		inst, err := tx.Instance(ctx)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && !visible(inst, actor)) {
			return NotFoundError("no workflow for document %s", documentID)
		}
		if err != nil {
			return fmt.Errorf("load instance: %w", err)
		}
		if !inst.Active {
			return NotFoundError("no active workflow for document %s", documentID)
		}
		g, err := m.graph(ctx, inst.WorkflowID, inst.WorkflowVersion)
		if err != nil {
			return err
		}

		working := inst.Clone()
		if working.Metadata == nil {
			working.Metadata = map[string]any{}
		}
		now := m.now()
		entry, err := fn(g, working, now)
		if err != nil {
			return err
		}
		working.UpdatedAt = now
		if err := tx.SaveInstance(ctx, working); err != nil {
			return fmt.Errorf("save instance: %w", err)
		}
		stageName := ""
		if s, ok := g.StageByID(entry.StageID); ok {
			stageName = s.Name
		}
		if err := m.append(ctx, tx, working, entry, actor, stageName, now); err != nil {
			return err
		}
		recorded = entry.Action
		result = working.Clone()
		return nil
	})
	m.metrics.operation(ctx, op, err)
	if err != nil {
		if KindOf(err) == "" {
			m.logger.Error("workflow operation failed", "operation", op, "document", documentID, "error", err)
		} else {
			m.logger.Debug("workflow operation rejected", "operation", op, "document", documentID, "reason", err)
		}
		return nil, err
	}
	m.metrics.appended(ctx, recorded)
	m.logger.Info("workflow updated", "operation", op, "document", documentID, "stage", result.CurrentStageID, "actor", actor.ID)
	return result, nil
}

func (m *Manager) append(ctx context.Context, tx repository.InstanceTx, inst *models.Instance, entry *models.HistoryEntry, actor models.Actor, stageName string, now time.Time) error {
	entry.ID = uuid.NewString()
	entry.DocumentID = inst.DocumentID
	entry.InstanceID = inst.ID
	entry.Lifecycle = inst.Lifecycle
	entry.StageName = stageName
	entry.PerformedBy = actor.ID
	entry.Timestamp = now
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	entry.Metadata["role"] = string(models.NormalizeRole(string(actor.Role)))
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}
