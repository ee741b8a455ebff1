package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"doc-approval/backend/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of InstanceStore and
// DefinitionStore. Units of work on the same document are serialized with a
// transaction-scoped advisory lock.
type PostgresStore struct {
	db *pgxpool.Pool
}

var (
	_ InstanceStore   = (*PostgresStore)(nil)
	_ DefinitionStore = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const instanceColumns = `id, document_id, workflow_id, workflow_version, organization_id,
	COALESCE(current_stage_id, ''), active, lifecycle, version, metadata, distribution,
	prior_distributions, started_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*models.Instance, error) {
	var inst models.Instance
	err := row.Scan(&inst.ID, &inst.DocumentID, &inst.WorkflowID, &inst.WorkflowVersion, &inst.OrganizationID,
		&inst.CurrentStageID, &inst.Active, &inst.Lifecycle, &inst.Version, &inst.Metadata, &inst.Distribution,
		&inst.PriorDistributions, &inst.StartedAt, &inst.UpdatedAt, &inst.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if inst.Metadata == nil {
		inst.Metadata = map[string]any{}
	}
	return &inst, nil
}

// WithinDocument implements InstanceStore.
func (s *PostgresStore) WithinDocument(ctx context.Context, documentID string, fn func(ctx context.Context, tx InstanceTx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", documentID); err != nil {
			return fmt.Errorf("lock document %s: %w", documentID, err)
		}
		return fn(ctx, &postgresTx{tx: tx, documentID: documentID})
	})
}

// GetInstance implements InstanceStore.
func (s *PostgresStore) GetInstance(ctx context.Context, documentID string) (*models.Instance, error) {
	row := s.db.QueryRow(ctx, "SELECT "+instanceColumns+" FROM workflow_instances WHERE document_id = $1", documentID)
	return scanInstance(row)
}

// ListInstances implements InstanceStore.
func (s *PostgresStore) ListInstances(ctx context.Context, filter models.InstanceFilter) ([]*models.Instance, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.WorkflowID != "" {
		add("workflow_id = $%d", filter.WorkflowID)
	}
	if filter.StageID != "" {
		add("current_stage_id = $%d", filter.StageID)
	}
	if filter.Active != nil {
		add("active = $%d", *filter.Active)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM workflow_instances"+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + instanceColumns + " FROM workflow_instances" + clause +
		fmt.Sprintf(" ORDER BY updated_at DESC, document_id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	limit := filter.Limit
	if limit <= 0 {
		limit = total
	}
	rows, err := s.db.Query(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	instances := []*models.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, 0, err
		}
		instances = append(instances, inst)
	}
	return instances, total, rows.Err()
}

// History implements HistoryReader.
func (s *PostgresStore) History(ctx context.Context, documentID string) ([]models.HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, document_id, instance_id, lifecycle, seq, stage_id, stage_name,
		action, performed_by, ts, metadata FROM workflow_history WHERE document_id = $1 ORDER BY seq`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.InstanceID, &e.Lifecycle, &e.Sequence, &e.StageID, &e.StageName,
			&e.Action, &e.PerformedBy, &e.Timestamp, &e.Metadata); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping implements InstanceStore.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// SaveDefinition implements DefinitionStore.
func (s *PostgresStore) SaveDefinition(ctx context.Context, graph *models.StageGraph) error {
	_, err := s.db.Exec(ctx, "INSERT INTO workflow_definitions (id, version, name, body) VALUES ($1, $2, $3, $4)",
		graph.ID, graph.Version, graph.Name, graph)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDefinitionExists
	}
	return err
}

// ListDefinitions implements DefinitionStore.
func (s *PostgresStore) ListDefinitions(ctx context.Context) ([]*models.StageGraph, error) {
	rows, err := s.db.Query(ctx, "SELECT body FROM workflow_definitions ORDER BY id, version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var graphs []*models.StageGraph
	for rows.Next() {
		var g models.StageGraph
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		graphs = append(graphs, &g)
	}
	return graphs, rows.Err()
}

type postgresTx struct {
	tx         pgx.Tx
	documentID string
}

func (t *postgresTx) Instance(ctx context.Context) (*models.Instance, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+instanceColumns+" FROM workflow_instances WHERE document_id = $1", t.documentID)
	return scanInstance(row)
}

func (t *postgresTx) SaveInstance(ctx context.Context, inst *models.Instance) error {
	if inst.Version == 0 {
		_, err := t.tx.Exec(ctx, `INSERT INTO workflow_instances (id, document_id, workflow_id, workflow_version,
			organization_id, current_stage_id, active, lifecycle, version, metadata, distribution, prior_distributions,
			started_at, updated_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, 1, $9, $10, $11, $12, $13, $14)`,
			inst.ID, t.documentID, inst.WorkflowID, inst.WorkflowVersion, inst.OrganizationID, inst.CurrentStageID,
			inst.Active, inst.Lifecycle, inst.Metadata, inst.Distribution, inst.PriorDistributions,
			inst.StartedAt, inst.UpdatedAt, inst.CompletedAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrVersionConflict
		}
		if err != nil {
			return err
		}
		inst.Version = 1
		return nil
	}

	tag, err := t.tx.Exec(ctx, `UPDATE workflow_instances SET workflow_id = $1, workflow_version = $2,
		organization_id = $3, current_stage_id = NULLIF($4, ''), active = $5, lifecycle = $6, version = version + 1,
		metadata = $7, distribution = $8, prior_distributions = $9, started_at = $10, updated_at = $11,
		completed_at = $12
		WHERE document_id = $13 AND version = $14`,
		inst.WorkflowID, inst.WorkflowVersion, inst.OrganizationID, inst.CurrentStageID, inst.Active, inst.Lifecycle,
		inst.Metadata, inst.Distribution, inst.PriorDistributions, inst.StartedAt, inst.UpdatedAt, inst.CompletedAt,
		t.documentID, inst.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	inst.Version++
	return nil
}

func (t *postgresTx) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO workflow_history (id, document_id, instance_id, lifecycle, seq, stage_id,
		stage_name, action, performed_by, ts, metadata)
		SELECT $1, $2, $3, $4, COALESCE(MAX(seq), 0) + 1, $5, $6, $7, $8, $9, $10
		FROM workflow_history WHERE document_id = $2
		RETURNING seq`,
		entry.ID, t.documentID, entry.InstanceID, entry.Lifecycle, entry.StageID, entry.StageName,
		entry.Action, entry.PerformedBy, entry.Timestamp, entry.Metadata).Scan(&entry.Sequence)
	return err
}
