package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"waflow/internal/entities"
)

type FlowRepository struct {
	db *pgxpool.Pool
}

func NewFlowRepository(db *pgxpool.Pool) *FlowRepository {
	return &FlowRepository{db: db}
}

// GetGraph loads and validates a flow. It is read fresh on every event.
func (r *FlowRepository) GetGraph(ctx context.Context, flowID string) (entities.FlowGraph, error) {
	var nodes, edges []byte
	err := r.db.QueryRow(ctx, "SELECT nodes, edges FROM flows WHERE flow_id = $1", flowID).Scan(&nodes, &edges)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.FlowGraph{}, fmt.Errorf("flow %s: %w", flowID, ErrNotFound)
	}
	if err != nil {
		return entities.FlowGraph{}, fmt.Errorf("%w: %v", entities.ErrPersistence, err)
	}
	return entities.DecodeFlowGraph(nodes, edges)
}

// TenantOf returns the owner of a flow, or ErrNotFound.
func (r *FlowRepository) TenantOf(ctx context.Context, flowID string) (int, error) {
	var tenantID int
	err := r.db.QueryRow(ctx, "SELECT tenant_id FROM flows WHERE flow_id = $1", flowID).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return tenantID, err
}

// SaveGraph validates and stores graph. A flow owned by another tenant is
// reported as not found.
func (r *FlowRepository) SaveGraph(ctx context.Context, tenantID int, flowID string, graph entities.FlowGraph) error {
	if err := graph.Validate(); err != nil {
		return err
	}
	if graph.Nodes == nil {
		graph.Nodes = []entities.Node{}
	}
	if graph.Edges == nil {
		graph.Edges = []entities.Edge{}
	}
	nodes, err := json.Marshal(graph.Nodes)
	if err != nil {
		return err
	}
	edges, err := json.Marshal(graph.Edges)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO flows (flow_id, tenant_id, nodes, edges, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (flow_id) DO UPDATE
		SET nodes = EXCLUDED.nodes, edges = EXCLUDED.edges, updated_at = NOW()
		WHERE flows.tenant_id = EXCLUDED.tenant_id
	`, flowID, tenantID, nodes, edges)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("flow %s: %w", flowID, ErrNotFound)
	}
	return nil
}
