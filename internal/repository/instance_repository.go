package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"waflow/internal/entities"
)

var ErrNotFound = errors.New("not found")

type InstanceRepository struct {
	db *pgxpool.Pool
}

func NewInstanceRepository(db *pgxpool.Pool) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func (r *InstanceRepository) Get(ctx context.Context, instanceID string) (entities.Instance, error) {
	var inst entities.Instance
	err := r.db.QueryRow(ctx,
		"SELECT instance_id, tenant_id, jid FROM instances WHERE instance_id = $1",
		instanceID).Scan(&inst.ID, &inst.TenantID, &inst.JID)
	if errors.Is(err, pgx.ErrNoRows) {
		return inst, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	return inst, err
}

func (r *InstanceRepository) List(ctx context.Context) ([]entities.Instance, error) {
	return r.query(ctx, "SELECT instance_id, tenant_id, jid FROM instances ORDER BY created_at")
}

func (r *InstanceRepository) ListByTenant(ctx context.Context, tenantID int) ([]entities.Instance, error) {
	return r.query(ctx, "SELECT instance_id, tenant_id, jid FROM instances WHERE tenant_id = $1 ORDER BY created_at", tenantID)
}

func (r *InstanceRepository) query(ctx context.Context, sql string, args ...any) ([]entities.Instance, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entities.Instance, error) {
		var inst entities.Instance
		err := row.Scan(&inst.ID, &inst.TenantID, &inst.JID)
		return inst, err
	})
}

// Upsert keeps the stored JID when inst carries none.
func (r *InstanceRepository) Upsert(ctx context.Context, inst entities.Instance) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO instances (instance_id, tenant_id, jid)
		VALUES ($1, $2, $3)
		ON CONFLICT (instance_id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id,
		    jid = CASE WHEN EXCLUDED.jid = '' THEN instances.jid ELSE EXCLUDED.jid END
	`, inst.ID, inst.TenantID, inst.JID)
	return err
}

func (r *InstanceRepository) Delete(ctx context.Context, instanceID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM instances WHERE instance_id = $1", instanceID)
	return err
}
