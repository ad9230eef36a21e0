package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"waflow/internal/entities"
)

type WarmerRepository struct {
	db *pgxpool.Pool
}

func NewWarmerRepository(db *pgxpool.Pool) *WarmerRepository {
	return &WarmerRepository{db: db}
}

const warmerQuery = `
	SELECT w.id, w.tenant_id, w.instances, w.active,
	       COALESCE(array_agg(s.message ORDER BY s.id) FILTER (WHERE s.id IS NOT NULL), '{}')
	FROM warmers w
	LEFT JOIN warmer_scripts s ON s.warmer_id = w.id`

func scanWarmer(row pgx.CollectableRow) (entities.Warmer, error) {
	var w entities.Warmer
	var instances []byte
	if err := row.Scan(&w.ID, &w.TenantID, &instances, &w.Active, &w.Scripts); err != nil {
		return w, err
	}
	_ = json.Unmarshal(instances, &w.Instances)
	return w, nil
}

func (r *WarmerRepository) ListActive(ctx context.Context) ([]entities.Warmer, error) {
	rows, err := r.db.Query(ctx, warmerQuery+" WHERE w.active GROUP BY w.id ORDER BY w.id")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrPersistence, err)
	}
	return pgx.CollectRows(rows, scanWarmer)
}

func (r *WarmerRepository) List(ctx context.Context, tenantID int) ([]entities.Warmer, error) {
	rows, err := r.db.Query(ctx, warmerQuery+" WHERE w.tenant_id = $1 GROUP BY w.id ORDER BY w.id", tenantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanWarmer)
}

func (r *WarmerRepository) Create(ctx context.Context, w *entities.Warmer) error {
	instances, err := json.Marshal(w.Instances)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx,
		"INSERT INTO warmers (tenant_id, instances, active) VALUES ($1, $2, $3) RETURNING id",
		w.TenantID, string(instances), w.Active).Scan(&w.ID); err != nil {
		return err
	}
	for _, msg := range w.Scripts {
		if _, err := tx.Exec(ctx, "INSERT INTO warmer_scripts (warmer_id, message) VALUES ($1, $2)", w.ID, msg); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *WarmerRepository) SetActive(ctx context.Context, tenantID int, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, "UPDATE warmers SET active = $3 WHERE id = $1 AND tenant_id = $2", id, tenantID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *WarmerRepository) DeactivateTenant(ctx context.Context, tenantID int) error {
	_, err := r.db.Exec(ctx, "UPDATE warmers SET active = FALSE WHERE tenant_id = $1 AND active", tenantID)
	return err
}
