package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"waflow/internal/entities"
)

type UserRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

const userColumns = `id, username, password_hash, role, is_active, plan_expires_at, chatbot_enabled, warmer_enabled`

func scanUser(row pgx.Row) (*entities.User, error) {
	var u entities.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.IsActive, &u.PlanExpiresAt, &u.ChatbotEnabled, &u.WarmerEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role, is_active, plan_expires_at, chatbot_enabled, warmer_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, user.Username, user.PasswordHash, user.Role, user.IsActive, user.PlanExpiresAt, user.ChatbotEnabled, user.WarmerEnabled).Scan(&user.ID)
}

// GetByUsername returns nil, nil when the user does not exist.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	return scanUser(r.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username))
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (*entities.User, error) {
	return scanUser(r.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// HasChatbotPlan is the plan gate of the flow engine. Unknown tenants have no plan.
func (r *UserRepository) HasChatbotPlan(ctx context.Context, tenantID int) (bool, error) {
	u, err := r.GetByID(ctx, tenantID)
	if err != nil || u == nil {
		return false, err
	}
	return u.HasChatbotPlan(r.now()), nil
}

func (r *UserRepository) HasWarmerPlan(ctx context.Context, tenantID int) (bool, error) {
	u, err := r.GetByID(ctx, tenantID)
	if err != nil || u == nil {
		return false, err
	}
	return u.HasWarmerPlan(r.now()), nil
}
