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

type ChatbotRepository struct {
	db *pgxpool.Pool
}

func NewChatbotRepository(db *pgxpool.Pool) *ChatbotRepository {
	return &ChatbotRepository{db: db}
}

const chatbotColumns = `id, tenant_id, title, instance_id, flow_id, prevent_reply, ai_bot, group_reply, active`

func scanChatbot(row pgx.CollectableRow) (entities.ChatbotConfig, error) {
	var c entities.ChatbotConfig
	var prevent, ai []byte
	if err := row.Scan(&c.ID, &c.TenantID, &c.Title, &c.InstanceID, &c.FlowID, &prevent, &ai, &c.GroupReply, &c.Active); err != nil {
		return c, err
	}
	// Malformed arrays read as empty rather than failing the whole chatbot.
	_ = json.Unmarshal(prevent, &c.PreventReply)
	_ = json.Unmarshal(ai, &c.AIBot)
	return c, nil
}

func (r *ChatbotRepository) ListActiveByInstance(ctx context.Context, instanceID string) ([]entities.ChatbotConfig, error) {
	rows, err := r.db.Query(ctx, "SELECT "+chatbotColumns+" FROM chatbots WHERE instance_id = $1 AND active ORDER BY id", instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrPersistence, err)
	}
	return pgx.CollectRows(rows, scanChatbot)
}

func (r *ChatbotRepository) List(ctx context.Context, tenantID int) ([]entities.ChatbotConfig, error) {
	rows, err := r.db.Query(ctx, "SELECT "+chatbotColumns+" FROM chatbots WHERE tenant_id = $1 ORDER BY id", tenantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanChatbot)
}

// IsActive reports false for chatbots that were deleted meanwhile.
func (r *ChatbotRepository) IsActive(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx, "SELECT active FROM chatbots WHERE id = $1", id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return active, err
}

func (r *ChatbotRepository) Create(ctx context.Context, c *entities.ChatbotConfig) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO chatbots (tenant_id, title, instance_id, flow_id, group_reply, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, c.TenantID, c.Title, c.InstanceID, c.FlowID, c.GroupReply, c.Active).Scan(&c.ID)
}

// Update changes the editable fields. The prevent_reply and ai_bot lists are
// owned by the flow engine and left untouched.
func (r *ChatbotRepository) Update(ctx context.Context, c entities.ChatbotConfig) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE chatbots SET title = $3, instance_id = $4, flow_id = $5, group_reply = $6
		WHERE id = $1 AND tenant_id = $2
	`, c.ID, c.TenantID, c.Title, c.InstanceID, c.FlowID, c.GroupReply)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ChatbotRepository) SetActive(ctx context.Context, tenantID int, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, "UPDATE chatbots SET active = $3 WHERE id = $1 AND tenant_id = $2", id, tenantID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddAssistantIdentity appends identity to ai_bot in one statement so
// concurrent flows cannot lose each other's writes.
func (r *ChatbotRepository) AddAssistantIdentity(ctx context.Context, id int64, identity string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE chatbots SET ai_bot = ai_bot || jsonb_build_array($2::text)
		WHERE id = $1 AND NOT ai_bot @> jsonb_build_array($2::text)
	`, id, identity)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrPersistence, err)
	}
	return nil
}

func (r *ChatbotRepository) ReplacePreventEntry(ctx context.Context, id int64, entry entities.PreventEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		UPDATE chatbots SET prevent_reply = COALESCE(
			(SELECT jsonb_agg(e) FROM jsonb_array_elements(prevent_reply) e WHERE e->>'identity' IS DISTINCT FROM $2),
			'[]'::jsonb
		) || jsonb_build_array($3::jsonb)
		WHERE id = $1
	`, id, entry.Identity, string(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrPersistence, err)
	}
	return nil
}

func (r *ChatbotRepository) DeactivateTenant(ctx context.Context, tenantID int) error {
	_, err := r.db.Exec(ctx, "UPDATE chatbots SET active = FALSE WHERE tenant_id = $1 AND active", tenantID)
	return err
}
