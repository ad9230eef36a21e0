package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"waflow/internal/entities"
)

type ChatRepository struct {
	db *pgxpool.Pool
}

func NewChatRepository(db *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Save(ctx context.Context, rec entities.ChatRecord) error {
	msgContext := rec.Context
	if msgContext == nil {
		msgContext = map[string]any{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO chat_messages
			(tenant_id, instance_id, chatbot_id, grp, type, msg_id, remote_jid, msg_context, sender_name, status, route, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.TenantID, rec.InstanceID, rec.ChatbotID, rec.Group, rec.Type, rec.MsgID, rec.RemoteJID,
		msgContext, rec.SenderName, rec.Status, string(rec.Route), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrPersistence, err)
	}
	return nil
}
