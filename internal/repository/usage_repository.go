package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

type DailyUsage struct {
	Date         time.Time `json:"date"`
	InstanceID   string    `json:"instance_id"`
	MessagesSent int       `json:"messages_sent"`
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db, now: time.Now}
}

// Increment counts one automated message for today.
func (r *UsageRepository) Increment(ctx context.Context, tenantID int, instanceID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_usage (user_id, instance_id, date, messages_sent)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, instance_id, date)
		DO UPDATE SET messages_sent = message_usage.messages_sent + 1
	`, tenantID, instanceID, r.now().Format(time.DateOnly))
	return err
}

// History returns the last days of usage, oldest first.
func (r *UsageRepository) History(ctx context.Context, tenantID, days int) ([]DailyUsage, error) {
	start := r.now().AddDate(0, 0, -days).Format(time.DateOnly)
	rows, err := r.db.Query(ctx, `
		SELECT date, instance_id, messages_sent
		FROM message_usage
		WHERE user_id = $1 AND date >= $2
		ORDER BY date ASC, instance_id
	`, tenantID, start)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[DailyUsage])
}
