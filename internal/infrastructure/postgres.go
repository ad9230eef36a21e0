package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}
	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

var migrations = []struct {
	name string
	sql  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(20) DEFAULT 'user',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			plan_expires_at TIMESTAMPTZ,
			chatbot_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			warmer_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);`},
	{"instances", `
		CREATE TABLE IF NOT EXISTS instances (
			instance_id VARCHAR(64) PRIMARY KEY,
			tenant_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			jid VARCHAR(100) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);`},
	{"flows", `
		CREATE TABLE IF NOT EXISTS flows (
			flow_id VARCHAR(64) PRIMARY KEY,
			tenant_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			nodes JSONB NOT NULL DEFAULT '[]',
			edges JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);`},
	{"chatbots", `
		CREATE TABLE IF NOT EXISTS chatbots (
			id BIGSERIAL PRIMARY KEY,
			tenant_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title VARCHAR(255) NOT NULL DEFAULT '',
			instance_id VARCHAR(64) NOT NULL,
			flow_id VARCHAR(64) NOT NULL,
			prevent_reply JSONB NOT NULL DEFAULT '[]',
			ai_bot JSONB NOT NULL DEFAULT '[]',
			group_reply BOOLEAN NOT NULL DEFAULT FALSE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS chatbots_instance_idx ON chatbots (instance_id) WHERE active;`},
	{"broadcasts", `
		CREATE TABLE IF NOT EXISTS broadcasts (
			broadcast_id VARCHAR(64) PRIMARY KEY,
			tenant_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL DEFAULT 'PENDING',
			schedule TIMESTAMP,
			timezone VARCHAR(64) NOT NULL DEFAULT '',
			delay_from INT NOT NULL DEFAULT 0,
			delay_to INT NOT NULL DEFAULT 0,
			instances JSONB NOT NULL DEFAULT '[]',
			template JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS broadcasts_status_idx ON broadcasts (status);`},
	{"broadcast_logs", `
		CREATE TABLE IF NOT EXISTS broadcast_logs (
			id BIGSERIAL PRIMARY KEY,
			broadcast_id VARCHAR(64) NOT NULL REFERENCES broadcasts(broadcast_id) ON DELETE CASCADE,
			destination VARCHAR(64) NOT NULL,
			delivery_status VARCHAR(32) NOT NULL DEFAULT 'PENDING',
			message_id VARCHAR(128) NOT NULL DEFAULT '',
			instance_id VARCHAR(64) NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			variables JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS broadcast_logs_pending_idx ON broadcast_logs (broadcast_id, id) WHERE delivery_status = 'PENDING';`},
	{"chat_messages", `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGSERIAL PRIMARY KEY,
			tenant_id INT NOT NULL,
			instance_id VARCHAR(64) NOT NULL,
			chatbot_id BIGINT,
			grp BOOLEAN NOT NULL DEFAULT FALSE,
			type VARCHAR(16) NOT NULL,
			msg_id VARCHAR(128) NOT NULL,
			remote_jid VARCHAR(100) NOT NULL,
			msg_context JSONB NOT NULL DEFAULT '{}',
			sender_name VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			route VARCHAR(16) NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS chat_messages_chat_idx ON chat_messages (instance_id, remote_jid, sent_at);`},
	{"message_usage", `
		CREATE TABLE IF NOT EXISTS message_usage (
			user_id INT NOT NULL,
			instance_id VARCHAR(64) NOT NULL,
			date DATE NOT NULL,
			messages_sent INT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, instance_id, date)
		);`},
	{"warmers", `
		CREATE TABLE IF NOT EXISTS warmers (
			id BIGSERIAL PRIMARY KEY,
			tenant_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			instances JSONB NOT NULL DEFAULT '[]',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);`},
	{"warmer_scripts", `
		CREATE TABLE IF NOT EXISTS warmer_scripts (
			id BIGSERIAL PRIMARY KEY,
			warmer_id BIGINT NOT NULL REFERENCES warmers(id) ON DELETE CASCADE,
			message TEXT NOT NULL
		);`},
}

// Migrate creates the schema. Every statement is idempotent.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := p.Pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("create %s table: %w", m.name, err)
		}
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
