package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/proto-clique/internal/leads"
)

const leadsSchema = `
	CREATE TABLE IF NOT EXISTS leads (
		id               TEXT PRIMARY KEY,
		name             TEXT        NOT NULL,
		email            TEXT        NOT NULL,
		phone            TEXT        NOT NULL DEFAULT '',
		message          TEXT        NOT NULL DEFAULT '',
		attachment_names TEXT[]      NOT NULL DEFAULT '{}',
		attachment_bytes BIGINT      NOT NULL DEFAULT 0,
		client_ip        TEXT        NOT NULL DEFAULT '',
		user_agent       TEXT        NOT NULL DEFAULT '',
		submitted_at     TIMESTAMPTZ NOT NULL
	)
`

// Postgres is a PostgreSQL implementation of leads.Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL-backed lead store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the leads table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, leadsSchema)

	return err
}

// SaveLead inserts the event. Redelivered events are ignored.
func (p *Postgres) SaveLead(ctx context.Context, event *leads.LeadSubmittedEvent) error {
	query := `
		INSERT INTO leads (
			id, name, email, phone, message,
			attachment_names, attachment_bytes, client_ip, user_agent, submitted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	names := event.AttachmentNames
	if names == nil {
		names = []string{}
	}

	_, err := p.pool.Exec(ctx, query,
		event.ID,
		event.Name,
		event.Email,
		event.Phone,
		event.Message,
		names,
		event.AttachmentBytes,
		event.ClientIP,
		event.UserAgent,
		event.SubmittedAt,
	)

	return err
}

// Compile-time check.
var _ leads.Store = (*Postgres)(nil)
