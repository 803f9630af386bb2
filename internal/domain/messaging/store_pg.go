package messaging

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medpod/medpod/internal/platform/apperr"
	"github.com/medpod/medpod/internal/platform/db"
)

// storeGateway keeps messages in the hosted database.
type storeGateway struct{ pool *pgxpool.Pool }

func NewStoreGateway(pool *pgxpool.Pool) Gateway {
	return &storeGateway{pool: pool}
}

func (g *storeGateway) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, g.pool)
}

func (g *storeGateway) Send(ctx context.Context, m *Message) error {
	err := g.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (physician_id, patient_id, subject, body, sent)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id::text, sent`,
		m.SenderID, m.RecipientID, m.Subject, m.Body).Scan(&m.ID, &m.Sent)
	if err != nil {
		return apperr.Transport("messaging.Send", err)
	}
	return nil
}

func (g *storeGateway) List(ctx context.Context, f Filter) ([]*Message, error) {
	const op = "messaging.List"
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}
	rows, err := g.conn(ctx).Query(ctx, `
		SELECT m.id::text, m.physician_id, COALESCE(ph.name, ''), m.patient_id, m.subject, m.body, m.sent
		FROM messages m
		LEFT JOIN physicians ph ON ph.physician_id = m.physician_id
		WHERE ($1::uuid IS NULL OR m.physician_id = $1)
		  AND ($2::uuid IS NULL OR m.patient_id = $2)
		ORDER BY m.sent DESC, m.id
		LIMIT $3`, f.SenderID, f.RecipientID, limit)
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.RecipientID, &m.Subject, &m.Body, &m.Sent)
		return &m, err
	})
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	return msgs, nil
}
