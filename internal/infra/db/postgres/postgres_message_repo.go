package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/repository"
)

var _ repository.MessageRepository = (*messageRepo)(nil)

type messageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *messageRepo {
	return &messageRepo{pool: pool}
}

func (r *messageRepo) Save(ctx context.Context, tx repository.Tx, msg *model.Message) error {
	const q = `
INSERT INTO messages (id, conversation_id, client_id, role, content, job_id, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7);`
	_, err := execSQL(ctx, r.pool, tx, q,
		msg.ID, msg.ConversationID, msg.ClientID, string(msg.Role), msg.Content, msg.JobID, msg.CreatedAt)
	return err
}

func (r *messageRepo) Recent(ctx context.Context, tx repository.Tx, conversationID, excludeID string, limit int) ([]model.Message, error) {
	const q = `
SELECT id, conversation_id, client_id, role, content, COALESCE(job_id, ''), created_at
FROM (
  SELECT * FROM messages
  WHERE conversation_id = $1 AND id <> $2
  ORDER BY seq DESC
  LIMIT $3
) recent
ORDER BY seq;`
	rows, err := queryRows(ctx, r.pool, tx, q, conversationID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ClientID, &role, &m.Content, &m.JobID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = model.MessageRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
