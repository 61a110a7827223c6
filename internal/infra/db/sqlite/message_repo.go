package sqlite

import (
	"context"
	"time"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/repository"
)

var _ repository.MessageRepository = (*MessageRepo)(nil)

type MessageRepo struct {
	s *Store
}

func NewMessageRepo(s *Store) *MessageRepo { return &MessageRepo{s: s} }

func (r *MessageRepo) Save(ctx context.Context, tx repository.Tx, msg *model.Message) error {
	ex, err := r.s.executor(tx)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
INSERT INTO messages (id, conversation_id, client_id, role, content, job_id, created_at)
VALUES (?1, ?2, ?3, ?4, ?5, NULLIF(?6, ''), ?7)`,
		msg.ID, msg.ConversationID, msg.ClientID, string(msg.Role), msg.Content, msg.JobID, msg.CreatedAt.UTC().UnixMilli())
	if isConflict(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *MessageRepo) Recent(ctx context.Context, tx repository.Tx, conversationID, excludeID string, limit int) ([]model.Message, error) {
	ex, err := r.s.executor(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, `
SELECT id, conversation_id, client_id, role, content, COALESCE(job_id, ''), created_at
FROM (
  SELECT * FROM messages
  WHERE conversation_id = ?1 AND id <> ?2
  ORDER BY seq DESC
  LIMIT ?3
)
ORDER BY seq`, conversationID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m       model.Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ClientID, &role, &m.Content, &m.JobID, &created); err != nil {
			return nil, err
		}
		m.Role = model.MessageRole(role)
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
