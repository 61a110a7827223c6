package repository

import (
	"context"

	"docqa-engine/internal/domain/model"
)

// -----------------------------
// Conversation messages
// -----------------------------

type MessageRepository interface {
	Save(ctx context.Context, tx Tx, msg *model.Message) error
	// Recent returns up to limit messages of the conversation in chronological
	// order, skipping excludeID.
	Recent(ctx context.Context, tx Tx, conversationID, excludeID string, limit int) ([]model.Message, error)
}
