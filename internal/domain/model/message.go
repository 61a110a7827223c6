package model

import (
	"time"

	"github.com/google/uuid"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one persisted turn of a conversation.
type Message struct {
	ID             string
	ConversationID string
	ClientID       string
	Role           MessageRole
	Content        string
	JobID          string
	CreatedAt      time.Time
}

func NewMessage(conversationID, clientID string, role MessageRole, content string, now time.Time) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		ClientID:       clientID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
}

// RecentPairs keeps the last n user/assistant pairs of msgs, which must be in
// chronological order. A trailing user message without a reply counts as a pair.
func RecentPairs(msgs []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	pairs := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		start = i
		if msgs[i].Role == RoleUser {
			pairs++
			if pairs == n {
				break
			}
		}
	}
	if start >= len(msgs) {
		return nil
	}
	return msgs[start:]
}
