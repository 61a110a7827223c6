package model

import "time"

// ModelTrace records one model call for the inspector.
type ModelTrace struct {
	ID             string        `json:"id"`
	At             time.Time     `json:"ts"`
	JobID          string        `json:"job_id"`
	ConversationID string        `json:"conversation_id"`
	Turn           int           `json:"turn"`
	Repair         bool          `json:"repair"`
	Model          string        `json:"model"`
	ThinkingLevel  ThinkingLevel `json:"thinking_level"`
	SystemPrompt   string        `json:"system_prompt"`
	UserPrompt     string        `json:"user_text"`
	InputFiles     []FileRef     `json:"input_files"`
	RawResponse    string        `json:"response_json,omitempty"`
	Actions        []ModelAction `json:"parsed_actions,omitempty"`
	LatencyMS      int64         `json:"latency_ms"`
	Errors         []string      `json:"errors,omitempty"`
	IsFinal        bool          `json:"is_final"`
	AssistantText  string        `json:"assistant_text,omitempty"`
}
