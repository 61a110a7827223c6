package usecase

import "docqa-engine/internal/domain/model"

// ReplySchema is the JSON schema sent to providers that support structured
// output. Actions use the flat layout; the validator folds it back into
// typed payloads.
func ReplySchema() map[string]any {
	str := func() map[string]any { return map[string]any{"type": "string"} }
	num := func() map[string]any { return map[string]any{"type": "number"} }
	strList := func() map[string]any { return map[string]any{"type": "array", "items": str()} }

	types := make([]any, 0, len(model.ActionTypes))
	for _, t := range model.ActionTypes {
		types = append(types, string(t))
	}

	fileItem := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"context_item_id": str(),
			"kind":            map[string]any{"type": "string", "enum": []any{"crop", "text"}},
			"reason":          str(),
			"priority":        map[string]any{"type": "string", "enum": []any{"high", "medium", "low"}},
			"crop_id":         str(),
		},
		"required": []any{"context_item_id"},
	}

	action := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":                  map[string]any{"type": "string", "enum": types},
			"note":                  str(),
			"items":                 map[string]any{"type": "array", "items": fileItem},
			"image_context_item_id": str(),
			"goal":                  str(),
			"dpi":                   map[string]any{"type": "integer"},
			"bbox_x1":               num(),
			"bbox_y1":               num(),
			"bbox_x2":               num(),
			"bbox_y2":               num(),
			"confidence":            map[string]any{"type": "string", "enum": []any{"low", "medium", "high"}},
			"used_context_item_ids": strList(),
			"citations":             strList(),
		},
		"required": []any{"type"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"assistant_text": str(),
			"actions":        map[string]any{"type": "array", "items": action},
			"is_final":       map[string]any{"type": "boolean"},
		},
		"required": []any{"assistant_text", "actions", "is_final"},
	}
}
