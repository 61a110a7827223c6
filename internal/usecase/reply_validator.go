package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
)

const (
	maxFileItems = 5
	minROIDPI    = 120
	maxROIDPI    = 800
)

// ReplyValidator turns raw provider output into a trusted ModelReply.
// All failures are *domain.SchemaViolation.
type ReplyValidator struct{}

func NewReplyValidator() *ReplyValidator { return &ReplyValidator{} }

var topLevelKeys = map[string]bool{"assistant_text": true, "actions": true, "is_final": true}

// flat keys some providers emit at action level instead of inside payload
var flatKeys = map[model.ActionType][]string{
	model.ActionAnswer:       {"citations"},
	model.ActionRequestFiles: {"items"},
	model.ActionRequestROI:   {"image_ref", "image_context_item_id", "goal", "dpi", "suggested_bbox_norm", "bbox_x1", "bbox_y1", "bbox_x2", "bbox_y2"},
	model.ActionFinal:        {"confidence", "used_context_item_ids"},
}

var allFlatKeys = func() map[string]bool {
	out := map[string]bool{}
	for _, keys := range flatKeys {
		for _, k := range keys {
			out[k] = true
		}
	}
	return out
}()

func (v *ReplyValidator) Validate(raw []byte) (*model.ModelReply, error) {
	body := stripCodeFence(raw)
	violation := func(field, format string, args ...any) error {
		return &domain.SchemaViolation{Field: field, Reason: fmt.Sprintf(format, args...), Raw: raw}
	}

	if len(body) == 0 {
		return nil, violation("", "empty response")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, violation("", "not a JSON object: %v", err)
	}
	for k := range top {
		if !topLevelKeys[k] {
			return nil, violation(k, "unknown field")
		}
	}

	reply := &model.ModelReply{}

	rawText, ok := top["assistant_text"]
	if !ok {
		return nil, violation("assistant_text", "required")
	}
	if err := json.Unmarshal(rawText, &reply.AssistantText); err != nil || isNull(rawText) {
		return nil, violation("assistant_text", "must be a string")
	}

	rawFinal, ok := top["is_final"]
	if !ok {
		return nil, violation("is_final", "required")
	}
	if err := json.Unmarshal(rawFinal, &reply.IsFinal); err != nil || isNull(rawFinal) {
		return nil, violation("is_final", "must be a boolean")
	}

	rawActions, ok := top["actions"]
	if !ok {
		return nil, violation("actions", "required")
	}
	var actions []json.RawMessage
	if err := json.Unmarshal(rawActions, &actions); err != nil || isNull(rawActions) {
		return nil, violation("actions", "must be an array")
	}

	reply.Actions = make([]model.ModelAction, 0, len(actions))
	for i, ra := range actions {
		field := fmt.Sprintf("actions[%d]", i)
		a, err := decodeAction(ra)
		if err != nil {
			return nil, violation(err.field(field), "%s", err.reason)
		}
		reply.Actions = append(reply.Actions, a)
	}
	return reply, nil
}

type actionErr struct {
	sub    string
	reason string
}

func (e *actionErr) field(prefix string) string {
	if e.sub == "" {
		return prefix
	}
	return prefix + "." + e.sub
}

func fail(sub, format string, args ...any) *actionErr {
	return &actionErr{sub: sub, reason: fmt.Sprintf(format, args...)}
}

func decodeAction(raw json.RawMessage) (model.ModelAction, *actionErr) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return model.ModelAction{}, fail("", "must be an object")
	}

	var t model.ActionType
	rawType, ok := fields["type"]
	if !ok {
		return model.ModelAction{}, fail("type", "required")
	}
	if err := json.Unmarshal(rawType, &t); err != nil {
		return model.ModelAction{}, fail("type", "must be a string")
	}
	if !t.Valid() {
		return model.ModelAction{}, fail("type", "unknown action type %q", t)
	}

	var note string
	if rn, ok := fields["note"]; ok && !isNull(rn) {
		if err := json.Unmarshal(rn, &note); err != nil {
			return model.ModelAction{}, fail("note", "must be a string")
		}
	}

	payload, aerr := payloadFor(t, fields)
	if aerr != nil {
		return model.ModelAction{}, aerr
	}

	p, err := model.DecodeActionPayload(t, payload, true)
	if err != nil {
		return model.ModelAction{}, fail("payload", "%v", err)
	}
	if aerr := checkPayload(t, p); aerr != nil {
		return model.ModelAction{}, aerr
	}
	return model.ModelAction{Type: t, Payload: p, Note: note}, nil
}

// payloadFor returns the payload object for an action, assembling it from
// flat action-level keys when no nested payload is given.
func payloadFor(t model.ActionType, fields map[string]json.RawMessage) (json.RawMessage, *actionErr) {
	relevant := map[string]bool{}
	for _, k := range flatKeys[t] {
		relevant[k] = true
	}
	flat := map[string]json.RawMessage{}
	for k, v := range fields {
		switch {
		case k == "type" || k == "note" || k == "payload":
		case allFlatKeys[k]:
			// a zero bbox edge is meaningful, any other zero is a placeholder
			keepZero := relevant[k] && strings.HasPrefix(k, "bbox_")
			if isEmpty(v) || (isZero(v) && !keepZero) {
				continue
			}
			if !relevant[k] {
				return nil, fail(k, "not allowed for %s", t)
			}
			flat[k] = v
		default:
			return nil, fail(k, "unknown field")
		}
	}

	nested, hasNested := fields["payload"]
	if hasNested && !isNull(nested) {
		if len(flat) > 0 {
			return nil, fail("payload", "payload given both nested and flat")
		}
		return normalizeItems(t, nested)
	}
	if len(flat) == 0 {
		return nil, nil
	}

	if t == model.ActionRequestROI {
		if id, ok := flat["image_context_item_id"]; ok {
			if _, dup := flat["image_ref"]; dup {
				return nil, fail("image_context_item_id", "conflicts with image_ref")
			}
			flat["image_ref"] = json.RawMessage(`{"context_item_id":` + string(id) + `}`)
			delete(flat, "image_context_item_id")
		}
		box, aerr := flatBBox(flat)
		if aerr != nil {
			return nil, aerr
		}
		if box != nil {
			flat["suggested_bbox_norm"] = box
		}
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return nil, fail("payload", "%v", err)
	}
	return normalizeItems(t, b)
}

func flatBBox(flat map[string]json.RawMessage) (json.RawMessage, *actionErr) {
	keys := []string{"bbox_x1", "bbox_y1", "bbox_x2", "bbox_y2"}
	present := 0
	for _, k := range keys {
		if _, ok := flat[k]; ok {
			present++
		}
	}
	if present == 0 {
		return nil, nil
	}
	if present == len(keys) && isZero(flat["bbox_x1"]) && isZero(flat["bbox_y1"]) &&
		isZero(flat["bbox_x2"]) && isZero(flat["bbox_y2"]) {
		for _, k := range keys {
			delete(flat, k)
		}
		return nil, nil
	}
	if present != len(keys) {
		return nil, fail("bbox_x1", "bbox_x1, bbox_y1, bbox_x2 and bbox_y2 must be given together")
	}
	if _, ok := flat["suggested_bbox_norm"]; ok {
		return nil, fail("suggested_bbox_norm", "conflicts with bbox_* fields")
	}
	box := fmt.Sprintf(`{"x1":%s,"y1":%s,"x2":%s,"y2":%s}`,
		flat["bbox_x1"], flat["bbox_y1"], flat["bbox_x2"], flat["bbox_y2"])
	for _, k := range keys {
		delete(flat, k)
	}
	return json.RawMessage(box), nil
}

// normalizeItems lets request_files list bare item ids.
func normalizeItems(t model.ActionType, payload json.RawMessage) (json.RawMessage, *actionErr) {
	if t != model.ActionRequestFiles {
		return payload, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fail("payload", "must be an object")
	}
	rawItems, ok := obj["items"]
	if !ok {
		return payload, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawItems, &items); err != nil {
		return payload, nil
	}
	changed := false
	for i, it := range items {
		var id string
		if json.Unmarshal(it, &id) == nil {
			b, _ := json.Marshal(model.FileRequest{ContextItemID: id})
			items[i] = b
			changed = true
		}
	}
	if !changed {
		return payload, nil
	}
	b, _ := json.Marshal(items)
	obj["items"] = b
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fail("payload", "%v", err)
	}
	return out, nil
}

func checkPayload(t model.ActionType, p model.ActionPayload) *actionErr {
	switch t {
	case model.ActionAnswer:
		return nil
	case model.ActionRequestFiles:
		fp, _ := p.(*model.RequestFilesPayload)
		if fp == nil || len(fp.Items) == 0 {
			return fail("payload.items", "must list at least one item")
		}
		if len(fp.Items) > maxFileItems {
			return fail("payload.items", "at most %d items may be requested", maxFileItems)
		}
		for i, it := range fp.Items {
			f := fmt.Sprintf("payload.items[%d]", i)
			if strings.TrimSpace(it.ContextItemID) == "" {
				return fail(f+".context_item_id", "required")
			}
			switch it.Kind {
			case "", "crop", "text":
			default:
				return fail(f+".kind", "must be crop or text")
			}
			switch it.Priority {
			case "", model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
			default:
				return fail(f+".priority", "must be high, medium or low")
			}
		}
		return nil
	case model.ActionRequestROI:
		rp, _ := p.(*model.RequestROIPayload)
		if rp == nil || strings.TrimSpace(rp.ImageRef.ContextItemID) == "" {
			return fail("payload.image_ref.context_item_id", "required")
		}
		if rp.DPI != 0 && (rp.DPI < minROIDPI || rp.DPI > maxROIDPI) {
			return fail("payload.dpi", "must be between %d and %d", minROIDPI, maxROIDPI)
		}
		if rp.BBox != nil && !rp.BBox.Valid() {
			return fail("payload.suggested_bbox_norm", "must be a normalized box with x1<x2 and y1<y2")
		}
		return nil
	case model.ActionFinal:
		fp, _ := p.(*model.FinalPayload)
		if fp == nil {
			return nil
		}
		switch fp.Confidence {
		case "", "low", "medium", "high":
			return nil
		}
		return fail("payload.confidence", "must be low, medium or high")
	}
	return fail("type", "unknown action type %q", t)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isEmpty(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}

func isZero(raw json.RawMessage) bool {
	var f float64
	return json.Unmarshal(raw, &f) == nil && f == 0
}

// stripCodeFence removes a markdown code fence around a JSON body.
func stripCodeFence(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	return []byte(s)
}
