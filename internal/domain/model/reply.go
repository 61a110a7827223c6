package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ActionType string

const (
	ActionAnswer       ActionType = "answer"
	ActionRequestFiles ActionType = "request_files"
	ActionRequestROI   ActionType = "request_roi"
	ActionFinal        ActionType = "final"
)

// ActionTypes is the closed set of action tags a reply may carry.
var ActionTypes = []ActionType{ActionAnswer, ActionRequestFiles, ActionRequestROI, ActionFinal}

func (t ActionType) Valid() bool {
	switch t {
	case ActionAnswer, ActionRequestFiles, ActionRequestROI, ActionFinal:
		return true
	}
	return false
}

// Terminal reports whether an action of this type ends the agent loop.
func (t ActionType) Terminal() bool {
	return t == ActionAnswer || t == ActionFinal
}

// ActionPayload is implemented only by the payload types in this file.
type ActionPayload interface {
	actionType() ActionType
}

type AnswerPayload struct {
	Citations []string `json:"citations,omitempty"`
}

type FilePriority string

const (
	PriorityHigh   FilePriority = "high"
	PriorityMedium FilePriority = "medium"
	PriorityLow    FilePriority = "low"
)

type FileRequest struct {
	ContextItemID string       `json:"context_item_id"`
	Kind          string       `json:"kind,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Priority      FilePriority `json:"priority,omitempty"`
	CropID        string       `json:"crop_id,omitempty"`
}

type RequestFilesPayload struct {
	Items []FileRequest `json:"items"`
}

// ItemIDs returns the requested catalog item ids in request order.
func (p *RequestFilesPayload) ItemIDs() []string {
	out := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, it.ContextItemID)
	}
	return out
}

type ImageRef struct {
	ContextItemID string `json:"context_item_id"`
}

// BBox is a normalized rectangle; all coordinates are in [0,1].
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// FullPage covers the whole source.
var FullPage = BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}

func (b BBox) Valid() bool {
	in := func(v float64) bool { return v >= 0 && v <= 1 }
	return in(b.X1) && in(b.Y1) && in(b.X2) && in(b.Y2) && b.X1 < b.X2 && b.Y1 < b.Y2
}

type RequestROIPayload struct {
	ImageRef ImageRef `json:"image_ref"`
	Goal     string   `json:"goal,omitempty"`
	DPI      int      `json:"dpi,omitempty"`
	BBox     *BBox    `json:"suggested_bbox_norm,omitempty"`
}

// Region returns the requested box, defaulting to the full page.
func (p *RequestROIPayload) Region() BBox {
	if p.BBox == nil {
		return FullPage
	}
	return *p.BBox
}

type FinalPayload struct {
	Confidence         string   `json:"confidence,omitempty"`
	UsedContextItemIDs []string `json:"used_context_item_ids,omitempty"`
}

func (*AnswerPayload) actionType() ActionType       { return ActionAnswer }
func (*RequestFilesPayload) actionType() ActionType { return ActionRequestFiles }
func (*RequestROIPayload) actionType() ActionType   { return ActionRequestROI }
func (*FinalPayload) actionType() ActionType        { return ActionFinal }

// ModelAction is one instruction embedded in a model reply. Payload is nil or
// the pointer type matching Type.
type ModelAction struct {
	Type    ActionType
	Payload ActionPayload
	Note    string
}

type actionWire struct {
	Type    ActionType      `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Note    string          `json:"note,omitempty"`
}

func (a ModelAction) MarshalJSON() ([]byte, error) {
	w := actionWire{Type: a.Type, Note: a.Note}
	if a.Payload != nil {
		if a.Payload.actionType() != a.Type {
			return nil, fmt.Errorf("action %s carries %s payload", a.Type, a.Payload.actionType())
		}
		b, err := json.Marshal(a.Payload)
		if err != nil {
			return nil, err
		}
		w.Payload = b
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a stored action. Model output goes through the
// stricter reply validator instead.
func (a *ModelAction) UnmarshalJSON(b []byte) error {
	var w actionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if !w.Type.Valid() {
		return fmt.Errorf("unknown action type %q", w.Type)
	}
	p, err := DecodeActionPayload(w.Type, w.Payload, false)
	if err != nil {
		return err
	}
	a.Type, a.Payload, a.Note = w.Type, p, w.Note
	return nil
}

// DecodeActionPayload decodes raw into the payload type for t. Empty or null
// raw yields a nil payload. strict rejects unknown keys.
func DecodeActionPayload(t ActionType, raw json.RawMessage, strict bool) (ActionPayload, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var p ActionPayload
	switch t {
	case ActionAnswer:
		p = &AnswerPayload{}
	case ActionRequestFiles:
		p = &RequestFilesPayload{}
	case ActionRequestROI:
		p = &RequestROIPayload{}
	case ActionFinal:
		p = &FinalPayload{}
	default:
		return nil, fmt.Errorf("unknown action type %q", t)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ModelReply is the validated output of one model call.
type ModelReply struct {
	AssistantText string        `json:"assistant_text"`
	Actions       []ModelAction `json:"actions"`
	IsFinal       bool          `json:"is_final"`
}

// Terminal reports whether this reply ends the agent loop.
// Has reports whether the reply carries an action of type t.
func (r *ModelReply) Has(t ActionType) bool {
	for _, a := range r.Actions {
		if a.Type == t {
			return true
		}
	}
	return false
}

func (r *ModelReply) Terminal() bool {
	if r.IsFinal {
		return true
	}
	for _, a := range r.Actions {
		if a.Type.Terminal() {
			return true
		}
	}
	return false
}
