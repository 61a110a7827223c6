package usecase

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
)

func violationField(t *testing.T, err error) string {
	t.Helper()
	var sv *domain.SchemaViolation
	require.True(t, errors.As(err, &sv), "expected schema violation, got %v", err)
	require.True(t, errors.Is(err, domain.ErrSchemaViolation))
	return sv.Field
}

func TestReplyValidator_Accepts(t *testing.T) {
	v := NewReplyValidator()

	reply, err := v.Validate([]byte(`{
		"assistant_text": "Let me look at the scan.",
		"actions": [
			{"type": "request_files", "payload": {"items": [{"context_item_id": "doc-1", "priority": "high"}, "doc-2"]}},
			{"type": "request_roi", "payload": {"image_ref": {"context_item_id": "img-1"}, "dpi": 300,
				"suggested_bbox_norm": {"x1": 0, "y1": 0.1, "x2": 0.5, "y2": 0.9}}}
		],
		"is_final": false
	}`))
	require.NoError(t, err)
	require.Equal(t, "Let me look at the scan.", reply.AssistantText)
	require.False(t, reply.IsFinal)
	require.Len(t, reply.Actions, 2)

	files, ok := reply.Actions[0].Payload.(*model.RequestFilesPayload)
	require.True(t, ok)
	require.Equal(t, []string{"doc-1", "doc-2"}, files.ItemIDs())
	require.Equal(t, model.PriorityHigh, files.Items[0].Priority)

	roi, ok := reply.Actions[1].Payload.(*model.RequestROIPayload)
	require.True(t, ok)
	require.Equal(t, "img-1", roi.ImageRef.ContextItemID)
	require.Equal(t, model.BBox{X1: 0, Y1: 0.1, X2: 0.5, Y2: 0.9}, roi.Region())
}

func TestReplyValidator_RoundTrip(t *testing.T) {
	v := NewReplyValidator()
	raw := []byte(`{"assistant_text":"Done.","actions":[{"type":"final","payload":{"confidence":"high","used_context_item_ids":["a"]}},{"type":"answer","note":"n"}],"is_final":true}`)

	first, err := v.Validate(raw)
	require.NoError(t, err)

	again, err := json.Marshal(first)
	require.NoError(t, err)
	second, err := v.Validate(again)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestReplyValidator_EmptyTextAndNoActions(t *testing.T) {
	reply, err := NewReplyValidator().Validate([]byte(`{"assistant_text":"","actions":[],"is_final":false}`))
	require.NoError(t, err)
	require.Empty(t, reply.AssistantText)
	require.Empty(t, reply.Actions)
}

func TestReplyValidator_StripsCodeFence(t *testing.T) {
	raw := "```json\n{\"assistant_text\":\"x\",\"actions\":[],\"is_final\":true}\n```"
	reply, err := NewReplyValidator().Validate([]byte(raw))
	require.NoError(t, err)
	require.True(t, reply.IsFinal)
}

func TestReplyValidator_FlatSchema(t *testing.T) {
	v := NewReplyValidator()

	t.Run("request_roi", func(t *testing.T) {
		reply, err := v.Validate([]byte(`{"assistant_text":"","is_final":false,"actions":[
			{"type":"request_roi","image_context_item_id":"img-9","goal":"read the table","dpi":0,
			 "bbox_x1":0,"bbox_y1":0,"bbox_x2":0.5,"bbox_y2":0.25,"items":[],"confidence":""}]}`))
		require.NoError(t, err)
		roi := reply.Actions[0].Payload.(*model.RequestROIPayload)
		require.Equal(t, "img-9", roi.ImageRef.ContextItemID)
		require.Equal(t, "read the table", roi.Goal)
		require.Equal(t, 0, roi.DPI)
		require.NotNil(t, roi.BBox)
		require.Equal(t, model.BBox{X1: 0, Y1: 0, X2: 0.5, Y2: 0.25}, *roi.BBox)
	})

	t.Run("all zero bbox means no bbox", func(t *testing.T) {
		reply, err := v.Validate([]byte(`{"assistant_text":"","is_final":false,"actions":[
			{"type":"request_roi","image_context_item_id":"img-9","bbox_x1":0,"bbox_y1":0,"bbox_x2":0,"bbox_y2":0}]}`))
		require.NoError(t, err)
		roi := reply.Actions[0].Payload.(*model.RequestROIPayload)
		require.Nil(t, roi.BBox)
		require.Equal(t, model.FullPage, roi.Region())
	})

	t.Run("request_files with bare ids", func(t *testing.T) {
		reply, err := v.Validate([]byte(`{"assistant_text":"","is_final":false,"actions":[
			{"type":"request_files","items":["a","b"],"bbox_x1":0}]}`))
		require.NoError(t, err)
		files := reply.Actions[0].Payload.(*model.RequestFilesPayload)
		require.Equal(t, []string{"a", "b"}, files.ItemIDs())
	})
}

func TestReplyValidator_Rejects(t *testing.T) {
	testCases := []struct {
		name  string
		raw   string
		field string
	}{
		{"not json", `I think the answer is 42`, ""},
		{"empty body", `   `, ""},
		{"top level array", `[]`, ""},
		{"unknown top level key", `{"assistant_text":"","actions":[],"is_final":true,"extra":1}`, "extra"},
		{"missing assistant_text", `{"actions":[],"is_final":true}`, "assistant_text"},
		{"assistant_text null", `{"assistant_text":null,"actions":[],"is_final":true}`, "assistant_text"},
		{"missing is_final", `{"assistant_text":"","actions":[]}`, "is_final"},
		{"is_final as string", `{"assistant_text":"","actions":[],"is_final":"yes"}`, "is_final"},
		{"actions null", `{"assistant_text":"","actions":null,"is_final":true}`, "actions"},
		{"actions object", `{"assistant_text":"","actions":{},"is_final":true}`, "actions"},
		{"unknown action type", `{"assistant_text":"","actions":[{"type":"search"}],"is_final":false}`, "actions[0].type"},
		{"missing action type", `{"assistant_text":"","actions":[{"payload":{}}],"is_final":false}`, "actions[0].type"},
		{"roi without image ref", `{"assistant_text":"","actions":[{"type":"request_roi","payload":{"goal":"x"}}],"is_final":false}`, "actions[0].payload.image_ref.context_item_id"},
		{"roi without payload", `{"assistant_text":"","actions":[{"type":"request_roi"}],"is_final":false}`, "actions[0].payload.image_ref.context_item_id"},
		{"roi dpi out of range", `{"assistant_text":"","actions":[{"type":"request_roi","payload":{"image_ref":{"context_item_id":"a"},"dpi":2000}}],"is_final":false}`, "actions[0].payload.dpi"},
		{"roi inverted bbox", `{"assistant_text":"","actions":[{"type":"request_roi","payload":{"image_ref":{"context_item_id":"a"},"suggested_bbox_norm":{"x1":0.9,"y1":0,"x2":0.1,"y2":1}}}],"is_final":false}`, "actions[0].payload.suggested_bbox_norm"},
		{"roi partial flat bbox", `{"assistant_text":"","actions":[{"type":"request_roi","image_context_item_id":"a","bbox_x1":0.1,"bbox_y1":0.1}],"is_final":false}`, "actions[0].bbox_x1"},
		{"empty request_files", `{"assistant_text":"","actions":[{"type":"request_files","payload":{"items":[]}}],"is_final":false}`, "actions[0].payload.items"},
		{"too many files", `{"assistant_text":"","actions":[{"type":"request_files","items":["a","b","c","d","e","f"]}],"is_final":false}`, "actions[0].payload.items"},
		{"file item without id", `{"assistant_text":"","actions":[{"type":"request_files","items":[{"reason":"x"}]}],"is_final":false}`, "actions[0].payload.items[0].context_item_id"},
		{"bad priority", `{"assistant_text":"","actions":[{"type":"request_files","items":[{"context_item_id":"a","priority":"urgent"}]}],"is_final":false}`, "actions[0].payload.items[0].priority"},
		{"unknown payload key", `{"assistant_text":"","actions":[{"type":"answer","payload":{"citations":[],"score":1}}],"is_final":true}`, "actions[0].payload"},
		{"unknown action key", `{"assistant_text":"","actions":[{"type":"answer","weight":1}],"is_final":true}`, "actions[0].weight"},
		{"flat key for wrong type", `{"assistant_text":"","actions":[{"type":"answer","items":["a"]}],"is_final":true}`, "actions[0].items"},
		{"nested and flat payload", `{"assistant_text":"","actions":[{"type":"final","payload":{"confidence":"low"},"confidence":"high"}],"is_final":true}`, "actions[0].payload"},
		{"bad confidence", `{"assistant_text":"","actions":[{"type":"final","payload":{"confidence":"certain"}}],"is_final":true}`, "actions[0].payload.confidence"},
	}
	v := NewReplyValidator()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reply, err := v.Validate([]byte(tc.raw))
			require.Nil(t, reply)
			require.Equal(t, tc.field, violationField(t, err))
		})
	}
}

func TestReplyValidator_ViolationKeepsRaw(t *testing.T) {
	raw := []byte(`{"assistant_text":1}`)
	_, err := NewReplyValidator().Validate(raw)
	var sv *domain.SchemaViolation
	require.ErrorAs(t, err, &sv)
	require.Equal(t, raw, sv.Raw)
	require.Equal(t, domain.FailureFatal, domain.Classify(err))
}
