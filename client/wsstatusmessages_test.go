package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSStatusMessageDecoding(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		promptID string
	}{
		{"status", `{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}, "sid": "abc"}}`, "status", ""},
		{"start", `{"type": "execution_start", "data": {"prompt_id": "p1"}}`, "execution_start", "p1"},
		{"executing", `{"type": "executing", "data": {"node": "12", "prompt_id": "p1"}}`, "executing", "p1"},
		{"progress", `{"type": "progress", "data": {"value": 1, "max": 20}}`, "progress", ""},
		{"success", `{"type": "execution_success", "data": {"prompt_id": "p2"}}`, "execution_success", "p2"},
		{"monitor", `{"type": "crystools.monitor", "data": {"cpu_utilization": 3}}`, "crystools.monitor", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &WSStatusMessage{}
			require.NoError(t, json.Unmarshal([]byte(tt.raw), m))
			assert.Equal(t, tt.wantType, m.Type)
			assert.Equal(t, tt.promptID, m.PromptID())
		})
	}
}

func TestWSExecutingFinalNode(t *testing.T) {
	m := &WSStatusMessage{}
	require.NoError(t, json.Unmarshal([]byte(`{"type": "executing", "data": {"node": null, "prompt_id": "p1"}}`), m))
	d := m.Data.(*WSMessageDataExecuting)
	assert.Nil(t, d.Node)
}

func TestWSExecutedOutputs(t *testing.T) {
	raw := `{"type": "executed", "data": {"node": "19", "prompt_id": "p1", "output": {
		"images": [{"filename": "ComfyUI_00046_.png", "subfolder": "", "type": "output"}, {"filename": "no-type.png"}],
		"text": ["a caption"],
		"animated": [false]
	}}}`
	m := &WSStatusMessage{}
	require.NoError(t, json.Unmarshal([]byte(raw), m))
	d := m.Data.(*WSMessageDataExecuted)
	assert.Equal(t, "19", d.Node)
	assert.Equal(t, []DataOutput{{Filename: "ComfyUI_00046_.png", Type: "output"}}, d.Output["images"])
	assert.Equal(t, []DataOutput{{Type: "text", Text: "a caption"}}, d.Output["text"])
	assert.Equal(t, []DataOutput{{Type: "unknown", Text: "false"}}, d.Output["animated"])
}

func TestPromptHistoryItemDecoding(t *testing.T) {
	raw := `{"p1": {
		"prompt": [4, "p1", {}, {}, ["9", "12"]],
		"outputs": {
			"12": {"images": [{"filename": "b.png", "subfolder": "x", "type": "temp"}]},
			"9": {"images": [{"filename": "a.png", "subfolder": "", "type": "output"}], "count": 2}
		},
		"status": {"status_str": "success", "completed": true, "messages": []}
	}}`
	history := make(map[string]*PromptHistoryItem)
	require.NoError(t, json.Unmarshal([]byte(raw), &history))
	h := history["p1"]
	require.NotNil(t, h)
	assert.Equal(t, 4, h.Index)
	assert.Equal(t, "p1", h.PromptID)
	assert.Equal(t, "success", h.Status.StatusStr)
	assert.Equal(t, []DataOutput{
		{Filename: "a.png", Type: "output"},
		{Filename: "b.png", Subfolder: "x", Type: "temp"},
	}, h.Images())
	assert.NotContains(t, h.Outputs["9"], "count")
}
