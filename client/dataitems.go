package client

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// There may be other DataOutput types.  Text outputs carry their value in Text.

type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"` // for "text" type data output
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	EmbeddedPython bool   `json:"embedded_python"`
	ComfyUIVersion string `json:"comfyui_version,omitempty"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}

// PromptHistoryStatus is the completion record the backend keeps per prompt.
type PromptHistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// PromptHistoryItem is one entry of /history/{prompt_id}. Outputs are keyed by
// node id, then by output name.
type PromptHistoryItem struct {
	PromptID string
	Index    int
	Outputs  map[string]map[string][]DataOutput
	Status   PromptHistoryStatus
}

func (h *PromptHistoryItem) UnmarshalJSON(b []byte) error {
	// The prompt is stored as an array layed out like this:
	// [
	// 	[0] index 		int,
	// 	[1] promptID 	string,
	// 	[2] prompt 		map[string]graphapi.PromptNode, // ignored
	// 	[3] extra_data 	map[string]interface{},         // ignored
	//  [4] outputs     []string 						// array of nodeIDs that have outputs
	// ]
	var temp struct {
		Prompt  []json.RawMessage                     `json:"prompt"`
		Outputs map[string]map[string]json.RawMessage `json:"outputs"`
		Status  PromptHistoryStatus                   `json:"status"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	if len(temp.Prompt) > 1 {
		var index float64
		if err := json.Unmarshal(temp.Prompt[0], &index); err == nil {
			h.Index = int(index)
		}
		var id string
		if err := json.Unmarshal(temp.Prompt[1], &id); err == nil {
			h.PromptID = id
		}
	}
	h.Status = temp.Status

	h.Outputs = make(map[string]map[string][]DataOutput, len(temp.Outputs))
	for nodeID, outputs := range temp.Outputs {
		node := make(map[string][]DataOutput, len(outputs))
		for name, raw := range outputs {
			var items []interface{}
			if err := json.Unmarshal(raw, &items); err != nil {
				// scalar outputs (booleans, counts) are not data items
				continue
			}
			node[name] = parseDataOutputs(items)
		}
		h.Outputs[nodeID] = node
	}
	return nil
}

// Images returns every image output of the prompt in node id order.
func (h *PromptHistoryItem) Images() []DataOutput {
	retv := make([]DataOutput, 0)
	for _, id := range sortedNodeIDs(h.Outputs) {
		retv = append(retv, h.Outputs[id]["images"]...)
	}
	return retv
}

// parseDataOutputs converts the loosely typed items of one output into
// DataOutputs. Plain strings become text outputs.
func parseDataOutputs(items []interface{}) []DataOutput {
	retv := make([]DataOutput, 0, len(items))
	for _, i := range items {
		switch v := i.(type) {
		case map[string]interface{}:
			filename, ok := v["filename"].(string)
			if !ok {
				continue
			}
			ftype, ok := v["type"].(string)
			if !ok {
				continue
			}
			// subfolder may be absent
			subfolder, _ := v["subfolder"].(string)
			retv = append(retv, DataOutput{Filename: filename, Subfolder: subfolder, Type: ftype})
		case string:
			retv = append(retv, DataOutput{Type: "text", Text: v})
		default:
			retv = append(retv, DataOutput{Type: "unknown", Text: fmt.Sprint(v)})
		}
	}
	return retv
}

// sortedNodeIDs orders node ids numerically where possible.
func sortedNodeIDs[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	less := func(a, b string) bool {
		ai, aerr := strconv.Atoi(a)
		bi, berr := strconv.Atoi(b)
		if aerr == nil && berr == nil {
			return ai < bi
		}
		if (aerr == nil) != (berr == nil) {
			return aerr == nil
		}
		return a < b
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}

type PromptError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details"`
	ExtraInfo map[string]interface{} `json:"extra_info"`
}

type PromptErrorMessage struct {
	Error      PromptError            `json:"error"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}
