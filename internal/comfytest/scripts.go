package comfytest

import (
	"fmt"

	"github.com/richinsley/comfyflow/graphapi"
)

// ProgressSteps is the number of progress events SuccessScript sends per sampler.
const ProgressSteps = 3

// ImageName is the filename SuccessScript reports for the n-th image of a run.
func ImageName(n int) string {
	return fmt.Sprintf("comfyflow_%05d_.png", n)
}

func sortedIDs(nodes map[string]graphapi.PromptNode) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// imageOutputs gives every output node one image.
func imageOutputs(nodes map[string]graphapi.PromptNode) (map[string]interface{}, map[string][]interface{}) {
	history := make(map[string]interface{})
	images := make(map[string][]interface{})
	for i, id := range outputNodes(nodes) {
		ftype := "output"
		if nodes[id].ClassType == "PreviewImage" {
			ftype = "temp"
		}
		list := []interface{}{
			map[string]interface{}{"filename": ImageName(i + 1), "subfolder": "", "type": ftype},
		}
		images[id] = list
		history[id] = map[string]interface{}{"images": list}
	}
	return history, images
}

// SuccessScript runs every node in id order, reports sampler progress and
// finishes with one image per output node.
func SuccessScript(promptID string, nodes map[string]graphapi.PromptNode) ([]Event, map[string]interface{}) {
	history, images := imageOutputs(nodes)
	events := []Event{
		{Type: "execution_start", Data: map[string]interface{}{"prompt_id": promptID}},
		{Type: "execution_cached", Data: map[string]interface{}{"nodes": []string{}, "prompt_id": promptID}},
	}
	for _, id := range sortedIDs(nodes) {
		events = append(events, Event{Type: "executing", Data: map[string]interface{}{"node": id, "prompt_id": promptID}})
		if nodes[id].ClassType == "KSampler" {
			for v := 1; v <= ProgressSteps; v++ {
				events = append(events, Event{Type: "progress", Data: map[string]interface{}{
					"value": v, "max": ProgressSteps, "prompt_id": promptID, "node": id,
				}})
			}
		}
		if list, ok := images[id]; ok {
			events = append(events, Event{Type: "executed", Data: map[string]interface{}{
				"node": id, "output": map[string]interface{}{"images": list}, "prompt_id": promptID,
			}})
		}
	}
	events = append(events,
		Event{Type: "executing", Data: map[string]interface{}{"node": nil, "prompt_id": promptID}},
		Event{Type: "execution_success", Data: map[string]interface{}{"prompt_id": promptID}},
	)
	return events, history
}

// CachedScript behaves like a backend that had every node cached: no executed
// messages are sent, the images are only in the history.
func CachedScript(promptID string, nodes map[string]graphapi.PromptNode) ([]Event, map[string]interface{}) {
	history, _ := imageOutputs(nodes)
	return []Event{
		{Type: "execution_start", Data: map[string]interface{}{"prompt_id": promptID}},
		{Type: "execution_cached", Data: map[string]interface{}{"nodes": sortedIDs(nodes), "prompt_id": promptID}},
		{Type: "executing", Data: map[string]interface{}{"node": nil, "prompt_id": promptID}},
	}, history
}

// EmptyScript finishes without producing any output.
func EmptyScript(promptID string, nodes map[string]graphapi.PromptNode) ([]Event, map[string]interface{}) {
	return []Event{
		{Type: "execution_start", Data: map[string]interface{}{"prompt_id": promptID}},
		{Type: "executing", Data: map[string]interface{}{"node": nil, "prompt_id": promptID}},
	}, map[string]interface{}{}
}

// ErrorScript fails on the first node of class with an exception message.
func ErrorScript(class, message string) Script {
	return func(promptID string, nodes map[string]graphapi.PromptNode) ([]Event, map[string]interface{}) {
		failing := ""
		for _, id := range sortedIDs(nodes) {
			if nodes[id].ClassType == class {
				failing = id
				break
			}
		}
		return []Event{
			{Type: "execution_start", Data: map[string]interface{}{"prompt_id": promptID}},
			{Type: "executing", Data: map[string]interface{}{"node": failing, "prompt_id": promptID}},
			{Type: "execution_error", Data: map[string]interface{}{
				"prompt_id":         promptID,
				"node_id":           failing,
				"node_type":         class,
				"executed":          []string{},
				"exception_message": message,
				"exception_type":    "RuntimeError",
				"traceback":         []string{"Traceback (most recent call last):"},
				"current_inputs":    map[string]interface{}{},
				"current_outputs":   map[string]interface{}{},
			}},
		}, nil
	}
}

// InterruptScript stops after the first node as if the queue was interrupted.
func InterruptScript(promptID string, nodes map[string]graphapi.PromptNode) ([]Event, map[string]interface{}) {
	ids := sortedIDs(nodes)
	return []Event{
		{Type: "execution_start", Data: map[string]interface{}{"prompt_id": promptID}},
		{Type: "executing", Data: map[string]interface{}{"node": ids[0], "prompt_id": promptID}},
		{Type: "execution_interrupted", Data: map[string]interface{}{
			"prompt_id": promptID, "node_id": ids[0], "node_type": nodes[ids[0]].ClassType, "executed": []string{},
		}},
	}, nil
}
