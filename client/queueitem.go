package client

import (
	"strings"
	"sync"

	"github.com/richinsley/comfyflow/graphapi"
)

// messageBuffer is the number of messages a QueueItem holds before the
// websocket reader waits for its consumer.
const messageBuffer = 64

type QueueItem struct {
	PromptID   string                  `json:"prompt_id"`
	Number     int                     `json:"number"`
	NodeErrors map[string]interface{}  `json:"node_errors"`
	Messages   chan PromptMessage      `json:"-"`
	Workflow   *graphapi.WorkflowGraph `json:"-"`

	done      chan struct{}
	closeOnce sync.Once
}

func newQueueItem(graph *graphapi.WorkflowGraph) *QueueItem {
	return &QueueItem{
		Workflow: graph,
		Messages: make(chan PromptMessage, messageBuffer),
		done:     make(chan struct{}),
	}
}

// Close tells the client the consumer has stopped reading Messages. Messages
// produced afterwards are dropped. Close does not cancel the backend job.
func (qi *QueueItem) Close() {
	qi.closeOnce.Do(func() {
		close(qi.done)
	})
}

// deliver hands m to the consumer unless it has gone away.
func (qi *QueueItem) deliver(m PromptMessage) bool {
	select {
	case <-qi.done:
		return false
	default:
	}
	select {
	case qi.Messages <- m:
		return true
	case <-qi.done:
		return false
	}
}

// NodeTitle returns the display title of a node of the queued workflow. Ids of
// expanded group nodes ("57:8") resolve to their outer node.
func (qi *QueueItem) NodeTitle(id string) string {
	if qi.Workflow == nil {
		return id
	}
	node, ok := qi.Workflow.Node(id)
	if !ok {
		if i := strings.IndexByte(id, ':'); i > 0 {
			node, ok = qi.Workflow.Node(id[:i])
		}
	}
	if !ok {
		return id
	}
	if node.Meta.Title != "" {
		return node.Meta.Title
	}
	return node.ClassType
}
