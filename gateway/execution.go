package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/richinsley/comfyflow/client"
	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/graphapi"
	"github.com/richinsley/comfyflow/workflows"
)

// State is the lifecycle position of one execution.
type State string

const (
	StateBuilt       State = "built"
	StateSubmitted   State = "submitted"
	StateProgressing State = "progressing"
	StateFinished    State = "finished"
	StateFailed      State = "failed"
)

var transitions = map[State][]State{
	StateBuilt:       {StateSubmitted, StateFailed},
	StateSubmitted:   {StateProgressing, StateFinished, StateFailed},
	StateProgressing: {StateProgressing, StateFinished, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// Progress is one progress notification of an execution. A node starting to
// execute has Max 0; sampler steps carry Value and Max.
type Progress struct {
	PromptID string `json:"promptId"`
	State    State  `json:"state"`
	NodeID   string `json:"nodeId"`
	Title    string `json:"title,omitempty"`
	Value    int    `json:"value"`
	Max      int    `json:"max"`
}

// ProgressFunc receives progress notifications in backend order.
type ProgressFunc func(Progress)

// ExecutionResult is the outcome of a finished execution.
type ExecutionResult struct {
	PromptID string              `json:"promptId"`
	Images   []client.DataOutput `json:"images"`
	// Outputs is every output the backend reported, per node id and output name.
	Outputs  map[string]map[string][]client.DataOutput `json:"outputs"`
	Duration time.Duration                             `json:"duration"`
}

// Execution is a submitted graph. It settles exactly once, either with a
// result or with an error.
type Execution struct {
	PromptID string

	svc        *Service
	graph      *graphapi.WorkflowGraph
	item       *client.QueueItem
	onProgress ProgressFunc
	started    time.Time

	mu      sync.Mutex
	state   State
	outputs map[string]map[string][]client.DataOutput

	once   sync.Once
	done   chan struct{}
	result *ExecutionResult
	err    error
}

func newExecution(svc *Service, graph *graphapi.WorkflowGraph, onProgress ProgressFunc) *Execution {
	return &Execution{
		svc:        svc,
		graph:      graph,
		onProgress: onProgress,
		state:      StateBuilt,
		outputs:    make(map[string]map[string][]client.DataOutput),
		done:       make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (e *Execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Execution) transition(to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !canTransition(e.state, to) {
		slog.Warn("ignoring execution state change", "prompt_id", e.PromptID, "from", e.state, "to", to)
		return false
	}
	e.state = to
	return true
}

// Done is closed once the execution settled.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the execution settles or ctx is done. A done ctx only stops
// the waiting.
func (e *Execution) Wait(ctx context.Context) (*ExecutionResult, error) {
	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
		return nil, comfyerr.Handle(serviceError(ctx.Err(), comfyerr.ReasonConnectionFailed, "waiting for prompt "+e.PromptID))
	}
}

func (e *Execution) settle(result *ExecutionResult, err error) {
	e.once.Do(func() {
		to := StateFinished
		if err != nil {
			to = StateFailed
			err = comfyerr.Handle(err)
		}
		e.transition(to)
		e.result, e.err = result, err
		close(e.done)
	})
}

func (e *Execution) notify(p Progress) {
	if !e.transition(StateProgressing) {
		return
	}
	if e.onProgress != nil {
		p.PromptID = e.PromptID
		p.State = StateProgressing
		e.onProgress(p)
	}
}

func (e *Execution) handlers() *client.MessageHandlers {
	return &client.MessageHandlers{
		OnExecuting: func(m *client.PromptMessageExecuting) {
			e.notify(Progress{NodeID: m.NodeID, Title: m.Title})
		},
		OnProgress: func(m *client.PromptMessageProgress) {
			e.notify(Progress{NodeID: m.NodeID, Value: m.Value, Max: m.Max, Title: e.item.NodeTitle(m.NodeID)})
		},
		OnData: func(m *client.PromptMessageData) {
			e.mu.Lock()
			defer e.mu.Unlock()
			node := e.outputs[m.NodeID]
			if node == nil {
				node = make(map[string][]client.DataOutput)
				e.outputs[m.NodeID] = node
			}
			for k, v := range m.Data {
				node[k] = append(node[k], v...)
			}
		},
		OnError: func(x *client.PromptMessageStoppedException) {
			slog.Error("prompt failed", "prompt_id", e.PromptID, "node_id", x.NodeID,
				"node_type", x.NodeType, "error", x.ExceptionMessage)
		},
	}
}

// run follows the queued prompt until it stops.
func (e *Execution) run(ctx context.Context) {
	if err := e.item.ProcessMessages(ctx, e.handlers()); err != nil {
		e.settle(nil, serviceError(err, comfyerr.ReasonExecutionFailed, "prompt "+e.PromptID+" failed"))
		return
	}

	e.mu.Lock()
	outputs := e.outputs
	e.mu.Unlock()

	// cached executions report no outputs over the websocket
	if len(outputs) == 0 {
		history, err := e.svc.client.GetHistory(ctx, e.PromptID)
		if err != nil {
			e.settle(nil, serviceError(err, comfyerr.ReasonConnectionFailed, "cannot read the history of prompt "+e.PromptID))
			return
		}
		if history != nil {
			outputs = history.Outputs
		}
		slog.Debug("read outputs from history", "prompt_id", e.PromptID, "nodes", len(outputs))
	}

	e.settle(&ExecutionResult{
		PromptID: e.PromptID,
		Images:   imagesOf(e.graph, outputs),
		Outputs:  outputs,
		Duration: time.Since(e.started),
	}, nil)
}

// imagesOf returns the images of the graph's declared image output, or every
// image output in node order when the graph declares none.
func imagesOf(graph *graphapi.WorkflowGraph, outputs map[string]map[string][]client.DataOutput) []client.DataOutput {
	if slot, ok := graph.Output(workflows.OutputImages); ok {
		if images, ok := outputs[slot.NodeID]["images"]; ok {
			return images
		}
	}
	all := &client.PromptHistoryItem{Outputs: outputs}
	return all.Images()
}

// Submit validates and queues graph. Progress is reported to onProgress, which
// may be nil, until the returned Execution settles. The execution follows ctx:
// when ctx is done it fails, while the backend job keeps running.
func (s *Service) Submit(ctx context.Context, graph *graphapi.WorkflowGraph, onProgress ProgressFunc) (*Execution, error) {
	if graph == nil {
		return nil, comfyerr.Handle(comfyerr.NewServicesError(comfyerr.ReasonInvalidArgs, "graph is required", nil))
	}
	if err := graph.Validate(); err != nil {
		return nil, comfyerr.Handle(definitionError(err))
	}
	if s.validate {
		defs, err := s.nodeDefinitions(ctx, "")
		if err != nil {
			return nil, comfyerr.Handle(err)
		}
		if err := defs.CheckGraph(graph); err != nil {
			return nil, comfyerr.Handle(definitionError(err))
		}
	}

	e := newExecution(s, graph, onProgress)
	e.started = time.Now()
	item, err := s.client.QueuePrompt(ctx, graph)
	if err != nil {
		e.transition(StateFailed)
		return nil, comfyerr.Handle(serviceError(err, comfyerr.ReasonConnectionFailed, "cannot queue prompt"))
	}
	e.item = item
	e.PromptID = item.PromptID
	e.transition(StateSubmitted)
	slog.Debug("prompt queued", "prompt_id", item.PromptID, "number", item.Number, "nodes", graph.Len())

	go e.run(ctx)
	return e, nil
}

// ExecuteWorkflow submits graph and waits for its outcome.
func (s *Service) ExecuteWorkflow(ctx context.Context, graph *graphapi.WorkflowGraph, onProgress ProgressFunc) (*ExecutionResult, error) {
	e, err := s.Submit(ctx, graph, onProgress)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx)
}
