package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/richinsley/comfyflow/graphapi"
)

// ExecutionError is returned by ProcessMessages when a prompt did not finish.
type ExecutionError struct {
	PromptID  string
	Reason    QueuedItemStoppedReason
	Exception *PromptMessageStoppedException
}

func (e *ExecutionError) Error() string {
	if e.Exception != nil {
		return fmt.Sprintf("prompt %s %s: %s - %s", e.PromptID, e.Reason,
			e.Exception.ExceptionType, e.Exception.ExceptionMessage)
	}
	return fmt.Sprintf("prompt %s %s", e.PromptID, e.Reason)
}

// MessageHandlers defines optional callback functions for handling different message types
// from a QueueItem. All handlers are optional - only provide handlers for the messages you care about.
type MessageHandlers struct {
	// OnStarted is called when execution begins
	OnStarted func(*PromptMessageStarted)

	// OnExecuting is called when a node starts executing
	OnExecuting func(*PromptMessageExecuting)

	// OnProgress is called with progress updates during node execution
	OnProgress func(*PromptMessageProgress)

	// OnData is called when output data is available
	OnData func(*PromptMessageData)

	// OnStopped is called when execution stops (success, error, or interruption)
	OnStopped func(*PromptMessageStopped)

	// OnError is called if there was an exception during execution
	// This is called before OnStopped when an error occurs
	OnError func(*PromptMessageStoppedException)
}

// DefaultMessageHandlers returns MessageHandlers that log started, executing
// and failed prompts.
func DefaultMessageHandlers() *MessageHandlers {
	return &MessageHandlers{
		OnStarted: func(msg *PromptMessageStarted) {
			slog.Debug("Execution started", "prompt_id", msg.PromptID)
		},
		OnExecuting: func(msg *PromptMessageExecuting) {
			slog.Debug("Executing node", "node_id", msg.NodeID, "title", msg.Title)
		},
		OnError: func(err *PromptMessageStoppedException) {
			slog.Error("Execution error",
				"node_id", err.NodeID,
				"node_type", err.NodeType,
				"error", err.ExceptionMessage,
			)
		},
	}
}

// WithExecutingHandler adds an executing handler (builder pattern)
func (h *MessageHandlers) WithExecutingHandler(fn func(*PromptMessageExecuting)) *MessageHandlers {
	h.OnExecuting = fn
	return h
}

// WithProgressHandler adds a progress handler (builder pattern)
func (h *MessageHandlers) WithProgressHandler(fn func(*PromptMessageProgress)) *MessageHandlers {
	h.OnProgress = fn
	return h
}

// WithDataHandler adds a data handler (builder pattern)
func (h *MessageHandlers) WithDataHandler(fn func(*PromptMessageData)) *MessageHandlers {
	h.OnData = fn
	return h
}

// WithStoppedHandler adds a stopped handler (builder pattern)
func (h *MessageHandlers) WithStoppedHandler(fn func(*PromptMessageStopped)) *MessageHandlers {
	h.OnStopped = fn
	return h
}

// ProcessMessages processes messages from the QueueItem using the provided handlers.
// It blocks until execution stops or ctx is done, and returns an *ExecutionError
// if the prompt did not finish. When ctx is done the item is closed; the
// backend job keeps running.
func (qi *QueueItem) ProcessMessages(ctx context.Context, handlers *MessageHandlers) error {
	if handlers == nil {
		handlers = &MessageHandlers{}
	}

	for {
		var msg PromptMessage
		select {
		case msg = <-qi.Messages:
		case <-ctx.Done():
			qi.Close()
			return ctx.Err()
		}

		switch msg.Type {
		case "started":
			if handlers.OnStarted != nil {
				handlers.OnStarted(msg.ToPromptMessageStarted())
			}

		case "executing":
			if handlers.OnExecuting != nil {
				handlers.OnExecuting(msg.ToPromptMessageExecuting())
			}

		case "progress":
			if handlers.OnProgress != nil {
				handlers.OnProgress(msg.ToPromptMessageProgress())
			}

		case "data":
			if handlers.OnData != nil {
				handlers.OnData(msg.ToPromptMessageData())
			}

		case "stopped":
			stopped := msg.ToPromptMessageStopped()

			var executionError error
			if stopped.Reason != QueuedItemStoppedReasonFinished {
				if stopped.Exception != nil && handlers.OnError != nil {
					handlers.OnError(stopped.Exception)
				}
				executionError = &ExecutionError{
					PromptID:  qi.PromptID,
					Reason:    stopped.Reason,
					Exception: stopped.Exception,
				}
			}

			if handlers.OnStopped != nil {
				handlers.OnStopped(stopped)
			}
			qi.Close()
			return executionError

		default:
			slog.Warn("Unknown message type received", "type", msg.Type)
		}
	}
}

// QueuePromptAndProcess queues a prompt and processes its messages until it
// stops. Messages that arrive before processing starts are buffered by the
// QueueItem, so none are lost.
func (c *ComfyClient) QueuePromptAndProcess(ctx context.Context, graph *graphapi.WorkflowGraph, handlers *MessageHandlers) (*QueueItem, error) {
	item, err := c.QueuePrompt(ctx, graph)
	if err != nil {
		return nil, fmt.Errorf("failed to queue prompt: %w", err)
	}
	return item, item.ProcessMessages(ctx, handlers)
}
