package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type QueuedItemStoppedReason string

const (
	QueuedItemStoppedReasonFinished    QueuedItemStoppedReason = "finished"
	QueuedItemStoppedReasonInterrupted QueuedItemStoppedReason = "interrupted"
	QueuedItemStoppedReasonError       QueuedItemStoppedReason = "error"
	// QueuedItemStoppedReasonDisconnected is reported when the websocket drops
	// before the backend finished the prompt.
	QueuedItemStoppedReasonDisconnected QueuedItemStoppedReason = "disconnected"
)

type ComfyClientCallbacks struct {
	ClientQueueCountChanged func(*ComfyClient, int)
	QueuedItemStopped       func(*ComfyClient, *QueueItem, QueuedItemStoppedReason)
}

// ComfyClient is the top level object that allows for interaction with the ComfyUI backend
type ComfyClient struct {
	baseURL    *url.URL
	clientid   string
	header     http.Header
	httpclient *http.Client
	callbacks  *ComfyClientCallbacks
	timeout    time.Duration
	maxRetry   int

	// mu guards everything below. QueuePrompt holds it from submission until the
	// item is registered, so websocket messages for a new prompt wait for it.
	mu                    sync.Mutex
	webSocket             *WebSocketConnection
	initialized           bool
	queueditems           map[string]*QueueItem
	queuecount            int
	lastProcessedPromptID string
}

type ClientOption func(*ComfyClient)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *ComfyClient) {
		c.httpclient = hc
	}
}

// WithHeader adds headers (usually authentication) to every HTTP request and to
// the websocket handshake.
func WithHeader(h http.Header) ClientOption {
	return func(c *ComfyClient) {
		for k, v := range h {
			c.header[k] = append([]string(nil), v...)
		}
	}
}

func WithCallbacks(cb *ComfyClientCallbacks) ClientOption {
	return func(c *ComfyClient) {
		c.callbacks = cb
	}
}

// WithTimeout bounds the websocket connection phase.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *ComfyClient) {
		c.timeout = d
	}
}

// WithMaxRetry sets how many times the websocket connection is retried.
func WithMaxRetry(n int) ClientOption {
	return func(c *ComfyClient) {
		c.maxRetry = n
	}
}

func WithClientID(id string) ClientOption {
	return func(c *ComfyClient) {
		c.clientid = id
	}
}

// NewComfyClient creates a new instance of a ComfyUI client for a base URL such as
// http://127.0.0.1:8188. No connection is made until Init.
func NewComfyClient(baseURL string, opts ...ClientOption) (*ComfyClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", baseURL)
	}

	retv := &ComfyClient{
		baseURL:     u,
		clientid:    uuid.New().String(),
		header:      make(http.Header),
		httpclient:  &http.Client{},
		timeout:     30 * time.Second,
		maxRetry:    3,
		queueditems: make(map[string]*QueueItem),
	}
	for _, opt := range opts {
		opt(retv)
	}
	return retv, nil
}

// BaseURL returns the backend base URL.
func (c *ComfyClient) BaseURL() string {
	return c.baseURL.String()
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// IsInitialized returns true if the client's websocket is connected
func (c *ComfyClient) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// QueueCount returns the queue length last reported by the backend.
func (c *ComfyClient) QueueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queuecount
}

// CheckConnection (re)initializes the websocket connection if it is not active.
func (c *ComfyClient) CheckConnection(ctx context.Context) error {
	if c.IsInitialized() {
		return nil
	}
	return c.Init(ctx)
}

// Init starts the websocket connection if it is not already connected.
func (c *ComfyClient) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	ws := &WebSocketConnection{
		WebSocketURL:   c.websocketURL(),
		Header:         c.header.Clone(),
		ConnectionDone: make(chan bool, 1),
		MaxRetry:       c.maxRetry,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Callback:       c,
		Dialer:         websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	c.webSocket = ws
	c.mu.Unlock()

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = -1
	}
	if err := ws.ConnectWithManager(timeout); err != nil {
		select {
		case ws.ConnectionDone <- true:
		default:
		}
		return fmt.Errorf("websocket connect %s: %w", ws.WebSocketURL, err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	slog.Debug("connected to ComfyUI", "url", c.BaseURL(), "client_id", c.clientid)
	return nil
}

// Close closes the websocket. Pending queue items are stopped with
// QueuedItemStoppedReasonDisconnected.
func (c *ComfyClient) Close() error {
	c.mu.Lock()
	ws := c.webSocket
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close()
}

func (c *ComfyClient) websocketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientid}}.Encode()
	return u.String()
}

// GetQueuedItem returns a QueueItem that was queued with the ComfyClient, that has not been processed yet
// or is currently being processed.  Once a QueueItem has been processed, it will not be available with this method.
func (c *ComfyClient) GetQueuedItem(prompt_id string) *QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueditems[prompt_id]
}

// OnDisconnect stops every pending queue item; the backend keeps running them
// but this client can no longer observe their progress.
func (c *ComfyClient) OnDisconnect(err error) {
	c.mu.Lock()
	c.initialized = false
	pending := make([]*QueueItem, 0, len(c.queueditems))
	for id, qi := range c.queueditems {
		pending = append(pending, qi)
		delete(c.queueditems, id)
	}
	c.mu.Unlock()

	msg := "websocket closed"
	if err != nil {
		msg = err.Error()
	}
	for _, qi := range pending {
		c.stop(qi, QueuedItemStoppedReasonDisconnected, &PromptMessageStoppedException{
			ExceptionType:    "connection_lost",
			ExceptionMessage: msg,
		})
	}
}

// OnMessage processes each message received from the websocket connection to ComfyUI.
// The messages are parsed, and translated into PromptMessage structs and placed into the correct QueuedItem's message channel.
func (c *ComfyClient) OnMessage(msg string) {
	message := &WSStatusMessage{}
	if err := json.Unmarshal([]byte(msg), message); err != nil {
		slog.Error("Deserializing Status Message", "error", err)
		return
	}

	c.mu.Lock()
	promptID := message.PromptID()
	if message.Type == "execution_start" {
		// update lastProcessedPromptID to indicate we are processing a new prompt
		c.lastProcessedPromptID = promptID
	}
	if promptID == "" {
		promptID = c.lastProcessedPromptID
	}
	qi := c.queueditems[promptID]
	c.mu.Unlock()

	switch message.Type {
	case "status":
		s := message.Data.(*WSMessageDataStatus)
		c.mu.Lock()
		c.queuecount = s.Status.ExecInfo.QueueRemaining
		c.mu.Unlock()
		if c.callbacks != nil && c.callbacks.ClientQueueCountChanged != nil {
			c.callbacks.ClientQueueCountChanged(c, s.Status.ExecInfo.QueueRemaining)
		}
	case "execution_start":
		if qi != nil {
			qi.deliver(PromptMessage{
				Type:    "started",
				Message: &PromptMessageStarted{PromptID: qi.PromptID},
			})
		}
	case "execution_cached":
		// cached nodes emit no "executed" message; outputs are only in /history
	case "executing":
		s := message.Data.(*WSMessageDataExecuting)
		if qi == nil {
			return
		}
		if s.Node == nil {
			// final node was processed
			c.stop(qi, QueuedItemStoppedReasonFinished, nil)
			return
		}
		qi.deliver(PromptMessage{
			Type: "executing",
			Message: &PromptMessageExecuting{
				NodeID: *s.Node,
				Title:  qi.NodeTitle(*s.Node),
			},
		})
	case "progress":
		s := message.Data.(*WSMessageDataProgress)
		if qi != nil {
			qi.deliver(PromptMessage{
				Type:    "progress",
				Message: &PromptMessageProgress{NodeID: s.Node, Value: s.Value, Max: s.Max},
			})
		}
	case "executed":
		s := message.Data.(*WSMessageDataExecuted)
		if qi != nil {
			qi.deliver(PromptMessage{
				Type:    "data",
				Message: &PromptMessageData{NodeID: s.Node, Data: s.Output},
			})
		}
	case "execution_success":
		if qi != nil {
			c.stop(qi, QueuedItemStoppedReasonFinished, nil)
		}
	case "execution_interrupted":
		if qi != nil {
			c.stop(qi, QueuedItemStoppedReasonInterrupted, nil)
		}
	case "execution_error":
		s := message.Data.(*WSMessageExecutionError)
		if qi != nil {
			c.stop(qi, QueuedItemStoppedReasonError, &PromptMessageStoppedException{
				NodeID:           s.Node,
				NodeType:         s.NodeType,
				NodeName:         qi.NodeTitle(s.Node),
				ExceptionMessage: s.ExceptionMessage,
				ExceptionType:    s.ExceptionType,
				Traceback:        s.Traceback,
			})
		}
	default:
		slog.Debug("Unhandled message type", "type", message.Type)
	}
}

// stop removes the item from the queue and sends its final message. No other
// messages will be sent to the channel after this.
func (c *ComfyClient) stop(qi *QueueItem, reason QueuedItemStoppedReason, exc *PromptMessageStoppedException) {
	c.mu.Lock()
	_, pending := c.queueditems[qi.PromptID]
	delete(c.queueditems, qi.PromptID)
	c.mu.Unlock()
	if !pending && reason != QueuedItemStoppedReasonDisconnected {
		// already stopped by an earlier terminal message
		return
	}

	if c.callbacks != nil && c.callbacks.QueuedItemStopped != nil {
		c.callbacks.QueuedItemStopped(c, qi, reason)
	}
	qi.deliver(PromptMessage{
		Type: "stopped",
		Message: &PromptMessageStopped{
			QueueItem: qi,
			Reason:    reason,
			Exception: exc,
		},
	})
}
