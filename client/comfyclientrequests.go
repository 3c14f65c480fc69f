package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/richinsley/comfyflow/graphapi"
)

/*
@routes.get("/view")
@routes.get("/system_stats")
@routes.get("/object_info")
@routes.get("/object_info/{node_class}")
@routes.get("/history/{prompt_id}")

@routes.post("/prompt")
@routes.post("/upload/image")
*/

// HTTPError is returned for responses outside the 2xx range.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// PromptRejectedError is returned when the backend refuses a prompt, usually
// because a node failed server side validation.
type PromptRejectedError struct {
	StatusCode int
	Response   PromptErrorMessage
}

func (e *PromptRejectedError) Error() string {
	msg := e.Response.Error.Message
	if msg == "" {
		msg = e.Response.Error.Type
	}
	if e.Response.Error.Details != "" {
		msg += ": " + e.Response.Error.Details
	}
	return fmt.Sprintf("prompt rejected (status %d): %s", e.StatusCode, msg)
}

func (c *ComfyClient) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *ComfyClient) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.header {
		req.Header[k] = append([]string(nil), v...)
	}
	return req, nil
}

// do executes req and returns the body of a 2xx response.
func (c *ComfyClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &HTTPError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}

func (c *ComfyClient) getJSON(ctx context.Context, path string, query url.Values, v interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return nil
}

func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	retv := &SystemStats{}
	if err := c.getJSON(ctx, "/system_stats", nil, retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetObjectInfos retrieves the definitions of every node class on the server.
func (c *ComfyClient) GetObjectInfos(ctx context.Context) (*graphapi.NodeObjects, error) {
	return c.getObjectInfo(ctx, "/object_info")
}

// GetObjectInfo retrieves the definition of one node class. The result holds a
// single entry, or none when the class is unknown.
func (c *ComfyClient) GetObjectInfo(ctx context.Context, class string) (*graphapi.NodeObjects, error) {
	return c.getObjectInfo(ctx, "/object_info/"+class)
}

// GetObjectInfoJSON returns the undecoded /object_info response, or the one of
// /object_info/{class} when class is not empty. Key order is preserved, which
// matters for the input order of node definitions.
func (c *ComfyClient) GetObjectInfoJSON(ctx context.Context, class string) (json.RawMessage, error) {
	path := "/object_info"
	if class != "" {
		path += "/" + class
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("GET %s: response is not JSON", path)
	}
	return body, nil
}

func (c *ComfyClient) getObjectInfo(ctx context.Context, path string) (*graphapi.NodeObjects, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	retv, err := graphapi.ParseNodeObjects(body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return retv, nil
}

// GetHistory returns the history entry of a prompt, or nil when the backend has
// no record of it (yet).
func (c *ComfyClient) GetHistory(ctx context.Context, promptID string) (*PromptHistoryItem, error) {
	history := make(map[string]*PromptHistoryItem)
	if err := c.getJSON(ctx, "/history/"+promptID, nil, &history); err != nil {
		return nil, err
	}
	item, ok := history[promptID]
	if !ok {
		return nil, nil
	}
	if item.PromptID == "" {
		item.PromptID = promptID
	}
	return item, nil
}

func imageQuery(image_data DataOutput) url.Values {
	params := url.Values{}
	params.Add("filename", image_data.Filename)
	params.Add("subfolder", image_data.Subfolder)
	params.Add("type", image_data.Type)
	return params
}

// ImageURL returns the /view URL of an output. Authentication headers are not
// part of the URL.
func (c *ComfyClient) ImageURL(image_data DataOutput) string {
	return c.endpoint("/view", imageQuery(image_data))
}

// GetImage downloads an output file.
func (c *ComfyClient) GetImage(ctx context.Context, image_data DataOutput) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/view", imageQuery(image_data), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// QueuePrompt submits a graph for execution. The returned item receives the
// progress messages of the prompt on its Messages channel.
func (c *ComfyClient) QueuePrompt(ctx context.Context, graph *graphapi.WorkflowGraph) (*QueueItem, error) {
	if err := c.CheckConnection(ctx); err != nil {
		return nil, err
	}

	data, err := json.Marshal(graph.ToPrompt(c.clientid))
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/prompt", nil, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	// prevent a race where the ws may provide messages about a queued item before
	// we add the item to our internal map
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := c.do(req)
	if err != nil {
		// is it one of these:
		// {"error": {"type": "prompt_no_outputs",
		//				"message": "Prompt has no outputs",
		//				"details": "",
		//				"extra_info": {}
		//			  },
		// "node_errors": {}
		// }
		var herr *HTTPError
		if errors.As(err, &herr) {
			perror := PromptErrorMessage{}
			if perr := json.Unmarshal(body, &perror); perr == nil && (perror.Error.Message != "" || perror.Error.Type != "") {
				return nil, &PromptRejectedError{StatusCode: herr.StatusCode, Response: perror}
			}
		}
		return nil, err
	}

	item := newQueueItem(graph)
	if err := json.Unmarshal(body, item); err != nil {
		slog.Error("error unmarshalling prompt response", "body", string(body))
		return nil, fmt.Errorf("POST /prompt: decode response: %w", err)
	}
	if item.PromptID == "" {
		return nil, fmt.Errorf("POST /prompt: response has no prompt_id")
	}
	if len(item.NodeErrors) > 0 {
		return nil, &PromptRejectedError{
			StatusCode: http.StatusOK,
			Response:   PromptErrorMessage{Error: PromptError{Type: "node_errors", Message: "prompt has node errors"}, NodeErrors: item.NodeErrors},
		}
	}
	c.queueditems[item.PromptID] = item
	return item, nil
}
