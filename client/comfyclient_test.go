package client

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/richinsley/comfyflow/graphapi"
	"github.com/richinsley/comfyflow/internal/comfytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadGraph(t *testing.T) *graphapi.WorkflowGraph {
	t.Helper()
	data, err := os.ReadFile("../graphapi/testdata/sd15_prompt.json")
	require.NoError(t, err)
	g, err := graphapi.ParsePrompt(data)
	require.NoError(t, err)
	return g
}

func newTestClient(t *testing.T, srv *comfytest.Server, opts ...ClientOption) *ComfyClient {
	t.Helper()
	opts = append([]ClientOption{WithTimeout(5 * time.Second), WithMaxRetry(0)}, opts...)
	c, err := NewComfyClient(srv.URL, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewComfyClientValidatesURL(t *testing.T) {
	_, err := NewComfyClient("ftp://example.com")
	assert.Error(t, err)
	_, err = NewComfyClient("http://")
	assert.Error(t, err)

	c, err := NewComfyClient("https://comfy.example.com:8443/base/", WithClientID("fixed"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", c.ClientID())
	assert.Equal(t, "wss://comfy.example.com:8443/base/ws?clientId=fixed", c.websocketURL())
	assert.Equal(t, "https://comfy.example.com:8443/base/view?filename=a.png&subfolder=&type=output",
		c.ImageURL(DataOutput{Filename: "a.png", Type: "output"}))
}

func TestQueuePromptSuccess(t *testing.T) {
	srv := comfytest.New()
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := testContext(t)

	item, err := c.QueuePrompt(ctx, loadGraph(t))
	require.NoError(t, err)
	assert.NotEmpty(t, item.PromptID)
	assert.True(t, c.IsInitialized())

	var executing []string
	var titles []string
	var progress []int
	var data []*PromptMessageData
	var stopped *PromptMessageStopped
	handlers := (&MessageHandlers{}).
		WithExecutingHandler(func(m *PromptMessageExecuting) {
			executing = append(executing, m.NodeID)
			titles = append(titles, m.Title)
		}).
		WithProgressHandler(func(m *PromptMessageProgress) {
			progress = append(progress, m.Value)
			assert.Equal(t, comfytest.ProgressSteps, m.Max)
			assert.Equal(t, "3", m.NodeID)
		}).
		WithDataHandler(func(m *PromptMessageData) {
			data = append(data, m)
		}).
		WithStoppedHandler(func(m *PromptMessageStopped) {
			stopped = m
		})

	require.NoError(t, item.ProcessMessages(ctx, handlers))
	assert.Equal(t, []string{"3", "4", "5", "6", "7", "8", "9"}, executing)
	assert.Contains(t, titles, "Save Image")
	assert.Contains(t, titles, "CheckpointLoaderSimple")
	assert.Equal(t, []int{1, 2, 3}, progress)
	require.Len(t, data, 1)
	assert.Equal(t, "9", data[0].NodeID)
	assert.Equal(t, []DataOutput{{Filename: comfytest.ImageName(1), Type: "output"}}, data[0].Data["images"])
	require.NotNil(t, stopped)
	assert.Equal(t, QueuedItemStoppedReasonFinished, stopped.Reason)
	assert.Nil(t, c.GetQueuedItem(item.PromptID))

	prompts := srv.Prompts()
	require.Contains(t, prompts, item.PromptID)
	assert.Equal(t, "KSampler", prompts[item.PromptID]["3"].ClassType)
}

func TestQueuePromptExecutionError(t *testing.T) {
	srv := comfytest.New(comfytest.WithScript(comfytest.ErrorScript("KSampler", "CUDA out of memory")))
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := testContext(t)

	var reported *PromptMessageStoppedException
	handlers := DefaultMessageHandlers()
	handlers.OnError = func(e *PromptMessageStoppedException) { reported = e }

	item, err := c.QueuePromptAndProcess(ctx, loadGraph(t), handlers)
	require.Error(t, err)
	require.NotNil(t, item)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, QueuedItemStoppedReasonError, execErr.Reason)
	require.NotNil(t, execErr.Exception)
	assert.Equal(t, "3", execErr.Exception.NodeID)
	assert.Equal(t, "KSampler", execErr.Exception.NodeType)
	assert.Equal(t, "CUDA out of memory", execErr.Exception.ExceptionMessage)
	assert.Same(t, execErr.Exception, reported)
}

func TestQueuePromptInterrupted(t *testing.T) {
	srv := comfytest.New(comfytest.WithScript(comfytest.InterruptScript))
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := testContext(t)

	_, err := c.QueuePromptAndProcess(ctx, loadGraph(t), nil)
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, QueuedItemStoppedReasonInterrupted, execErr.Reason)
	assert.Nil(t, execErr.Exception)
}

func TestQueuePromptRejected(t *testing.T) {
	srv := comfytest.New()
	defer srv.Close()
	c := newTestClient(t, srv)

	b := graphapi.NewGraphBuilder()
	b.AddNode("CheckpointLoaderSimple", "", map[string]interface{}{"ckpt_name": "v1-5-pruned-emaonly.safetensors"})
	g, err := b.Build()
	require.NoError(t, err)

	_, err = c.QueuePrompt(testContext(t), g)
	var rejected *PromptRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Equal(t, "prompt_no_outputs", rejected.Response.Error.Type)
	assert.Contains(t, rejected.Error(), "Prompt has no outputs")
}

func TestCachedPromptOutputsComeFromHistory(t *testing.T) {
	srv := comfytest.New(comfytest.WithScript(comfytest.CachedScript))
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := testContext(t)

	dataSeen := false
	item, err := c.QueuePromptAndProcess(ctx, loadGraph(t), (&MessageHandlers{}).WithDataHandler(func(*PromptMessageData) {
		dataSeen = true
	}))
	require.NoError(t, err)
	assert.False(t, dataSeen)

	h, err := c.GetHistory(ctx, item.PromptID)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, item.PromptID, h.PromptID)
	assert.True(t, h.Status.Completed)
	assert.Equal(t, []DataOutput{{Filename: comfytest.ImageName(1), Type: "output"}}, h.Images())

	h, err = c.GetHistory(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestDisconnectStopsPendingItems(t *testing.T) {
	hold := func(promptID string, nodes map[string]graphapi.PromptNode) ([]comfytest.Event, map[string]interface{}) {
		return []comfytest.Event{{Type: "execution_start", Data: map[string]interface{}{"prompt_id": promptID}}}, nil
	}
	srv := comfytest.New(comfytest.WithScript(hold))
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := testContext(t)

	item, err := c.QueuePrompt(ctx, loadGraph(t))
	require.NoError(t, err)
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- item.ProcessMessages(ctx, &MessageHandlers{OnStarted: func(*PromptMessageStarted) { close(started) }})
	}()

	<-started
	srv.DropConnections()

	err = <-done
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, QueuedItemStoppedReasonDisconnected, execErr.Reason)
	require.NotNil(t, execErr.Exception)
	assert.Equal(t, "connection_lost", execErr.Exception.ExceptionType)
	assert.Eventually(t, func() bool { return !c.IsInitialized() }, time.Second, 10*time.Millisecond)
}

func TestProcessMessagesHonorsContext(t *testing.T) {
	hold := func(promptID string, nodes map[string]graphapi.PromptNode) ([]comfytest.Event, map[string]interface{}) {
		return nil, nil
	}
	srv := comfytest.New(comfytest.WithScript(hold))
	defer srv.Close()
	c := newTestClient(t, srv)

	item, err := c.QueuePrompt(testContext(t), loadGraph(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = item.ProcessMessages(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// a closed item no longer blocks the reader
	assert.False(t, item.deliver(PromptMessage{Type: "progress"}))
}

func TestQueueCountCallback(t *testing.T) {
	srv := comfytest.New()
	defer srv.Close()
	counts := make(chan int, 4)
	c := newTestClient(t, srv, WithCallbacks(&ComfyClientCallbacks{
		ClientQueueCountChanged: func(_ *ComfyClient, n int) { counts <- n },
	}))
	require.NoError(t, c.Init(testContext(t)))

	assert.Equal(t, 0, <-counts)
	require.NoError(t, srv.Send(c.ClientID(), comfytest.Event{Type: "status", Data: map[string]interface{}{
		"status": map[string]interface{}{"exec_info": map[string]interface{}{"queue_remaining": 2}},
	}}))
	assert.Equal(t, 2, <-counts)
	assert.Equal(t, 2, c.QueueCount())
}

func TestAuthHeaders(t *testing.T) {
	srv := comfytest.New(comfytest.WithAuth("Authorization", "Bearer secret"))
	defer srv.Close()
	ctx := testContext(t)

	anon := newTestClient(t, srv)
	_, err := anon.GetSystemStats(ctx)
	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusUnauthorized, herr.StatusCode)
	assert.Error(t, anon.Init(ctx))

	authed := newTestClient(t, srv, WithHeader(http.Header{"Authorization": {"Bearer secret"}}))
	stats, err := authed.GetSystemStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.Devices, 1)
	assert.Equal(t, "cuda", stats.Devices[0].Type)

	_, err = authed.QueuePromptAndProcess(ctx, loadGraph(t), nil)
	require.NoError(t, err)
}

func TestObjectInfo(t *testing.T) {
	srv := comfytest.New()
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := testContext(t)

	all, err := c.GetObjectInfos(ctx)
	require.NoError(t, err)
	assert.Contains(t, all.Names(), "KSampler")
	assert.Contains(t, all.ComboValues("UNETLoader", "unet_name"), "flux1-dev.safetensors")

	one, err := c.GetObjectInfo(ctx, "VAELoader")
	require.NoError(t, err)
	assert.Equal(t, []string{"VAELoader"}, one.Names())

	none, err := c.GetObjectInfo(ctx, "NoSuchNode")
	require.NoError(t, err)
	assert.Empty(t, none.Names())
}

func TestUploadAndView(t *testing.T) {
	srv := comfytest.New()
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := testContext(t)

	res, err := c.UploadFileFromReader(ctx, strings.NewReader("pixels"), "input.png", false, InputImageType, "")
	require.NoError(t, err)
	assert.Equal(t, "input.png", res.Name)
	assert.Equal(t, "input", res.Type)

	res, err = c.UploadFileFromReader(ctx, strings.NewReader("pixels"), "input.png", false, InputImageType, "")
	require.NoError(t, err)
	assert.NotEqual(t, "input.png", res.Name)

	img, err := c.GetImage(ctx, DataOutput{Filename: "a.png", Type: "output"})
	require.NoError(t, err)
	assert.Equal(t, comfytest.ImageBytes, img)

	failing := comfytest.New(comfytest.WithUploadStatus(http.StatusInternalServerError))
	defer failing.Close()
	_, err = newTestClient(t, failing).UploadFileFromReader(ctx, strings.NewReader("x"), "x.png", true, InputImageType, "")
	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusInternalServerError, herr.StatusCode)
}
