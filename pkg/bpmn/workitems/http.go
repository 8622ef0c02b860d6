package workitems

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	ParameterUrl    = "url"
	ParameterMethod = "method"
	ParameterBody   = "body"

	ResultStatus = "status"
	ResultBody   = "body"
)

// HTTP calls the url parameter of a work item and completes it with the response.
// The body parameter is sent as JSON, a JSON response body is decoded into the body result.
// Responses with status 4xx and 5xx fail the work item with the status as error code.
type HTTP struct {
	client *http.Client
}

var _ bpmn.WorkItemHandler = (*HTTP)(nil)

// NewHTTP creates the handler on top of client, its transport is wrapped to propagate the trace of the task.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	traced := *client
	traced.Transport = otelhttp.NewTransport(baseTransport(client.Transport))
	return &HTTP{client: &traced}
}

func baseTransport(transport http.RoundTripper) http.RoundTripper {
	if transport == nil {
		return http.DefaultTransport
	}
	return transport
}

func (h *HTTP) Execute(ctx context.Context, item runtime.WorkItem, manager bpmn.WorkItemManager) error {
	url, ok := item.Parameters[ParameterUrl].(string)
	if !ok || url == "" {
		return fmt.Errorf("work item %d has no %s parameter", item.Key, ParameterUrl)
	}
	method := http.MethodGet
	if m, ok := item.Parameters[ParameterMethod].(string); ok && m != "" {
		method = m
	}
	var body io.Reader
	if payload, ok := item.Parameters[ParameterBody]; ok && payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode body of work item %d: %w", item.Key, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response of %s: %w", url, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return manager.FailWorkItem(ctx, item.Key, strconv.Itoa(resp.StatusCode), string(data))
	}
	var result any = string(data)
	var decoded any
	if json.Unmarshal(data, &decoded) == nil {
		result = decoded
	}
	return manager.CompleteWorkItem(ctx, item.Key, map[string]any{
		ResultStatus: int64(resp.StatusCode),
		ResultBody:   result,
	})
}

func (h *HTTP) Abort(context.Context, runtime.WorkItem, bpmn.WorkItemManager) {}
