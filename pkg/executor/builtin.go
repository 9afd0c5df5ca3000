package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/osprey-intel/taskflow/pkg/task"
)

// Echo returns the request payload as the task result. Useful for wiring
// tests and demo workflows.
func Echo() Executor {
	return Func(func(ctx context.Context, req Request) (task.Result, error) {
		result := make(task.Result, len(req.Payload))
		for k, v := range req.Payload {
			result[k] = v
		}
		return result, nil
	})
}

// Delay sleeps for the duration named by the payload's "duration" field
// (time.ParseDuration syntax), honoring cancellation.
func Delay() Executor {
	return Func(func(ctx context.Context, req Request) (task.Result, error) {
		raw, ok := req.Payload["duration"].(string)
		if !ok {
			return nil, fmt.Errorf("task %s: delay payload needs a duration string", req.TaskID)
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", req.TaskID, err)
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		return task.Result{"slept": d.String()}, nil
	})
}

// HTTPExecutor posts the task payload as JSON to the url named in the
// payload and returns the decoded JSON response as the task result.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor wraps client; a nil client uses http.DefaultClient. The
// per-task context carries the deadline, so the client needs no timeout of
// its own.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Execute(ctx context.Context, req Request) (task.Result, error) {
	url, _ := req.Payload["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("task %s: http payload needs a url", req.TaskID)
	}

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", req.TaskID, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", req.TaskID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", req.TaskID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", req.TaskID, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("task %s: %s returned %s", req.TaskID, url, resp.Status)
	}
	result := task.Result{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("task %s: decode response: %w", req.TaskID, err)
		}
	}
	result["status_code"] = resp.StatusCode
	return result, nil
}
