package catalog

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"serp-mcp/internal/adapter/tool"
	"serp-mcp/internal/domain"
	"serp-mcp/internal/usecase/taskflow"
)

// liveHandler posts the validated parameters to the live endpoint.
func liveHandler(ep Endpoint) tool.LiveHandler {
	return func(ctx context.Context, req domain.RequestEnvelope, client domain.APIClient) (*domain.Response, error) {
		return client.Post(ctx, ep.Path, req.Params)
	}
}

// lookupHandler issues a GET, appending the rendered query string if any.
func lookupHandler(ep Endpoint) tool.LiveHandler {
	return func(ctx context.Context, req domain.RequestEnvelope, client domain.APIClient) (*domain.Response, error) {
		path := ep.Path
		if ep.Query != nil {
			if q := ep.Query(req); q != "" {
				path += "?" + q
			}
		}
		return client.Get(ctx, path)
	}
}

func countryQuery(req domain.RequestEnvelope) string {
	country := req.String("country")
	if country == "" {
		return ""
	}
	return url.Values{"country": {country}}.Encode()
}

// taskHandlers derives submit, readiness and fetch from a task base path.
func taskHandlers(ep Endpoint) (taskflow.SubmitFunc, taskflow.CheckReadyFunc, taskflow.FetchFunc) {
	submit := func(ctx context.Context, req domain.RequestEnvelope, client domain.APIClient) (taskflow.Ticket, error) {
		resp, err := client.Post(ctx, ep.Path+"/task_post", req.Params)
		if err != nil {
			return taskflow.Ticket{}, err
		}
		task, ok := resp.FirstTask()
		if !ok {
			return taskflow.Ticket{}, domain.NewDomainError("catalog.submit", domain.ErrTaskFailed, "task_post returned no tasks")
		}
		if !task.Accepted() {
			return taskflow.Ticket{}, &domain.APIError{
				Op:            "task_post",
				Path:          ep.Path + "/task_post",
				StatusCode:    task.StatusCode,
				StatusMessage: task.StatusMessage,
			}
		}
		return taskflow.Ticket{ID: task.ID, Tag: req.String("tag")}, nil
	}

	checkReady := func(ctx context.Context, client domain.APIClient) (taskflow.ReadySet, error) {
		resp, err := client.Get(ctx, ep.Path+"/tasks_ready")
		if err != nil {
			return nil, err
		}
		return readyIDs(resp)
	}

	fetch := func(ctx context.Context, id string, client domain.APIClient) (*domain.Response, error) {
		path := ep.Path + "/task_get/" + url.PathEscape(id)
		resp, err := client.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if task, ok := resp.FirstTask(); ok && task.StatusCode != domain.StatusOK {
			return nil, fmt.Errorf("%w: %w", domain.ErrTaskFailed, &domain.APIError{
				Op:            "task_get",
				Path:          path,
				StatusCode:    task.StatusCode,
				StatusMessage: task.StatusMessage,
			})
		}
		return resp, nil
	}

	return submit, checkReady, fetch
}

// readyIDs collects the ids listed in the result arrays of a tasks_ready
// response.
func readyIDs(resp *domain.Response) (taskflow.ReadySet, error) {
	set := taskflow.NewReadySet()
	for _, task := range resp.Tasks {
		if len(task.Result) == 0 {
			continue
		}
		result := gjson.ParseBytes(task.Result)
		if result.Type == gjson.Null {
			continue
		}
		if !gjson.ValidBytes(task.Result) || !result.IsArray() {
			return nil, fmt.Errorf("%w: tasks_ready result is not an array", domain.ErrTransport)
		}
		result.ForEach(func(_, entry gjson.Result) bool {
			if id := entry.Get("id").String(); id != "" {
				set[id] = struct{}{}
			}
			return true
		})
	}
	return set, nil
}
