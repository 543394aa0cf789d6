package productive

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

// DefaultTaskPageSize is the page size used for the primary task list
const DefaultTaskPageSize = 200

// FetchWorkflowStatuses returns every workflow status of the organization keyed by id
func (c *Client) FetchWorkflowStatuses(ctx context.Context, sink interfaces.LogSink) (map[string]models.WorkflowStatus, error) {
	resources, err := c.FetchAllPages(ctx, "/workflow_statuses", DefaultTaskPageSize, "workflow statuses", sink)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]models.WorkflowStatus, len(resources))
	for _, res := range resources {
		status := DecodeWorkflowStatus(res)
		statuses[status.ID] = status
	}
	return statuses, nil
}

// FetchTasks returns every task of a project in upstream order. Workflow
// statuses are resolved through statuses; pass nil to skip resolution.
func (c *Client) FetchTasks(ctx context.Context, projectID string, pageSize int, statuses map[string]models.WorkflowStatus, sink interfaces.LogSink) ([]models.Task, error) {
	if pageSize <= 0 {
		pageSize = DefaultTaskPageSize
	}

	path := fmt.Sprintf("/tasks?%s=%s", url.QueryEscape("filter[project_id]"), url.QueryEscape(projectID))
	resources, err := c.FetchAllPages(ctx, path, pageSize, "tasks", sink)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tasks for project %s: %w", projectID, err)
	}

	tasks := make([]models.Task, 0, len(resources))
	for _, res := range resources {
		tasks = append(tasks, DecodeTask(res, statuses, c.OriginURL(res.ID)))
	}
	return tasks, nil
}
