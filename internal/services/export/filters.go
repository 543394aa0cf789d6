package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
	"github.com/ternarybob/taskferry/internal/services/workflow"
)

// DefaultTestSampleSize is the number of tasks kept in test mode
const DefaultTestSampleSize = 3

// FilterNotDone drops tasks whose mapped state is terminal
func FilterNotDone(tasks []models.Task, sink interfaces.LogSink) []models.Task {
	if sink == nil {
		sink = interfaces.DiscardSink
	}

	kept := make([]models.Task, 0, len(tasks))
	for i := range tasks {
		if workflow.IsTerminalTask(&tasks[i]) {
			continue
		}
		kept = append(kept, tasks[i])
	}

	sink.Log(models.SeverityInfo, fmt.Sprintf("Filtered out %d done tasks, %d remaining", len(tasks)-len(kept), len(kept)))
	return kept
}

// CommentProbe reports whether a task has at least one comment
type CommentProbe func(ctx context.Context, task models.Task) bool

// SampleForTest keeps the first n tasks that have a description and at
// least one comment. Tasks are probed in order and probing stops once the
// sample is full.
func SampleForTest(ctx context.Context, tasks []models.Task, n int, hasComments CommentProbe, sink interfaces.LogSink) []models.Task {
	if sink == nil {
		sink = interfaces.DiscardSink
	}
	if n <= 0 {
		n = DefaultTestSampleSize
	}

	sample := make([]models.Task, 0, n)
	for _, task := range tasks {
		if len(sample) >= n || ctx.Err() != nil {
			break
		}
		if strings.TrimSpace(task.DescriptionHTML) == "" {
			continue
		}
		if hasComments != nil && !hasComments(ctx, task) {
			continue
		}
		sample = append(sample, task)
	}

	sink.Log(models.SeverityInfo, fmt.Sprintf("Test mode: selected %d of %d tasks with a description and comments", len(sample), len(tasks)))
	return sample
}
