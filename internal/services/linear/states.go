package linear

import (
	"strings"

	"github.com/ternarybob/taskferry/internal/models"
	"github.com/ternarybob/taskferry/internal/services/workflow"
)

// Bucket is a canonical workflow stage used to match states across systems
type Bucket string

const (
	BucketBacklog    Bucket = "backlog"
	BucketInProgress Bucket = "in_progress"
	BucketInReview   Bucket = "in_review"
	BucketDone       Bucket = "done"
)

// bucketVocabulary is matched by containment against lowercased names.
// Order matters: review is checked before in-progress so "In Review" is not
// mistaken for a generic started state.
var bucketVocabulary = []struct {
	bucket Bucket
	words  []string
	types  []string
}{
	{BucketDone, []string{"done", "complete", "closed", "finished", "resolved"}, []string{"completed"}},
	{BucketInReview, []string{"review", "qa", "testing", "verify", "approval"}, nil},
	{BucketInProgress, []string{"progress", "doing", "started", "active", "development", "working"}, []string{"started"}},
	{BucketBacklog, []string{"backlog", "todo", "to do", "open", "new", "not started", "triage"}, []string{"backlog", "unstarted", "triage"}},
}

// BucketFor classifies a source state name. Unknown names fall back to the
// workflow category, then to backlog.
func BucketFor(name string, categoryID int) Bucket {
	lower := strings.ToLower(name)
	for _, entry := range bucketVocabulary {
		for _, word := range entry.words {
			if strings.Contains(lower, word) {
				return entry.bucket
			}
		}
	}

	switch categoryID {
	case models.WorkflowCategoryStarted:
		return BucketInProgress
	case models.WorkflowCategoryClosed:
		return BucketDone
	default:
		return BucketBacklog
	}
}

// StateMapper maps source workflow states onto one team's states
type StateMapper struct {
	states []models.LinearState
}

// NewStateMapper creates a mapper for a team's states
func NewStateMapper(states []models.LinearState) *StateMapper {
	return &StateMapper{states: states}
}

// Map returns the target state for a task. Terminal source states produce an
// archive directive with no state id.
func (m *StateMapper) Map(task *models.Task) models.StateMapping {
	if workflow.IsTerminalTask(task) {
		return models.StateMapping{Archive: true}
	}

	categoryID := 0
	if task.WorkflowStatus != nil {
		categoryID = task.WorkflowStatus.CategoryID
	}

	bucket := BucketFor(task.StatusName(), categoryID)
	if state := m.find(bucket); state != nil {
		return models.StateMapping{StateID: state.ID}
	}
	if state := m.backlogLike(); state != nil {
		return models.StateMapping{StateID: state.ID}
	}
	return models.StateMapping{}
}

func (m *StateMapper) find(bucket Bucket) *models.LinearState {
	var entryWords, entryTypes []string
	for _, entry := range bucketVocabulary {
		if entry.bucket == bucket {
			entryWords, entryTypes = entry.words, entry.types
			break
		}
	}

	for i := range m.states {
		name := strings.ToLower(m.states[i].Name)
		for _, word := range entryWords {
			if strings.Contains(name, word) {
				return &m.states[i]
			}
		}
	}
	for i := range m.states {
		for _, t := range entryTypes {
			if strings.EqualFold(m.states[i].Type, t) {
				return &m.states[i]
			}
		}
	}
	return nil
}

// backlogLike prefers a backlog state, then unstarted, then the first state
func (m *StateMapper) backlogLike() *models.LinearState {
	for _, t := range []string{"backlog", "unstarted"} {
		for i := range m.states {
			if strings.EqualFold(m.states[i].Type, t) {
				return &m.states[i]
			}
		}
	}
	if len(m.states) > 0 {
		return &m.states[0]
	}
	return nil
}
