package models

import (
	"time"
)

// Workflow status categories reported by Productive
const (
	WorkflowCategoryNotStarted = 1
	WorkflowCategoryStarted    = 2
	WorkflowCategoryClosed     = 3
)

// WorkflowStatus is a Productive workflow state.
// CategoryID is 0 when the upstream omits it.
type WorkflowStatus struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CategoryID int    `json:"categoryId"`
}

// Task is a Productive task reduced to the fields the export uses.
// Optional upstream fields default to their zero value; WorkflowStatus is
// nil when the task has no status relationship or the status is unknown.
type Task struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	Title           string          `json:"title"`
	DescriptionHTML string          `json:"descriptionHtml"`
	Closed          bool            `json:"closed"`
	CreatedAt       time.Time       `json:"createdAt"`
	DueDate         string          `json:"dueDate,omitempty"`
	AssigneeID      string          `json:"assigneeId,omitempty"`
	WorkflowStatus  *WorkflowStatus `json:"workflowStatus,omitempty"`
	OriginURL       string          `json:"originUrl"`
}

// StatusName returns the mapped workflow state name, or "Closed"/"Open"
// derived from the closed flag when no workflow status is attached
func (t *Task) StatusName() string {
	if t.WorkflowStatus != nil && t.WorkflowStatus.Name != "" {
		return t.WorkflowStatus.Name
	}
	if t.Closed {
		return "Closed"
	}
	return "Open"
}

// Comment is a Productive comment on a task. CreatorID is empty when the
// comment has no creator relationship.
type Comment struct {
	ID        string    `json:"id"`
	BodyHTML  string    `json:"bodyHtml"`
	CreatedAt time.Time `json:"createdAt"`
	CreatorID string    `json:"creatorId,omitempty"`
}

// Person is a resolved comment author. Email is optional.
type Person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// EnrichedComment is a comment with its author resolved and its body
// converted to plain text
type EnrichedComment struct {
	Comment
	Author    Person `json:"author"`
	BodyText  string `json:"bodyText"`
	Formatted string `json:"formatted"`
}

// CommentBatch is the enrichment result for one task
type CommentBatch struct {
	Comments []EnrichedComment `json:"comments"`
	Count    int               `json:"count"`
}

// Download is a binary asset fetched for re-upload
type Download struct {
	Buffer      []byte
	ContentType string
	Filename    string
}
