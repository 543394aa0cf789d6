package productive

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/taskferry/internal/models"
)

// Document is a JSON:API list response
type Document struct {
	Data     []Resource `json:"data"`
	Included []Resource `json:"included,omitempty"`
	Meta     Meta       `json:"meta"`
}

// Meta carries pagination information. TotalPages is re-read on every page.
type Meta struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	TotalCount  int `json:"total_count"`
}

type singleDocument struct {
	Data Resource `json:"data"`
}

// Resource is a JSON:API resource object
type Resource struct {
	ID            string                  `json:"id"`
	Type          string                  `json:"type"`
	Attributes    json.RawMessage         `json:"attributes"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// Relationship holds a to-one linkage. Data is null when the relation is empty.
type Relationship struct {
	Data json.RawMessage `json:"data"`
}

// RelatedID returns the id of a to-one relationship, or "" when absent or null
func (r Resource) RelatedID(name string) string {
	rel, ok := r.Relationships[name]
	if !ok || len(rel.Data) == 0 || bytes.Equal(bytes.TrimSpace(rel.Data), []byte("null")) {
		return ""
	}
	var linkage struct {
		ID flexString `json:"id"`
	}
	if err := json.Unmarshal(rel.Data, &linkage); err != nil {
		return ""
	}
	return string(linkage.ID)
}

// flexString accepts JSON strings, numbers and null
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(data))
	return nil
}

// flexInt accepts JSON numbers, numeric strings and null
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(s)))
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

type taskAttributes struct {
	Title       flexString `json:"title"`
	Description flexString `json:"description"`
	TaskNumber  flexString `json:"task_number"`
	Closed      bool       `json:"closed"`
	CreatedAt   flexString `json:"created_at"`
	DueDate     flexString `json:"due_date"`
}

type commentAttributes struct {
	Body      flexString `json:"body"`
	CreatedAt flexString `json:"created_at"`
}

type personAttributes struct {
	FirstName flexString `json:"first_name"`
	LastName  flexString `json:"last_name"`
	Name      flexString `json:"name"`
	Email     flexString `json:"email"`
}

type workflowStatusAttributes struct {
	Name       flexString `json:"name"`
	CategoryID flexInt    `json:"category_id"`
}

func decodeAttributes(raw json.RawMessage, target interface{}) {
	if len(raw) == 0 {
		return
	}
	// Missing or malformed optional attributes leave zero values
	_ = json.Unmarshal(raw, target)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// DecodeWorkflowStatus maps a workflow_statuses resource
func DecodeWorkflowStatus(res Resource) models.WorkflowStatus {
	var attrs workflowStatusAttributes
	decodeAttributes(res.Attributes, &attrs)
	return models.WorkflowStatus{
		ID:         res.ID,
		Name:       string(attrs.Name),
		CategoryID: int(attrs.CategoryID),
	}
}

// DecodeTask maps a tasks resource. statuses resolves the workflow_status
// relationship; an unknown id leaves WorkflowStatus nil.
func DecodeTask(res Resource, statuses map[string]models.WorkflowStatus, originURL string) models.Task {
	var attrs taskAttributes
	decodeAttributes(res.Attributes, &attrs)

	task := models.Task{
		ID:              res.ID,
		Number:          string(attrs.TaskNumber),
		Title:           string(attrs.Title),
		DescriptionHTML: string(attrs.Description),
		Closed:          attrs.Closed,
		CreatedAt:       parseTime(string(attrs.CreatedAt)),
		DueDate:         string(attrs.DueDate),
		AssigneeID:      res.RelatedID("assignee"),
		OriginURL:       originURL,
	}

	if statusID := res.RelatedID("workflow_status"); statusID != "" {
		if status, ok := statuses[statusID]; ok {
			s := status
			task.WorkflowStatus = &s
		}
	}

	return task
}

// DecodeComment maps a comments resource
func DecodeComment(res Resource) models.Comment {
	var attrs commentAttributes
	decodeAttributes(res.Attributes, &attrs)
	return models.Comment{
		ID:        res.ID,
		BodyHTML:  string(attrs.Body),
		CreatedAt: parseTime(string(attrs.CreatedAt)),
		CreatorID: res.RelatedID("creator"),
	}
}

// DecodePerson maps a people resource. The name is "first last", falling
// back to the name attribute.
func DecodePerson(res Resource) models.Person {
	var attrs personAttributes
	decodeAttributes(res.Attributes, &attrs)

	name := strings.TrimSpace(string(attrs.FirstName) + " " + string(attrs.LastName))
	if name == "" {
		name = strings.TrimSpace(string(attrs.Name))
	}
	return models.Person{
		ID:    res.ID,
		Name:  name,
		Email: string(attrs.Email),
	}
}
