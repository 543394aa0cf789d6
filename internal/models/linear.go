package models

// LinearState is a workflow state of a Linear team
type LinearState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // backlog, unstarted, started, completed, canceled, triage
}

// LinearIssueRef identifies an issue created in Linear
type LinearIssueRef struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
}

// StateMapping is the outcome of mapping a source workflow state onto a team.
// When Archive is true the created issue is archived instead of getting a
// terminal state and StateID is empty.
type StateMapping struct {
	StateID string `json:"stateId,omitempty"`
	Archive bool   `json:"archive"`
}
