package models

// ExportRecord is one row of the CSV export, produced per task after
// enrichment and optional replication
type ExportRecord struct {
	TaskID           string
	TaskNumber       string
	Title            string
	Status           string
	Closed           bool
	Assignee         string
	DueDate          string
	CreatedAt        string
	Description      string
	Comments         string
	CommentCount     int
	OriginURL        string
	LinearIdentifier string
	LinearURL        string
	Error            string
}
