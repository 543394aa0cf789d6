package linear

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

// maxBatchSize bounds the number of aliased mutations per request
const maxBatchSize = 20

// API is the transport the replicator needs. *Client implements it.
type API interface {
	Do(ctx context.Context, query string, variables map[string]interface{}, result interface{}) error
	Upload(ctx context.Context, target UploadTarget, data []byte, contentType string) error
}

// Downloader fetches source attachments for re-upload
type Downloader interface {
	DownloadURLBuffer(ctx context.Context, rawURL string, sink interfaces.LogSink) *models.Download
}

// IssueDraft is the input of CreateOrReplace
type IssueDraft struct {
	Title              string
	Description        string
	OriginURL          string
	Mapping            models.StateMapping
	SkipDuplicateCheck bool
}

// Replicator performs create/find/archive operations for one team.
// Create one per job: the team state list is cached on first use.
type Replicator struct {
	api        API
	teamID     string
	downloader Downloader
	logger     arbor.ILogger

	statesMu sync.Mutex
	states   []models.LinearState
}

// NewReplicator creates a replicator for teamID. downloader may be nil, in
// which case attachments start at the link stage.
func NewReplicator(api API, teamID string, downloader Downloader, logger arbor.ILogger) *Replicator {
	return &Replicator{
		api:        api,
		teamID:     teamID,
		downloader: downloader,
		logger:     logger,
	}
}

const teamStatesQuery = `query TeamStates($teamId: String!) {
  team(id: $teamId) { states { nodes { id name type } } }
}`

// TeamStates returns the workflow states of the team, fetched once
func (r *Replicator) TeamStates(ctx context.Context) ([]models.LinearState, error) {
	r.statesMu.Lock()
	defer r.statesMu.Unlock()

	if r.states != nil {
		return r.states, nil
	}

	var resp struct {
		Team struct {
			States struct {
				Nodes []models.LinearState `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	if err := r.api.Do(ctx, teamStatesQuery, map[string]interface{}{"teamId": r.teamID}, &resp); err != nil {
		return nil, fmt.Errorf("failed to load states for team %s: %w", r.teamID, err)
	}

	r.states = resp.Team.States.Nodes
	return r.states, nil
}

// StateMapper builds a mapper over the team's states
func (r *Replicator) StateMapper(ctx context.Context) (*StateMapper, error) {
	states, err := r.TeamStates(ctx)
	if err != nil {
		return nil, err
	}
	return NewStateMapper(states), nil
}

const findByOriginQuery = `query FindIssuesByOrigin($teamId: ID!, $url: String!) {
  issues(first: 50, filter: { team: { id: { eq: $teamId } }, description: { contains: $url } }) {
    nodes { id identifier url description }
  }
}`

// FindByOriginURL returns the team's issues carrying the origin line for
// originURL. The server-side filter is a substring match, so candidates are
// narrowed to an exact origin line here: task 12 must not match task 123.
func (r *Replicator) FindByOriginURL(ctx context.Context, originURL string) ([]models.LinearIssueRef, error) {
	var resp struct {
		Issues struct {
			Nodes []struct {
				models.LinearIssueRef
				Description string `json:"description"`
			} `json:"nodes"`
		} `json:"issues"`
	}
	vars := map[string]interface{}{"teamId": r.teamID, "url": originURL}
	if err := r.api.Do(ctx, findByOriginQuery, vars, &resp); err != nil {
		return nil, fmt.Errorf("failed to search issues by origin: %w", err)
	}

	matches := make([]models.LinearIssueRef, 0, len(resp.Issues.Nodes))
	for _, node := range resp.Issues.Nodes {
		if HasOriginLine(node.Description, originURL) {
			matches = append(matches, node.LinearIssueRef)
		}
	}
	return matches, nil
}

const deleteIssueMutation = `mutation DeleteIssue($id: String!) {
  issueDelete(id: $id) { success }
}`

// DeleteIssue removes an issue
func (r *Replicator) DeleteIssue(ctx context.Context, issueID string) error {
	var resp struct {
		IssueDelete successPayload `json:"issueDelete"`
	}
	if err := r.api.Do(ctx, deleteIssueMutation, map[string]interface{}{"id": issueID}, &resp); err != nil {
		return fmt.Errorf("failed to delete issue %s: %w", issueID, err)
	}
	if !resp.IssueDelete.Success {
		return fmt.Errorf("delete of issue %s was not successful", issueID)
	}
	return nil
}

const createIssueMutation = `mutation CreateIssue($input: IssueCreateInput!) {
  issueCreate(input: $input) { success issue { id identifier url } }
}`

const originLinePrefix = "Imported from Productive: "

// OriginFooter is appended to every replicated description so re-runs can
// find the issue by its source URL
func OriginFooter(originURL string) string {
	return "\n\n---\n" + originLinePrefix + originURL
}

// HasOriginLine reports whether description holds the origin line for
// originURL as a whole line
func HasOriginLine(description, originURL string) bool {
	want := originLinePrefix + originURL
	for _, line := range strings.Split(description, "\n") {
		if strings.TrimSpace(line) == want {
			return true
		}
	}
	return false
}

// CreateOrReplace creates an issue for a source task. Unless duplicate
// checking is skipped, issues already carrying the task's origin URL are
// deleted first, so a re-run leaves exactly one issue per task. The new
// issue gets a fresh identifier.
func (r *Replicator) CreateOrReplace(ctx context.Context, draft IssueDraft, sink interfaces.LogSink) (*models.LinearIssueRef, error) {
	if sink == nil {
		sink = interfaces.DiscardSink
	}

	if !draft.SkipDuplicateCheck && draft.OriginURL != "" {
		existing, err := r.FindByOriginURL(ctx, draft.OriginURL)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			sink.Log(models.SeverityWarning, fmt.Sprintf("Duplicate check failed for %q: %v", draft.Title, err))
		}
		for _, issue := range existing {
			if err := r.DeleteIssue(ctx, issue.ID); err != nil {
				sink.Log(models.SeverityWarning, fmt.Sprintf("Could not remove existing issue %s: %v", issue.Identifier, err))
				continue
			}
			sink.Log(models.SeverityInfo, fmt.Sprintf("Removed existing Linear issue %s for %q", issue.Identifier, draft.Title))
		}
	}

	title := strings.TrimSpace(draft.Title)
	if title == "" {
		title = "(untitled)"
	}
	description := draft.Description
	if draft.OriginURL != "" && !HasOriginLine(description, draft.OriginURL) {
		description += OriginFooter(draft.OriginURL)
	}

	input := map[string]interface{}{
		"teamId":      r.teamID,
		"title":       title,
		"description": description,
	}
	if draft.Mapping.StateID != "" {
		input["stateId"] = draft.Mapping.StateID
	}

	var resp struct {
		IssueCreate struct {
			Success bool                  `json:"success"`
			Issue   models.LinearIssueRef `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := r.api.Do(ctx, createIssueMutation, map[string]interface{}{"input": input}, &resp); err != nil {
		return nil, fmt.Errorf("failed to create issue %q: %w", title, err)
	}
	if !resp.IssueCreate.Success || resp.IssueCreate.Issue.ID == "" {
		return nil, fmt.Errorf("create of issue %q was not successful", title)
	}

	issue := resp.IssueCreate.Issue
	r.logger.Debug().
		Str("identifier", issue.Identifier).
		Str("origin", draft.OriginURL).
		Msg("Linear issue created")

	return &issue, nil
}

const archiveIssueMutation = `mutation ArchiveIssue($id: String!) {
  issueArchive(id: $id) { success }
}`

// Archive archives a single issue
func (r *Replicator) Archive(ctx context.Context, issueID string) error {
	var resp struct {
		IssueArchive successPayload `json:"issueArchive"`
	}
	if err := r.api.Do(ctx, archiveIssueMutation, map[string]interface{}{"id": issueID}, &resp); err != nil {
		return fmt.Errorf("failed to archive issue %s: %w", issueID, err)
	}
	if !resp.IssueArchive.Success {
		return fmt.Errorf("archive of issue %s was not successful", issueID)
	}
	return nil
}

const createCommentMutation = `mutation CreateComment($input: CommentCreateInput!) {
  commentCreate(input: $input) { success }
}`

// CommentInput is one comment to post
type CommentInput struct {
	IssueID string
	Body    string
}

func (c CommentInput) variables() map[string]interface{} {
	return map[string]interface{}{"issueId": c.IssueID, "body": c.Body}
}

// Comment posts a single comment
func (r *Replicator) Comment(ctx context.Context, input CommentInput) error {
	var resp struct {
		CommentCreate successPayload `json:"commentCreate"`
	}
	if err := r.api.Do(ctx, createCommentMutation, map[string]interface{}{"input": input.variables()}, &resp); err != nil {
		return fmt.Errorf("failed to comment on issue %s: %w", input.IssueID, err)
	}
	if !resp.CommentCreate.Success {
		return fmt.Errorf("comment on issue %s was not successful", input.IssueID)
	}
	return nil
}

// AddComments replays comments oldest-first and returns how many were posted
func (r *Replicator) AddComments(ctx context.Context, issueID string, comments []models.EnrichedComment, sink interfaces.LogSink) int {
	if len(comments) == 0 {
		return 0
	}
	if sink == nil {
		sink = interfaces.DiscardSink
	}

	ordered := make([]models.EnrichedComment, len(comments))
	copy(ordered, comments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	inputs := make([]CommentInput, 0, len(ordered))
	for _, c := range ordered {
		body := c.Formatted
		if body == "" {
			body = c.BodyText
		}
		inputs = append(inputs, CommentInput{IssueID: issueID, Body: body})
	}

	posted := 0
	for i, ok := range r.CommentBatch(ctx, inputs) {
		if ok {
			posted++
			continue
		}
		sink.Log(models.SeverityWarning, fmt.Sprintf("Failed to add comment %d of %d to %s", i+1, len(inputs), issueID))
	}
	return posted
}

type successPayload struct {
	Success bool `json:"success"`
}
