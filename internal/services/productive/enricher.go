package productive

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

const (
	// DefaultCommentPageSize is the page size used for per-task comment fetches
	DefaultCommentPageSize = 50

	commentTimeLayout = "02.01.2006 15:04"
)

// Enricher augments tasks with their comments and resolved authors.
// Create one per export pass: its person cache is not shared across jobs.
type Enricher struct {
	client    *Client
	people    *PersonCache
	converter interfaces.TextConverter
	location  *time.Location
	pageSize  int
}

// NewEnricher creates an enricher. A nil location renders timestamps in UTC.
func NewEnricher(client *Client, converter interfaces.TextConverter, location *time.Location, pageSize int) *Enricher {
	if location == nil {
		location = time.UTC
	}
	if pageSize <= 0 {
		pageSize = DefaultCommentPageSize
	}
	return &Enricher{
		client:    client,
		people:    NewPersonCache(client),
		converter: converter,
		location:  location,
		pageSize:  pageSize,
	}
}

// People returns the pass-scoped person cache
func (e *Enricher) People() *PersonCache {
	return e.people
}

// HTMLToText converts rich text using the configured converter
func (e *Enricher) HTMLToText(html string) string {
	if e.converter == nil {
		return strings.TrimSpace(html)
	}
	return e.converter.HTMLToText(html)
}

// FetchTaskComments fetches all comments of a task sorted oldest-first and
// resolves their authors. Author failures degrade to UnknownAuthor; only a
// failed comment fetch is returned as an error.
func (e *Enricher) FetchTaskComments(ctx context.Context, taskID string, sink interfaces.LogSink) (models.CommentBatch, error) {
	path := fmt.Sprintf("/comments?%s=%s", url.QueryEscape("filter[task_id]"), url.QueryEscape(taskID))
	resources, err := e.client.FetchAllPages(ctx, path, e.pageSize, "comments for task "+taskID, sink)
	if err != nil {
		return models.CommentBatch{}, err
	}

	comments := make([]models.Comment, 0, len(resources))
	for _, res := range resources {
		comments = append(comments, DecodeComment(res))
	}
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})

	enriched := make([]models.EnrichedComment, 0, len(comments))
	for _, comment := range comments {
		author := e.people.Resolve(ctx, comment.CreatorID, sink)
		body := e.HTMLToText(comment.BodyHTML)
		enriched = append(enriched, models.EnrichedComment{
			Comment:   comment,
			Author:    author,
			BodyText:  body,
			Formatted: e.FormatComment(author, comment.CreatedAt, body),
		})
	}

	return models.CommentBatch{Comments: enriched, Count: len(enriched)}, nil
}

// FormatComment renders the display form of a comment:
// "**Name** (email) - 02.01.2006 15:04", a blank line, then the body.
func (e *Enricher) FormatComment(author models.Person, createdAt time.Time, body string) string {
	var b strings.Builder
	b.WriteString("**")
	b.WriteString(author.Name)
	b.WriteString("**")
	if author.Email != "" {
		b.WriteString(" (")
		b.WriteString(author.Email)
		b.WriteString(")")
	}
	if !createdAt.IsZero() {
		b.WriteString(" - ")
		b.WriteString(createdAt.In(e.location).Format(commentTimeLayout))
	}
	b.WriteString("\n\n")
	b.WriteString(body)
	return b.String()
}
