package linear

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func (s *recordingSink) Log(severity models.Severity, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, models.LogEntry{Severity: severity, Message: message})
}

type stubDownloader struct {
	download *models.Download
	calls    int
}

func (d *stubDownloader) DownloadURLBuffer(context.Context, string, interfaces.LogSink) *models.Download {
	d.calls++
	return d.download
}

func newTestReplicator(api API, downloader Downloader) *Replicator {
	return NewReplicator(api, "team-1", downloader, common.GetLogger())
}

func TestCreateOrReplace_IsIdempotent(t *testing.T) {
	fake := newFakeLinear()
	r := newTestReplicator(fake, nil)
	ctx := context.Background()

	draft := IssueDraft{
		Title:       "Fix login",
		Description: "Broken since Monday",
		OriginURL:   "https://app.productive.test/org/task/101",
		Mapping:     models.StateMapping{StateID: "s-progress"},
	}

	first, err := r.CreateOrReplace(ctx, draft, nil)
	require.NoError(t, err)
	second, err := r.CreateOrReplace(ctx, draft, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)

	matches, err := r.FindByOriginURL(ctx, draft.OriginURL)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, second.ID, matches[0].ID)

	active := fake.active()
	require.Len(t, active, 1)
	assert.Contains(t, active[0].description, "Imported from Productive: "+draft.OriginURL)
	assert.Equal(t, "s-progress", active[0].stateID)
	assert.Equal(t, 1, fake.callCount("DeleteIssue"))
}

func TestCreateOrReplace_LeavesIssuesOfPrefixedURLs(t *testing.T) {
	fake := newFakeLinear()
	r := newTestReplicator(fake, nil)
	ctx := context.Background()

	longer := IssueDraft{Title: "Task 123", OriginURL: "https://app.productive.test/org/task/123"}
	shorter := IssueDraft{Title: "Task 12", OriginURL: "https://app.productive.test/org/task/12"}

	kept, err := r.CreateOrReplace(ctx, longer, nil)
	require.NoError(t, err)
	_, err = r.CreateOrReplace(ctx, shorter, nil)
	require.NoError(t, err)

	matches, err := r.FindByOriginURL(ctx, longer.OriginURL)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, kept.ID, matches[0].ID)

	matches, err = r.FindByOriginURL(ctx, shorter.OriginURL)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.NotEqual(t, kept.ID, matches[0].ID)

	assert.Len(t, fake.active(), 2)
	assert.Equal(t, 0, fake.callCount("DeleteIssue"))
}

func TestHasOriginLine(t *testing.T) {
	url := "https://app.productive.test/org/task/12"

	tests := []struct {
		name        string
		description string
		want        bool
	}{
		{"footer at end", "Body" + OriginFooter(url), true},
		{"footer followed by text", "Body" + OriginFooter(url) + "\n\nEdited later", true},
		{"carriage return line ending", "Body\r\n" + "Imported from Productive: " + url + "\r\n", true},
		{"longer task id", "Body" + OriginFooter(url+"3"), false},
		{"url only in body", "See " + url + " for details", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasOriginLine(tt.description, url))
		})
	}
}

func TestCreateOrReplace_SkipDuplicateCheck(t *testing.T) {
	fake := newFakeLinear()
	r := newTestReplicator(fake, nil)
	draft := IssueDraft{Title: "A", OriginURL: "https://app.productive.test/org/task/1", SkipDuplicateCheck: true}

	_, err := r.CreateOrReplace(context.Background(), draft, nil)
	require.NoError(t, err)
	_, err = r.CreateOrReplace(context.Background(), draft, nil)
	require.NoError(t, err)

	assert.Len(t, fake.active(), 2)
	assert.Equal(t, 0, fake.callCount("FindIssuesByOrigin"))
}

func TestCreateOrReplace_CreateFailure(t *testing.T) {
	fake := newFakeLinear()
	fake.failOps["CreateIssue"] = &APIError{StatusCode: 400, Message: "invalid input"}
	r := newTestReplicator(fake, nil)

	ref, err := r.CreateOrReplace(context.Background(), IssueDraft{Title: "A"}, nil)
	assert.Nil(t, ref)
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestAddComments_OldestFirst(t *testing.T) {
	fake := newFakeLinear()
	r := newTestReplicator(fake, nil)
	ctx := context.Background()

	issue, err := r.CreateOrReplace(ctx, IssueDraft{Title: "A"}, nil)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	comments := []models.EnrichedComment{
		{Comment: models.Comment{ID: "3", CreatedAt: base.Add(3 * time.Hour)}, Formatted: "third"},
		{Comment: models.Comment{ID: "1", CreatedAt: base.Add(1 * time.Hour)}, Formatted: "first"},
		{Comment: models.Comment{ID: "2", CreatedAt: base.Add(2 * time.Hour)}, BodyText: "second"},
	}

	posted := r.AddComments(ctx, issue.ID, comments, nil)
	assert.Equal(t, 3, posted)
	assert.Equal(t, []string{"first", "second", "third"}, fake.active()[0].comments)
	assert.Equal(t, 1, fake.callCount("BatchComment"))
	assert.Equal(t, 0, fake.callCount("CreateComment"))
}

func TestAddComments_PartialBatchRetriesOnlyRejected(t *testing.T) {
	fake := newFakeLinear()
	fake.batchRejects["second"] = true
	r := newTestReplicator(fake, nil)
	ctx := context.Background()

	issue, err := r.CreateOrReplace(ctx, IssueDraft{Title: "A"}, nil)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	comments := []models.EnrichedComment{
		{Comment: models.Comment{ID: "1", CreatedAt: base.Add(1 * time.Hour)}, Formatted: "first"},
		{Comment: models.Comment{ID: "2", CreatedAt: base.Add(2 * time.Hour)}, Formatted: "second"},
		{Comment: models.Comment{ID: "3", CreatedAt: base.Add(3 * time.Hour)}, Formatted: "third"},
	}

	posted := r.AddComments(ctx, issue.ID, comments, nil)
	assert.Equal(t, 3, posted)
	assert.ElementsMatch(t, []string{"first", "second", "third"}, fake.active()[0].comments)
	assert.Equal(t, 1, fake.callCount("BatchComment"))
	assert.Equal(t, 1, fake.callCount("CreateComment"))
}

func TestArchiveBatch_FallsBackToIndividual(t *testing.T) {
	fake := newFakeLinear()
	r := newTestReplicator(fake, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		issue, err := r.CreateOrReplace(ctx, IssueDraft{Title: "A", SkipDuplicateCheck: true}, nil)
		require.NoError(t, err)
		ids = append(ids, issue.ID)
	}
	ids = append(ids, "missing")

	fake.failOps["BatchArchive"] = errors.New("combined request rejected")
	fake.failIDs[ids[1]] = true

	results := r.ArchiveBatch(ctx, ids)

	assert.Equal(t, []bool{true, false, true, false}, results)
	assert.Equal(t, 1, fake.callCount("BatchArchive"))
	assert.Equal(t, 4, fake.callCount("ArchiveIssue"))
	assert.Len(t, fake.active(), 1)
}

func TestArchiveBatch_CombinedRequest(t *testing.T) {
	fake := newFakeLinear()
	r := newTestReplicator(fake, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < maxBatchSize+3; i++ {
		issue, err := r.CreateOrReplace(ctx, IssueDraft{Title: "A", SkipDuplicateCheck: true}, nil)
		require.NoError(t, err)
		ids = append(ids, issue.ID)
	}

	results := r.ArchiveBatch(ctx, ids)

	require.Len(t, results, len(ids))
	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, 2, fake.callCount("BatchArchive"))
	assert.Equal(t, 0, fake.callCount("ArchiveIssue"))
	assert.Empty(t, fake.active())
}

func TestArchiveBatch_SingleItemUsesPlainMutation(t *testing.T) {
	fake := newFakeLinear()
	r := newTestReplicator(fake, nil)
	issue, err := r.CreateOrReplace(context.Background(), IssueDraft{Title: "A"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []bool{true}, r.ArchiveBatch(context.Background(), []string{issue.ID}))
	assert.Equal(t, 0, fake.callCount("BatchArchive"))
}

func TestAttachURL_Chain(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads likely files", func(t *testing.T) {
		fake := newFakeLinear()
		dl := &stubDownloader{download: &models.Download{Buffer: []byte("%PDF"), ContentType: "application/pdf", Filename: "design.pdf"}}
		r := newTestReplicator(fake, dl)
		issue, _ := r.CreateOrReplace(ctx, IssueDraft{Title: "A"}, nil)

		outcome := r.AttachURL(ctx, issue.ID, "https://files.example.test/design.pdf", nil)
		assert.Equal(t, AttachUploaded, outcome)
		assert.Equal(t, []string{"file:design.pdf"}, fake.active()[0].attachments)
		assert.Len(t, fake.uploads, 1)
	})

	t.Run("failed download falls back to link", func(t *testing.T) {
		fake := newFakeLinear()
		dl := &stubDownloader{}
		r := newTestReplicator(fake, dl)
		issue, _ := r.CreateOrReplace(ctx, IssueDraft{Title: "A"}, nil)

		outcome := r.AttachURL(ctx, issue.ID, "https://files.example.test/design.pdf", nil)
		assert.Equal(t, AttachLinked, outcome)
		assert.Equal(t, 1, dl.calls)
	})

	t.Run("failed upload falls back to link", func(t *testing.T) {
		fake := newFakeLinear()
		fake.uploadErr = errors.New("signed url expired")
		dl := &stubDownloader{download: &models.Download{Buffer: []byte("x"), Filename: "a.png"}}
		r := newTestReplicator(fake, dl)
		issue, _ := r.CreateOrReplace(ctx, IssueDraft{Title: "A"}, nil)
		sink := &recordingSink{}

		assert.Equal(t, AttachLinked, r.AttachURL(ctx, issue.ID, "https://cdn.example.test/a.png", sink))
		require.NotEmpty(t, sink.entries)
		assert.Equal(t, models.SeverityWarning, sink.entries[0].Severity)
	})

	t.Run("web pages are linked without download", func(t *testing.T) {
		fake := newFakeLinear()
		dl := &stubDownloader{download: &models.Download{Buffer: []byte("x")}}
		r := newTestReplicator(fake, dl)
		issue, _ := r.CreateOrReplace(ctx, IssueDraft{Title: "A"}, nil)

		assert.Equal(t, AttachLinked, r.AttachURL(ctx, issue.ID, "https://docs.google.com/document/d/abc/file.pdf", nil))
		assert.Equal(t, 0, dl.calls)
	})

	t.Run("failed link falls back to comment", func(t *testing.T) {
		fake := newFakeLinear()
		fake.failOps["LinkURL"] = errors.New("unsupported url")
		r := newTestReplicator(fake, nil)
		issue, _ := r.CreateOrReplace(ctx, IssueDraft{Title: "A"}, nil)

		assert.Equal(t, AttachCommented, r.AttachURL(ctx, issue.ID, "https://example.test/page", nil))
		assert.Equal(t, []string{"https://example.test/page"}, fake.active()[0].comments)
	})

	t.Run("every stage failing never panics", func(t *testing.T) {
		fake := newFakeLinear()
		fake.failOps["LinkURL"] = errors.New("nope")
		fake.failOps["CreateComment"] = errors.New("nope")
		r := newTestReplicator(fake, nil)
		sink := &recordingSink{}

		assert.Equal(t, AttachFailed, r.AttachURL(ctx, "issue-x", "https://example.test/page", sink))
		assert.Equal(t, models.SeverityError, sink.entries[len(sink.entries)-1].Severity)
	})
}

func TestAttachURLs_SkipsURLsQuotedInComments(t *testing.T) {
	fake := newFakeLinear()
	r := newTestReplicator(fake, nil)
	issue, _ := r.CreateOrReplace(context.Background(), IssueDraft{Title: "A"}, nil)

	outcomes := r.AttachURLs(context.Background(), issue.ID,
		[]string{"https://example.test/a", "https://example.test/b"},
		[]string{"see https://example.test/b for details"},
		nil,
	)

	assert.Equal(t, 1, outcomes[AttachLinked])
	assert.Equal(t, 1, outcomes[AttachSkipped])
	assert.Equal(t, []string{"link:https://example.test/a"}, fake.active()[0].attachments)
}

func TestClassifyURL(t *testing.T) {
	tests := []struct {
		url      string
		expected URLKind
	}{
		{"https://example.test/files/report.PDF", URLKindAttachment},
		{"https://bucket.s3.amazonaws.com/abc", URLKindAttachment},
		{"https://uploads.linear.app/x/y", URLKindAttachment},
		{"https://github.com/org/repo/blob/main/a.png", URLKindWebPage},
		{"https://www.figma.com/file/abc", URLKindWebPage},
		{"https://example.test/about", URLKindUnknown},
		{"not a url", URLKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyURL(tt.url))
		})
	}
}

func TestTeamStates_Cached(t *testing.T) {
	fake := newFakeLinear()
	r := newTestReplicator(fake, nil)

	for i := 0; i < 3; i++ {
		states, err := r.TeamStates(context.Background())
		require.NoError(t, err)
		assert.Len(t, states, 5)
	}
	assert.Equal(t, 1, fake.callCount("TeamStates"))
}
