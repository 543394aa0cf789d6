package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
	"github.com/ternarybob/taskferry/internal/services/cooldown"
	"github.com/ternarybob/taskferry/internal/services/jobs"
	"github.com/ternarybob/taskferry/internal/services/linear"
	"github.com/ternarybob/taskferry/internal/services/productive"
	"github.com/ternarybob/taskferry/internal/services/transform"
)

const (
	recordTimeLayout = "02.01.2006 15:04"
	commentSeparator = "\n\n---\n\n"

	// MessageNoTasks is the fatal job error when the project has no tasks
	MessageNoTasks = "No tasks found for this project"
)

var (
	// ErrNoTasks is returned when the primary fetch yields nothing
	ErrNoTasks = errors.New("no tasks found for this project")

	// ErrMissingLinearCredentials is returned when an import lacks a key or team
	ErrMissingLinearCredentials = errors.New("linear API key and team are required to import")
)

// JobStore is the registry surface the orchestrator drives
type JobStore interface {
	interfaces.JobRegistry
	Start(id string) error
	Complete(id, resultKey string) error
	Fail(id, message string) error
}

// LinearFactory builds the Linear transport for one job's API key
type LinearFactory func(apiKey string) linear.API

// Orchestrator owns the lifecycle of export jobs: one goroutine per job,
// from the primary task fetch to the stored CSV
type Orchestrator struct {
	ctx       context.Context
	store     JobStore
	results   interfaces.ResultStorage
	gate      *cooldown.Gate
	converter interfaces.TextConverter
	config    *common.Config
	clock     common.Clock
	logger    arbor.ILogger
	newLinear LinearFactory
}

// OrchestratorOption configures the Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithLinearFactory replaces the Linear transport constructor
func WithLinearFactory(factory LinearFactory) OrchestratorOption {
	return func(o *Orchestrator) {
		o.newLinear = factory
	}
}

// WithClock sets the clock shared by pacing, cooldown and log timestamps
func WithClock(clock common.Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// WithConverter sets the rich-text converter
func WithConverter(converter interfaces.TextConverter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.converter = converter
	}
}

// NewOrchestrator creates an orchestrator. ctx is the process context: jobs
// outlive the request that submitted them and stop when ctx is cancelled.
func NewOrchestrator(ctx context.Context, store JobStore, results interfaces.ResultStorage, gate *cooldown.Gate, config *common.Config, logger arbor.ILogger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		ctx:     ctx,
		store:   store,
		results: results,
		gate:    gate,
		config:  config,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.clock == nil {
		o.clock = common.SystemClock{}
	}
	if o.logger == nil {
		o.logger = common.GetLogger()
	}
	if o.config == nil {
		o.config = common.NewDefaultConfig()
	}
	if o.gate == nil {
		o.gate = cooldown.NewGate(o.config.Productive.Cooldown, o.clock)
	}
	if o.converter == nil {
		o.converter = transform.NewService(o.logger)
	}
	if o.newLinear == nil {
		o.newLinear = o.defaultLinear
	}
	return o
}

func (o *Orchestrator) defaultLinear(apiKey string) linear.API {
	cfg := o.config.Linear
	return linear.NewClient(apiKey,
		linear.WithAPIURL(cfg.APIURL),
		linear.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		linear.WithLogger(o.logger),
		linear.WithRateLimit(cfg.RateLimit),
		linear.WithRateLimitBackoff(cfg.RateLimitBackoff),
		linear.WithClock(o.clock),
	)
}

// Submit registers the job and starts processing it in the background.
// It returns the job id as soon as the job is stored.
func (o *Orchestrator) Submit(job *models.ExportJob) (string, error) {
	if err := o.store.Create(job); err != nil {
		return "", fmt.Errorf("failed to register job: %w", err)
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("project_id", job.Options.ProjectID).
		Str("token", common.MaskSecret(job.ProductiveToken)).
		Bool("import", job.Options.ImportToLinear).
		Bool("test_mode", job.Options.TestMode).
		Msg("Export job submitted")

	jobID := job.ID
	common.SafeGo(o.logger, "export:"+jobID, func() {
		o.Run(o.ctx, jobID)
	})
	return jobID, nil
}

// Run processes one job to a terminal state. Any error or panic fails the job.
func (o *Orchestrator) Run(ctx context.Context, jobID string) {
	job, err := o.store.Get(jobID)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Export job vanished before start")
		return
	}

	sink := jobs.NewJobSink(o.store, jobID, o.logger, o.clock, o.config.Export.Location())

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("job_id", jobID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Export job panicked")
			o.fail(jobID, sink, fmt.Sprintf("Unexpected error: %v", r))
		}
	}()

	if err := o.store.Start(jobID); err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Export job could not start")
		return
	}

	resultKey, err := o.export(ctx, job, sink)
	if errors.Is(err, interfaces.ErrJobNotFound) {
		o.logger.Warn().Str("job_id", jobID).Msg("Export job was removed while running, result discarded")
		return
	}
	if err != nil {
		message := err.Error()
		if errors.Is(err, ErrNoTasks) {
			message = MessageNoTasks
		}
		o.fail(jobID, sink, message)
		return
	}

	if err := o.store.Complete(jobID, resultKey); err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Export job could not complete, discarding result")
		// Unreferenced results are never swept
		if err := o.results.DeleteResult(resultKey); err != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to discard export result")
		}
	}
}

func (o *Orchestrator) fail(jobID string, sink interfaces.LogSink, message string) {
	sink.Log(models.SeverityError, "Export failed: "+message)
	if err := o.store.Fail(jobID, message); err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Export job could not be marked failed")
	}
}

// pass is the per-job state shared by the item handlers
type pass struct {
	job        *models.ExportJob
	sink       interfaces.LogSink
	client     *productive.Client
	enricher   *productive.Enricher
	replicator *linear.Replicator
	mapper     *linear.StateMapper
	location   *time.Location

	mu         sync.Mutex
	prefetched map[string]models.CommentBatch
	toArchive  []string
}

func (p *pass) storePrefetched(taskID string, batch models.CommentBatch) {
	p.mu.Lock()
	p.prefetched[taskID] = batch
	p.mu.Unlock()
}

func (p *pass) takePrefetched(taskID string) (models.CommentBatch, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch, ok := p.prefetched[taskID]
	if ok {
		delete(p.prefetched, taskID)
	}
	return batch, ok
}

func (p *pass) queueArchive(issueID string) {
	p.mu.Lock()
	p.toArchive = append(p.toArchive, issueID)
	p.mu.Unlock()
}

func (p *pass) drainArchive() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.toArchive
	p.toArchive = nil
	return ids
}

func (o *Orchestrator) newProductiveClient(job *models.ExportJob) *productive.Client {
	cfg := o.config.Productive
	return productive.NewClient(job.ProductiveToken, job.Options.OrganizationID,
		productive.WithBaseURL(cfg.BaseURL),
		productive.WithAppURL(cfg.AppURL),
		productive.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		productive.WithLogger(o.logger.WithCorrelationId(job.ID)),
		productive.WithGate(o.gate),
		productive.WithClock(o.clock),
		productive.WithMaxAttempts(cfg.MaxAttempts),
		productive.WithPageDelay(cfg.PageDelay),
	)
}

func (o *Orchestrator) export(ctx context.Context, job *models.ExportJob, sink interfaces.LogSink) (string, error) {
	opts := job.Options
	if opts.ImportToLinear && (job.LinearAPIKey == "" || opts.LinearTeamID == "") {
		return "", ErrMissingLinearCredentials
	}

	client := o.newProductiveClient(job)
	p := &pass{
		job:        job,
		sink:       sink,
		client:     client,
		enricher:   productive.NewEnricher(client, o.converter, o.config.Export.Location(), o.config.Productive.CommentPageSize),
		location:   o.config.Export.Location(),
		prefetched: make(map[string]models.CommentBatch),
	}

	sink.Log(models.SeverityInfo, fmt.Sprintf("Starting export for project %s", opts.ProjectID))

	statuses, err := client.FetchWorkflowStatuses(ctx, sink)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		sink.Log(models.SeverityWarning, fmt.Sprintf("Could not load workflow statuses, falling back to the closed flag: %v", err))
		statuses = nil
	}

	tasks, err := client.FetchTasks(ctx, opts.ProjectID, o.config.Productive.TaskPageSize, statuses, sink)
	if err != nil {
		return "", fmt.Errorf("failed to fetch tasks: %w", err)
	}
	if len(tasks) == 0 {
		return "", ErrNoTasks
	}
	sink.Log(models.SeverityInfo, fmt.Sprintf("Fetched %d tasks", len(tasks)))

	if opts.OnlyNotDoneTasks {
		tasks = FilterNotDone(tasks, sink)
	}
	if opts.TestMode {
		tasks = SampleForTest(ctx, tasks, o.config.Export.TestSampleSize, func(ctx context.Context, task models.Task) bool {
			batch, err := p.enricher.FetchTaskComments(ctx, task.ID, sink)
			if err != nil {
				return false
			}
			p.storePrefetched(task.ID, batch)
			return batch.Count > 0
		}, sink)
	}

	total := len(tasks)
	o.report(job.ID, models.ProgressDelta{TotalTasks: &total})

	width := o.config.Export.EnrichmentConcurrency
	if opts.ImportToLinear {
		p.replicator = linear.NewReplicator(o.newLinear(job.LinearAPIKey), opts.LinearTeamID, client, o.logger.WithCorrelationId(job.ID))
		p.mapper, err = p.replicator.StateMapper(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to load Linear team states: %w", err)
		}
		width = o.config.Export.ReplicationConcurrency
		sink.Log(models.SeverityInfo, fmt.Sprintf("Importing %d tasks into Linear team %s", total, opts.LinearTeamID))
	}

	processor := NewProcessor(o.store, width, o.config.Export.ChunkDelay, o.clock, o.logger)

	var after ChunkFunc
	if p.replicator != nil {
		after = func(ctx context.Context, _ []ItemResult) {
			o.archiveDone(ctx, p)
		}
	}

	results := processor.Run(ctx, job.ID, tasks, func(ctx context.Context, task models.Task) (models.ExportRecord, error) {
		return o.processTask(ctx, p, task)
	}, after, sink)

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("export interrupted: %w", err)
	}

	records := make([]models.ExportRecord, 0, len(results))
	failed := 0
	comments := 0
	for _, result := range results {
		record := result.Record
		if record.TaskID == "" {
			record = o.baseRecord(p, result.Task)
		}
		if result.Err != nil {
			failed++
			if record.Error == "" {
				record.Error = result.Err.Error()
			}
		}
		comments += record.CommentCount
		records = append(records, record)
	}

	payload, err := WriteCSV(records, nil)
	if err != nil {
		return "", err
	}
	if _, err := o.store.Get(job.ID); err != nil {
		return "", err
	}
	key, err := o.results.SaveResult(job.ID, payload)
	if err != nil {
		return "", fmt.Errorf("failed to store export: %w", err)
	}

	if o.store.ShouldStop(job.ID) {
		sink.Log(models.SeverityWarning, "Export stopped before all tasks were processed")
	}

	sink.Log(models.SeveritySuccess, fmt.Sprintf("Export completed: %d tasks, %d comments, %d failed", len(records), comments, failed))

	o.logger.Info().
		Str("job_id", job.ID).
		Int("tasks", len(records)).
		Int("comments", comments).
		Int("failed", failed).
		Int("bytes", len(payload)).
		Msg("Export job completed")

	return key, nil
}

// processTask enriches one task and, when importing, replicates it
func (o *Orchestrator) processTask(ctx context.Context, p *pass, task models.Task) (models.ExportRecord, error) {
	record := o.baseRecord(p, task)

	batch, ok := p.takePrefetched(task.ID)
	if !ok {
		var err error
		batch, err = p.enricher.FetchTaskComments(ctx, task.ID, p.sink)
		if err != nil {
			if ctx.Err() != nil {
				return record, ctx.Err()
			}
			p.sink.Log(models.SeverityWarning, fmt.Sprintf("Could not fetch comments for task %s: %v", taskLabel(task), err))
		}
	}
	o.report(p.job.ID, models.ProgressDelta{CommentsProcessed: batch.Count})

	formatted := make([]string, 0, len(batch.Comments))
	for _, c := range batch.Comments {
		formatted = append(formatted, c.Formatted)
	}
	record.Comments = strings.Join(formatted, commentSeparator)
	record.CommentCount = batch.Count

	if task.AssigneeID != "" {
		record.Assignee = p.enricher.People().Resolve(ctx, task.AssigneeID, p.sink).Name
	}

	if p.replicator == nil {
		return record, nil
	}

	mapping := p.mapper.Map(&task)
	issue, err := p.replicator.CreateOrReplace(ctx, linear.IssueDraft{
		Title:              task.Title,
		Description:        record.Description,
		OriginURL:          task.OriginURL,
		Mapping:            mapping,
		SkipDuplicateCheck: p.job.Options.SkipDuplicateCheck,
	}, p.sink)
	if err != nil {
		record.Error = err.Error()
		return record, err
	}
	record.LinearIdentifier = issue.Identifier
	record.LinearURL = issue.URL

	posted := p.replicator.AddComments(ctx, issue.ID, batch.Comments, p.sink)

	htmlBodies := []string{task.DescriptionHTML}
	textBodies := make([]string, 0, len(batch.Comments))
	for _, c := range batch.Comments {
		htmlBodies = append(htmlBodies, c.BodyHTML)
		textBodies = append(textBodies, c.BodyText)
	}
	outcomes := p.replicator.AttachURLs(ctx, issue.ID, transform.ExtractURLs(htmlBodies...), textBodies, p.sink)

	if mapping.Archive {
		p.queueArchive(issue.ID)
	}

	p.sink.Log(models.SeverityInfo, fmt.Sprintf("Created %s for task %s (%d comments, %d attachments)",
		issue.Identifier, taskLabel(task), posted, outcomes[linear.AttachUploaded]+outcomes[linear.AttachLinked]))

	return record, nil
}

// archiveDone archives the issues created for terminal tasks in the last chunk
func (o *Orchestrator) archiveDone(ctx context.Context, p *pass) {
	ids := p.drainArchive()
	if len(ids) == 0 {
		return
	}

	archived := 0
	for i, ok := range p.replicator.ArchiveBatch(ctx, ids) {
		if ok {
			archived++
			continue
		}
		p.sink.Log(models.SeverityWarning, fmt.Sprintf("Failed to archive issue %s", ids[i]))
	}
	p.sink.Log(models.SeverityInfo, fmt.Sprintf("Archived %d of %d completed issues", archived, len(ids)))
}

// baseRecord fills the columns that come from the task alone
func (o *Orchestrator) baseRecord(p *pass, task models.Task) models.ExportRecord {
	record := models.ExportRecord{
		TaskID:      task.ID,
		TaskNumber:  task.Number,
		Title:       task.Title,
		Status:      task.StatusName(),
		Closed:      task.Closed,
		DueDate:     task.DueDate,
		Description: p.enricher.HTMLToText(task.DescriptionHTML),
		OriginURL:   task.OriginURL,
	}
	if !task.CreatedAt.IsZero() {
		record.CreatedAt = task.CreatedAt.In(p.location).Format(recordTimeLayout)
	}
	return record
}

func (o *Orchestrator) report(jobID string, delta models.ProgressDelta) {
	if err := o.store.AddProgress(jobID, delta); err != nil {
		o.logger.Debug().Err(err).Str("job_id", jobID).Msg("Progress update dropped")
	}
}
