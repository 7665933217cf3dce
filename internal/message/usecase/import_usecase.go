package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mailvault/internal/message/domain"
	"mailvault/internal/message/dto"
	"mailvault/internal/message/repository"
	"mailvault/internal/message/storage"
	"mailvault/internal/security"
	"mailvault/pkg/archive"
	"mailvault/pkg/config"

	"github.com/cenkalti/backoff/v4"
)

type importUsecaseImpl struct {
	registry  *domain.ProviderRegistry
	jobs      repository.ImportJobRepository
	messages  repository.MessageRepository
	writer    *storage.DualWriter
	validator *security.Validator
	embedder  EmbeddingEnqueuer
	cfg       *config.Config

	mu      sync.Mutex
	running map[string]context.CancelFunc // keyed by provider/account
	wg      sync.WaitGroup
}

func NewImportUsecase(
	registry *domain.ProviderRegistry,
	jobs repository.ImportJobRepository,
	messages repository.MessageRepository,
	writer *storage.DualWriter,
	validator *security.Validator,
	embedder EmbeddingEnqueuer,
	cfg *config.Config,
) ImportUsecase {
	return &importUsecaseImpl{
		registry:  registry,
		jobs:      jobs,
		messages:  messages,
		writer:    writer,
		validator: validator,
		embedder:  embedder,
		cfg:       cfg,
		running:   make(map[string]context.CancelFunc),
	}
}

func pairKey(provider, account string) string {
	return provider + "/" + account
}

func (u *importUsecaseImpl) StartImport(ctx context.Context, req dto.ImportRequest) (*domain.ImportJob, error) {
	provider, err := u.registry.Lookup(req.Provider, req.ProviderAccount)
	if err != nil {
		return nil, err
	}

	mode := domain.ImportMode(req.Mode)
	if mode == "" {
		mode = domain.ModeFull
	}
	if mode != domain.ModeFull && mode != domain.ModeIncremental {
		return nil, fmt.Errorf("invalid import mode: %s", req.Mode)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	key := pairKey(req.Provider, req.ProviderAccount)
	if _, ok := u.running[key]; ok {
		return nil, domain.ErrImportInProgress
	}
	if existing, err := u.jobs.FindRunning(req.Provider, req.ProviderAccount); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, domain.ErrImportInProgress
	}

	generateEmbeddings := true
	if req.GenerateEmbeddings != nil {
		generateEmbeddings = *req.GenerateEmbeddings
	}

	job := &domain.ImportJob{
		Provider:           req.Provider,
		ProviderAccount:    req.ProviderAccount,
		Mode:               mode,
		State:              domain.JobPending,
		Query:              req.Query,
		StartDate:          req.StartDate,
		MaxResults:         req.MaxResults,
		Force:              req.Force,
		GenerateEmbeddings: generateEmbeddings,
	}

	if req.ResumeJobID != "" {
		prev, err := u.jobs.FindByID(req.ResumeJobID)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, domain.ErrJobNotFound
		}
		if prev.Provider != req.Provider || prev.ProviderAccount != req.ProviderAccount {
			return nil, fmt.Errorf("job %s belongs to a different provider/account", req.ResumeJobID)
		}
		if prev.State != domain.JobFailed {
			return nil, fmt.Errorf("only failed jobs can be resumed, job %s is %s", prev.ID, prev.State)
		}
		// Inherit the original window and the checkpointed cursor so already
		// committed pages are not listed again.
		job.Mode = prev.Mode
		job.Query = prev.Query
		job.StartDate = prev.StartDate
		job.Watermark = prev.Watermark
		job.MaxResults = prev.MaxResults
		job.Force = prev.Force
		job.GenerateEmbeddings = prev.GenerateEmbeddings
		job.PageCursor = prev.PageCursor
	} else if mode == domain.ModeIncremental {
		watermark, err := u.messages.LatestMessageDate(req.Provider, req.ProviderAccount)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve watermark: %w", err)
		}
		job.Watermark = watermark
	}

	if err := u.jobs.Create(job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	u.running[key] = cancel
	u.wg.Add(1)

	// The goroutine owns the job record from here on; callers get a snapshot
	// taken before it starts mutating state and counters.
	snapshot := *job
	go u.run(jobCtx, provider, job)

	log.Printf("[Import] Started %s job %s for %s", mode, job.ID, key)
	return &snapshot, nil
}

func (u *importUsecaseImpl) GetJobStatus(id string) (*domain.ImportJob, error) {
	job, err := u.jobs.FindByID(id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (u *importUsecaseImpl) ListJobs(limit int) ([]domain.ImportJob, error) {
	return u.jobs.List(limit)
}

func (u *importUsecaseImpl) CancelJob(id string) error {
	job, err := u.jobs.FindByID(id)
	if err != nil {
		return err
	}
	if job == nil {
		return domain.ErrJobNotFound
	}
	if job.State.Terminal() {
		return nil
	}

	u.mu.Lock()
	cancel, ok := u.running[pairKey(job.Provider, job.ProviderAccount)]
	u.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	// No goroutine owns the job (previous process crashed); close it directly.
	now := time.Now()
	job.State = domain.JobCancelled
	job.FinishedAt = &now
	return u.jobs.Update(job)
}

func (u *importUsecaseImpl) Shutdown() {
	u.mu.Lock()
	for _, cancel := range u.running {
		cancel()
	}
	u.mu.Unlock()
	u.wg.Wait()
}

func (u *importUsecaseImpl) run(ctx context.Context, provider domain.MessageProvider, job *domain.ImportJob) {
	key := pairKey(job.Provider, job.ProviderAccount)
	defer func() {
		u.mu.Lock()
		if cancel, ok := u.running[key]; ok {
			cancel()
			delete(u.running, key)
		}
		u.mu.Unlock()
		u.wg.Done()
	}()

	now := time.Now()
	job.State = domain.JobRunning
	job.StartedAt = &now
	if err := u.jobs.Update(job); err != nil {
		log.Printf("[Import] Failed to mark job %s running: %v", job.ID, err)
	}

	err := u.extract(ctx, provider, job)

	finished := time.Now()
	job.FinishedAt = &finished
	switch {
	case err == nil:
		job.State = domain.JobCompleted
	case errors.Is(err, context.Canceled):
		job.State = domain.JobCancelled
	default:
		job.State = domain.JobFailed
		job.LastError = err.Error()
	}
	if err := u.jobs.Update(job); err != nil {
		log.Printf("[Import] Failed to finalize job %s: %v", job.ID, err)
	}
	log.Printf("[Import] Job %s finished: state=%s processed=%d skipped=%d failed=%d",
		job.ID, job.State, job.Processed, job.Skipped, job.Failed)
}

func (u *importUsecaseImpl) extract(ctx context.Context, provider domain.MessageProvider, job *domain.ImportJob) error {
	filter := domain.ListFilter{
		Query:    job.Query,
		PageSize: u.cfg.PageSize,
	}
	// The watermark is exclusive; an explicit start date can only narrow it
	// further.
	if job.Watermark != nil {
		filter.After = job.Watermark
	}
	if job.StartDate != nil && (filter.After == nil || job.StartDate.After(*filter.After)) {
		filter.After = job.StartDate
	}

	pageToken := job.PageCursor
	for {
		page, err := u.listWithRetry(ctx, provider, filter, pageToken)
		if err != nil {
			return err
		}

		refs := page.Refs
		if job.MaxResults > 0 {
			remaining := int64(job.MaxResults) - job.Found
			if remaining <= 0 {
				return nil
			}
			if int64(len(refs)) > remaining {
				refs = refs[:remaining]
			}
		}
		job.Found += int64(len(refs))

		for start := 0; start < len(refs); start += u.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := start + u.cfg.BatchSize
			if end > len(refs) {
				end = len(refs)
			}
			u.processBatch(ctx, provider, job, refs[start:end])
			// Checkpoint after every committed batch so a crash mid-page
			// loses at most one batch of progress.
			if err := u.jobs.Update(job); err != nil {
				log.Printf("[Import] Failed to checkpoint job %s: %v", job.ID, err)
			}
		}

		// The page is fully processed, advance the cursor to the next
		// unprocessed page.
		job.PageCursor = page.NextPageToken
		if err := u.jobs.Update(job); err != nil {
			log.Printf("[Import] Failed to checkpoint job %s: %v", job.ID, err)
		}

		if page.NextPageToken == "" {
			return nil
		}
		if job.MaxResults > 0 && job.Found >= int64(job.MaxResults) {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

func (u *importUsecaseImpl) listWithRetry(ctx context.Context, provider domain.MessageProvider, filter domain.ListFilter, pageToken string) (*domain.ListPage, error) {
	var page *domain.ListPage

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second

	operation := func() error {
		p, err := provider.ListMessages(ctx, filter, pageToken)
		if err != nil {
			if errors.Is(err, domain.ErrAuthRejected) {
				return backoff.Permanent(err)
			}
			log.Printf("[Import] List failed, will retry: %v", err)
			return err
		}
		page = p
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, 4), ctx))
	if err != nil {
		return nil, fmt.Errorf("listing failed: %w", err)
	}
	return page, nil
}

type fetchedMessage struct {
	detail *domain.ProviderMessage
	// attachment bytes keyed by attachment id; a missing key means the fetch
	// failed for that attachment.
	data map[string][]byte
	err  error
}

// processBatch fetches message details in parallel, then validates and writes
// them sequentially in listing order. A failing message is counted and
// skipped, it never aborts the batch.
func (u *importUsecaseImpl) processBatch(ctx context.Context, provider domain.MessageProvider, job *domain.ImportJob, refs []domain.MessageRef) {
	type slot struct {
		ref     domain.MessageRef
		skipped bool
		result  *fetchedMessage
	}

	slots := make([]slot, len(refs))
	for i, ref := range refs {
		slots[i].ref = ref
		if job.Force {
			continue
		}
		existing, err := u.messages.FindByIdentity(job.Provider, job.ProviderAccount, ref.ID)
		if err != nil {
			log.Printf("[Import] Identity lookup failed for %s: %v", ref.ID, err)
			continue
		}
		slots[i].skipped = existing != nil
	}

	sem := make(chan struct{}, u.cfg.WorkerPoolSize)
	var wg sync.WaitGroup
	for i := range slots {
		if slots[i].skipped {
			continue
		}
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			s.result = u.fetchMessage(ctx, provider, s.ref.ID)
		}(&slots[i])
	}
	wg.Wait()

	for i := range slots {
		s := &slots[i]
		if s.skipped {
			job.Skipped++
			continue
		}
		if s.result == nil || s.result.err != nil {
			job.Failed++
			if s.result != nil {
				log.Printf("[Import] Failed to fetch %s: %v", s.ref.ID, s.result.err)
			}
			continue
		}
		if err := u.storeMessage(ctx, job, s.result); err != nil {
			job.Failed++
			job.LastError = err.Error()
			log.Printf("[Import] Failed to store %s: %v", s.ref.ID, err)
			continue
		}
		job.Processed++
	}
}

func (u *importUsecaseImpl) fetchMessage(ctx context.Context, provider domain.MessageProvider, messageID string) *fetchedMessage {
	detail, err := provider.GetMessage(ctx, messageID)
	if err != nil {
		return &fetchedMessage{err: err}
	}

	data := make(map[string][]byte, len(detail.Attachments))
	for _, ref := range detail.Attachments {
		bytes, err := provider.GetAttachment(ctx, messageID, ref.ID)
		if err != nil {
			log.Printf("[Import] Attachment fetch failed for %s/%s: %v", messageID, ref.ID, err)
			continue
		}
		data[ref.ID] = bytes
	}
	return &fetchedMessage{detail: detail, data: data}
}

// storeMessage validates attachments, then hands everything to the dual
// writer. Rejected attachments keep a row with their verdict but no archive
// file.
func (u *importUsecaseImpl) storeMessage(ctx context.Context, job *domain.ImportJob, fetched *fetchedMessage) error {
	detail := fetched.detail

	var rows []domain.Attachment
	var files []archive.AttachmentFile
	for _, ref := range detail.Attachments {
		filename := security.SanitizeFilename(ref.Filename)
		row := domain.Attachment{
			Filename:  filename,
			MimeType:  ref.MimeType,
			SizeBytes: ref.SizeBytes,
		}

		data, ok := fetched.data[ref.ID]
		if !ok {
			row.Verdict = domain.VerdictUnknown
			row.ScanDetail = "attachment fetch failed"
			job.AttachmentsRejected++
			rows = append(rows, row)
			continue
		}

		verdict := u.validator.Validate(ctx, data, ref.MimeType, filename)
		row.MimeType = verdict.DetectedMimeType
		row.SizeBytes = int64(len(data))
		row.ContentHash = verdict.ContentHash
		row.Verdict = verdict.Verdict
		row.ScanDetail = verdict.ScanDetail
		if verdict.Reason != "" {
			row.ScanDetail = verdict.Reason
		}
		if verdict.MimeMismatch {
			note := fmt.Sprintf("declared mime %s, detected %s", ref.MimeType, verdict.DetectedMimeType)
			if row.ScanDetail != "" {
				note = row.ScanDetail + "; " + note
			}
			row.ScanDetail = note
		}

		if verdict.Accepted {
			files = append(files, archive.AttachmentFile{Filename: filename, Data: data})
			job.AttachmentsProcessed++
		} else {
			job.AttachmentsRejected++
		}
		rows = append(rows, row)
	}

	msg := &domain.Message{
		Provider:        job.Provider,
		ProviderAccount: job.ProviderAccount,
		MessageID:       detail.MessageID,
		ThreadID:        detail.ThreadID,
		Subject:         detail.Subject,
		Sender:          detail.Sender,
		SenderName:      detail.SenderName,
		Recipients:      domain.StringList(detail.Recipients),
		CC:              domain.StringList(detail.CC),
		BCC:             domain.StringList(detail.BCC),
		Date:            detail.Date,
		BodyPlain:       detail.BodyPlain,
		BodyHTML:        detail.BodyHTML,
		BodyMarkdown:    detail.BodyMarkdown,
		Labels:          domain.StringList(detail.Labels),
		HasAttachments:  len(files) > 0,
		Metadata:        domain.MetadataMap(detail.Metadata),
	}

	stored, err := u.writer.WriteMessage(msg, rows, files)
	if err != nil {
		return err
	}

	if job.GenerateEmbeddings && u.embedder != nil {
		u.embedder.Enqueue(stored.ID)
	}
	return nil
}
