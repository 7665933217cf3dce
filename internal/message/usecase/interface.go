package usecase

import (
	"context"

	"mailvault/internal/message/domain"
	"mailvault/internal/message/dto"
)

// ImportUsecase owns the import job lifecycle. One running job per
// provider/account pair; jobs execute on their own goroutine and checkpoint
// after every batch.
type ImportUsecase interface {
	StartImport(ctx context.Context, req dto.ImportRequest) (*domain.ImportJob, error)
	GetJobStatus(id string) (*domain.ImportJob, error)
	ListJobs(limit int) ([]domain.ImportJob, error)
	CancelJob(id string) error
	// Shutdown cancels every running job and waits for their goroutines.
	Shutdown()
}

// SearchUsecase is the hybrid retrieval engine.
type SearchUsecase interface {
	Search(ctx context.Context, req dto.SearchRequest) ([]dto.SearchResult, error)
}

// EmbeddingEnqueuer decouples the import path from embedding generation.
type EmbeddingEnqueuer interface {
	Enqueue(messageID string)
}
