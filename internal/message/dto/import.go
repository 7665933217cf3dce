package dto

import (
	"time"

	"mailvault/internal/message/domain"
	"mailvault/pkg/archive"
)

// ImportRequest starts an extraction run for one provider/account pair.
type ImportRequest struct {
	Provider        string     `json:"provider" binding:"required"`
	ProviderAccount string     `json:"provider_account" binding:"required"`
	Mode            string     `json:"mode,omitempty"` // "full" (default) or "incremental"
	Query           string     `json:"query,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	MaxResults      int        `json:"max_results,omitempty"`
	// Force reprocesses messages that are already stored.
	Force              bool  `json:"force,omitempty"`
	GenerateEmbeddings *bool `json:"generate_embeddings,omitempty"` // default true
	// ResumeJobID continues a failed job from its checkpointed page cursor
	// instead of restarting from the beginning.
	ResumeJobID string `json:"resume_job_id,omitempty"`
}

// SearchRequest queries the hybrid retrieval engine.
type SearchRequest struct {
	Query           string     `json:"query" binding:"required"`
	Provider        string     `json:"provider,omitempty"`
	ProviderAccount string     `json:"provider_account,omitempty"`
	Sender          string     `json:"sender,omitempty"`
	DateFrom        *time.Time `json:"date_from,omitempty"`
	DateTo          *time.Time `json:"date_to,omitempty"`
	Limit           int        `json:"limit,omitempty"`
}

// SearchResult is one ranked hit with its score breakdown.
type SearchResult struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	MessageID      string    `json:"message_id"`
	Subject        string    `json:"subject"`
	Sender         string    `json:"sender"`
	Date           time.Time `json:"date"`
	Snippet        string    `json:"snippet,omitempty"`
	ArchivePath    string    `json:"archive_path,omitempty"`
	HasAttachments bool      `json:"has_attachments"`
	Score          float64   `json:"score"`
	CosineScore    float64   `json:"cosine_score"`
	LexicalScore   float64   `json:"lexical_score"`
}

// BackfillResponse reports how many pending messages were queued.
type BackfillResponse struct {
	Queued int `json:"queued"`
}

// StatusResponse is the service-level status surface.
type StatusResponse struct {
	Messages         int64              `json:"messages"`
	Attachments      int64              `json:"attachments"`
	EmbeddingPending int64              `json:"embedding_pending"`
	Archive          *archive.Stats     `json:"archive,omitempty"`
	Providers        []string           `json:"providers"`
	RecentJobs       []domain.ImportJob `json:"recent_jobs"`
}
