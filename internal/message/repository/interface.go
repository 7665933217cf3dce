package repository

import (
	"time"

	"mailvault/internal/message/domain"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// CandidateFilter narrows the pool of messages the retrieval engine ranks.
type CandidateFilter struct {
	Provider        string
	ProviderAccount string
	Sender          string
	DateFrom        *time.Time
	DateTo          *time.Time
	Limit           int
}

// MessageRepository is the structured-store access layer for messages and
// their attachments.
type MessageRepository interface {
	// UpsertMessageTx writes the message and its attachment rows inside the
	// caller's transaction, preserving the row ID and CreatedAt when the
	// identity triple already exists.
	UpsertMessageTx(tx *gorm.DB, msg *domain.Message, attachments []domain.Attachment) (*domain.Message, error)
	FindByIdentity(provider, account, messageID string) (*domain.Message, error)
	FindByID(id string) (*domain.Message, error)
	// LatestMessageDate returns the newest stored message timestamp for the
	// provider/account pair, or nil when nothing is stored yet.
	LatestMessageDate(provider, account string) (*time.Time, error)
	FindEmbeddingPending(limit int) ([]domain.Message, error)
	UpdateEmbedding(id string, vector pgvector.Vector) error
	SearchCandidates(filter CandidateFilter) ([]domain.Message, error)
	CountMessages() (int64, error)
	CountAttachments() (int64, error)
	CountEmbeddingPending() (int64, error)
}

// ImportJobRepository persists import job state and counters.
type ImportJobRepository interface {
	Create(job *domain.ImportJob) error
	Update(job *domain.ImportJob) error
	FindByID(id string) (*domain.ImportJob, error)
	// FindRunning returns the non-terminal job for the pair, or nil.
	FindRunning(provider, account string) (*domain.ImportJob, error)
	List(limit int) ([]domain.ImportJob, error)
	// MarkInterrupted fails every job left in a running state by a previous
	// process. Called once at startup.
	MarkInterrupted() (int64, error)
}
