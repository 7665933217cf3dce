package domain

import "time"

// ImportMode selects full extraction or watermark-bounded incremental sync.
type ImportMode string

const (
	ModeFull        ImportMode = "full"
	ModeIncremental ImportMode = "incremental"
)

// JobState is the import job state machine. Terminal states are final.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// ImportJob tracks one extraction run. Counters only ever grow within a job;
// the row is retained after completion as the source of the next watermark
// query and for status reads.
type ImportJob struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	Provider        string     `json:"provider" gorm:"index:idx_job_pair;not null"`
	ProviderAccount string     `json:"provider_account" gorm:"index:idx_job_pair;not null"`
	Mode            ImportMode `json:"mode" gorm:"not null"`
	State           JobState   `json:"state" gorm:"index;not null"`

	Query              string     `json:"query,omitempty"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	Watermark          *time.Time `json:"watermark,omitempty"`
	MaxResults         int        `json:"max_results,omitempty"`
	Force              bool       `json:"force"`
	GenerateEmbeddings bool       `json:"generate_embeddings"`

	Found                int64 `json:"found"`
	Processed            int64 `json:"processed"`
	Failed               int64 `json:"failed"`
	Skipped              int64 `json:"skipped"`
	AttachmentsProcessed int64 `json:"attachments_processed"`
	AttachmentsRejected  int64 `json:"attachments_rejected"`

	// PageCursor is the provider's opaque token for the last committed page,
	// kept so an external retry can resume instead of restarting from zero.
	PageCursor string `json:"page_cursor,omitempty"`
	LastError  string `json:"last_error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (ImportJob) TableName() string {
	return "import_jobs"
}
