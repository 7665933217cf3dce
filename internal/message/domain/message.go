package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
)

// StringList persists a string slice as a JSON column so the same model
// works on PostgreSQL and the sqlite test driver.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
}

// MetadataMap persists free-form provider metadata as a JSON column.
type MetadataMap map[string]string

func (m MetadataMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *MetadataMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported type for MetadataMap: %T", value)
	}
}

// Message is one imported message. The triple (Provider, ProviderAccount,
// MessageID) is the identity key: re-importing the same triple updates the
// existing row, it never creates a second one.
type Message struct {
	ID              string `json:"id" gorm:"primaryKey"`
	Provider        string `json:"provider" gorm:"uniqueIndex:idx_message_identity;not null"`
	ProviderAccount string `json:"provider_account" gorm:"uniqueIndex:idx_message_identity;not null"`
	MessageID       string `json:"message_id" gorm:"uniqueIndex:idx_message_identity;not null"`
	ThreadID        string `json:"thread_id,omitempty" gorm:"index"`

	Subject    string     `json:"subject"`
	Sender     string     `json:"sender" gorm:"index"`
	SenderName string     `json:"sender_name"`
	Recipients StringList `json:"recipients" gorm:"type:text"`
	CC         StringList `json:"cc,omitempty" gorm:"type:text"`
	BCC        StringList `json:"bcc,omitempty" gorm:"type:text"`
	Date       time.Time  `json:"date" gorm:"index"`

	BodyPlain    string `json:"body_plain,omitempty" gorm:"type:text"`
	BodyHTML     string `json:"body_html,omitempty" gorm:"type:text"`
	BodyMarkdown string `json:"body_markdown,omitempty" gorm:"type:text"`

	Labels         StringList `json:"labels" gorm:"type:text"`
	HasAttachments bool       `json:"has_attachments"`

	// Embedding is nil while the message is embedding-pending; once set it
	// always has the configured dimension.
	Embedding *pgvector.Vector `json:"-" gorm:"type:vector(768)"`

	ArchivePath string      `json:"archive_path,omitempty"`
	Metadata    MetadataMap `json:"metadata,omitempty" gorm:"type:text"`

	Attachments []Attachment `json:"attachments,omitempty" gorm:"foreignKey:MessageRef"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// AttachmentVerdict is the recorded safety verdict for an attachment.
type AttachmentVerdict string

const (
	VerdictUnknown AttachmentVerdict = "unknown"
	VerdictSafe    AttachmentVerdict = "safe"
	VerdictUnsafe  AttachmentVerdict = "unsafe"
)

// Attachment is a child row of Message. A row exists only with a recorded
// verdict; rejected attachments keep their row but never an archive file.
type Attachment struct {
	ID         string `json:"id" gorm:"primaryKey"`
	MessageRef string `json:"-" gorm:"index;not null"` // messages.id

	Filename    string            `json:"filename" gorm:"not null"`
	MimeType    string            `json:"mime_type"`
	SizeBytes   int64             `json:"size_bytes"`
	ContentHash string            `json:"content_hash" gorm:"index"`
	Verdict     AttachmentVerdict `json:"verdict" gorm:"not null"`
	ScanDetail  string            `json:"scan_detail,omitempty"`
	ArchivePath string            `json:"archive_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Attachment) TableName() string {
	return "attachments"
}
