package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sentinel errors shared across the import core.
var (
	// ErrAuthRejected marks a provider error as fatal for the whole job.
	ErrAuthRejected = errors.New("provider authentication rejected")
	// ErrImportInProgress is returned when a job is already running for the
	// same provider/account pair.
	ErrImportInProgress = errors.New("import already running for this provider/account")
	ErrJobNotFound      = errors.New("import job not found")
	// ErrArchiveInconsistent wraps a rename failure after a committed
	// transaction: the structured row exists but the archive file does not.
	// Callers must retry or reconcile, never swallow it.
	ErrArchiveInconsistent = errors.New("archive write inconsistent with store")
)

// MessageRef is a lightweight handle returned by listing.
type MessageRef struct {
	ID string
}

// ListFilter narrows a listing call. After is exclusive: providers must only
// return messages strictly newer than it.
type ListFilter struct {
	Query    string
	After    *time.Time
	PageSize int64
}

// ListPage is one page of refs plus the provider's opaque continuation token.
type ListPage struct {
	Refs          []MessageRef
	NextPageToken string
	TotalEstimate int64
}

// AttachmentRef describes an attachment before its bytes are fetched.
type AttachmentRef struct {
	ID        string
	Filename  string
	MimeType  string
	SizeBytes int64
}

// ProviderMessage is the normalized full message detail every provider
// adapter produces.
type ProviderMessage struct {
	MessageID      string
	ThreadID       string
	Subject        string
	Sender         string
	SenderName     string
	Recipients     []string
	CC             []string
	BCC            []string
	Date           time.Time
	BodyPlain      string
	BodyHTML       string
	BodyMarkdown   string
	Labels         []string
	HasAttachments bool
	Attachments    []AttachmentRef
	Metadata       map[string]string
}

// MessageProvider is the message-source capability. Page tokens are opaque
// and passed back unmodified.
type MessageProvider interface {
	Name() string
	Account() string
	ListMessages(ctx context.Context, filter ListFilter, pageToken string) (*ListPage, error)
	GetMessage(ctx context.Context, messageID string) (*ProviderMessage, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// ProviderRegistry holds the fixed set of provider variants built at process
// start. There is no runtime discovery: main wires every known adapter in.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]MessageProvider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]MessageProvider)}
}

func registryKey(provider, account string) string {
	return provider + "/" + account
}

func (r *ProviderRegistry) Register(p MessageProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[registryKey(p.Name(), p.Account())] = p
}

func (r *ProviderRegistry) Lookup(provider, account string) (MessageProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[registryKey(provider, account)]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q for account %q", provider, account)
	}
	return p, nil
}

// All returns the registered providers in no particular order.
func (r *ProviderRegistry) All() []MessageProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MessageProvider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}
