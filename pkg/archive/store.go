package archive

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"mailvault/internal/message/domain"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const maxSlugLen = 60

// AttachmentFile carries one attachment's bytes into the archive writer.
type AttachmentFile struct {
	Filename string
	Data     []byte
}

// Store renders messages into a year/month markdown tree. One file per
// message, attachments base64-encoded in a sibling directory named after the
// message file. Only PendingWrite mutates the tree.
type Store struct {
	basePath string
}

func NewStore(basePath string) (*Store, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve archive path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	return &Store{basePath: abs}, nil
}

func (s *Store) BasePath() string {
	return s.basePath
}

// PendingWrite is a fully rendered message sitting at temporary paths.
// Commit renames it into place, Discard removes it. Exactly one of the two
// must be called.
type PendingWrite struct {
	relMessagePath   string
	relAttachmentDir string

	tmpMessagePath   string
	tmpAttachmentDir string

	finalMessagePath   string
	finalAttachmentDir string
}

// FinalPath returns the message file path relative to the archive root. It is
// valid before Commit, so the structured store can record it inside the same
// transaction that precedes the rename.
func (p *PendingWrite) FinalPath() string {
	return p.relMessagePath
}

// AttachmentDir returns the sibling attachment directory relative to the
// archive root, or "" when the message has no attachments.
func (p *PendingWrite) AttachmentDir() string {
	return p.relAttachmentDir
}

// Prepare renders the message and its attachments to temporary paths inside
// the final year/month directory. Nothing is visible under the final names
// until Commit.
func (s *Store) Prepare(msg *domain.Message, attachments []AttachmentFile) (*PendingWrite, error) {
	dir := filepath.Join(s.basePath, msg.Date.Format("2006"), msg.Date.Format("01"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	stem := msg.Date.Format("20060102_150405") + "_" + Slugify(msg.Subject)
	token := uuid.New().String()[:8]

	p := &PendingWrite{
		relMessagePath:   filepath.Join(msg.Date.Format("2006"), msg.Date.Format("01"), stem+".md"),
		finalMessagePath: filepath.Join(dir, stem+".md"),
		tmpMessagePath:   filepath.Join(dir, ".tmp-"+token+"-"+stem+".md"),
	}

	content, err := renderMarkdown(msg)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(p.tmpMessagePath, content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write archive file: %w", err)
	}

	if len(attachments) > 0 {
		p.relAttachmentDir = filepath.Join(msg.Date.Format("2006"), msg.Date.Format("01"), stem)
		p.finalAttachmentDir = filepath.Join(dir, stem)
		p.tmpAttachmentDir = filepath.Join(dir, ".tmp-"+token+"-"+stem)

		if err := os.MkdirAll(p.tmpAttachmentDir, 0o755); err != nil {
			p.Discard()
			return nil, fmt.Errorf("failed to create attachment directory: %w", err)
		}
		for _, att := range attachments {
			encoded := base64.StdEncoding.EncodeToString(att.Data)
			path := filepath.Join(p.tmpAttachmentDir, AttachmentFileName(att.Filename))
			if err := os.WriteFile(path, []byte(encoded), 0o644); err != nil {
				p.Discard()
				return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
			}
		}
	}

	return p, nil
}

// Commit moves the rendered artifacts to their final names. The attachment
// directory goes first so a committed message file never points at a missing
// sibling.
func (p *PendingWrite) Commit() error {
	if p.tmpAttachmentDir != "" {
		if err := os.RemoveAll(p.finalAttachmentDir); err != nil {
			return fmt.Errorf("failed to clear attachment directory: %w", err)
		}
		if err := os.Rename(p.tmpAttachmentDir, p.finalAttachmentDir); err != nil {
			return fmt.Errorf("failed to publish attachment directory: %w", err)
		}
	}
	if err := os.Rename(p.tmpMessagePath, p.finalMessagePath); err != nil {
		return fmt.Errorf("failed to publish archive file: %w", err)
	}
	return nil
}

// Discard removes every temporary artifact. Safe to call more than once.
func (p *PendingWrite) Discard() {
	_ = os.Remove(p.tmpMessagePath)
	if p.tmpAttachmentDir != "" {
		_ = os.RemoveAll(p.tmpAttachmentDir)
	}
}

// AttachmentFileName returns the archive file name used for an attachment,
// derived deterministically from its original filename.
func AttachmentFileName(filename string) string {
	name := Slugify(strings.TrimSuffix(filename, filepath.Ext(filename)))
	if ext := Slugify(strings.TrimPrefix(filepath.Ext(filename), ".")); ext != "" {
		name += "." + ext
	}
	return name + ".base64"
}

// Slugify reduces text to a lowercase dash-separated filesystem-safe slug.
func Slugify(text string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "untitled"
	}
	return slug
}

type frontMatter struct {
	Provider        string    `yaml:"provider"`
	ProviderAccount string    `yaml:"provider_account"`
	MessageID       string    `yaml:"message_id"`
	ThreadID        string    `yaml:"thread_id,omitempty"`
	Subject         string    `yaml:"subject"`
	Sender          string    `yaml:"sender"`
	SenderName      string    `yaml:"sender_name,omitempty"`
	Recipients      []string  `yaml:"to,omitempty"`
	CC              []string  `yaml:"cc,omitempty"`
	BCC             []string  `yaml:"bcc,omitempty"`
	Date            time.Time `yaml:"date"`
	Labels          []string  `yaml:"labels,omitempty"`
	HasAttachments  bool      `yaml:"has_attachments"`
}

func renderMarkdown(msg *domain.Message) ([]byte, error) {
	fm := frontMatter{
		Provider:        msg.Provider,
		ProviderAccount: msg.ProviderAccount,
		MessageID:       msg.MessageID,
		ThreadID:        msg.ThreadID,
		Subject:         msg.Subject,
		Sender:          msg.Sender,
		SenderName:      msg.SenderName,
		Recipients:      []string(msg.Recipients),
		CC:              []string(msg.CC),
		BCC:             []string(msg.BCC),
		Date:            msg.Date.UTC(),
		Labels:          []string(msg.Labels),
		HasAttachments:  msg.HasAttachments,
	}
	head, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("failed to render front matter: %w", err)
	}

	body := msg.BodyMarkdown
	if body == "" {
		body = msg.BodyPlain
	}
	if body == "" {
		body = msg.BodyHTML
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	b.WriteString("# ")
	if msg.Subject != "" {
		b.WriteString(msg.Subject)
	} else {
		b.WriteString("(no subject)")
	}
	b.WriteString("\n\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// Stats reports file count and total size of the committed archive tree.
// Temporary artifacts are excluded.
type Stats struct {
	MessageFiles    int64
	AttachmentFiles int64
	TotalBytes      int64
}

func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{}
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".tmp-") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.TotalBytes += info.Size()
		switch {
		case strings.HasSuffix(name, ".md"):
			stats.MessageFiles++
		case strings.HasSuffix(name, ".base64"):
			stats.AttachmentFiles++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk archive tree: %w", err)
	}
	return stats, nil
}
