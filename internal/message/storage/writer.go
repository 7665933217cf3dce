package storage

import (
	"fmt"
	"path/filepath"

	"mailvault/internal/message/domain"
	"mailvault/internal/message/repository"
	"mailvault/pkg/archive"

	"gorm.io/gorm"
)

// DualWriter is the single mutation path into both storage targets. A message
// becomes visible in the structured store and the archive together, or in
// neither.
//
// Protocol: render the archive artifacts to temporary paths, run the
// structured-store transaction with the final archive path already recorded,
// then rename the artifacts into place. A failed transaction discards the
// temporary files; a failed rename after commit surfaces
// ErrArchiveInconsistent for the caller to retry.
type DualWriter struct {
	db      *gorm.DB
	repo    repository.MessageRepository
	archive *archive.Store
}

func NewDualWriter(db *gorm.DB, repo repository.MessageRepository, store *archive.Store) *DualWriter {
	return &DualWriter{db: db, repo: repo, archive: store}
}

// WriteMessage persists the message, its attachment rows, and the archive
// artifacts. files holds the bytes of accepted attachments only; rejected
// attachments keep their row but never reach the archive.
func (w *DualWriter) WriteMessage(msg *domain.Message, attachments []domain.Attachment, files []archive.AttachmentFile) (*domain.Message, error) {
	pending, err := w.archive.Prepare(msg, files)
	if err != nil {
		return nil, fmt.Errorf("failed to render archive artifacts: %w", err)
	}

	msg.ArchivePath = pending.FinalPath()

	archived := make(map[string]bool, len(files))
	for _, f := range files {
		archived[f.Filename] = true
	}
	for i := range attachments {
		if archived[attachments[i].Filename] {
			attachments[i].ArchivePath = filepath.Join(pending.AttachmentDir(), archive.AttachmentFileName(attachments[i].Filename))
		}
	}

	var stored *domain.Message
	err = w.db.Transaction(func(tx *gorm.DB) error {
		s, err := w.repo.UpsertMessageTx(tx, msg, attachments)
		if err != nil {
			return err
		}
		stored = s
		return nil
	})
	if err != nil {
		pending.Discard()
		return nil, fmt.Errorf("structured store write failed: %w", err)
	}

	if err := pending.Commit(); err != nil {
		return stored, fmt.Errorf("%w: %v", domain.ErrArchiveInconsistent, err)
	}
	return stored, nil
}
