package repository

import (
	"errors"
	"time"

	"mailvault/internal/message/domain"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type messageRepositoryImpl struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepositoryImpl{db: db}
}

func (r *messageRepositoryImpl) UpsertMessageTx(tx *gorm.DB, msg *domain.Message, attachments []domain.Attachment) (*domain.Message, error) {
	var existing domain.Message
	err := tx.Where("provider = ? AND provider_account = ? AND message_id = ?",
		msg.Provider, msg.ProviderAccount, msg.MessageID).First(&existing).Error
	switch {
	case err == nil:
		msg.ID = existing.ID
		msg.CreatedAt = existing.CreatedAt
		// A re-import carries no vector; keep the generated one instead of
		// resetting the message to embedding-pending.
		if msg.Embedding == nil {
			msg.Embedding = existing.Embedding
		}
		// Attachment rows are replaced wholesale so a re-import never leaves
		// stale children behind.
		if err := tx.Where("message_ref = ?", existing.ID).Delete(&domain.Attachment{}).Error; err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		msg.ID = uuid.New().String()
	default:
		return nil, err
	}

	if err := tx.Save(msg).Error; err != nil {
		return nil, err
	}

	for i := range attachments {
		attachments[i].ID = uuid.New().String()
		attachments[i].MessageRef = msg.ID
		if err := tx.Create(&attachments[i]).Error; err != nil {
			return nil, err
		}
	}
	msg.Attachments = attachments
	return msg, nil
}

func (r *messageRepositoryImpl) FindByIdentity(provider, account, messageID string) (*domain.Message, error) {
	var msg domain.Message
	err := r.db.Preload("Attachments").
		Where("provider = ? AND provider_account = ? AND message_id = ?", provider, account, messageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepositoryImpl) FindByID(id string) (*domain.Message, error) {
	var msg domain.Message
	err := r.db.Preload("Attachments").Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepositoryImpl) LatestMessageDate(provider, account string) (*time.Time, error) {
	var msg domain.Message
	err := r.db.Where("provider = ? AND provider_account = ?", provider, account).
		Order("date DESC").First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg.Date, nil
}

func (r *messageRepositoryImpl) FindEmbeddingPending(limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	q := r.db.Where("embedding IS NULL").Order("date ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepositoryImpl) UpdateEmbedding(id string, vector pgvector.Vector) error {
	return r.db.Model(&domain.Message{}).Where("id = ?", id).
		Update("embedding", vector).Error
}

func (r *messageRepositoryImpl) SearchCandidates(filter CandidateFilter) ([]domain.Message, error) {
	q := r.db.Model(&domain.Message{})
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.ProviderAccount != "" {
		q = q.Where("provider_account = ?", filter.ProviderAccount)
	}
	if filter.Sender != "" {
		q = q.Where("sender = ?", filter.Sender)
	}
	if filter.DateFrom != nil {
		q = q.Where("date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		q = q.Where("date <= ?", *filter.DateTo)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var msgs []domain.Message
	if err := q.Order("date DESC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepositoryImpl) CountMessages() (int64, error) {
	var count int64
	err := r.db.Model(&domain.Message{}).Count(&count).Error
	return count, err
}

func (r *messageRepositoryImpl) CountAttachments() (int64, error) {
	var count int64
	err := r.db.Model(&domain.Attachment{}).Count(&count).Error
	return count, err
}

func (r *messageRepositoryImpl) CountEmbeddingPending() (int64, error) {
	var count int64
	err := r.db.Model(&domain.Message{}).Where("embedding IS NULL").Count(&count).Error
	return count, err
}
