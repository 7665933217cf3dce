package repository

import (
	"errors"
	"time"

	"mailvault/internal/message/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type importJobRepositoryImpl struct {
	db *gorm.DB
}

func NewImportJobRepository(db *gorm.DB) ImportJobRepository {
	return &importJobRepositoryImpl{db: db}
}

func (r *importJobRepositoryImpl) Create(job *domain.ImportJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	return r.db.Create(job).Error
}

func (r *importJobRepositoryImpl) Update(job *domain.ImportJob) error {
	return r.db.Save(job).Error
}

func (r *importJobRepositoryImpl) FindByID(id string) (*domain.ImportJob, error) {
	var job domain.ImportJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *importJobRepositoryImpl) FindRunning(provider, account string) (*domain.ImportJob, error) {
	var job domain.ImportJob
	err := r.db.Where("provider = ? AND provider_account = ? AND state IN ?",
		provider, account, []domain.JobState{domain.JobPending, domain.JobRunning}).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *importJobRepositoryImpl) List(limit int) ([]domain.ImportJob, error) {
	var jobs []domain.ImportJob
	q := r.db.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *importJobRepositoryImpl) MarkInterrupted() (int64, error) {
	now := time.Now()
	result := r.db.Model(&domain.ImportJob{}).
		Where("state IN ?", []domain.JobState{domain.JobPending, domain.JobRunning}).
		Updates(map[string]interface{}{
			"state":       domain.JobFailed,
			"last_error":  "interrupted by process restart",
			"finished_at": now,
		})
	return result.RowsAffected, result.Error
}
