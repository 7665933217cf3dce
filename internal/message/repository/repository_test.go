package repository

import (
	"path/filepath"
	"testing"
	"time"

	"mailvault/internal/message/domain"

	"github.com/glebarez/sqlite"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Message{}, &domain.Attachment{}, &domain.ImportJob{}))
	return db
}

func sampleMessage(messageID string, date time.Time) *domain.Message {
	return &domain.Message{
		Provider:        "gmail",
		ProviderAccount: "user@example.com",
		MessageID:       messageID,
		Subject:         "subject " + messageID,
		Sender:          "alice@example.com",
		Recipients:      domain.StringList{"bob@example.com"},
		Date:            date,
		BodyPlain:       "body",
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	date := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var firstID string
	var firstCreated time.Time

	err := db.Transaction(func(tx *gorm.DB) error {
		stored, err := repo.UpsertMessageTx(tx, sampleMessage("m1", date), []domain.Attachment{
			{Filename: "a.pdf", ContentHash: "h1", Verdict: domain.VerdictSafe},
		})
		require.NoError(t, err)
		firstID = stored.ID
		firstCreated = stored.CreatedAt
		return nil
	})
	require.NoError(t, err)

	// Second import of the same identity updates in place.
	updated := sampleMessage("m1", date)
	updated.Subject = "updated subject"
	err = db.Transaction(func(tx *gorm.DB) error {
		stored, err := repo.UpsertMessageTx(tx, updated, []domain.Attachment{
			{Filename: "b.pdf", ContentHash: "h2", Verdict: domain.VerdictSafe},
		})
		require.NoError(t, err)
		assert.Equal(t, firstID, stored.ID)
		assert.Equal(t, firstCreated.Unix(), stored.CreatedAt.Unix())
		return nil
	})
	require.NoError(t, err)

	count, err := repo.CountMessages()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	found, err := repo.FindByIdentity("gmail", "user@example.com", "m1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "updated subject", found.Subject)
	require.Len(t, found.Attachments, 1, "attachment rows are replaced, not appended")
	assert.Equal(t, "b.pdf", found.Attachments[0].Filename)
}

func TestUpsertPreservesEmbedding(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	date := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.UpsertMessageTx(tx, sampleMessage("m1", date), nil)
		return err
	})
	require.NoError(t, err)

	stored, err := repo.FindByIdentity("gmail", "user@example.com", "m1")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateEmbedding(stored.ID, pgvector.NewVector([]float32{0.5, 0.5, 0.5})))

	// A force re-import carries no vector; the existing one must survive.
	reimported := sampleMessage("m1", date)
	reimported.Subject = "reimported"
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.UpsertMessageTx(tx, reimported, nil)
		return err
	})
	require.NoError(t, err)

	found, err := repo.FindByID(stored.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "reimported", found.Subject)
	require.NotNil(t, found.Embedding, "upsert must not reset the message to embedding-pending")
	assert.Equal(t, []float32{0.5, 0.5, 0.5}, found.Embedding.Slice())

	pending, err := repo.CountEmbeddingPending()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestUpsertRollbackLeavesNoRow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.UpsertMessageTx(tx, sampleMessage("m1", time.Now()), nil)
		require.NoError(t, err)
		return assert.AnError
	})
	require.Error(t, err)

	count, err := repo.CountMessages()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestFindByIdentityMissing(t *testing.T) {
	repo := NewMessageRepository(setupTestDB(t))

	found, err := repo.FindByIdentity("gmail", "user@example.com", "nope")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestLatestMessageDate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	wm, err := repo.LatestMessageDate("gmail", "user@example.com")
	require.NoError(t, err)
	assert.Nil(t, wm, "no watermark before first import")

	older := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for id, date := range map[string]time.Time{"m1": newer, "m2": older} {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := repo.UpsertMessageTx(tx, sampleMessage(id, date), nil)
			return err
		})
		require.NoError(t, err)
	}

	wm, err = repo.LatestMessageDate("gmail", "user@example.com")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, newer.Unix(), wm.Unix())

	other, err := repo.LatestMessageDate("imap", "user@example.com")
	require.NoError(t, err)
	assert.Nil(t, other, "watermark is scoped to the provider/account pair")
}

func TestEmbeddingLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.UpsertMessageTx(tx, sampleMessage("m1", time.Now()), nil)
		return err
	})
	require.NoError(t, err)

	pending, err := repo.FindEmbeddingPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	n, err := repo.CountEmbeddingPending()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.UpdateEmbedding(pending[0].ID, pgvector.NewVector([]float32{0.1, 0.2, 0.3})))

	pending, err = repo.FindEmbeddingPending(10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := repo.FindByID(pending0ID(t, repo))
	require.NoError(t, err)
	require.NotNil(t, stored.Embedding)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, stored.Embedding.Slice())
}

func pending0ID(t *testing.T, repo MessageRepository) string {
	t.Helper()
	msg, err := repo.FindByIdentity("gmail", "user@example.com", "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg.ID
}

func TestSearchCandidatesFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	msgs := []*domain.Message{
		sampleMessage("m1", jan),
		sampleMessage("m2", jun),
	}
	msgs[1].Provider = "imap"
	msgs[1].Sender = "carol@example.com"
	for _, m := range msgs {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := repo.UpsertMessageTx(tx, m, nil)
			return err
		})
		require.NoError(t, err)
	}

	all, err := repo.SearchCandidates(CandidateFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "m2", all[0].MessageID, "ordered newest first")

	byProvider, err := repo.SearchCandidates(CandidateFilter{Provider: "imap"})
	require.NoError(t, err)
	require.Len(t, byProvider, 1)
	assert.Equal(t, "m2", byProvider[0].MessageID)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	byDate, err := repo.SearchCandidates(CandidateFilter{DateFrom: &from})
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, "m2", byDate[0].MessageID)

	bySender, err := repo.SearchCandidates(CandidateFilter{Sender: "carol@example.com"})
	require.NoError(t, err)
	require.Len(t, bySender, 1)
}

func TestImportJobLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewImportJobRepository(db)

	job := &domain.ImportJob{
		Provider:        "gmail",
		ProviderAccount: "user@example.com",
		Mode:            domain.ModeFull,
		State:           domain.JobRunning,
	}
	require.NoError(t, repo.Create(job))
	require.NotEmpty(t, job.ID)

	running, err := repo.FindRunning("gmail", "user@example.com")
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, job.ID, running.ID)

	job.State = domain.JobCompleted
	job.Processed = 7
	require.NoError(t, repo.Update(job))

	running, err = repo.FindRunning("gmail", "user@example.com")
	require.NoError(t, err)
	assert.Nil(t, running, "terminal jobs do not block new imports")

	found, err := repo.FindByID(job.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(7), found.Processed)

	missing, err := repo.FindByID("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMarkInterrupted(t *testing.T) {
	db := setupTestDB(t)
	repo := NewImportJobRepository(db)

	require.NoError(t, repo.Create(&domain.ImportJob{
		Provider: "gmail", ProviderAccount: "a@x.com", Mode: domain.ModeFull, State: domain.JobRunning,
	}))
	require.NoError(t, repo.Create(&domain.ImportJob{
		Provider: "gmail", ProviderAccount: "b@x.com", Mode: domain.ModeFull, State: domain.JobCompleted,
	}))

	n, err := repo.MarkInterrupted()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	jobs, err := repo.List(0)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.True(t, j.State.Terminal())
	}
}
