package usecase

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mailvault/internal/message/domain"
	"mailvault/internal/message/repository"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupWorker(t *testing.T, embedder *fakeEmbedder) (*EmbeddingWorker, repository.MessageRepository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Message{}, &domain.Attachment{}))

	repo := repository.NewMessageRepository(db)
	return NewEmbeddingWorker(repo, embedder, 2, 10), repo, db
}

func insertPending(t *testing.T, db *gorm.DB, repo repository.MessageRepository, id string) string {
	t.Helper()
	msg := &domain.Message{
		Provider:        "gmail",
		ProviderAccount: "user@example.com",
		MessageID:       id,
		Subject:         "subject",
		Sender:          "alice@example.com",
		Date:            time.Now(),
		BodyPlain:       "body",
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.UpsertMessageTx(tx, msg, nil)
		return err
	})
	require.NoError(t, err)
	return msg.ID
}

func TestWorkerGeneratesEmbedding(t *testing.T) {
	worker, repo, db := setupWorker(t, &fakeEmbedder{vector: []float32{0.1, 0.2}})
	id := insertPending(t, db, repo, "m1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	worker.Enqueue(id)
	require.Eventually(t, func() bool {
		n, err := repo.CountEmbeddingPending()
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	worker.Stop()

	stored, err := repo.FindByID(id)
	require.NoError(t, err)
	require.NotNil(t, stored.Embedding)
	assert.Equal(t, []float32{0.1, 0.2}, stored.Embedding.Slice())
}

func TestWorkerFailureKeepsMessagePending(t *testing.T) {
	worker, repo, db := setupWorker(t, &fakeEmbedder{err: assert.AnError})
	id := insertPending(t, db, repo, "m1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	worker.Enqueue(id)

	time.Sleep(200 * time.Millisecond)
	worker.Stop()

	n, err := repo.CountEmbeddingPending()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "failed generation leaves the message pending for backfill")
}

func TestBackfillQueuesPending(t *testing.T) {
	worker, repo, db := setupWorker(t, &fakeEmbedder{vector: []float32{0.5}})
	for _, id := range []string{"m1", "m2", "m3"} {
		insertPending(t, db, repo, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	queued, err := worker.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, queued)

	require.Eventually(t, func() bool {
		n, err := repo.CountEmbeddingPending()
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)
	worker.Stop()
}
