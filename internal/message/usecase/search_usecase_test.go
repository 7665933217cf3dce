package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mailvault/internal/message/domain"
	"mailvault/internal/message/dto"
	"mailvault/internal/message/repository"
	"mailvault/pkg/config"

	"github.com/glebarez/sqlite"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vector, f.err
}

func (f *fakeEmbedder) Dimension() int { return len(f.vector) }

type searchFixture struct {
	db       *gorm.DB
	repo     repository.MessageRepository
	embedder *fakeEmbedder
	cfg      *config.Config
}

func setupSearch(t *testing.T) *searchFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Message{}, &domain.Attachment{}))

	return &searchFixture{
		db:       db,
		repo:     repository.NewMessageRepository(db),
		embedder: &fakeEmbedder{vector: []float32{1, 0, 0}},
		cfg:      &config.Config{SearchCandidatePool: 100},
	}
}

func (f *searchFixture) usecase() SearchUsecase {
	return NewSearchUsecase(f.repo, f.embedder, f.cfg)
}

func (f *searchFixture) insert(t *testing.T, id, subject, body string, date time.Time, embedding []float32) {
	t.Helper()
	msg := &domain.Message{
		Provider:        "gmail",
		ProviderAccount: "user@example.com",
		MessageID:       id,
		Subject:         subject,
		Sender:          "alice@example.com",
		Date:            date,
		BodyPlain:       body,
	}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.repo.UpsertMessageTx(tx, msg, nil)
		return err
	})
	require.NoError(t, err)
	if embedding != nil {
		require.NoError(t, f.repo.UpdateEmbedding(msg.ID, pgvector.NewVector(embedding)))
	}
}

func TestHybridScoreFormula(t *testing.T) {
	assert.InDelta(t, 0.69, HybridScore(0.9, 0.2), 1e-12)
	assert.InDelta(t, 0.59, HybridScore(0.8, 0.1), 1e-12)
	assert.Greater(t, HybridScore(0.9, 0.2), HybridScore(0.8, 0.1))
	assert.InDelta(t, 0.0, HybridScore(0, 0), 1e-12)
	assert.InDelta(t, 1.0, HybridScore(1, 1), 1e-12)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}), "dimension mismatch")
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}), "zero vector")
}

func TestSearchRanksByHybridScore(t *testing.T) {
	f := setupSearch(t)
	date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// Semantically close, no lexical overlap.
	f.insert(t, "semantic", "Budget planning", "numbers for next year", date, []float32{1, 0, 0})
	// Lexically matching, semantically orthogonal.
	f.insert(t, "lexical", "invoice invoice invoice", "invoice invoice invoice", date, []float32{0, 1, 0})
	// Neither signal.
	f.insert(t, "noise", "Lunch", "see you at noon", date, []float32{0, 0, 1})

	results, err := f.usecase().Search(context.Background(), dto.SearchRequest{Query: "invoice"})
	require.NoError(t, err)
	require.Len(t, results, 2, "zero-score messages are dropped")

	// 0.7*1.0 beats 0.3*1.0.
	assert.Equal(t, "semantic", results[0].MessageID)
	assert.InDelta(t, 0.7, results[0].Score, 1e-9)
	assert.InDelta(t, 1.0, results[0].CosineScore, 1e-9)
	assert.Equal(t, 0.0, results[0].LexicalScore)

	assert.Equal(t, "lexical", results[1].MessageID)
	assert.InDelta(t, 0.3, results[1].Score, 1e-9)
	assert.InDelta(t, 1.0, results[1].LexicalScore, 1e-9)
}

func TestSearchTieBreaksOnDate(t *testing.T) {
	f := setupSearch(t)
	older := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	f.insert(t, "old", "same subject", "same body", older, []float32{1, 0, 0})
	f.insert(t, "new", "same subject", "same body", newer, []float32{1, 0, 0})

	results, err := f.usecase().Search(context.Background(), dto.SearchRequest{Query: "subject"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Score, results[1].Score)
	assert.Equal(t, "new", results[0].MessageID)
}

func TestSearchExcludesPendingEmbeddingByDefault(t *testing.T) {
	f := setupSearch(t)
	f.insert(t, "pending", "invoice attached", "the invoice", time.Now(), nil)
	f.insert(t, "embedded", "invoice ready", "the invoice", time.Now(), []float32{1, 0, 0})

	results, err := f.usecase().Search(context.Background(), dto.SearchRequest{Query: "invoice"})
	require.NoError(t, err)
	require.Len(t, results, 1, "embedding-pending messages stay out without the fallback toggle")
	assert.Equal(t, "embedded", results[0].MessageID)
}

func TestSearchPendingEmbeddingWithFallbackScoresLexicalOnly(t *testing.T) {
	f := setupSearch(t)
	f.cfg.LexicalFallback = true
	f.insert(t, "pending", "invoice attached", "the invoice", time.Now(), nil)

	results, err := f.usecase().Search(context.Background(), dto.SearchRequest{Query: "invoice"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].CosineScore)
	assert.Greater(t, results[0].LexicalScore, 0.0)
}

func TestSearchEmbedderDown(t *testing.T) {
	f := setupSearch(t)
	f.insert(t, "m1", "invoice", "invoice", time.Now(), []float32{1, 0, 0})
	f.embedder.err = errors.New("connection refused")

	_, err := f.usecase().Search(context.Background(), dto.SearchRequest{Query: "invoice"})
	assert.Error(t, err, "without the fallback toggle the failure propagates")

	f.cfg.LexicalFallback = true
	results, err := f.usecase().Search(context.Background(), dto.SearchRequest{Query: "invoice"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].CosineScore)
	assert.Greater(t, results[0].LexicalScore, 0.0)
}

func TestSearchFilters(t *testing.T) {
	f := setupSearch(t)
	date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	f.insert(t, "m1", "invoice one", "invoice", date, []float32{1, 0, 0})

	other := &domain.Message{
		Provider:        "imap",
		ProviderAccount: "user@example.com",
		MessageID:       "m2",
		Subject:         "invoice two",
		Sender:          "carol@example.com",
		Date:            date,
		BodyPlain:       "invoice",
	}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.repo.UpsertMessageTx(tx, other, nil)
		return err
	})
	require.NoError(t, err)

	results, err := f.usecase().Search(context.Background(), dto.SearchRequest{
		Query: "invoice", Provider: "gmail",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].MessageID)
}

func TestSearchLimit(t *testing.T) {
	f := setupSearch(t)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		f.insert(t, string(rune('a'+i)), "invoice", "invoice", base.Add(time.Duration(i)*time.Hour), []float32{1, 0, 0})
	}

	results, err := f.usecase().Search(context.Background(), dto.SearchRequest{Query: "invoice", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
