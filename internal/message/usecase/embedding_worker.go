package usecase

import (
	"context"
	"log"
	"strings"
	"sync"

	"mailvault/internal/message/domain"
	"mailvault/internal/message/repository"
	"mailvault/pkg/ai"

	"github.com/pgvector/pgvector-go"
)

const maxEmbedChars = 8000

// EmbeddingWorker generates vectors asynchronously so the import path never
// blocks on the embedding provider. Messages whose generation fails stay
// embedding-pending and are picked up by the next backfill.
type EmbeddingWorker struct {
	queue    chan string
	messages repository.MessageRepository
	embedder ai.EmbeddingService
	workers  int

	wg   sync.WaitGroup
	once sync.Once
}

func NewEmbeddingWorker(messages repository.MessageRepository, embedder ai.EmbeddingService, workers, queueSize int) *EmbeddingWorker {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}
	return &EmbeddingWorker{
		queue:    make(chan string, queueSize),
		messages: messages,
		embedder: embedder,
		workers:  workers,
	}
}

// Start launches the worker goroutines.
func (w *EmbeddingWorker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id, ok := <-w.queue:
					if !ok {
						return
					}
					w.process(ctx, id)
				}
			}
		}()
	}
}

// Stop closes the queue and waits for in-flight work.
func (w *EmbeddingWorker) Stop() {
	w.once.Do(func() { close(w.queue) })
	w.wg.Wait()
}

// Enqueue never blocks; when the queue is full the message simply stays
// pending until a backfill run.
func (w *EmbeddingWorker) Enqueue(messageID string) {
	select {
	case w.queue <- messageID:
	default:
		log.Printf("[Embedding] Queue full, %s stays pending", messageID)
	}
}

// Backfill queues every embedding-pending message and returns how many were
// queued.
func (w *EmbeddingWorker) Backfill(ctx context.Context) (int, error) {
	pending, err := w.messages.FindEmbeddingPending(cap(w.queue))
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, msg := range pending {
		select {
		case <-ctx.Done():
			return queued, ctx.Err()
		case w.queue <- msg.ID:
			queued++
		default:
			return queued, nil
		}
	}
	return queued, nil
}

func (w *EmbeddingWorker) process(ctx context.Context, messageID string) {
	msg, err := w.messages.FindByID(messageID)
	if err != nil {
		log.Printf("[Embedding] Lookup failed for %s: %v", messageID, err)
		return
	}
	if msg == nil || msg.Embedding != nil {
		return
	}

	vector, err := w.embedder.Embed(ctx, PrepareEmbeddingText(msg))
	if err != nil {
		log.Printf("[Embedding] Generation failed for %s: %v", messageID, err)
		return
	}

	if err := w.messages.UpdateEmbedding(messageID, pgvector.NewVector(vector)); err != nil {
		log.Printf("[Embedding] Update failed for %s: %v", messageID, err)
	}
}

// PrepareEmbeddingText builds the text fed to the embedding model: subject
// and sender carry most of the retrieval signal, followed by the body,
// truncated to keep requests bounded.
func PrepareEmbeddingText(msg *domain.Message) string {
	var b strings.Builder
	b.WriteString("Subject: ")
	b.WriteString(msg.Subject)
	b.WriteString("\nFrom: ")
	if msg.SenderName != "" {
		b.WriteString(msg.SenderName)
		b.WriteString(" ")
	}
	b.WriteString(msg.Sender)
	b.WriteString("\n\n")

	body := msg.BodyMarkdown
	if body == "" {
		body = msg.BodyPlain
	}
	b.WriteString(body)

	text := b.String()
	if len(text) > maxEmbedChars {
		text = text[:maxEmbedChars]
	}
	return text
}
