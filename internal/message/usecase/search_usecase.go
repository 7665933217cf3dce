package usecase

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"mailvault/internal/message/domain"
	"mailvault/internal/message/dto"
	"mailvault/internal/message/repository"
	"mailvault/pkg/ai"
	"mailvault/pkg/config"
	"mailvault/pkg/fuzzy"
)

const (
	cosineWeight  = 0.7
	lexicalWeight = 0.3

	defaultSearchLimit = 20
	snippetLength      = 200
)

// HybridScore combines the two ranking signals with fixed weights.
func HybridScore(cosine, lexical float64) float64 {
	return cosineWeight*cosine + lexicalWeight*lexical
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is zero or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type searchUsecaseImpl struct {
	messages repository.MessageRepository
	embedder ai.EmbeddingService
	cfg      *config.Config
}

func NewSearchUsecase(messages repository.MessageRepository, embedder ai.EmbeddingService, cfg *config.Config) SearchUsecase {
	return &searchUsecaseImpl{messages: messages, embedder: embedder, cfg: cfg}
}

// Search ranks a candidate pool by HybridScore. Messages still waiting for
// their embedding are excluded unless the lexical fallback is enabled; with
// the fallback on they score lexical-only, as does every message when the
// embedding provider is down.
func (u *searchUsecaseImpl) Search(ctx context.Context, req dto.SearchRequest) ([]dto.SearchResult, error) {
	candidates, err := u.messages.SearchCandidates(repository.CandidateFilter{
		Provider:        req.Provider,
		ProviderAccount: req.ProviderAccount,
		Sender:          req.Sender,
		DateFrom:        req.DateFrom,
		DateTo:          req.DateTo,
		Limit:           u.cfg.SearchCandidatePool,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	var queryVector []float32
	if u.embedder != nil {
		queryVector, err = u.embedder.Embed(ctx, req.Query)
		if err != nil {
			if !u.cfg.LexicalFallback {
				return nil, fmt.Errorf("failed to embed query: %w", err)
			}
			log.Printf("[Search] Embedding unavailable, lexical fallback active: %v", err)
			queryVector = nil
		}
	}

	results := make([]dto.SearchResult, 0, len(candidates))
	for i := range candidates {
		msg := &candidates[i]

		if msg.Embedding == nil && !u.cfg.LexicalFallback {
			continue
		}

		lexical := fuzzy.LexicalRank(req.Query, searchText(msg))
		cosine := 0.0
		if queryVector != nil && msg.Embedding != nil {
			cosine = CosineSimilarity(queryVector, msg.Embedding.Slice())
		}

		score := HybridScore(cosine, lexical)
		if score <= 0 {
			continue
		}
		results = append(results, dto.SearchResult{
			ID:             msg.ID,
			Provider:       msg.Provider,
			MessageID:      msg.MessageID,
			Subject:        msg.Subject,
			Sender:         msg.Sender,
			Date:           msg.Date,
			Snippet:        snippet(msg),
			ArchivePath:    msg.ArchivePath,
			HasAttachments: msg.HasAttachments,
			Score:          score,
			CosineScore:    cosine,
			LexicalScore:   lexical,
		})
	}

	// Ties break toward the newer message.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Date.After(results[j].Date)
	})

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func searchText(msg *domain.Message) string {
	body := msg.BodyPlain
	if body == "" {
		body = msg.BodyMarkdown
	}
	return msg.Subject + "\n" + msg.SenderName + " " + msg.Sender + "\n" + body
}

func snippet(msg *domain.Message) string {
	body := msg.BodyPlain
	if body == "" {
		body = msg.BodyMarkdown
	}
	if len(body) > snippetLength {
		return body[:snippetLength]
	}
	return body
}
