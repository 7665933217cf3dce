package delivery

import (
	"errors"
	"net/http"
	"strconv"

	"mailvault/internal/message/domain"
	"mailvault/internal/message/dto"
	"mailvault/internal/message/repository"
	"mailvault/internal/message/usecase"
	"mailvault/pkg/archive"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	importUsecase usecase.ImportUsecase
	searchUsecase usecase.SearchUsecase
	embedWorker   *usecase.EmbeddingWorker
	messages      repository.MessageRepository
	store         *archive.Store
	registry      *domain.ProviderRegistry
}

func NewMessageHandler(
	importUsecase usecase.ImportUsecase,
	searchUsecase usecase.SearchUsecase,
	embedWorker *usecase.EmbeddingWorker,
	messages repository.MessageRepository,
	store *archive.Store,
	registry *domain.ProviderRegistry,
) *MessageHandler {
	return &MessageHandler{
		importUsecase: importUsecase,
		searchUsecase: searchUsecase,
		embedWorker:   embedWorker,
		messages:      messages,
		store:         store,
		registry:      registry,
	}
}

func (h *MessageHandler) StartImport(c *gin.Context) {
	var req dto.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.importUsecase.StartImport(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrImportInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *MessageHandler) GetJob(c *gin.Context) {
	job, err := h.importUsecase.GetJobStatus(c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *MessageHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	jobs, err := h.importUsecase.ListJobs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *MessageHandler) CancelJob(c *gin.Context) {
	err := h.importUsecase.CancelJob(c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancellation requested"})
}

func (h *MessageHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.searchUsecase.Search(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (h *MessageHandler) GetMessage(c *gin.Context) {
	msg, err := h.messages.FindByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) BackfillEmbeddings(c *gin.Context) {
	if h.embedWorker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "embedding generation not configured"})
		return
	}
	queued, err := h.embedWorker.Backfill(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.BackfillResponse{Queued: queued})
}

func (h *MessageHandler) Status(c *gin.Context) {
	messages, err := h.messages.CountMessages()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	attachments, err := h.messages.CountAttachments()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pending, err := h.messages.CountEmbeddingPending()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := h.store.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	jobs, err := h.importUsecase.ListJobs(10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	providers := make([]string, 0)
	for _, p := range h.registry.All() {
		providers = append(providers, p.Name()+"/"+p.Account())
	}

	c.JSON(http.StatusOK, dto.StatusResponse{
		Messages:         messages,
		Attachments:      attachments,
		EmbeddingPending: pending,
		Archive:          stats,
		Providers:        providers,
		RecentJobs:       jobs,
	})
}
