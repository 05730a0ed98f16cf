package delivery

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	authdomain "mailrecall-backend/internal/auth/domain"
	emaildomain "mailrecall-backend/internal/email/domain"
	emaildto "mailrecall-backend/internal/email/dto"
	"mailrecall-backend/internal/email/usecase"

	"github.com/gin-gonic/gin"
)

type EmailHandler struct {
	syncUsecase     usecase.EmailSyncUsecase
	vectorizeWorker *usecase.VectorizeWorkerService
}

func NewEmailHandler(syncUsecase usecase.EmailSyncUsecase, vectorizeWorker *usecase.VectorizeWorkerService) *EmailHandler {
	return &EmailHandler{
		syncUsecase:     syncUsecase,
		vectorizeWorker: vectorizeWorker,
	}
}

func currentUser(c *gin.Context) *authdomain.User {
	val, exists := c.Get("user")
	if !exists {
		return nil
	}
	user, ok := val.(*authdomain.User)
	if !ok {
		return nil
	}
	return user
}

// TriggerSync runs a full sync for the authenticated user and returns the
// run summary.
func (h *EmailHandler) TriggerSync(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	summary, err := h.syncUsecase.SyncUser(c.Request.Context(), user.ID)
	if err != nil {
		switch {
		case errors.Is(err, emaildomain.ErrSyncInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
		case emaildomain.IsAuthExpired(err):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "mailbox credentials expired, please reconnect"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	// Queue a retry pass for anything the run left pending.
	if h.vectorizeWorker != nil {
		h.vectorizeWorker.QueueJob(usecase.VectorizeJob{UserID: user.ID, Limit: 50})
	}

	c.JSON(http.StatusOK, emaildto.SyncResponse{Summary: summary})
}

func (h *EmailHandler) GetSyncStatus(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	status, err := h.syncUsecase.GetSyncStatus(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *EmailHandler) SemanticSearch(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req emaildto.SemanticSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	start := time.Now()
	results, err := h.syncUsecase.SemanticSearch(c.Request.Context(), user.ID, req.Query, req.Limit, req.Threshold)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, emaildto.SemanticSearchResponse{
		Results: results,
		Query:   req.Query,
		TookMs:  time.Since(start).Milliseconds(),
	})
}

func (h *EmailHandler) GetStats(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	stats, err := h.syncUsecase.Stats(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// RetryPending forces a synchronous retry pass over the user's pending
// backlog, for operators poking at a stuck index.
func (h *EmailHandler) RetryPending(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	count, err := h.syncUsecase.RetryPending(c.Request.Context(), user.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, emaildto.RetryPendingResponse{Vectorized: count})
}
