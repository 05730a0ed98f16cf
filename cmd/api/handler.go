package api

import (
	"log"

	authUsecasePkg "mailrecall-backend/internal/auth/usecase"
	emailDelivery "mailrecall-backend/internal/email/delivery"
	emailUsecasePkg "mailrecall-backend/internal/email/usecase"
	"mailrecall-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	authUsecase     authUsecasePkg.AuthUsecase
	syncUsecase     emailUsecasePkg.EmailSyncUsecase
	vectorizeWorker *emailUsecasePkg.VectorizeWorkerService
	config          *config.Config
	emailHandler    *emailDelivery.EmailHandler
}

func NewHandler(
	authUc authUsecasePkg.AuthUsecase,
	syncUc emailUsecasePkg.EmailSyncUsecase,
	vectorizeWorker *emailUsecasePkg.VectorizeWorkerService,
	cfg *config.Config,
) *Handler {
	emailHandler := emailDelivery.NewEmailHandler(syncUc, vectorizeWorker)
	log.Println("Email handler initialized")

	return &Handler{
		authUsecase:     authUc,
		syncUsecase:     syncUc,
		vectorizeWorker: vectorizeWorker,
		config:          cfg,
		emailHandler:    emailHandler,
	}
}

func (h *Handler) Start(addr string) error {
	r := gin.Default()
	gin.SetMode(gin.ReleaseMode)

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Setup routes
	SetupRoutes(r, h.authUsecase, h.emailHandler)

	return r.Run(addr)
}
