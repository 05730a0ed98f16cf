package dto

import (
	"mailrecall-backend/internal/email/usecase"
)

type SyncResponse struct {
	Summary *usecase.SyncSummary `json:"summary"`
}

type SemanticSearchRequest struct {
	Query     string  `json:"query" binding:"required"`
	Limit     int     `json:"limit,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

type SemanticSearchResponse struct {
	Results []*usecase.SearchResult `json:"results"`
	Query   string                  `json:"query"`
	TookMs  int64                   `json:"took_ms"`
}

type RetryPendingResponse struct {
	Vectorized int `json:"vectorized"`
}
