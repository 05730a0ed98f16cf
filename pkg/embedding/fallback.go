package embedding

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
)

// FallbackProvider routes embedding calls to Gemini first and falls back to
// a local Ollama instance on quota exhaustion or connection failure.
type FallbackProvider struct {
	gemini Provider
	ollama *OllamaProvider
}

func NewFallbackProvider(gemini Provider, ollama *OllamaProvider) *FallbackProvider {
	return &FallbackProvider{
		gemini: gemini,
		ollama: ollama,
	}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if _, ok := err.(net.Error); ok {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}

	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
	}

	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

func (f *FallbackProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.gemini != nil {
		vec, err := f.gemini.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}

		if isQuotaError(err) || isConnectionError(err) {
			log.Printf("[Embedding] Gemini unavailable: %v, falling back to Ollama", err)
		} else {
			return nil, fmt.Errorf("gemini embedding failed: %w", err)
		}
	}

	if f.ollama != nil {
		return f.ollama.Embed(ctx, text)
	}

	return nil, fmt.Errorf("no embedding provider available")
}

func (f *FallbackProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.gemini != nil {
		vecs, err := f.gemini.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}

		if isQuotaError(err) || isConnectionError(err) {
			log.Printf("[Embedding] Gemini unavailable: %v, falling back to Ollama", err)
		} else {
			return nil, fmt.Errorf("gemini batch embedding failed: %w", err)
		}
	}

	if f.ollama != nil {
		return f.ollama.EmbedBatch(ctx, texts)
	}

	return nil, fmt.Errorf("no embedding provider available")
}
