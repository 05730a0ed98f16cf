package embedding

import "context"

// Provider is the interface for embedding vector computation.
// Implement this interface to add new providers (Gemini, Ollama, OpenAI, etc.)
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderType represents the embedding provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)
