package embedding

import "fmt"

// Config holds embedding provider configuration
type Config struct {
	Provider ProviderType // "gemini" or "ollama"

	// Gemini config
	GeminiAPIKey string
	GeminiModel  string

	// Ollama config
	OllamaBaseURL string
	OllamaModel   string
}

// NewProvider creates a Provider based on the config. This is the factory
// function - switch embedding provider by changing config.Provider.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return NewGeminiProvider(cfg.GeminiAPIKey, cfg.GeminiModel), nil

	case ProviderOllama:
		return NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel), nil

	default:
		// Auto: Gemini with Ollama fallback when both are configured,
		// otherwise whichever is available.
		ollama := NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel)
		if cfg.GeminiAPIKey != "" {
			gemini := NewGeminiProvider(cfg.GeminiAPIKey, cfg.GeminiModel)
			return NewFallbackProvider(gemini, ollama), nil
		}
		return ollama, nil
	}
}
