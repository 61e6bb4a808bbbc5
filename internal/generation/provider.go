package generation

import (
	"context"
	"fmt"

	"groundwrite/api/internal/config"
	"groundwrite/api/internal/logger"
)

// FromConfig builds the configured provider behind the rate limit and
// per-call timeout.
func FromConfig(ctx context.Context, log *logger.Logger, cfg config.Config) (Generator, error) {
	var (
		next Generator
		err  error
	)
	switch cfg.GenerationProvider {
	case "openai", "":
		next, err = NewOpenAI(log, OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			MaxRetries: cfg.GenerationMaxRetries,
		})
	case "gemini":
		next, err = NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("unknown GENERATION_PROVIDER %q", cfg.GenerationProvider)
	}
	if err != nil {
		return nil, err
	}
	return NewLimited(next, cfg.GenerationRPS, cfg.GenerationBurst, cfg.GenerationTimeout), nil
}
