package llm

import (
	"context"
)

// LLMClient completes a single prompt. Implementations ask the provider for
// JSON output where the API supports it.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
