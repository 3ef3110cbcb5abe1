package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agenthands/entitynet/internal/config"
	"github.com/agenthands/entitynet/internal/core/common"
	"github.com/agenthands/entitynet/internal/core/model"
	"github.com/agenthands/entitynet/internal/llm"
)

const textPlaceholder = "{{text}}"

// DefaultPrompt is used when the configuration carries none.
const DefaultPrompt = `Extract the named entities (PERSON, NORP, ORG, GPE, LOC, PRODUCT, EVENT, WORK_OF_ART, LAW, LANGUAGE) in the text below.
For each one give entityType, wikiClasses, url (English Wikipedia) and dbPediaIri when known, otherwise null.
Respond with JSON only: {"entities": [["name", "CATEGORY", {"entityType": null, "wikiClasses": null, "url": null, "dbPediaIri": null}]]}

Text:
{{text}}`

var ErrEmptyText = errors.New("text is empty")

// Extractor finds entities in free text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]model.RawEntity, error)
}

type LLMExtractor struct {
	LLM    llm.LLMClient
	Prompt string
	logger *slog.Logger
}

func NewExtractor(llmClient llm.LLMClient, prompts config.ExtractionPrompts, logger *slog.Logger) *LLMExtractor {
	prompt := prompts.Entities
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{
		LLM:    llmClient,
		Prompt: prompt,
		logger: logger.With("component", "extractor"),
	}
}

// Extract prompts the LLM and returns the entities it found. Entries with a
// blank name or category are dropped since they can never form a node.
func (e *LLMExtractor) Extract(ctx context.Context, text string) ([]model.RawEntity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	response, err := e.LLM.Generate(ctx, e.render(text))
	if err != nil {
		return nil, fmt.Errorf("failed to generate entities: %w", err)
	}

	entities, err := parseEntities(response)
	if err != nil {
		return nil, fmt.Errorf("failed to extract entities: %w", err)
	}

	out := make([]model.RawEntity, 0, len(entities))
	for _, ent := range entities {
		if strings.TrimSpace(ent.Name) == "" || strings.TrimSpace(ent.Category) == "" {
			e.logger.DebugContext(ctx, "dropping incomplete entity", "name", ent.Name, "category", ent.Category)
			continue
		}
		out = append(out, ent)
	}
	e.logger.InfoContext(ctx, "extracted entities", "found", len(entities), "kept", len(out))
	return out, nil
}

func (e *LLMExtractor) render(text string) string {
	if strings.Contains(e.Prompt, textPlaceholder) {
		return strings.ReplaceAll(e.Prompt, textPlaceholder, text)
	}
	return e.Prompt + "\n\n" + text
}

// parseEntities accepts {"entities": [...]} or a bare list.
func parseEntities(response string) ([]model.RawEntity, error) {
	trimmed := strings.TrimSpace(response)
	if strings.IndexByte(trimmed, '[') != -1 && (strings.IndexByte(trimmed, '{') == -1 || strings.IndexByte(trimmed, '[') < strings.IndexByte(trimmed, '{')) {
		return common.ParseJSON[[]model.RawEntity](trimmed)
	}
	result, err := common.ParseJSON[model.ExtractedEntities](trimmed)
	if err != nil {
		return nil, err
	}
	return result.Entities, nil
}
