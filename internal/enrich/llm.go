package enrich

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/NewsDesk/internal/llm"
)

const classifyPrompt = `You are a news classifier for a Yemeni news desk.

Items (JSON):
%s

For every item:
1. Give 2-3 short Arabic topic tags (for example "سياسة", "اقتصاد", "صنعاء"), without a leading #.
2. Decide whether it is urgent: breaking news, explicit "عاجل" or "هام" markers, killings, explosions, attacks or disasters.

Respond with ONLY this JSON, one entry per input id:
{"items": [{"id": "<id>", "tags": ["tag1", "tag2"], "isUrgent": false}]}`

const defaultMaxTokens = 1024

// LLMEnricher classifies items with an llm.Provider.
type LLMEnricher struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMEnricher returns an enricher backed by provider.
func NewLLMEnricher(provider llm.Provider, maxTokens int) *LLMEnricher {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &LLMEnricher{provider: provider, maxTokens: maxTokens}
}

// Enrich implements Enricher.
func (e *LLMEnricher) Enrich(ctx context.Context, items []Item) ([]Result, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if len(items) > MaxBatch {
		return nil, fmt.Errorf("batch of %d exceeds the limit of %d", len(items), MaxBatch)
	}

	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshaling items: %w", err)
	}

	reply, err := e.provider.Generate(ctx, fmt.Sprintf(classifyPrompt, data), e.maxTokens)
	if err != nil {
		return nil, err
	}
	return parseResults(reply)
}

// parseResults accepts either {"items": [...]} or a bare array.
func parseResults(reply string) ([]Result, error) {
	var wrapped struct {
		Items []Result `json:"items"`
	}
	if err := llm.DecodeJSON(reply, &wrapped); err == nil && wrapped.Items != nil {
		return wrapped.Items, nil
	}

	var bare []Result
	if err := llm.DecodeJSON(reply, &bare); err != nil {
		return nil, fmt.Errorf("unparseable reply: %w", err)
	}
	return bare, nil
}
