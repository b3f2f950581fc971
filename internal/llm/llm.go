package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/TobiSchelling/NewsDesk/internal/config"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string, log *slog.Logger) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
		log:     log,
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	o.log.Warn("ollama model not found", "model", o.Model)
	return false
}

// Generate sends a prompt to Ollama's chat endpoint and returns the reply.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model":    o.Model,
		"messages": []message{{Role: "user", Content: prompt}},
		"stream":   false,
		"format":   "json",
		"options": map[string]any{
			"num_predict": maxTokens,
			"temperature": 0.2,
		},
	}

	var result struct {
		Message message `json:"message"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/api/chat", nil, body, &result); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return result.Message.Content, nil
}

// OpenAIProvider is an OpenAI-compatible chat completions provider.
type OpenAIProvider struct {
	Model    string
	APIKey   string
	Endpoint string
	client   *http.Client
}

// NewOpenAIProvider creates a provider reading its key from apiKeyEnv.
func NewOpenAIProvider(model, apiKeyEnv string) *OpenAIProvider {
	return &OpenAIProvider{
		Model:    model,
		APIKey:   os.Getenv(apiKeyEnv),
		Endpoint: openAIEndpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt to OpenAI and returns the response.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("openai: API key not configured")
	}

	body := map[string]any{
		"model":       o.Model,
		"messages":    []message{{Role: "user", Content: prompt}},
		"max_tokens":  maxTokens,
		"temperature": 0.2,
	}
	headers := map[string]string{"Authorization": "Bearer " + o.APIKey}

	var result struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, o.client, o.Endpoint, headers, body, &result); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// CreateProvider picks a provider from configuration. Ollama is preferred
// when selected and reachable; OpenAI is the fallback. It returns nil when
// enrichment is disabled or nothing is available.
func CreateProvider(cfg config.Enrichment, log *slog.Logger) Provider {
	if !cfg.Enabled {
		log.Info("enrichment disabled")
		return nil
	}

	if strings.EqualFold(cfg.Provider, "ollama") {
		p := NewOllamaProvider(cfg.Model, cfg.OllamaURL, log)
		if p.IsConfigured() {
			log.Info("using ollama", "model", cfg.Model)
			return p
		}
		log.Warn("ollama not available, trying openai fallback", "url", cfg.OllamaURL)
	}

	p := NewOpenAIProvider(cfg.OpenAIModel, cfg.APIKeyEnv)
	if p.IsConfigured() {
		log.Info("using openai", "model", cfg.OpenAIModel)
		return p
	}

	log.Warn("no LLM provider available; items keep the placeholder tag", "api_key_env", cfg.APIKeyEnv)
	return nil
}
