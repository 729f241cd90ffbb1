package llm

import (
	"fmt"
	"net/http"
	"strings"

	"docintel/internal/config"
	"docintel/internal/llm/anthropic"
	"docintel/internal/llm/google"
	"docintel/internal/llm/openai"
)

// Build selects and constructs a Provider for the given vendor tag
// ("openai", "anthropic", "google"). This is the one dispatch point the
// rest of the system depends on: callers hold a Provider and never know
// which vendor backs it.
func Build(tag string, cfg config.Settings, httpClient *http.Client) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "openai":
		return openai.New(cfg.OpenAI, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.Anthropic, httpClient), nil
	case "google":
		client, err := google.New(cfg.Google, httpClient)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", tag)
	}
}

// BuildMain constructs the provider configured for heavy-duty generation
// (answer synthesis, agent reasoning).
func BuildMain(cfg config.Settings, httpClient *http.Client) (Provider, error) {
	return Build(cfg.MainLLMProvider, cfg, httpClient)
}

// BuildLight constructs the provider configured for cheap, high-volume
// calls (summarization, contextual enrichment, version verification).
func BuildLight(cfg config.Settings, httpClient *http.Client) (Provider, error) {
	return Build(cfg.LightLLMProvider, cfg, httpClient)
}
