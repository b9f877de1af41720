package config

import (
	"fmt"
	"os"
	"strings"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables for provider credentials.
const (
	EnvAnthropicAPIKey   = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvGoogleAPIKey      = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost        = "OLLAMA_HOST"
	EnvGoogleCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvWhatsAppToken     = "WHATSAPP_TOKEN"
	EnvSearchAPIKey      = "GOOGLE_SEARCH_API_KEY"
	EnvSearchCX          = "GOOGLE_SEARCH_CX"
)

// ModelInfo contains metadata about a known model.
type ModelInfo struct {
	Provider         string  `json:"provider"`
	InputCPM         float64 `json:"input_cpm"`  // USD per million input tokens
	OutputCPM        float64 `json:"output_cpm"` // USD per million output tokens
	MaxContextTokens int     `json:"max_context_tokens"`
	MaxOutputTokens  int     `json:"max_output_tokens"`
}

// KnownModels maps model ids to provider and pricing.
//
//nolint:gochecknoglobals // Intentional global registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5":   {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	"claude-haiku-4-5":    {Provider: ProviderAnthropic, InputCPM: 1.0, OutputCPM: 5.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	"claude-opus-4-1":     {Provider: ProviderAnthropic, InputCPM: 15.0, OutputCPM: 75.0, MaxContextTokens: 200000, MaxOutputTokens: 16384},
	"gpt-4o":              {Provider: ProviderOpenAI, InputCPM: 2.5, OutputCPM: 10.0, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	"gpt-4o-mini":         {Provider: ProviderOpenAI, InputCPM: 0.15, OutputCPM: 0.6, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	"gpt-5":               {Provider: ProviderOpenAI, InputCPM: 1.25, OutputCPM: 10.0, MaxContextTokens: 272000, MaxOutputTokens: 32768},
	"gemini-2.5-flash":    {Provider: ProviderGoogle, InputCPM: 0.3, OutputCPM: 2.5, MaxContextTokens: 1000000, MaxOutputTokens: 8192},
	"gemini-2.5-pro":      {Provider: ProviderGoogle, InputCPM: 1.25, OutputCPM: 10.0, MaxContextTokens: 1000000, MaxOutputTokens: 8192},
	"llama3.1:8b":         {Provider: ProviderOllama, MaxContextTokens: 128000, MaxOutputTokens: 4096},
	"qwen2.5:14b":         {Provider: ProviderOllama, MaxContextTokens: 32000, MaxOutputTokens: 4096},
	"mistral-nemo:latest": {Provider: ProviderOllama, MaxContextTokens: 128000, MaxOutputTokens: 4096},
}

// ProviderPattern infers a provider from a model name prefix.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns lets tenants use new models without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"phi", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a given model.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns metadata for modelName; the bool reports whether it was a known model.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}
	provider, _ := GetModelProvider(modelName)
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// CalculateCost returns the USD cost of a call. Unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, exists := KnownModels[modelName]
	if !exists {
		return 0
	}
	return (float64(promptTokens)/1_000_000.0)*info.InputCPM + (float64(completionTokens)/1_000_000.0)*info.OutputCPM
}

// GetAPIKey returns the API key for a given provider from the environment.
// For Ollama, returns the host URL instead of an API key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s is not set", envVar)
}

// EnvOrEmpty returns the value of an environment variable or "".
func EnvOrEmpty(name string) string {
	return os.Getenv(name)
}
