package providers

import (
	"context"
	"errors"

	"github.com/modelrelay/relay/internal/agent"
)

// AzureAnthropicConfig configures the Azure-hosted Anthropic adapter.
type AzureAnthropicConfig struct {
	// Endpoint is the full messages URL of the deployment.
	Endpoint string
	APIKey   string
	// APIVersion is sent as the anthropic-version header.
	APIVersion string
	// DefaultModel substitutes for a missing model field.
	DefaultModel string
}

// AzureAnthropic posts the request to the deployment endpoint with the
// Anthropic headers.
type AzureAnthropic struct {
	cfg AzureAnthropicConfig
}

func NewAzureAnthropic(cfg AzureAnthropicConfig) (*AzureAnthropic, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("azure: API key is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-06-01"
	}
	return &AzureAnthropic{cfg: cfg}, nil
}

func (p *AzureAnthropic) Name() string { return "azure" }

func (p *AzureAnthropic) Invoke(ctx context.Context, body map[string]any) (*agent.ProviderResponse, error) {
	if model, _ := body["model"].(string); model == "" && p.cfg.DefaultModel != "" {
		body["model"] = p.cfg.DefaultModel
	}
	return post(ctx, p.cfg.Endpoint, map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": p.cfg.APIVersion,
	}, body)
}
