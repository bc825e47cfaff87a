package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelrelay/relay/internal/agent"
)

// DatabricksConfig configures the serving-endpoints adapter.
type DatabricksConfig struct {
	// APIBase is the workspace URL, e.g. https://my-ws.cloud.databricks.com.
	APIBase string
	// APIKey is a personal access token sent as a bearer credential.
	APIKey string
	// DefaultModel is the serving endpoint used when the request names
	// none.
	DefaultModel string
	// EndpointPath overrides the default invocation path template. It
	// must contain a %s placeholder for the endpoint name.
	EndpointPath string
}

// Databricks posts the request to
// <base>/serving-endpoints/<model>/invocations.
type Databricks struct {
	cfg DatabricksConfig
}

func NewDatabricks(cfg DatabricksConfig) (*Databricks, error) {
	if cfg.APIBase == "" {
		return nil, errors.New("databricks: API base is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("databricks: API key is required")
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/serving-endpoints/%s/invocations"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Databricks{cfg: cfg}, nil
}

func (p *Databricks) Name() string { return "databricks" }

func (p *Databricks) Invoke(ctx context.Context, body map[string]any) (*agent.ProviderResponse, error) {
	model, _ := body["model"].(string)
	if model == "" {
		model = p.cfg.DefaultModel
	}
	if model == "" {
		return nil, errors.New("databricks: no model in request and no default configured")
	}
	// Default-model substitution is the only body rewrite performed.
	if body["model"] != model {
		body["model"] = model
	}

	url := p.cfg.APIBase + fmt.Sprintf(p.cfg.EndpointPath, model)
	return post(ctx, url, map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
	}, body)
}
