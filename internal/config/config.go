// Package config loads the process configuration: environment variables
// first, with an optional YAML file supplying anything the environment
// leaves unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Provider   string `yaml:"provider"`
	Port       int    `yaml:"port"`
	Workspace  string `yaml:"workspace_root"`
	SessionDB  string `yaml:"session_db_path"`

	Databricks struct {
		APIBase      string `yaml:"api_base"`
		APIKey       string `yaml:"api_key"`
		EndpointPath string `yaml:"endpoint_path"`
		DefaultModel string `yaml:"default_model"`
	} `yaml:"databricks"`

	Azure struct {
		Endpoint     string `yaml:"endpoint"`
		APIKey       string `yaml:"api_key"`
		APIVersion   string `yaml:"api_version"`
		DefaultModel string `yaml:"default_model"`
	} `yaml:"azure"`

	Cache struct {
		Enabled    bool          `yaml:"enabled"`
		TTL        time.Duration `yaml:"-"`
		TTLMS      int           `yaml:"ttl_ms"`
		MaxEntries int           `yaml:"max_entries"`
	} `yaml:"cache"`

	Policy struct {
		MaxSteps        int      `yaml:"max_steps"`
		MaxToolCalls    int      `yaml:"max_tool_calls"`
		DisallowedTools []string `yaml:"disallowed_tools"`
		Git             struct {
			AllowPush    bool   `yaml:"allow_push"`
			AllowPull    bool   `yaml:"allow_pull"`
			AllowCommit  bool   `yaml:"allow_commit"`
			RequireTests bool   `yaml:"require_tests"`
			TestCommand  string `yaml:"test_command"`
			CommitRegex  string `yaml:"commit_regex"`
			Autostash    bool   `yaml:"autostash"`
		} `yaml:"git"`
	} `yaml:"policy"`

	MCP struct {
		ServerManifest string   `yaml:"server_manifest"`
		ManifestDirs   []string `yaml:"manifest_dirs"`
	} `yaml:"mcp"`

	Sandbox struct {
		Enabled            bool     `yaml:"enabled"`
		Image              string   `yaml:"image"`
		Runtime            string   `yaml:"runtime"`
		ContainerWorkspace string   `yaml:"container_workspace"`
		MountWorkspace     bool     `yaml:"mount_workspace"`
		AllowNetworking    bool     `yaml:"allow_networking"`
		NetworkMode        string   `yaml:"network_mode"`
		PassthroughEnv     []string `yaml:"passthrough_env"`
		ExtraMounts        []string `yaml:"extra_mounts"`
		TimeoutMS          int      `yaml:"timeout_ms"`
		User               string   `yaml:"user"`
		Entrypoint         string   `yaml:"entrypoint"`
		ReuseSession       bool     `yaml:"reuse_session"`
		PermissionMode     string   `yaml:"permission_mode"`
		PermissionAllow    []string `yaml:"permission_allow"`
		PermissionDeny     []string `yaml:"permission_deny"`
	} `yaml:"sandbox"`

	WebSearch struct {
		Endpoint     string   `yaml:"endpoint"`
		AllowAll     bool     `yaml:"allow_all"`
		AllowedHosts []string `yaml:"allowed_hosts"`
		TimeoutMS    int      `yaml:"timeout_ms"`
	} `yaml:"web_search"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Tracing struct {
		Endpoint    string  `yaml:"endpoint"`
		SampleRatio float64 `yaml:"sample_ratio"`
		Insecure    bool    `yaml:"insecure"`
	} `yaml:"tracing"`
}

// Load reads the optional YAML file at path (skipped when empty or
// missing), then lets environment variables override, then applies
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Cache.TTLMS > 0 {
		cfg.Cache.TTL = time.Duration(cfg.Cache.TTLMS) * time.Millisecond
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Provider = "databricks"
	cfg.Port = 8080
	if wd, err := os.Getwd(); err == nil {
		cfg.Workspace = wd
	}
	cfg.SessionDB = "data/sessions.db"
	cfg.Azure.APIVersion = "2023-06-01"
	cfg.Cache.Enabled = true
	cfg.Cache.TTLMS = 300000
	cfg.Cache.MaxEntries = 64
	cfg.Policy.MaxSteps = 8
	cfg.Policy.MaxToolCalls = 12
	cfg.MCP.ManifestDirs = []string{"~/.claude/mcp"}
	cfg.Sandbox.ContainerWorkspace = "/workspace"
	cfg.Sandbox.MountWorkspace = true
	cfg.Sandbox.NetworkMode = ""
	cfg.Sandbox.TimeoutMS = 15000
	cfg.WebSearch.Endpoint = "http://localhost:8888/search"
	cfg.WebSearch.AllowAll = true
	cfg.WebSearch.TimeoutMS = 10000
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
}

func applyEnv(cfg *Config) {
	envStr(&cfg.Provider, "MODEL_PROVIDER")
	envInt(&cfg.Port, "PORT")
	envStr(&cfg.Workspace, "WORKSPACE_ROOT")
	envStr(&cfg.SessionDB, "SESSION_DB_PATH")

	envStr(&cfg.Databricks.APIBase, "DATABRICKS_API_BASE")
	envStr(&cfg.Databricks.APIKey, "DATABRICKS_API_KEY")
	envStr(&cfg.Databricks.EndpointPath, "DATABRICKS_ENDPOINT_PATH")
	envStr(&cfg.Databricks.DefaultModel, "DATABRICKS_DEFAULT_MODEL")

	envStr(&cfg.Azure.Endpoint, "AZURE_ANTHROPIC_ENDPOINT")
	envStr(&cfg.Azure.APIKey, "AZURE_ANTHROPIC_API_KEY")
	envStr(&cfg.Azure.APIVersion, "AZURE_ANTHROPIC_VERSION")
	envStr(&cfg.Azure.DefaultModel, "AZURE_ANTHROPIC_DEFAULT_MODEL")

	envBool(&cfg.Cache.Enabled, "PROMPT_CACHE_ENABLED")
	envInt(&cfg.Cache.TTLMS, "PROMPT_CACHE_TTL_MS")
	envInt(&cfg.Cache.MaxEntries, "PROMPT_CACHE_MAX_ENTRIES")

	envInt(&cfg.Policy.MaxSteps, "POLICY_MAX_STEPS")
	envInt(&cfg.Policy.MaxToolCalls, "POLICY_MAX_TOOL_CALLS")
	envList(&cfg.Policy.DisallowedTools, "POLICY_DISALLOWED_TOOLS")
	envBool(&cfg.Policy.Git.AllowPush, "POLICY_GIT_ALLOW_PUSH")
	envBool(&cfg.Policy.Git.AllowPull, "POLICY_GIT_ALLOW_PULL")
	envBool(&cfg.Policy.Git.AllowCommit, "POLICY_GIT_ALLOW_COMMIT")
	envBool(&cfg.Policy.Git.RequireTests, "POLICY_GIT_REQUIRE_TESTS")
	envStr(&cfg.Policy.Git.TestCommand, "POLICY_GIT_TEST_COMMAND")
	envStr(&cfg.Policy.Git.CommitRegex, "POLICY_GIT_COMMIT_REGEX")
	envBool(&cfg.Policy.Git.Autostash, "POLICY_GIT_AUTOSTASH")

	envStr(&cfg.MCP.ServerManifest, "MCP_SERVER_MANIFEST")
	envList(&cfg.MCP.ManifestDirs, "MCP_MANIFEST_DIRS")

	envBool(&cfg.Sandbox.Enabled, "MCP_SANDBOX_ENABLED")
	envStr(&cfg.Sandbox.Image, "MCP_SANDBOX_IMAGE")
	envStr(&cfg.Sandbox.Runtime, "MCP_SANDBOX_RUNTIME")
	envStr(&cfg.Sandbox.ContainerWorkspace, "MCP_SANDBOX_CONTAINER_WORKSPACE")
	envBool(&cfg.Sandbox.MountWorkspace, "MCP_SANDBOX_MOUNT_WORKSPACE")
	envBool(&cfg.Sandbox.AllowNetworking, "MCP_SANDBOX_ALLOW_NETWORKING")
	envStr(&cfg.Sandbox.NetworkMode, "MCP_SANDBOX_NETWORK_MODE")
	envList(&cfg.Sandbox.PassthroughEnv, "MCP_SANDBOX_PASSTHROUGH_ENV")
	envList(&cfg.Sandbox.ExtraMounts, "MCP_SANDBOX_EXTRA_MOUNTS")
	envInt(&cfg.Sandbox.TimeoutMS, "MCP_SANDBOX_TIMEOUT_MS")
	envStr(&cfg.Sandbox.User, "MCP_SANDBOX_USER")
	envStr(&cfg.Sandbox.Entrypoint, "MCP_SANDBOX_ENTRYPOINT")
	envBool(&cfg.Sandbox.ReuseSession, "MCP_SANDBOX_REUSE_SESSION")
	envStr(&cfg.Sandbox.PermissionMode, "MCP_SANDBOX_PERMISSION_MODE")
	envList(&cfg.Sandbox.PermissionAllow, "MCP_SANDBOX_PERMISSION_ALLOW")
	envList(&cfg.Sandbox.PermissionDeny, "MCP_SANDBOX_PERMISSION_DENY")

	envStr(&cfg.WebSearch.Endpoint, "WEB_SEARCH_ENDPOINT")
	envBool(&cfg.WebSearch.AllowAll, "WEB_SEARCH_ALLOW_ALL")
	envList(&cfg.WebSearch.AllowedHosts, "WEB_SEARCH_ALLOWED_HOSTS")
	envInt(&cfg.WebSearch.TimeoutMS, "WEB_SEARCH_TIMEOUT_MS")

	envStr(&cfg.Log.Level, "LOG_LEVEL")
	envStr(&cfg.Log.Format, "LOG_FORMAT")

	envStr(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	envBool(&cfg.Tracing.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")
}

func validate(cfg *Config) error {
	switch cfg.Provider {
	case "databricks", "azure":
	default:
		return fmt.Errorf("config: unknown provider %q", cfg.Provider)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", cfg.Port)
	}
	return nil
}

func envStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func envList(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if strings.TrimSpace(v) == "" {
			*dst = nil
			return
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
