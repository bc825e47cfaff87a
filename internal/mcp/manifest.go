package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema validates a single server entry after the id/name merge.
// Validation failures skip the entry rather than failing the load.
const manifestEntrySchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"description": {"type": "string"},
		"command": {"type": "string", "minLength": 1},
		"args": {"type": "array", "items": {"type": "string"}},
		"env": {"type": "object", "additionalProperties": {"type": "string"}},
		"transport": {"type": "string"},
		"metadata": {"type": "object"}
	},
	"required": ["id", "command"]
}`

var entrySchema = jsonschema.MustCompileString("manifest-entry.json", manifestEntrySchema)

// LoadManifests reads the single manifest file (if set) and every *.json
// file in each manifest directory. Entries missing an id or command are
// skipped; duplicates are last-write-wins. Paths starting with ~/ are
// resolved against the user's home.
func LoadManifests(manifestFile string, manifestDirs []string, logger *slog.Logger) []ServerConfig {
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]ServerConfig)
	var order []string

	record := func(cfg ServerConfig) {
		if _, seen := byID[cfg.ID]; !seen {
			order = append(order, cfg.ID)
		}
		byID[cfg.ID] = cfg
	}

	if manifestFile != "" {
		for _, cfg := range loadManifestFile(expandHome(manifestFile), logger) {
			record(cfg)
		}
	}
	for _, dir := range manifestDirs {
		dir = expandHome(dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.Debug("manifest dir unreadable, skipping", "dir", dir, "error", err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			for _, cfg := range loadManifestFile(path, logger) {
				record(cfg)
			}
		}
	}

	out := make([]ServerConfig, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// loadManifestFile parses one manifest: either a JSON array of entries
// or an object with a "servers" array.
func loadManifestFile(path string, logger *slog.Logger) []ServerConfig {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("manifest unreadable", "path", path, "error", err)
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		var wrapper struct {
			Servers []json.RawMessage `json:"servers"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Servers == nil {
			logger.Warn("manifest is neither an array nor a servers object", "path", path)
			return nil
		}
		entries = wrapper.Servers
	}

	var out []ServerConfig
	for i, entry := range entries {
		cfg, err := parseEntry(entry)
		if err != nil {
			logger.Debug("skipping manifest entry", "path", path, "index", i, "error", err)
			continue
		}
		if cfg.Transport != "" && cfg.Transport != "stdio" {
			logger.Info("ignoring non-stdio server", "path", path, "server", cfg.ID, "transport", cfg.Transport)
			continue
		}
		out = append(out, cfg)
	}
	return out
}

func parseEntry(raw json.RawMessage) (ServerConfig, error) {
	var cfg ServerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	// Accept "name" in place of "id".
	if cfg.ID == "" {
		cfg.ID = cfg.Name
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return cfg, err
	}
	if m, ok := generic.(map[string]any); ok && m["id"] == nil && cfg.ID != "" {
		m["id"] = cfg.ID
		generic = m
	}
	if err := entrySchema.Validate(generic); err != nil {
		return cfg, fmt.Errorf("schema: %w", err)
	}
	return cfg, cfg.Validate()
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
