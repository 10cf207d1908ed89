package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

// ManifestFile declares plugins explicitly. Without it every *.wasm file in
// the directory is loaded with default metadata.
const ManifestFile = "plugins.json"

// Manifest is the on-disk plugins.json format.
type Manifest struct {
	Plugins []ManifestEntry `json:"plugins"`
}

// ManifestEntry is one declared plugin. File is relative to the plugin dir.
type ManifestEntry struct {
	Meta
	File      string `json:"file"`
	Enabled   *bool  `json:"enabled,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

func (e ManifestEntry) enabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Loader discovers plugins in a directory and loads them into a Runtime.
type Loader struct {
	logger  *slog.Logger
	runtime *Runtime
	dir     string
}

// NewLoader creates a loader for dir.
func NewLoader(logger *slog.Logger, runtime *Runtime, dir string) *Loader {
	return &Loader{logger: logger, runtime: runtime, dir: dir}
}

// Dir returns the plugin directory.
func (l *Loader) Dir() string { return l.dir }

// Load returns one tool per loaded plugin. A missing directory yields no
// tools. Plugins that fail to read or compile are logged and skipped.
func (l *Loader) Load(ctx context.Context) ([]*domain.Tool, error) {
	if l.dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(l.dir); errors.Is(err, fs.ErrNotExist) {
		l.logger.Debug("plugin dir not found, no plugins loaded", "dir", l.dir)
		return nil, nil
	}

	manifestPath := filepath.Join(l.dir, ManifestFile)
	if _, err := os.Stat(manifestPath); err == nil {
		return l.loadManifest(ctx, manifestPath)
	}
	return l.loadDirectory(ctx)
}

func (l *Loader) loadManifest(ctx context.Context, path string) ([]*domain.Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugins: read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("plugins: parse manifest: %w", err)
	}

	var tools []*domain.Tool
	for _, entry := range manifest.Plugins {
		if !entry.enabled() {
			l.logger.Debug("skipping disabled plugin", "name", entry.Name)
			continue
		}
		if entry.Name == "" {
			entry.Name = strings.TrimSuffix(filepath.Base(entry.File), ".wasm")
		}
		meta := entry.Meta
		if entry.TimeoutMs > 0 {
			meta.Timeout = time.Duration(entry.TimeoutMs) * time.Millisecond
		}
		if tool := l.loadFile(ctx, filepath.Join(l.dir, entry.File), meta); tool != nil {
			tools = append(tools, tool)
		}
	}
	return tools, nil
}

func (l *Loader) loadDirectory(ctx context.Context) ([]*domain.Tool, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("plugins: read dir: %w", err)
	}

	var tools []*domain.Tool
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wasm") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".wasm")
		if tool := l.loadFile(ctx, filepath.Join(l.dir, entry.Name()), Meta{Name: name}); tool != nil {
			tools = append(tools, tool)
		}
	}
	return tools, nil
}

func (l *Loader) loadFile(ctx context.Context, path string, meta Meta) *domain.Tool {
	wasm, err := os.ReadFile(path)
	if err != nil {
		l.logger.Error("failed to read plugin", "name", meta.Name, "path", path, "error", err)
		return nil
	}
	plugin, err := l.runtime.Load(ctx, wasm, meta)
	if err != nil {
		l.logger.Error("failed to load plugin", "name", meta.Name, "error", err)
		return nil
	}
	return plugin.AsTool()
}
