// Package plugins runs WebAssembly tools with wazero. A plugin is a WASI
// program that reads a JSON object on stdin and writes its JSON result on
// stdout; each call gets a fresh module instance.
package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

// hostModuleName is the import namespace of host functions, e.g.
// (import "aule" "log" (func (param i32 i32))).
const hostModuleName = "aule"

// Runtime owns the wazero runtime and the compiled plugins.
type Runtime struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	rt      wazero.Runtime
	plugins map[string]*Plugin
}

// NewRuntime creates a runtime with WASI preview1 and the "aule" host module.
// Call Close when done to free compiled modules.
func NewRuntime(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("plugins: instantiate WASI: %w", err)
	}
	if err := instantiateHostModule(ctx, rt, logger); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	return &Runtime{
		logger:  logger,
		rt:      rt,
		plugins: make(map[string]*Plugin),
	}, nil
}

// instantiateHostModule exports aule.log(ptr, len), which writes a UTF-8
// message from plugin memory to the host logger.
func instantiateHostModule(ctx context.Context, rt wazero.Runtime, logger *slog.Logger) error {
	_, err := rt.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
			msg, ok := mod.Memory().Read(ptr, length)
			if !ok {
				logger.Warn("plugin log out of bounds", "module", mod.Name(), "ptr", ptr, "len", length)
				return
			}
			logger.Info("plugin log", "message", string(msg))
		}).
		WithParameterNames("ptr", "len").
		Export("log").
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("plugins: instantiate host module: %w", err)
	}
	return nil
}

// Load compiles wasm and registers it under meta.Name, replacing any plugin
// already loaded with that name.
func (r *Runtime) Load(ctx context.Context, wasm []byte, meta Meta) (*Plugin, error) {
	meta = meta.withDefaults()

	compiled, err := r.rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("plugins: compile %q: %w", meta.Name, err)
	}

	plugin := &Plugin{
		meta:     meta,
		compiled: compiled,
		rt:       r.rt,
		logger:   r.logger.With("plugin", meta.Name),
	}

	r.mu.Lock()
	if existing, ok := r.plugins[meta.Name]; ok {
		existing.Close(ctx)
		r.logger.Info("replacing plugin", "name", meta.Name)
	}
	r.plugins[meta.Name] = plugin
	r.mu.Unlock()

	r.logger.Info("plugin loaded", "name", meta.Name, "version", meta.Version, "tool", meta.ToolName)
	return plugin, nil
}

// Get returns a loaded plugin by name.
func (r *Runtime) Get(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// List returns the loaded plugin names, sorted.
func (r *Runtime) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Unload removes and closes a plugin.
func (r *Runtime) Unload(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	plugin, ok := r.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPluginNotFound, name)
	}
	plugin.Close(ctx)
	delete(r.plugins, name)
	r.logger.Info("plugin unloaded", "name", name)
	return nil
}

// Close shuts down the runtime and all loaded plugins.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, plugin := range r.plugins {
		plugin.Close(ctx)
	}
	r.plugins = map[string]*Plugin{}
	return r.rt.Close(ctx)
}
