package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

// DefaultTimeout bounds one plugin call.
const DefaultTimeout = 5 * time.Second

// Meta describes a plugin and the tool it exposes.
type Meta struct {
	Name        string                `json:"name"`
	Version     string                `json:"version"`
	Description string                `json:"description"`
	ToolName    string                `json:"tool_name"`
	Parameters  domain.ToolParameters `json:"parameters"`
	Timeout     time.Duration         `json:"-"`
}

func (m Meta) withDefaults() Meta {
	if m.ToolName == "" {
		m.ToolName = m.Name
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.Description == "" {
		m.Description = fmt.Sprintf("WebAssembly plugin %s", m.Name)
	}
	if m.Parameters.Type == "" {
		m.Parameters = domain.ObjectParams(map[string]interface{}{
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Input text for the plugin",
			},
		}, "input")
	}
	if m.Timeout <= 0 {
		m.Timeout = DefaultTimeout
	}
	return m
}

// Plugin is a compiled module callable as a tool.
type Plugin struct {
	meta     Meta
	compiled wazero.CompiledModule
	rt       wazero.Runtime
	logger   *slog.Logger
}

// Execute instantiates the module with params as JSON on stdin and decodes
// stdout. Empty output yields {"status":"ok","plugin":name}; non-JSON output
// is returned under "output". Stderr is logged, never returned.
func (p *Plugin) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, p.meta.Timeout)
	defer cancel()

	input, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("plugins: marshal input for %q: %w", p.meta.Name, err)
	}

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStartFunctions("_start").
		WithName("") // anonymous, so calls may overlap

	mod, err := p.rt.InstantiateModule(ctx, p.compiled, cfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		p.logger.Debug("plugin stderr", "stderr", msg)
	}
	if err != nil {
		var exit *sys.ExitError
		if !errors.As(err, &exit) || exit.ExitCode() != 0 {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("plugins: %q timed out after %s", p.meta.Name, p.meta.Timeout)
			}
			return nil, fmt.Errorf("plugins: execute %q: %w", p.meta.Name, err)
		}
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return map[string]interface{}{"status": "ok", "plugin": p.meta.Name}, nil
	}
	var result interface{}
	if err := json.Unmarshal(out, &result); err != nil {
		return map[string]interface{}{"status": "ok", "plugin": p.meta.Name, "output": string(out)}, nil
	}
	return result, nil
}

// AsTool exposes the plugin through the tool calling convention.
func (p *Plugin) AsTool() *domain.Tool {
	return &domain.Tool{
		Name:          p.meta.ToolName,
		Description:   p.meta.Description,
		Parameters:    p.meta.Parameters,
		Execute:       p.Execute,
		ExecutionType: domain.ExecWasm,
	}
}

// Name returns the plugin name.
func (p *Plugin) Name() string { return p.meta.Name }

// Meta returns the plugin metadata with defaults applied.
func (p *Plugin) Meta() Meta { return p.meta }

// Close frees the compiled module.
func (p *Plugin) Close(ctx context.Context) {
	if p.compiled != nil {
		p.compiled.Close(ctx)
	}
}
