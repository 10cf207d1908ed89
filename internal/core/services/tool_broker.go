package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/xeipuuv/gojsonschema"
)

// ToolBroker maps tool names to capabilities and normalizes how planners call
// them: every Invoke yields a textual observation, never a capability fault.
type ToolBroker struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	tools   map[string]*domain.Tool
	schemas map[string]*gojsonschema.Schema
	fuzzy   bool
}

// BrokerOption configures a ToolBroker.
type BrokerOption func(*ToolBroker)

// WithFuzzyMatch resolves unknown names to the closest registered tool
// (word overlap with Levenshtein tiebreak). Off by default.
func WithFuzzyMatch() BrokerOption {
	return func(b *ToolBroker) { b.fuzzy = true }
}

// NewToolBroker creates an empty broker.
func NewToolBroker(logger *slog.Logger, opts ...BrokerOption) *ToolBroker {
	b := &ToolBroker{
		logger:  logger,
		tools:   make(map[string]*domain.Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a tool, replacing any tool already registered under the same name.
func (b *ToolBroker) Register(tool *domain.Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Execute == nil {
		return fmt.Errorf("tool %s has no executor", tool.Name)
	}
	schema, err := compileToolSchema(tool.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: invalid parameter schema: %w", tool.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.tools[tool.Name]; exists {
		b.logger.Debug("tool overwritten", "tool", tool.Name)
	}
	b.tools[tool.Name] = tool
	b.schemas[tool.Name] = schema
	return nil
}

// Get returns a tool by name.
func (b *ToolBroker) Get(name string) (*domain.Tool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (b *ToolBroker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tools)
}

// List returns all registered tools sorted by name.
func (b *ToolBroker) List() []*domain.Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tools := make([]*domain.Tool, 0, len(b.tools))
	for _, t := range b.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Schemas returns the public schema of every tool, sorted by name.
func (b *ToolBroker) Schemas() []domain.ToolSchema {
	tools := b.List()
	out := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Schema())
	}
	return out
}

// Invoke runs a tool from a raw argument string as produced by a planner.
// Only an unknown tool name is returned as an error (*domain.ToolNotFoundError);
// argument and capability failures come back as an observation prefixed with
// "Error executing <name>: ".
func (b *ToolBroker) Invoke(ctx context.Context, name, rawArgs string) (string, error) {
	tool, schema, err := b.resolve(name)
	if err != nil {
		return "", err
	}

	params, err := parseToolArgs(rawArgs, tool.Parameters)
	if err != nil {
		return executionError(tool.Name, err), nil
	}

	result, err := b.run(ctx, tool, schema, params)
	if err != nil {
		return executionError(tool.Name, err), nil
	}
	return renderResult(result), nil
}

// Execute runs a tool with structured parameters. Unlike Invoke, capability
// failures are returned as errors.
func (b *ToolBroker) Execute(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	tool, schema, err := b.resolve(name)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return b.run(ctx, tool, schema, params)
}

func (b *ToolBroker) resolve(name string) (*domain.Tool, *gojsonschema.Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	name = strings.TrimSpace(name)
	if tool, ok := b.tools[name]; ok {
		return tool, b.schemas[name], nil
	}
	if b.fuzzy {
		if match := b.fuzzyMatch(name); match != "" {
			b.logger.Info("tool name corrected", "requested", name, "resolved", match)
			return b.tools[match], b.schemas[match], nil
		}
	}
	return nil, nil, &domain.ToolNotFoundError{Name: name}
}

func (b *ToolBroker) run(ctx context.Context, tool *domain.Tool, schema *gojsonschema.Schema, params map[string]interface{}) (result interface{}, err error) {
	if err := validateToolParams(schema, params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("tool panicked", "tool", tool.Name, "panic", r)
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return tool.Execute(ctx, params)
}

// FormatForPrompt renders the tool catalogue for a planner prompt:
// name, description and parameter schema per tool.
func (b *ToolBroker) FormatForPrompt() string {
	tools := b.List()
	if len(tools) == 0 {
		return "No tools available."
	}
	var sb strings.Builder
	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		execTag := ""
		if t.ExecutionType == domain.ExecWasm {
			execTag = " [wasm]"
		}
		fmt.Fprintf(&sb, "- %s%s: %s\n  Parameters: %s\n", t.Name, execTag, t.Description, params)
	}
	return sb.String()
}

// Names returns registered tool names, sorted.
func (b *ToolBroker) Names() []string {
	tools := b.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

func executionError(name string, err error) string {
	return fmt.Sprintf("Error executing %s: %v", name, err)
}

// parseToolArgs turns a planner's raw argument text into parameters.
// Plain text is accepted as the single "query" argument (or the first required
// parameter when the tool has no "query"). Text that looks like JSON but does
// not parse is rejected.
func parseToolArgs(raw string, params domain.ToolParameters) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if raw == "" {
		return map[string]interface{}{}, nil
	}

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		var parsed interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil, fmt.Errorf("invalid JSON arguments: %w", err)
		}
		obj, ok := parsed.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid JSON arguments: expected an object")
		}
		return obj, nil
	}

	return map[string]interface{}{positionalParam(params): strings.Trim(raw, `"'`)}, nil
}

func positionalParam(params domain.ToolParameters) string {
	if _, ok := params.Properties["query"]; ok {
		return "query"
	}
	if len(params.Required) > 0 {
		return params.Required[0]
	}
	return "query"
}

func compileToolSchema(params domain.ToolParameters) (*gojsonschema.Schema, error) {
	properties := params.Properties
	if properties == nil {
		properties = map[string]interface{}{}
	}
	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(params.Required) > 0 {
		schemaMap["required"] = params.Required
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateToolParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func renderResult(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

// fuzzyMatch finds the best matching tool name for a hallucinated/wrong name.
// Caller holds the read lock.
func (b *ToolBroker) fuzzyMatch(input string) string {
	inputWords := splitToolWords(input)

	bestName := ""
	bestScore := 0
	for name := range b.tools {
		score := wordOverlapScore(inputWords, splitToolWords(name))
		if score > bestScore {
			bestScore = score
			bestName = name
		} else if score == bestScore && score > 0 {
			if levenshtein(input, name) < levenshtein(input, bestName) {
				bestName = name
			}
		}
	}
	if bestScore >= 1 {
		return bestName
	}
	return ""
}

func splitToolWords(name string) []string {
	parts := []string{}
	for _, p := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	}) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func wordOverlapScore(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, w := range b {
		set[w] = true
	}
	score := 0
	for _, w := range a {
		if set[w] {
			score++
		}
	}
	return score
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
