package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// MaxToolInputSize caps tool input JSON accepted from the model.
const MaxToolInputSize = 1 << 20

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the tools a deployment exposes. Registration compiles each
// tool's input schema once; dispatch validates inputs against it before the
// tool ever runs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds a tool, compiling its schema. A tool with an invalid schema
// is rejected at startup rather than failing at dispatch time.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}

	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(tool.Schema())); err != nil {
		return fmt.Errorf("register tool %s: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("register tool %s: compile schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool %s: already registered", name)
	}
	r.tools[name] = registeredTool{tool: tool, schema: schema}
	return nil
}

// MustRegister registers each tool or panics. Startup wiring only.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	return rt.tool, ok
}

// Lookup resolves a tool the session is allowed to call. It distinguishes
// unknown tools from known tools outside the allowed groups so the error
// fed back to the model names the actual problem.
func (r *Registry) Lookup(name string, allowedGroups []string) (Tool, error) {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	for _, g := range allowedGroups {
		if rt.tool.Group() == g {
			return rt.tool, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (group %s)", ErrToolNotAllowed, name, rt.tool.Group())
}

// Validate checks input against the tool's compiled schema without running
// the tool.
func (r *Registry) Validate(name string, input json.RawMessage) error {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if len(input) > MaxToolInputSize {
		return fmt.Errorf("%w: input exceeds %d bytes", ErrInvalidToolInput, MaxToolInputSize)
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", ErrInvalidToolInput, err)
	}
	if err := rt.schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToolInput, err)
	}
	return nil
}

// ForGroups returns the tools in the given groups, sorted by name so the
// tool list presented to the model is stable across turns.
func (r *Registry) ForGroups(groups []string) []Tool {
	allowed := make(map[string]bool, len(groups))
	for _, g := range groups {
		allowed[g] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, rt := range r.tools {
		if allowed[rt.tool.Group()] {
			out = append(out, rt.tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Execute runs an already-resolved tool call and normalizes the outcome
// into a models.ToolResult. Execution errors become error results; they
// never propagate as loop failures.
func (r *Registry) Execute(ctx context.Context, tool Tool, call models.ToolCall) models.ToolResult {
	res, err := tool.Execute(ctx, call.Input)
	if err != nil {
		return models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    fmt.Sprintf("tool %s failed: %v", call.Name, err),
			IsError:    true,
		}
	}
	if res == nil {
		return models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    fmt.Sprintf("tool %s returned no result", call.Name),
			IsError:    true,
		}
	}
	return models.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    res.Content,
		IsError:    res.IsError,
	}
}

// ErrorResult builds the error ToolResult fed back to the model when a call
// is refused before execution.
func ErrorResult(call models.ToolCall, err error) models.ToolResult {
	return models.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    err.Error(),
		IsError:    true,
	}
}
