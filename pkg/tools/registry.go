package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownTool is returned for names outside KnownTools.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
)

// Registry holds the tools available to one agent run. It is owned by its
// creator and never shared globally.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// IsKnown reports whether name belongs to the closed tool set.
func IsKnown(name string) bool {
	for _, n := range KnownTools {
		if n == name {
			return true
		}
	}
	return false
}

// Register adds tool under its own name.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if !IsKnown(name) {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the definitions of all registered tools in name order.
func (r *Registry) Definitions() []ToolDefinition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Documentation renders a short markdown list of the registered tools for prompts.
func (r *Registry) Documentation() string {
	defs := r.Definitions()
	if len(defs) == 0 {
		return "No tools available"
	}
	var doc strings.Builder
	doc.WriteString("## Available Tools\n\n")
	for i := range defs {
		desc := defs[i].Description
		if idx := strings.IndexByte(desc, '\n'); idx > 0 {
			desc = desc[:idx]
		}
		fmt.Fprintf(&doc, "- **%s** - %s\n", defs[i].Name, desc)
	}
	return doc.String()
}
