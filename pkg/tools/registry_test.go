package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name string
}

func (s stubTool) Name() string { return s.name }

func (s stubTool) Definition() ToolDefinition {
	return ToolDefinition{Name: s.name, Description: "stub\nsecond line", InputSchema: InputSchema{Type: "object"}}
}

func (s stubTool) Exec(context.Context, map[string]any) (*ExecResult, error) {
	return &ExecResult{Content: "ok"}, nil
}

func TestRegistryClosedSet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubTool{name: ToolWebSearch}))
	require.NoError(t, r.Register(stubTool{name: ToolCreateNote}))

	err := r.Register(stubTool{name: "shell"})
	assert.True(t, errors.Is(err, ErrUnknownTool))

	err = r.Register(stubTool{name: ToolWebSearch})
	assert.True(t, errors.Is(err, ErrDuplicateTool))

	assert.Equal(t, []string{ToolCreateNote, ToolWebSearch}, r.Names())
	_, ok := r.Get(ToolWebSearch)
	assert.True(t, ok)
	_, ok = r.Get(ToolSheetQuery)
	assert.False(t, ok)

	doc := r.Documentation()
	assert.Contains(t, doc, "**web_search** - stub")
	assert.NotContains(t, doc, "second line")
}

func TestEmptyRegistryDocumentation(t *testing.T) {
	assert.Equal(t, "No tools available", NewRegistry().Documentation())
}
