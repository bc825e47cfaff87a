package indexer

import (
	"context"
	"fmt"

	"github.com/modelrelay/relay/internal/agent"
)

// Tools exposes the index through the tool registry.
type Tools struct {
	index *Index
}

func NewTools(index *Index) *Tools {
	return &Tools{index: index}
}

func (t *Tools) Register(reg *agent.Registry) {
	register := func(name, description string, handler agent.Handler) {
		reg.Register(&agent.ToolSpec{
			Name: name, Category: "index",
			Description: description,
			Handler:     handler,
		})
	}
	register("workspace_list", "List workspace files, optionally filtered by path fragment.", t.list)
	register("workspace_search", "Search file contents with a regular expression.", t.search)
	register("workspace_symbol_search", "Find symbol definitions by name.", t.symbolSearch)
	register("workspace_symbol_references", "Find references to a symbol name.", t.symbolReferences)
	register("workspace_goto_definition", "Jump to the definition of a symbol.", t.gotoDefinition)
	register("workspace_index_rebuild", "Rescan the workspace and rebuild the index.", t.rebuild)
	register("project_summary", "Summarize the project: languages, layout, README.", t.summary)
}

func (t *Tools) list(_ context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	filter, _ := call.Args["filter"].(string)
	if filter == "" {
		filter, _ = call.Args["path"].(string)
	}
	files, err := t.index.Files(filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"files": files, "count": len(files)}, nil
}

func (t *Tools) search(_ context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	pattern, _ := call.Args["pattern"].(string)
	if pattern == "" {
		if pattern, _ = call.Args["query"].(string); pattern == "" {
			return nil, fmt.Errorf("pattern is required")
		}
	}
	limit := 0
	if v, ok := call.Args["limit"].(float64); ok {
		limit = int(v)
	}
	matches, err := t.index.Search(pattern, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"matches": matches, "count": len(matches)}, nil
}

func (t *Tools) symbolSearch(_ context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	query, _ := call.Args["query"].(string)
	if query == "" {
		if query, _ = call.Args["name"].(string); query == "" {
			return nil, fmt.Errorf("query is required")
		}
	}
	symbols, err := t.index.Symbols(query)
	if err != nil {
		return nil, err
	}
	return map[string]any{"symbols": symbols, "count": len(symbols)}, nil
}

func (t *Tools) symbolReferences(_ context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	name, _ := call.Args["name"].(string)
	if name == "" {
		if name, _ = call.Args["symbol"].(string); name == "" {
			return nil, fmt.Errorf("name is required")
		}
	}
	refs, err := t.index.References(name, 0)
	if err != nil {
		return nil, err
	}
	return map[string]any{"references": refs, "count": len(refs)}, nil
}

func (t *Tools) gotoDefinition(_ context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	name, _ := call.Args["name"].(string)
	if name == "" {
		if name, _ = call.Args["symbol"].(string); name == "" {
			return nil, fmt.Errorf("name is required")
		}
	}
	sym, err := t.index.Definition(name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"definition": sym}, nil
}

func (t *Tools) rebuild(_ context.Context, _ *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	files, symbols, err := t.index.Rebuild()
	if err != nil {
		return nil, err
	}
	return map[string]any{"files": files, "symbols": symbols}, nil
}

func (t *Tools) summary(_ context.Context, _ *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	return t.index.Summarize()
}
