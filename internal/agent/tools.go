package agent

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"ragagent/internal/domain"
)

const (
	SearchToolName     = "search_knowledge_base"
	SystemInfoToolName = "check_system_info"
)

// Searcher is the retrieval capability used by the knowledge-base tool.
type Searcher interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

type searchArgs struct {
	Query string `json:"query" validate:"required"`
}

// NewSearchTool returns the knowledge-base search tool. It answers with the
// texts of the top k chunks separated by blank lines.
func NewSearchTool(searcher Searcher, k int) Tool {
	if k <= 0 {
		k = 2
	}
	spec := domain.ToolSpec{
		Name:        SearchToolName,
		Description: "Search the internal knowledge base for technical information about the project, its documentation and best practices. Use it whenever the question concerns facts that may be documented.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look up in the knowledge base.",
				},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
	}
	return NewTool(spec, func(ctx context.Context, _ domain.RunContext, args searchArgs) (string, error) {
		results, err := searcher.Retrieve(ctx, args.Query, k)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "No relevant information found in the knowledge base.", nil
		}
		texts := make([]string, len(results))
		for i, r := range results {
			texts[i] = r.Chunk.Text
		}
		return strings.Join(texts, "\n\n"), nil
	})
}

type noArgs struct{}

// NewSystemInfoTool reports facts about the host running the agent.
func NewSystemInfoTool() Tool {
	spec := domain.ToolSpec{
		Name:        SystemInfoToolName,
		Description: "Return basic information about the system the agent runs on: operating system, architecture, runtime version and host name.",
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
	}
	return NewTool(spec, func(_ context.Context, rc domain.RunContext, _ noArgs) (string, error) {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "os: %s\n", runtime.GOOS)
		fmt.Fprintf(&b, "arch: %s\n", runtime.GOARCH)
		fmt.Fprintf(&b, "go: %s\n", runtime.Version())
		fmt.Fprintf(&b, "cpus: %d\n", runtime.NumCPU())
		fmt.Fprintf(&b, "hostname: %s", host)
		if rc.UserID != "" {
			fmt.Fprintf(&b, "\nrequested by: %s", rc.UserID)
		}
		return b.String(), nil
	})
}
