package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/facre/internal/dispatch"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *dispatch.Service
	Version string
}

// NewMCPServer creates an MCP server exposing submission, polling and
// history as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"facre",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("facre analyses facultative reinsurance submissions delivered as Outlook .msg files."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("submit_analysis",
			mcp.WithDescription("Submit a local .msg file for reinsurance analysis. Returns the job id to poll."),
			mcp.WithString("path", mcp.Description("Absolute path of the .msg file"), mcp.Required()),
		),
		mcpSubmitAnalysis(deps),
	)

	s.AddTool(
		mcp.NewTool("task_status",
			mcp.WithDescription("Get the state, progress and status message of an analysis job."),
			mcp.WithString("job_id", mcp.Description("Job id returned by submit_analysis"), mcp.Required()),
		),
		mcpTaskStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("task_result",
			mcp.WithDescription("Get the result document of a completed analysis job."),
			mcp.WithString("job_id", mcp.Description("Job id returned by submit_analysis"), mcp.Required()),
		),
		mcpTaskResult(deps),
	)

	s.AddTool(
		mcp.NewTool("list_analyses",
			mcp.WithDescription("List archived analyses, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListAnalyses(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"facre://analyses/recent",
			"Recent Analyses",
			mcp.WithResourceDescription("Last 10 archived analyses without their result documents"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSubmitAnalysis(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		if err := dispatch.CheckFilename(path); err != nil {
			return mcpError(err.Error()), nil
		}

		f, err := os.Open(path)
		if err != nil {
			return mcpError(fmt.Sprintf("cannot open %s: %v", path, err)), nil
		}
		defer f.Close()

		sub, err := deps.Service.Submit(ctx, filepath.Base(path), f)
		if err != nil {
			return mcpError(fmt.Sprintf("submission failed: %v", err)), nil
		}
		return mcpJSON(sub)
	}
}

func mcpTaskStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		job := deps.Service.Status(ctx, id)
		return mcpJSON(map[string]any{
			"job_id":         id,
			"status":         job.State,
			"progress":       job.Progress,
			"current_status": job.Message,
			"error":          job.Error,
		})
	}
}

func mcpTaskResult(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		out := deps.Service.Result(ctx, id)
		switch out.Kind {
		case dispatch.ResultReady:
			return mcpText(string(renderable(id, out.Result))), nil
		case dispatch.ResultFailed:
			return mcpError("Task failed: " + out.Error), nil
		default:
			return mcpText(fmt.Sprintf("Task not completed. Status: %s", out.State)), nil
		}
	}
}

func mcpListAnalyses(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		list, _, err := deps.Service.ListAnalyses(limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("listing analyses failed: %v", err)), nil
		}
		views := make([]analysisView, len(list))
		for i, a := range list {
			views[i] = viewOf(a, false)
		}
		return mcpJSON(views)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, _, err := deps.Service.ListAnalyses(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list analyses: %w", err)
		}
		views := make([]analysisView, len(list))
		for i, a := range list {
			views[i] = viewOf(a, false)
		}
		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal analyses: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
