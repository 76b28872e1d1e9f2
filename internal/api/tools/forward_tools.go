package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"fwdctl/internal/forward"
	"fwdctl/internal/managers"
)

// ForwardTools provides MCP tools over the forward manager
type ForwardTools struct {
	manager managers.ForwardManagerAPI
}

// NewForwardTools creates the tools for manager
func NewForwardTools(manager managers.ForwardManagerAPI) *ForwardTools {
	return &ForwardTools{manager: manager}
}

// GetTools returns all forward tools
func (ft *ForwardTools) GetTools() []mcp.Tool {
	modeNames := make([]string, 0, len(forward.AllModes))
	for _, m := range forward.AllModes {
		modeNames = append(modeNames, m.String())
	}

	return []mcp.Tool{
		mcp.NewTool("forward_list",
			mcp.WithDescription("List forwards observed by the active backend with their runtime status"),
		),
		mcp.NewTool("forward_declared",
			mcp.WithDescription("List forwards declared in the configuration for every tunnel"),
		),
		mcp.NewTool("forward_add",
			mcp.WithDescription("Declare and start forwards for the selected tunnel"),
			mcp.WithString("ports",
				mcp.Required(),
				mcp.Description("Port spec: comma-separated ports, ranges (8000-8005) or local:remote pairs (8080:80)"),
			),
		),
		mcp.NewTool("forward_remove",
			mcp.WithDescription("Stop forwards and remove them from the configuration"),
			mcp.WithString("ports",
				mcp.Required(),
				mcp.Description("Port spec of the local ports to remove"),
			),
		),
		mcp.NewTool("forward_reload",
			mcp.WithDescription("Validate the staged proxy configuration and reload it, or start missing forwards in process mode"),
		),
		mcp.NewTool("forward_stop_all",
			mcp.WithDescription("Stop every forward of the active backend without changing the configuration"),
		),
		mcp.NewTool("forward_apply",
			mcp.WithDescription("Start every declared forward that is not running"),
		),
		mcp.NewTool("forward_status",
			mcp.WithDescription("Summarize the active backend"),
		),
		mcp.NewTool("forward_mode_get",
			mcp.WithDescription("Get the active forward mode"),
		),
		mcp.NewTool("forward_mode_set",
			mcp.WithDescription("Switch the forward mode, stopping every forward of the previous backend first"),
			mcp.WithString("mode",
				mcp.Required(),
				mcp.Description("Forward mode"),
				mcp.Enum(modeNames...),
			),
		),
		mcp.NewTool("forward_reconcile",
			mcp.WithDescription("Compare declared and running forwards and optionally repair the difference"),
			mcp.WithBoolean("apply",
				mcp.Description("Start missing forwards and restart drifted ones"),
			),
			mcp.WithBoolean("prune",
				mcp.Description("Stop running forwards that no tunnel declares"),
			),
		),
	}
}

// ServerTools pairs every tool with its handler for registration
func (ft *ForwardTools) ServerTools() []server.ServerTool {
	handlers := map[string]server.ToolHandlerFunc{
		"forward_list":      ft.HandleList,
		"forward_declared":  ft.HandleDeclared,
		"forward_add":       ft.HandleAdd,
		"forward_remove":    ft.HandleRemove,
		"forward_reload":    ft.HandleReload,
		"forward_stop_all":  ft.HandleStopAll,
		"forward_apply":     ft.HandleApply,
		"forward_status":    ft.HandleStatus,
		"forward_mode_get":  ft.HandleModeGet,
		"forward_mode_set":  ft.HandleModeSet,
		"forward_reconcile": ft.HandleReconcile,
	}

	var out []server.ServerTool
	for _, tool := range ft.GetTools() {
		out = append(out, server.ServerTool{Tool: tool, Handler: handlers[tool.Name]})
	}
	return out
}

// HandleList handles the forward_list tool call
func (ft *ForwardTools) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	statuses := ft.manager.ListForwards(ctx)
	if statuses == nil {
		statuses = []forward.RuntimeStatus{}
	}
	return jsonResult(map[string]interface{}{
		"mode":     ft.manager.GetMode(),
		"forwards": statuses,
		"total":    len(statuses),
	})
}

// HandleDeclared handles the forward_declared tool call
func (ft *ForwardTools) HandleDeclared(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rules, err := ft.manager.DeclaredForwards()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read declared forwards: %v", err)), nil
	}
	if rules == nil {
		rules = []forward.Rule{}
	}
	return jsonResult(map[string]interface{}{
		"forwards": rules,
		"total":    len(rules),
	})
}

// HandleAdd handles the forward_add tool call
func (ft *ForwardTools) HandleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ports, err := req.RequireString("ports")
	if err != nil {
		return mcp.NewToolResultError("ports is required"), nil
	}
	return resultOf(ft.manager.AddForwards(ctx, ports)), nil
}

// HandleRemove handles the forward_remove tool call
func (ft *ForwardTools) HandleRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ports, err := req.RequireString("ports")
	if err != nil {
		return mcp.NewToolResultError("ports is required"), nil
	}
	return resultOf(ft.manager.RemoveForwards(ctx, ports)), nil
}

// HandleReload handles the forward_reload tool call
func (ft *ForwardTools) HandleReload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultOf(ft.manager.ValidateAndReload(ctx)), nil
}

// HandleStopAll handles the forward_stop_all tool call
func (ft *ForwardTools) HandleStopAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultOf(ft.manager.StopAllForwards(ctx)), nil
}

// HandleApply handles the forward_apply tool call
func (ft *ForwardTools) HandleApply(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultOf(ft.manager.ApplyForwards(ctx)), nil
}

// HandleStatus handles the forward_status tool call
func (ft *ForwardTools) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(ft.manager.Status(ctx))
}

// HandleModeGet handles the forward_mode_get tool call
func (ft *ForwardTools) HandleModeGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode := ft.manager.GetMode()
	return jsonResult(map[string]interface{}{
		"mode":        mode,
		"description": mode.Describe(),
	})
}

// HandleModeSet handles the forward_mode_set tool call
func (ft *ForwardTools) HandleModeSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("mode")
	if err != nil {
		return mcp.NewToolResultError("mode is required"), nil
	}
	mode, err := forward.ParseMode(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return resultOf(ft.manager.SetMode(ctx, mode)), nil
}

// HandleReconcile handles the forward_reconcile tool call
func (ft *ForwardTools) HandleReconcile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := managers.ReconcileOptions{
		Apply: req.GetBool("apply", false),
		Prune: req.GetBool("prune", false),
	}
	report, result := ft.manager.Reconcile(ctx, opts)

	res, err := jsonResult(map[string]interface{}{
		"report": report,
		"result": result,
	})
	if res != nil {
		res.IsError = !result.Success
	}
	return res, err
}

// resultOf maps a forward.Result onto a tool result. Failures are reported
// as tool errors carrying the kind, so clients can branch on it.
func resultOf(r forward.Result) *mcp.CallToolResult {
	if r.Success {
		return mcp.NewToolResultText(r.Message)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", r.Kind, r.Message))
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	resultJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(string(resultJSON)),
		},
	}, nil
}
