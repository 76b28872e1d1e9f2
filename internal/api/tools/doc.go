// Package tools exposes the forward manager as MCP tools.
//
// Each operation of the manager is one tool. Operations that return a
// forward result map success to a text result and failure to a tool error
// whose text starts with the failure kind, for example
// "ToolNotInstalled: socat is not installed". Observations are returned as
// JSON.
//
// Tools:
//
//   - forward_list, forward_status, forward_declared: observe
//   - forward_add, forward_remove: change declared forwards of the selected tunnel
//   - forward_reload, forward_apply, forward_stop_all: act on the active backend
//   - forward_mode_get, forward_mode_set: read and switch the forward mode
//   - forward_reconcile: compare declared and running forwards
//
// Example Usage:
//
//	{
//	  "method": "tools/call",
//	  "params": {
//	    "name": "forward_add",
//	    "arguments": {"ports": "443,8080:80"}
//	  }
//	}
//
// The server is started by "fwdctl serve" on stdio, or over SSE with
// --transport sse.
package tools
