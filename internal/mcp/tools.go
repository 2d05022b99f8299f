package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stackspot/stkai-go/agent"
	"github.com/stackspot/stkai-go/rqc"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.addTool(s.executeQuickCommandTool())
	s.addTool(s.getExecutionResultTool())
	s.addTool(s.chatWithAgentTool())
	s.addTool(s.explainConfigTool())
}

func (s *Server) executeQuickCommandTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("execute_quick_command",
		mcplib.WithDescription("Run a remote quick command and wait for its result"),
		mcplib.WithString("slug",
			mcplib.Required(),
			mcplib.Description("The quick command slug to execute"),
		),
		mcplib.WithString("input_data",
			mcplib.Description("JSON-encoded input payload for the command"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleExecuteQuickCommand,
	}
}

func (s *Server) getExecutionResultTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_execution_result",
		mcplib.WithDescription("Fetch the current state of a submitted execution by ID"),
		mcplib.WithString("execution_id",
			mcplib.Required(),
			mcplib.Description("The execution ID to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetExecutionResult,
	}
}

func (s *Server) chatWithAgentTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("chat_with_agent",
		mcplib.WithDescription("Send a prompt to a platform agent and return its reply"),
		mcplib.WithString("agent_id",
			mcplib.Required(),
			mcplib.Description("The agent to chat with"),
		),
		mcplib.WithString("prompt",
			mcplib.Required(),
			mcplib.Description("The user prompt to send"),
		),
		mcplib.WithString("conversation_id",
			mcplib.Description("Continue an existing conversation"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleChatWithAgent,
	}
}

func (s *Server) explainConfigTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("explain_config",
		mcplib.WithDescription("Report every SDK option with its resolved value and originating layer"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleExplainConfig,
	}
}

func (s *Server) handleExecuteQuickCommand(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.deps.Executor == nil {
		return mcplib.NewToolResultError("executor not configured"), nil
	}
	args := req.GetArguments()
	slug, ok := args["slug"].(string)
	if !ok || slug == "" {
		return mcplib.NewToolResultError("slug is required"), nil
	}
	var payload any
	if raw, ok := args["input_data"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return mcplib.NewToolResultErrorFromErr("input_data is not valid JSON", err), nil
		}
	}

	resp := s.deps.Executor.Execute(ctx, slug, rqc.NewRequest(payload))
	data, err := json.Marshal(executionEnvelope(resp))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal execution result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetExecutionResult(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.deps.Executor == nil {
		return mcplib.NewToolResultError("executor not configured"), nil
	}
	args := req.GetArguments()
	executionID, ok := args["execution_id"].(string)
	if !ok || executionID == "" {
		return mcplib.NewToolResultError("execution_id is required"), nil
	}

	resp := s.deps.Executor.Result(ctx, executionID)
	data, err := json.Marshal(executionEnvelope(resp))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to marshal result of %s", executionID), err,
		), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleChatWithAgent(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.deps.Chatter == nil {
		return mcplib.NewToolResultError("chatter not configured"), nil
	}
	args := req.GetArguments()
	agentID, ok := args["agent_id"].(string)
	if !ok || agentID == "" {
		return mcplib.NewToolResultError("agent_id is required"), nil
	}
	prompt, ok := args["prompt"].(string)
	if !ok || prompt == "" {
		return mcplib.NewToolResultError("prompt is required"), nil
	}
	chatReq := agent.NewChatRequest(prompt)
	if cid, ok := args["conversation_id"].(string); ok && cid != "" {
		chatReq.ConversationID = cid
		chatReq.UseConversation = true
	}

	resp := s.deps.Chatter.Chat(ctx, agentID, chatReq)
	data, err := json.Marshal(chatEnvelope(resp))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal chat response", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleExplainConfig(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.deps.Config == nil {
		return mcplib.NewToolResultError("config reader not configured"), nil
	}
	data, err := json.Marshal(explainDoc(s.deps.Config.Explain()))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal config", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func executionEnvelope(resp *rqc.Response) map[string]any {
	env := map[string]any{
		"execution_id": resp.Request.ExecutionID(),
		"status":       resp.Status,
	}
	if resp.Result != nil {
		env["result"] = resp.Result
	}
	if resp.Error != "" {
		env["error"] = resp.Error
	}
	return env
}

func chatEnvelope(resp *agent.ChatResponse) map[string]any {
	env := map[string]any{
		"status":  resp.Status,
		"message": resp.Message,
		"tokens": map[string]int{
			"user":       resp.Tokens.User,
			"enrichment": resp.Tokens.Enrichment,
			"output":     resp.Tokens.Output,
			"total":      resp.Tokens.Total(),
		},
	}
	if resp.ConversationID != "" {
		env["conversation_id"] = resp.ConversationID
	}
	if resp.StopReason != "" {
		env["stop_reason"] = resp.StopReason
	}
	if resp.Error != "" {
		env["error"] = resp.Error
	}
	return env
}

func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
