package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"cordai/internal/models"
	"cordai/internal/relay"
	"cordai/internal/service/ai"
	"cordai/internal/service/assistant"
)

const (
	ServerName    = "CordAi MCP Server"
	ServerVersion = "1.0.0"

	// AskToolPrefix names the tool an agent is exposed as, e.g. ask_cordaiAgent.
	AskToolPrefix = "ask_"
)

var errStreamClosed = errors.New("agent stream closed without finish")

// Options lists what the server exposes. Tools are the same eino tools the
// agent uses; Agents are keyed by logical name.
type Options struct {
	Tools   []tool.BaseTool
	Agents  map[string]ai.Invoker
	Timeout time.Duration
}

// New builds an MCP server publishing every invokable tool and one ask tool
// per agent.
func New(ctx context.Context, opts Options) (*server.MCPServer, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = relay.DefaultTimeout
	}
	srv := server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false))

	for _, base := range opts.Tools {
		invokable, ok := base.(tool.InvokableTool)
		if !ok {
			continue
		}
		info, err := base.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		srv.AddTool(lookupTool(info.Name, info.Desc), toolHandler(info.Name, invokable))
	}

	for name, agent := range opts.Agents {
		if agent == nil {
			continue
		}
		srv.AddTool(askTool(name), askHandler(name, agent, opts.Timeout))
	}
	return srv, nil
}

func lookupTool(name, desc string) mcp.Tool {
	toolOpts := []mcp.ToolOption{mcp.WithDescription(desc)}
	if name == ai.WalletBalanceToolName {
		toolOpts = append(toolOpts, mcp.WithString("address",
			mcp.Required(),
			mcp.Description("Solana wallet address (base58 public key)"),
		))
	}
	return mcp.NewTool(name, toolOpts...)
}

func askTool(agentName string) mcp.Tool {
	return mcp.NewTool(AskToolPrefix+agentName,
		mcp.WithDescription(fmt.Sprintf("Ask the %s a question about Solana prices, wallets or concepts.", agentName)),
		mcp.WithString("message", mcp.Required(), mcp.Description("The question for the agent")),
		mcp.WithString("threadId", mcp.Description("Conversation to continue; a new one is started when empty")),
		mcp.WithString("resourceId", mcp.Description("Connected wallet address of the user")),
	)
}

// toolHandler forwards the call arguments to the eino tool unchanged. Lookup
// failures are already folded into the tool's JSON result.
func toolHandler(name string, t tool.InvokableTool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		payload, err := json.Marshal(args)
		if err != nil {
			return mcp.NewToolResultError("invalid arguments"), nil
		}
		out, err := t.InvokableRun(ctx, string(payload))
		if err != nil {
			log.Printf("[mcp %s] %v", name, err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

func askHandler(name string, agent ai.Invoker, timeout time.Duration) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		message := strings.TrimSpace(stringArg(args, "message"))
		if message == "" {
			return mcp.NewToolResultError("message is required"), nil
		}
		threadID := stringArg(args, "threadId")
		if threadID == "" {
			threadID = uuid.NewString()
		}
		resourceID := stringArg(args, "resourceId")

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		reply, err := ask(ctx, agent, ai.Invocation{
			ThreadID:   threadID,
			ResourceID: resourceID,
			Content:    assistant.Enrich(message, resourceID),
		})
		if err != nil {
			log.Printf("[mcp %s%s] thread=%s: %v", AskToolPrefix, name, threadID, err)
			return mcp.NewToolResultError(relay.ErrorMessage), nil
		}
		return mcp.NewToolResultText(reply), nil
	}
}

// ask collects the streamed reply of one invocation.
func ask(ctx context.Context, agent ai.Invoker, inv ai.Invocation) (string, error) {
	frames, err := agent.Invoke(ctx, inv)
	if err != nil {
		return "", err
	}
	var reply strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				return "", errStreamClosed
			}
			switch frame.Type {
			case models.FrameTextDelta:
				reply.WriteString(frame.Delta)
			case models.FrameError:
				if frame.Err != nil {
					return "", frame.Err
				}
				return "", errors.New(frame.Message)
			case models.FrameFinish:
				return reply.String(), nil
			}
		}
	}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
