package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"cordai/internal/config"
	"cordai/internal/models"
)

const (
	ModeAgent = "agent"
	ModeModel = "model"
)

var defaultModels = map[string]string{
	"openai": "gpt-3.5-turbo",
	"claude": "claude-3-5-haiku-latest",
	"gemini": "gemini-2.0-flash",
}

// ErrAgentUnavailable is returned when no agent is registered under a name.
var ErrAgentUnavailable = errors.New("agent not configured")

// ExecutionError reports that the agent stream could not be established.
type ExecutionError struct {
	Agent string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Invocation is one user turn handed to an agent.
type Invocation struct {
	ThreadID   string
	ResourceID string
	Content    string
}

// Invoker streams the reply to an invocation as frames. The channel is closed
// after a finish or error frame, or when ctx is done.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (<-chan models.Frame, error)
}

type StreamFunc func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error)

type GenerateFunc func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error)

// Agent adapts an eino stream (react agent or bare chat model) to frames.
type Agent struct {
	name         string
	instructions string
	stream       StreamFunc
	generate     GenerateFunc
	memory       ThreadMemory
}

func NewAgent(name, instructions string, stream StreamFunc, generate GenerateFunc, memory ThreadMemory) *Agent {
	if memory == nil {
		memory = NewLocalMemory(DefaultHistoryLimit)
	}
	return &Agent{
		name:         name,
		instructions: instructions,
		stream:       stream,
		generate:     generate,
		memory:       memory,
	}
}

func (a *Agent) Name() string { return a.name }

// Dependencies are the collaborators an agent built from config needs.
type Dependencies struct {
	Prices   PriceSource
	Balances BalanceSource
	Memory   ThreadMemory
}

// NewChatModel creates the provider chat model the same way for agent and
// model mode.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, modelName string) (model.ToolCallingChatModel, error) {
	if modelName == "" {
		modelName = provCfg.Model
	}
	if modelName == "" {
		modelName = defaultModels[provider]
	}
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s has no api key", provider)
	}

	switch provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

// NewAgentFromConfig wires the configured provider into either a react agent
// carrying the lookup tools or, in model mode, the bare chat model.
func NewAgentFromConfig(ctx context.Context, cfg *config.Config, deps Dependencies) (*Agent, error) {
	provider := cfg.Chat.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	chatModel, err := NewChatModel(ctx, provider, provCfg, cfg.Chat.Model)
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	memory := deps.Memory
	if memory == nil {
		memory = NewLocalMemory(DefaultHistoryLimit)
	}
	generate := func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
		return chatModel.Generate(ctx, msgs)
	}

	var stream StreamFunc
	switch cfg.Chat.Mode {
	case ModeModel:
		stream = func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
			return chatModel.Stream(ctx, msgs)
		}
	default:
		tools := InitToolsChain(deps.Prices, deps.Balances, cfg.Solana.BalanceRateLimit, memory)
		reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
		stream = func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
			return reactAgent.Stream(ctx, msgs)
		}
	}
	log.Printf("[agent %s] provider=%s mode=%s", cfg.Chat.AgentName, provider, cfg.Chat.Mode)
	return NewAgent(cfg.Chat.AgentName, Instructions, stream, generate, memory), nil
}

// Invoke loads the thread history, opens the upstream stream and pumps it
// into frames on a goroutine owned by the returned channel.
func (a *Agent) Invoke(ctx context.Context, inv Invocation) (<-chan models.Frame, error) {
	if a == nil || a.stream == nil {
		return nil, ErrAgentUnavailable
	}
	history, err := a.memory.Load(ctx, inv.ResourceID, inv.ThreadID)
	if err != nil {
		log.Printf("[agent %s] load memory thread=%s: %v", a.name, inv.ThreadID, err)
		history = nil
	}
	working := a.working(ctx, inv.ResourceID)
	user := schema.UserMessage(inv.Content)
	msgs := a.compose(working, history, user)

	ctx = WithToolSession(ctx, inv.ResourceID, inv.ThreadID)
	reader, err := a.stream(ctx, msgs)
	if err != nil {
		return nil, &ExecutionError{Agent: a.name, Err: err}
	}
	if reader == nil {
		return nil, &ExecutionError{Agent: a.name, Err: errors.New("nil stream")}
	}

	out := make(chan models.Frame)
	go a.pump(ctx, inv, user, reader, out)
	return out, nil
}

func (a *Agent) working(ctx context.Context, resourceID string) *WorkingMemory {
	if resourceID == "" {
		return nil
	}
	w, err := a.memory.Working(ctx, resourceID)
	if err != nil {
		log.Printf("[agent %s] load working memory resource=%s: %v", a.name, resourceID, err)
		return nil
	}
	return w
}

func (a *Agent) compose(working *WorkingMemory, history []*schema.Message, user *schema.Message) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+3)
	if a.instructions != "" {
		msgs = append(msgs, schema.SystemMessage(a.instructions))
	}
	if prompt := working.Prompt(); prompt != "" {
		msgs = append(msgs, schema.SystemMessage(prompt))
	}
	msgs = append(msgs, history...)
	return append(msgs, user)
}

func (a *Agent) pump(ctx context.Context, inv Invocation, user *schema.Message, reader *schema.StreamReader[*schema.Message], out chan<- models.Frame) {
	defer close(out)
	defer reader.Close()

	send := func(f models.Frame) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}
	defer func() {
		if rec := recover(); rec != nil {
			send(models.ErrorFrame(fmt.Errorf("agent %s panic: %v", a.name, rec)))
		}
	}()

	var full strings.Builder
	for {
		if ctx.Err() != nil {
			return
		}
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			a.remember(ctx, inv, user, full.String())
			send(models.Finish(models.FinishStop))
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			send(models.ErrorFrame(err))
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if !send(models.TextDelta(chunk.Content)) {
			return
		}
	}
}

func (a *Agent) remember(ctx context.Context, inv Invocation, user *schema.Message, reply string) {
	if reply == "" {
		return
	}
	if err := a.memory.Append(ctx, inv.ResourceID, inv.ThreadID, user, schema.AssistantMessage(reply, nil)); err != nil {
		log.Printf("[agent %s] save memory thread=%s: %v", a.name, inv.ThreadID, err)
	}
	if inv.ResourceID == "" {
		return
	}
	query := stripWalletHint(inv.Content)
	if err := a.memory.UpdateWorking(ctx, inv.ResourceID, func(w *WorkingMemory) { w.AddQuery(query) }); err != nil {
		log.Printf("[agent %s] save working memory resource=%s: %v", a.name, inv.ResourceID, err)
	}
}

// stripWalletHint drops the connected-wallet context appended to the user
// message before it is kept as a query.
func stripWalletHint(content string) string {
	before, _, _ := strings.Cut(content, "\n\n[Context: ")
	return strings.TrimSpace(before)
}

// Complete runs a single non-streaming prompt against the underlying chat
// model without tools or history.
func (a *Agent) Complete(ctx context.Context, prompt string) (string, error) {
	if a == nil || a.generate == nil {
		return "", ErrAgentUnavailable
	}
	msg, err := a.generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", &ExecutionError{Agent: a.name, Err: err}
	}
	if msg == nil {
		return "", nil
	}
	return strings.TrimSpace(msg.Content), nil
}

// Registry maps logical agent names to invokers.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Invoker
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Invoker)}
}

func (r *Registry) Register(name string, agent Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = agent
}

func (r *Registry) Resolve(name string) (Invoker, error) {
	if r == nil {
		return nil, ErrAgentUnavailable
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	if !ok || agent == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentUnavailable, name)
	}
	return agent, nil
}
