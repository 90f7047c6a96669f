package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"cordai/internal/api"
	"cordai/internal/config"
	"cordai/internal/redis"
	"cordai/internal/relay"
	"cordai/internal/service/ai"
	"cordai/internal/service/assistant"
	"cordai/internal/service/conversation"
	"cordai/internal/service/solana"
	"cordai/internal/storage"
)

type server struct {
	router  *gin.Engine
	addr    string
	closers []func() error
}

func (s *server) Close() {
	closeAll(s.closers)
}

// closeAll runs closers in reverse order of registration.
func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Printf("[wire] close: %v", err)
		}
	}
}

// wireServer builds the HTTP server from cfg. A missing or broken provider
// leaves the agent unregistered so chat answers "Agent not configured"
// while the registry endpoints keep working.
func wireServer(ctx context.Context, cfg *config.Config) (*server, error) {
	srv := &server{addr: cfg.BasicConfig.ServerAddress}
	if srv.addr == "" {
		srv.addr = ":8090"
	}

	store, closeStore, err := openConversationStore(cfg)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		srv.closers = append(srv.closers, closeStore)
	}
	conversations := conversation.NewService(store)

	core := wireAgent(ctx, cfg)
	srv.closers = append(srv.closers, core.closers...)

	registry := ai.NewRegistry()
	var titles *assistant.TitleService
	if core.agent != nil {
		registry.Register(cfg.Chat.AgentName, core.agent)
		if cfg.Chat.GenerateTitles {
			titles = assistant.NewTitleService(core.agent)
		}
	}

	rl := relay.New(relay.Options{
		Agents:        registry,
		AgentName:     cfg.Chat.AgentName,
		Conversations: conversations,
		Titles:        titles,
		Timeout:       cfg.Chat.StreamTimeout(),
	})
	srv.closers = append(srv.closers, func() error {
		rl.Wait()
		return nil
	})
	handlers := api.NewHandler(rl, conversations, core.memory, cfg.Chat.RequireUserID)

	srv.router = gin.Default()
	handlers.RegisterRoutes(srv.router)
	return srv, nil
}

// agentCore is what both the HTTP server and the MCP server expose.
type agentCore struct {
	memory   ai.ThreadMemory
	prices   *solana.PriceClient
	balances *solana.BalanceClient
	agent    *ai.Agent
	closers  []func() error
}

// wireAgent builds thread memory, the lookup clients and the agent. agent is
// nil when the provider cannot be initialised.
func wireAgent(ctx context.Context, cfg *config.Config) *agentCore {
	core := &agentCore{
		memory:   ai.NewLocalMemory(ai.DefaultHistoryLimit),
		prices:   solana.NewPriceClient(cfg.Solana.PriceURL, cfg.Solana.PriceCacheTTL(), nil),
		balances: solana.NewBalanceClient(cfg.Solana.RPCURL),
	}
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Printf("[wire] redis unavailable, keeping thread memory in process: %v", err)
		} else {
			core.closers = append(core.closers, rdb.Close)
			core.memory = ai.NewRedisMemory(rdb, cfg.Redis.MemoryTTL(), ai.DefaultHistoryLimit)
		}
	}

	agent, err := ai.NewAgentFromConfig(ctx, cfg, ai.Dependencies{
		Prices:   core.prices,
		Balances: core.balances,
		Memory:   core.memory,
	})
	if err != nil {
		log.Printf("[wire] agent %s unavailable: %v", cfg.Chat.AgentName, err)
		return core
	}
	core.agent = agent
	return core
}

func openConversationStore(cfg *config.Config) (conversation.Store, func() error, error) {
	driver := strings.ToLower(cfg.Storage.Driver)
	if driver == "" || driver == "memory" {
		return conversation.NewMemoryStore(), nil, nil
	}
	log.Printf("[serve] conversation store: %s", driver)
	db, err := storage.Open(driver, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, driver); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return conversation.NewSQLStore(db), db.Close, nil
}
