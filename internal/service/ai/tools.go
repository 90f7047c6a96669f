package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"cordai/internal/service/solana"
)

const (
	SolPriceToolName      = "get-sol-price"
	WalletBalanceToolName = "get-wallet-balance"

	priceFailureText     = "Failed to fetch SOL price. Please try again."
	balanceFailureText   = "Invalid wallet address or failed to fetch balance"
	balanceRateLimitText = "Balance lookup rate limit exceeded, please retry in a minute"
)

// PriceSource provides the SOL market quote.
type PriceSource interface {
	SOLPrice(ctx context.Context) (*solana.PriceQuote, error)
}

// BalanceSource provides native wallet balances.
type BalanceSource interface {
	Balance(ctx context.Context, address string) (*solana.Balance, error)
}

// InitToolsChain builds the lookup tools handed to the agent. A nil source
// leaves its tool out. memory may be nil.
func InitToolsChain(prices PriceSource, balances BalanceSource, balanceLimit int, memory ThreadMemory) []tool.BaseTool {
	var tools []tool.BaseTool
	if prices != nil {
		tools = append(tools, NewSolPriceTool(prices))
	}
	if balances != nil {
		tools = append(tools, NewWalletBalanceTool(balances, balanceLimit, memory))
	}
	return tools
}

type solPriceTool struct {
	source PriceSource
}

type solPriceParams struct{}

type solPriceResult struct {
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
	Volume24h float64 `json:"volume24h"`
	MarketCap float64 `json:"marketCap"`
	Error     string  `json:"error,omitempty"`
}

func NewSolPriceTool(source PriceSource) tool.InvokableTool {
	t := &solPriceTool{source: source}
	info := &schema.ToolInfo{
		Name:        SolPriceToolName,
		Desc:        "Get the current price of SOL (Solana) in USD, with 24h change percentage, 24h volume and market cap.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
	return utils.NewTool(info, t.run)
}

// run never returns an error: failures are reported to the model in the
// result so the agent can answer in text.
func (t *solPriceTool) run(ctx context.Context, _ *solPriceParams) (*solPriceResult, error) {
	quote, err := t.source.SOLPrice(ctx)
	if err != nil {
		log.Printf("[tool %s] %v", SolPriceToolName, err)
		return &solPriceResult{Error: priceFailureText}, nil
	}
	return &solPriceResult{
		Price:     quote.Price,
		Change24h: quote.Change24h,
		Volume24h: quote.Volume24h,
		MarketCap: quote.MarketCap,
	}, nil
}

type walletBalanceTool struct {
	source  BalanceSource
	limiter *toolRateLimiter
	memory  ThreadMemory
}

type walletBalanceParams struct {
	Address string `json:"address"`
}

type walletBalanceResult struct {
	Address  string  `json:"address"`
	Balance  float64 `json:"balance"`
	Lamports uint64  `json:"lamports"`
	Error    string  `json:"error,omitempty"`
}

// NewWalletBalanceTool allows limit lookups per resource per minute; zero or
// less disables the limit. Successful lookups are remembered as the
// resource's last checked wallet when memory is set.
func NewWalletBalanceTool(source BalanceSource, limit int, memory ThreadMemory) tool.InvokableTool {
	t := &walletBalanceTool{source: source, limiter: newToolRateLimiter(limit, BalanceRateWindow), memory: memory}
	info := &schema.ToolInfo{
		Name: WalletBalanceToolName,
		Desc: "Get the SOL balance of a Solana wallet address.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"address": {
				Desc:     "Solana wallet address (base58 public key)",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, t.run)
}

func (t *walletBalanceTool) run(ctx context.Context, params *walletBalanceParams) (*walletBalanceResult, error) {
	address := ""
	if params != nil {
		address = strings.TrimSpace(params.Address)
	}
	if _, err := solana.ValidateAddress(address); err != nil {
		log.Printf("[tool %s] address=%q: %v", WalletBalanceToolName, address, err)
		return &walletBalanceResult{Address: address, Error: balanceFailureText}, nil
	}
	if t.limiter != nil && !t.limiter.Allow(limiterKey(ctx)) {
		return &walletBalanceResult{Address: address, Error: balanceRateLimitText}, nil
	}
	bal, err := t.source.Balance(ctx, address)
	if err != nil {
		log.Printf("[tool %s] address=%q: %v", WalletBalanceToolName, address, err)
		return &walletBalanceResult{Address: address, Error: balanceFailureText}, nil
	}
	t.rememberWallet(ctx, bal.Address)
	return &walletBalanceResult{
		Address:  bal.Address,
		Balance:  bal.Balance,
		Lamports: bal.Lamports,
	}, nil
}

func (t *walletBalanceTool) rememberWallet(ctx context.Context, address string) {
	if t.memory == nil {
		return
	}
	resourceID, _, ok := ToolSessionFromContext(ctx)
	if !ok || resourceID == "" {
		return
	}
	if err := t.memory.UpdateWorking(ctx, resourceID, func(w *WorkingMemory) { w.LastWalletChecked = address }); err != nil {
		log.Printf("[tool %s] remember wallet resource=%s: %v", WalletBalanceToolName, resourceID, err)
	}
}

func limiterKey(ctx context.Context) string {
	if resourceID, threadID, ok := ToolSessionFromContext(ctx); ok {
		if resourceID != "" {
			return "resource:" + resourceID
		}
		return "thread:" + threadID
	}
	return fmt.Sprintf("tool:%s", WalletBalanceToolName)
}
