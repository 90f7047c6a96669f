package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// LamportsPerSOL is the fixed divisor between lamports and whole SOL.
const LamportsPerSOL = 1_000_000_000

const DefaultRPCURL = "https://api.devnet.solana.com"

var (
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrBalanceFetch   = errors.New("fetch wallet balance failed")
)

// Balance is the native SOL balance of one account.
type Balance struct {
	Address  string  `json:"address"`
	Balance  float64 `json:"balance"`
	Lamports uint64  `json:"lamports"`
}

// BalanceFetcher reads the lamport balance of an account.
type BalanceFetcher interface {
	GetBalance(ctx context.Context, account sdk.PublicKey) (uint64, error)
}

type rpcFetcher struct {
	client *rpc.Client
}

func (f *rpcFetcher) GetBalance(ctx context.Context, account sdk.PublicKey) (uint64, error) {
	res, err := f.client.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, errors.New("empty rpc result")
	}
	return res.Value, nil
}

// BalanceClient looks up native balances over Solana JSON-RPC.
type BalanceClient struct {
	fetcher BalanceFetcher
}

// NewBalanceClient talks to rpcURL, falling back to the public devnet endpoint.
func NewBalanceClient(rpcURL string) *BalanceClient {
	if rpcURL == "" {
		rpcURL = DefaultRPCURL
	}
	return &BalanceClient{fetcher: &rpcFetcher{client: rpc.New(rpcURL)}}
}

func NewBalanceClientWithFetcher(fetcher BalanceFetcher) *BalanceClient {
	return &BalanceClient{fetcher: fetcher}
}

// ValidateAddress parses a base58 encoded 32 byte public key.
func ValidateAddress(address string) (sdk.PublicKey, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return sdk.PublicKey{}, ErrInvalidAddress
	}
	key, err := sdk.PublicKeyFromBase58(address)
	if err != nil {
		return sdk.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return key, nil
}

// Balance validates address before any network call, then fetches it.
func (c *BalanceClient) Balance(ctx context.Context, address string) (*Balance, error) {
	key, err := ValidateAddress(address)
	if err != nil {
		return nil, err
	}
	lamports, err := c.fetcher.GetBalance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBalanceFetch, err)
	}
	return &Balance{
		Address:  strings.TrimSpace(address),
		Balance:  float64(lamports) / LamportsPerSOL,
		Lamports: lamports,
	}, nil
}
