package solana

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const systemProgram = "11111111111111111111111111111111"

type fakeFetcher struct {
	lamports uint64
	err      error
	calls    int
	last     sdk.PublicKey
}

func (f *fakeFetcher) GetBalance(_ context.Context, account sdk.PublicKey) (uint64, error) {
	f.calls++
	f.last = account
	return f.lamports, f.err
}

func TestBalanceConvertsLamports(t *testing.T) {
	cases := []struct {
		lamports uint64
		want     float64
	}{
		{lamports: 0, want: 0},
		{lamports: 1_500_000_000, want: 1.5},
		{lamports: 1, want: 1e-9},
	}
	for _, tc := range cases {
		fetcher := &fakeFetcher{lamports: tc.lamports}
		got, err := NewBalanceClientWithFetcher(fetcher).Balance(context.Background(), systemProgram)
		require.NoError(t, err)
		assert.Equal(t, systemProgram, got.Address)
		assert.InDelta(t, tc.want, got.Balance, 1e-12)
		assert.Equal(t, tc.lamports, got.Lamports)
		assert.Equal(t, sdk.SystemProgramID, fetcher.last)
	}
}

func TestBalanceInvalidAddressSkipsNetwork(t *testing.T) {
	for _, addr := range []string{"", "   ", "not-base58-0OIl", "abc"} {
		fetcher := &fakeFetcher{}
		_, err := NewBalanceClientWithFetcher(fetcher).Balance(context.Background(), addr)
		require.ErrorIs(t, err, ErrInvalidAddress, addr)
		assert.Zero(t, fetcher.calls, addr)
	}
}

func TestBalanceFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	_, err := NewBalanceClientWithFetcher(fetcher).Balance(context.Background(), systemProgram)
	require.ErrorIs(t, err, ErrBalanceFetch)
	assert.Equal(t, 1, fetcher.calls)
}

func TestBalanceRPCServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewBalanceClient(srv.URL).Balance(context.Background(), systemProgram)
	require.ErrorIs(t, err, ErrBalanceFetch)
}
