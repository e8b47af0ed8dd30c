package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/store"
	"github.com/ValenciaLim/arcdrop/pkg/circleclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	err      error
}

func newMemLedger() *memLedger {
	return &memLedger{balances: map[string]decimal.Decimal{}}
}

func (l *memLedger) SeedLedgerBalance(_ context.Context, address string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := strings.ToLower(address)
	if _, ok := l.balances[key]; !ok {
		l.balances[key] = amount
	}
	return nil
}

func (l *memLedger) GetLedgerBalance(_ context.Context, address string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[strings.ToLower(address)], nil
}

func (l *memLedger) ApplyLedgerTransfer(_ context.Context, from, to string, amount decimal.Decimal) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromKey, toKey := strings.ToLower(from), strings.ToLower(to)
	next := l.balances[fromKey].Sub(amount)
	if next.IsNegative() {
		next = decimal.Zero
	}
	l.balances[fromKey] = next
	l.balances[toKey] = l.balances[toKey].Add(amount)
	return nil
}

type memState struct {
	values map[string]string
}

func (s *memState) GetProviderState(_ context.Context, key string) (string, error) {
	v, ok := s.values[key]
	if !ok {
		return "", store.ErrProviderStateMissing
	}
	return v, nil
}

func (s *memState) PutProviderState(_ context.Context, key, value string) error {
	s.values[key] = value
	return nil
}

type fakeCircle struct {
	walletSets    int
	walletReqs    []circleclient.CreateWalletsRequest
	transferReqs  []circleclient.TransferRequest
	walletErr     error
	transferErr   error
	transferReply *circleclient.TransferResponse
}

func (f *fakeCircle) CreateWalletSet(context.Context, string, string) (string, error) {
	f.walletSets++
	return "ws-1", nil
}

func (f *fakeCircle) CreateWallets(_ context.Context, req circleclient.CreateWalletsRequest) ([]circleclient.Wallet, error) {
	f.walletReqs = append(f.walletReqs, req)
	if f.walletErr != nil {
		return nil, f.walletErr
	}
	return []circleclient.Wallet{{ID: "circle-wallet", Address: "0x00000000000000000000000000000000000000c1"}}, nil
}

func (f *fakeCircle) CreateTransfer(_ context.Context, req circleclient.TransferRequest) (*circleclient.TransferResponse, error) {
	f.transferReqs = append(f.transferReqs, req)
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	return f.transferReply, nil
}

func TestSimulatedProvider_SeedsDemoBalance(t *testing.T) {
	ledger := newMemLedger()
	provider := NewSimulatedProvider(ledger, testLogger())

	w, err := provider.EnsureWallet(context.Background(), "fan@example.com", domain.NetworkBase)
	require.NoError(t, err)
	assert.True(t, IsAddress(w.Address))
	assert.Equal(t, w.Address, w.ProviderID)
	assert.False(t, w.Placeholder)

	balance, err := ledger.GetLedgerBalance(context.Background(), w.Address)
	require.NoError(t, err)
	assert.True(t, balance.Equal(DemoBalance))
}

func TestSimulatedProvider_RejectsUnknownNetwork(t *testing.T) {
	provider := NewSimulatedProvider(newMemLedger(), testLogger())
	_, err := provider.EnsureWallet(context.Background(), "x@example.com", domain.Network("SOLANA"))
	require.Error(t, err)
}

func TestSimulatedTransferer(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	from := domain.Wallet{Address: "0x00000000000000000000000000000000000000aa"}
	to := domain.Wallet{Address: "0x00000000000000000000000000000000000000bb"}
	require.NoError(t, ledger.SeedLedgerBalance(ctx, from.Address, decimal.NewFromInt(5)))

	transferer := NewSimulatedTransferer(ledger)

	t.Run("clamps the sender at zero", func(t *testing.T) {
		res, err := transferer.Transfer(ctx, from, to, decimal.NewFromInt(10))
		require.NoError(t, err)
		assert.Len(t, res.TxHash, 66)
		assert.True(t, strings.HasPrefix(res.TxHash, "0x"))

		fromBal, _ := transferer.Balance(ctx, from.Address)
		toBal, _ := transferer.Balance(ctx, to.Address)
		assert.True(t, fromBal.IsZero())
		assert.True(t, toBal.Equal(decimal.NewFromInt(10)))
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := transferer.Transfer(ctx, from, to, decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidTransferAmount)
		_, err = transferer.Transfer(ctx, from, to, decimal.NewFromInt(-1))
		assert.ErrorIs(t, err, ErrInvalidTransferAmount)
	})

	t.Run("wraps ledger failures", func(t *testing.T) {
		broken := newMemLedger()
		broken.err = errors.New("db down")
		_, err := NewSimulatedTransferer(broken).Transfer(ctx, from, to, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrTransferFailed)
	})
}

func TestCircleProvider_PersistsWalletSet(t *testing.T) {
	ctx := context.Background()
	api := &fakeCircle{}
	state := &memState{values: map[string]string{}}
	provider := NewCircleProvider(api, StaticCiphertext("cipher"), state, "", testLogger())

	first, err := provider.EnsureWallet(ctx, "a@example.com", domain.NetworkPolygon)
	require.NoError(t, err)
	_, err = provider.EnsureWallet(ctx, "b@example.com", domain.NetworkAvalanche)
	require.NoError(t, err)

	assert.Equal(t, "circle-wallet", first.ProviderID)
	assert.Equal(t, 1, api.walletSets, "wallet set must be created once and reused")
	assert.Equal(t, "ws-1", state.values[walletSetStateKey])
	require.Len(t, api.walletReqs, 2)
	assert.Equal(t, []string{"MATIC-AMOY"}, api.walletReqs[0].Blockchains)
	assert.Equal(t, []string{"AVAX-FUJI"}, api.walletReqs[1].Blockchains)
	assert.Equal(t, "SCA", api.walletReqs[0].AccountType)
}

func TestCircleProvider_BlockchainOverride(t *testing.T) {
	api := &fakeCircle{}
	provider := NewCircleProvider(api, StaticCiphertext("cipher"), &memState{values: map[string]string{}}, "ARC-TESTNET", testLogger())

	_, err := provider.EnsureWallet(context.Background(), "a@example.com", domain.NetworkBase)
	require.NoError(t, err)
	assert.Equal(t, []string{"ARC-TESTNET"}, api.walletReqs[0].Blockchains)
}

func TestCircleProvider_MissingCiphertext(t *testing.T) {
	provider := NewCircleProvider(&fakeCircle{}, StaticCiphertext(""), &memState{values: map[string]string{}}, "", testLogger())
	_, err := provider.EnsureWallet(context.Background(), "a@example.com", domain.NetworkBase)
	assert.ErrorIs(t, err, ErrProvisionFailed)
}

func TestFallbackProvider(t *testing.T) {
	api := &fakeCircle{walletErr: errors.New("circle unavailable")}
	inner := NewCircleProvider(api, StaticCiphertext("cipher"), &memState{values: map[string]string{}}, "", testLogger())

	var failures []domain.Network
	provider := NewFallbackProvider(inner, testLogger(), func(n domain.Network) { failures = append(failures, n) })

	w, err := provider.EnsureWallet(context.Background(), "a@example.com", domain.NetworkBase)
	require.NoError(t, err)
	assert.True(t, w.Placeholder)
	assert.True(t, IsAddress(w.Address))
	assert.Equal(t, w.Address, w.ProviderID)
	assert.Equal(t, []domain.Network{domain.NetworkBase}, failures)
}

func TestFallbackProvider_PassesThroughSuccess(t *testing.T) {
	provider := NewFallbackProvider(NewSimulatedProvider(newMemLedger(), testLogger()), testLogger(), nil)
	w, err := provider.EnsureWallet(context.Background(), "a@example.com", domain.NetworkPolygon)
	require.NoError(t, err)
	assert.False(t, w.Placeholder)
}

func TestCircleTransferer(t *testing.T) {
	ctx := context.Background()
	from := domain.Wallet{ProviderWalletID: "w-from", Address: "0x00000000000000000000000000000000000000aa", Network: domain.NetworkBase}
	to := domain.Wallet{ProviderWalletID: "w-to", Address: "0x00000000000000000000000000000000000000bb", Network: domain.NetworkBase}

	t.Run("sends wallet ids and returns hash", func(t *testing.T) {
		reply := &circleclient.TransferResponse{}
		reply.Data.TxHash = "0xfeed"
		api := &fakeCircle{transferReply: reply}

		res, err := NewCircleTransferer(api, StaticCiphertext("cipher"), "").Transfer(ctx, from, to, decimal.RequireFromString("2.5"))
		require.NoError(t, err)
		assert.Equal(t, "0xfeed", res.TxHash)

		req := api.transferReqs[0]
		assert.Equal(t, "w-from", req.Source.WalletID)
		assert.Equal(t, "w-to", req.Destination.WalletID)
		assert.Equal(t, "USDC", req.Token)
		assert.Equal(t, "2.5", req.Amount)
		assert.Equal(t, "BASE-SEPOLIA", req.Blockchain)
	})

	t.Run("addresses placeholder destinations by address", func(t *testing.T) {
		reply := &circleclient.TransferResponse{}
		reply.Data.ID = "transfer-1"
		api := &fakeCircle{transferReply: reply}
		placeholder := domain.Wallet{ProviderWalletID: to.Address, Address: to.Address, Placeholder: true}

		res, err := NewCircleTransferer(api, StaticCiphertext("cipher"), "").Transfer(ctx, from, placeholder, decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.Equal(t, "transfer-1", res.TxHash)
		assert.Equal(t, to.Address, api.transferReqs[0].Destination.Address)
		assert.Empty(t, api.transferReqs[0].Destination.WalletID)
	})

	t.Run("wraps upstream errors", func(t *testing.T) {
		api := &fakeCircle{transferErr: errors.New("502")}
		_, err := NewCircleTransferer(api, StaticCiphertext("cipher"), "").Transfer(ctx, from, to, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrTransferFailed)
	})

	t.Run("validates amount before calling circle", func(t *testing.T) {
		api := &fakeCircle{}
		_, err := NewCircleTransferer(api, StaticCiphertext("cipher"), "").Transfer(ctx, from, to, decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidTransferAmount)
		assert.Empty(t, api.transferReqs)
	})
}
