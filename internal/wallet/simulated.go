package wallet

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/store"
)

// DemoBalance is credited to every simulated wallet on creation.
var DemoBalance = decimal.NewFromInt(100)

// SimulatedProvider creates wallets backed by fresh secp256k1 keys. The keys are discarded;
// the simulated ledger is the only thing that ever moves funds for these addresses.
type SimulatedProvider struct {
	ledger store.LedgerStore
	logger *slog.Logger
}

// NewSimulatedProvider creates a provider for mock mode.
func NewSimulatedProvider(ledger store.LedgerStore, logger *slog.Logger) *SimulatedProvider {
	return &SimulatedProvider{ledger: ledger, logger: logger}
}

// EnsureWallet generates an address and seeds it with DemoBalance.
func (p *SimulatedProvider) EnsureWallet(ctx context.Context, _ string, network domain.Network) (*ProvisionedWallet, error) {
	if !network.Valid() {
		return nil, fmt.Errorf("unsupported network %q", network)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", ErrProvisionFailed, err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if err := p.ledger.SeedLedgerBalance(ctx, address, DemoBalance); err != nil {
		return nil, fmt.Errorf("%w: seed balance: %v", ErrProvisionFailed, err)
	}
	p.logger.Debug("simulated wallet created", "network", network, "address", address)
	return &ProvisionedWallet{ProviderID: address, Address: address, Network: network}, nil
}

// SimulatedTransferer moves balances inside the Postgres ledger.
type SimulatedTransferer struct {
	ledger store.LedgerStore
}

// NewSimulatedTransferer creates a ledger-backed transferer.
func NewSimulatedTransferer(ledger store.LedgerStore) *SimulatedTransferer {
	return &SimulatedTransferer{ledger: ledger}
}

// Transfer debits from (clamped at zero) and credits to, returning a random transaction hash.
func (t *SimulatedTransferer) Transfer(ctx context.Context, from, to domain.Wallet, amount decimal.Decimal) (*TransferResult, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if err := t.ledger.ApplyLedgerTransfer(ctx, from.Address, to.Address, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	hash, err := randomHash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return &TransferResult{TxHash: hash}, nil
}

// Balance reads the simulated ledger.
func (t *SimulatedTransferer) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	return t.ledger.GetLedgerBalance(ctx, address)
}

func randomHash() (string, error) {
	var b [common.HashLength]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return common.BytesToHash(b[:]).Hex(), nil
}

func randomAddress() (string, error) {
	var b [common.AddressLength]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return common.BytesToAddress(b[:]).Hex(), nil
}
