package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/store"
	"github.com/ValenciaLim/arcdrop/pkg/circleclient"
)

const (
	walletSetStateKey = "circle.wallet_set_id"
	walletSetName     = "ArcDrop Wallet Set"
)

// CircleAPI is the subset of the Circle client used here.
type CircleAPI interface {
	CreateWalletSet(ctx context.Context, name, ciphertext string) (string, error)
	CreateWallets(ctx context.Context, req circleclient.CreateWalletsRequest) ([]circleclient.Wallet, error)
	CreateTransfer(ctx context.Context, req circleclient.TransferRequest) (*circleclient.TransferResponse, error)
}

// CircleProvider provisions SCA wallets through Circle developer-controlled wallets.
type CircleProvider struct {
	client     CircleAPI
	ciphertext CiphertextSource
	state      store.ProviderStateStore
	blockchain string
	logger     *slog.Logger

	mu sync.Mutex
}

// NewCircleProvider creates a provider. blockchain, when set, overrides the per-network mapping.
func NewCircleProvider(client CircleAPI, ciphertext CiphertextSource, state store.ProviderStateStore, blockchain string, logger *slog.Logger) *CircleProvider {
	return &CircleProvider{
		client:     client,
		ciphertext: ciphertext,
		state:      state,
		blockchain: strings.TrimSpace(blockchain),
		logger:     logger,
	}
}

// EnsureWallet creates one SCA wallet on the network's blockchain.
func (p *CircleProvider) EnsureWallet(ctx context.Context, email string, network domain.Network) (*ProvisionedWallet, error) {
	if !network.Valid() {
		return nil, fmt.Errorf("unsupported network %q", network)
	}
	walletSetID, err := p.ensureWalletSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}
	ciphertext, err := p.ciphertext.Ciphertext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}

	wallets, err := p.client.CreateWallets(ctx, circleclient.CreateWalletsRequest{
		AccountType:            "SCA",
		Blockchains:            []string{blockchainFor(p.blockchain, network)},
		Count:                  1,
		WalletSetID:            walletSetID,
		EntitySecretCiphertext: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}
	if len(wallets) == 0 || wallets[0].ID == "" || wallets[0].Address == "" {
		return nil, fmt.Errorf("%w: circle returned no wallet", ErrProvisionFailed)
	}

	p.logger.Info("circle wallet created", "network", network, "provider_wallet_id", wallets[0].ID)
	return &ProvisionedWallet{
		ProviderID: wallets[0].ID,
		Address:    wallets[0].Address,
		Network:    network,
	}, nil
}

// ensureWalletSet loads the persisted wallet-set id or creates and stores one.
func (p *CircleProvider) ensureWalletSet(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.state.GetProviderState(ctx, walletSetStateKey)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, store.ErrProviderStateMissing) {
		return "", fmt.Errorf("load wallet set id: %w", err)
	}

	ciphertext, err := p.ciphertext.Ciphertext(ctx)
	if err != nil {
		return "", err
	}
	id, err = p.client.CreateWalletSet(ctx, walletSetName, ciphertext)
	if err != nil {
		return "", fmt.Errorf("create wallet set: %w", err)
	}
	if err := p.state.PutProviderState(ctx, walletSetStateKey, id); err != nil {
		return "", fmt.Errorf("store wallet set id: %w", err)
	}
	p.logger.Info("circle wallet set created", "wallet_set_id", id)
	return id, nil
}

// CircleTransferer moves USDC with Circle's transfer API.
type CircleTransferer struct {
	client     CircleAPI
	ciphertext CiphertextSource
	blockchain string
}

// NewCircleTransferer creates a transferer. blockchain, when set, overrides the per-network mapping.
func NewCircleTransferer(client CircleAPI, ciphertext CiphertextSource, blockchain string) *CircleTransferer {
	return &CircleTransferer{client: client, ciphertext: ciphertext, blockchain: strings.TrimSpace(blockchain)}
}

// Transfer sends amount from one wallet to another. Destinations without a Circle wallet id
// (placeholders, client-side modular wallets, withdraw targets) are addressed by raw address.
func (t *CircleTransferer) Transfer(ctx context.Context, from, to domain.Wallet, amount decimal.Decimal) (*TransferResult, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	ciphertext, err := t.ciphertext.Ciphertext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	resp, err := t.client.CreateTransfer(ctx, circleclient.TransferRequest{
		Source:                 circleclient.TransferSide{WalletID: from.ProviderWalletID},
		Destination:            destinationFor(to),
		Token:                  "USDC",
		Amount:                 amount.String(),
		Blockchain:             blockchainFor(t.blockchain, from.Network),
		EntitySecretCiphertext: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	// Circle only reports the hash once the transaction is broadcast.
	hash := resp.TxHash()
	if hash == "" {
		hash = resp.ID()
	}
	if hash == "" {
		return nil, fmt.Errorf("%w: circle returned no transaction reference", ErrTransferFailed)
	}
	return &TransferResult{TxHash: hash}, nil
}

// Balance is not tracked for Circle wallets; callers fall back to settled tips.
func (t *CircleTransferer) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func destinationFor(to domain.Wallet) circleclient.TransferSide {
	if to.Placeholder || to.ProviderWalletID == "" || strings.EqualFold(to.ProviderWalletID, to.Address) {
		return circleclient.TransferSide{Address: to.Address}
	}
	return circleclient.TransferSide{WalletID: to.ProviderWalletID}
}

func blockchainFor(override string, network domain.Network) string {
	if override != "" {
		return override
	}
	return network.CircleBlockchain()
}
