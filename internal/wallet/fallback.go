package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ValenciaLim/arcdrop/internal/domain"
)

// FallbackProvider wraps a Provider and substitutes a placeholder wallet when it fails.
// Placeholder wallets are valid addresses with no custody behind them; they are flagged so
// API consumers can tell them apart.
type FallbackProvider struct {
	inner  Provider
	logger *slog.Logger
	onFail func(network domain.Network)
}

// NewFallbackProvider wraps inner. onFail, if non-nil, is called for every substituted wallet.
func NewFallbackProvider(inner Provider, logger *slog.Logger, onFail func(network domain.Network)) *FallbackProvider {
	return &FallbackProvider{inner: inner, logger: logger, onFail: onFail}
}

// EnsureWallet delegates to the wrapped provider and falls back to a placeholder on error.
func (p *FallbackProvider) EnsureWallet(ctx context.Context, email string, network domain.Network) (*ProvisionedWallet, error) {
	if !network.Valid() {
		return nil, fmt.Errorf("unsupported network %q", network)
	}
	provisioned, err := p.inner.EnsureWallet(ctx, email, network)
	if err == nil {
		return provisioned, nil
	}

	p.logger.Warn("wallet provider failed; issuing placeholder wallet", "network", network, "error", err)
	if p.onFail != nil {
		p.onFail(network)
	}
	address, genErr := randomAddress()
	if genErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisionFailed, genErr)
	}
	return &ProvisionedWallet{
		ProviderID:  address,
		Address:     address,
		Network:     network,
		Placeholder: true,
	}, nil
}
