package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/bridge"
	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/store"
	"github.com/ValenciaLim/arcdrop/internal/wallet"
)

// InitWalletResult identifies the user and the wallet they were given.
type InitWalletResult struct {
	UserID uuid.UUID     `json:"userId"`
	Wallet domain.Wallet `json:"wallet"`
}

// WithdrawRequest moves funds from one of the caller's wallets to an external address.
type WithdrawRequest struct {
	Email         string
	WalletAddress string
	ToAddress     string
	Amount        decimal.Decimal
}

// WithdrawResult reports a completed withdrawal.
type WithdrawResult struct {
	Success bool   `json:"success"`
	TxID    string `json:"txId"`
}

// InitWallet returns the user's wallet on network, provisioning one when needed.
func (s *Service) InitWallet(ctx context.Context, email string, network domain.Network) (*InitWalletResult, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	network, err := normalizeNetwork(network)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetOrCreateUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	w, err := s.ensureUserWallet(ctx, user, network)
	if err != nil {
		return nil, err
	}
	if w.Placeholder {
		s.logger.Warn("issued placeholder wallet", "user_id", user.ID, "network", network)
	}
	return &InitWalletResult{UserID: user.ID, Wallet: *w}, nil
}

// SyncWallet records a client-side modular wallet. The address doubles as the provider id.
func (s *Service) SyncWallet(ctx context.Context, email, address string, network domain.Network) (*domain.Wallet, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	address = strings.TrimSpace(address)
	if !wallet.IsAddress(address) {
		return nil, ErrInvalidAddress
	}
	if !network.Valid() {
		return nil, ErrInvalidNetwork
	}
	user, err := s.repo.GetOrCreateUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.repo.UpsertWallet(ctx, &domain.Wallet{
		UserID:           user.ID,
		Address:          address,
		ProviderWalletID: address,
		Network:          network,
	})
}

// WalletBalance reports the USDC balance for an address, or for the first wallet of the user
// owning email. A creator address with an empty ledger falls back to their settled tips.
func (s *Service) WalletBalance(ctx context.Context, email, address string) (*domain.WalletBalance, error) {
	address = strings.TrimSpace(address)
	email = strings.TrimSpace(email)
	switch {
	case address != "":
		return s.addressBalance(ctx, address)
	case email != "":
		return s.emailBalance(ctx, email)
	default:
		return nil, ErrBalanceLookupRequired
	}
}

func (s *Service) addressBalance(ctx context.Context, address string) (*domain.WalletBalance, error) {
	var wallets []domain.WalletSummary
	stored, err := s.repo.FindWalletByAddress(ctx, address)
	switch {
	case err == nil:
		wallets = []domain.WalletSummary{stored.Summary()}
	case errors.Is(err, store.ErrWalletNotFound):
	default:
		return nil, err
	}

	usdc, err := s.transferer.Balance(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("balance lookup: %w", err)
	}
	if usdc.IsZero() && stored != nil {
		creator, err := s.repo.FindCreatorByUserID(ctx, stored.UserID)
		if err == nil {
			if usdc, err = s.repo.SumSettledTipsByCreator(ctx, creator.ID); err != nil {
				return nil, fmt.Errorf("sum settled tips: %w", err)
			}
		} else if !errors.Is(err, store.ErrCreatorNotFound) {
			return nil, err
		}
	}

	balance := domain.NewWalletBalance(usdc, wallets)
	balance.WalletAddress = address
	return balance, nil
}

func (s *Service) emailBalance(ctx context.Context, email string) (*domain.WalletBalance, error) {
	var wallets []domain.Wallet
	user, err := s.repo.FindUserByEmail(ctx, normalizeEmail(email))
	switch {
	case err == nil:
		if wallets, err = s.repo.ListWalletsByUser(ctx, user.ID); err != nil {
			return nil, err
		}
	case errors.Is(err, store.ErrUserNotFound):
	default:
		return nil, err
	}

	usdc := decimal.Zero
	if len(wallets) > 0 {
		if usdc, err = s.transferer.Balance(ctx, wallets[0].Address); err != nil {
			return nil, fmt.Errorf("balance lookup: %w", err)
		}
	}
	balance := domain.NewWalletBalance(usdc, summaries(wallets))
	balance.Email = email
	return balance, nil
}

// Withdraw sends amount from a wallet owned by the user behind email to an external address.
// A wallet held by anyone else is reported as not found.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	from := strings.TrimSpace(req.WalletAddress)
	to := strings.TrimSpace(req.ToAddress)
	if !wallet.IsAddress(from) || !wallet.IsAddress(to) {
		return nil, ErrInvalidAddress
	}
	if !domain.ValidUSDCAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}

	owner, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	source, err := s.repo.FindWalletByAddress(ctx, from)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if source.UserID != owner.ID {
		s.logger.Warn("withdrawal rejected for wallet owned by another user", "wallet_id", source.ID, "user_id", owner.ID)
		return nil, ErrWalletNotFound
	}
	destination := domain.Wallet{Address: to, ProviderWalletID: to, Network: source.Network, Placeholder: true}

	transfer, err := s.transfer(ctx, *source, destination, req.Amount)
	if err != nil {
		s.metrics.PaymentProcessed("withdrawal", "failed", string(source.Network))
		return nil, err
	}
	s.metrics.PaymentProcessed("withdrawal", "sent", string(source.Network))
	s.logger.Info("withdrawal sent", "wallet_id", source.ID, "amount", req.Amount.String(), "tx_hash", transfer.TxHash)
	return &WithdrawResult{Success: true, TxID: transfer.TxHash}, nil
}

// ModularConfig returns the browser-side modular wallet settings.
func (s *Service) ModularConfig() (*ModularSettings, error) {
	cfg := s.opts.Modular
	if strings.TrimSpace(cfg.ClientURL) == "" || strings.TrimSpace(cfg.ClientKey) == "" {
		return nil, ErrModularNotConfigured
	}
	if cfg.DefaultChain == "" {
		cfg.DefaultChain = domain.DefaultNetwork.ModularChain()
	}
	return &cfg, nil
}

// Bridge moves USDC across networks. A same-network request is a no-op and skips amount checks.
func (s *Service) Bridge(ctx context.Context, amount decimal.Decimal, source, destination domain.Network) (*bridge.Result, error) {
	if !source.Valid() || !destination.Valid() {
		return nil, ErrInvalidNetwork
	}
	if source != destination && !domain.ValidUSDCAmount(amount) {
		return nil, ErrInvalidAmount
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	start := s.now()
	res, err := s.bridger.Bridge(callCtx, amount, source, destination)
	s.metrics.ObserveLatency("bridge", string(source), s.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("bridge %s -> %s: %w", source, destination, err)
	}
	return res, nil
}
