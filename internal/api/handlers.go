/**
 * @description
 * This file contains the HTTP handlers for the arcdrop API. Handlers parse and
 * validate the request, call the payments service and write the JSON response.
 * Every error body has the shape {"message": "..."}.
 *
 * @dependencies
 * - go-chi/chi/v5: URL parameters.
 * - internal/app: the payments and registry service.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/app"
	"github.com/ValenciaLim/arcdrop/internal/bridge"
	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/store"
)

// PaymentService is the slice of app.Service the handlers depend on.
type PaymentService interface {
	CreateCreator(ctx context.Context, req app.CreateCreatorRequest) (*domain.CreatorProfile, bool, error)
	FindCreatorByEmail(ctx context.Context, email string) (*domain.CreatorProfile, error)
	GetCreatorPage(ctx context.Context, idOrHandle string) (*domain.CreatorPage, error)
	CreatorWallets(ctx context.Context, creatorID uuid.UUID) ([]domain.WalletSummary, error)
	CreatePaymentLink(ctx context.Context, req app.CreatePaymentLinkRequest) (*domain.PaymentLink, error)
	GetPaymentLink(ctx context.Context, slug string) (*domain.PaymentLink, error)
	CreateTier(ctx context.Context, req app.CreateTierRequest) (*domain.SubscriptionTier, error)
	DeleteTier(ctx context.Context, tierID uuid.UUID) (*store.TierDeletion, error)
	ListSubscribers(ctx context.Context, tierID uuid.UUID) ([]domain.Subscriber, error)
	GetSubscription(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, subscriptionID uuid.UUID, rawStatus string) (*domain.Subscription, error)

	Pay(ctx context.Context, req app.PaymentRequest) (*app.PaymentResult, error)
	ProcessTip(ctx context.Context, req app.PaymentRequest) (*app.TipResult, error)
	ProcessSubscription(ctx context.Context, req app.PaymentRequest) (*app.SubscriptionResult, error)

	InitWallet(ctx context.Context, email string, network domain.Network) (*app.InitWalletResult, error)
	SyncWallet(ctx context.Context, email, address string, network domain.Network) (*domain.Wallet, error)
	WalletBalance(ctx context.Context, email, address string) (*domain.WalletBalance, error)
	Withdraw(ctx context.Context, req app.WithdrawRequest) (*app.WithdrawResult, error)
	ModularConfig() (*app.ModularSettings, error)
	Bridge(ctx context.Context, amount decimal.Decimal, source, destination domain.Network) (*bridge.Result, error)
}

// RateLimiter counts hits per subject within a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service      PaymentService
	limiter      RateLimiter
	payRateLimit int
	logger       *slog.Logger
}

// NewHandlers creates the API handlers. A nil limiter or a non-positive payRateLimit
// disables the per-payer limit on payment endpoints.
func NewHandlers(service PaymentService, limiter RateLimiter, payRateLimit int, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:      service,
		limiter:      limiter,
		payRateLimit: payRateLimit,
		logger:       logger,
	}
}

// HealthHandler reports liveness.
func (h *Handlers) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("healthy"))
}

// CreateCreatorHandler onboards a creator, returning the existing profile when there is one.
func (h *Handlers) CreateCreatorHandler(w http.ResponseWriter, r *http.Request) {
	var req createCreatorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, "create_creator", err)
		return
	}

	creator, existing, err := h.service.CreateCreator(r.Context(), app.CreateCreatorRequest{
		Email:       req.Email,
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		h.handleError(w, "create_creator", err)
		return
	}
	if existing {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"creator": creator, "message": "Creator already exists"})
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"creator": creator})
}

// FindCreatorHandler looks a creator up by the owner's email. A missing creator is not an error.
func (h *Handlers) FindCreatorHandler(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		h.writeError(w, http.StatusBadRequest, "Email parameter is required")
		return
	}

	creator, err := h.service.FindCreatorByEmail(r.Context(), email)
	if err != nil {
		h.handleError(w, "find_creator", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"creator": creator})
}

// GetCreatorPageHandler returns the public creator page by id or handle.
func (h *Handlers) GetCreatorPageHandler(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.GetCreatorPage(r.Context(), chi.URLParam(r, "idOrHandle"))
	if err != nil {
		h.handleError(w, "get_creator_page", err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

// CreatorWalletsHandler lists a creator's wallets.
func (h *Handlers) CreatorWalletsHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}

	wallets, err := h.service.CreatorWallets(r.Context(), creatorID)
	if err != nil {
		h.handleError(w, "creator_wallets", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"wallets": wallets})
}

// CreatePaymentLinkHandler publishes a new tip or subscription link.
func (h *Handlers) CreatePaymentLinkHandler(w http.ResponseWriter, r *http.Request) {
	var req createPaymentLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, "create_payment_link", err)
		return
	}

	creatorID, _ := uuid.Parse(req.CreatorID)
	params := app.CreatePaymentLinkRequest{
		CreatorID:   creatorID,
		Type:        domain.PaymentLinkType(req.Type),
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
		Metadata:    req.Metadata,
	}
	if req.TierID != nil {
		tierID, _ := uuid.Parse(*req.TierID)
		params.TierID = &tierID
	}

	link, err := h.service.CreatePaymentLink(r.Context(), params)
	if err != nil {
		h.handleError(w, "create_payment_link", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"link": link})
}

// GetPaymentLinkHandler resolves a link slug with its creator and tier.
func (h *Handlers) GetPaymentLinkHandler(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.GetPaymentLink(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.handleError(w, "get_payment_link", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"link": link})
}

// PayHandler dispatches a payment to the tip or subscription flow based on the link type.
func (h *Handlers) PayHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.paymentRequest(w, r, "pay")
	if !ok {
		return
	}

	result, err := h.service.Pay(r.Context(), req)
	if err != nil {
		h.handleError(w, "pay", err)
		return
	}
	h.logger.Info("payment accepted", "endpoint", "pay", "link_slug", req.LinkSlug, "type", result.Type)
	h.writeJSON(w, http.StatusOK, result)
}

// TipHandler runs the tip flow and rejects subscription links.
func (h *Handlers) TipHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.paymentRequest(w, r, "tip")
	if !ok {
		return
	}

	result, err := h.service.ProcessTip(r.Context(), req)
	if err != nil {
		h.handleError(w, "tip", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// SubscribeHandler runs the subscription flow and rejects tip links.
func (h *Handlers) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.paymentRequest(w, r, "subscribe")
	if !ok {
		return
	}

	result, err := h.service.ProcessSubscription(r.Context(), req)
	if err != nil {
		h.handleError(w, "subscribe", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// CreateTierHandler adds a subscription tier to a creator.
func (h *Handlers) CreateTierHandler(w http.ResponseWriter, r *http.Request) {
	var req createTierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, "create_tier", err)
		return
	}

	creatorID, _ := uuid.Parse(req.CreatorID)
	tier, err := h.service.CreateTier(r.Context(), app.CreateTierRequest{
		CreatorID:    creatorID,
		Name:         req.Name,
		Description:  req.Description,
		Amount:       req.Amount,
		IntervalDays: req.IntervalDays,
	})
	if err != nil {
		h.handleError(w, "create_tier", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"tier": tier})
}

// DeleteTierHandler removes a tier together with its subscriptions and links.
func (h *Handlers) DeleteTierHandler(w http.ResponseWriter, r *http.Request) {
	tierID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}

	deleted, err := h.service.DeleteTier(r.Context(), tierID)
	if err != nil {
		h.handleError(w, "delete_tier", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// ListSubscribersHandler lists a tier's subscribers, newest first.
func (h *Handlers) ListSubscribersHandler(w http.ResponseWriter, r *http.Request) {
	tierID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}

	subscribers, err := h.service.ListSubscribers(r.Context(), tierID)
	if err != nil {
		h.handleError(w, "list_subscribers", err)
		return
	}
	if subscribers == nil {
		subscribers = []domain.Subscriber{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"subscribers": subscribers})
}

// GetSubscriptionHandler returns a subscription's status and next billing date.
func (h *Handlers) GetSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	subscriptionID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}

	subscription, err := h.service.GetSubscription(r.Context(), subscriptionID)
	if err != nil {
		h.handleError(w, "get_subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"subscription": subscription})
}

// UpdateSubscriptionHandler pauses, cancels or reactivates a subscription.
func (h *Handlers) UpdateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	subscriptionID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req updateSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, "update_subscription", err)
		return
	}

	subscription, err := h.service.UpdateSubscriptionStatus(r.Context(), subscriptionID, req.Status)
	if err != nil {
		h.handleError(w, "update_subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"subscription": subscription})
}

// InitWalletHandler returns (or provisions) the user's custodial wallet on a network.
func (h *Handlers) InitWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req initWalletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, "wallet_init", err)
		return
	}

	result, err := h.service.InitWallet(r.Context(), req.Email, domain.Network(req.Network))
	if err != nil {
		h.handleError(w, "wallet_init", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// WalletBalanceHandler reports the USDC balance for an email or a wallet address.
func (h *Handlers) WalletBalanceHandler(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, "wallet_balance", err)
		return
	}

	balance, err := h.service.WalletBalance(r.Context(), req.Email, req.WalletAddress)
	if err != nil {
		h.handleError(w, "wallet_balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// WithdrawHandler moves USDC from a stored wallet to an external address.
func (h *Handlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, "wallet_withdraw", err)
		return
	}

	result, err := h.service.Withdraw(r.Context(), app.WithdrawRequest{
		Email:         req.Email,
		WalletAddress: req.WalletAddress,
		ToAddress:     req.ToAddress,
		Amount:        req.Amount,
	})
	if err != nil {
		h.handleError(w, "wallet_withdraw", err)
		return
	}
	h.logger.Info("withdrawal completed", "endpoint", "wallet_withdraw", "wallet_address", req.WalletAddress, "tx_id", result.TxID)
	h.writeJSON(w, http.StatusOK, result)
}

// SyncModularWalletHandler records a client-side modular wallet for a user.
func (h *Handlers) SyncModularWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req syncWalletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, "modular_wallet", err)
		return
	}

	wallet, err := h.service.SyncWallet(r.Context(), req.Email, req.WalletAddress, domain.Network(req.Network))
	if err != nil {
		h.handleError(w, "modular_wallet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "wallet": wallet.Summary()})
}

// ModularConfigHandler hands the modular wallet client settings to the browser.
func (h *Handlers) ModularConfigHandler(w http.ResponseWriter, _ *http.Request) {
	settings, err := h.service.ModularConfig()
	if err != nil {
		h.handleError(w, "modular_config", err)
		return
	}
	h.writeJSON(w, http.StatusOK, settings)
}

// BridgeHandler moves USDC across networks and reports the bridge steps.
func (h *Handlers) BridgeHandler(w http.ResponseWriter, r *http.Request) {
	var req bridgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, "cctp_transfer", err)
		return
	}

	result, err := h.service.Bridge(r.Context(), req.Amount, domain.Network(req.SourceNetwork), domain.Network(req.DestinationNetwork))
	if err != nil {
		h.handleError(w, "cctp_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// paymentRequest decodes a payment body and applies the per-payer rate limit.
func (h *Handlers) paymentRequest(w http.ResponseWriter, r *http.Request, endpoint string) (app.PaymentRequest, bool) {
	var req payRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, endpoint, err)
		return app.PaymentRequest{}, false
	}
	if !h.allowPayment(w, r, endpoint, req.UserEmail) {
		return app.PaymentRequest{}, false
	}

	return app.PaymentRequest{
		LinkSlug:      req.LinkSlug,
		Email:         req.UserEmail,
		WalletAddress: req.WalletAddress,
		Network:       domain.Network(req.Network),
		Amount:        req.Amount,
	}, true
}

// allowPayment fails open when the limiter itself errors.
func (h *Handlers) allowPayment(w http.ResponseWriter, r *http.Request, endpoint, email string) bool {
	if h.limiter == nil || h.payRateLimit <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "pay", email, h.payRateLimit, time.Minute)
	if err != nil {
		h.logger.Warn("rate limiter unavailable", "endpoint", endpoint, "error", err)
		return true
	}
	if count > h.payRateLimit {
		h.logger.Warn("request rejected", "endpoint", endpoint, "reason", "rate_limited", "retry_after", retryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many payment attempts. Please wait and try again.")
		return false
	}
	return true
}

func (h *Handlers) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) reject(w http.ResponseWriter, endpoint string, err error) {
	h.logger.Warn("request rejected", "endpoint", endpoint, "reason", "invalid_request", "error", err)
	h.writeError(w, http.StatusBadRequest, err.Error())
}

func (h *Handlers) handleError(w http.ResponseWriter, endpoint string, err error) {
	status, message := statusForError(err)
	if errors.Is(err, app.ErrSettlementIncomplete) {
		w.Header().Set(SettlementHeader, settlementIncomplete)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "endpoint", endpoint, "status", status, "error", err)
	} else {
		h.logger.Warn("request rejected", "endpoint", endpoint, "status", status, "error", err)
	}
	h.writeError(w, status, message)
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write json response", "error", err)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"message": message})
}
