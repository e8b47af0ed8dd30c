package api

import (
	"errors"
	"net/http"

	"github.com/ValenciaLim/arcdrop/internal/app"
	"github.com/ValenciaLim/arcdrop/internal/store"
)

var notFoundErrors = []error{
	app.ErrLinkNotFound,
	store.ErrPaymentLinkNotFound,
	store.ErrCreatorNotFound,
	store.ErrTierNotFound,
	store.ErrSubscriptionNotFound,
	store.ErrUserNotFound,
	store.ErrTipNotFound,
	app.ErrWalletNotFound,
	store.ErrWalletNotFound,
}

var badRequestErrors = []error{
	app.ErrInvalidLinkType,
	app.ErrInvalidAmount,
	app.ErrTierMissing,
	app.ErrInvalidEmail,
	app.ErrInvalidHandle,
	app.ErrInvalidNetwork,
	app.ErrInvalidAddress,
	app.ErrInvalidTitle,
	app.ErrInvalidTierName,
	app.ErrInvalidInterval,
	app.ErrTierOwnership,
	app.ErrInvalidSubscriptionStatus,
	app.ErrBalanceLookupRequired,
	app.ErrSubscriptionNotActive,
	app.ErrRenewalNotDue,
}

// statusForError maps service errors onto an HTTP status and the message sent to the client.
// Server-side failures never leak the underlying error text.
func statusForError(err error) (int, string) {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return http.StatusNotFound, target.Error()
		}
	}
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, err.Error()
		}
	}

	switch {
	case errors.Is(err, app.ErrSettlementIncomplete):
		return http.StatusInternalServerError, "Payment sent but not recorded; do not retry"
	case errors.Is(err, app.ErrTransferFailed):
		return http.StatusBadGateway, "Transfer failed"
	case errors.Is(err, app.ErrProviderUnavailable):
		return http.StatusBadGateway, "Wallet provider unavailable"
	case errors.Is(err, app.ErrModularNotConfigured):
		return http.StatusServiceUnavailable, "Modular wallet client is not configured"
	case errors.Is(err, app.ErrIdempotencyInFlight):
		return http.StatusConflict, "A request with this Idempotency-Key is still in progress"
	}
	return http.StatusInternalServerError, "Internal server error"
}
