/**
 * @description
 * Request bodies accepted by the HTTP API and the shared decode/validate helper.
 * Field names match the JSON the web client already sends.
 *
 * @dependencies
 * - go-playground/validator/v10: struct tag validation.
 * - shopspring/decimal: USDC amounts, accepted as JSON numbers or strings.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/domain"
)

const maxBodyBytes = 1 << 20

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("network", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseNetwork(fl.Field().String())
		return err == nil
	})
}

type createCreatorRequest struct {
	Email       string  `json:"email" validate:"required,email"`
	DisplayName string  `json:"displayName" validate:"required,min=2"`
	Handle      string  `json:"handle" validate:"required,min=2"`
	Bio         *string `json:"bio" validate:"omitempty,max=280"`
	AvatarURL   *string `json:"avatarUrl" validate:"omitempty,url"`
}

type createPaymentLinkRequest struct {
	CreatorID   string           `json:"creatorId" validate:"required,uuid"`
	Type        string           `json:"type" validate:"required,oneof=TIP SUBSCRIPTION"`
	Title       string           `json:"title" validate:"required,min=2"`
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	TierID      *string          `json:"tierId" validate:"omitempty,uuid"`
	Metadata    json.RawMessage  `json:"metadata"`
}

type payRequest struct {
	LinkSlug      string           `json:"linkSlug" validate:"required,min=4"`
	UserEmail     string           `json:"userEmail" validate:"required,email"`
	WalletAddress string           `json:"walletAddress" validate:"required,eth_addr"`
	Amount        *decimal.Decimal `json:"amount"`
	Network       string           `json:"network" validate:"omitempty,network"`
}

type createTierRequest struct {
	CreatorID    string          `json:"creatorId" validate:"required,uuid"`
	Name         string          `json:"name" validate:"required,min=2"`
	Description  *string         `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	IntervalDays int             `json:"intervalDays" validate:"required,gt=0"`
}

type updateSubscriptionRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE PAUSED CANCELLED"`
}

type initWalletRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Network string `json:"network" validate:"omitempty,network"`
}

type balanceRequest struct {
	Email         string `json:"email" validate:"omitempty,email"`
	WalletAddress string `json:"walletAddress" validate:"omitempty,eth_addr"`
}

type withdrawRequest struct {
	Email         string          `json:"email" validate:"required,email"`
	WalletAddress string          `json:"walletAddress" validate:"required,eth_addr"`
	ToAddress     string          `json:"toAddress" validate:"required,eth_addr"`
	Amount        decimal.Decimal `json:"amount"`
}

type syncWalletRequest struct {
	Email         string `json:"email" validate:"required,email"`
	WalletAddress string `json:"walletAddress" validate:"required,eth_addr"`
	Network       string `json:"network" validate:"required,network"`
}

type bridgeRequest struct {
	Amount             decimal.Decimal `json:"amount"`
	SourceNetwork      string          `json:"sourceNetwork" validate:"required,network"`
	DestinationNetwork string          `json:"destinationNetwork" validate:"required,network"`
}

// decodeJSON reads a bounded JSON body into dst and runs struct validation.
// The returned error is safe to show to the client.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("Invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validation failed: %v", err)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "email":
		return fmt.Errorf("%s must be a valid email", fe.Field())
	case "eth_addr":
		return fmt.Errorf("Invalid %s", fe.Field())
	case "uuid":
		return fmt.Errorf("%s must be a valid id", fe.Field())
	case "network":
		return fmt.Errorf("%s must be one of BASE, POLYGON, AVALANCHE", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Errorf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "gt":
		return fmt.Errorf("%s must be greater than %s", fe.Field(), fe.Param())
	}
	return fmt.Errorf("%s is invalid", fe.Field())
}
