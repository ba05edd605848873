package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/payments"
	"creditgate/pkg/logging"
	"creditgate/pkg/middleware"
)

// CreatePayment starts a new credit purchase: resolves the price, converts
// it at the current settlement rate, issues a one-time receiving address and
// records the payment as pending.
func CreatePayment(c middleware.Context) {
	ownerID := c.GetString("user_id")
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Authentication required"})
		return
	}

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	var creditsAmount, priceCents int64
	switch {
	case req.PackageID != "":
		pkg, err := PackageByID(req.PackageID)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		creditsAmount = pkg.Credits
		priceCents = pkg.PriceCents
	case req.Credits > 0:
		creditsAmount = req.Credits
		priceCents = req.Credits * pricing.CreditPriceCent
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "package_id or credits required"})
		return
	}

	rate, err := rates.Rate(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Settlement rate unavailable")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Settlement rate unavailable"})
		return
	}

	expectedAmount, err := asset.UnitsForPrice(priceCents, rate)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"price_cents": priceCents,
			"rate":        rate,
		}).Error("Price conversion failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to price payment"})
		return
	}

	address, credential, err := issuer.Issue(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Failed to issue receiving address")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to issue receiving address"})
		return
	}

	p := &payments.Payment{
		ID:                uuid.New().String(),
		OwnerID:           ownerID,
		CreditsAmount:     creditsAmount,
		PriceCents:        priceCents,
		PricingCurrency:   pricing.Currency,
		Asset:             asset.Symbol,
		ExpectedAmount:    expectedAmount,
		SettlementRate:    rate,
		ReceivingAddress:  address,
		SigningCredential: credential,
		Status:            payments.StatusPending,
		ExpiresAt:         time.Now().Add(time.Duration(pricing.ExpiryMinutes) * time.Minute),
	}
	if err := store.Create(c.Request.Context(), p); err != nil {
		logger.WithError(err).WithField("owner_id", ownerID).Error("Failed to create payment")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create payment"})
		return
	}

	if metrics != nil {
		metrics.PaymentsTotal.WithLabelValues(asset.Symbol, string(payments.StatusPending)).Inc()
	}

	logger.WithFields(logging.Fields{
		"payment_id":      p.ID,
		"owner_id":        ownerID,
		"credits":         creditsAmount,
		"price_cents":     priceCents,
		"asset":           asset.Symbol,
		"expected_amount": expectedAmount,
		"address":         address,
	}).Info("Created payment")

	c.JSON(http.StatusCreated, CreatePaymentResponse{
		PaymentID:        p.ID,
		ReceivingAddress: address,
		Asset:            asset.Symbol,
		ExpectedAmount:   expectedAmount,
		ExpectedCoins:    asset.FormatCoins(expectedAmount),
		Credits:          creditsAmount,
		PriceCents:       priceCents,
		PricingCurrency:  pricing.Currency,
		SettlementRate:   rate,
		ExpiresAt:        p.ExpiresAt,
	})
}

// GetPayment returns one payment, scoped to its owner.
func GetPayment(c middleware.Context) {
	ownerID := c.GetString("user_id")
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Authentication required"})
		return
	}

	paymentID := c.Param("id")
	p, err := store.GetByIDForOwner(c.Request.Context(), paymentID, ownerID)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Payment not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to load payment")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load payment"})
		return
	}

	c.JSON(http.StatusOK, p)
}

// ListPayments returns the owner's payments, newest first.
func ListPayments(c middleware.Context) {
	ownerID := c.GetString("user_id")
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Authentication required"})
		return
	}

	list, err := store.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		logger.WithError(err).WithField("owner_id", ownerID).Error("Failed to list payments")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list payments"})
		return
	}

	c.JSON(http.StatusOK, ListPaymentsResponse{Payments: list, Count: len(list)})
}

// TriggerSweep resets the sweep attempt counter of a stuck confirmed
// payment so the reconciler retries forwarding on its next cycle.
func TriggerSweep(c middleware.Context) {
	ownerID := c.GetString("user_id")
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Authentication required"})
		return
	}

	paymentID := c.Param("id")
	p, err := store.GetByIDForOwner(c.Request.Context(), paymentID, ownerID)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Payment not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to load payment")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load payment"})
		return
	}

	if p.Status != payments.StatusConfirmed {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Payment is not awaiting forwarding"})
		return
	}

	if err := store.ResetSweepAttempts(c.Request.Context(), paymentID); err != nil {
		logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to reset sweep attempts")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to re-trigger sweep"})
		return
	}

	logger.WithFields(logging.Fields{
		"payment_id": paymentID,
		"owner_id":   ownerID,
	}).Info("Sweep re-triggered")

	c.JSON(http.StatusAccepted, SweepResponse{Message: "Sweep scheduled for next reconcile cycle"})
}

// GetBalance returns the owner's current credit balance.
func GetBalance(c middleware.Context) {
	ownerID := c.GetString("user_id")
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Authentication required"})
		return
	}

	balance, err := creditsLed.Balance(c.Request.Context(), ownerID)
	if err != nil {
		logger.WithError(err).WithField("owner_id", ownerID).Error("Failed to read balance")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read balance"})
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{Credits: balance})
}

// GetPackages lists the purchasable credit packages. Public.
func GetPackages(c middleware.Context) {
	c.JSON(http.StatusOK, PackagesResponse{
		Packages: CreditPackages,
		Currency: pricing.Currency,
	})
}
