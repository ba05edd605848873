package handlers

import (
	"fmt"
	"time"

	"creditgate/internal/payments"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreditPackage is a predefined credits bundle with a fixed fiat price.
type CreditPackage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"price_cents"`
}

// CreditPackages is the registry of purchasable bundles, cheapest first.
var CreditPackages = []CreditPackage{
	{ID: "starter", Name: "Starter", Credits: 500, PriceCents: 500},
	{ID: "standard", Name: "Standard", Credits: 2500, PriceCents: 2000},
	{ID: "pro", Name: "Pro", Credits: 10000, PriceCents: 7000},
}

// PackageByID looks up a credit package.
func PackageByID(id string) (CreditPackage, error) {
	for _, pkg := range CreditPackages {
		if pkg.ID == id {
			return pkg, nil
		}
	}
	return CreditPackage{}, fmt.Errorf("unknown package: %s", id)
}

// CreatePaymentRequest selects either a predefined package or an ad-hoc
// credits amount priced per credit.
type CreatePaymentRequest struct {
	PackageID string `json:"package_id"`
	Credits   int64  `json:"credits"`
}

// CreatePaymentResponse is returned on payment creation. It carries
// everything the buyer needs to fund the address.
type CreatePaymentResponse struct {
	PaymentID        string    `json:"payment_id"`
	ReceivingAddress string    `json:"receiving_address"`
	Asset            string    `json:"asset"`
	ExpectedAmount   int64     `json:"expected_amount"`
	ExpectedCoins    string    `json:"expected_coins"`
	Credits          int64     `json:"credits"`
	PriceCents       int64     `json:"price_cents"`
	PricingCurrency  string    `json:"pricing_currency"`
	SettlementRate   float64   `json:"settlement_rate"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ListPaymentsResponse wraps an owner's payment history.
type ListPaymentsResponse struct {
	Payments []payments.Payment `json:"payments"`
	Count    int                `json:"count"`
}

// BalanceResponse is the owner's current credit balance.
type BalanceResponse struct {
	Credits int64 `json:"credits"`
}

// SweepResponse acknowledges a manual sweep re-trigger.
type SweepResponse struct {
	Message string `json:"message"`
}

// PackagesResponse lists the purchasable credit packages.
type PackagesResponse struct {
	Packages []CreditPackage `json:"packages"`
	Currency string          `json:"currency"`
}
