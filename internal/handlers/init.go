package handlers

import (
	"github.com/prometheus/client_golang/prometheus"

	"creditgate/internal/payments"
	"creditgate/pkg/logging"
)

var (
	logger     logging.Logger
	metrics    *GateMetrics
	store      *payments.Store
	creditsLed *payments.CreditsLedger
	issuer     payments.AddressIssuer
	rates      payments.RateSource
	asset      payments.AssetConfig
	pricing    PricingConfig
)

// GateMetrics holds the Prometheus metrics the API layer records.
type GateMetrics struct {
	PaymentsTotal *prometheus.CounterVec
	PaymentsOpen  *prometheus.GaugeVec
}

// PricingConfig carries the fiat pricing knobs for payment creation.
type PricingConfig struct {
	Currency        string // "EUR"
	CreditPriceCent int64  // price of one credit in cents, for ad-hoc amounts
	ExpiryMinutes   int
}

// Init initializes the handlers with their shared collaborators.
func Init(log logging.Logger, gateMetrics *GateMetrics,
	paymentStore *payments.Store, credits *payments.CreditsLedger,
	addressIssuer payments.AddressIssuer, rateSource payments.RateSource,
	assetConfig payments.AssetConfig, pricingConfig PricingConfig) {
	logger = log
	metrics = gateMetrics
	store = paymentStore
	creditsLed = credits
	issuer = addressIssuer
	rates = rateSource
	asset = assetConfig
	pricing = pricingConfig
}
