package payments

import (
	"context"
	"time"
)

// Status is the closed set of payment states. A payment is created in
// StatusPending and only the reconciler moves it afterwards.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusConfirmed  Status = "confirmed"
	StatusForwarded  Status = "forwarded"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusForwarded || s == StatusFailed || s == StatusExpired
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirming, StatusConfirmed, StatusForwarded, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Verdict is the outcome of a single address observation.
type Verdict string

const (
	VerdictDataUnavailable      Verdict = "data_unavailable"
	VerdictInsufficient         Verdict = "insufficient"
	VerdictAwaitingConfirmation Verdict = "awaiting_confirmation"
	VerdictConfirmed            Verdict = "confirmed"
)

// Payment is the unit of state the engine operates on. Amounts are int64
// base units of the configured asset (satoshi for BTC, gwei for ETH).
type Payment struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	CreditsAmount     int64      `json:"credits_amount"`
	PriceCents        int64      `json:"price_cents"`
	PricingCurrency   string     `json:"pricing_currency"`
	Asset             string     `json:"asset"`
	ExpectedAmount    int64      `json:"expected_amount"`
	ReceivedAmount    int64      `json:"received_amount"`
	SettlementRate    float64    `json:"settlement_rate"`
	ReceivingAddress  string     `json:"receiving_address"`
	SigningCredential string     `json:"-"`
	Status            Status     `json:"status"`
	Confirmations     int64      `json:"confirmations"`
	FundingTxID       *string    `json:"funding_tx_id,omitempty"`
	ForwardingTxID    *string    `json:"forwarding_tx_id,omitempty"`
	ForwardedAmount   *int64     `json:"forwarded_amount,omitempty"`
	NetworkFee        *int64     `json:"network_fee,omitempty"`
	Credited          bool       `json:"credited"`
	SweepAttempts     int        `json:"sweep_attempts"`
	LastError         *string    `json:"last_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Observation is the side-effect-free result of one monitor poll.
type Observation struct {
	ReceivedAmount int64
	Confirmations  int64
	FundingTxID    string
	Verdict        Verdict
}

// SweepResult is the structured outcome of one forwarding attempt.
// Broadcast errors are folded into Success/Message, never returned as
// Go errors, so the caller can persist and retry on a later cycle.
type SweepResult struct {
	Success         bool
	AmountForwarded int64
	Fee             int64
	TxID            string
	Message         string
}

// TxRef is one incoming transaction paying an address.
type TxRef struct {
	TxID        string
	Amount      int64
	BlockHeight int64 // 0 while unconfirmed
}

// AddressFunds holds the cumulative funded and spent totals of an address.
type AddressFunds struct {
	FundedTotal int64
	SpentTotal  int64
}

// LedgerSource exposes chain data for a single asset. Queries are
// best-effort; callers treat any error as data_unavailable and retry later.
type LedgerSource interface {
	AddressFunds(ctx context.Context, address string) (AddressFunds, error)
	AddressTransactions(ctx context.Context, address string) ([]TxRef, error)
	TipHeight(ctx context.Context) (int64, error)
}

// Broadcaster moves funds out of a receiving address. The credential is the
// encrypted signing credential stored on the payment record; implementations
// decrypt it internally.
type Broadcaster interface {
	Transfer(ctx context.Context, credential, from, to string, amount int64) (string, error)
}

// AddressIssuer returns a fresh receiving address and an opaque (encrypted)
// signing credential for it. Addresses are never reused.
type AddressIssuer interface {
	Issue(ctx context.Context) (address, credential string, err error)
}

// RateSource returns the spot price of one coin of the settlement asset in
// the pricing currency.
type RateSource interface {
	Rate(ctx context.Context) (float64, error)
}
