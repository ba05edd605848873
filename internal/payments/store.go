package payments

import (
	"context"
	"database/sql"
	"fmt"
)

// Store persists payment records. The reconciler is the sole writer after
// creation; confirmations and received_amount never move backwards.
type Store struct {
	db      *sql.DB
	credits *CreditsLedger
}

// NewStore creates a payment store.
func NewStore(db *sql.DB, credits *CreditsLedger) *Store {
	return &Store{db: db, credits: credits}
}

const paymentColumns = `
	id, owner_id, credits_amount, price_cents, pricing_currency, asset,
	expected_amount, received_amount, settlement_rate, receiving_address,
	signing_credential, status, confirmations, funding_tx_id,
	forwarding_tx_id, forwarded_amount, network_fee, credited,
	sweep_attempts, last_error, created_at, expires_at, confirmed_at,
	completed_at, updated_at`

func scanPayment(row interface{ Scan(...interface{}) error }) (*Payment, error) {
	var p Payment
	var status string
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.CreditsAmount, &p.PriceCents, &p.PricingCurrency, &p.Asset,
		&p.ExpectedAmount, &p.ReceivedAmount, &p.SettlementRate, &p.ReceivingAddress,
		&p.SigningCredential, &status, &p.Confirmations, &p.FundingTxID,
		&p.ForwardingTxID, &p.ForwardedAmount, &p.NetworkFee, &p.Credited,
		&p.SweepAttempts, &p.LastError, &p.CreatedAt, &p.ExpiresAt, &p.ConfirmedAt,
		&p.CompletedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}

// Create inserts a new payment record.
func (s *Store) Create(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO creditgate.payments (
			id, owner_id, credits_amount, price_cents, pricing_currency, asset,
			expected_amount, settlement_rate, receiving_address,
			signing_credential, status, created_at, expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), $12, NOW())
	`, p.ID, p.OwnerID, p.CreditsAmount, p.PriceCents, p.PricingCurrency, p.Asset,
		p.ExpectedAmount, p.SettlementRate, p.ReceivingAddress,
		p.SigningCredential, string(p.Status), p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetByID returns one payment by id.
func (s *Store) GetByID(ctx context.Context, id string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM creditgate.payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return p, nil
}

// GetByIDForOwner returns one payment scoped to its owner.
func (s *Store) GetByIDForOwner(ctx context.Context, id, ownerID string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM creditgate.payments WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return p, nil
}

// ListByOwner returns all payments of an owner, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM creditgate.payments
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// LoadActive returns all payments the reconciler still works on: open ones
// plus confirmed ones whose sweep has not succeeded yet.
func (s *Store) LoadActive(ctx context.Context) ([]Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM creditgate.payments
		WHERE status IN ('pending', 'confirming', 'confirmed')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load active payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// UpdateObservation persists a monitor observation. GREATEST keeps
// received_amount and confirmations monotonic; funding_tx_id is set once
// and never overwritten.
func (s *Store) UpdateObservation(ctx context.Context, id string, status Status, obs Observation) error {
	var fundingTx interface{}
	if obs.FundingTxID != "" {
		fundingTx = obs.FundingTxID
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE creditgate.payments
		SET status = $2,
		    received_amount = GREATEST(received_amount, $3),
		    confirmations = GREATEST(confirmations, $4),
		    funding_tx_id = COALESCE(funding_tx_id, $5),
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'confirming')
	`, id, string(status), obs.ReceivedAmount, obs.Confirmations, fundingTx)
	if err != nil {
		return fmt.Errorf("failed to update observation: %w", err)
	}
	return nil
}

// MarkExpired transitions an open payment to expired. Returns true if this
// call performed the transition.
func (s *Store) MarkExpired(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE creditgate.payments
		SET status = 'expired', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'confirming')
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkFailed records an unrecoverable creation-time failure.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE creditgate.payments
		SET status = 'failed', last_error = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return nil
}

// ConfirmAndCredit moves the payment to confirmed and grants credits in one
// database transaction. The credited flag is the exactly-once guard: the
// ledger is only invoked when this call flips it from false to true.
// Returns whether credits were granted by this call.
func (s *Store) ConfirmAndCredit(ctx context.Context, p *Payment, obs Observation) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var fundingTx interface{}
	if obs.FundingTxID != "" {
		fundingTx = obs.FundingTxID
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE creditgate.payments
		SET status = 'confirmed',
		    credited = TRUE,
		    received_amount = GREATEST(received_amount, $2),
		    confirmations = GREATEST(confirmations, $3),
		    funding_tx_id = COALESCE(funding_tx_id, $4),
		    confirmed_at = COALESCE(confirmed_at, NOW()),
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND credited = FALSE AND status IN ('pending', 'confirming')
	`, p.ID, obs.ReceivedAmount, obs.Confirmations, fundingTx)
	if err != nil {
		return false, fmt.Errorf("failed to confirm payment: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		// Already credited by an earlier pass; nothing to do.
		return false, tx.Commit()
	}

	if err := s.credits.CreditInTx(ctx, tx, p.OwnerID, p.CreditsAmount, p.ID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit confirmation: %w", err)
	}
	return true, nil
}

// RecordSweepSuccess transitions a confirmed payment to forwarded.
func (s *Store) RecordSweepSuccess(ctx context.Context, id string, result SweepResult) error {
	var txID interface{}
	if result.TxID != "" {
		txID = result.TxID
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE creditgate.payments
		SET status = 'forwarded',
		    forwarding_tx_id = COALESCE(forwarding_tx_id, $2),
		    forwarded_amount = $3,
		    network_fee = $4,
		    last_error = NULL,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'
	`, id, txID, result.AmountForwarded, result.Fee)
	if err != nil {
		return fmt.Errorf("failed to record sweep success: %w", err)
	}
	return nil
}

// RecordSweepFailure increments the attempt counter and stores the message.
// The payment stays confirmed; credits are never rolled back.
func (s *Store) RecordSweepFailure(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE creditgate.payments
		SET sweep_attempts = sweep_attempts + 1,
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'
	`, id, message)
	if err != nil {
		return fmt.Errorf("failed to record sweep failure: %w", err)
	}
	return nil
}

// ResetSweepAttempts clears the retry counter for a manual re-trigger.
func (s *Store) ResetSweepAttempts(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE creditgate.payments
		SET sweep_attempts = 0, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to reset sweep attempts: %w", err)
	}
	return nil
}

// SetLastError stores a per-record diagnostic without changing state.
func (s *Store) SetLastError(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE creditgate.payments
		SET last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, id, message)
	if err != nil {
		return fmt.Errorf("failed to set last error: %w", err)
	}
	return nil
}

// CountOpenByAsset returns the number of pending or confirming payments per
// asset, for the payments_open gauge.
func (s *Store) CountOpenByAsset(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset, COUNT(*) FROM creditgate.payments
		WHERE status IN ('pending', 'confirming')
		GROUP BY asset
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count open payments: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var asset string
		var n int64
		if err := rows.Scan(&asset, &n); err != nil {
			return nil, err
		}
		counts[asset] = n
	}
	return counts, rows.Err()
}
