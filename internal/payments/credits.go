package payments

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CreditsLedger maintains per-owner credit balances with an append-only
// transaction journal. Crediting runs inside the caller's transaction so it
// commits atomically with the payment's credited flag; the ledger itself
// does not deduplicate.
type CreditsLedger struct {
	db *sql.DB
}

// NewCreditsLedger creates a credits ledger backed by the given database.
func NewCreditsLedger(db *sql.DB) *CreditsLedger {
	return &CreditsLedger{db: db}
}

// CreditInTx adds credits to the owner's balance and records a journal row,
// using the supplied transaction.
func (cl *CreditsLedger) CreditInTx(ctx context.Context, tx *sql.Tx, ownerID string, credits int64, paymentID string) error {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		SELECT credits FROM creditgate.credit_balances
		WHERE owner_id = $1
	`, ownerID).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read balance: %w", err)
	}

	newBalance := balance + credits

	_, err = tx.ExecContext(ctx, `
		INSERT INTO creditgate.credit_balances (owner_id, credits, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (owner_id)
		DO UPDATE SET credits = $2, updated_at = NOW()
	`, ownerID, newBalance)
	if err != nil {
		return fmt.Errorf("failed to upsert balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO creditgate.credit_transactions (
			id, owner_id, credits, balance_after,
			transaction_type, description, reference_id, created_at
		) VALUES ($1, $2, $3, $4, 'purchase', $5, $6, NOW())
	`, uuid.New().String(), ownerID, credits, newBalance,
		fmt.Sprintf("crypto payment %s", paymentID), paymentID)
	if err != nil {
		return fmt.Errorf("failed to record credit transaction: %w", err)
	}

	return nil
}

// Balance returns the owner's current credit balance. Missing rows read as
// zero.
func (cl *CreditsLedger) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := cl.db.QueryRowContext(ctx, `
		SELECT credits FROM creditgate.credit_balances
		WHERE owner_id = $1
	`, ownerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}
