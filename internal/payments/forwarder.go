package payments

import (
	"context"
	"fmt"

	"creditgate/pkg/logging"
)

// Forwarder sweeps a confirmed payment's balance to the operator cold
// wallet. All outcomes are reported as a SweepResult; broadcast errors are
// never propagated as Go errors.
type Forwarder struct {
	ledger      LedgerSource
	broadcaster Broadcaster
	destination string
	feeUnits    int64
	logger      logging.Logger
}

// NewForwarder creates a fund forwarder. destination may be empty, in which
// case every sweep refuses with a configuration failure.
func NewForwarder(ledger LedgerSource, broadcaster Broadcaster, destination string, feeUnits int64, logger logging.Logger) *Forwarder {
	return &Forwarder{
		ledger:      ledger,
		broadcaster: broadcaster,
		destination: destination,
		feeUnits:    feeUnits,
		logger:      logger,
	}
}

// Sweep moves the full balance of source (minus the fixed fee estimate) to
// the configured destination using the given signing credential.
func (f *Forwarder) Sweep(ctx context.Context, credential, source string) SweepResult {
	if f.destination == "" {
		return SweepResult{Message: "cold wallet destination not configured"}
	}

	funds, err := f.ledger.AddressFunds(ctx, source)
	if err != nil {
		return SweepResult{Message: fmt.Sprintf("balance lookup failed: %v", err)}
	}

	balance := funds.FundedTotal - funds.SpentTotal
	if balance <= 0 {
		// Nothing left on the address. The same funds cannot be swept
		// twice, so this is a harmless terminal outcome.
		return SweepResult{Success: true, Message: "nothing to forward"}
	}

	if balance <= f.feeUnits {
		return SweepResult{Fee: f.feeUnits, Message: "balance_too_low"}
	}

	amountToSend := balance - f.feeUnits
	txID, err := f.broadcaster.Transfer(ctx, credential, source, f.destination, amountToSend)
	if err != nil {
		f.logger.WithError(err).WithFields(logging.Fields{
			"source": source,
			"amount": amountToSend,
		}).Warn("Broadcast failed during sweep")
		return SweepResult{Fee: f.feeUnits, Message: fmt.Sprintf("broadcast failed: %v", err)}
	}

	f.logger.WithFields(logging.Fields{
		"source":      source,
		"destination": f.destination,
		"amount":      amountToSend,
		"fee":         f.feeUnits,
		"tx_id":       txID,
	}).Info("Swept funds to cold wallet")

	return SweepResult{
		Success:         true,
		AmountForwarded: amountToSend,
		Fee:             f.feeUnits,
		TxID:            txID,
	}
}
