package payments

import (
	"context"

	"creditgate/pkg/logging"
)

// Monitor derives a payment-observation verdict for one receiving address.
// It only reads external state and never mutates the payment record.
type Monitor struct {
	ledger                LedgerSource
	requiredConfirmations int64
	logger                logging.Logger
}

// NewMonitor creates a confirmation monitor against the given ledger source.
func NewMonitor(ledger LedgerSource, requiredConfirmations int64, logger logging.Logger) *Monitor {
	return &Monitor{
		ledger:                ledger,
		requiredConfirmations: requiredConfirmations,
		logger:                logger,
	}
}

// Observe checks the address against the expected amount and returns a
// verdict. priorFundingTx is the funding tx id already recorded on the
// payment, used to keep the selected tx stable across polls when
// confirmation counts tie.
func (m *Monitor) Observe(ctx context.Context, address string, expectedAmount int64, priorFundingTx string) Observation {
	funds, err := m.ledger.AddressFunds(ctx, address)
	if err != nil {
		m.logger.WithError(err).WithField("address", address).Debug("Ledger funds query failed")
		return Observation{Verdict: VerdictDataUnavailable}
	}

	received := funds.FundedTotal - funds.SpentTotal
	if received < expectedAmount {
		return Observation{ReceivedAmount: received, Verdict: VerdictInsufficient}
	}

	txs, err := m.ledger.AddressTransactions(ctx, address)
	if err != nil {
		m.logger.WithError(err).WithField("address", address).Debug("Ledger transaction query failed")
		return Observation{Verdict: VerdictDataUnavailable}
	}

	tip, err := m.ledger.TipHeight(ctx)
	if err != nil {
		m.logger.WithError(err).Debug("Ledger tip height query failed")
		return Observation{Verdict: VerdictDataUnavailable}
	}

	// Pick the funding transaction with the most confirmations. On a tie,
	// prefer the tx already recorded so the identifier stays stable.
	var bestTx string
	var bestConf int64 = -1
	for _, tx := range txs {
		if tx.Amount <= 0 || tx.BlockHeight <= 0 || tx.BlockHeight > tip {
			continue
		}
		conf := tip - tx.BlockHeight + 1
		if conf > bestConf || (conf == bestConf && tx.TxID == priorFundingTx) {
			bestConf = conf
			bestTx = tx.TxID
		}
	}

	if bestConf < 0 {
		// Sufficient balance but nothing mined yet.
		return Observation{
			ReceivedAmount: received,
			Confirmations:  0,
			Verdict:        VerdictAwaitingConfirmation,
		}
	}

	obs := Observation{
		ReceivedAmount: received,
		Confirmations:  bestConf,
		FundingTxID:    bestTx,
	}
	if bestConf < m.requiredConfirmations {
		obs.Verdict = VerdictAwaitingConfirmation
	} else {
		obs.Verdict = VerdictConfirmed
	}
	return obs
}
