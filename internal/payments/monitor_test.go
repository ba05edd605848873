package payments

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
)

// fakeLedger is a scriptable LedgerSource for monitor and forwarder tests.
type fakeLedger struct {
	funds    AddressFunds
	fundsErr error
	txs      []TxRef
	txsErr   error
	tip      int64
	tipErr   error
}

func (f *fakeLedger) AddressFunds(ctx context.Context, address string) (AddressFunds, error) {
	return f.funds, f.fundsErr
}

func (f *fakeLedger) AddressTransactions(ctx context.Context, address string) ([]TxRef, error) {
	return f.txs, f.txsErr
}

func (f *fakeLedger) TipHeight(ctx context.Context) (int64, error) {
	return f.tip, f.tipErr
}

func TestObserveDataUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		ledger *fakeLedger
	}{
		{"funds_query_fails", &fakeLedger{fundsErr: fmt.Errorf("timeout")}},
		{"tx_query_fails", &fakeLedger{funds: AddressFunds{FundedTotal: 1000}, txsErr: fmt.Errorf("timeout")}},
		{"tip_query_fails", &fakeLedger{funds: AddressFunds{FundedTotal: 1000}, txs: []TxRef{{TxID: "a", Amount: 1000, BlockHeight: 5}}, tipErr: fmt.Errorf("timeout")}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := NewMonitor(test.ledger, 3, logrus.New())
			obs := m.Observe(context.Background(), "addr", 1000, "")
			if obs.Verdict != VerdictDataUnavailable {
				t.Fatalf("expected data_unavailable, got %s", obs.Verdict)
			}
		})
	}
}

func TestObserveInsufficient(t *testing.T) {
	ledger := &fakeLedger{funds: AddressFunds{FundedTotal: 400, SpentTotal: 0}}
	m := NewMonitor(ledger, 3, logrus.New())

	obs := m.Observe(context.Background(), "addr", 1000, "")
	if obs.Verdict != VerdictInsufficient {
		t.Fatalf("expected insufficient, got %s", obs.Verdict)
	}
	if obs.ReceivedAmount != 400 {
		t.Fatalf("expected received 400, got %d", obs.ReceivedAmount)
	}
}

func TestObserveSpentFundsReduceReceived(t *testing.T) {
	// received is funded minus spent, so a partially swept address no
	// longer counts as paid.
	ledger := &fakeLedger{funds: AddressFunds{FundedTotal: 1500, SpentTotal: 800}}
	m := NewMonitor(ledger, 3, logrus.New())

	obs := m.Observe(context.Background(), "addr", 1000, "")
	if obs.Verdict != VerdictInsufficient {
		t.Fatalf("expected insufficient, got %s", obs.Verdict)
	}
	if obs.ReceivedAmount != 700 {
		t.Fatalf("expected received 700, got %d", obs.ReceivedAmount)
	}
}

func TestObserveAwaitingConfirmationUnmined(t *testing.T) {
	ledger := &fakeLedger{
		funds: AddressFunds{FundedTotal: 1000},
		txs:   []TxRef{{TxID: "mempool-tx", Amount: 1000, BlockHeight: 0}},
		tip:   100,
	}
	m := NewMonitor(ledger, 3, logrus.New())

	obs := m.Observe(context.Background(), "addr", 1000, "")
	if obs.Verdict != VerdictAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation, got %s", obs.Verdict)
	}
	if obs.Confirmations != 0 {
		t.Fatalf("expected 0 confirmations, got %d", obs.Confirmations)
	}
	if obs.FundingTxID != "" {
		t.Fatalf("expected no funding tx for unmined payment, got %q", obs.FundingTxID)
	}
}

func TestObserveConfirmationThreshold(t *testing.T) {
	tests := []struct {
		name     string
		txHeight int64
		tip      int64
		expected Verdict
		conf     int64
	}{
		// tip 102, block 100: 102 - 100 + 1 = 3 confirmations.
		{"below_threshold", 101, 102, VerdictAwaitingConfirmation, 2},
		{"at_threshold", 100, 102, VerdictConfirmed, 3},
		{"above_threshold", 90, 102, VerdictConfirmed, 13},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ledger := &fakeLedger{
				funds: AddressFunds{FundedTotal: 1000},
				txs:   []TxRef{{TxID: "tx1", Amount: 1000, BlockHeight: test.txHeight}},
				tip:   test.tip,
			}
			m := NewMonitor(ledger, 3, logrus.New())

			obs := m.Observe(context.Background(), "addr", 1000, "")
			if obs.Verdict != test.expected {
				t.Fatalf("expected %s, got %s", test.expected, obs.Verdict)
			}
			if obs.Confirmations != test.conf {
				t.Fatalf("expected %d confirmations, got %d", test.conf, obs.Confirmations)
			}
			if obs.FundingTxID != "tx1" {
				t.Fatalf("expected funding tx tx1, got %q", obs.FundingTxID)
			}
		})
	}
}

func TestObservePicksDeepestTransaction(t *testing.T) {
	ledger := &fakeLedger{
		funds: AddressFunds{FundedTotal: 2000},
		txs: []TxRef{
			{TxID: "shallow", Amount: 1000, BlockHeight: 99},
			{TxID: "deep", Amount: 1000, BlockHeight: 50},
		},
		tip: 100,
	}
	m := NewMonitor(ledger, 3, logrus.New())

	obs := m.Observe(context.Background(), "addr", 1000, "")
	if obs.FundingTxID != "deep" {
		t.Fatalf("expected deepest tx, got %q", obs.FundingTxID)
	}
	if obs.Confirmations != 51 {
		t.Fatalf("expected 51 confirmations, got %d", obs.Confirmations)
	}
}

func TestObserveTieBreakPrefersPriorTx(t *testing.T) {
	// Two txs in the same block tie on confirmations. The recorded one
	// must win regardless of iteration order.
	ledger := &fakeLedger{
		funds: AddressFunds{FundedTotal: 2000},
		txs: []TxRef{
			{TxID: "tx-a", Amount: 1000, BlockHeight: 80},
			{TxID: "tx-b", Amount: 1000, BlockHeight: 80},
		},
		tip: 100,
	}
	m := NewMonitor(ledger, 3, logrus.New())

	obs := m.Observe(context.Background(), "addr", 1000, "tx-b")
	if obs.FundingTxID != "tx-b" {
		t.Fatalf("expected prior tx to win tie, got %q", obs.FundingTxID)
	}
}

func TestObserveIgnoresFutureBlocks(t *testing.T) {
	// A tx claiming a height above the tip is provider noise and must not
	// produce a confirmation count.
	ledger := &fakeLedger{
		funds: AddressFunds{FundedTotal: 1000},
		txs:   []TxRef{{TxID: "weird", Amount: 1000, BlockHeight: 200}},
		tip:   100,
	}
	m := NewMonitor(ledger, 3, logrus.New())

	obs := m.Observe(context.Background(), "addr", 1000, "")
	if obs.Verdict != VerdictAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation, got %s", obs.Verdict)
	}
	if obs.Confirmations != 0 {
		t.Fatalf("expected 0 confirmations, got %d", obs.Confirmations)
	}
}
