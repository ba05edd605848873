package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	fieldcrypt "creditgate/pkg/crypto"
)

func testEncryptor(t *testing.T) *fieldcrypt.FieldEncryptor {
	t.Helper()
	fe, err := fieldcrypt.DeriveFieldEncryptor([]byte("test-master-secret-that-is-long!"), "signing-credential")
	if err != nil {
		t.Fatalf("DeriveFieldEncryptor: %v", err)
	}
	return fe
}

func TestAddressFunds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/addrs/1TestAddr/balance" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("token") != "test-key" {
			t.Errorf("expected token in query, got %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"total_received": 150000, "total_sent": 50000}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 5*time.Second, testEncryptor(t), logrus.New())
	funds, err := client.AddressFunds(context.Background(), "1TestAddr")
	if err != nil {
		t.Fatalf("AddressFunds: %v", err)
	}
	if funds.FundedTotal != 150000 || funds.SpentTotal != 50000 {
		t.Fatalf("unexpected funds: %+v", funds)
	}
}

func TestAddressTransactionsFiltersOutgoing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"txrefs": [
				{"tx_hash": "in1", "value": 100000, "block_height": 800000},
				{"tx_hash": "out1", "value": -50000, "block_height": 800001},
				{"tx_hash": "in2", "value": 20000, "block_height": -1}
			],
			"unconfirmed_txrefs": [
				{"tx_hash": "mempool1", "value": 5000}
			]
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, testEncryptor(t), logrus.New())
	txs, err := client.AddressTransactions(context.Background(), "1TestAddr")
	if err != nil {
		t.Fatalf("AddressTransactions: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 incoming txs, got %d", len(txs))
	}
	if txs[0].TxID != "in1" || txs[0].BlockHeight != 800000 {
		t.Fatalf("unexpected first tx: %+v", txs[0])
	}
	// Unmined heights normalize to zero.
	if txs[1].TxID != "in2" || txs[1].BlockHeight != 0 {
		t.Fatalf("unexpected second tx: %+v", txs[1])
	}
	if txs[2].TxID != "mempool1" || txs[2].BlockHeight != 0 {
		t.Fatalf("unexpected mempool tx: %+v", txs[2])
	}
}

func TestTipHeight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "BTC.main", "height": 812345}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, testEncryptor(t), logrus.New())
	tip, err := client.TipHeight(context.Background())
	if err != nil {
		t.Fatalf("TipHeight: %v", err)
	}
	if tip != 812345 {
		t.Fatalf("expected 812345, got %d", tip)
	}
}

func TestTipHeightRejectsZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"height": 0}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, testEncryptor(t), logrus.New())
	if _, err := client.TipHeight(context.Background()); err == nil {
		t.Fatal("expected error for zero tip height")
	}
}

func TestTransferDecryptsAndBroadcasts(t *testing.T) {
	encryptor := testEncryptor(t)
	encrypted, err := encryptor.Encrypt("L1TestWIFxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/txs/send" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var payload transactionRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if len(payload.PrivateKeys) != 1 || payload.PrivateKeys[0] != "L1TestWIFxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx" {
			t.Error("expected decrypted WIF in payload")
		}
		if payload.Outputs[0].Value != 90000 {
			t.Errorf("expected output of 90000, got %d", payload.Outputs[0].Value)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"tx_hash": "broadcast-tx"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, encryptor, logrus.New())
	txID, err := client.Transfer(context.Background(), encrypted, "1From", "1To", 90000)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if txID != "broadcast-tx" {
		t.Fatalf("expected broadcast-tx, got %q", txID)
	}
}

func TestTransferSurfacesAPIError(t *testing.T) {
	encryptor := testEncryptor(t)
	encrypted, err := encryptor.Encrypt("L1TestWIF")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "insufficient funds"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, encryptor, logrus.New())
	if _, err := client.Transfer(context.Background(), encrypted, "1From", "1To", 90000); err == nil {
		t.Fatal("expected error from API failure")
	}
}

func TestTransferRejectsBadCredential(t *testing.T) {
	client := NewClient("http://unused", "", 5*time.Second, testEncryptor(t), logrus.New())
	if _, err := client.Transfer(context.Background(), "enc:v1:garbage", "1From", "1To", 90000); err == nil {
		t.Fatal("expected error for undecryptable credential")
	}
}
