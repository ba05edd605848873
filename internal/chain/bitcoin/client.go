// Package bitcoin provides ledger data and broadcast access for BTC
// payments via a BlockCypher-compatible API. Amounts are in satoshi.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"creditgate/internal/payments"
	fieldcrypt "creditgate/pkg/crypto"
	"creditgate/pkg/logging"
)

// Client talks to a BlockCypher-style chain API. It implements both
// payments.LedgerSource and payments.Broadcaster.
type Client struct {
	baseURL    string // e.g. https://api.blockcypher.com/v1/btc/main
	apiKey     string
	httpClient *http.Client
	encryptor  *fieldcrypt.FieldEncryptor
	logger     logging.Logger
}

// NewClient creates a Bitcoin chain client.
func NewClient(baseURL, apiKey string, timeout time.Duration, encryptor *fieldcrypt.FieldEncryptor, logger logging.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		encryptor:  encryptor,
		logger:     logger,
	}
}

func (c *Client) withToken(url string) string {
	if c.apiKey == "" {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "token=" + c.apiKey
}

func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.withToken(url), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chain API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// AddressFunds returns the cumulative received and sent satoshi totals.
func (c *Client) AddressFunds(ctx context.Context, address string) (payments.AddressFunds, error) {
	var result struct {
		TotalReceived int64 `json:"total_received"`
		TotalSent     int64 `json:"total_sent"`
	}
	url := fmt.Sprintf("%s/addrs/%s/balance", c.baseURL, address)
	if err := c.get(ctx, url, &result); err != nil {
		return payments.AddressFunds{}, err
	}
	return payments.AddressFunds{
		FundedTotal: result.TotalReceived,
		SpentTotal:  result.TotalSent,
	}, nil
}

// AddressTransactions returns incoming transaction refs for the address.
func (c *Client) AddressTransactions(ctx context.Context, address string) ([]payments.TxRef, error) {
	var result struct {
		TxRefs []struct {
			TxHash      string `json:"tx_hash"`
			Value       int64  `json:"value"`
			BlockHeight int64  `json:"block_height"`
		} `json:"txrefs"`
		UnconfirmedTxRefs []struct {
			TxHash string `json:"tx_hash"`
			Value  int64  `json:"value"`
		} `json:"unconfirmed_txrefs"`
	}
	url := fmt.Sprintf("%s/addrs/%s", c.baseURL, address)
	if err := c.get(ctx, url, &result); err != nil {
		return nil, err
	}

	var txs []payments.TxRef
	for _, tx := range result.TxRefs {
		if tx.Value <= 0 {
			continue // only incoming transactions
		}
		height := tx.BlockHeight
		if height < 0 {
			height = 0
		}
		txs = append(txs, payments.TxRef{
			TxID:        tx.TxHash,
			Amount:      tx.Value,
			BlockHeight: height,
		})
	}
	for _, tx := range result.UnconfirmedTxRefs {
		if tx.Value <= 0 {
			continue
		}
		txs = append(txs, payments.TxRef{TxID: tx.TxHash, Amount: tx.Value})
	}
	return txs, nil
}

// TipHeight returns the current chain height from the chain root endpoint.
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	var result struct {
		Height int64 `json:"height"`
	}
	if err := c.get(ctx, c.baseURL, &result); err != nil {
		return 0, err
	}
	if result.Height <= 0 {
		return 0, fmt.Errorf("chain API returned height %d", result.Height)
	}
	return result.Height, nil
}

// transactionRequest is the BlockCypher signed-transaction payload.
type transactionRequest struct {
	Inputs      []transactionInput  `json:"inputs"`
	Outputs     []transactionOutput `json:"outputs"`
	PrivateKeys []string            `json:"private_keys"`
}

type transactionInput struct {
	Addresses []string `json:"addresses"`
}

type transactionOutput struct {
	Addresses []string `json:"addresses"`
	Value     int64    `json:"value"`
}

// Transfer builds, signs and broadcasts a transaction moving amount satoshi
// from the receiving address to the destination. The credential is the
// encrypted WIF stored on the payment record.
func (c *Client) Transfer(ctx context.Context, credential, from, to string, amount int64) (string, error) {
	wif, err := c.encryptor.Decrypt(credential)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt signing credential: %w", err)
	}

	payload := transactionRequest{
		Inputs:      []transactionInput{{Addresses: []string{from}}},
		Outputs:     []transactionOutput{{Addresses: []string{to}, Value: amount}},
		PrivateKeys: []string{wif},
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}

	url := c.withToken(fmt.Sprintf("%s/txs/send", c.baseURL))
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var txResponse struct {
		TxHash string `json:"tx_hash"`
		Hash   string `json:"hash"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &txResponse); err != nil {
		return "", fmt.Errorf("failed to parse broadcast response: %w", err)
	}
	if txResponse.Error != "" {
		return "", fmt.Errorf("broadcast error: %s", txResponse.Error)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chain API returned status %d", resp.StatusCode)
	}

	txHash := txResponse.TxHash
	if txHash == "" {
		txHash = txResponse.Hash
	}
	if txHash == "" {
		return "", fmt.Errorf("broadcast response missing transaction hash")
	}

	c.logger.WithFields(logging.Fields{
		"from":   from,
		"to":     to,
		"amount": amount,
		"tx_id":  txHash,
	}).Info("Broadcast Bitcoin transaction")

	return txHash, nil
}
