// Package ethereum provides ledger data and broadcast access for ETH
// payments. Address data comes from an Etherscan-compatible API, the chain
// tip from JSON-RPC, and broadcasting goes through go-ethereum's ethclient.
// Amounts are in gwei; the broadcaster converts to wei on the wire.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"creditgate/internal/payments"
	fieldcrypt "creditgate/pkg/crypto"
	"creditgate/pkg/logging"
)

var weiPerGwei = big.NewInt(1_000_000_000)

// LedgerClient reads address and chain data. Implements
// payments.LedgerSource.
type LedgerClient struct {
	explorerURL string // e.g. https://api.etherscan.io/api
	apiKey      string
	rpcEndpoint string
	httpClient  *http.Client
	logger      logging.Logger
}

// NewLedgerClient creates an Ethereum ledger data client.
func NewLedgerClient(explorerURL, apiKey, rpcEndpoint string, timeout time.Duration, logger logging.Logger) *LedgerClient {
	return &LedgerClient{
		explorerURL: explorerURL,
		apiKey:      apiKey,
		rpcEndpoint: rpcEndpoint,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

type explorerTx struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"` // wei, decimal string
	BlockNumber string `json:"blockNumber"`
	IsError     string `json:"isError"`
}

func (c *LedgerClient) txList(ctx context.Context, address string) ([]explorerTx, error) {
	url := fmt.Sprintf("%s?module=account&action=txlist&address=%s&startblock=0&endblock=99999999&sort=desc&apikey=%s",
		c.explorerURL, address, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result struct {
		Status  string       `json:"status"`
		Message string       `json:"message"`
		Result  []explorerTx `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	// Status "0" with "No transactions found" is an empty result, not an error.
	if result.Status != "1" && !strings.Contains(result.Message, "No transactions") {
		return nil, fmt.Errorf("explorer API error: %s", result.Message)
	}
	return result.Result, nil
}

// weiStringToGwei converts a decimal wei string to int64 gwei.
func weiStringToGwei(value string) (int64, error) {
	wei, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return 0, fmt.Errorf("invalid wei value: %s", value)
	}
	gwei := new(big.Int).Quo(wei, weiPerGwei)
	if !gwei.IsInt64() {
		return 0, fmt.Errorf("amount out of range: %s wei", value)
	}
	return gwei.Int64(), nil
}

// AddressFunds sums incoming and outgoing transfers of the address, in gwei.
func (c *LedgerClient) AddressFunds(ctx context.Context, address string) (payments.AddressFunds, error) {
	txs, err := c.txList(ctx, address)
	if err != nil {
		return payments.AddressFunds{}, err
	}

	var funds payments.AddressFunds
	for _, tx := range txs {
		if tx.IsError == "1" || tx.Value == "0" {
			continue
		}
		gwei, err := weiStringToGwei(tx.Value)
		if err != nil {
			return payments.AddressFunds{}, err
		}
		if strings.EqualFold(tx.To, address) {
			funds.FundedTotal += gwei
		} else if strings.EqualFold(tx.From, address) {
			funds.SpentTotal += gwei
		}
	}
	return funds, nil
}

// AddressTransactions returns incoming transaction refs for the address.
func (c *LedgerClient) AddressTransactions(ctx context.Context, address string) ([]payments.TxRef, error) {
	txs, err := c.txList(ctx, address)
	if err != nil {
		return nil, err
	}

	var refs []payments.TxRef
	for _, tx := range txs {
		if tx.IsError == "1" || tx.Value == "0" || !strings.EqualFold(tx.To, address) {
			continue
		}
		gwei, err := weiStringToGwei(tx.Value)
		if err != nil {
			return nil, err
		}
		height, _ := strconv.ParseInt(tx.BlockNumber, 10, 64)
		refs = append(refs, payments.TxRef{
			TxID:        tx.Hash,
			Amount:      gwei,
			BlockHeight: height,
		})
	}
	return refs, nil
}

// TipHeight returns the latest block number via eth_blockNumber.
func (c *LedgerClient) TipHeight(ctx context.Context) (int64, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_blockNumber",
		"params":  []interface{}{},
		"id":      1,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.rpcEndpoint, strings.NewReader(string(reqBody)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("RPC request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	var rpcResp struct {
		Result string           `json:"result"`
		Error  *json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return 0, fmt.Errorf("failed to parse RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return 0, fmt.Errorf("RPC error: %s", string(*rpcResp.Error))
	}

	height, err := strconv.ParseInt(strings.TrimPrefix(rpcResp.Result, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q: %w", rpcResp.Result, err)
	}
	return height, nil
}

// Broadcaster signs and submits transfers through an Ethereum node.
// Implements payments.Broadcaster.
type Broadcaster struct {
	rpcEndpoint string
	encryptor   *fieldcrypt.FieldEncryptor
	logger      logging.Logger
}

// NewBroadcaster creates an Ethereum broadcaster.
func NewBroadcaster(rpcEndpoint string, encryptor *fieldcrypt.FieldEncryptor, logger logging.Logger) *Broadcaster {
	return &Broadcaster{
		rpcEndpoint: rpcEndpoint,
		encryptor:   encryptor,
		logger:      logger,
	}
}

// Transfer moves amount gwei from the receiving address to the destination.
// The credential is the encrypted hex private key stored on the payment
// record; it is decrypted here and never leaves this method.
func (b *Broadcaster) Transfer(ctx context.Context, credential, from, to string, amount int64) (string, error) {
	privateKeyHex, err := b.encryptor.Decrypt(credential)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt signing credential: %w", err)
	}

	privateKey, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, b.rpcEndpoint)
	if err != nil {
		return "", fmt.Errorf("failed to connect to Ethereum node: %w", err)
	}
	defer client.Close()

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("failed to cast public key to ECDSA")
	}
	fromAddr := ethcrypto.PubkeyToAddress(*publicKey)
	if !strings.EqualFold(fromAddr.Hex(), from) {
		return "", fmt.Errorf("credential does not match source address %s", from)
	}
	toAddr := common.HexToAddress(to)

	nonce, err := client.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	value := new(big.Int).Mul(big.NewInt(amount), weiPerGwei)

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gasLimit := uint64(21000)

	balance, err := client.BalanceAt(ctx, fromAddr, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get balance: %w", err)
	}
	gasCost := new(big.Int).Mul(gasPrice, big.NewInt(int64(gasLimit)))
	totalCost := new(big.Int).Add(value, gasCost)
	if balance.Cmp(totalCost) < 0 {
		return "", fmt.Errorf("insufficient balance: have %s wei, need %s wei", balance.String(), totalCost.String())
	}

	tx := types.NewTransaction(nonce, toAddr, value, gasLimit, gasPrice, nil)

	chainID, err := client.NetworkID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain ID: %w", err)
	}

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	txHash := signedTx.Hash().Hex()
	b.logger.WithFields(logging.Fields{
		"from":        fromAddr.Hex(),
		"to":          toAddr.Hex(),
		"amount_gwei": amount,
		"gas_price":   gasPrice.String(),
		"nonce":       nonce,
		"chain_id":    chainID.String(),
		"tx_id":       txHash,
	}).Info("Broadcast Ethereum transaction")

	return txHash, nil
}
