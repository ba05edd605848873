// Package wallet issues one-time receiving addresses by BIP32 child
// derivation from an account-level extended key held in the environment.
// The key itself is never persisted; the database only tracks the next
// child index.
package wallet

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/crypto/sha3"

	"creditgate/pkg/crypto"
	"creditgate/pkg/logging"
)

// Issuer derives fresh receiving addresses and their signing credentials.
// Credentials are encrypted before they leave this package.
type Issuer struct {
	db        *sql.DB
	key       *hdkeychain.ExtendedKey
	asset     string
	encryptor *crypto.FieldEncryptor
	logger    logging.Logger
}

// NewIssuer parses the extended private key and returns an issuer for the
// given asset. The key must be private: the derived child keys are the
// signing credentials handed to the broadcaster.
func NewIssuer(db *sql.DB, extendedKey, asset string, encryptor *crypto.FieldEncryptor, logger logging.Logger) (*Issuer, error) {
	key, err := hdkeychain.NewKeyFromString(strings.TrimSpace(extendedKey))
	if err != nil {
		return nil, fmt.Errorf("invalid extended key: %w", err)
	}
	if !key.IsPrivate() {
		return nil, fmt.Errorf("extended key is public; signing credentials require an xprv")
	}
	if asset != "BTC" && asset != "ETH" {
		return nil, fmt.Errorf("unsupported asset: %s", asset)
	}
	return &Issuer{
		db:        db,
		key:       key,
		asset:     asset,
		encryptor: encryptor,
		logger:    logger,
	}, nil
}

// EnsureState creates the derivation-cursor row if it does not exist yet.
func (i *Issuer) EnsureState(ctx context.Context) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO creditgate.hd_wallet_state (id, asset, next_index)
		VALUES (1, $1, 0)
		ON CONFLICT (id) DO NOTHING
	`, i.asset)
	if err != nil {
		return fmt.Errorf("failed to initialize hd_wallet_state: %w", err)
	}
	return nil
}

// nextIndex atomically claims the next derivation index.
func (i *Issuer) nextIndex(ctx context.Context) (uint32, error) {
	var index int64
	err := i.db.QueryRowContext(ctx, `
		UPDATE creditgate.hd_wallet_state
		SET next_index = next_index + 1, updated_at = NOW()
		WHERE id = 1
		RETURNING next_index - 1
	`).Scan(&index)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("hd_wallet_state not initialized")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to claim derivation index: %w", err)
	}
	return uint32(index), nil
}

// Issue derives the next child key and returns a fresh receiving address
// together with its encrypted signing credential. Addresses are never
// reused: every call claims a new index.
func (i *Issuer) Issue(ctx context.Context) (string, string, error) {
	index, err := i.nextIndex(ctx)
	if err != nil {
		return "", "", err
	}

	child, err := i.key.Derive(index)
	if err != nil {
		return "", "", fmt.Errorf("failed to derive child key at index %d: %w", index, err)
	}

	var address, credential string
	switch i.asset {
	case "BTC":
		address, credential, err = bitcoinPair(child)
	case "ETH":
		address, credential, err = ethereumPair(child)
	}
	if err != nil {
		return "", "", err
	}

	encrypted, err := i.encryptor.Encrypt(credential)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt signing credential: %w", err)
	}

	i.logger.WithFields(logging.Fields{
		"asset":            i.asset,
		"address":          address,
		"derivation_index": index,
	}).Info("Issued receiving address")

	return address, encrypted, nil
}

// bitcoinPair produces a P2PKH address and the WIF credential.
func bitcoinPair(child *hdkeychain.ExtendedKey) (string, string, error) {
	privKey, err := child.ECPrivKey()
	if err != nil {
		return "", "", fmt.Errorf("failed to get private key: %w", err)
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", "", fmt.Errorf("failed to get public key: %w", err)
	}

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), &chaincfg.MainNetParams)
	if err != nil {
		return "", "", fmt.Errorf("failed to build address: %w", err)
	}

	wif, err := btcutil.NewWIF(privKey, &chaincfg.MainNetParams, true)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode WIF: %w", err)
	}

	return addr.EncodeAddress(), wif.String(), nil
}

// ethereumPair produces a 0x address and the hex private key credential.
func ethereumPair(child *hdkeychain.ExtendedKey) (string, string, error) {
	privKey, err := child.ECPrivKey()
	if err != nil {
		return "", "", fmt.Errorf("failed to get private key: %w", err)
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", "", fmt.Errorf("failed to get public key: %w", err)
	}

	address := pubkeyToEthAddress(pubKey.SerializeUncompressed())
	if address == "" {
		return "", "", fmt.Errorf("failed to derive address from public key")
	}

	return address, hex.EncodeToString(privKey.Serialize()), nil
}

// pubkeyToEthAddress converts an uncompressed public key to an Ethereum
// address: keccak256(pubkey X+Y)[12:32], 0x-prefixed hex.
func pubkeyToEthAddress(pubkeyUncompressed []byte) string {
	// Uncompressed pubkey is 65 bytes: 0x04 + 32-byte X + 32-byte Y.
	// Only X+Y are hashed, not the 0x04 prefix.
	if len(pubkeyUncompressed) != 65 || pubkeyUncompressed[0] != 0x04 {
		return ""
	}

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(pubkeyUncompressed[1:])
	hash := hasher.Sum(nil)

	return "0x" + hex.EncodeToString(hash[12:32])
}

// DeriveEthAddress derives the Ethereum address for child index of any
// extended key (public or private). Used for offline verification of a
// configured key against known addresses.
func DeriveEthAddress(extendedKey string, index uint32) (string, error) {
	key, err := hdkeychain.NewKeyFromString(strings.TrimSpace(extendedKey))
	if err != nil {
		return "", fmt.Errorf("invalid extended key: %w", err)
	}

	child, err := key.Derive(index)
	if err != nil {
		return "", fmt.Errorf("failed to derive child key at index %d: %w", index, err)
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to get public key: %w", err)
	}

	address := pubkeyToEthAddress(pubKey.SerializeUncompressed())
	if address == "" {
		return "", fmt.Errorf("failed to derive address from public key")
	}
	return address, nil
}
