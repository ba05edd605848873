package wallet

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/sirupsen/logrus"

	fieldcrypt "creditgate/pkg/crypto"
)

const testXpub = "xpub6DZ3xpo1ixWwwNDQ7KFTamRVM46FQtgcDxsmAyeBpTHEo79E1n1LuWiZSMSRhqMQmrHaqJpek2TbtTzbAdNWJm9AhGdv7iJUpDjA6oJD84b"

func testAccountXprv(t *testing.T) string {
	t.Helper()
	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	if err != nil {
		t.Fatalf("failed to decode seed: %v", err)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("failed to create master key: %v", err)
	}
	purpose, _ := master.Derive(hdkeychain.HardenedKeyStart + 44)
	coin, _ := purpose.Derive(hdkeychain.HardenedKeyStart + 60)
	account, _ := coin.Derive(hdkeychain.HardenedKeyStart + 0)
	change, _ := account.Derive(0)
	return change.String()
}

func testEncryptor(t *testing.T) *fieldcrypt.FieldEncryptor {
	t.Helper()
	fe, err := fieldcrypt.DeriveFieldEncryptor([]byte("test-master-secret-that-is-long!"), "signing-credential")
	if err != nil {
		t.Fatalf("DeriveFieldEncryptor: %v", err)
	}
	return fe
}

func TestDeriveEthAddress(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		index     uint32
		expected  string
		wantError bool
	}{
		{
			name:     "index_zero",
			key:      testXpub,
			index:    0,
			expected: "0x022b971dff0c43305e691ded7a14367af19d6407",
		},
		{
			name:     "index_one",
			key:      testXpub,
			index:    1,
			expected: "0xbb7a182240010703dc81d6b1eff630ca02a169fd",
		},
		{
			name:      "invalid_key",
			key:       "not-a-key",
			index:     0,
			wantError: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			address, err := DeriveEthAddress(test.key, test.index)
			if test.wantError {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if address != test.expected {
				t.Fatalf("expected %q, got %q", test.expected, address)
			}
		})
	}
}

func TestDeriveEthAddressMatchesPrivateDerivation(t *testing.T) {
	// The address derived from the xprv must match the one derived from
	// the corresponding neutered key, or deposits would go to addresses
	// the broadcaster cannot sign for.
	xprv := testAccountXprv(t)
	key, err := hdkeychain.NewKeyFromString(xprv)
	if err != nil {
		t.Fatalf("failed to parse xprv: %v", err)
	}
	neutered, err := key.Neuter()
	if err != nil {
		t.Fatalf("failed to neuter key: %v", err)
	}

	fromPriv, err := DeriveEthAddress(xprv, 3)
	if err != nil {
		t.Fatalf("derive from xprv: %v", err)
	}
	fromPub, err := DeriveEthAddress(neutered.String(), 3)
	if err != nil {
		t.Fatalf("derive from xpub: %v", err)
	}
	if fromPriv != fromPub {
		t.Fatalf("address mismatch: xprv %q vs xpub %q", fromPriv, fromPub)
	}
}

func TestNewIssuerRejectsPublicKey(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	_, err = NewIssuer(db, testXpub, "ETH", testEncryptor(t), logrus.New())
	if err == nil {
		t.Fatal("expected error for public key input")
	}
	if !strings.Contains(err.Error(), "xprv") {
		t.Fatalf("expected xprv requirement error, got %v", err)
	}
}

func TestNewIssuerRejectsUnknownAsset(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	_, err = NewIssuer(db, testAccountXprv(t), "DOGE", testEncryptor(t), logrus.New())
	if err == nil {
		t.Fatal("expected error for unsupported asset")
	}
}

func TestIssueClaimsSequentialIndexes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	encryptor := testEncryptor(t)
	issuer, err := NewIssuer(db, testAccountXprv(t), "ETH", encryptor, logrus.New())
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	mock.ExpectQuery("UPDATE creditgate.hd_wallet_state").
		WillReturnRows(sqlmock.NewRows([]string{"next_index"}).AddRow(0))
	mock.ExpectQuery("UPDATE creditgate.hd_wallet_state").
		WillReturnRows(sqlmock.NewRows([]string{"next_index"}).AddRow(1))

	addr1, cred1, err := issuer.Issue(context.Background())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	addr2, cred2, err := issuer.Issue(context.Background())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if addr1 == addr2 {
		t.Fatalf("expected distinct addresses, both %q", addr1)
	}
	if !strings.HasPrefix(addr1, "0x") || len(addr1) != 42 {
		t.Fatalf("unexpected address format: %q", addr1)
	}
	if !fieldcrypt.IsEncrypted(cred1) || !fieldcrypt.IsEncrypted(cred2) {
		t.Fatal("expected encrypted credentials")
	}

	// The credential must decrypt to a 32-byte hex key.
	plain, err := encryptor.Decrypt(cred1)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(plain) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(plain))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIssueBitcoinAddressFormat(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	encryptor := testEncryptor(t)
	issuer, err := NewIssuer(db, testAccountXprv(t), "BTC", encryptor, logrus.New())
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	mock.ExpectQuery("UPDATE creditgate.hd_wallet_state").
		WillReturnRows(sqlmock.NewRows([]string{"next_index"}).AddRow(0))

	addr, cred, err := issuer.Issue(context.Background())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(addr, "1") {
		t.Fatalf("expected mainnet P2PKH address, got %q", addr)
	}

	plain, err := encryptor.Decrypt(cred)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	// Mainnet compressed-key WIF starts with K or L.
	if !strings.HasPrefix(plain, "K") && !strings.HasPrefix(plain, "L") {
		t.Fatalf("expected WIF credential, got %q", plain[:4])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
