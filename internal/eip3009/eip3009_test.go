package eip3009

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func testDomain() Domain {
	return Domain{
		Name:         "USDC",
		Version:      "2",
		ChainID:      big.NewInt(84532),
		TokenAddress: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
	}
}

func TestCreateAuthorization(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	auth, err := CreateAuthorization(from, to, big.NewInt(10000), 300)
	if err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}
	if auth.From != from || auth.To != to {
		t.Errorf("addresses not carried through: %+v", auth)
	}
	if auth.Value.Cmp(big.NewInt(10000)) != 0 {
		t.Errorf("Value = %s", auth.Value)
	}
	if auth.ValidBefore.Cmp(auth.ValidAfter) <= 0 {
		t.Errorf("validity window inverted: after=%s before=%s", auth.ValidAfter, auth.ValidBefore)
	}

	var zero [32]byte
	if auth.Nonce == zero {
		t.Error("nonce was not generated")
	}
}

func TestGenerateNonceUnique(t *testing.T) {
	a, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	b, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	if a == b {
		t.Error("two nonces collided")
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	auth, err := CreateAuthorization(from, to, big.NewInt(10000), 300)
	if err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}

	sig, err := SignAuthorization(key, testDomain(), auth)
	if err != nil {
		t.Fatalf("SignAuthorization: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("unexpected signature format: %s", sig)
	}

	recovered, err := RecoverSigner(testDomain(), auth, sig)
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if recovered != from {
		t.Errorf("recovered %s, want %s", recovered.Hex(), from.Hex())
	}
}

func TestRecoverRejectsWrongDomain(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	auth, err := CreateAuthorization(from, to, big.NewInt(10000), 300)
	if err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}
	sig, err := SignAuthorization(key, testDomain(), auth)
	if err != nil {
		t.Fatalf("SignAuthorization: %v", err)
	}

	// The same signature under a different chain's domain must not recover
	// to the signer.
	other := testDomain()
	other.ChainID = big.NewInt(8453)
	recovered, err := RecoverSigner(other, auth, sig)
	if err == nil && recovered == from {
		t.Error("signature validated under the wrong domain")
	}
}

func TestDecodeSignature(t *testing.T) {
	tests := []struct {
		name    string
		sig     string
		wantErr bool
	}{
		{"too short", "0xdeadbeef", true},
		{"not hex", "0x" + strings.Repeat("zz", 65), true},
		{"bad recovery id", "0x" + strings.Repeat("00", 64) + "05", true},
		{"valid offset form", "0x" + strings.Repeat("11", 64) + "1b", false},
		{"valid raw form", "0x" + strings.Repeat("11", 64) + "00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSignature(tt.sig)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeSignature(%s) err = %v, wantErr %v", tt.sig, err, tt.wantErr)
			}
		})
	}
}

func TestParseNonce(t *testing.T) {
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	encoded := common.BytesToHash(nonce[:]).Hex()

	parsed, err := ParseNonce(encoded)
	if err != nil {
		t.Fatalf("ParseNonce: %v", err)
	}
	if parsed != nonce {
		t.Error("nonce did not round-trip")
	}

	if _, err := ParseNonce("0x1234"); err == nil {
		t.Error("short nonce accepted")
	}
}
