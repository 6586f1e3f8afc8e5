package receipt

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer countersigns receipt hashes with the platform's secp256k1 key.
// The hash chain stands on its own; the countersignature only proves the
// platform produced the receipt.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex-encoded secp256k1 private key (with or without a
// 0x prefix).
func NewSigner(hexKey string) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the signer's address in hex.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign signs the 32-byte receipt hash (hex encoded) and returns the
// signature as 0x-prefixed hex.
func (s *Signer) Sign(receiptHashHex string) (string, error) {
	digest, err := hex.DecodeString(receiptHashHex)
	if err != nil {
		return "", fmt.Errorf("decode receipt hash: %w", err)
	}
	if len(digest) != 32 {
		return "", fmt.Errorf("receipt hash must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return hexutil.Encode(sig), nil
}
