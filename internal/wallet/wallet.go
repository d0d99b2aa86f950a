// Package wallet provides ed25519 key management and transaction signing
// for the chain wire format, plus password-based encryption of keys at
// rest.
package wallet

import (
	"crypto/ed25519"
	"fmt"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// Wallet holds an ed25519 keypair. The address is the base58-encoded
// public key.
type Wallet struct {
	priv ed25519.PrivateKey
	addr string
}

// New creates a Wallet from a 64-byte ed25519 private key (seed followed
// by public key).
func New(priv ed25519.PrivateKey) (*Wallet, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: expected %d-byte private key, got %d bytes", ed25519.PrivateKeySize, len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Wallet{priv: priv, addr: Base58Encode(pub)}, nil
}

// FromBase58 creates a Wallet from a base58-encoded 64-byte private key,
// the format wallet apps export.
func FromBase58(encoded string) (*Wallet, error) {
	raw, err := Base58Decode(encoded)
	if err != nil {
		return nil, err
	}
	return New(ed25519.PrivateKey(raw))
}

// Address returns the base58-encoded public key.
func (w *Wallet) Address() string {
	return w.addr
}

// SignTransaction signs a serialized unsigned transaction in place and
// returns the signed bytes plus the base58 signature. The wire format is
// a compact-u16 signature count, that many 64-byte signature slots, then
// the message; the fee payer's signature goes in the first slot, and the
// signable content is the message alone.
func (w *Wallet) SignTransaction(raw []byte) ([]byte, string, error) {
	sigCount, offset, err := decodeCompactU16(raw)
	if err != nil {
		return nil, "", fmt.Errorf("wallet: parse signature count: %w", err)
	}
	if sigCount == 0 {
		return nil, "", fmt.Errorf("wallet: %w: transaction reserves no signature slots", domain.ErrSigningFailed)
	}
	msgStart := offset + sigCount*ed25519.SignatureSize
	if msgStart > len(raw) {
		return nil, "", fmt.Errorf("wallet: %w: truncated transaction", domain.ErrSigningFailed)
	}

	sig := ed25519.Sign(w.priv, raw[msgStart:])

	signed := make([]byte, len(raw))
	copy(signed, raw)
	copy(signed[offset:offset+ed25519.SignatureSize], sig)
	return signed, Base58Encode(sig), nil
}

// decodeCompactU16 reads the shortvec length prefix, returning the value
// and the number of bytes consumed.
func decodeCompactU16(b []byte) (int, int, error) {
	value := 0
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("truncated compact-u16")
		}
		elem := int(b[i])
		value |= (elem & 0x7f) << (7 * i)
		if elem&0x80 == 0 {
			if value > 0xffff {
				return 0, 0, fmt.Errorf("compact-u16 out of range")
			}
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("compact-u16 too long")
}
