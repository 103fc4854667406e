package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

// Signer signs Solana transactions with the wallet's ed25519 key.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewSigner creates a Signer from a base58-encoded ed25519 private key
// (64 bytes) or seed (32 bytes).
func NewSigner(privateKeyBase58 string) (*Signer, error) {
	priv, err := decodeKeyBytes(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w", err)
	}
	return &Signer{
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// PublicKey returns the wallet address as a base58 string.
func (s *Signer) PublicKey() string {
	return base58.Encode(s.publicKey)
}

// SignTransaction signs an unsigned base64 transaction as its fee payer and
// returns the signed transaction (base64) plus the signature (base58).
//
// Wire layout: a compact-u16 signature count, the 64-byte signature slots,
// then the message. The aggregator builds transactions with our wallet as
// the fee payer, so the first slot is ours.
func (s *Signer) SignTransaction(unsignedTxBase64 string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(unsignedTxBase64)
	if err != nil {
		return "", "", fmt.Errorf("crypto/signer: decode transaction: %w", err)
	}

	numSigs, offset, err := decodeCompactU16(raw)
	if err != nil {
		return "", "", fmt.Errorf("crypto/signer: parse signature count: %w", err)
	}
	if numSigs == 0 {
		return "", "", fmt.Errorf("crypto/signer: transaction has no signature slots")
	}

	msgStart := offset + numSigs*ed25519.SignatureSize
	if msgStart >= len(raw) {
		return "", "", fmt.Errorf("crypto/signer: truncated transaction (%d bytes, need %d)", len(raw), msgStart)
	}

	signature := ed25519.Sign(s.privateKey, raw[msgStart:])
	copy(raw[offset:offset+ed25519.SignatureSize], signature)

	return base64.StdEncoding.EncodeToString(raw), base58.Encode(signature), nil
}

// SignMessage signs arbitrary bytes, used for RPC provider authentication.
func (s *Signer) SignMessage(msg []byte) string {
	return base58.Encode(ed25519.Sign(s.privateKey, msg))
}

// decodeCompactU16 reads the Solana compact-u16 length prefix, returning the
// value and the number of bytes consumed.
func decodeCompactU16(data []byte) (int, int, error) {
	var value, shift int
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("unexpected end of input")
		}
		b := data[i]
		value |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("compact-u16 too long")
}
