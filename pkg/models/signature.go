package models

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureType distinguishes how a signature digest was produced
type SignatureType int

const (
	SignatureEIP712 SignatureType = iota
	SignatureEthSign
)

// Signature holds an ECDSA signature over an order hash
type Signature struct {
	Type SignatureType `json:"signatureType"`
	V    byte          `json:"v"`
	R    []byte        `json:"r"`
	S    []byte        `json:"s"`
}

// Clone returns a deep copy of the signature
func (s *Signature) Clone() *Signature {
	if s == nil {
		return nil
	}
	c := *s
	c.R = append([]byte(nil), s.R...)
	c.S = append([]byte(nil), s.S...)
	return &c
}

// Normalize left-pads truncated R and S components to their full 32-byte
// width. Maker servers that strip leading zero bytes produce short
// components; recovery requires fixed widths.
func (s *Signature) Normalize() error {
	if s == nil {
		return fmt.Errorf("nil signature")
	}
	if len(s.R) > 32 || len(s.S) > 32 {
		return fmt.Errorf("signature component too long: r=%d s=%d", len(s.R), len(s.S))
	}
	s.R = common.LeftPadBytes(s.R, 32)
	s.S = common.LeftPadBytes(s.S, 32)
	return nil
}

// RecoverSigner returns the address that produced the signature over the
// given order hash. The signature is normalized first.
func (s *Signature) RecoverSigner(orderHash common.Hash) (common.Address, error) {
	if err := s.Normalize(); err != nil {
		return common.Address{}, err
	}

	digest := orderHash.Bytes()
	if s.Type == SignatureEthSign {
		prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n32%s", orderHash.Bytes())
		digest = crypto.Keccak256([]byte(prefixed))
	}

	v := s.V
	if v >= 27 {
		v -= 27
	}
	sig := make([]byte, 65)
	copy(sig[0:32], s.R)
	copy(sig[32:64], s.S)
	sig[64] = v

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Packed returns the 65-byte r||s||v wire form used in settlement calldata
func (s *Signature) Packed() ([]byte, error) {
	if err := s.Normalize(); err != nil {
		return nil, err
	}
	out := make([]byte, 65)
	copy(out[0:32], s.R)
	copy(out[32:64], s.S)
	out[64] = s.V
	return out, nil
}

// ParseSignatureHex decodes a 65-byte r||s||v hex signature
func ParseSignatureHex(raw string) (*Signature, error) {
	raw = strings.TrimPrefix(raw, "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("invalid signature length: %d", len(b))
	}
	return &Signature{
		V: b[64],
		R: append([]byte(nil), b[0:32]...),
		S: append([]byte(nil), b[32:64]...),
	}, nil
}
