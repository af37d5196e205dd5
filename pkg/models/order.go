package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Order is a signed off-chain RFQ trade intent between a maker and taker
type Order struct {
	Maker             common.Address `json:"maker"`
	Taker             common.Address `json:"taker"`
	TxOrigin          common.Address `json:"txOrigin"`
	MakerToken        common.Address `json:"makerToken"`
	TakerToken        common.Address `json:"takerToken"`
	MakerAmount       *big.Int       `json:"makerAmount"`
	TakerAmount       *big.Int       `json:"takerAmount"`
	ExpiryAndNonce    *big.Int       `json:"expiryAndNonce"`
	ChainID           int64          `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.MakerAmount != nil {
		c.MakerAmount = new(big.Int).Set(o.MakerAmount)
	}
	if o.TakerAmount != nil {
		c.TakerAmount = new(big.Int).Set(o.TakerAmount)
	}
	if o.ExpiryAndNonce != nil {
		c.ExpiryAndNonce = new(big.Int).Set(o.ExpiryAndNonce)
	}
	return &c
}

// Hash computes the order identity hash used as the job key and as the
// digest makers sign over
func (o *Order) Hash() common.Hash {
	buf := make([]byte, 0, 9*32)
	buf = append(buf, common.LeftPadBytes(o.Maker.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(o.Taker.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(o.TxOrigin.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(o.MakerToken.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(o.TakerToken.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(o.MakerAmount.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(o.TakerAmount.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(o.ExpiryAndNonce.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(o.VerifyingContract.Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// Expiry returns the unix expiry seconds decoded from the packed field
func (o *Order) Expiry() uint64 {
	expiry, _, _ := DecodeExpiryAndNonce(o.ExpiryAndNonce)
	return expiry
}

const (
	expiryShift      = 192
	nonceBucketShift = 128
)

var (
	sixtyFourBitMask   = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))
	oneTwentyEightMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// EncodeExpiryAndNonce packs an order expiry, nonce bucket and nonce into
// one uint256: expiry occupies bits 255..192, the bucket bits 191..128 and
// the nonce the low 128 bits.
func EncodeExpiryAndNonce(expiry uint64, bucket uint64, nonce *big.Int) (*big.Int, error) {
	if nonce == nil || nonce.Sign() < 0 || nonce.BitLen() > 128 {
		return nil, fmt.Errorf("nonce must fit in 128 bits")
	}
	packed := new(big.Int).Lsh(new(big.Int).SetUint64(expiry), expiryShift)
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(bucket), nonceBucketShift))
	packed.Or(packed, nonce)
	return packed, nil
}

// DecodeExpiryAndNonce reverses EncodeExpiryAndNonce exactly
func DecodeExpiryAndNonce(packed *big.Int) (expiry uint64, bucket uint64, nonce *big.Int) {
	if packed == nil {
		return 0, 0, big.NewInt(0)
	}
	expiry = new(big.Int).And(new(big.Int).Rsh(packed, expiryShift), sixtyFourBitMask).Uint64()
	bucket = new(big.Int).And(new(big.Int).Rsh(packed, nonceBucketShift), sixtyFourBitMask).Uint64()
	nonce = new(big.Int).And(packed, oneTwentyEightMask)
	return expiry, bucket, nonce
}
