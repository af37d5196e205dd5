package models

import (
	"math/big"
	"time"
)

// QuoteRequest describes the trade a taker wants priced
type QuoteRequest struct {
	BuyToken     string
	SellToken    string
	BuyAmount    *big.Int
	SellAmount   *big.Int
	TakerAddress string
	IntegratorID string
}

// IsSell reports whether the taker fixed the sell amount (sell-side quote)
func (r *QuoteRequest) IsSell() bool {
	return r.SellAmount != nil
}

// Quote is a maker's priced response. Indicative quotes carry no order or
// signature; firm quotes carry both and are the only kind persisted, as
// part of the job created when a taker accepts.
type Quote struct {
	MakerURI       string
	Order          *Order
	MakerAmount    *big.Int
	TakerAmount    *big.Int
	Expiry         time.Time
	MakerSignature *Signature
	FetchedAt      time.Time
}

// EffectivePrice returns the taker-facing price of the quote: amount
// received per unit sold for sell quotes (higher is better), amount paid
// per unit bought for buy quotes (lower is better).
func (q *Quote) EffectivePrice(sell bool) *big.Rat {
	if q.MakerAmount == nil || q.TakerAmount == nil ||
		q.MakerAmount.Sign() == 0 || q.TakerAmount.Sign() == 0 {
		return nil
	}
	if sell {
		return new(big.Rat).SetFrac(q.MakerAmount, q.TakerAmount)
	}
	return new(big.Rat).SetFrac(q.TakerAmount, q.MakerAmount)
}

// QueuePayload is the message body enqueued for asynchronous processing
type QueuePayload struct {
	OrderHash string `json:"order_hash"`
	Type      string `json:"type"`
}
