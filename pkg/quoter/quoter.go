// Package quoter aggregates maker quotes and selects the best one.
package quoter

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/otcdesk/rfq-settler/pkg/circuitbreaker"
	"github.com/otcdesk/rfq-settler/pkg/logger"
	"github.com/otcdesk/rfq-settler/pkg/makerclient"
	"github.com/otcdesk/rfq-settler/pkg/metrics"
	"github.com/otcdesk/rfq-settler/pkg/models"
)

// PriceDecimals is the precision prices are truncated to before they are
// shown to takers
const PriceDecimals = 18

// Quoter fans quote requests out to the maker endpoints registered for a
// token pair and picks the best usable response
type Quoter struct {
	chainID         string
	client          makerclient.Client
	breakers        *circuitbreaker.Registry
	makerURIs       map[string][]string
	quoteTimeout    time.Duration
	minExpiryBuffer time.Duration
	logger          logger.Logger
	metrics         metrics.Sink
}

// New creates a quoter. makerURIs maps a pair key (see PairKey, with "*"
// as a catch-all) to the endpoints quoting that pair.
func New(
	chainID string,
	client makerclient.Client,
	breakers *circuitbreaker.Registry,
	makerURIs map[string][]string,
	quoteTimeout time.Duration,
	minExpiryBuffer time.Duration,
	log logger.Logger,
	sink metrics.Sink,
) *Quoter {
	return &Quoter{
		chainID:         chainID,
		client:          client,
		breakers:        breakers,
		makerURIs:       makerURIs,
		quoteTimeout:    quoteTimeout,
		minExpiryBuffer: minExpiryBuffer,
		logger:          log,
		metrics:         sink,
	}
}

// PairKey builds the registry key for a sell/buy token pair
func PairKey(sellToken, buyToken string) string {
	return strings.ToLower(sellToken) + "-" + strings.ToLower(buyToken)
}

// EndpointsFor returns the maker endpoints registered for the request's pair
func (q *Quoter) EndpointsFor(req *models.QuoteRequest) []string {
	uris := q.makerURIs[PairKey(req.SellToken, req.BuyToken)]
	uris = append(uris, q.makerURIs["*"]...)
	return uris
}

// FetchQuotes requests prices from every registered endpoint in parallel.
// Endpoint failures are logged and skipped; the call never fails as a
// whole. Each fetch is bounded by its own timeout.
func (q *Quoter) FetchQuotes(ctx context.Context, req *models.QuoteRequest) []*models.Quote {
	uris := q.EndpointsFor(req)
	if len(uris) == 0 {
		return nil
	}

	results := make(chan *models.Quote, len(uris))
	var wg sync.WaitGroup

	for _, uri := range uris {
		breaker := q.breakers.For(uri)
		if breaker.IsOpen() {
			q.logger.Debug("Skipping maker %s: circuit open", uri)
			continue
		}

		wg.Add(1)
		go func(uri string, breaker *circuitbreaker.CircuitBreaker) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, q.quoteTimeout)
			defer cancel()

			quote, err := q.client.GetPrice(fetchCtx, uri, req)
			if err != nil {
				breaker.RecordFailure()
				q.logger.Notice("Quote fetch from %s failed: %v", uri, err)
				return
			}
			breaker.RecordSuccess()

			if mismatched(quote, req) {
				// Keep the quote; selection still considers it
				q.logger.Info("Quote from %s fills a different amount than requested", uri)
			}

			q.metrics.QuoteInserted(q.chainID)
			results <- quote
		}(uri, breaker)
	}

	wg.Wait()
	close(results)

	quotes := make([]*models.Quote, 0, len(uris))
	for quote := range results {
		quotes = append(quotes, quote)
	}
	return quotes
}

// mismatched reports whether the maker priced a different amount than the
// taker asked for
func mismatched(quote *models.Quote, req *models.QuoteRequest) bool {
	if req.IsSell() {
		return quote.TakerAmount != nil && quote.TakerAmount.Cmp(req.SellAmount) != 0
	}
	return quote.MakerAmount != nil && req.BuyAmount != nil && quote.MakerAmount.Cmp(req.BuyAmount) != 0
}

// SelectBest picks the quote with the best effective price for the taker
// among those expiring after now plus the minimum buffer. The first quote
// holding the best price wins ties. Returns nil when none qualifies.
func (q *Quoter) SelectBest(quotes []*models.Quote, req *models.QuoteRequest, now time.Time) *models.Quote {
	sell := req.IsSell()
	cutoff := now.Add(q.minExpiryBuffer)

	var best *models.Quote
	var bestPrice *big.Rat

	for _, quote := range quotes {
		if !quote.Expiry.After(cutoff) {
			q.metrics.ExpiryTooSoon(q.chainID)
			q.logger.Debug("Quote from %s expires too soon", quote.MakerURI)
			continue
		}

		price := quote.EffectivePrice(sell)
		if price == nil {
			continue
		}

		if best == nil {
			best, bestPrice = quote, price
			continue
		}

		// Sell quotes price what the taker receives, buy quotes what the
		// taker pays
		better := price.Cmp(bestPrice) > 0
		if !sell {
			better = price.Cmp(bestPrice) < 0
		}
		if better {
			best = quote
			bestPrice = price
		}
	}

	return best
}

// BestQuote runs selection and returns the winning quote together with
// its taker-facing price, truncated to the precision prices are quoted
// at. Returns (nil, nil) when no quote qualifies.
func (q *Quoter) BestQuote(quotes []*models.Quote, req *models.QuoteRequest, now time.Time) (*models.Quote, *big.Rat) {
	best := q.SelectBest(quotes, req, now)
	if best == nil {
		return nil, nil
	}
	return best, RoundPrice(best.EffectivePrice(req.IsSell()), PriceDecimals)
}

// RoundPrice truncates a price toward zero at the given decimal precision.
// One extra digit is computed first so a value sitting exactly on the
// truncation boundary is not rounded twice.
func RoundPrice(price *big.Rat, decimals int) *big.Rat {
	if price == nil {
		return nil
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals+1)), nil)
	scaled := new(big.Int).Quo(
		new(big.Int).Mul(price.Num(), scale),
		price.Denom(),
	)
	// Drop the extra digit toward zero
	scaled.Quo(scaled, big.NewInt(10))

	return new(big.Rat).SetFrac(scaled, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}
