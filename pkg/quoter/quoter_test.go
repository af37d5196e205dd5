package quoter

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcdesk/rfq-settler/pkg/circuitbreaker"
	"github.com/otcdesk/rfq-settler/pkg/logger"
	"github.com/otcdesk/rfq-settler/pkg/metrics"
	"github.com/otcdesk/rfq-settler/pkg/models"
	"github.com/otcdesk/rfq-settler/pkg/settler/mocks"
)

const (
	tokenWETH = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	tokenUSDC = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

func newTestQuoter(client *mocks.MockMakerClient, makerURIs map[string][]string, enableBreakers bool) (*Quoter, *metrics.Recording, *circuitbreaker.Registry) {
	sink := metrics.NewRecording()
	breakers := circuitbreaker.NewRegistry(enableBreakers, 2, time.Minute, time.Minute, &logger.EmptyLogger{})
	q := New("1", client, breakers, makerURIs, 50*time.Millisecond, 30*time.Second, &logger.EmptyLogger{}, sink)
	return q, sink, breakers
}

func sellRequest(amount int64) *models.QuoteRequest {
	return &models.QuoteRequest{
		BuyToken:     tokenWETH,
		SellToken:    tokenUSDC,
		SellAmount:   big.NewInt(amount),
		TakerAddress: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}
}

func sellQuote(makerURI string, makerAmount, takerAmount int64, expiry time.Time) *models.Quote {
	return &models.Quote{
		MakerURI:    makerURI,
		MakerAmount: big.NewInt(makerAmount),
		TakerAmount: big.NewInt(takerAmount),
		Expiry:      expiry,
	}
}

func TestPairKey(t *testing.T) {
	key := PairKey(tokenUSDC, tokenWETH)
	assert.Equal(t, PairKey("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"), key)
}

func TestEndpointsForIncludesCatchAll(t *testing.T) {
	q, _, _ := newTestQuoter(&mocks.MockMakerClient{}, map[string][]string{
		PairKey(tokenUSDC, tokenWETH): {"https://a.example.com"},
		"*":                           {"https://b.example.com"},
	}, false)

	uris := q.EndpointsFor(sellRequest(1000))
	assert.ElementsMatch(t, []string{"https://a.example.com", "https://b.example.com"}, uris)

	// A pair with no dedicated makers still gets the catch-all
	uris = q.EndpointsFor(&models.QuoteRequest{BuyToken: "0x01", SellToken: "0x02", SellAmount: big.NewInt(1)})
	assert.Equal(t, []string{"https://b.example.com"}, uris)
}

func TestFetchQuotesParallelCollection(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	client := &mocks.MockMakerClient{
		PriceFunc: func(makerURI string, req *models.QuoteRequest) (*models.Quote, error) {
			if makerURI == "https://down.example.com" {
				return nil, assert.AnError
			}
			return sellQuote(makerURI, 500, req.SellAmount.Int64(), expiry), nil
		},
	}
	q, sink, _ := newTestQuoter(client, map[string][]string{
		"*": {"https://a.example.com", "https://b.example.com", "https://down.example.com"},
	}, false)

	quotes := q.FetchQuotes(context.Background(), sellRequest(1000))

	assert.Len(t, quotes, 2, "endpoint failures are skipped, not fatal")
	assert.Equal(t, 3, client.PriceCalls)
	assert.Equal(t, 2, sink.Count("quote_inserted"))
}

func TestFetchQuotesKeepsMismatchedAmounts(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	client := &mocks.MockMakerClient{
		PriceFunc: func(makerURI string, _ *models.QuoteRequest) (*models.Quote, error) {
			// Maker fills 900 against a request for 1000
			return sellQuote(makerURI, 450, 900, expiry), nil
		},
	}
	q, _, _ := newTestQuoter(client, map[string][]string{"*": {"https://a.example.com"}}, false)

	quotes := q.FetchQuotes(context.Background(), sellRequest(1000))
	require.Len(t, quotes, 1, "mismatched fills are logged, never discarded")
}

func TestFetchQuotesSkipsOpenBreaker(t *testing.T) {
	client := &mocks.MockMakerClient{
		PriceFunc: func(string, *models.QuoteRequest) (*models.Quote, error) {
			return nil, assert.AnError
		},
	}
	q, _, breakers := newTestQuoter(client, map[string][]string{"*": {"https://flaky.example.com"}}, true)

	// Threshold of two failures trips the breaker
	req := sellRequest(1000)
	q.FetchQuotes(context.Background(), req)
	q.FetchQuotes(context.Background(), req)
	require.True(t, breakers.For("https://flaky.example.com").IsOpen())

	q.FetchQuotes(context.Background(), req)
	assert.Equal(t, 2, client.PriceCalls, "open circuit skips the endpoint entirely")
}

func TestSelectBestSellSide(t *testing.T) {
	now := time.Now()
	expiry := now.Add(time.Hour)
	req := sellRequest(1000)

	q, _, _ := newTestQuoter(&mocks.MockMakerClient{}, nil, false)

	// Maker B pays out more per unit sold
	quotes := []*models.Quote{
		sellQuote("https://a.example.com", 400, 1000, expiry),
		sellQuote("https://b.example.com", 500, 1000, expiry),
		sellQuote("https://c.example.com", 450, 1000, expiry),
	}

	best := q.SelectBest(quotes, req, now)
	require.NotNil(t, best)
	assert.Equal(t, "https://b.example.com", best.MakerURI)
}

func TestSelectBestBuySidePrefersLowerCost(t *testing.T) {
	now := time.Now()
	expiry := now.Add(time.Hour)
	req := &models.QuoteRequest{
		BuyToken:  tokenWETH,
		SellToken: tokenUSDC,
		BuyAmount: big.NewInt(500),
	}

	q, _, _ := newTestQuoter(&mocks.MockMakerClient{}, nil, false)

	quotes := []*models.Quote{
		sellQuote("https://a.example.com", 500, 1100, expiry),
		sellQuote("https://b.example.com", 500, 1000, expiry),
	}

	best := q.SelectBest(quotes, req, now)
	require.NotNil(t, best)
	assert.Equal(t, "https://b.example.com", best.MakerURI, "buy quotes compete on cost to the taker")
}

func TestSelectBestFirstBestWinsTies(t *testing.T) {
	now := time.Now()
	expiry := now.Add(time.Hour)

	q, _, _ := newTestQuoter(&mocks.MockMakerClient{}, nil, false)

	quotes := []*models.Quote{
		sellQuote("https://first.example.com", 500, 1000, expiry),
		sellQuote("https://second.example.com", 500, 1000, expiry),
	}

	best := q.SelectBest(quotes, sellRequest(1000), now)
	require.NotNil(t, best)
	assert.Equal(t, "https://first.example.com", best.MakerURI)
}

func TestSelectBestEnforcesExpiryBuffer(t *testing.T) {
	now := time.Now()
	q, sink, _ := newTestQuoter(&mocks.MockMakerClient{}, nil, false)

	// Best price expires inside the 30s buffer; the slower one survives
	quotes := []*models.Quote{
		sellQuote("https://soon.example.com", 600, 1000, now.Add(10*time.Second)),
		sellQuote("https://later.example.com", 500, 1000, now.Add(time.Hour)),
	}

	best := q.SelectBest(quotes, sellRequest(1000), now)
	require.NotNil(t, best)
	assert.Equal(t, "https://later.example.com", best.MakerURI)
	assert.Equal(t, 1, sink.Count("expiry_too_soon"))

	// Nothing qualifies
	best = q.SelectBest(quotes[:1], sellRequest(1000), now)
	assert.Nil(t, best)
}

func TestSelectBestSkipsUnpriceableQuotes(t *testing.T) {
	now := time.Now()
	expiry := now.Add(time.Hour)
	q, _, _ := newTestQuoter(&mocks.MockMakerClient{}, nil, false)

	zero := sellQuote("https://zero.example.com", 0, 1000, expiry)
	ok := sellQuote("https://ok.example.com", 400, 1000, expiry)

	best := q.SelectBest([]*models.Quote{zero, ok}, sellRequest(1000), now)
	require.NotNil(t, best)
	assert.Equal(t, "https://ok.example.com", best.MakerURI)
}

func TestBestQuoteReturnsRoundedPrice(t *testing.T) {
	now := time.Now()
	expiry := now.Add(time.Hour)
	q, _, _ := newTestQuoter(&mocks.MockMakerClient{}, nil, false)

	// 2/3 truncates at the quoted precision instead of repeating forever
	quotes := []*models.Quote{sellQuote("https://a.example.com", 2, 3, expiry)}

	best, price := q.BestQuote(quotes, sellRequest(3), now)
	require.NotNil(t, best)
	expected := new(big.Rat).SetFrac(
		big.NewInt(666666666666666666),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals), nil),
	)
	assert.Equal(t, 0, price.Cmp(expected))

	best, price = q.BestQuote(nil, sellRequest(3), now)
	assert.Nil(t, best)
	assert.Nil(t, price)
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		name     string
		num      int64
		denom    int64
		decimals int
		expected string
	}{
		{"Exact value untouched", 3, 2, 2, "3/2"},
		{"Truncates toward zero", 1, 3, 2, "33/100"},
		{"Boundary digit dropped once", 12345, 10000, 2, "123/100"},
		{"Zero", 0, 1, 4, "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			price := big.NewRat(tc.num, tc.denom)
			rounded := RoundPrice(price, tc.decimals)
			assert.Equal(t, tc.expected, rounded.RatString())
		})
	}

	assert.Nil(t, RoundPrice(nil, 2))
}
