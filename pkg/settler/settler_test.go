package settler

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/otcdesk/rfq-settler/pkg/cache"
	"github.com/otcdesk/rfq-settler/pkg/circuitbreaker"
	"github.com/otcdesk/rfq-settler/pkg/config"
	"github.com/otcdesk/rfq-settler/pkg/logger"
	"github.com/otcdesk/rfq-settler/pkg/metrics"
	"github.com/otcdesk/rfq-settler/pkg/models"
	"github.com/otcdesk/rfq-settler/pkg/quoter"
	"github.com/otcdesk/rfq-settler/pkg/settler/mocks"
	"github.com/otcdesk/rfq-settler/pkg/store"
)

const testWorkerID = "0x1111111111111111111111111111111111111111"

type testRig struct {
	settler *Settler
	store   *store.MemoryStore
	chain   *mocks.MockChainClient
	makers  *mocks.MockMakerClient
	sink    *metrics.Recording
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	cfg := &config.Config{
		ChainID:             1,
		SettlementAddress:   "0x9999999999999999999999999999999999999999",
		WatchInterval:       5 * time.Millisecond,
		HeartbeatInterval:   30 * time.Second,
		ExpiryGrace:         2 * time.Minute,
		FinalityBlocks:      3,
		QuoteTimeout:        50 * time.Millisecond,
		SignTimeout:         50 * time.Millisecond,
		SignRetryDelay:      1 * time.Millisecond,
		InitialPriorityFee:  big.NewInt(2000000000),
		PriorityFeeCeiling:  big.NewInt(100000000000),
		GasMultiplier:       1.1,
		FallbackGasEstimate: 500000,
	}

	st := store.NewMemoryStore()
	chain := mocks.NewMockChainClient()
	makers := &mocks.MockMakerClient{}
	sink := metrics.NewRecording()
	breakers := circuitbreaker.NewRegistry(false, 5, time.Minute, time.Minute, &logger.EmptyLogger{})
	decimals := cache.NewDecimalsCache(time.Hour, 16)
	quotes := quoter.New("1", makers, breakers, nil, cfg.QuoteTimeout, 30*time.Second, &logger.EmptyLogger{}, sink)

	s := New(cfg, st, chain, makers, quotes, breakers, decimals, &logger.EmptyLogger{}, sink, testWorkerID)
	return &testRig{settler: s, store: st, chain: chain, makers: makers, sink: sink}
}

// newTestJob builds a fully populated job expiring an hour out
func newTestJob(t *testing.T, expiry uint64) *models.Job {
	t.Helper()

	packed, err := models.EncodeExpiryAndNonce(expiry, 1, big.NewInt(7))
	require.NoError(t, err)

	order := &models.Order{
		Maker:             common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		Taker:             common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		TxOrigin:          common.HexToAddress(testWorkerID),
		MakerToken:        common.HexToAddress("0x1111111111111111111111111111111111111112"),
		TakerToken:        common.HexToAddress("0x2222222222222222222222222222222222222223"),
		MakerAmount:       big.NewInt(1000000),
		TakerAmount:       big.NewInt(2000000),
		ExpiryAndNonce:    packed,
		ChainID:           1,
		VerifyingContract: common.HexToAddress("0x9999999999999999999999999999999999999999"),
	}

	now := time.Now()
	return &models.Job{
		OrderHash: order.Hash().Hex(),
		Order:     order,
		Fee: &models.Fee{
			Token:     order.TakerToken.Hex(),
			Amount:    big.NewInt(100),
			Type:      "fixed",
			Recipient: "0x4444444444444444444444444444444444444444",
		},
		MakerURI:       "https://maker.example.com",
		TakerSignature: &models.Signature{V: 27, R: make([]byte, 32), S: make([]byte, 32)},
		Status:         models.JobPendingEnqueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func futureExpiry() uint64 {
	return uint64(time.Now().Add(time.Hour).Unix())
}
