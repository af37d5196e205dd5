// Package mocks provides hand-rolled test doubles for the settler's
// external dependencies.
package mocks

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/otcdesk/rfq-settler/pkg/chainclient"
	"github.com/otcdesk/rfq-settler/pkg/makerclient"
	"github.com/otcdesk/rfq-settler/pkg/models"
)

// MockChainClient is a configurable chain client. Behavior defaults to
// benign values; hooks override individual calls per test.
type MockChainClient struct {
	mu sync.Mutex

	ChainIDValue int64
	SenderValue  common.Address

	GasPrice   *big.Int
	NonceValue uint64
	Balance    *big.Int
	Head       uint64

	GasEstimate    uint64
	GasEstimateErr error
	SimulateErr    error
	BroadcastErr   error

	TokenBalances map[common.Address]*big.Int
	Decimals      map[common.Address]uint8

	Receipts     map[common.Hash]*types.Receipt
	KnownTxs     map[common.Hash]*types.Transaction
	Blocks       map[uint64]*types.Block
	ValidSigners map[common.Address]bool

	BroadcastCalls []*types.Transaction
	SimulateCalls  int
}

var _ chainclient.Client = (*MockChainClient)(nil)

// NewMockChainClient creates a mock with sensible defaults
func NewMockChainClient() *MockChainClient {
	return &MockChainClient{
		ChainIDValue:  1,
		SenderValue:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		GasPrice:      big.NewInt(2000000000),
		Balance:       big.NewInt(1000000000000000000),
		Head:          1000,
		GasEstimate:   300000,
		TokenBalances: make(map[common.Address]*big.Int),
		Decimals:      make(map[common.Address]uint8),
		Receipts:      make(map[common.Hash]*types.Receipt),
		KnownTxs:      make(map[common.Hash]*types.Transaction),
		Blocks:        make(map[uint64]*types.Block),
		ValidSigners:  make(map[common.Address]bool),
	}
}

func (m *MockChainClient) ChainID() int64         { return m.ChainIDValue }
func (m *MockChainClient) Sender() common.Address { return m.SenderValue }

func (m *MockChainClient) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	if m.GasEstimateErr != nil {
		return 0, m.GasEstimateErr
	}
	return m.GasEstimate, nil
}

func (m *MockChainClient) SimulateCall(_ context.Context, _ ethereum.CallMsg) ([]byte, error) {
	m.mu.Lock()
	m.SimulateCalls++
	m.mu.Unlock()
	if m.SimulateErr != nil {
		return nil, m.SimulateErr
	}
	return []byte{}, nil
}

func (m *MockChainClient) GetNonce(_ context.Context, _ common.Address) (uint64, error) {
	return m.NonceValue, nil
}

func (m *MockChainClient) GetGasPriceEstimate(_ context.Context) (*big.Int, error) {
	if m.GasPrice == nil {
		return nil, ethereum.NotFound
	}
	return new(big.Int).Set(m.GasPrice), nil
}

// SignTransaction returns the transaction unchanged; hashes stay stable
// per fee parameters, which is all the tests need
func (m *MockChainClient) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

func (m *MockChainClient) BroadcastRawTransaction(_ context.Context, tx *types.Transaction) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BroadcastErr != nil {
		return common.Hash{}, m.BroadcastErr
	}
	m.BroadcastCalls = append(m.BroadcastCalls, tx)
	m.KnownTxs[tx.Hash()] = tx
	return tx.Hash(), nil
}

func (m *MockChainClient) GetTransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.KnownTxs[hash]
	if !ok {
		return nil, false, nil
	}
	return tx, true, nil
}

func (m *MockChainClient) GetReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Receipts[hash], nil
}

func (m *MockChainClient) GetBlock(_ context.Context, number *big.Int) (*types.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.Blocks[number.Uint64()]
	if !ok {
		header := &types.Header{Number: new(big.Int).Set(number), Time: 0}
		return types.NewBlockWithHeader(header), nil
	}
	return block, nil
}

func (m *MockChainClient) BlockNumber(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Head, nil
}

func (m *MockChainClient) GetBalance(_ context.Context, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(m.Balance), nil
}

func (m *MockChainClient) GetTokenBalances(_ context.Context, _ common.Address, owners []common.Address) ([]*big.Int, error) {
	balances := make([]*big.Int, 0, len(owners))
	for _, owner := range owners {
		balance, ok := m.TokenBalances[owner]
		if !ok {
			balance = new(big.Int).Lsh(big.NewInt(1), 200)
		}
		balances = append(balances, new(big.Int).Set(balance))
	}
	return balances, nil
}

func (m *MockChainClient) GetTokenDecimals(_ context.Context, token common.Address) (uint8, error) {
	if d, ok := m.Decimals[token]; ok {
		return d, nil
	}
	return 18, nil
}

func (m *MockChainClient) IsValidDelegatedSigner(_ context.Context, _, signer common.Address) (bool, error) {
	return m.ValidSigners[signer], nil
}

// BroadcastCount reports broadcasts observed so far
func (m *MockChainClient) BroadcastCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.BroadcastCalls)
}

// SetHead advances the mock chain head
func (m *MockChainClient) SetHead(head uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Head = head
}

// AddReceipt registers a mined receipt for a transaction hash
func (m *MockChainClient) AddReceipt(hash common.Hash, receipt *types.Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Receipts[hash] = receipt
}

// MockMakerClient is a configurable maker client
type MockMakerClient struct {
	mu sync.Mutex

	PriceFunc func(makerURI string, req *models.QuoteRequest) (*models.Quote, error)
	SignFunc  func(makerURI string, order *models.Order, orderHash string) (*models.Signature, error)

	PriceCalls int
	SignCalls  int
}

var _ makerclient.Client = (*MockMakerClient)(nil)

func (m *MockMakerClient) GetPrice(_ context.Context, makerURI string, req *models.QuoteRequest) (*models.Quote, error) {
	m.mu.Lock()
	m.PriceCalls++
	m.mu.Unlock()
	if m.PriceFunc == nil {
		return nil, ethereum.NotFound
	}
	return m.PriceFunc(makerURI, req)
}

func (m *MockMakerClient) Sign(_ context.Context, makerURI string, order *models.Order, orderHash string, _ *big.Int) (*models.Signature, error) {
	m.mu.Lock()
	m.SignCalls++
	m.mu.Unlock()
	if m.SignFunc == nil {
		return nil, ethereum.NotFound
	}
	return m.SignFunc(makerURI, order, orderHash)
}

// MockQueue records enqueued payloads
type MockQueue struct {
	mu         sync.Mutex
	GroupKeys  []string
	DedupeKeys []string
	Payloads   []models.QueuePayload
}

func (m *MockQueue) Enqueue(_ context.Context, groupKey, dedupeKey string, payload models.QueuePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GroupKeys = append(m.GroupKeys, groupKey)
	m.DedupeKeys = append(m.DedupeKeys, dedupeKey)
	m.Payloads = append(m.Payloads, payload)
	return nil
}

func (m *MockQueue) Consume(ctx context.Context, _ func(ctx context.Context, payload models.QueuePayload) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockQueue) Close() error { return nil }
