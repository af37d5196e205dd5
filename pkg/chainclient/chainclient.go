package chainclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/otcdesk/rfq-settler/pkg/contracts"
	"github.com/otcdesk/rfq-settler/pkg/logger"
)

// Client is the blockchain surface the settler depends on. The ethclient
// implementation lives behind it so tests can substitute a mock.
type Client interface {
	ChainID() int64
	Sender() common.Address

	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SimulateCall(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	GetNonce(ctx context.Context, address common.Address) (uint64, error)
	// GetGasPriceEstimate returns a fast inclusion estimate: the node's
	// suggestion with the configured multiplier applied.
	GetGasPriceEstimate(ctx context.Context) (*big.Int, error)
	SignTransaction(tx *types.Transaction) (*types.Transaction, error)
	BroadcastRawTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	GetTransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	// GetReceipt returns (nil, nil) when the transaction is not yet mined.
	GetReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	GetBlock(ctx context.Context, number *big.Int) (*types.Block, error)
	BlockNumber(ctx context.Context) (uint64, error)
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
	GetTokenBalances(ctx context.Context, token common.Address, owners []common.Address) ([]*big.Int, error)
	GetTokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	IsValidDelegatedSigner(ctx context.Context, maker, signer common.Address) (bool, error)
}

// EthClient is the production Client backed by a single chain's RPC node
type EthClient struct {
	chainID       int64
	client        *ethclient.Client
	privateKey    *ecdsa.PrivateKey
	sender        common.Address
	signer        types.Signer
	settlement    common.Address
	gasMultiplier float64
	logger        logger.Logger
}

var _ Client = (*EthClient)(nil)

// New connects to the RPC endpoint and prepares the transaction signer
func New(ctx context.Context, chainID int64, rpcURL string, settlementAddress string, privateKeyHex string, gasMultiplier float64, log logger.Logger) (*EthClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &EthClient{
		chainID:       chainID,
		client:        client,
		privateKey:    privateKey,
		sender:        crypto.PubkeyToAddress(privateKey.PublicKey),
		signer:        types.LatestSignerForChainID(big.NewInt(chainID)),
		settlement:    common.HexToAddress(settlementAddress),
		gasMultiplier: gasMultiplier,
		logger:        log,
	}, nil
}

func (c *EthClient) ChainID() int64         { return c.chainID }
func (c *EthClient) Sender() common.Address { return c.sender }

func (c *EthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return gas, nil
}

func (c *EthClient) SimulateCall(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	out, err := c.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call simulation failed: %w", err)
	}
	return out, nil
}

func (c *EthClient) GetNonce(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := c.client.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	return nonce, nil
}

func (c *EthClient) GetGasPriceEstimate(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.client.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multiplied := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(c.gasMultiplier),
	)
	estimate := new(big.Int)
	multiplied.Int(estimate)

	return estimate, nil
}

func (c *EthClient) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, c.signer, c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

func (c *EthClient) BroadcastRawTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	return tx.Hash(), nil
}

func (c *EthClient) GetTransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, isPending, err := c.client.TransactionByHash(ctx, hash)
	if err == ethereum.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), err)
	}
	return tx, isPending, nil
}

func (c *EthClient) GetReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err == ethereum.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

func (c *EthClient) GetBlock(ctx context.Context, number *big.Int) (*types.Block, error) {
	block, err := c.client.BlockByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return block, nil
}

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

func (c *EthClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for %s: %w", address.Hex(), err)
	}
	return balance, nil
}

func (c *EthClient) GetTokenBalances(ctx context.Context, token common.Address, owners []common.Address) ([]*big.Int, error) {
	erc20ABI, err := contracts.ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	contract := bind.NewBoundContract(token, erc20ABI, c.client, c.client, c.client)
	callOpts := &bind.CallOpts{Context: ctx}

	balances := make([]*big.Int, 0, len(owners))
	for _, owner := range owners {
		var out []interface{}
		if err := contract.Call(callOpts, &out, "balanceOf", owner); err != nil {
			return nil, fmt.Errorf("failed to get token balance for %s: %w", owner.Hex(), err)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty result from balanceOf call")
		}
		balance, ok := out[0].(*big.Int)
		if !ok || balance == nil {
			return nil, fmt.Errorf("invalid balanceOf result type")
		}
		balances = append(balances, balance)
	}
	return balances, nil
}

func (c *EthClient) GetTokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	erc20ABI, err := contracts.ERC20ABI()
	if err != nil {
		return 0, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	contract := bind.NewBoundContract(token, erc20ABI, c.client, c.client, c.client)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("failed to get token decimals: %w", err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("empty result from decimals call")
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("invalid decimals result type")
	}
	return decimals, nil
}

func (c *EthClient) IsValidDelegatedSigner(ctx context.Context, maker, signer common.Address) (bool, error) {
	data, err := contracts.PackIsValidOrderSigner(maker, signer)
	if err != nil {
		return false, err
	}

	out, err := c.SimulateCall(ctx, ethereum.CallMsg{To: &c.settlement, Data: data})
	if err != nil {
		return false, fmt.Errorf("delegated signer query failed: %w", err)
	}

	settlementABI, err := contracts.SettlementABI()
	if err != nil {
		return false, err
	}
	results, err := settlementABI.Unpack("isValidOrderSigner", out)
	if err != nil {
		return false, fmt.Errorf("failed to unpack isValidOrderSigner result: %w", err)
	}
	if len(results) == 0 {
		return false, fmt.Errorf("empty result from isValidOrderSigner call")
	}
	valid, ok := results[0].(bool)
	if !ok {
		return false, fmt.Errorf("invalid isValidOrderSigner result type")
	}
	return valid, nil
}
