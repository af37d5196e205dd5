package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// settlementABIJSON describes the settlement entrypoint the service invokes.
// The contract's internals are opaque to the settler; only the call shape
// matters for building calldata.
const settlementABIJSON = `[
	{
		"inputs": [
			{
				"components": [
					{"name": "maker", "type": "address"},
					{"name": "taker", "type": "address"},
					{"name": "txOrigin", "type": "address"},
					{"name": "makerToken", "type": "address"},
					{"name": "takerToken", "type": "address"},
					{"name": "makerAmount", "type": "uint256"},
					{"name": "takerAmount", "type": "uint256"},
					{"name": "expiryAndNonce", "type": "uint256"}
				],
				"name": "order",
				"type": "tuple"
			},
			{"name": "makerSignature", "type": "bytes"},
			{"name": "takerSignature", "type": "bytes"},
			{"name": "unwrapNative", "type": "bool"}
		],
		"name": "fillOtcOrder",
		"outputs": [
			{"name": "makerTokenFilledAmount", "type": "uint256"},
			{"name": "takerTokenFilledAmount", "type": "uint256"}
		],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "maker", "type": "address"},
			{"name": "signer", "type": "address"}
		],
		"name": "isValidOrderSigner",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// erc20ABIJSON carries the read-only ERC20 surface the settler needs
const erc20ABIJSON = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"payable": false,
		"stateMutability": "view",
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"payable": false,
		"stateMutability": "view",
		"type": "function"
	}
]`

// SettlementABI returns the parsed settlement contract ABI
func SettlementABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(settlementABIJSON))
}

// ERC20ABI returns the parsed read-only ERC20 ABI
func ERC20ABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(erc20ABIJSON))
}

// FillOrder is the tuple layout of the settlement call's order argument
type FillOrder struct {
	Maker          common.Address
	Taker          common.Address
	TxOrigin       common.Address
	MakerToken     common.Address
	TakerToken     common.Address
	MakerAmount    *big.Int
	TakerAmount    *big.Int
	ExpiryAndNonce *big.Int
}

// PackFill builds the settlement calldata. The output is deterministic for
// a given order and signature pair, so fee-bump resubmissions reuse it.
func PackFill(order FillOrder, makerSignature, takerSignature []byte, unwrapNative bool) ([]byte, error) {
	settlementABI, err := SettlementABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement ABI: %w", err)
	}

	data, err := settlementABI.Pack("fillOtcOrder", order, makerSignature, takerSignature, unwrapNative)
	if err != nil {
		return nil, fmt.Errorf("failed to pack fill calldata: %w", err)
	}
	return data, nil
}

// PackIsValidOrderSigner builds calldata for the delegated-signer query
func PackIsValidOrderSigner(maker, signer common.Address) ([]byte, error) {
	settlementABI, err := SettlementABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement ABI: %w", err)
	}

	data, err := settlementABI.Pack("isValidOrderSigner", maker, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to pack isValidOrderSigner calldata: %w", err)
	}
	return data, nil
}
