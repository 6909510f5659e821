package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// IngressABI covers the PrivateLendingIngress contract on the custody chain
const IngressABI = `[
	{
		"type": "event",
		"name": "DepositCreated",
		"inputs": [
			{"internalType": "bytes32", "name": "depositId", "type": "bytes32", "indexed": true},
			{"internalType": "address", "name": "depositor", "type": "address", "indexed": true},
			{"internalType": "address", "name": "token", "type": "address", "indexed": true},
			{"internalType": "uint256", "name": "amount", "type": "uint256", "indexed": false},
			{"internalType": "bool", "name": "isNative", "type": "bool", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "EncryptedActionReceived",
		"inputs": [
			{"internalType": "bytes32", "name": "encryptedDataHash", "type": "bytes32", "indexed": true}
		]
	},
	{
		"type": "event",
		"name": "EncryptedActionProcessed",
		"inputs": [
			{"internalType": "bytes32", "name": "encryptedDataHash", "type": "bytes32", "indexed": true}
		]
	},
	{
		"type": "event",
		"name": "LiquidityUpdated",
		"inputs": [
			{"internalType": "address", "name": "token", "type": "address", "indexed": true},
			{"internalType": "uint256", "name": "totalDeposited", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "totalReserved", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "totalBorrowed", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "WithdrawUnused",
		"inputs": [
			{"internalType": "bytes32", "name": "depositId", "type": "bytes32", "indexed": true},
			{"internalType": "address", "name": "depositor", "type": "address", "indexed": true},
			{"internalType": "address", "name": "token", "type": "address", "indexed": true},
			{"internalType": "uint256", "name": "amount", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "function",
		"name": "getLiquidityInfo",
		"stateMutability": "view",
		"inputs": [{"internalType": "address", "name": "token", "type": "address"}],
		"outputs": [
			{"internalType": "uint256", "name": "totalDeposited", "type": "uint256"},
			{"internalType": "uint256", "name": "totalReserved", "type": "uint256"},
			{"internalType": "uint256", "name": "totalBorrowed", "type": "uint256"}
		]
	},
	{
		"type": "function",
		"name": "getActionIdByCiphertextHash",
		"stateMutability": "view",
		"inputs": [{"internalType": "bytes32", "name": "ciphertextHash", "type": "bytes32"}],
		"outputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}]
	},
	{
		"type": "function",
		"name": "actionToDepositId",
		"stateMutability": "view",
		"inputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
		"outputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}]
	},
	{
		"type": "function",
		"name": "deposits",
		"stateMutability": "view",
		"inputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
		"outputs": [
			{"internalType": "address", "name": "depositor", "type": "address"},
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bool", "name": "isNative", "type": "bool"},
			{"internalType": "bool", "name": "released", "type": "bool"}
		]
	}
]`

// CoreABI covers the LendingCore contract on the compute chain
const CoreABI = `[
	{
		"type": "event",
		"name": "EncryptedActionStored",
		"inputs": [
			{"internalType": "bytes32", "name": "actionId", "type": "bytes32", "indexed": true},
			{"internalType": "uint32", "name": "originDomain", "type": "uint32", "indexed": false},
			{"internalType": "bytes32", "name": "originRouter", "type": "bytes32", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "ActionProcessed",
		"inputs": [
			{"internalType": "bytes32", "name": "actionId", "type": "bytes32", "indexed": true},
			{"internalType": "uint8", "name": "actionType", "type": "uint8", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "PositionUpdated",
		"inputs": [
			{"internalType": "address", "name": "user", "type": "address", "indexed": true},
			{"internalType": "address", "name": "token", "type": "address", "indexed": true},
			{"internalType": "bytes32", "name": "positionHash", "type": "bytes32", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "PriceUpdated",
		"inputs": [
			{"internalType": "address", "name": "token", "type": "address", "indexed": true},
			{"internalType": "uint256", "name": "price", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "timestamp", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "function",
		"name": "processedPayloads",
		"stateMutability": "view",
		"inputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
		"outputs": [
			{"internalType": "uint8", "name": "actionType", "type": "uint8"},
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "address", "name": "onBehalf", "type": "address"},
			{"internalType": "bytes32", "name": "depositId", "type": "bytes32"},
			{"internalType": "bool", "name": "isNative", "type": "bool"},
			{"internalType": "string", "name": "memo", "type": "string"}
		]
	},
	{
		"type": "function",
		"name": "prices",
		"stateMutability": "view",
		"inputs": [{"internalType": "address", "name": "", "type": "address"}],
		"outputs": [
			{"internalType": "uint256", "name": "price", "type": "uint256"},
			{"internalType": "uint256", "name": "timestamp", "type": "uint256"},
			{"internalType": "bool", "name": "valid", "type": "bool"}
		]
	},
	{
		"type": "function",
		"name": "encryptedActions",
		"stateMutability": "view",
		"inputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
		"outputs": [
			{"internalType": "uint32", "name": "originDomain", "type": "uint32"},
			{"internalType": "bytes32", "name": "originRouter", "type": "bytes32"},
			{"internalType": "bytes", "name": "ciphertext", "type": "bytes"},
			{"internalType": "bool", "name": "processed", "type": "bool"}
		]
	},
	{
		"type": "function",
		"name": "processAction",
		"stateMutability": "nonpayable",
		"inputs": [{"internalType": "bytes32", "name": "actionId", "type": "bytes32"}],
		"outputs": []
	}
]`

// Contracts holds both parsed ABIs
type Contracts struct {
	Ingress abi.ABI
	Core    abi.ABI
}

func ParseContracts() (*Contracts, error) {
	ingress, err := abi.JSON(strings.NewReader(IngressABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ingress ABI: %w", err)
	}

	core, err := abi.JSON(strings.NewReader(CoreABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse core ABI: %w", err)
	}

	return &Contracts{Ingress: ingress, Core: core}, nil
}
