package types

import (
	"math/big"
	"time"
)

// reserved all-zero address standing for a chain's native currency
const NativeAssetAddress = "0x0000000000000000000000000000000000000000"

// AssetKind selects which vault payout entry point serves a transfer
type AssetKind int

const (
	AssetNative AssetKind = iota
	AssetToken
)

func (k AssetKind) String() string {
	switch k {
	case AssetNative:
		return "native"
	case AssetToken:
		return "token"
	}
	return "unknown"
}

// memo operations understood by the relay
const (
	OpSwap      = "SWAP"
	OpSwapShort = "="
	OpAdd       = "ADD"
)

// router events
const (
	EventDeposit = "Deposit"
	EventPayOut  = "PayOut"
)

// Memo is the decoded form of OPERATION:CHAIN.ASSET:DESTADDRESS
type Memo struct {
	Operation        string
	ChainDestination string
	Asset            string
	AssetLabel       string // raw CHAIN.ASSET as received
	DestAddress      string
}

// Event is a single router log as delivered by a chain subscription
type Event struct {
	Name         string
	ReturnValues map[string]interface{}
	TxHash       string
	BlockNumber  uint64
}

// DepositEvent is the relay-relevant part of a Deposit router event
type DepositEvent struct {
	SourceChain string
	Asset       string // NativeAssetAddress or token contract address
	Amount      *big.Int
	Memo        string
	From        string
	TxHash      string
}

// Relay operation is a single relay attempt, kept in the journal
type RelayOperation struct {
	ID           string
	Status       string
	SourceChain  string
	DestChain    string
	TsFound      int64
	Amount       string // amount in the smallest unit of the source asset
	SourceAsset  string
	TargetAsset  string
	DestAddress  string
	Memo         string
	SourceTxHash string // transaction emitting the deposit
	DestTxHash   string // payout transaction on the destination chain
	Message      string // messages that help to track processing/errors
}

// relay operation statuses
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Artifact is compiled contract output
type Artifact struct {
	Name     string
	ABI      string
	Bytecode string
}

// EnvInfo describes the accounts and endpoint of a chain environment
type EnvInfo struct {
	ChainID    *big.Int
	RPCAddress string
	Accounts   []string
	PrivateKey string // hex, of Accounts[0]
	GasLimit   uint64
}

// CallOpts carries the sender and gas limit of a contract call
type CallOpts struct {
	From     string
	GasLimit uint64
	Timeout  time.Duration
}

// Receipt of a confirmed transaction
type Receipt struct {
	Status      bool
	TxHash      string
	BlockNumber uint64
}
