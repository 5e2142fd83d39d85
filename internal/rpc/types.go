package rpc

import (
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	CodeRejected       = -32001 // the ledger refused the operation
	CodeNoWallet       = -32002 // no signing key loaded
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// HashParam is used by endpoints that take a single hash.
type HashParam struct {
	Hash string `json:"hash"`
}

// AddressParam is used by endpoints that take a single address.
type AddressParam struct {
	Address string `json:"address"`
}

// TypeParam is used by ledger_getTxFee. Type is a kind name or number.
type TypeParam struct {
	Type string `json:"type"`
}

// TxSubmitParam is used by tx_submit.
type TxSubmitParam struct {
	Transaction *tx.Transaction `json:"transaction"`
}

// TransferParam is used by wallet_transfer.
type TransferParam struct {
	From   []string `json:"from"`
	To     string   `json:"to"`
	Amount uint64   `json:"amount"`
	Remark string   `json:"remark,omitempty"`
}

// LockParam is used by wallet_lock.
type LockParam struct {
	Address    string `json:"address"`
	Amount     uint64 `json:"amount"`
	UnlockTime uint64 `json:"unlock_time"` // unix ms
	Remark     string `json:"remark,omitempty"`
}

// ── Result types ────────────────────────────────────────────────────────

// LedgerInfoResult is returned by ledger_getInfo.
type LedgerInfoResult struct {
	BestHeight  uint64 `json:"best_height"`
	HeightKnown bool   `json:"height_known"`
	StateRoot   string `json:"state_root"`
	TransferFee uint64 `json:"transfer_fee"`
	Peers       int    `json:"peers"`
	Wallet      bool   `json:"wallet"`
}

// FeeResult is returned by ledger_getTxFee.
type FeeResult struct {
	Type string `json:"type"`
	Fee  uint64 `json:"fee"`
}

// BalanceResult is returned by ledger_getBalance.
type BalanceResult struct {
	Address string `json:"address"`
	Usable  uint64 `json:"usable"`
	Locked  uint64 `json:"locked"`
	Total   uint64 `json:"total"`
}

// TxResult is a stored transaction with its hash and lifecycle status.
type TxResult struct {
	Hash        string          `json:"hash"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	BlockHeight uint64          `json:"block_height,omitempty"`
	Transaction *tx.Transaction `json:"transaction"`
}

// TxSubmitResult is returned by endpoints that create a transaction.
type TxSubmitResult struct {
	TxHash string `json:"tx_hash"`
}

// LocalTxResult is one entry of the wallet view.
type LocalTxResult struct {
	Hash      string   `json:"hash"`
	Direction string   `json:"direction"`
	Addresses []string `json:"addresses"`
}

// AgentResult is a stored agent with its deposits.
type AgentResult struct {
	*consensus.AgentRecord
	StatusName   string                     `json:"status_name"`
	Live         bool                       `json:"live"`
	TotalDeposit uint64                     `json:"total_deposit"`
	Deposits     []*consensus.DepositRecord `json:"deposits,omitempty"`
}

// PeerInfo describes a connected peer.
type PeerInfo struct {
	ID          string `json:"id"`
	ConnectedAt string `json:"connected_at"`
	Source      string `json:"source,omitempty"`
}

// PeerInfoResult is returned by net_getPeerInfo.
type PeerInfoResult struct {
	Count int        `json:"count"`
	Peers []PeerInfo `json:"peers"`
}

// NodeInfoResult is returned by net_getNodeInfo.
type NodeInfoResult struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
}
