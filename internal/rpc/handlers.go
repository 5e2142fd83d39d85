package rpc

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// ── Ledger ──────────────────────────────────────────────────────────────

func (s *Server) handleLedgerGetInfo(_ *Request) (interface{}, *Error) {
	height, known := s.ledger.BestHeight()
	root, err := s.ledger.StateRoot()
	if err != nil {
		return nil, ledgerError("state root", err)
	}
	result := &LedgerInfoResult{
		BestHeight:  height,
		HeightKnown: known,
		StateRoot:   root.String(),
		TransferFee: s.ledger.GetTxFee(tx.TypeTransfer),
		Wallet:      s.addresses != nil,
	}
	if s.p2pNode != nil {
		result.Peers = s.p2pNode.PeerCount()
	}
	return result, nil
}

func (s *Server) handleLedgerGetTxFee(req *Request) (interface{}, *Error) {
	var params TypeParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	kind, err := tx.ParseType(params.Type)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	return &FeeResult{Type: kind.String(), Fee: s.ledger.GetTxFee(kind)}, nil
}

func (s *Server) handleLedgerGetBalance(req *Request) (interface{}, *Error) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bal, err := s.ledger.GetBalance(addr)
	if err != nil {
		return nil, ledgerError("get balance", err)
	}
	return &BalanceResult{
		Address: addr.String(),
		Usable:  bal.Usable,
		Locked:  bal.Locked,
		Total:   bal.Total,
	}, nil
}

func (s *Server) handleLedgerGetLockedOutputs(req *Request) (interface{}, *Error) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	outs, err := s.ledger.GetLockedOutputs(addr)
	if err != nil {
		return nil, ledgerError("get locked outputs", err)
	}
	return outs, nil
}

func (s *Server) handleLedgerGetTx(req *Request) (interface{}, *Error) {
	h, rpcErr := hashParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	t, err := s.ledger.GetTx(h)
	if err != nil {
		return nil, ledgerError("get tx", err)
	}
	return txResult(t), nil
}

func (s *Server) handleLedgerGetTxList(req *Request) (interface{}, *Error) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	txs, err := s.ledger.GetTxList(addr)
	if err != nil {
		return nil, ledgerError("get tx list", err)
	}
	results := make([]*TxResult, len(txs))
	for i, t := range txs {
		results[i] = txResult(t)
	}
	return results, nil
}

// ── Transactions ────────────────────────────────────────────────────────

func (s *Server) handleTxSubmit(req *Request) (interface{}, *Error) {
	var params TxSubmitParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Transaction == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "transaction is required"}
	}

	h, err := s.ledger.SubmitTx(params.Transaction)
	if err != nil {
		return nil, ledgerError("rejected", err)
	}
	return &TxSubmitResult{TxHash: h.String()}, nil
}

func (s *Server) handleTxDelete(req *Request) (interface{}, *Error) {
	h, rpcErr := hashParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.ledger.DeleteTx(h); err != nil {
		return nil, ledgerError("delete tx", err)
	}
	return true, nil
}

// ── Agents ──────────────────────────────────────────────────────────────

func (s *Server) handleAgentList(_ *Request) (interface{}, *Error) {
	records, err := s.agents.Agents()
	if err != nil {
		return nil, ledgerError("list agents", err)
	}
	results := make([]*AgentResult, 0, len(records))
	for _, r := range records {
		res, rpcErr := s.agentResult(r, false)
		if rpcErr != nil {
			return nil, rpcErr
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Server) handleAgentGet(req *Request) (interface{}, *Error) {
	h, rpcErr := hashParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	r, err := s.agents.GetAgent(h)
	if err != nil {
		return nil, ledgerError("get agent", err)
	}
	return s.agentResult(r, true)
}

func (s *Server) agentResult(r *consensus.AgentRecord, withDeposits bool) (*AgentResult, *Error) {
	total, err := s.agents.TotalDeposit(r.TxHash)
	if err != nil {
		return nil, ledgerError("total deposit", err)
	}
	res := &AgentResult{
		AgentRecord:  r,
		StatusName:   r.Status.String(),
		Live:         r.Live(),
		TotalDeposit: total,
	}
	if withDeposits {
		deps, err := s.agents.DepositsOf(r.TxHash)
		if err != nil {
			return nil, ledgerError("list deposits", err)
		}
		res.Deposits = deps
	}
	return res, nil
}

// ── Network ─────────────────────────────────────────────────────────────

func (s *Server) handleNetGetPeerInfo(_ *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &PeerInfoResult{Count: 0, Peers: []PeerInfo{}}, nil
	}

	peers := s.p2pNode.PeerList()
	infos := make([]PeerInfo, len(peers))
	for i, p := range peers {
		infos[i] = PeerInfo{
			ID:          p.ID.String(),
			ConnectedAt: p.ConnectedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Source:      p.Source,
		}
	}

	return &PeerInfoResult{
		Count: len(infos),
		Peers: infos,
	}, nil
}

func (s *Server) handleNetGetNodeInfo(_ *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &NodeInfoResult{ID: "", Addrs: []string{}}, nil
	}

	return &NodeInfoResult{
		ID:    s.p2pNode.ID().String(),
		Addrs: s.p2pNode.Addrs(),
	}, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────

func txResult(t *tx.Transaction) *TxResult {
	return &TxResult{
		Hash:        t.Hash().String(),
		Type:        t.Type.String(),
		Status:      t.Status.String(),
		BlockHeight: t.BlockHeight,
		Transaction: t,
	}
}

func addressParam(req *Request) (types.Address, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return types.Address{}, err
	}
	if params.Address == "" {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: "address is required"}
	}
	return decodeAddress(params.Address)
}

func hashParam(req *Request) (types.Hash, *Error) {
	var params HashParam
	if err := parseParams(req, &params); err != nil {
		return types.Hash{}, err
	}
	h, err := types.HexToHash(params.Hash)
	if err != nil {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: "invalid hash: " + err.Error()}
	}
	return h, nil
}

func decodeAddress(s string) (types.Address, *Error) {
	addr, err := types.ParseAddress(s)
	if err != nil {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: "invalid address: " + err.Error()}
	}
	return addr, nil
}

// ledgerError maps ledger and agent store errors onto RPC error codes.
func ledgerError(op string, err error) *Error {
	msg := fmt.Sprintf("%s: %v", op, err)
	switch {
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, consensus.ErrAgentNotFound),
		errors.Is(err, consensus.ErrDepositNotFound):
		return &Error{Code: CodeNotFound, Message: msg}
	case errors.Is(err, ledger.ErrNoSigner):
		return &Error{Code: CodeNoWallet, Message: msg}
	case errors.Is(err, ledger.ErrStoreUnavailable),
		errors.Is(err, consensus.ErrStore):
		return &Error{Code: CodeInternalError, Message: msg}
	default:
		return &Error{Code: CodeRejected, Message: msg}
	}
}
