package rpc

import (
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// requireWallet returns an error when no wallet is loaded.
func (s *Server) requireWallet() *Error {
	if s.addresses == nil {
		return &Error{Code: CodeNoWallet, Message: "wallet not enabled"}
	}
	return nil
}

func (s *Server) handleWalletAddresses(_ *Request) (interface{}, *Error) {
	if err := s.requireWallet(); err != nil {
		return nil, err
	}
	addrs := s.addresses()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out, nil
}

func (s *Server) handleWalletGetLocalTxs(req *Request) (interface{}, *Error) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	entries, err := s.ledger.GetLocalTxs(addr)
	if err != nil {
		return nil, ledgerError("get local txs", err)
	}
	results := make([]*LocalTxResult, len(entries))
	for i, e := range entries {
		addrs := make([]string, len(e.Addresses))
		for j, a := range e.Addresses {
			addrs[j] = a.String()
		}
		results[i] = &LocalTxResult{
			Hash:      e.Hash.String(),
			Direction: e.Direction.String(),
			Addresses: addrs,
		}
	}
	return results, nil
}

func (s *Server) handleWalletTransfer(req *Request) (interface{}, *Error) {
	if err := s.requireWallet(); err != nil {
		return nil, err
	}
	var params TransferParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Amount == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "amount must be positive"}
	}
	to, rpcErr := decodeAddress(params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}

	// No explicit sources means spend from every wallet address.
	from := s.addresses()
	if len(params.From) > 0 {
		from = make([]types.Address, len(params.From))
		for i, f := range params.From {
			addr, rpcErr := decodeAddress(f)
			if rpcErr != nil {
				return nil, rpcErr
			}
			from[i] = addr
		}
	}

	h, err := s.ledger.Transfer(from, to, params.Amount, params.Remark)
	if err != nil {
		return nil, ledgerError("transfer", err)
	}
	s.logger.Info().
		Str("tx", h.Short()).
		Str("to", to.String()).
		Uint64("amount", params.Amount).
		Msg("Transfer created via RPC")
	return &TxSubmitResult{TxHash: h.String()}, nil
}

func (s *Server) handleWalletLock(req *Request) (interface{}, *Error) {
	if err := s.requireWallet(); err != nil {
		return nil, err
	}
	var params LockParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Amount == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "amount must be positive"}
	}
	addr, rpcErr := decodeAddress(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}

	h, err := s.ledger.Lock(addr, params.Amount, params.UnlockTime, params.Remark)
	if err != nil {
		return nil, ledgerError("lock", err)
	}
	return &TxSubmitResult{TxHash: h.String()}, nil
}
