package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ErrNotStarted is returned by publishing calls before Start.
var ErrNotStarted = errors.New("p2p node not started")

// BroadcastTx publishes a transaction to the gossip network.
func (n *Node) BroadcastTx(t *tx.Transaction) error {
	if n.topicTx == nil {
		return ErrNotStarted
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tx: %w", err)
	}
	return n.topicTx.Publish(n.ctx, data)
}

// PublishNotice publishes a domain notice to the gossip network.
func (n *Node) PublishNotice(notice ledger.Notice) error {
	if n.topicNotice == nil {
		return ErrNotStarted
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	return n.topicNotice.Publish(n.ctx, data)
}

// validateTx rejects undecodable or malformed transactions before they are
// forwarded. The decoded transaction is kept on the message.
func (n *Node) validateTx(_ context.Context, _ peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	t, err := decodeTx(msg.Data)
	if err != nil {
		n.logger.Debug().Err(err).Str("from", shortID(msg.ReceivedFrom)).Msg("Rejected gossip tx")
		return pubsub.ValidationReject
	}
	msg.ValidatorData = t
	return pubsub.ValidationAccept
}

func (n *Node) validateNotice(_ context.Context, _ peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	notice, err := decodeNotice(msg.Data)
	if err != nil {
		return pubsub.ValidationReject
	}
	msg.ValidatorData = notice
	return pubsub.ValidationAccept
}

func (n *Node) handleTxMessage(msg *pubsub.Message) {
	t, ok := msg.ValidatorData.(*tx.Transaction)
	if !ok {
		return
	}
	n.markPeer(msg.ReceivedFrom, SourceGossip)
	n.handlerMu.RLock()
	fn := n.txHandler
	n.handlerMu.RUnlock()
	if fn != nil {
		fn(msg.ReceivedFrom, t)
	}
}

func (n *Node) handleNoticeMessage(msg *pubsub.Message) {
	notice, ok := msg.ValidatorData.(*ledger.Notice)
	if !ok {
		return
	}
	n.markPeer(msg.ReceivedFrom, SourceGossip)
	n.handlerMu.RLock()
	fn := n.noticeHandler
	n.handlerMu.RUnlock()
	if fn != nil {
		fn(msg.ReceivedFrom, *notice)
	}
}

func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
