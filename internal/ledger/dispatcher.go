package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

// Status machine events.
const (
	eventAgree    = "agree"
	eventConfirm  = "confirm"
	eventRollback = "rollback"
)

// newStatusFSM creates the transaction status machine positioned at cur.
// Cached -> Agreed -> Confirmed is the only forward path; rollback returns
// Agreed or Confirmed to Cached.
func newStatusFSM(cur tx.Status) *fsm.FSM {
	return fsm.NewFSM(
		cur.String(),
		fsm.Events{
			{
				Name: eventAgree,
				Src:  []string{tx.StatusCached.String()},
				Dst:  tx.StatusAgreed.String(),
			},
			{
				Name: eventConfirm,
				Src:  []string{tx.StatusAgreed.String()},
				Dst:  tx.StatusConfirmed.String(),
			},
			{
				Name: eventRollback,
				Src: []string{
					tx.StatusAgreed.String(),
					tx.StatusConfirmed.String(),
				},
				Dst: tx.StatusCached.String(),
			},
		},
		fsm.Callbacks{},
	)
}

var statusByName = map[string]tx.Status{
	tx.StatusCached.String():    tx.StatusCached,
	tx.StatusAgreed.String():    tx.StatusAgreed,
	tx.StatusConfirmed.String(): tx.StatusConfirmed,
}

// transition moves t.Status along event, failing with ErrInvalidTransition
// when the machine forbids it.
func transition(t *tx.Transaction, event string) error {
	f := newStatusFSM(t.Status)
	if err := f.Event(context.Background(), event); err != nil {
		return fmt.Errorf("%w: %s from %s: %w", ErrInvalidTransition, event, t.Status, err)
	}
	t.Status = statusByName[f.Current()]
	return nil
}

// Dispatcher runs transactions through their handler chains. All
// operations are serialised by one mutex, so a commit, a rollback and a
// conflict check never interleave.
type Dispatcher struct {
	mu     sync.Mutex
	reg    *Registry
	fatal  func(error)
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher over reg. fatal is called when a
// rollback fails; nil selects the default, which logs at fatal level and
// exits the process.
func NewDispatcher(reg *Registry, fatal func(error)) *Dispatcher {
	initPrometheusMetrics()
	if fatal == nil {
		fatal = defaultFatal
	}
	return &Dispatcher{reg: reg, fatal: fatal, logger: log.Ledger}
}

func defaultFatal(err error) {
	log.Ledger.Fatal().Err(err).Msg("Ledger state inconsistent")
}

// ConflictDetect runs every approval hook of t's chain against batch and
// marks t Agreed on success. On failure t stays Cached. A transaction that
// is already Agreed is re-checked and stays Agreed.
func (d *Dispatcher) ConflictDetect(t *tx.Transaction, batch []*tx.Transaction, blk *block.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.Status == tx.StatusConfirmed {
		return fmt.Errorf("%w: %s is already confirmed", ErrInvalidTransition, t.Hash().Short())
	}
	chain, err := d.reg.Chain(t.Type)
	if err != nil {
		return err
	}
	for _, h := range chain {
		if err := h.OnApproval(t, batch, blk); err != nil {
			prometheusTxConflict.Inc()
			d.logger.Debug().
				Str("tx", t.Hash().Short()).
				Str("type", t.Type.String()).
				Err(err).
				Msg("Transaction rejected")
			if errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
	}
	if t.Status == tx.StatusAgreed {
		return nil
	}
	return transition(t, eventAgree)
}

// Commit applies t's chain in order and marks it Confirmed. A transaction
// that is not Agreed is left untouched and no error is returned, so
// redelivered commits are harmless.
//
// If handler i fails, handlers i-1..0 are rolled back before the error is
// returned, leaving no partial effects behind.
func (d *Dispatcher) Commit(t *tx.Transaction, blk *block.Block) (*Notices, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.Status != tx.StatusAgreed {
		d.logger.Debug().
			Str("tx", t.Hash().Short()).
			Str("status", t.Status.String()).
			Msg("Commit skipped")
		return nil, nil
	}
	chain, err := d.reg.Chain(t.Type)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	notices := &Notices{}
	for i, h := range chain {
		err := h.OnCommit(t, blk, notices)
		if err == nil {
			continue
		}
		prometheusHandlerFailures.WithLabelValues("commit", t.Type.String()).Inc()
		for j := i - 1; j >= 0; j-- {
			if rerr := chain[j].OnRollback(t, blk); rerr != nil {
				prometheusHandlerFailures.WithLabelValues("rollback", t.Type.String()).Inc()
				ferr := fmt.Errorf("%w: undo failed commit of %s: %w", ErrRollbackInvariant, t.Hash(), rerr)
				d.fatal(ferr)
				return nil, ferr
			}
		}
		return nil, fmt.Errorf("%w: commit %s (%s): %w", ErrHandlerFailure, t.Hash().Short(), t.Type, err)
	}

	if err := transition(t, eventConfirm); err != nil {
		return nil, err
	}
	t.BlockHeight = blk.Height()
	prometheusTxCommit.Inc()
	prometheusCommitDuration.Observe(time.Since(start).Seconds())
	d.logger.Debug().
		Str("tx", t.Hash().Short()).
		Str("type", t.Type.String()).
		Uint64("height", t.BlockHeight).
		Msg("Transaction committed")
	return notices, nil
}

// Rollback undoes t's chain in reverse order and marks it Cached. It is a
// no-op for a Cached transaction. Rollback is expected to always succeed:
// a handler failure is reported to the fatal hook, the remaining handlers
// still run, and the status is reset regardless.
func (d *Dispatcher) Rollback(t *tx.Transaction, blk *block.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.Status == tx.StatusCached {
		return nil
	}
	chain, err := d.reg.Chain(t.Type)
	if err != nil {
		return err
	}

	var errs []error
	for i := len(chain) - 1; i >= 0; i-- {
		if err := chain[i].OnRollback(t, blk); err != nil {
			prometheusHandlerFailures.WithLabelValues("rollback", t.Type.String()).Inc()
			errs = append(errs, err)
		}
	}

	if err := transition(t, eventRollback); err != nil {
		return err
	}
	t.BlockHeight = 0
	prometheusTxRollback.Inc()

	if len(errs) > 0 {
		ferr := fmt.Errorf("%w: %w: rollback %s: %w", ErrRollbackInvariant, ErrHandlerFailure, t.Hash(), errors.Join(errs...))
		d.fatal(ferr)
		return ferr
	}
	d.logger.Debug().
		Str("tx", t.Hash().Short()).
		Str("type", t.Type.String()).
		Msg("Transaction rolled back")
	return nil
}
