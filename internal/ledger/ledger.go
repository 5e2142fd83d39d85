package ledger

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/internal/utxo"
	"github.com/Klingon-tech/klingnet-ledger/internal/wallet"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Store namespaces within the ledger database.
var (
	outputsPrefix = []byte("utxo/")
	recordsPrefix = []byte("ltx/")
)

// Broadcaster propagates locally built transactions and publishes the
// domain notices produced by commits. Delivery is fire-and-forget: a
// failure is logged and never undoes the ledger mutation.
type Broadcaster interface {
	BroadcastTx(t *tx.Transaction) error
	PublishNotice(n Notice) error
}

// Signer returns the private key controlling addr, or nil if it is not held.
type Signer interface {
	KeyFor(addr types.Address) *crypto.PrivateKey
}

// nopBroadcaster stands in when no network is attached.
type nopBroadcaster struct {
	logger zerolog.Logger
}

func (b nopBroadcaster) BroadcastTx(t *tx.Transaction) error {
	b.logger.Debug().Str("tx", t.Hash().Short()).Msg("Broadcast skipped, no network")
	return nil
}

func (b nopBroadcaster) PublishNotice(n Notice) error {
	b.logger.Debug().Str("kind", n.Kind).Str("tx", n.TxHash.Short()).Msg("Notice skipped, no network")
	return nil
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithFeePolicy replaces the default fee policy.
func WithFeePolicy(p *FeePolicy) Option {
	return func(l *Ledger) { l.fees = p }
}

// WithBroadcaster attaches the network collaborator.
func WithBroadcaster(b Broadcaster) Option {
	return func(l *Ledger) {
		if b != nil {
			l.bcast = b
		}
	}
}

// WithSigner sets the key source used to sign transfers and locks.
func WithSigner(s Signer) Option {
	return func(l *Ledger) { l.signer = s }
}

// WithFatal sets the hook called when a rollback cannot be completed.
func WithFatal(fn func(error)) Option {
	return func(l *Ledger) { l.fatal = fn }
}

// WithClock sets the clock for transaction times and time locks.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLeastChange makes transfers pick inputs that minimise change
// instead of first-fit.
func WithLeastChange() Option {
	return func(l *Ledger) { l.leastChange = true }
}

// WithLocalAddresses marks addresses as owned by this node.
func WithLocalAddresses(addrs ...types.Address) Option {
	return func(l *Ledger) {
		for _, a := range addrs {
			l.local[a] = true
		}
	}
}

// Ledger is the entry point for client operations. It owns the output
// store, the transaction records and the dispatcher.
//
// Lock order: opMu, then mu, then the dispatcher's own lock.
type Ledger struct {
	mu   sync.Mutex // serialises SaveTransactions and wallet index writes
	opMu sync.Mutex // serialises commit, rollback, detection and spend building

	outputs *utxo.Store
	records *TxStore
	reg     *Registry
	disp    *Dispatcher
	fees    *FeePolicy
	calc    *wallet.Calculator

	bcast       Broadcaster
	signer      Signer
	fatal       func(error)
	now         func() time.Time
	leastChange bool

	localMu sync.RWMutex
	local   map[types.Address]bool

	heightMu    sync.RWMutex
	height      uint64
	heightKnown bool

	logger zerolog.Logger
}

// New creates a ledger over db. The coin and unlock handlers are
// registered on reg unless handlers for those kinds already exist.
func New(db storage.DB, reg *Registry, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		outputs: utxo.NewStore(storage.NewPrefixDB(db, outputsPrefix)),
		records: NewTxStore(storage.NewPrefixDB(db, recordsPrefix)),
		reg:     reg,
		fees:    DefaultFeePolicy(),
		now:     time.Now,
		local:   make(map[types.Address]bool),
		logger:  log.Ledger,
	}
	l.bcast = nopBroadcaster{logger: l.logger}
	for _, opt := range opts {
		opt(l)
	}
	l.outputs.SetClock(l.now)
	l.calc = wallet.NewCalculator(l.outputs)
	l.disp = NewDispatcher(reg, l.fatal)

	if !reg.HasHandler(tx.TypeCoin) {
		if err := reg.Register(tx.TypeCoin, NewCoinHandler(l.outputs, l.GetTxFee)); err != nil {
			return nil, err
		}
	}
	if !reg.HasHandler(tx.TypeUnlock) {
		if err := reg.Register(tx.TypeUnlock, NewUnlockHandler(l.outputs)); err != nil {
			return nil, err
		}
	}

	height, ok, err := l.records.BestHeight()
	if err != nil {
		return nil, err
	}
	l.height, l.heightKnown = height, ok
	return l, nil
}

// Outputs returns the output store.
func (l *Ledger) Outputs() *utxo.Store { return l.outputs }

// Registry returns the type registry.
func (l *Ledger) Registry() *Registry { return l.reg }

// Records returns the transaction record store.
func (l *Ledger) Records() *TxStore { return l.records }

// nowMs returns the ledger clock in unix milliseconds.
func (l *Ledger) nowMs() uint64 {
	return uint64(l.now().UnixMilli())
}

// ── Fees and height ─────────────────────────────────────────────────────

// SetBestHeight records the height of the last applied block.
func (l *Ledger) SetBestHeight(height uint64) error {
	if err := l.records.SetBestHeight(height); err != nil {
		return err
	}
	l.heightMu.Lock()
	l.height, l.heightKnown = height, true
	l.heightMu.Unlock()
	return nil
}

// BestHeight returns the best height and whether one is known.
func (l *Ledger) BestHeight() (uint64, bool) {
	l.heightMu.RLock()
	defer l.heightMu.RUnlock()
	return l.height, l.heightKnown
}

// GetTxFee returns the fee a transaction of kind t must pay at the
// current best height.
func (l *Ledger) GetTxFee(t tx.Type) uint64 {
	height, known := l.BestHeight()
	return l.fees.RequiredFee(t, height, known)
}

// ── Queries ─────────────────────────────────────────────────────────────

// GetBalance returns the balance of addr.
func (l *Ledger) GetBalance(addr types.Address) (wallet.Balance, error) {
	b, err := l.calc.Balance(addr)
	if err != nil {
		return wallet.Balance{}, storeErr(err)
	}
	return b, nil
}

// GetLockedOutputs returns the consensus-locked and time-locked outputs of addr.
func (l *Ledger) GetLockedOutputs(addr types.Address) ([]*utxo.Output, error) {
	outs, err := l.calc.LockedOutputs(addr)
	if err != nil {
		return nil, storeErr(err)
	}
	return outs, nil
}

// GetTx returns a stored transaction.
func (l *Ledger) GetTx(h types.Hash) (*tx.Transaction, error) {
	return l.records.GetTx(h)
}

// GetTxList returns the stored transactions touching addr, oldest first.
func (l *Ledger) GetTxList(addr types.Address) ([]*tx.Transaction, error) {
	return l.records.GetTxsByAddress(addr)
}

// StateRoot returns the commitment over the output set.
func (l *Ledger) StateRoot() (types.Hash, error) {
	root, err := utxo.Commitment(l.outputs)
	if err != nil {
		return types.Hash{}, storeErr(err)
	}
	return root, nil
}

// ── Local addresses ─────────────────────────────────────────────────────

// AddLocalAddress marks addresses as owned by this node.
func (l *Ledger) AddLocalAddress(addrs ...types.Address) {
	l.localMu.Lock()
	defer l.localMu.Unlock()
	for _, a := range addrs {
		l.local[a] = true
	}
}

func (l *Ledger) isLocal(addr types.Address) bool {
	l.localMu.RLock()
	defer l.localMu.RUnlock()
	return l.local[addr]
}

// inputOwner resolves the address owning op from the output store, or
// from the record of the transaction that created it.
func (l *Ledger) inputOwner(op types.Outpoint) (types.Address, bool) {
	if o, err := l.outputs.Get(op); err == nil {
		return o.Address, true
	}
	prev, err := l.records.GetTx(op.TxID)
	if err != nil || int(op.Index) >= len(prev.Outputs) {
		return types.Address{}, false
	}
	return prev.Outputs[op.Index].Address, true
}

// touched returns every address that owns an input or receives an output
// of t, without duplicates.
func (l *Ledger) touched(t *tx.Transaction) []types.Address {
	seen := make(map[types.Address]bool)
	var addrs []types.Address
	add := func(a types.Address) {
		if !seen[a] {
			seen[a] = true
			addrs = append(addrs, a)
		}
	}
	for _, in := range t.Inputs {
		if owner, ok := l.inputOwner(in.PrevOut); ok {
			add(owner)
		}
	}
	for _, out := range t.Outputs {
		add(out.Address)
	}
	return addrs
}

// CheckTxIsMine reports whether t touches any local address.
func (l *Ledger) CheckTxIsMine(t *tx.Transaction) bool {
	for _, a := range l.touched(t) {
		if l.isLocal(a) {
			return true
		}
	}
	return false
}

// CheckTxIsMySend reports whether t spends an output owned by a local address.
func (l *Ledger) CheckTxIsMySend(t *tx.Transaction) bool {
	for _, in := range t.Inputs {
		if owner, ok := l.inputOwner(in.PrevOut); ok && l.isLocal(owner) {
			return true
		}
	}
	return false
}

// localEntry builds the wallet index entry for t, or nil if t does not
// involve a local address.
func (l *Ledger) localEntry(t *tx.Transaction, touched []types.Address) *LocalTx {
	var own []types.Address
	for _, a := range touched {
		if l.isLocal(a) {
			own = append(own, a)
		}
	}
	if len(own) == 0 {
		return nil
	}
	e := &LocalTx{Hash: t.Hash(), Direction: Receive, Addresses: own}
	if l.CheckTxIsMySend(t) {
		e.Direction = Send
	}
	return e
}

// ── Saving ──────────────────────────────────────────────────────────────

// SaveTransactions stores a batch of transaction records and indexes the
// ones involving local addresses into the wallet view. Batches are
// applied one at a time in arrival order. The lifecycle status of a
// transaction that is already stored is kept; only ConflictDetect,
// CommitTx and RollbackTx move it.
func (l *Ledger) SaveTransactions(batch []*tx.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveTransactions(batch)
}

func (l *Ledger) saveTransactions(batch []*tx.Transaction) error {
	return l.writeTransactions(batch, l.records.SaveTxList)
}

func (l *Ledger) writeTransactions(batch []*tx.Transaction, write func([]*tx.Transaction, [][]types.Address) error) error {
	addrs := make([][]types.Address, len(batch))
	var local []*LocalTx
	for i, t := range batch {
		addrs[i] = l.touched(t)
		if e := l.localEntry(t, addrs[i]); e != nil {
			local = append(local, e)
		}
	}
	if err := write(batch, addrs); err != nil {
		return err
	}
	if len(local) > 0 {
		if err := l.records.SaveLocalList(local); err != nil {
			return err
		}
	}
	l.logger.Debug().Int("txs", len(batch)).Int("local", len(local)).Msg("Transactions saved")
	return nil
}

// SaveNewTx stores a transaction received from elsewhere as Cached. A
// transaction that is already stored keeps its record and yields
// ErrDuplicateTx.
func (l *Ledger) SaveNewTx(t *tx.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	h := t.Hash()

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.records.GetTx(h)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateTx, h.Short())
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	t.Status = tx.StatusCached
	t.BlockHeight = 0
	return l.saveTransactions([]*tx.Transaction{t})
}

// SubmitTx saves a transaction signed outside the node and broadcasts it.
func (l *Ledger) SubmitTx(t *tx.Transaction) (types.Hash, error) {
	if err := l.SaveNewTx(t); err != nil {
		return types.Hash{}, err
	}
	h := t.Hash()
	if err := l.bcast.BroadcastTx(t); err != nil {
		l.logger.Warn().Err(err).Str("tx", h.Short()).Msg("Failed to broadcast transaction")
	}
	l.logger.Info().Str("tx", h.Short()).Str("type", t.Type.String()).Msg("Transaction submitted")
	return h, nil
}

// SaveTxInLocal indexes the stored transactions of addr into the wallet
// view, typically after the address was imported.
func (l *Ledger) SaveTxInLocal(addr types.Address) error {
	l.AddLocalAddress(addr)

	l.mu.Lock()
	defer l.mu.Unlock()
	txs, err := l.records.GetTxsByAddress(addr)
	if err != nil {
		return err
	}
	var local []*LocalTx
	for _, t := range txs {
		if e := l.localEntry(t, l.touched(t)); e != nil {
			local = append(local, e)
		}
	}
	if len(local) == 0 {
		return nil
	}
	return l.records.SaveLocalList(local)
}

// GetLocalTxs returns the wallet view of addr.
func (l *Ledger) GetLocalTxs(addr types.Address) ([]*LocalTx, error) {
	return l.records.GetLocalTxs(addr)
}

// DeleteTx removes a transaction that never left the Cached status.
func (l *Ledger) DeleteTx(h types.Hash) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.records.GetTx(h)
	if err != nil {
		return err
	}
	if t.Status != tx.StatusCached {
		return fmt.Errorf("%w: cannot delete %s transaction %s", ErrInvalidTransition, t.Status, h.Short())
	}
	return l.records.DeleteTx(h)
}

// updateRecord persists t's status after a lifecycle step.
func (l *Ledger) updateRecord(t *tx.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeTransactions([]*tx.Transaction{t}, l.records.UpdateTxList)
}

// syncStatus adopts the stored status of t, so a transaction decoded
// again from the network continues where the ledger left it.
func (l *Ledger) syncStatus(t *tx.Transaction) error {
	stored, err := l.records.GetTx(t.Hash())
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	t.Status = stored.Status
	t.BlockHeight = stored.BlockHeight
	return nil
}

// ── Lifecycle ───────────────────────────────────────────────────────────

// ConflictDetect checks t against the ledger and the other transactions
// of batch and marks it Agreed.
func (l *Ledger) ConflictDetect(t *tx.Transaction, batch []*tx.Transaction) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	return l.conflictDetect(t, batch, nil)
}

func (l *Ledger) conflictDetect(t *tx.Transaction, batch []*tx.Transaction, blk *block.Block) error {
	if err := l.syncStatus(t); err != nil {
		return err
	}
	if err := l.disp.ConflictDetect(t, batch, blk); err != nil {
		return err
	}
	return l.updateRecord(t)
}

// CommitTx applies an Agreed transaction. Committing a transaction in any
// other status does nothing.
func (l *Ledger) CommitTx(t *tx.Transaction, blk *block.Block) error {
	l.opMu.Lock()
	notices, err := l.commitTx(t, blk)
	l.opMu.Unlock()
	l.publish(notices)
	return err
}

func (l *Ledger) commitTx(t *tx.Transaction, blk *block.Block) ([]Notice, error) {
	if err := l.syncStatus(t); err != nil {
		return nil, err
	}
	notices, err := l.disp.Commit(t, blk)
	if err != nil || notices == nil {
		return nil, err
	}
	// The outputs are already applied here. If the record write fails the
	// stored status stays Agreed, and a retried CommitTx applies the
	// changeset again, which Apply accepts for inputs already spent by t.
	if err := l.updateRecord(t); err != nil {
		return nil, err
	}
	return notices.List(), nil
}

// RollbackTx undoes an Agreed or Confirmed transaction and returns it to
// Cached.
func (l *Ledger) RollbackTx(t *tx.Transaction, blk *block.Block) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	return l.rollbackTx(t, blk)
}

func (l *Ledger) rollbackTx(t *tx.Transaction, blk *block.Block) error {
	if err := l.syncStatus(t); err != nil {
		return err
	}
	if t.Status == tx.StatusCached {
		return nil
	}
	rerr := l.disp.Rollback(t, blk)
	if err := l.updateRecord(t); err != nil {
		return errors.Join(rerr, err)
	}
	return rerr
}

// CommitBlock detects and commits the block's transactions in order, then
// advances the best height. If any transaction fails, the ones already
// applied are rolled back and the error is returned.
func (l *Ledger) CommitBlock(blk *block.Block) error {
	l.opMu.Lock()
	var all []Notice
	err := l.commitBlock(blk, &all)
	l.opMu.Unlock()
	if err != nil {
		return err
	}
	l.publish(all)
	return nil
}

func (l *Ledger) commitBlock(blk *block.Block, all *[]Notice) error {
	for i, t := range blk.Transactions {
		err := l.syncStatus(t)
		if err == nil && t.Status == tx.StatusCached {
			err = l.conflictDetect(t, blk.Transactions, blk)
		}
		if err == nil {
			var notices []Notice
			notices, err = l.commitTx(t, blk)
			*all = append(*all, notices...)
		}
		if err == nil {
			continue
		}

		l.logger.Warn().
			Err(err).
			Uint64("height", blk.Height()).
			Str("tx", t.Hash().Short()).
			Msg("Block rejected, undoing applied transactions")
		for j := i; j >= 0; j-- {
			if rerr := l.rollbackTx(blk.Transactions[j], blk); rerr != nil {
				return errors.Join(err, rerr)
			}
		}
		return err
	}

	if err := l.SetBestHeight(blk.Height()); err != nil {
		return err
	}
	l.logger.Debug().
		Uint64("height", blk.Height()).
		Int("txs", len(blk.Transactions)).
		Msg("Block committed")
	return nil
}

// RollbackBlock undoes the block's transactions in reverse order and sets
// the best height to the block's parent.
func (l *Ledger) RollbackBlock(blk *block.Block) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	for i := len(blk.Transactions) - 1; i >= 0; i-- {
		if err := l.rollbackTx(blk.Transactions[i], blk); err != nil {
			return err
		}
	}
	if h := blk.Height(); h > 0 {
		if err := l.SetBestHeight(h - 1); err != nil {
			return err
		}
	}
	l.logger.Debug().Uint64("height", blk.Height()).Msg("Block rolled back")
	return nil
}

// UnlockTxSave releases the consensus-locked outputs of a transaction.
func (l *Ledger) UnlockTxSave(h types.Hash) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	_, err := l.outputs.UnlockTx(h)
	return storeErr(err)
}

// UnlockTxRollback locks the deposit outputs of a transaction again.
func (l *Ledger) UnlockTxRollback(h types.Hash) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	_, err := l.outputs.LockTx(h)
	return storeErr(err)
}

// publish hands notices to the broadcaster. Called without locks held.
func (l *Ledger) publish(notices []Notice) {
	for _, n := range notices {
		if err := l.bcast.PublishNotice(n); err != nil {
			l.logger.Warn().Err(err).Str("kind", n.Kind).Msg("Failed to publish notice")
			continue
		}
		prometheusNoticesPublished.Inc()
	}
}

// ── Spends ──────────────────────────────────────────────────────────────

// Transfer builds, signs and saves a transfer of amount from the given
// addresses to to, then broadcasts it. Change goes back to from[0].
func (l *Ledger) Transfer(from []types.Address, to types.Address, amount uint64, remark string) (types.Hash, error) {
	t, err := l.buildSpend(tx.TypeTransfer, from, amount, remark, func(b *tx.Builder) {
		b.AddOutput(to, amount)
	})
	return l.finishSpend(tx.TypeTransfer, t, err)
}

// Lock builds a transaction that locks amount of addr until unlockTime
// (unix ms), then broadcasts it.
func (l *Ledger) Lock(addr types.Address, amount, unlockTime uint64, remark string) (types.Hash, error) {
	if unlockTime == tx.LockConsensus || unlockTime <= l.nowMs() {
		return types.Hash{}, fmt.Errorf("%w: %d", ErrInvalidLockTime, unlockTime)
	}
	t, err := l.buildSpend(tx.TypeLock, []types.Address{addr}, amount, remark, func(b *tx.Builder) {
		b.AddLockedOutput(addr, amount, unlockTime)
	})
	return l.finishSpend(tx.TypeLock, t, err)
}

// buildSpend selects inputs for amount plus fee, adds the payment outputs
// via pay and the change output, signs, verifies and saves the result.
// On any failure after construction the transaction is rolled back and
// its record removed before the error is returned.
func (l *Ledger) buildSpend(kind tx.Type, from []types.Address, amount uint64, remark string, pay func(*tx.Builder)) (*tx.Transaction, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no source address", ErrInsufficientFunds)
	}
	if l.signer == nil {
		return nil, ErrNoSigner
	}
	fee := l.GetTxFee(kind)
	if amount > math.MaxUint64-fee {
		return nil, fmt.Errorf("%w: amount %d", ErrInvalidAmount, amount)
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	selectCoins := wallet.SelectCoins
	if l.leastChange {
		selectCoins = wallet.SelectLeastChange
	}
	sel, err := selectCoins(l.outputs, from, amount+fee)
	if err != nil {
		return nil, storeErr(err)
	}

	owners := make(map[types.Outpoint]types.Address, len(sel.Inputs))
	b := tx.NewBuilder(kind).SetTime(l.nowMs()).SetRemark(remark)
	for _, in := range sel.Inputs {
		b.AddInput(in.Outpoint)
		owners[in.Outpoint] = in.Address
	}
	pay(b)
	if sel.Change > 0 {
		b.AddOutput(from[0], sel.Change)
	}

	keys := make(map[types.Address]*crypto.PrivateKey)
	for _, owner := range owners {
		if _, ok := keys[owner]; ok {
			continue
		}
		key := l.signer.KeyFor(owner)
		if key == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSigner, owner)
		}
		keys[owner] = key
	}
	err = b.SignMulti(func(op types.Outpoint) *crypto.PrivateKey {
		return keys[owners[op]]
	})
	if err != nil {
		return nil, err
	}
	t, err := b.Build()
	if err != nil {
		return nil, err
	}

	if err := l.checkSpend(t, owners); err != nil {
		l.discard(t)
		return nil, err
	}
	l.mu.Lock()
	err = l.saveTransactions([]*tx.Transaction{t})
	l.mu.Unlock()
	if err != nil {
		l.discard(t)
		return nil, err
	}
	return t, nil
}

func (l *Ledger) checkSpend(t *tx.Transaction, owners map[types.Outpoint]types.Address) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return t.VerifySignatures(func(op types.Outpoint) (types.Address, error) {
		owner, ok := owners[op]
		if !ok {
			return types.Address{}, fmt.Errorf("%w: input %s", ErrNotFound, op)
		}
		return owner, nil
	})
}

// discard rolls back a locally built transaction and drops its record.
// Called with opMu held.
func (l *Ledger) discard(t *tx.Transaction) {
	if err := l.rollbackTx(t, nil); err != nil {
		l.logger.Error().Err(err).Str("tx", t.Hash().Short()).Msg("Failed to roll back discarded transaction")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.records.DeleteTx(t.Hash()); err != nil {
		l.logger.Error().Err(err).Str("tx", t.Hash().Short()).Msg("Failed to delete discarded transaction")
	}
}

// finishSpend records the outcome and broadcasts a successfully built
// transaction. No ledger lock is held here.
func (l *Ledger) finishSpend(kind tx.Type, t *tx.Transaction, err error) (types.Hash, error) {
	if err != nil {
		prometheusTransfers.WithLabelValues(kind.String(), "error").Inc()
		return types.Hash{}, err
	}
	prometheusTransfers.WithLabelValues(kind.String(), "ok").Inc()
	h := t.Hash()
	if berr := l.bcast.BroadcastTx(t); berr != nil {
		l.logger.Warn().Err(berr).Str("tx", h.Short()).Msg("Failed to broadcast transaction")
	}
	l.logger.Info().
		Str("tx", h.Short()).
		Str("type", t.Type.String()).
		Int("inputs", len(t.Inputs)).
		Msg("Transaction created")
	return h, nil
}
