/*
Package state implements the ledger: the current state of the node kept in an
authenticated tree and committed in atomic batches of changes.
*/
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neohex/chit/pkg/config"
	"github.com/neohex/chit/pkg/core/avl"
	"github.com/neohex/chit/pkg/core/hashdb"
	"github.com/neohex/chit/pkg/core/storage"
	"github.com/neohex/chit/pkg/util"
	"go.uber.org/zap"
)

// Version is the version of the ledger storage layout.
const Version = "0.1.0"

// ErrClosed is returned on any operation over a closed Ledger.
var ErrClosed = errors.New("ledger is closed")

// Change is a single change of the ledger state, nil Value means removal of
// the Key.
type Change = avl.Change

// Ledger keeps the key-value state of the node in a FatDB tree over the
// given storage.Store. A single writer and multiple readers are allowed at
// any time. The last KeepRoots roots are kept available for View, nodes
// reachable only from older roots are removed by garbage collection.
type Ledger struct {
	lock sync.RWMutex

	cfg   config.Ledger
	store storage.Store
	dao   *storage.MemCachedStore
	db    *hashdb.StoreDB
	log   *zap.Logger

	root    util.Uint256
	history []util.Uint256
	closed  bool
}

// NewLedger opens the ledger stored in s. An empty store is initialized as
// an empty ledger.
func NewLedger(s storage.Store, cfg config.Ledger, log *zap.Logger) (*Ledger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.KeepRoots == 0 {
		cfg.KeepRoots = 1
	}
	dao := storage.NewMemCachedStore(s)
	db, err := hashdb.NewStoreDB(dao, cfg.NodeCacheSize, log)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		cfg:   cfg,
		store: s,
		dao:   dao,
		db:    db,
		log:   log,
	}
	if err := l.init(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) init() error {
	ver, err := l.dao.Get(storage.SYSVersion.Bytes())
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		l.log.Info("initializing ledger from scratch")
		l.dao.Put(storage.SYSVersion.Bytes(), []byte(Version))
		if _, err := l.dao.Persist(); err != nil {
			return fmt.Errorf("failed to initialize ledger: %w", err)
		}
		updateEntriesMetric(0)
		return nil
	case err != nil:
		return fmt.Errorf("failed to read storage version: %w", err)
	case string(ver) != Version:
		return fmt.Errorf("storage version mismatch (expected=%s, actual=%s)", Version, ver)
	}

	data, err := l.dao.Get(storage.SYSCurrentRoot.Bytes())
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return fmt.Errorf("failed to read current root: %w", err)
	}
	if err == nil {
		if l.root, err = util.Uint256DecodeBytesBE(data); err != nil {
			return fmt.Errorf("bad current root: %w", err)
		}
	}
	tr, err := avl.NewFatDB(l.db, l.root)
	if err != nil {
		return err
	}
	data, err = l.dao.Get(storage.SYSRootHistory.Bytes())
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return fmt.Errorf("failed to read root history: %w", err)
	}
	if len(data)%util.Uint256Size != 0 {
		return fmt.Errorf("bad root history length %d", len(data))
	}
	for i := 0; i < len(data); i += util.Uint256Size {
		h, _ := util.Uint256DecodeBytesBE(data[i : i+util.Uint256Size])
		l.history = append(l.history, h)
	}
	n, err := tr.Len()
	if err != nil {
		return err
	}
	updateEntriesMetric(n)
	l.log.Info("ledger loaded",
		zap.Stringer("root", l.root),
		zap.Uint64("entries", n),
		zap.Int("roots", len(l.history)))
	return nil
}

// Apply commits the batch of changes atomically returning the new root. The
// whole batch is applied to the tree at once, changes of the same key are
// applied in order. On any error nothing is changed.
func (l *Ledger) Apply(changes []Change) (util.Uint256, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return l.root, ErrClosed
	}

	start := time.Now()
	tr, err := avl.FatDBMutFromExisting(l.db, l.root)
	if err != nil {
		return l.root, err
	}
	if err := tr.Apply(changes); err != nil {
		l.db.Discard()
		return l.root, fmt.Errorf("failed to apply changes: %w", err)
	}
	root := tr.Root()
	if root == l.root {
		l.db.Discard()
		return root, nil
	}

	history := append(l.history, root)
	if len(history) > int(l.cfg.KeepRoots) {
		history = history[len(history)-int(l.cfg.KeepRoots):]
	}
	hdata := make([]byte, 0, len(history)*util.Uint256Size)
	for _, h := range history {
		hdata = append(hdata, h[:]...)
	}
	l.dao.Put(storage.SYSCurrentRoot.Bytes(), root.BytesBE())
	l.dao.Put(storage.SYSRootHistory.Bytes(), hdata)
	keys, err := l.db.Persist()
	if err != nil {
		l.db.Discard()
		return l.root, fmt.Errorf("failed to persist changes: %w", err)
	}
	l.root = root
	l.history = history

	commits.Inc()
	if n, err := tr.Len(); err == nil {
		updateEntriesMetric(n)
	}
	l.log.Debug("changes committed",
		zap.Stringer("root", root),
		zap.Int("changes", len(changes)),
		zap.Int("keys", keys),
		zap.Duration("took", time.Since(start)))
	return root, nil
}

// Root returns the current root.
func (l *Ledger) Root() util.Uint256 {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.root
}

// Roots returns the roots kept available, the oldest first.
func (l *Ledger) Roots() []util.Uint256 {
	l.lock.RLock()
	defer l.lock.RUnlock()
	res := make([]util.Uint256, len(l.history))
	copy(res, l.history)
	return res
}

// current returns a read-only view at the current root, must be called with
// the lock held.
func (l *Ledger) current() (*avl.FatDB, error) {
	if l.closed {
		return nil, ErrClosed
	}
	return avl.NewFatDB(l.db, l.root)
}

// Get returns the value stored under the key or nil if there is none.
func (l *Ledger) Get(key []byte) ([]byte, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	tr, err := l.current()
	if err != nil {
		return nil, err
	}
	return tr.Get(key)
}

// Contains checks whether the key is present in the current state.
func (l *Ledger) Contains(key []byte) (bool, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	tr, err := l.current()
	if err != nil {
		return false, err
	}
	return tr.Contains(key)
}

// Len returns the number of entries in the current state.
func (l *Ledger) Len() (uint64, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	tr, err := l.current()
	if err != nil {
		return 0, err
	}
	return tr.Len()
}

// Iterate calls f for every entry of the current state (in hashed key order)
// until f returns false. Entries with unknown original keys are skipped. The
// ledger can't be changed from f.
func (l *Ledger) Iterate(f func(key, value []byte) bool) error {
	l.lock.RLock()
	defer l.lock.RUnlock()
	tr, err := l.current()
	if err != nil {
		return err
	}
	return tr.Iterate(func(h util.Uint256, key, value []byte) bool {
		if key == nil {
			l.log.Warn("missing original key", zap.Stringer("hash", h))
			return true
		}
		return f(key, value)
	})
}

// View returns a read-only view of the state at the given root. Roots not in
// Roots can be garbage collected at any time invalidating the view.
func (l *Ledger) View(root util.Uint256) (*avl.FatDB, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	return avl.NewFatDB(l.db, root)
}

// CollectGarbage removes all nodes not reachable from the kept roots and
// fixes reference counters of the rest. It returns the number of removed
// nodes.
func (l *Ledger) CollectGarbage() (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return 0, ErrClosed
	}

	start := time.Now()
	roots := l.history
	if len(roots) == 0 || roots[len(roots)-1] != l.root {
		roots = append(roots[:len(roots):len(roots)], l.root)
	}
	refs, err := avl.CountRefs(l.db, roots)
	if err != nil {
		return 0, fmt.Errorf("failed to count references: %w", err)
	}
	removed, err := l.db.Reconcile(refs)
	if err != nil {
		return removed, err
	}
	took := time.Since(start)
	collected.Add(float64(removed))
	gcDuration.Observe(took.Seconds())
	l.log.Info("garbage collected",
		zap.Int("removed", removed),
		zap.Int("live", len(refs)),
		zap.Duration("took", took))
	return removed, nil
}

// Run collects garbage every GarbageCollectionPeriod until the context is
// done. It returns immediately if the period is zero.
func (l *Ledger) Run(ctx context.Context) {
	if l.cfg.GarbageCollectionPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(l.cfg.GarbageCollectionPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.CollectGarbage(); err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				l.log.Error("garbage collection failed", zap.Error(err))
			}
		}
	}
}

// Close flushes all pending changes and closes the underlying store.
func (l *Ledger) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if _, err := l.dao.Persist(); err != nil {
		l.log.Error("failed to persist pending changes", zap.Error(err))
	}
	return l.store.Close()
}
