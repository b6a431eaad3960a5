package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTxDone is returned when a committed or rolled back transaction is used for writes.
	ErrTxDone = errors.New("txn: transaction already committed or rolled back")

	// ErrConflict is returned by Commit when another writer replaced the base
	// of a structure after this transaction first touched it.
	ErrConflict = errors.New("txn: concurrent modification detected")

	// ErrItemNotFound is returned when removing an item whose key is not present.
	ErrItemNotFound = errors.New("txn: item not found")
)

// State is the lifecycle state of a transaction.
type State uint8

const (
	// StateActive accepts writes and sees its own diff.
	StateActive State = iota
	// StateCommitted has published its diff.
	StateCommitted
	// StateRolledBack has discarded its diff.
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// participant is a transactional structure that keeps a private diff per Tx.
type participant interface {
	// lock blocks direct writes until unlock.
	lock()
	unlock()
	// validate reports whether diff can still be published. Called locked.
	validate(diff any) error
	// publish swaps in the merged state. Called locked, after every
	// participant of the transaction validated.
	publish(diff any)
}

// Observer receives transaction lifecycle events.
type Observer interface {
	OnCommit(txID uint64, participants int, d time.Duration, err error)
	OnRollback(txID uint64, participants int)
}

// Manager hands out transactions and serializes their commits.
//
// Commits are validate-all-then-publish-all under a single lock, so either
// every structure touched by a transaction gets its new base or none does.
// The structures themselves stay locked from validation to publication, so
// a direct write either conflicts with the commit or lands on top of it.
type Manager struct {
	nextID   atomic.Uint64
	commitMu sync.Mutex
	logger   *slog.Logger
	observer Observer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for commit and rollback events.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager creates a transaction manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin starts a new transaction. Bind it to a context with NewContext so
// index operations pick it up.
func (m *Manager) Begin() *Tx {
	return &Tx{
		id:      m.nextID.Add(1),
		mgr:     m,
		diffs:   make(map[participant]any),
		started: time.Now(),
	}
}

func (m *Manager) commit(tx *Tx) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != StateActive {
		return ErrTxDone
	}

	start := time.Now()
	err := m.publishAll(tx)
	if err != nil {
		tx.state = StateRolledBack
		m.logger.Warn("transaction commit failed",
			"tx", tx.id,
			"participants", len(tx.order),
			"error", err,
		)
	} else {
		tx.state = StateCommitted
		m.logger.Debug("transaction committed",
			"tx", tx.id,
			"participants", len(tx.order),
			"duration", time.Since(start),
		)
	}
	if m.observer != nil {
		m.observer.OnCommit(tx.id, len(tx.order), time.Since(start), err)
	}
	tx.diffs = nil
	return err
}

func (m *Manager) publishAll(tx *Tx) error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	// Direct writes hold at most one structure lock, so taking them all
	// in any order cannot deadlock.
	for _, p := range tx.order {
		p.lock()
	}
	defer func() {
		for _, p := range tx.order {
			p.unlock()
		}
	}()

	for i, p := range tx.order {
		if err := p.validate(tx.diffs[p]); err != nil {
			return fmt.Errorf("participant %d of tx %d: %w", i, tx.id, err)
		}
	}
	for _, p := range tx.order {
		p.publish(tx.diffs[p])
	}
	return nil
}

func (m *Manager) rollback(tx *Tx) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != StateActive {
		return ErrTxDone
	}
	tx.state = StateRolledBack
	m.logger.Debug("transaction rolled back",
		"tx", tx.id,
		"participants", len(tx.order),
	)
	if m.observer != nil {
		m.observer.OnRollback(tx.id, len(tx.order))
	}
	tx.diffs = nil
	return nil
}

// Tx is a write transaction. Its changes stay invisible to every other
// reader until Commit.
//
// Reads are read-committed per structure: a structure the transaction has
// written is seen as its base at the first write plus the diff, any other
// structure as its current committed base. Two reads of an untouched
// structure may therefore observe different commits.
//
// A Tx is meant to be driven by one goroutine at a time.
type Tx struct {
	id      uint64
	mgr     *Manager
	started time.Time

	mu    sync.Mutex
	state State
	diffs map[participant]any
	order []participant
}

// ID returns the transaction id.
func (tx *Tx) ID() uint64 { return tx.id }

// State returns the lifecycle state.
func (tx *Tx) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Participants returns how many structures hold a diff in this transaction.
func (tx *Tx) Participants() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.order)
}

// Commit publishes every diff of the transaction.
func (tx *Tx) Commit() error {
	return tx.mgr.commit(tx)
}

// Rollback discards every diff of the transaction.
func (tx *Tx) Rollback() error {
	return tx.mgr.rollback(tx)
}

// diffFor returns the diff of p, creating it with init on first write.
func (tx *Tx) diffFor(p participant, init func() any) (any, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != StateActive {
		return nil, ErrTxDone
	}
	if d, ok := tx.diffs[p]; ok {
		return d, nil
	}
	d := init()
	tx.diffs[p] = d
	tx.order = append(tx.order, p)
	return d, nil
}

// peek returns the diff of p without creating one.
func (tx *Tx) peek(p participant) (any, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != StateActive {
		return nil, false
	}
	d, ok := tx.diffs[p]
	return d, ok
}

type ctxKey struct{}

// NewContext returns a context bound to tx.
func NewContext(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, ctxKey{}, tx)
}

// FromContext returns the transaction bound to ctx, or nil.
func FromContext(ctx context.Context) *Tx {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(ctxKey{}).(*Tx)
	return tx
}
