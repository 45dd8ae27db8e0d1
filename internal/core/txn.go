package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskledger/pkg/domain"
)

// TxState is a transaction's position in its lifecycle.
type TxState string

// Transaction states: Open -> Validating -> Committed | Aborted.
const (
	TxOpen       TxState = "open"
	TxValidating TxState = "validating"
	TxCommitted  TxState = "committed"
	TxAborted    TxState = "aborted"
)

const (
	defaultLockTimeout      = 5 * time.Second
	defaultFollowUpAttempts = 3
)

// TxFunc is the body of a transaction run by Coordinator.Run.
type TxFunc func(ctx context.Context, tx *Tx) error

// Coordinator groups lock acquisition, staged mutation, rule evaluation and
// all-or-nothing publication into transactions (strict two-phase locking:
// locks are taken on first touch and held until commit or abort).
type Coordinator struct {
	store            *EntityStore
	locks            *LockManager
	rules            *RulesEngine
	audit            *AuditLog
	logger           Logger
	metrics          MetricsRecorder
	tracer           Tracer
	clock            Clock
	lockTimeout      time.Duration
	followUpAttempts int
	newID            func() string
}

// NewCoordinator wires the engine components together. Only logger, metrics,
// tracer, clock, lock timeout and follow-up attempts are read from opts.
func NewCoordinator(store *EntityStore, locks *LockManager, rules *RulesEngine, audit *AuditLog, opts ...Option) *Coordinator {
	o := collectOptions(opts)
	if rules == nil {
		rules = NewRulesEngine()
	}
	return &Coordinator{
		store:            store,
		locks:            locks,
		rules:            rules,
		audit:            audit,
		logger:           o.logger,
		metrics:          o.metrics,
		tracer:           o.tracer,
		clock:            o.clock,
		lockTimeout:      o.lockTimeout,
		followUpAttempts: o.followUpAttempts,
		newID:            func() string { return uuid.NewString() },
	}
}

// TxOption customizes a single transaction.
type TxOption func(*Tx)

// WithTxLockTimeout overrides the lock wait deadline for one transaction.
// A non-positive value waits until the context is done.
func WithTxLockTimeout(d time.Duration) TxOption {
	return func(tx *Tx) { tx.lockTimeout = d }
}

// Begin opens a transaction on behalf of actor.
func (c *Coordinator) Begin(_ context.Context, actor string, opts ...TxOption) (*Tx, error) {
	if actor == "" {
		return nil, errors.New("actor is required")
	}
	tx := &Tx{
		c:           c,
		id:          c.newID(),
		actor:       actor,
		lockTimeout: c.lockTimeout,
		started:     c.clock.Now(),
		state:       TxOpen,
		locks:       make(map[domain.Ref]*LockHandle),
		baseline:    make(map[domain.Ref]domain.Entity),
		staged:      make(map[domain.Ref]*domain.Change),
	}
	for _, opt := range opts {
		opt(tx)
	}
	c.logger.Debug("transaction begin", "tx", tx.id, "actor", actor)
	return tx, nil
}

// Run begins a transaction, executes fn and commits. Any error from fn aborts
// the transaction. Retry policy is left to the caller.
func (c *Coordinator) Run(ctx context.Context, actor string, fn TxFunc, opts ...TxOption) error {
	tx, err := c.Begin(ctx, actor, opts...)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Abort()
		return err
	}
	return tx.Commit(ctx)
}

// Store returns the entity store.
func (c *Coordinator) Store() *EntityStore { return c.store }

// Locks returns the lock manager.
func (c *Coordinator) Locks() *LockManager { return c.locks }

// Audit returns the audit log.
func (c *Coordinator) Audit() *AuditLog { return c.audit }

// Rules returns the rules engine.
func (c *Coordinator) Rules() *RulesEngine { return c.rules }

type followUp struct {
	name string
	fn   TxFunc
}

// runFollowUps runs each follow-up in order and returns a joined
// FollowUpError for every one that still failed after its attempts.
func (c *Coordinator) runFollowUps(ctx context.Context, actor, parent string, followUps []followUp) error {
	ctx = context.WithoutCancel(ctx)
	var failed []error
	for _, f := range followUps {
		var err error
		for attempt := 1; attempt <= c.followUpAttempts; attempt++ {
			err = c.Run(ctx, actor, f.fn)
			if err == nil || !domain.IsRetryable(err) {
				break
			}
			c.logger.Warn("follow-up transaction retry", "hook", f.name, "parent", parent, "attempt", attempt, "error", err)
		}
		if err != nil {
			c.metrics.IncFollowUpFailure(f.name)
			c.logger.Error("follow-up transaction failed", "hook", f.name, "parent", parent, "error", err)
			failed = append(failed, &domain.FollowUpError{Hook: f.name, Parent: parent, Err: err})
		}
	}
	return errors.Join(failed...)
}

// Tx is a unit of staged mutations. A Tx must be used by one goroutine at a
// time; State may be read concurrently.
type Tx struct {
	c           *Coordinator
	id          string
	actor       string
	lockTimeout time.Duration
	started     time.Time

	mu    sync.Mutex
	state TxState

	locks    map[domain.Ref]*LockHandle
	baseline map[domain.Ref]domain.Entity
	order    []domain.Ref
	staged   map[domain.Ref]*domain.Change
}

// ID returns the transaction identifier used as lock owner.
func (tx *Tx) ID() string { return tx.id }

// Actor returns the identity the transaction acts for.
func (tx *Tx) Actor() string { return tx.actor }

// State returns the current lifecycle state.
func (tx *Tx) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *Tx) setState(s TxState) {
	tx.mu.Lock()
	tx.state = s
	tx.mu.Unlock()
}

func (tx *Tx) ensureOpen() error {
	if st := tx.State(); st != TxOpen {
		return fmt.Errorf("%w: transaction %s is %s", domain.ErrTxClosed, tx.id, st)
	}
	return nil
}

// Lock acquires the exclusive lock on ref if the transaction does not hold it
// yet and records the committed value as the baseline for later updates. A
// lock failure aborts the transaction.
func (tx *Tx) Lock(ctx context.Context, ref domain.Ref) error {
	if err := tx.ensureOpen(); err != nil {
		return err
	}
	if _, ok := tx.locks[ref]; ok {
		return nil
	}
	h, err := tx.c.locks.Acquire(ctx, tx.id, ref, tx.lockTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrDeadlock) || errors.Is(err, domain.ErrLockTimeout) {
			tx.c.logger.Warn("lock not granted", "tx", tx.id, "ref", ref.String(), "error", err)
		}
		tx.abort(TxOutcomeAborted, err)
		return err
	}
	tx.locks[ref] = h
	if e, ok := tx.c.store.Get(ref.Entity, ref.ID); ok {
		tx.baseline[ref] = e
	}
	return nil
}

// Get locks ref and returns its value as seen by this transaction.
func (tx *Tx) Get(ctx context.Context, ref domain.Ref) (domain.Entity, error) {
	if err := tx.Lock(ctx, ref); err != nil {
		return nil, err
	}
	if ch, ok := tx.staged[ref]; ok {
		return domain.CloneEntity(ch.After), nil
	}
	if e, ok := tx.baseline[ref]; ok {
		return domain.CloneEntity(e), nil
	}
	return nil, domain.NotFoundError{Entity: ref.Entity, ID: ref.ID}
}

// Stage buffers a new value for an existing entity, locking it on first
// touch. The shared store is not modified until Commit.
func (tx *Tx) Stage(ctx context.Context, e domain.Entity) error {
	ref := e.Ref()
	if err := tx.Lock(ctx, ref); err != nil {
		return err
	}
	if ch, ok := tx.staged[ref]; ok {
		ch.After = domain.CloneEntity(e)
		return nil
	}
	before, ok := tx.baseline[ref]
	if !ok {
		return domain.NotFoundError{Entity: ref.Entity, ID: ref.ID}
	}
	tx.order = append(tx.order, ref)
	tx.staged[ref] = &domain.Change{
		Entity: ref.Entity,
		ID:     ref.ID,
		Action: domain.ActionUpdate,
		Before: before,
		After:  domain.CloneEntity(e),
	}
	return nil
}

// Create assigns the next identifier to e, locks it and stages its insert.
func (tx *Tx) Create(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	if err := tx.ensureOpen(); err != nil {
		return nil, err
	}
	entity := e.Ref().Entity
	if !entity.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}
	e = domain.WithID(e, tx.c.store.NextID(entity))
	ref := e.Ref()
	if err := tx.Lock(ctx, ref); err != nil {
		return nil, err
	}
	tx.order = append(tx.order, ref)
	tx.staged[ref] = &domain.Change{
		Entity: ref.Entity,
		ID:     ref.ID,
		Action: domain.ActionCreate,
		After:  domain.CloneEntity(e),
	}
	return domain.CloneEntity(e), nil
}

// View returns the transaction's read view: staged values overlaid on the
// committed store. Reads through the view take no locks.
func (tx *Tx) View() View { return txView{tx: tx} }

// Changes returns the staged changes in staging order.
func (tx *Tx) Changes() []domain.Change {
	out := make([]domain.Change, 0, len(tx.order))
	for _, ref := range tx.order {
		ch := *tx.staged[ref]
		ch.After = domain.CloneEntity(ch.After)
		out = append(out, ch)
	}
	return out
}

// Commit validates the staged changes, publishes them atomically, runs the
// after-commit hooks and releases all locks. Rejections abort the
// transaction and return a RuleViolationError. An error matching
// ErrStoreUnavailable from an after-commit hook, or ErrFollowUpFailed from a
// spawned transaction, is returned with the transaction already Committed.
func (tx *Tx) Commit(ctx context.Context) (err error) {
	if err := tx.ensureOpen(); err != nil {
		return err
	}
	tx.setState(TxValidating)
	ctx, span := tx.c.tracer.Start(withTraceTxID(ctx, tx.id), "commit")
	defer func() { span.End(err) }()

	changes := tx.Changes()
	res, err := tx.c.rules.Validate(ctx, tx.View(), changes)
	if err != nil {
		tx.abort(TxOutcomeFailed, err)
		return err
	}
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityWarn {
			tx.c.logger.Warn("rule warning", "tx", tx.id, "rule", v.Rule, "entity", string(v.Entity), "id", v.EntityID, "message", v.Message)
		}
	}
	if v, blocked := res.FirstBlocking(); blocked {
		rejection := domain.RuleViolationError{Violation: v}
		tx.c.metrics.IncRuleRejection(v.Rule)
		tx.c.logger.Info("transaction rejected", "tx", tx.id, "rule", v.Rule, "message", v.Message)
		tx.abort(TxOutcomeRejected, rejection)
		return rejection
	}

	now := tx.c.clock.Now()
	writes := make([]domain.Entity, 0, len(changes))
	for i := range changes {
		changes[i].After = domain.Stamp(changes[i].After, now)
		writes = append(writes, changes[i].After)
	}
	if err := tx.c.store.Apply(ctx, writes); err != nil {
		var rejection domain.RuleViolationError
		if errors.As(err, &rejection) {
			tx.c.metrics.IncRuleRejection(rejection.Violation.Rule)
			tx.abort(TxOutcomeRejected, err)
			return err
		}
		tx.c.logger.Error("store apply failed", "tx", tx.id, "error", err)
		tx.abort(TxOutcomeFailed, err)
		return err
	}
	tx.setState(TxCommitted)

	hc := &HookContext{txID: tx.id, actor: tx.actor, coord: tx.c}
	hookErr := tx.c.rules.RunAfterCommit(ctx, hc, changes)
	tx.releaseLocks()
	tx.c.metrics.ObserveTransaction(TxOutcomeCommitted, tx.c.clock.Now().Sub(tx.started))
	tx.c.logger.Debug("transaction committed", "tx", tx.id, "actor", tx.actor, "changes", len(changes))

	followErr := tx.c.runFollowUps(ctx, tx.actor, tx.id, hc.followUps)
	if hookErr != nil {
		tx.c.logger.Error("after-commit hook failed", "tx", tx.id, "error", hookErr)
		return errors.Join(hookErr, followErr)
	}
	return followErr
}

// Abort discards staged changes and releases all locks. Aborting an aborted
// transaction is a no-op; aborting a committed one returns ErrTxClosed.
func (tx *Tx) Abort() error {
	switch tx.State() {
	case TxAborted:
		return nil
	case TxCommitted:
		return fmt.Errorf("%w: transaction %s already committed", domain.ErrTxClosed, tx.id)
	}
	tx.abort(TxOutcomeAborted, nil)
	return nil
}

func (tx *Tx) abort(outcome string, cause error) {
	tx.setState(TxAborted)
	tx.order = nil
	tx.staged = make(map[domain.Ref]*domain.Change)
	tx.baseline = make(map[domain.Ref]domain.Entity)
	tx.releaseLocks()
	tx.c.metrics.ObserveTransaction(outcome, tx.c.clock.Now().Sub(tx.started))
	if cause != nil {
		tx.c.logger.Debug("transaction aborted", "tx", tx.id, "outcome", outcome, "error", cause)
	} else {
		tx.c.logger.Debug("transaction aborted", "tx", tx.id, "outcome", outcome)
	}
}

func (tx *Tx) releaseLocks() {
	for ref, h := range tx.locks {
		h.Release()
		delete(tx.locks, ref)
	}
}

type txView struct {
	tx *Tx
}

func (v txView) Get(entity domain.EntityType, id int64) (domain.Entity, bool) {
	if ch, ok := v.tx.staged[domain.Ref{Entity: entity, ID: id}]; ok {
		return domain.CloneEntity(ch.After), true
	}
	return v.tx.c.store.Get(entity, id)
}

func (v txView) Scan(entity domain.EntityType, fn func(domain.Entity) bool) {
	for _, e := range v.tx.c.store.List(entity) {
		if ch, ok := v.tx.staged[e.Ref()]; ok {
			e = domain.CloneEntity(ch.After)
		}
		if !fn(e) {
			return
		}
	}
	for _, ref := range v.tx.order {
		ch := v.tx.staged[ref]
		if ref.Entity != entity || ch.Action != domain.ActionCreate {
			continue
		}
		if !fn(domain.CloneEntity(ch.After)) {
			return
		}
	}
}
