package core

import (
	"context"
	"errors"
	"time"

	"taskledger/pkg/domain"
)

// Option configures a Service or Coordinator.
type Option func(*options)

type options struct {
	logger           Logger
	metrics          MetricsRecorder
	tracer           Tracer
	clock            Clock
	lockTimeout      time.Duration
	followUpAttempts int
	backend          domain.PersistentStore
	rules            *RulesEngine
}

func collectOptions(opts []Option) options {
	o := options{
		logger:           noopLogger{},
		metrics:          noopMetrics{},
		tracer:           noopTracer{},
		clock:            systemClock(),
		lockTimeout:      defaultLockTimeout,
		followUpAttempts: defaultFollowUpAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the structured logger. Nil keeps the noop logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer used around commits.
func WithTracer(t Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock injects the time source for entity stamps and audit timestamps.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLockTimeout sets the default lock wait deadline. Non-positive values
// wait until the caller's context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithFollowUpAttempts bounds how often a derived-state transaction is
// retried after a deadlock or timeout. When the attempts run out the parent
// commit returns a domain.FollowUpError.
func WithFollowUpAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.followUpAttempts = n
		}
	}
}

// WithBackend makes the service durable. State is hydrated from the backend
// on construction and every commit is written through to it.
func WithBackend(b domain.PersistentStore) Option {
	return func(o *options) { o.backend = b }
}

// WithRulesEngine replaces the default rule and hook set.
func WithRulesEngine(e *RulesEngine) Option {
	return func(o *options) { o.rules = e }
}

// Service is the transactional entry point for callers: typed create and
// update operations, read-only summaries and audit access. Every mutation,
// bulk seeding included, goes through the Transaction Coordinator.
type Service struct {
	coord   *Coordinator
	backend domain.PersistentStore
	logger  Logger
}

// New constructs a service. With a backend configured, the entity store and
// audit log are hydrated before the service is returned.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	o := collectOptions(opts)
	store := NewEntityStore(o.backend)
	audit := NewAuditLog(o.backend, o.clock, o.metrics)
	if o.backend != nil {
		snap, err := o.backend.Load(ctx)
		if err != nil {
			var storeErr *domain.StoreError
			if errors.As(err, &storeErr) {
				return nil, err
			}
			return nil, &domain.StoreError{Op: "load", Err: err}
		}
		store.Hydrate(snap.Entities)
		audit.Hydrate(snap.Audit)
		o.logger.Info("state hydrated", "entities", len(snap.Entities), "audit_records", len(snap.Audit))
	}
	rules := o.rules
	if rules == nil {
		rules = NewDefaultRulesEngine()
	}
	coord := NewCoordinator(store, NewLockManager(o.metrics), rules, audit, opts...)
	return &Service{coord: coord, backend: o.backend, logger: o.logger}, nil
}

// Close releases the backend, if any.
func (s *Service) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Coordinator returns the underlying transaction coordinator.
func (s *Service) Coordinator() *Coordinator { return s.coord }

// Store returns the committed entity store.
func (s *Service) Store() *EntityStore { return s.coord.store }

// Audit returns the audit log.
func (s *Service) Audit() *AuditLog { return s.coord.audit }

// Begin opens a transaction for callers that manage commit themselves.
func (s *Service) Begin(ctx context.Context, actor string, opts ...TxOption) (*Tx, error) {
	return s.coord.Begin(ctx, actor, opts...)
}

// Run executes fn in a single transaction. Deadlock and timeout errors are
// returned to the caller, who owns the retry policy.
func (s *Service) Run(ctx context.Context, actor string, fn TxFunc, opts ...TxOption) error {
	return s.coord.Run(ctx, actor, fn, opts...)
}

// CreateAccount persists a new account.
func (s *Service) CreateAccount(ctx context.Context, actor string, account domain.Account) (domain.Account, error) {
	var created domain.Account
	err := s.Run(ctx, actor, func(ctx context.Context, tx *Tx) error {
		var err error
		created, err = tx.CreateAccount(ctx, account)
		return err
	})
	return created, err
}

// CreateUser persists a new user. Role defaults to developer.
func (s *Service) CreateUser(ctx context.Context, actor string, user domain.User) (domain.User, error) {
	if user.Role == "" {
		user.Role = domain.RoleDeveloper
	}
	var created domain.User
	err := s.Run(ctx, actor, func(ctx context.Context, tx *Tx) error {
		var err error
		created, err = tx.CreateUser(ctx, user)
		return err
	})
	return created, err
}

// CreateProject persists a new project. Status defaults to planned.
func (s *Service) CreateProject(ctx context.Context, actor string, project domain.Project) (domain.Project, error) {
	if project.Status == "" {
		project.Status = domain.ProjectPlanned
	}
	var created domain.Project
	err := s.Run(ctx, actor, func(ctx context.Context, tx *Tx) error {
		var err error
		created, err = tx.CreateProject(ctx, project)
		return err
	})
	return created, err
}

// CreateTask persists a new task. A missing project is reported as
// ErrNotFound. Status defaults to todo.
func (s *Service) CreateTask(ctx context.Context, actor string, task domain.Task) (domain.Task, error) {
	if task.Status == "" {
		task.Status = domain.TaskTodo
	}
	var created domain.Task
	err := s.Run(ctx, actor, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.GetProject(ctx, task.ProjectID); err != nil {
			return err
		}
		var err error
		created, err = tx.CreateTask(ctx, task)
		return err
	})
	return created, err
}

// LogTime records hours worked on a task.
func (s *Service) LogTime(ctx context.Context, actor string, entry domain.TimeEntry) (domain.TimeEntry, error) {
	var created domain.TimeEntry
	err := s.Run(ctx, actor, func(ctx context.Context, tx *Tx) error {
		var err error
		created, err = tx.CreateTimeEntry(ctx, entry)
		return err
	})
	return created, err
}

// CreateInvoice persists a new invoice. Status defaults to draft.
func (s *Service) CreateInvoice(ctx context.Context, actor string, invoice domain.Invoice) (domain.Invoice, error) {
	if invoice.Status == "" {
		invoice.Status = domain.InvoiceDraft
	}
	var created domain.Invoice
	err := s.Run(ctx, actor, func(ctx context.Context, tx *Tx) error {
		var err error
		created, err = tx.CreateInvoice(ctx, invoice)
		return err
	})
	return created, err
}

// SetTaskStatus moves a task to status. Moving the last open task of a
// project to done completes the project in a follow-up transaction.
func (s *Service) SetTaskStatus(ctx context.Context, actor string, id int64, status domain.TaskStatus) (domain.Task, error) {
	var updated domain.Task
	err := s.Run(ctx, actor, func(ctx context.Context, tx *Tx) error {
		var err error
		updated, err = tx.UpdateTask(ctx, id, func(t *domain.Task) error {
			t.Status = status
			return nil
		})
		return err
	})
	return updated, err
}

// AssignTask sets or clears (nil userID) a task's assignee.
func (s *Service) AssignTask(ctx context.Context, actor string, id int64, userID *int64) (domain.Task, error) {
	var updated domain.Task
	err := s.Run(ctx, actor, func(ctx context.Context, tx *Tx) error {
		var err error
		updated, err = tx.UpdateTask(ctx, id, func(t *domain.Task) error {
			t.AssigneeID = userID
			return nil
		})
		return err
	})
	return updated, err
}

// SetInvoiceStatus moves an invoice to status.
func (s *Service) SetInvoiceStatus(ctx context.Context, actor string, id int64, status domain.InvoiceStatus) (domain.Invoice, error) {
	var updated domain.Invoice
	err := s.Run(ctx, actor, func(ctx context.Context, tx *Tx) error {
		var err error
		updated, err = tx.UpdateInvoice(ctx, id, func(i *domain.Invoice) error {
			i.Status = status
			return nil
		})
		return err
	})
	return updated, err
}

// SetProjectStatus moves a project to status. Completed is only accepted
// when every task of the project is done.
func (s *Service) SetProjectStatus(ctx context.Context, actor string, id int64, status domain.ProjectStatus) (domain.Project, error) {
	var updated domain.Project
	err := s.Run(ctx, actor, func(ctx context.Context, tx *Tx) error {
		var err error
		updated, err = tx.UpdateProject(ctx, id, func(p *domain.Project) error {
			p.Status = status
			return nil
		})
		return err
	})
	return updated, err
}

// AuditTrail returns the audit records of one entity in insertion order.
func (s *Service) AuditTrail(ref domain.Ref) []domain.AuditRecord {
	return s.coord.audit.ForEntity(ref)
}
