// Package memory is an in-process implementation of every approval store port.
// Transactions are serialized and rolled back by restoring a snapshot, which
// gives tests the same all-or-nothing behaviour as PostgreSQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"approvalflow/internal/approval/models"
	"approvalflow/internal/approval/ports"
	"approvalflow/pkg/platform/sentinel"
)

var (
	_ ports.TxRunner       = (*Store)(nil)
	_ ports.ConfigStore    = (*Store)(nil)
	_ ports.RequestStore   = (*Store)(nil)
	_ ports.AuditStore     = (*Store)(nil)
	_ ports.ExecutionStore = (*Store)(nil)
	_ ports.OutboxStore    = (*Store)(nil)
)

type txKey struct{}

type levelKey struct {
	serviceRequestID string
	level            string
}

type state struct {
	configs    map[string]*models.Configuration
	requests   map[uuid.UUID]*models.Request
	levels     map[levelKey]uuid.UUID
	audit      []*models.AuditEntry
	outbox     []*models.OutboxMessage
	executions map[string]*models.Execution
}

// Store keeps all approval data in memory.
type Store struct {
	txMu sync.Mutex // held for the whole of a transaction or a standalone write
	mu   sync.RWMutex
	st   state
}

// New returns an empty store.
func New() *Store {
	return &Store{st: state{
		configs:    make(map[string]*models.Configuration),
		requests:   make(map[uuid.UUID]*models.Request),
		levels:     make(map[levelKey]uuid.UUID),
		executions: make(map[string]*models.Execution),
	}}
}

// RunInTx runs fn with exclusive write access. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.mu.Lock()
		s.st = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// write runs fn under the data lock, taking the transaction lock first when
// the caller is not already inside a transaction.
func (s *Store) write(ctx context.Context, fn func() error) error {
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Store) snapshot() state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := state{
		configs:    make(map[string]*models.Configuration, len(s.st.configs)),
		requests:   make(map[uuid.UUID]*models.Request, len(s.st.requests)),
		levels:     make(map[levelKey]uuid.UUID, len(s.st.levels)),
		audit:      append([]*models.AuditEntry(nil), s.st.audit...),
		outbox:     make([]*models.OutboxMessage, len(s.st.outbox)),
		executions: make(map[string]*models.Execution, len(s.st.executions)),
	}
	for k, v := range s.st.configs {
		snap.configs[k] = v.Clone()
	}
	for k, v := range s.st.requests {
		snap.requests[k] = v.Clone()
	}
	for k, v := range s.st.levels {
		snap.levels[k] = v
	}
	for i, m := range s.st.outbox {
		c := *m
		snap.outbox[i] = &c
	}
	for k, v := range s.st.executions {
		c := *v
		snap.executions[k] = &c
	}
	return snap
}

// Upsert stores cfg, keeping CreatedAt and Enabled of an existing entry.
func (s *Store) Upsert(ctx context.Context, cfg *models.Configuration) (*models.Configuration, error) {
	var out *models.Configuration
	err := s.write(ctx, func() error {
		stored := cfg.Clone()
		if existing, ok := s.st.configs[cfg.Key()]; ok {
			stored.CreatedAt = existing.CreatedAt
			stored.Enabled = existing.Enabled
		}
		s.st.configs[cfg.Key()] = stored
		out = stored.Clone()
		return nil
	})
	return out, err
}

func (s *Store) Find(_ context.Context, module, service string) (*models.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.st.configs[models.ConfigKey(module, service)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cfg.Clone(), nil
}

func (s *Store) List(_ context.Context) ([]*models.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Configuration, 0, len(s.st.configs))
	for _, cfg := range s.st.configs {
		out = append(out, cfg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *Store) SetEnabled(ctx context.Context, module, service string, enabled bool, now time.Time) error {
	return s.write(ctx, func() error {
		cfg, ok := s.st.configs[models.ConfigKey(module, service)]
		if !ok {
			return sentinel.ErrNotFound
		}
		cfg.Enabled = enabled
		cfg.UpdatedAt = now
		return nil
	})
}

// CreateBatch inserts every request or none.
func (s *Store) CreateBatch(ctx context.Context, requests []*models.Request) error {
	return s.write(ctx, func() error {
		batch := make(map[levelKey]struct{}, len(requests))
		for _, r := range requests {
			key := levelKey{r.ServiceRequestID, r.ApprovalLevel}
			if _, taken := s.st.levels[key]; taken {
				return sentinel.ErrAlreadyUsed
			}
			if _, dup := batch[key]; dup {
				return sentinel.ErrAlreadyUsed
			}
			if _, dup := s.st.requests[r.ID]; dup {
				return sentinel.ErrAlreadyUsed
			}
			batch[key] = struct{}{}
		}
		for _, r := range requests {
			s.st.requests[r.ID] = r.Clone()
			s.st.levels[levelKey{r.ServiceRequestID, r.ApprovalLevel}] = r.ID
		}
		return nil
	})
}

func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) ListByServiceRequest(_ context.Context, serviceRequestID string) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Request, 0)
	for _, r := range s.st.requests {
		if r.ServiceRequestID == serviceRequestID {
			out = append(out, r.Clone())
		}
	}
	return models.SortByLevel(out), nil
}

// Resolve is the conditional PENDING -> terminal write.
func (s *Store) Resolve(ctx context.Context, id uuid.UUID, res models.Resolution) (*models.Request, error) {
	var out *models.Request
	err := s.write(ctx, func() error {
		r, ok := s.st.requests[id]
		if !ok {
			return sentinel.ErrNotFound
		}
		if r.Status != models.StatusPending {
			return sentinel.ErrConflict
		}
		res.Apply(r)
		out = r.Clone()
		return nil
	})
	return out, err
}

// LockOverdue returns overdue rows oldest-due first. Transactions are
// serialized here, so no row is ever skipped for being locked.
func (s *Store) LockOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Request, error) {
	if !s.inTx(ctx) {
		return nil, sentinel.ErrInvalidState
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Request, 0)
	for _, r := range s.st.requests {
		if r.IsOverdue(now) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Append records entry and queues it on the outbox.
func (s *Store) Append(ctx context.Context, entry *models.AuditEntry) error {
	msg, err := models.NewOutboxMessage(entry)
	if err != nil {
		return err
	}
	return s.write(ctx, func() error {
		c := *entry
		s.st.audit = append(s.st.audit, &c)
		s.st.outbox = append(s.st.outbox, msg)
		return nil
	})
}

func (s *Store) ListAudit(_ context.Context, serviceRequestID string) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AuditEntry, 0)
	for _, e := range s.st.audit {
		if e.ServiceRequestID == serviceRequestID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) Claim(ctx context.Context, serviceRequestID string, now, staleBefore time.Time) (*models.Execution, error) {
	var out *models.Execution
	err := s.write(ctx, func() error {
		if existing, ok := s.st.executions[serviceRequestID]; ok && !existing.Reclaimable(staleBefore) {
			return sentinel.ErrAlreadyUsed
		}
		exec := &models.Execution{
			ServiceRequestID: serviceRequestID,
			Status:           models.ExecutionRunning,
			ClaimedAt:        now,
		}
		s.st.executions[serviceRequestID] = exec
		c := *exec
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) Finish(ctx context.Context, serviceRequestID string, status models.ExecutionStatus, now time.Time) error {
	return s.write(ctx, func() error {
		exec, ok := s.st.executions[serviceRequestID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if exec.Status != models.ExecutionRunning {
			return sentinel.ErrConflict
		}
		exec.Status = status
		at := now
		exec.FinishedAt = &at
		return nil
	})
}

func (s *Store) FindExecution(_ context.Context, serviceRequestID string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.st.executions[serviceRequestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *exec
	return &c, nil
}

// PendingOutbox returns unpublished messages in insertion order.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	if !s.inTx(ctx) {
		return nil, sentinel.ErrInvalidState
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.OutboxMessage, 0)
	for _, m := range s.st.outbox {
		if m.PublishedAt != nil {
			continue
		}
		c := *m
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return s.write(ctx, func() error {
		for _, m := range s.st.outbox {
			if _, ok := want[m.ID]; ok && m.PublishedAt == nil {
				t := at
				m.PublishedAt = &t
			}
		}
		return nil
	})
}
