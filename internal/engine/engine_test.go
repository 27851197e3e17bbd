package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

// memStore is an in-memory Store used by the engine tests. It mimics the
// PostgreSQL storage closely enough to exercise the state machine: unique
// idempotency keys, wholesale item rebuilds, (created_at, item_id) ordering
// and serialized job mutation under WithJobLock.
type memStore struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	items  map[string][]domain.JobItem
	errors map[string][]domain.JobError

	failResetWith error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:   make(map[string]*domain.Job),
		items:  make(map[string][]domain.JobItem),
		errors: make(map[string][]domain.JobError),
	}
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.Options = cloneMap(j.Options)
	c.Summary = cloneMap(j.Summary)
	return &c
}

func cloneMap(m domain.JSONMap) domain.JSONMap {
	if m == nil {
		return nil
	}
	c := make(domain.JSONMap, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func (s *memStore) CreateJob(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.IdempotencyKey == job.IdempotencyKey {
			return domain.ErrDuplicateIdempotencyKey
		}
	}
	s.jobs[job.JobID] = cloneJob(job)
	return nil
}

func (s *memStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *memStore) GetJobByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.IdempotencyKey == key {
			return cloneJob(job), nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (s *memStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; !ok {
		return domain.ErrJobNotFound
	}
	s.jobs[job.JobID] = cloneJob(job)
	return nil
}

func (s *memStore) WithJobLock(ctx context.Context, jobID string, fn func(ctx context.Context, tx StoreTx, job *domain.Job) error) (*domain.Job, error) {
	s.mu.Lock()
	stored, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrJobNotFound
	}
	job := cloneJob(stored)
	s.mu.Unlock()

	if err := fn(ctx, s, job); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.jobs[jobID] = cloneJob(job)
	s.mu.Unlock()
	return job, nil
}

func (s *memStore) RebuildItems(ctx context.Context, job *domain.Job, items []domain.JobItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[job.JobID] = append([]domain.JobItem(nil), items...)
	s.errors[job.JobID] = nil
	s.jobs[job.JobID] = cloneJob(job)
	return nil
}

func (s *memStore) ListItems(ctx context.Context, jobID string, filter domain.ItemFilter) ([]domain.JobItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}
	ids := make(map[string]bool, len(filter.ItemIDs))
	for _, id := range filter.ItemIDs {
		ids[id] = true
	}

	var out []domain.JobItem
	for _, item := range s.items[jobID] {
		if len(statuses) > 0 && !statuses[item.Status] {
			continue
		}
		if len(ids) > 0 && !ids[item.ItemID] {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

func (s *memStore) CountItemsByStatus(ctx context.Context, jobID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, item := range s.items[jobID] {
		counts[item.Status]++
	}
	return counts, nil
}

func (s *memStore) SaveItemOutcome(ctx context.Context, item *domain.JobItem, jobErr *domain.JobError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[item.JobID]
	for i := range items {
		if items[i].ItemID == item.ItemID {
			items[i] = *item
			if jobErr != nil {
				s.errors[item.JobID] = append(s.errors[item.JobID], *jobErr)
			}
			return nil
		}
	}
	return domain.ErrItemNotFound
}

func (s *memStore) ResetFailedItems(ctx context.Context, jobID string, itemIDs []string) (int, error) {
	if s.failResetWith != nil {
		return 0, s.failResetWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		ids[id] = true
	}
	var reset int
	items := s.items[jobID]
	for i := range items {
		if items[i].Status != domain.ItemStatusFailed {
			continue
		}
		if len(ids) > 0 && !ids[items[i].ItemID] {
			continue
		}
		items[i].Status = domain.ItemStatusValidated
		items[i].RetryCount++
		reset++
	}
	return reset, nil
}

func (s *memStore) AppendError(ctx context.Context, jobErr *domain.JobError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[jobErr.JobID] = append(s.errors[jobErr.JobID], *jobErr)
	return nil
}

// itemStatuses returns item status keyed by entity id, for assertions.
func (s *memStore) itemStatuses(jobID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for _, item := range s.items[jobID] {
		out[item.EntityID] = item.Status
	}
	return out
}

// memQueue records enqueued task messages.
type memQueue struct {
	mu       sync.Mutex
	messages []TaskMessage

	failWith error
}

func (q *memQueue) Enqueue(ctx context.Context, msg TaskMessage) error {
	if q.failWith != nil {
		return q.failWith
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *memQueue) last() TaskMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.messages[len(q.messages)-1]
}

// staticResolver returns a fixed candidate set.
type staticResolver struct {
	candidates []Candidate
	err        error
}

func (r *staticResolver) Resolve(ctx context.Context, scope *domain.EntityRef, period string) ([]Candidate, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.candidates, nil
}

// funcStrategy delegates item execution to a closure.
type funcStrategy struct {
	fn func(ctx context.Context, job *domain.Job, item *domain.JobItem, period string) (domain.JSONMap, error)
}

func (s *funcStrategy) Execute(ctx context.Context, job *domain.Job, item *domain.JobItem, period string) (domain.JSONMap, error) {
	return s.fn(ctx, job, item, period)
}

const testOp = "test_operation"

type testHarness struct {
	engine *Engine
	store  *memStore
	queue  *memQueue
	clock  time.Time
}

func newHarness(resolver Resolver, strategy Strategy) *testHarness {
	store := newMemStore()
	queue := &memQueue{}
	registry := NewRegistry()
	if resolver != nil || strategy != nil {
		registry.Register(testOp, resolver, strategy)
	}

	eng := New(&Config{
		Store:    store,
		Queue:    queue,
		Registry: registry,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	h := &testHarness{
		engine: eng,
		store:  store,
		queue:  queue,
		clock:  time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	eng.now = func() time.Time { return h.clock }
	return h
}

func buildingCandidates(n int) []Candidate {
	cands := make([]Candidate, n)
	for i := range cands {
		cands[i] = Candidate{
			Entity:      domain.EntityRef{Kind: "building", ID: fmt.Sprintf("b-%d", i+1)},
			AmountCents: int64((i + 1) * 1000),
			Payload:     domain.JSONMap{"name": fmt.Sprintf("Building %d", i+1)},
		}
	}
	return cands
}

func okStrategy() Strategy {
	return &funcStrategy{fn: func(ctx context.Context, job *domain.Job, item *domain.JobItem, period string) (domain.JSONMap, error) {
		return domain.JSONMap{"done": true}, nil
	}}
}
