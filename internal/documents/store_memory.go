package documents

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"approvalflow/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*UpdateRequest
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[uuid.UUID]*UpdateRequest)}
}

func (s *InMemoryStore) Create(_ context.Context, r *UpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.requests[r.ID] = r.clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*UpdateRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.clone(), nil
}

func (s *InMemoryStore) ListByDocument(_ context.Context, documentID string) ([]*UpdateRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*UpdateRequest, 0)
	for _, r := range s.requests {
		if r.DocumentID == documentID {
			out = append(out, r.clone())
		}
	}
	return out, nil
}

// Execute runs validate then mutate on one request under the write lock.
// Nothing is stored when validate fails.
func (s *InMemoryStore) Execute(_ context.Context, id uuid.UUID, validate func(*UpdateRequest) error, mutate func(*UpdateRequest)) (*UpdateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := current.clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.requests[id] = working
	return working.clone(), nil
}
