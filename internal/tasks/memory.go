package tasks

import (
	"context"
	"sync"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
)

// MemoryStore implements Store with an in-process map. Entries do not
// survive a restart; waiting work is lost with the process.
type MemoryStore struct {
	mu     sync.Mutex
	bySub  map[string]*Task
	byTask map[string]string // task id -> submission id
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bySub:  make(map[string]*Task),
		byTask: make(map[string]string),
	}
}

func (s *MemoryStore) Put(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := t.Clone()
	s.bySub[cp.SubmissionID] = cp
	s.byTask[cp.ID] = cp.SubmissionID

	L_trace("tasks: stored", "submission", cp.SubmissionID, "task", cp.ID, "status", cp.Status)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, submissionID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.bySub[submissionID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) GetByTaskID(ctx context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.byTask[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	t, ok := s.bySub[sub]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Remove(ctx context.Context, submissionID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.bySub[submissionID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	delete(s.bySub, submissionID)
	if s.byTask[t.ID] == submissionID {
		delete(s.byTask, t.ID)
	}

	L_trace("tasks: removed", "submission", submissionID, "task", t.ID)
	return t, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0, len(s.bySub))
	for _, t := range s.bySub {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
