package jobstore

import (
	"sort"
	"sync"

	"ixtrade/domain/settlement"
)

// MemoryStore keeps jobs in process. Values are copied in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]settlement.Job
	archived map[string][]settlement.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]settlement.Job),
		archived: make(map[string][]settlement.Job),
	}
}

func (s *MemoryStore) Get(id string) (*settlement.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, settlement.ErrJobNotFound
	}
	return &j, nil
}

func (s *MemoryStore) Put(job *settlement.Job) error {
	s.mu.Lock()
	s.jobs[job.ID] = *job
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Archive(job *settlement.Job) error {
	s.mu.Lock()
	s.archived[job.ID] = append(s.archived[job.ID], *job)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Archived(id string) ([]*settlement.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*settlement.Job, 0, len(s.archived[id]))
	for _, j := range s.archived[id] {
		j := j
		out = append(out, &j)
	}
	return out, nil
}

func (s *MemoryStore) Scan(fn func(*settlement.Job) error) error {
	s.mu.RLock()
	jobs := make([]settlement.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	for i := range jobs {
		if err := fn(&jobs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
