package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/otcdesk/rfq-settler/pkg/models"
)

// MemoryStore is an in-memory Store used in tests
type MemoryStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	submissions map[string]*models.TransactionSubmission
	heartbeats  map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]*models.Job),
		submissions: make(map[string]*models.TransactionSubmission),
		heartbeats:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) WriteJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.OrderHash] = job.Clone()
	return nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.OrderHash]; !ok {
		return ErrNotFound
	}
	s.jobs[job.OrderHash] = job.Clone()
	return nil
}

func (s *MemoryStore) FindJobByHash(_ context.Context, orderHash string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[orderHash]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) FindUnresolvedJobsForWorker(_ context.Context, workerID string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if job.WorkerID != workerID {
			continue
		}
		switch job.Status {
		case models.JobPendingEnqueued, models.JobPendingProcessing,
			models.JobPendingLastLookAccepted, models.JobPendingSubmitted:
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *MemoryStore) ClaimJob(_ context.Context, orderHash, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[orderHash]
	if !ok {
		return false, ErrNotFound
	}
	if job.WorkerID == "" {
		job.WorkerID = workerID
		job.UpdatedAt = time.Now()
		return true, nil
	}
	return job.WorkerID == workerID, nil
}

func (s *MemoryStore) WriteSubmission(_ context.Context, sub *models.TransactionSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.TxHash] = sub.Clone()
	return nil
}

func (s *MemoryStore) UpdateSubmissions(_ context.Context, subs []*models.TransactionSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		existing, ok := s.submissions[sub.TxHash]
		if !ok {
			return ErrNotFound
		}
		existing.Status = sub.Status
	}
	return nil
}

func (s *MemoryStore) FindSubmissionByTxHash(_ context.Context, txHash string) (*models.TransactionSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[txHash]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) FindSubmissionsByOrderHash(_ context.Context, orderHash string) ([]*models.TransactionSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subs []*models.TransactionSubmission
	for _, sub := range s.submissions {
		if sub.OrderHash == orderHash {
			subs = append(subs, sub.Clone())
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs, nil
}

func (s *MemoryStore) WriteHeartbeat(_ context.Context, workerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[workerID] = at
	return nil
}

// LastHeartbeat returns the most recent heartbeat written for a worker
func (s *MemoryStore) LastHeartbeat(workerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.heartbeats[workerID]
	return at, ok
}

func (s *MemoryStore) Close() error { return nil }
