package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/store"
)

// JobStore keeps crawl jobs, counters, and frontier snapshots in memory.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]crawler.CrawlJob
	frontiers map[string][]crawler.FrontierEntry
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:      make(map[string]crawler.CrawlJob),
		frontiers: make(map[string][]crawler.FrontierEntry),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, store.ErrJobExists)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus transitions the job and stamps Finished on terminal
// statuses.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status crawler.JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, store.ErrJobNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	if status.IsTerminal() && job.Finished == nil {
		now := time.Now().UTC()
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// RecordJobCounters accumulates delta into the job's counters.
func (s *JobStore) RecordJobCounters(_ context.Context, jobID string, delta crawler.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("record counters %s: %w", jobID, store.ErrJobNotFound)
	}
	job.Counters.Add(delta)
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.CrawlJob{}, fmt.Errorf("get job %s: %w", jobID, store.ErrJobNotFound)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(_ context.Context, limit int) ([]crawler.CrawlJob, error) {
	s.mu.RLock()
	jobs := make([]crawler.CrawlJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].StartedAt.After(jobs[j].StartedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// SaveFrontier replaces the persisted frontier snapshot for a job.
func (s *JobStore) SaveFrontier(_ context.Context, jobID string, entries []crawler.FrontierEntry) error {
	snapshot := make([]crawler.FrontierEntry, len(entries))
	copy(snapshot, entries)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("save frontier %s: %w", jobID, store.ErrJobNotFound)
	}
	s.frontiers[jobID] = snapshot
	return nil
}

// LoadFrontier returns the persisted snapshot with InFlight entries demoted
// to Pending.
func (s *JobStore) LoadFrontier(_ context.Context, jobID string) ([]crawler.FrontierEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.frontiers[jobID]
	if !ok {
		return nil, nil
	}
	out := make([]crawler.FrontierEntry, len(snapshot))
	copy(out, snapshot)
	for i := range out {
		if out[i].State == crawler.EntryInFlight {
			out[i].State = crawler.EntryPending
		}
	}
	return out, nil
}
