package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oursky/experiment-runner/pkg/experiments"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

type InMemoryStore struct {
	lock        *sync.RWMutex
	nextID      int64
	runners     map[int64]experiments.Runner
	experiments map[int64]experiments.Experiment
	jobs        map[int64]experiments.Job
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		lock:        new(sync.RWMutex),
		runners:     make(map[int64]experiments.Runner),
		experiments: make(map[int64]experiments.Experiment),
		jobs:        make(map[int64]experiments.Job),
	}
}

func (s *InMemoryStore) Start(ctx context.Context, g *errgroup.Group) error {
	return nil
}

func (s *InMemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *InMemoryStore) CreateRunner(ctx context.Context, name string, accessKey string) (*experiments.Runner, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	r := experiments.Runner{
		ID:        s.id(),
		Name:      name,
		AccessKey: accessKey,
		CreatedAt: time.Now(),
	}
	s.runners[r.ID] = r
	return &r, nil
}

func (s *InMemoryStore) GetRunner(ctx context.Context, id int64) (*experiments.Runner, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	r, ok := s.runners[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *InMemoryStore) FindRunnerByAccessKey(ctx context.Context, accessKey string) (*experiments.Runner, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	r, ok := lo.FindKeyBy(s.runners, func(_ int64, r experiments.Runner) bool {
		return r.AccessKey == accessKey
	})
	if !ok {
		return nil, ErrNotFound
	}
	runner := s.runners[r]
	return &runner, nil
}

func (s *InMemoryStore) ListRunners(ctx context.Context) ([]experiments.Runner, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	runners := lo.Values(s.runners)
	sort.Slice(runners, func(i, j int) bool { return runners[i].ID < runners[j].ID })
	return runners, nil
}

func (s *InMemoryStore) withStatus(e experiments.Experiment) experiments.Experiment {
	if latest := s.latestJob(e.ID); latest != nil {
		e.Status = latest.Status
	}
	return e
}

func (s *InMemoryStore) latestJob(experimentID int64) *experiments.Job {
	var latest *experiments.Job
	for _, j := range s.jobs {
		if j.ExperimentID != experimentID {
			continue
		}
		if latest == nil || j.ID > latest.ID {
			job := j
			latest = &job
		}
	}
	return latest
}

func (s *InMemoryStore) ListExperiments(ctx context.Context, userID string, page Page) ([]experiments.Experiment, int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	owned := lo.Filter(lo.Values(s.experiments), func(e experiments.Experiment, _ int) bool {
		return e.UserID == userID
	})
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID > owned[j].ID })

	pages := totalPages(len(owned), page.PerPage)
	start := lo.Clamp(page.offset(), 0, len(owned))
	end := lo.Clamp(start+page.PerPage, start, len(owned))

	result := lo.Map(owned[start:end], func(e experiments.Experiment, _ int) experiments.Experiment {
		return s.withStatus(e)
	})
	return result, pages, nil
}

func (s *InMemoryStore) GetExperiment(ctx context.Context, userID string, id int64) (*experiments.Experiment, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	e, ok := s.experiments[id]
	if !ok || e.UserID != userID {
		return nil, ErrNotFound
	}
	e = s.withStatus(e)
	return &e, nil
}

func (s *InMemoryStore) CreateExperiment(ctx context.Context, userID string, name string, code string) (*experiments.Experiment, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := time.Now()
	e := experiments.Experiment{
		ID:        s.id(),
		UserID:    userID,
		Name:      name,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.experiments[e.ID] = e
	return &e, nil
}

func (s *InMemoryStore) UpdateExperiment(ctx context.Context, userID string, id int64, update ExperimentUpdate) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	e, ok := s.experiments[id]
	if !ok || e.UserID != userID {
		return nil
	}
	if update.Name != nil {
		e.Name = *update.Name
	}
	if update.Code != nil {
		e.Code = *update.Code
	}
	e.UpdatedAt = time.Now()
	s.experiments[id] = e
	return nil
}

func (s *InMemoryStore) DeleteExperiment(ctx context.Context, userID string, id int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	e, ok := s.experiments[id]
	if !ok || e.UserID != userID {
		return nil
	}
	delete(s.experiments, id)
	for jobID, j := range s.jobs {
		if j.ExperimentID == id {
			delete(s.jobs, jobID)
		}
	}
	return nil
}

func (s *InMemoryStore) CreateJob(ctx context.Context, job *experiments.Job) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.experiments[job.ExperimentID]; !ok {
		return ErrNotFound
	}
	if err := experiments.CheckRerun(s.latestJob(job.ExperimentID)); err != nil {
		return err
	}

	job.ID = s.id()
	s.jobs[job.ID] = *job
	return nil
}

func (s *InMemoryStore) GetJob(ctx context.Context, id int64) (*experiments.Job, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &j, nil
}

func (s *InMemoryStore) ListJobs(ctx context.Context, experimentID int64) ([]experiments.Job, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	jobs := lo.Filter(lo.Values(s.jobs), func(j experiments.Job, _ int) bool {
		return j.ExperimentID == experimentID
	})
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID > jobs[j].ID })
	return jobs, nil
}

func (s *InMemoryStore) RecentJobs(ctx context.Context, limit int) ([]experiments.Job, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	jobs := lo.Values(s.jobs)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID > jobs[j].ID })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *InMemoryStore) UpdateJob(ctx context.Context, id int64, updater func(*experiments.Job) error) (*experiments.Job, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := updater(&j); err != nil {
		return nil, err
	}
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return &j, nil
}
