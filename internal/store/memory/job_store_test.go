package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/store"
)

func newJob(id string, startedAt time.Time) crawler.CrawlJob {
	return crawler.CrawlJob{
		ID:        id,
		SeedURLs:  []string{"https://site/"},
		Status:    crawler.JobStatusSeeding,
		StartedAt: startedAt,
	}
}

func TestCreateJobRejectsDuplicates(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newJob("j1", time.Now())))
	err := s.CreateJob(ctx, newJob("j1", time.Now()))
	require.ErrorIs(t, err, store.ErrJobExists)
}

func TestUpdateJobStatusStampsFinished(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", time.Now())))

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", crawler.JobStatusRunning, ""))
	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Nil(t, job.Finished)

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", crawler.JobStatusCompleted, ""))
	job, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, job.Finished)

	require.ErrorIs(t, s.UpdateJobStatus(ctx, "nope", crawler.JobStatusFailed, "x"), store.ErrJobNotFound)
}

func TestRecordJobCountersAccumulates(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", time.Now())))

	require.NoError(t, s.RecordJobCounters(ctx, "j1", crawler.JobCounters{Discovered: 3, Fetched: 1}))
	require.NoError(t, s.RecordJobCounters(ctx, "j1", crawler.JobCounters{Fetched: 2, Succeeded: 2, Retries: 1}))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobCounters{Discovered: 3, Fetched: 3, Succeeded: 2, Retries: 1}, job.Counters)
}

func TestListJobsNewestFirst(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateJob(ctx, newJob("old", base)))
	require.NoError(t, s.CreateJob(ctx, newJob("new", base.Add(time.Hour))))

	jobs, err := s.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "new", jobs[0].ID)

	jobs, err = s.ListJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestFrontierSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", time.Now())))

	entries := []crawler.FrontierEntry{
		{URL: "https://site/a", State: crawler.EntryDone, Depth: 0},
		{URL: "https://site/b", State: crawler.EntryInFlight, Depth: 1},
		{URL: "https://site/c", State: crawler.EntryPending, Depth: 1},
	}
	require.NoError(t, s.SaveFrontier(ctx, "j1", entries))

	loaded, err := s.LoadFrontier(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	states := map[string]crawler.EntryState{}
	for _, e := range loaded {
		states[e.URL] = e.State
	}
	require.Equal(t, crawler.EntryDone, states["https://site/a"])
	// Interrupted fetches come back as pending.
	require.Equal(t, crawler.EntryPending, states["https://site/b"])
	require.Equal(t, crawler.EntryPending, states["https://site/c"])
}

func TestLoadFrontierEmptyWhenNeverSaved(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	loaded, err := s.LoadFrontier(context.Background(), "j1")
	require.NoError(t, err)
	require.Empty(t, loaded)
}
