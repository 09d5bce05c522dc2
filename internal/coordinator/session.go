package coordinator

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/frontier"
	"github.com/webharvest/crawld/internal/pipeline"
	"github.com/webharvest/crawld/internal/progress"
	"github.com/webharvest/crawld/internal/telemetry"
)

// dequeueIdleWait is how long a worker parks when nothing is eligible yet
// (in-flight work or scheduled retries remain).
const dequeueIdleWait = 20 * time.Millisecond

// bookkeepingTimeout bounds store writes that must outlive the session
// context, like the final status update.
const bookkeepingTimeout = 10 * time.Second

type session struct {
	jobID     string
	cfg       crawler.CrawlConfig
	coordCfg  Config
	frontier  *frontier.Frontier
	processor *pipeline.Processor
	limiter   crawler.HostLimiter
	rules     crawler.RulePolicy
	docs      crawler.DocumentStore
	jobs      crawler.JobStore
	structure crawler.StructureIndexer
	clock     crawler.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}

	fetched     atomic.Int64
	succeeded   atomic.Int64
	failed      atomic.Int64
	draining    atomic.Bool
	cancelled   atomic.Bool
	storeFailed atomic.Bool

	deferredMu sync.Mutex
	deferred   []deferredLink
}

// deferredLink is a discovered URL parked while the frontier is saturated.
// Workers re-admit deferred links as pending capacity frees up, so
// backpressure delays discovery instead of dropping reachable URLs.
type deferredLink struct {
	url   string
	from  string
	depth int
}

func (s *session) requestCancel() {
	s.cancelled.Store(true)
	s.cancel()
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)

	if s.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.MaxDuration)
		defer cancel()
	}

	start := s.clock.Now()
	s.setStatus(ctx, crawler.JobStatusRunning, "")
	s.emitter.Emit(progress.Event{
		JobID: s.jobID,
		TS:    start,
		Stage: progress.StageJobStart,
	})

	stopSnapshots := s.startSnapshots(ctx)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx)
		}()
	}
	wg.Wait()
	stopSnapshots()

	finalCtx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	s.setStatus(finalCtx, crawler.JobStatusDraining, "")
	s.saveSnapshot(finalCtx)

	status, errText := s.finalStatus()
	s.setStatus(finalCtx, status, errText)
	telemetry.CountJob(string(status))

	stage := progress.StageJobDone
	if status == crawler.JobStatusFailed {
		stage = progress.StageJobError
	}
	s.emitter.Emit(progress.Event{
		JobID: s.jobID,
		TS:    s.clock.Now(),
		Stage: stage,
		Dur:   s.clock.Now().Sub(start),
		Note:  errText,
	})
	s.logger.Info("crawl session finished",
		zap.String("status", string(status)),
		zap.Int64("fetched", s.fetched.Load()),
		zap.Int64("succeeded", s.succeeded.Load()),
		zap.Int64("failed", s.failed.Load()))
}

func (s *session) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if s.draining.Load() {
			return
		}
		if s.cfg.MaxPages > 0 && s.fetched.Load() >= int64(s.cfg.MaxPages) {
			if s.draining.CompareAndSwap(false, true) {
				s.setStatus(ctx, crawler.JobStatusDraining, "")
			}
			return
		}

		s.flushDeferred(ctx)
		entry, ok, exhausted := s.frontier.DequeueNext()
		if exhausted {
			return
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueIdleWait):
			}
			continue
		}

		if err := s.limiter.Wait(ctx, entry.URL); err != nil {
			// Cancelled while queued for a token; the snapshot restores
			// this entry as pending.
			return
		}

		telemetry.WorkerStarted()
		outcome := s.processor.Process(ctx, entry.URL, entry.Depth)
		telemetry.WorkerStopped()

		s.apply(ctx, entry, outcome)
	}
}

func (s *session) apply(ctx context.Context, entry crawler.FrontierEntry, outcome crawler.Outcome) {
	host := hostOf(entry.URL)
	var delta crawler.JobCounters

	switch outcome.Kind {
	case crawler.OutcomeAccepted:
		delta = s.applyAccepted(ctx, entry, outcome, host)
	case crawler.OutcomeUnchanged:
		s.frontier.MarkDone(entry.URL)
		delta.Fetched = 1
		delta.SkippedDuplicate = 1
		s.fetched.Add(1)
		telemetry.CountPage(host, "unchanged")
		s.emitPage(progress.StagePageUnchanged, entry, outcome)
	case crawler.OutcomeFailed:
		delta = s.applyFailed(entry, outcome, host)
	}

	if err := s.jobs.RecordJobCounters(ctx, s.jobID, delta); err != nil && ctx.Err() == nil {
		s.logger.Error("record job counters", zap.Error(err))
	}
}

func (s *session) applyAccepted(ctx context.Context, entry crawler.FrontierEntry, outcome crawler.Outcome, host string) crawler.JobCounters {
	var delta crawler.JobCounters
	delta.Fetched = 1
	s.fetched.Add(1)

	version, err := s.docs.Upsert(ctx, *outcome.Document)
	if err != nil {
		s.logger.Error("document upsert failed", zap.String("url", entry.URL), zap.Error(err))
		if s.frontier.MarkFailed(entry.URL) {
			delta.Retries = 1
			s.emitPage(progress.StagePageRetry, entry, outcome)
		} else {
			delta.Failed = 1
			s.failed.Add(1)
			s.abortForStore()
			telemetry.CountPage(host, "failed")
			s.emitPage(progress.StagePageFailed, entry, outcome)
		}
		return delta
	}

	s.frontier.MarkDone(entry.URL)
	delta.Succeeded = 1
	s.succeeded.Add(1)

	doc := *outcome.Document
	doc.Version = version
	s.structure.OnAccepted(doc)

	for i, link := range outcome.Links {
		if s.frontier.Saturated() {
			// Park the rest instead of dropping them; the worker loop
			// re-admits deferred links once pending capacity frees.
			s.deferLinks(outcome.Links[i:], entry.URL, entry.Depth+1)
			break
		}
		if !s.rules.Allow(link) {
			continue
		}
		if s.frontier.Enqueue(link, entry.URL, entry.Depth+1) {
			delta.Discovered++
		}
	}

	telemetry.CountPage(host, "accepted")
	telemetry.CountBytes(host, len(doc.Content.RawBody))
	s.emitter.Emit(progress.Event{
		JobID:   s.jobID,
		TS:      s.clock.Now(),
		Stage:   progress.StagePageAccepted,
		URL:     entry.URL,
		Host:    host,
		Depth:   entry.Depth,
		Version: version,
		Bytes:   int64(len(doc.Content.RawBody)),
	})
	return delta
}

func (s *session) applyFailed(entry crawler.FrontierEntry, outcome crawler.Outcome, host string) crawler.JobCounters {
	var delta crawler.JobCounters
	if outcome.StatusCode > 0 {
		delta.Fetched = 1
		s.fetched.Add(1)
	}

	if outcome.Retryable {
		if s.frontier.MarkFailed(entry.URL) {
			delta.Retries = 1
			telemetry.CountPage(host, "retry")
			s.emitPage(progress.StagePageRetry, entry, outcome)
			return delta
		}
	} else {
		s.frontier.MarkFailedPermanent(entry.URL)
	}
	delta.Failed = 1
	s.failed.Add(1)
	if outcome.Reason == crawler.ReasonStore {
		s.abortForStore()
	}
	telemetry.CountPage(host, "failed")
	s.emitPage(progress.StagePageFailed, entry, outcome)
	return delta
}

// abortForStore marks the session fatally broken after the store retry
// budget is spent. A crawl whose backing store is unreachable must finish
// Failed rather than report partial success, so workers drain immediately.
func (s *session) abortForStore() {
	s.storeFailed.Store(true)
	s.draining.Store(true)
}

// deferLinks parks links discovered while the frontier is saturated.
func (s *session) deferLinks(links []string, from string, depth int) {
	s.deferredMu.Lock()
	defer s.deferredMu.Unlock()
	for _, link := range links {
		s.deferred = append(s.deferred, deferredLink{url: link, from: from, depth: depth})
	}
}

// flushDeferred re-admits parked links while pending capacity lasts. Admitted
// links count as discovered, the same as a direct enqueue.
func (s *session) flushDeferred(ctx context.Context) {
	s.deferredMu.Lock()
	admitted := 0
	for len(s.deferred) > 0 && !s.frontier.Saturated() {
		l := s.deferred[0]
		s.deferred = s.deferred[1:]
		if !s.rules.Allow(l.url) {
			continue
		}
		if s.frontier.Enqueue(l.url, l.from, l.depth) {
			admitted++
		}
	}
	s.deferredMu.Unlock()

	if admitted > 0 {
		if err := s.jobs.RecordJobCounters(ctx, s.jobID, crawler.JobCounters{Discovered: admitted}); err != nil && ctx.Err() == nil {
			s.logger.Error("record deferred link counters", zap.Error(err))
		}
	}
}

func (s *session) emitPage(stage progress.Stage, entry crawler.FrontierEntry, outcome crawler.Outcome) {
	evt := progress.Event{
		JobID:      s.jobID,
		TS:         s.clock.Now(),
		Stage:      stage,
		URL:        entry.URL,
		Host:       hostOf(entry.URL),
		Depth:      entry.Depth,
		Reason:     string(outcome.Reason),
		StatusCode: outcome.StatusCode,
	}
	if outcome.Err != nil {
		evt.Note = outcome.Err.Error()
	}
	s.emitter.Emit(evt)
}

func (s *session) finalStatus() (crawler.JobStatus, string) {
	switch {
	case s.cancelled.Load():
		return crawler.JobStatusCancelled, ""
	case s.storeFailed.Load():
		return crawler.JobStatusFailed, "document store unreachable"
	case s.succeeded.Load() == 0 && s.failed.Load() > 0:
		return crawler.JobStatusFailed, "no pages were ingested"
	default:
		// Hitting the page or duration cap completes with partial results.
		return crawler.JobStatusCompleted, ""
	}
}

func (s *session) setStatus(ctx context.Context, status crawler.JobStatus, errText string) {
	if err := s.jobs.UpdateJobStatus(ctx, s.jobID, status, errText); err != nil && ctx.Err() == nil {
		s.logger.Error("update job status",
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func (s *session) startSnapshots(ctx context.Context) func() {
	if s.coordCfg.SnapshotInterval <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.coordCfg.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.saveSnapshot(ctx)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}

func (s *session) saveSnapshot(ctx context.Context) {
	if err := s.jobs.SaveFrontier(ctx, s.jobID, s.frontier.Snapshot()); err != nil && ctx.Err() == nil {
		s.logger.Error("save frontier snapshot", zap.Error(err))
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
