// Package progress defines the event stream emitted by crawl sessions and
// the hub that batches it out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart      Stage = "JOB_START"
	StageJobDone       Stage = "JOB_DONE"
	StageJobError      Stage = "JOB_ERROR"
	StagePageAccepted  Stage = "PAGE_ACCEPTED"
	StagePageUnchanged Stage = "PAGE_UNCHANGED"
	StagePageFailed    Stage = "PAGE_FAILED"
	StagePageRetry     Stage = "PAGE_RETRY"
)

// Event captures one milestone of a crawl job.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or page milestone occurred.
	Stage Stage
	// URL is the page URL for page-level stages.
	URL string
	// Host scopes page events to a host label.
	Host string
	// Depth is the frontier depth of the page.
	Depth int
	// Version is the stored document version after an accepted page.
	Version int
	// Reason carries the failure classification for failed/retry stages.
	Reason string
	// StatusCode is the HTTP status, when one was received.
	StatusCode int
	// Bytes is the response size for page stages.
	Bytes int64
	// Dur is the fetch or job wall time.
	Dur time.Duration
	// Note attaches low-volume debug context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StagePageAccepted, StagePageUnchanged, StagePageFailed, StagePageRetry:
		if e.URL == "" {
			return fmt.Errorf("stage %s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
