package crawler

// OutcomeKind discriminates the result of processing one URL.
type OutcomeKind string

// Pipeline outcome kinds.
const (
	OutcomeAccepted  OutcomeKind = "accepted"
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeFailed    OutcomeKind = "failed"
)

// FailureReason names why a URL failed, per the error taxonomy.
type FailureReason string

// Failure reasons surfaced by the pipeline.
const (
	ReasonTimeout    FailureReason = "timeout"
	ReasonConnection FailureReason = "connection_error"
	ReasonHTTP       FailureReason = "http_error"
	ReasonParse      FailureReason = "parse_error"
	ReasonStore      FailureReason = "store_error"
)

// Outcome is the pure result of the fetch-parse pipeline for one URL. The
// caller (coordinator) applies it to the frontier and store; the pipeline
// itself writes nothing.
type Outcome struct {
	Kind     OutcomeKind
	URL      string
	Document *PageDocument
	Links    []string

	Reason     FailureReason
	StatusCode int
	Err        error
	Retryable  bool
}

// Accepted builds an Outcome for a new or changed document plus the
// same-host links discovered on it.
func Accepted(doc *PageDocument, links []string) Outcome {
	return Outcome{Kind: OutcomeAccepted, URL: doc.URL, Document: doc, Links: links}
}

// Unchanged builds an Outcome for a page whose content hash matches the
// stored one; no store write and no version bump follow.
func Unchanged(url string) Outcome {
	return Outcome{Kind: OutcomeUnchanged, URL: url}
}

// Failure builds a failed Outcome carrying the taxonomy classification.
func Failure(url string, reason FailureReason, statusCode int, err error, retryable bool) Outcome {
	return Outcome{
		Kind:       OutcomeFailed,
		URL:        url,
		Reason:     reason,
		StatusCode: statusCode,
		Err:        err,
		Retryable:  retryable,
	}
}
