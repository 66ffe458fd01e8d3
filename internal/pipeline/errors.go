package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindFeedUnavailable marks one source failing; the run continues.
	KindFeedUnavailable Kind = "feed_unavailable"
	// KindNoFeedData means every source failed or came back empty.
	KindNoFeedData Kind = "no_feed_data"
	// KindTopicSelection means the selector exhausted its retry budget.
	KindTopicSelection Kind = "topic_selection_failed"
	// KindResearchFailed marks one topic's research failing; fatal only when
	// every topic fails.
	KindResearchFailed Kind = "research_failed"
	// KindDraftMalformed means the writer output stayed unparseable after its
	// reformat retry.
	KindDraftMalformed Kind = "draft_malformed"
	// KindGuardrailViolation means the gate rejected the draft. Never retried
	// and nothing is written.
	KindGuardrailViolation Kind = "guardrail_violation"
	// KindPersistFailed means the validated draft could not be written out.
	KindPersistFailed Kind = "persist_failed"
	// KindCancelled means the caller aborted the run.
	KindCancelled Kind = "cancelled"
)

// StageError is a typed failure from one pipeline stage.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, or empty when err is not a
// stage error.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// ErrorRecord is the run-metadata form of a failure. Recoverable losses such
// as a dead feed or a dropped topic get recorded here too, so the metadata
// shows what the final newsletter silently lacks.
type ErrorRecord struct {
	Stage   string    `json:"stage"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Topic   string    `json:"topic,omitempty"`
	Fatal   bool      `json:"fatal"`
	At      time.Time `json:"at"`
}
