package pipeline

import (
	"time"

	"github.com/ainexus/herald/internal/feeds"
)

// Status tracks a run through the pipeline.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusTopicsReady   Status = "TOPICS_READY"
	StatusResearchReady Status = "RESEARCH_READY"
	StatusDraftReady    Status = "DRAFT_READY"
	StatusValidated     Status = "VALIDATED"
	StatusFailed        Status = "FAILED"
)

// Topic is one selected newsletter subject together with the feed items that
// backed the selection.
type Topic struct {
	Name        string       `json:"name"`
	Rationale   string       `json:"rationale"`
	SourceItems []feeds.Item `json:"source_items,omitempty"`
}

// Brief is the researched factual summary for one topic.
type Brief struct {
	Topic     Topic    `json:"topic"`
	Facts     []string `json:"facts"`
	Citations []string `json:"citations"`
}

// Section is one parsed newsletter section.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Draft is the writer's output, parsed back into its structural parts.
type Draft struct {
	Title       string    `json:"title"`
	Sections    []Section `json:"sections"`
	RawMarkdown string    `json:"raw_markdown"`
}

// Usage aggregates LLM consumption across one stage.
type Usage struct {
	Model     string  `json:"model,omitempty"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	Cost      float64 `json:"cost"`
	Attempts  int     `json:"attempts"`
}

func (u *Usage) add(other Usage) {
	if other.Model != "" {
		u.Model = other.Model
	}
	u.TokensIn += other.TokensIn
	u.TokensOut += other.TokensOut
	u.Cost += other.Cost
	u.Attempts += other.Attempts
}

// RunState carries everything one generation run produces. It lives for the
// duration of the run; only the markdown artifact and the run record outlive
// it.
type RunState struct {
	ID            string               `json:"id"`
	Trigger       string               `json:"trigger"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at,omitempty"`
	Status        Status               `json:"status"`
	Items         []feeds.Item         `json:"items,omitempty"`
	Sources       []feeds.SourceResult `json:"sources,omitempty"`
	Topics        []Topic              `json:"topics,omitempty"`
	Briefs        []Brief              `json:"briefs,omitempty"`
	DroppedTopics []string             `json:"dropped_topics,omitempty"`
	Draft         *Draft               `json:"draft,omitempty"`
	ArtifactPath  string               `json:"artifact_path,omitempty"`
	Errors        []ErrorRecord        `json:"errors,omitempty"`
	Cost          float64              `json:"cost"`
	TokensIn      int64                `json:"tokens_in"`
	TokensOut     int64                `json:"tokens_out"`
}

// Failed reports whether the run ended in failure.
func (s *RunState) Failed() bool { return s.Status == StatusFailed }

// FatalError returns the first fatal error record, if any.
func (s *RunState) FatalError() *ErrorRecord {
	for i := range s.Errors {
		if s.Errors[i].Fatal {
			return &s.Errors[i]
		}
	}
	return nil
}
