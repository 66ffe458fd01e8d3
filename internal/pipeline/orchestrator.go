package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/content"
	"github.com/ainexus/herald/internal/feeds"
	"github.com/ainexus/herald/internal/llm"
	"github.com/ainexus/herald/internal/telemetry"
)

// Recorder persists run records to the database. A nil Recorder disables
// recording.
type Recorder interface {
	CreateRun(ctx context.Context, state *RunState) error
	UpdateRunStatus(ctx context.Context, id string, status Status) error
	FinishRun(ctx context.Context, state *RunState) error
}

// Archiver persists the validated newsletter and the per-run record dump.
type Archiver interface {
	SaveNewsletter(state *RunState) (string, error)
	SaveRunRecord(state *RunState) (string, error)
}

// Orchestrator drives one generation run through the staged pipeline:
// fetch, select topics, research each topic, write, validate, persist.
type Orchestrator struct {
	cfg        *config.Config
	fetcher    *feeds.Fetcher
	selector   *Selector
	researcher *Researcher
	writer     *Writer
	gate       *Gate
	archiver   Archiver
	recorder   Recorder
	telemetry  *telemetry.Telemetry
	log        *log.Logger
}

func NewOrchestrator(cfg *config.Config, provider llm.Provider, fetcher *feeds.Fetcher, archiver Archiver, recorder Recorder, tel *telemetry.Telemetry) (*Orchestrator, error) {
	var contentFetcher content.Fetcher
	if cfg.Content.Enabled {
		f, err := content.New(cfg.Content)
		if err != nil {
			return nil, fmt.Errorf("content fetcher: %w", err)
		}
		contentFetcher = f
	}

	routing := cfg.LLM.Routing
	return &Orchestrator{
		cfg:        cfg,
		fetcher:    fetcher,
		selector:   NewSelector(provider, cfg.Pipeline, cfg.Prompts, routing.Selector),
		researcher: NewResearcher(provider, contentFetcher, cfg.Pipeline, cfg.Prompts, routing.Researcher, routing.Embedding),
		writer:     NewWriter(provider, cfg.Pipeline, cfg.Prompts, routing.Writer),
		gate:       NewGate(cfg.Guardrails),
		archiver:   archiver,
		recorder:   recorder,
		telemetry:  tel,
		log:        log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
	}, nil
}

// Generate runs the full pipeline once. The returned state carries the
// complete run metadata in both outcomes; err is non-nil exactly when the
// run failed and no newsletter was written.
func (o *Orchestrator) Generate(ctx context.Context, trigger string) (*RunState, error) {
	return o.GenerateWithID(ctx, trigger, uuid.New().String())
}

// GenerateWithID runs the pipeline under a caller-assigned run ID, so the
// trigger endpoint can hand out the ID before the run completes.
func (o *Orchestrator) GenerateWithID(ctx context.Context, trigger, id string) (*RunState, error) {
	state := &RunState{
		ID:        id,
		Trigger:   trigger,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
	o.log.Printf("run %s started (trigger=%s)", state.ID, trigger)
	if o.recorder != nil {
		if err := o.recorder.CreateRun(ctx, state); err != nil {
			o.log.Printf("run %s: create record: %v", state.ID, err)
		}
	}

	err := o.run(ctx, state)
	state.FinishedAt = time.Now()

	if o.archiver != nil {
		if _, derr := o.archiver.SaveRunRecord(state); derr != nil {
			o.log.Printf("run %s: record dump: %v", state.ID, derr)
		}
	}
	if o.recorder != nil {
		if rerr := o.recorder.FinishRun(context.Background(), state); rerr != nil {
			o.log.Printf("run %s: finish record: %v", state.ID, rerr)
		}
	}
	if o.telemetry != nil {
		o.telemetry.RecordRunEvent(context.Background(), telemetry.RunEvent{
			ID:         state.ID,
			Trigger:    trigger,
			StartTime:  state.StartedAt,
			EndTime:    state.FinishedAt,
			Duration:   state.FinishedAt.Sub(state.StartedAt),
			Status:     string(state.Status),
			Success:    !state.Failed(),
			Error:      errString(err),
			Cost:       state.Cost,
			TokensIn:   state.TokensIn,
			TokensOut:  state.TokensOut,
			TopicCount: len(state.Topics),
		})
	}

	if err != nil {
		o.log.Printf("run %s failed: %v", state.ID, err)
		return state, err
	}
	o.log.Printf("run %s validated in %v (cost $%.4f)", state.ID, state.FinishedAt.Sub(state.StartedAt), state.Cost)
	return state, nil
}

func (o *Orchestrator) run(ctx context.Context, state *RunState) error {
	// fetch
	stageStart := time.Now()
	items, sources, err := o.fetcher.FetchAll(ctx)
	state.Sources = sources
	for _, src := range sources {
		o.recordSource(ctx, src)
		if src.Error != "" {
			state.Errors = append(state.Errors, ErrorRecord{
				Stage:   "feeds",
				Kind:    KindFeedUnavailable,
				Message: src.Error,
				At:      time.Now(),
			})
		}
	}
	o.recordStage(ctx, state, "feeds", stageStart, Usage{}, err)
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(state, "feeds", KindCancelled, err)
		}
		return o.fail(state, "feeds", KindNoFeedData, err)
	}
	state.Items = items
	o.log.Printf("run %s: %d items from %d sources", state.ID, len(items), len(sources))

	if err := o.checkpoint(ctx, state, "selector"); err != nil {
		return err
	}

	// stage 1: topic selection
	stageStart = time.Now()
	topics, usage, err := o.selector.Select(ctx, items)
	o.applyUsage(state, usage)
	o.recordStage(ctx, state, "selector", stageStart, usage, err)
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(state, "selector", KindCancelled, err)
		}
		return o.fail(state, "selector", KindTopicSelection, err)
	}
	state.Topics = topics
	o.setStatus(ctx, state, StatusTopicsReady)
	o.log.Printf("run %s: %d topics selected", state.ID, len(topics))

	if err := o.checkpoint(ctx, state, "researcher"); err != nil {
		return err
	}

	// stage 2: per-topic research, fan-out/fan-in
	briefs := o.researchAll(ctx, state, topics, items)
	if ctx.Err() != nil {
		return o.fail(state, "researcher", KindCancelled, ctx.Err())
	}
	if len(briefs) == 0 {
		return o.fail(state, "researcher", KindResearchFailed,
			fmt.Errorf("research failed for all %d topics", len(topics)))
	}
	state.Briefs = briefs
	o.setStatus(ctx, state, StatusResearchReady)
	o.log.Printf("run %s: %d briefs collected, %d topics dropped", state.ID, len(briefs), len(state.DroppedTopics))

	if err := o.checkpoint(ctx, state, "writer"); err != nil {
		return err
	}

	// stage 3: writing
	stageStart = time.Now()
	draft, usage, err := o.writer.Write(ctx, briefs)
	o.applyUsage(state, usage)
	o.recordStage(ctx, state, "writer", stageStart, usage, err)
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(state, "writer", KindCancelled, err)
		}
		return o.fail(state, "writer", KindDraftMalformed, err)
	}
	state.Draft = draft
	o.setStatus(ctx, state, StatusDraftReady)

	// validation gate: abort on violation, nothing is written
	result := o.gate.Validate(draft, briefs)
	if !result.Pass {
		state.Draft = nil
		return o.fail(state, "gate", KindGuardrailViolation,
			fmt.Errorf("draft rejected: %s", strings.Join(result.Violations, "; ")))
	}
	o.setStatus(ctx, state, StatusValidated)

	// persist
	if o.archiver != nil {
		path, err := o.archiver.SaveNewsletter(state)
		if err != nil {
			return o.fail(state, "persist", KindPersistFailed, err)
		}
		state.ArtifactPath = path
		o.log.Printf("run %s: newsletter written to %s", state.ID, path)
	}
	return nil
}

// researchAll fans the per-topic research out over a bounded worker window
// and collects the briefs back in topic order. Failed topics are dropped and
// recorded; the caller decides whether losing all of them is fatal.
func (o *Orchestrator) researchAll(ctx context.Context, state *RunState, topics []Topic, items []feeds.Item) []Brief {
	concurrency := o.cfg.Pipeline.ResearchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make([]*Brief, len(topics))

	for i, topic := range topics {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, tp Topic) {
			defer wg.Done()
			defer func() { <-sem }()

			stageStart := time.Now()
			brief, usage, err := o.researcher.Research(ctx, tp, items)

			mu.Lock()
			defer mu.Unlock()
			o.applyUsage(state, usage)
			o.recordStage(ctx, state, "researcher", stageStart, usage, err)
			if err != nil {
				o.log.Printf("run %s: dropping topic %q: %v", state.ID, tp.Name, err)
				state.DroppedTopics = append(state.DroppedTopics, tp.Name)
				state.Errors = append(state.Errors, ErrorRecord{
					Stage:   "researcher",
					Kind:    KindResearchFailed,
					Message: err.Error(),
					Topic:   tp.Name,
					At:      time.Now(),
				})
				return
			}
			results[i] = &brief
		}(i, topic)
	}
	wg.Wait()

	briefs := make([]Brief, 0, len(topics))
	for _, b := range results {
		if b != nil {
			briefs = append(briefs, *b)
		}
	}
	return briefs
}

func (o *Orchestrator) checkpoint(ctx context.Context, state *RunState, next string) error {
	if err := ctx.Err(); err != nil {
		return o.fail(state, next, KindCancelled, err)
	}
	return nil
}

func (o *Orchestrator) fail(state *RunState, stage string, kind Kind, err error) error {
	state.Status = StatusFailed
	state.Errors = append(state.Errors, ErrorRecord{
		Stage:   stage,
		Kind:    kind,
		Message: err.Error(),
		Fatal:   true,
		At:      time.Now(),
	})
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (o *Orchestrator) setStatus(ctx context.Context, state *RunState, status Status) {
	state.Status = status
	if o.recorder != nil {
		if err := o.recorder.UpdateRunStatus(ctx, state.ID, status); err != nil {
			o.log.Printf("run %s: update status: %v", state.ID, err)
		}
	}
}

func (o *Orchestrator) applyUsage(state *RunState, usage Usage) {
	state.Cost += usage.Cost
	state.TokensIn += usage.TokensIn
	state.TokensOut += usage.TokensOut
}

func (o *Orchestrator) recordStage(ctx context.Context, state *RunState, stage string, start time.Time, usage Usage, err error) {
	if o.telemetry == nil {
		return
	}
	end := time.Now()
	o.telemetry.RecordStageEvent(ctx, telemetry.StageEvent{
		RunID:     state.ID,
		Stage:     stage,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Success:   err == nil,
		Error:     errString(err),
		Cost:      usage.Cost,
		TokensIn:  usage.TokensIn,
		TokensOut: usage.TokensOut,
		Model:     usage.Model,
		Attempts:  usage.Attempts,
	})
}

func (o *Orchestrator) recordSource(ctx context.Context, src feeds.SourceResult) {
	if o.telemetry == nil {
		return
	}
	o.telemetry.RecordSourceEvent(ctx, telemetry.SourceEvent{
		Source:   src.Source,
		Duration: src.Elapsed,
		Success:  src.Error == "",
		Error:    src.Error,
		Results:  src.Items,
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
