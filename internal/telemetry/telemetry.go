package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ainexus/herald/config"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_runs_total",
		Help: "Completed newsletter runs by final status.",
	}, []string{"status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "herald_stage_duration_seconds",
		Help:    "Duration of each pipeline stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_llm_tokens_total",
		Help: "Tokens exchanged with LLM providers.",
	}, []string{"model", "direction"})

	llmCostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_llm_cost_dollars_total",
		Help: "Accumulated LLM spend in dollars.",
	}, []string{"model"})

	feedFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_feed_fetch_failures_total",
		Help: "Feed polls that ended in an error.",
	}, []string{"source"})
)

// Telemetry tracks run outcomes, stage timings and LLM spend.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds aggregate pipeline metrics.
type Metrics struct {
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	AverageRunTime time.Duration

	StageExecutions   map[string]int64
	StageSuccessRates map[string]float64
	StageAverageTimes map[string]time.Duration

	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64

	SourceRequests     map[string]int64
	SourceSuccessRates map[string]float64
	SourceAverageTimes map[string]time.Duration
}

// CostTracker accumulates LLM spend.
type CostTracker struct {
	ModelCosts  map[string]float64
	StageCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// RunEvent describes one finished newsletter run.
type RunEvent struct {
	ID         string
	Trigger    string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Status     string
	Success    bool
	Error      string
	Cost       float64
	TokensIn   int64
	TokensOut  int64
	TopicCount int
	ModelsUsed []string
}

// StageEvent describes one pipeline stage execution.
type StageEvent struct {
	RunID     string
	Stage     string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Success   bool
	Error     string
	Cost      float64
	TokensIn  int64
	TokensOut int64
	Model     string
	Attempts  int
}

// SourceEvent describes one feed poll.
type SourceEvent struct {
	Source   string
	Duration time.Duration
	Success  bool
	Error    string
	Results  int
}

// NewTelemetry creates a new telemetry instance.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			StageExecutions:    make(map[string]int64),
			StageSuccessRates:  make(map[string]float64),
			StageAverageTimes:  make(map[string]time.Duration),
			LLMRequests:        make(map[string]int64),
			LLMTokensUsed:      make(map[string]int64),
			SourceRequests:     make(map[string]int64),
			SourceSuccessRates: make(map[string]float64),
			SourceAverageTimes: make(map[string]time.Duration),
		},
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
			StageCosts: make(map[string]float64),
		},
	}

	// Periodic logs can be disabled via config
	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startMetricsCollection()
		go t.startCostReporting()
	}

	return t
}

// RecordRunEvent records a completed newsletter run.
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.Duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	if t.config.CostTracking {
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += event.TokensIn + event.TokensOut
	}

	runsTotal.WithLabelValues(event.Status).Inc()

	t.logger.Printf("Run Event: ID=%s, Status=%s, Duration=%v, Cost=$%.4f, Tokens=%d/%d",
		event.ID, event.Status, event.Duration, event.Cost, event.TokensIn, event.TokensOut)
}

// RecordStageEvent records a pipeline stage execution.
func (t *Telemetry) RecordStageEvent(ctx context.Context, event StageEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.StageExecutions[event.Stage]++

	currentSuccess := t.metrics.StageSuccessRates[event.Stage] * float64(t.metrics.StageExecutions[event.Stage]-1)
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.StageSuccessRates[event.Stage] = currentSuccess / float64(t.metrics.StageExecutions[event.Stage])

	currentAvg := t.metrics.StageAverageTimes[event.Stage]
	executions := t.metrics.StageExecutions[event.Stage]
	if executions == 1 {
		t.metrics.StageAverageTimes[event.Stage] = event.Duration
	} else {
		total := currentAvg * time.Duration(executions-1)
		t.metrics.StageAverageTimes[event.Stage] = (total + event.Duration) / time.Duration(executions)
	}

	if event.Model != "" {
		t.metrics.LLMRequests[event.Model]++
		t.metrics.LLMTokensUsed[event.Model] += event.TokensIn + event.TokensOut
		llmTokensTotal.WithLabelValues(event.Model, "input").Add(float64(event.TokensIn))
		llmTokensTotal.WithLabelValues(event.Model, "output").Add(float64(event.TokensOut))
	}

	// Totals accrue from the run event; stage events only split the spend.
	if t.config.CostTracking {
		t.costTracker.StageCosts[event.Stage] += event.Cost
		if event.Model != "" {
			t.costTracker.ModelCosts[event.Model] += event.Cost
		}
	}

	stageDuration.WithLabelValues(event.Stage).Observe(event.Duration.Seconds())
	if event.Model != "" && t.config.CostTracking {
		llmCostTotal.WithLabelValues(event.Model).Add(event.Cost)
	}

	t.logger.Printf("Stage Event: Run=%s, Stage=%s, Success=%t, Duration=%v, Cost=$%.4f, Attempts=%d",
		event.RunID, event.Stage, event.Success, event.Duration, event.Cost, event.Attempts)
}

// RecordSourceEvent records a feed poll.
func (t *Telemetry) RecordSourceEvent(ctx context.Context, event SourceEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.SourceRequests[event.Source]++

	currentSuccess := t.metrics.SourceSuccessRates[event.Source] * float64(t.metrics.SourceRequests[event.Source]-1)
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.SourceSuccessRates[event.Source] = currentSuccess / float64(t.metrics.SourceRequests[event.Source])

	currentAvg := t.metrics.SourceAverageTimes[event.Source]
	requests := t.metrics.SourceRequests[event.Source]
	if requests == 1 {
		t.metrics.SourceAverageTimes[event.Source] = event.Duration
	} else {
		total := currentAvg * time.Duration(requests-1)
		t.metrics.SourceAverageTimes[event.Source] = (total + event.Duration) / time.Duration(requests)
	}

	if !event.Success {
		feedFailuresTotal.WithLabelValues(event.Source).Inc()
	}

	t.logger.Printf("Source Event: Source=%s, Success=%t, Duration=%v, Results=%d",
		event.Source, event.Success, event.Duration, event.Results)
}

// GetMetrics returns a copy of the current metrics.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.StageExecutions = copyMap(t.metrics.StageExecutions)
	metrics.StageSuccessRates = copyMap(t.metrics.StageSuccessRates)
	metrics.StageAverageTimes = copyMap(t.metrics.StageAverageTimes)
	metrics.LLMRequests = copyMap(t.metrics.LLMRequests)
	metrics.LLMTokensUsed = copyMap(t.metrics.LLMTokensUsed)
	metrics.SourceRequests = copyMap(t.metrics.SourceRequests)
	metrics.SourceSuccessRates = copyMap(t.metrics.SourceSuccessRates)
	metrics.SourceAverageTimes = copyMap(t.metrics.SourceAverageTimes)

	return metrics
}

// CostSummary provides a summary of LLM spend.
type CostSummary struct {
	TotalCost   float64            `json:"total_cost"`
	TotalTokens int64              `json:"total_tokens"`
	ModelCosts  map[string]float64 `json:"model_costs"`
	StageCosts  map[string]float64 `json:"stage_costs"`
}

// GetCostSummary returns a copy of the accumulated costs.
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		ModelCosts:  copyMap(t.costTracker.ModelCosts),
		StageCosts:  copyMap(t.costTracker.StageCosts),
	}
}

func copyMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (t *Telemetry) startMetricsCollection() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		metrics := t.GetMetrics()
		costs := t.GetCostSummary()

		t.logger.Printf("Metrics Snapshot: Runs=%d/%d, AvgTime=%v, TotalCost=$%.4f, TotalTokens=%d",
			metrics.SuccessfulRuns, metrics.TotalRuns,
			metrics.AverageRunTime, costs.TotalCost, costs.TotalTokens)
	}
}

func (t *Telemetry) startCostReporting() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		costs := t.GetCostSummary()

		t.logger.Printf("Cost Report: Total=$%.4f, Tokens=%d", costs.TotalCost, costs.TotalTokens)
		for model, cost := range costs.ModelCosts {
			t.logger.Printf("  Model %s: $%.4f", model, cost)
		}
		for stage, cost := range costs.StageCosts {
			t.logger.Printf("  Stage %s: $%.4f", stage, cost)
		}
	}
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Runs: %d", metrics.TotalRuns)
	if metrics.TotalRuns > 0 {
		t.logger.Printf("  Success Rate: %.2f%%", float64(metrics.SuccessfulRuns)/float64(metrics.TotalRuns)*100)
	}
	t.logger.Printf("  Average Run Time: %v", metrics.AverageRunTime)
	t.logger.Printf("  Total Cost: $%.4f", costs.TotalCost)
	t.logger.Printf("  Total Tokens: %d", costs.TotalTokens)
}

// GetPerformanceReport returns a human-readable summary of runs, stages and
// sources.
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	successPct := 0.0
	if metrics.TotalRuns > 0 {
		successPct = float64(metrics.SuccessfulRuns) / float64(metrics.TotalRuns) * 100
	}

	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Overall:
  Total Runs: %d
  Successful: %d (%.2f%%)
  Failed: %d
  Average Run Time: %v
  Total Cost: $%.4f
  Total Tokens: %d

Stages:
`, metrics.TotalRuns, metrics.SuccessfulRuns, successPct,
		metrics.FailedRuns, metrics.AverageRunTime, costs.TotalCost, costs.TotalTokens)

	for stage, executions := range metrics.StageExecutions {
		report += fmt.Sprintf("  %s: %d executions, %.2f%% success, %v avg time\n",
			stage, executions, metrics.StageSuccessRates[stage]*100, metrics.StageAverageTimes[stage])
	}

	report += "\nLLM Usage:\n"
	for model, requests := range metrics.LLMRequests {
		report += fmt.Sprintf("  %s: %d requests, %d tokens, $%.4f\n",
			model, requests, metrics.LLMTokensUsed[model], costs.ModelCosts[model])
	}

	report += "\nSources:\n"
	for source, requests := range metrics.SourceRequests {
		report += fmt.Sprintf("  %s: %d polls, %.2f%% success, %v avg time\n",
			source, requests, metrics.SourceSuccessRates[source]*100, metrics.SourceAverageTimes[source])
	}

	return report
}
