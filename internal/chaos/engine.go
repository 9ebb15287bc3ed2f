// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
	BlastRadius float64 // 0.0 to 1.0 (share of the club data touched)
}

// Metric defines a measurable system property
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold. Unknown operators
// never hold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action is a load or fault injection step, or its undo.
type Action struct {
	Type       string // concurrent-requests, exhaust-connections, release-connections
	Target     string
	Parameters map[string]any
	Execute    func(context.Context) error
}

// Assertion is checked against the last observation of Metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

type Options struct {
	// SampleInterval is the pause between metric samples while observing.
	SampleInterval time.Duration
	// Pause separates the experiments of a game day.
	Pause time.Duration
}

// Engine orchestrates chaos experiments
type Engine struct {
	tracer         trace.Tracer
	sampleInterval time.Duration
	pause          time.Duration
	now            func() time.Time

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(opts Options) *Engine {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	return &Engine{
		tracer:         otel.Tracer("github.com/JaviNavarroB/Cierzo/internal/chaos"),
		sampleInterval: opts.SampleInterval,
		pause:          opts.Pause,
		now:            time.Now,
	}
}

func (e *Engine) Register(exps ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exps...)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// RunExperiment validates the steady state, runs the method, samples the
// steady-state metrics for the experiment's duration, rolls back and
// finally checks the assertions.
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(
			attribute.String("experiment.name", exp.Name),
		),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      e.now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.steadyStateViolations(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		result.EndTime = e.now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			e.recordError(result, action.Target, err)
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			e.recordError(result, action.Target, err)
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	result.FailedAssertions = failedAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = e.now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)

	return result, nil
}

// observe samples every steady-state metric once right away and then on
// each tick until the experiment's duration is over.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	var violatedAt time.Time
	recovered := false

	sample := func() {
		for _, metric := range exp.SteadyState {
			value, err := metric.Query(ctx)
			if err != nil {
				e.recordError(result, metric.Name, err)
				continue
			}

			now := e.now()
			result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: now, Value: value})

			if !metric.Threshold.Holds(value) {
				if violatedAt.IsZero() {
					violatedAt = now
				}
				result.Violations = append(result.Violations, MetricViolation{
					MetricName: metric.Name,
					Expected:   metric.Threshold.Value,
					Actual:     value,
					Timestamp:  now,
				})
			} else if !violatedAt.IsZero() && !recovered {
				mttr := now.Sub(violatedAt)
				result.MTTR = &mttr
				recovered = true
			}
		}
	}

	sample()

	ticker := time.NewTicker(e.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (e *Engine) steadyStateViolations(ctx context.Context, metrics []Metric) []MetricViolation {
	var violations []MetricViolation
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			log.Warn().Err(err).Str("metric", metric.Name).Msg("steady state query failed")
			value = -1
		}
		if err != nil || !metric.Threshold.Holds(value) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  e.now(),
			})
		}
	}
	return violations
}

func (e *Engine) recordError(result *Result, component string, err error) {
	result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
		Timestamp: e.now(),
		Error:     err.Error(),
		Component: component,
	})
}

// failedAssertions returns the message of every assertion whose metric was
// never observed or whose last observation fails the condition.
func failedAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, assertion := range assertions {
		observations := result.Observations[assertion.Metric]
		if len(observations) == 0 || !assertion.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, assertion.Message)
		}
	}
	return failed
}

// GameDay is a named series of experiments.
type GameDay struct {
	Name         string
	Date         time.Time
	Scenarios    []Experiment
	Participants []string
}

// ExecuteGameDay runs every scenario in order. It returns an error when a
// scenario could not start or its hypothesis did not hold.
func (e *Engine) ExecuteGameDay(ctx context.Context, gameDay GameDay) error {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(
			attribute.String("gameday.name", gameDay.Name),
		),
	)
	defer span.End()

	log.Info().
		Str("gameday", gameDay.Name).
		Time("date", gameDay.Date).
		Strs("participants", gameDay.Participants).
		Int("scenarios", len(gameDay.Scenarios)).
		Msg("starting game day")

	failed := 0
	for i, scenario := range gameDay.Scenarios {
		if i > 0 && e.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.pause):
			}
		}

		log.Info().
			Int("n", i+1).
			Str("experiment", scenario.Name).
			Str("hypothesis", scenario.Hypothesis).
			Msg("running experiment")

		result, err := e.RunExperiment(ctx, scenario)
		if err != nil {
			log.Error().Err(err).Str("experiment", scenario.Name).Interface("violations", result.Violations).Msg("experiment failed")
			failed++
			continue
		}

		logResult(result)
		if !result.HypothesisHeld {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d experiments failed", failed, len(gameDay.Scenarios))
	}
	return nil
}

func logResult(result *Result) {
	evt := log.Info()
	if !result.HypothesisHeld {
		evt = log.Error().Strs("failed_assertions", result.FailedAssertions)
	}
	if result.MTTR != nil {
		evt = evt.Dur("mttr", *result.MTTR)
	}
	for _, v := range result.Violations {
		log.Warn().
			Str("experiment", result.ExperimentName).
			Str("metric", v.MetricName).
			Float64("expected", v.Expected).
			Float64("actual", v.Actual).
			Msg("steady state violated")
	}
	evt.
		Str("experiment", result.ExperimentName).
		Bool("hypothesis_held", result.HypothesisHeld).
		Int("violations", len(result.Violations)).
		Int("errors", len(result.ErrorEvents)).
		Dur("duration", result.Duration).
		Msg("experiment finished")
}
