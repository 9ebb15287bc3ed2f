package chaos

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestThresholdHolds(t *testing.T) {
	cases := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{">", 1, false},
		{"<", 0, true},
		{"<", 1, false},
		{">=", 1, true},
		{"<=", 1, true},
		{"<=", 1.5, false},
		{"==", 1, true},
		{"==", 0, false},
		{"!=", 0, false},
		{"", 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			assert.Equal(t, tc.want, Threshold{Operator: tc.op, Value: 1}.Holds(tc.value))
		})
	}
}

func TestThresholdComplementary(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.Float64Range(-1e6, 1e6).Draw(t, "limit")
		v := rapid.Float64Range(-1e6, 1e6).Draw(t, "value")

		lt := Threshold{Operator: "<", Value: limit}.Holds(v)
		ge := Threshold{Operator: ">=", Value: limit}.Holds(v)
		if lt == ge {
			t.Fatalf("< and >= agree for value %v and limit %v", v, limit)
		}
	})
}

// scripted returns the values in order and then repeats the last one.
func scripted(values ...float64) func(context.Context) (float64, error) {
	var i atomic.Int64
	return func(context.Context) (float64, error) {
		n := int(i.Add(1)) - 1
		if n >= len(values) {
			n = len(values) - 1
		}
		return values[n], nil
	}
}

func newTestEngine() *Engine {
	return NewEngine(Options{SampleInterval: 2 * time.Millisecond})
}

func TestRunExperimentAbortsOnInvalidSteadyState(t *testing.T) {
	engine := newTestEngine()
	ran := false

	result, err := engine.RunExperiment(context.Background(), Experiment{
		Name: "broken",
		SteadyState: []Metric{
			{Name: "oversubscribed_events", Query: scripted(2), Threshold: Threshold{Operator: "==", Value: 0}},
			{Name: "failing", Query: func(context.Context) (float64, error) { return 0, errors.New("boom") }, Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method:   []Action{{Execute: func(context.Context) error { ran = true; return nil }}},
		Duration: time.Millisecond,
	})

	require.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, ran)
	assert.False(t, result.SteadyStateValid)
	require.Len(t, result.Violations, 2)
	assert.Equal(t, 2.0, result.Violations[0].Actual)
	assert.Equal(t, -1.0, result.Violations[1].Actual)
	assert.Empty(t, engine.Results())
}

func TestRunExperimentObservesAndRecovers(t *testing.T) {
	engine := newTestEngine()
	var rolledBack bool

	exp := Experiment{
		Name: "spike",
		SteadyState: []Metric{
			{Name: "duplicate_enrollments", Query: scripted(0, 3, 0), Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{
			{Target: "enrollment-service", Execute: func(context.Context) error { return errors.New("load failed") }},
		},
		Rollback:   []Action{{Execute: func(context.Context) error { rolledBack = true; return nil }}},
		Validation: []Assertion{zero("duplicate_enrollments", "no duplicates")},
		Duration:   30 * time.Millisecond,
	}

	result, err := engine.RunExperiment(context.Background(), exp)
	require.NoError(t, err)

	assert.True(t, result.SteadyStateValid)
	assert.True(t, rolledBack)
	assert.True(t, result.HypothesisHeld)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, 3.0, result.Violations[0].Actual)
	require.NotNil(t, result.MTTR)
	assert.GreaterOrEqual(t, len(result.Observations["duplicate_enrollments"]), 2)

	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "enrollment-service", result.ErrorEvents[0].Component)
	assert.Len(t, engine.Results(), 1)
}

func TestRunExperimentFailsAssertions(t *testing.T) {
	engine := newTestEngine()

	result, err := engine.RunExperiment(context.Background(), Experiment{
		Name: "stuck",
		SteadyState: []Metric{
			{Name: "unpromoted_players", Query: scripted(0, 1), Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Validation: []Assertion{
			zero("unpromoted_players", "every player promoted"),
			zero("never_sampled", "missing metric"),
		},
		Duration: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.False(t, result.HypothesisHeld)
	assert.Equal(t, []string{"every player promoted", "missing metric"}, result.FailedAssertions)
	assert.Nil(t, result.MTTR)
}

func TestExecuteGameDay(t *testing.T) {
	engine := newTestEngine()

	ok := Experiment{
		Name:        "ok",
		SteadyState: []Metric{{Name: "m", Query: scripted(0), Threshold: Threshold{Operator: "==", Value: 0}}},
		Validation:  []Assertion{zero("m", "m is zero")},
		Duration:    time.Millisecond,
	}
	bad := ok
	bad.Name = "bad"
	bad.SteadyState = []Metric{{Name: "m", Query: scripted(1), Threshold: Threshold{Operator: "==", Value: 0}}}

	engine.Register(ok)
	require.NoError(t, engine.ExecuteGameDay(context.Background(), GameDay{Name: "green", Scenarios: engine.Experiments()}))

	err := engine.ExecuteGameDay(context.Background(), GameDay{Name: "red", Scenarios: []Experiment{ok, bad}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestExecuteGameDayStopsOnCancel(t *testing.T) {
	engine := NewEngine(Options{SampleInterval: time.Millisecond, Pause: time.Hour})
	exp := Experiment{Name: "ok", Duration: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := engine.ExecuteGameDay(ctx, GameDay{Scenarios: []Experiment{exp, exp}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, engine.Results(), 1)
}
