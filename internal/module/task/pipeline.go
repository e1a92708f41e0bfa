package task

import (
	"context"
	"sync"
)

// Step is one named stage of a pipeline. Name doubles as the progress message
// shown while the step runs.
type Step struct {
	Name string
	// Weight is the step's share of overall progress. Zero counts as one.
	Weight int
	Run    func(ctx context.Context, exec *Execution) error
}

// Pipeline describes how one kind of task is validated and executed.
type Pipeline struct {
	// Validate checks and normalizes submission params.
	Validate func(params Params) (Params, error)
	Steps    []Step
}

func (p *Pipeline) totalWeight() int {
	total := 0
	for _, s := range p.Steps {
		total += stepWeight(s)
	}
	return total
}

func stepWeight(s Step) int {
	if s.Weight <= 0 {
		return 1
	}
	return s.Weight
}

// Execution carries state between the steps of one task run.
type Execution struct {
	TaskID string
	Kind   Kind
	Params Params

	mu     sync.Mutex
	state  map[string]any
	result map[string]any
	report func(fraction float64, message string)
}

func newExecution(t *Task, report func(float64, string)) *Execution {
	return &Execution{
		TaskID: t.ID,
		Kind:   t.Kind,
		Params: t.Params,
		state:  make(map[string]any),
		result: make(map[string]any),
		report: report,
	}
}

// Set stores an intermediate value for later steps.
func (e *Execution) Set(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state[key] = value
}

// Get returns an intermediate value stored by an earlier step.
func (e *Execution) Get(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.state[key]
	return v, ok
}

// SetResult adds a field to the task result published on completion.
func (e *Execution) SetResult(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result[key] = value
}

// Result returns a copy of the accumulated result.
func (e *Execution) Result() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]any, len(e.result))
	for k, v := range e.result {
		out[k] = v
	}
	return out
}

// Report publishes progress inside the current step. fraction is clamped to
// [0,1]; an empty message keeps the step name.
func (e *Execution) Report(fraction float64, message string) {
	if e.report == nil {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	e.report(fraction, message)
}
