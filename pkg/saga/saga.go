// Package saga runs a fixed sequence of steps and undoes the completed ones
// when a later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"
)

type Step struct {
	Name    string
	Execute func(ctx context.Context) error
	// Compensate is optional. It only runs for steps whose Execute succeeded.
	Compensate func(ctx context.Context) error
}

type Saga struct {
	name  string
	steps []Step
}

func New(name string) *Saga {
	return &Saga{name: name}
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// StepError reports the failed step. It unwraps to the step's own error;
// a compensation failure is kept separately in Compensation.
type StepError struct {
	Saga         string
	Step         string
	Index        int
	Err          error
	Compensation error
}

func (e *StepError) Error() string {
	if e.Compensation != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.Compensation)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Execute runs the steps in order and returns a *StepError on failure.
// Compensation ignores the caller's cancellation, so an abandoned request
// still undoes what it did.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return &StepError{
				Saga:         s.name,
				Step:         step.Name,
				Index:        i,
				Err:          err,
				Compensation: s.compensate(context.WithoutCancel(ctx), s.steps[:i]),
			}
		}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, done []Step) error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		if done[i].Compensate == nil {
			continue
		}
		if err := done[i].Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate %q: %w", done[i].Name, err))
		}
	}
	return errors.Join(errs...)
}
