// Package housekeeping runs the periodic maintenance pass: inactivity
// reminders, inactive-submission deletion, archival of old completed
// submissions and purging of soft-deleted rows.
package housekeeping

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Task is one named unit of maintenance work. DependsOn lists tasks that must
// have completed in the same pass before this one runs.
type Task struct {
	Name      string
	DependsOn []string
	Timeout   time.Duration
	Run       func(ctx context.Context) error
}

// Task outcomes for one pass.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Runner executes tasks sequentially in registration order. A task whose
// dependency did not complete is skipped, never run out of order.
type Runner struct {
	tasks []Task
}

func NewRunner(tasks ...Task) *Runner {
	return &Runner{tasks: tasks}
}

func (r *Runner) Add(task Task) {
	r.tasks = append(r.tasks, task)
}

// RunOnce executes a single maintenance pass and returns the outcome per task.
func (r *Runner) RunOnce(ctx context.Context) map[string]string {
	outcomes := make(map[string]string, len(r.tasks))
	for _, task := range r.tasks {
		if !dependenciesMet(task, outcomes) {
			log.Printf("housekeeping: skip %s, unmet dependency", task.Name)
			outcomes[task.Name] = OutcomeSkipped
			continue
		}
		if err := runWithTimeout(ctx, task); err != nil {
			log.Printf("housekeeping: task %s failed: %v", task.Name, err)
			outcomes[task.Name] = OutcomeFailed
			continue
		}
		outcomes[task.Name] = OutcomeCompleted
	}
	return outcomes
}

func dependenciesMet(task Task, outcomes map[string]string) bool {
	for _, dep := range task.DependsOn {
		if outcomes[dep] != OutcomeCompleted {
			return false
		}
	}
	return true
}

// runWithTimeout bounds how long the pass waits on one task. At the deadline
// the task is marked failed and its goroutine abandoned, never canceled: the
// task keeps the parent context, so in-flight store calls run to completion.
// Abandoned work is harmless because every task is idempotent against the
// store.
func runWithTimeout(ctx context.Context, task Task) error {
	if task.Timeout <= 0 {
		return task.Run(ctx)
	}

	done := make(chan error, 1)
	go func() {
		done <- task.Run(ctx)
	}()
	timer := time.NewTimer(task.Timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("task %s timed out after %s", task.Name, task.Timeout)
	}
}

// Start runs a pass every interval until the context is canceled. The first
// pass fires after one interval, not immediately, so a crash-looping process
// does not hammer the store.
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}
