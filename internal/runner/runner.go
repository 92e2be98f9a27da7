package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner manages and executes scheduled background tasks. A tick that
// fires while the previous run of the same task is still going is dropped,
// not queued.
type Runner struct {
	cron     *cron.Cron
	registry *TaskRegistry
	logger   *log.Logger
	wg       sync.WaitGroup
}

// NewRunner creates a new task runner
func NewRunner(registry *TaskRegistry) *Runner {
	logger := log.New(os.Stdout, "[RUNNER] ", log.LstdFlags)
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		registry: registry,
		logger:   logger,
	}
}

// Start registers every task and starts the scheduler. It does not block;
// call Stop to shut down.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Println("Starting task runner...")

	for name, task := range r.registry.All() {
		r.logger.Printf("Registering task: %s with schedule: %s", name, task.Schedule())

		task := task
		_, err := r.cron.AddFunc(task.Schedule(), func() {
			r.executeTask(ctx, task)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", name, err)
		}
	}

	r.cron.Start()
	r.logger.Println("Task runner started successfully")
	return nil
}

// executeTask runs a single task with timeout and error handling
func (r *Runner) executeTask(ctx context.Context, task Task) {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	r.logger.Printf("Executing task: %s", task.Name())

	start := time.Now()
	err := task.Run(taskCtx)
	duration := time.Since(start)

	if err != nil {
		r.logger.Printf("Task %s failed after %v: %v", task.Name(), duration, err)
	} else {
		r.logger.Printf("Task %s completed successfully in %v", task.Name(), duration)
	}
}

// Stop gracefully shuts down the runner
func (r *Runner) Stop() {
	r.logger.Println("Stopping task runner...")

	ctx := r.cron.Stop()
	r.wg.Wait()

	r.logger.Println("Task runner stopped")
	<-ctx.Done()
}
