// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/refdata/internal/events"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron   *cron.Cron
	events *events.Manager
	log    zerolog.Logger
}

// New creates a new scheduler
func New(eventManager *events.Manager, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		events: eventManager,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "0 0 22 * * MON-FRI" - 10 PM weekdays
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.run(job)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return s.run(job)
}

// run executes the job and reports its lifecycle through the event manager.
func (s *Scheduler) run(job Job) error {
	runID := uuid.New().String()
	start := time.Now()

	s.log.Debug().Str("job", job.Name()).Str("run_id", runID).Msg("Running job")
	s.emitProgress(job.Name(), runID, "started", nil)

	if err := job.Run(); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Str("run_id", runID).Msg("Job failed")
		s.emitProgress(job.Name(), runID, "failed", err)
		return err
	}

	s.log.Debug().
		Str("job", job.Name()).
		Str("run_id", runID).
		Dur("duration_ms", time.Since(start)).
		Msg("Job completed")
	s.emitProgress(job.Name(), runID, "completed", nil)
	return nil
}

func (s *Scheduler) emitProgress(jobName, runID, status string, err error) {
	data := map[string]interface{}{
		"job":    jobName,
		"run_id": runID,
		"status": status,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.events.Emit(events.JobProgress, "scheduler", data)
}
