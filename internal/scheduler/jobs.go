package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/refdata/internal/modules/market_hours"
	"github.com/aristath/refdata/internal/modules/universe"
	"github.com/aristath/refdata/internal/reliability"
)

// CoarseGenerationJob materializes the coarse universe file after the close
// on trading days.
type CoarseGenerationJob struct {
	universe *universe.Engine
	calendar *market_hours.Service
	log      zerolog.Logger
}

// NewCoarseGenerationJob creates the nightly coarse generation job.
func NewCoarseGenerationJob(universeEngine *universe.Engine, calendar *market_hours.Service, log zerolog.Logger) *CoarseGenerationJob {
	return &CoarseGenerationJob{
		universe: universeEngine,
		calendar: calendar,
		log:      log.With().Str("job", "coarse_generation").Logger(),
	}
}

// Name implements Job.
func (j *CoarseGenerationJob) Name() string { return "coarse_generation" }

// Run implements Job. Holidays are skipped; the snapshot would only repeat
// the previous session.
func (j *CoarseGenerationJob) Run() error {
	today := time.Now().UTC()
	if !j.calendar.IsTradingDay(today) {
		j.log.Debug().Msg("Not a trading day, skipping coarse generation")
		return nil
	}
	return j.universe.GenerateFor(today)
}

// BackupJob uploads the data directory archive and rotates old backups.
type BackupJob struct {
	backup        *reliability.BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates the periodic backup job.
func NewBackupJob(backup *reliability.BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backup:        backup,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name implements Job.
func (j *BackupJob) Name() string { return "backup" }

// Run implements Job.
func (j *BackupJob) Run() error {
	ctx := context.Background()
	if err := j.backup.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	if err := j.backup.RotateOldBackups(ctx, j.retentionDays); err != nil {
		// Rotation failure must not mask a successful backup.
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
