package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/huangang/taskhub/internal/config"
	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	jobInviteSweep       = "invite_sweep"
	jobActivityRetention = "activity_retention"
)

// Scheduler runs the periodic maintenance jobs. Each run takes a row in
// scheduler_locks first, so with several replicas only one of them does the work.
type Scheduler struct {
	db       *gorm.DB
	invites  *InviteService
	activity *ActivityLogService
	cfg      config.AppConfig
	cron     *cron.Cron
	instance string
}

// NewScheduler creates a scheduler; call Start to register the jobs.
func NewScheduler(db *gorm.DB, invites *InviteService, activity *ActivityLogService, cfg config.AppConfig) *Scheduler {
	host, _ := os.Hostname()
	return &Scheduler{
		db:       db,
		invites:  invites,
		activity: activity,
		cfg:      cfg,
		instance: fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

func (s *Scheduler) Start() error {
	s.cron = cron.New()

	spec := s.cfg.InviteSweepCron
	if spec == "" {
		spec = "@every 1h"
	}
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunInviteSweep(context.Background(), time.Now()); err != nil {
			logger.Error().Err(err).Msg("[Scheduler] invite sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule invite sweep %q: %w", spec, err)
	}

	if s.cfg.ActivityRetentionDays > 0 {
		if _, err := s.cron.AddFunc("@daily", func() {
			if _, err := s.RunActivityRetention(context.Background(), time.Now()); err != nil {
				logger.Error().Err(err).Msg("[Scheduler] activity retention failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule activity retention: %w", err)
		}
	}

	s.cron.Start()
	logger.Infof("[Scheduler] Started (invite sweep: %s, activity retention: %d days)", spec, s.cfg.ActivityRetentionDays)
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunInviteSweep removes expired email invites if this instance wins the slot.
func (s *Scheduler) RunInviteSweep(ctx context.Context, now time.Time) (int64, error) {
	return s.runOnce(ctx, jobInviteSweep, now.Truncate(time.Minute), time.Hour, func() (int64, error) {
		return s.invites.ExpireStale(ctx, now)
	})
}

func (s *Scheduler) RunActivityRetention(ctx context.Context, now time.Time) (int64, error) {
	return s.runOnce(ctx, jobActivityRetention, now.Truncate(24*time.Hour), 24*time.Hour, func() (int64, error) {
		return s.activity.CleanupOldLogs(ctx, s.cfg.ActivityRetentionDays)
	})
}

// runOnce runs job if this instance claims (name, slot) and records the
// outcome on the claimed row. A slot held elsewhere is skipped with 0, nil.
func (s *Scheduler) runOnce(ctx context.Context, name string, slot time.Time, hold time.Duration, job func() (int64, error)) (int64, error) {
	lock, err := s.acquire(ctx, name, slot, hold)
	if err != nil || lock == nil {
		return 0, err
	}

	n, jobErr := job()

	finished := time.Now()
	outcome := map[string]interface{}{"finished_at": finished, "affected": n, "last_error": ""}
	if jobErr != nil {
		msg := jobErr.Error()
		if len(msg) > 500 {
			msg = msg[:500]
		}
		outcome["last_error"] = msg
	}
	if err := s.db.WithContext(ctx).Model(lock).Updates(outcome).Error; err != nil {
		logger.Warn().Err(err).Str("job", name).Msg("[Scheduler] failed to record run")
	}
	logger.Info().Str("job", name).Str("slot", lock.LockKey).Int64("affected", n).
		Dur("took", finished.Sub(lock.LockedAt)).Msg("[Scheduler] job finished")
	return n, jobErr
}

// acquire claims (name, slot). It returns nil when another instance already holds it.
func (s *Scheduler) acquire(ctx context.Context, name string, slot time.Time, hold time.Duration) (*models.SchedulerLock, error) {
	db := s.db.WithContext(ctx)
	now := time.Now()
	if err := db.Where("lock_name = ? AND expires_at < ?", name, now).Delete(&models.SchedulerLock{}).Error; err != nil {
		return nil, err
	}

	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   slot.UTC().Format(time.RFC3339),
		LockedBy:  s.instance,
		LockedAt:  now,
		ExpiresAt: now.Add(hold),
	}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		logger.Debug().Str("job", name).Str("slot", lock.LockKey).Msg("[Scheduler] slot taken by another instance")
		return nil, nil
	}
	return &lock, nil
}
