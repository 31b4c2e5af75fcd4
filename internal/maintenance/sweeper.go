package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/edgefleet/authcore/internal/models"
	"github.com/edgefleet/authcore/pkg/logger"
)

const defaultSchedule = "@hourly"

// Sweeper periodically retires expired rows. It only flips flags and
// statuses; nothing is ever deleted, history stays queryable.
type Sweeper struct {
	db       *gorm.DB
	cron     *cron.Cron
	schedule string
	now      func() time.Time
	log      *zap.Logger
}

// Option customises the sweeper.
type Option func(*Sweeper)

// WithSchedule overrides the cron schedule.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithNow overrides the clock. Test hook.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper constructs a sweeper over the database.
func NewSweeper(db *gorm.DB, opts ...Option) (*Sweeper, error) {
	if db == nil {
		return nil, errors.New("sweeper: db is required")
	}

	s := &Sweeper{
		db:       db,
		schedule: defaultSchedule,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start schedules the sweep and launches the cron runner.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("maintenance sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunOnce performs a single sweep: expired permission grants are deactivated
// and active sharings past their TTL move to the expired status. Both passes
// run even if one fails; the errors come back combined.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	now := s.now()

	permResult := s.db.WithContext(ctx).Model(&models.PermissionRecord{}).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		Update("is_active", false)

	shareResult := s.db.WithContext(ctx).Model(&models.SharingResource{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.SharingStatusActive, now).
		Update("status", models.SharingStatusExpired)

	if err := multierr.Append(permResult.Error, shareResult.Error); err != nil {
		return err
	}

	if permResult.RowsAffected > 0 || shareResult.RowsAffected > 0 {
		s.log.Info("sweep retired expired rows",
			zap.Int64("permissions", permResult.RowsAffected),
			zap.Int64("sharings", shareResult.RowsAffected),
		)
	}
	return nil
}
