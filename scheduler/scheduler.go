package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"domain_ingest/config"
	"domain_ingest/scraper"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	resumeDelay        = 15 * time.Minute
	resumePollInterval = time.Minute
)

// Runner is implemented by scraper.Orchestrator
type Runner interface {
	RunAll(ctx context.Context) error
	RunProfile(ctx context.Context, profileID string) error
	HasProfile(profileID string) bool
}

// ResumeSource lists profiles whose last run stopped partway
type ResumeSource interface {
	ProfilesToResume(ctx context.Context, cutoff time.Time) ([]string, error)
}

type Scheduler struct {
	cfg     config.SchedulerConfig
	runner  Runner
	resumes ResumeSource
	log     *zap.SugaredLogger
	cron    *cron.Cron
	ticker  *time.Ticker
	stopCh  chan struct{}
	now     func() time.Time
}

func New(cfg config.SchedulerConfig, runner Runner, resumes ResumeSource, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		resumes: resumes,
		log:     log,
		cron:    cron.New(),
		stopCh:  make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.resumes != nil {
		go s.pollResumes(ctx)
	}

	if s.cfg.Cron != "" {
		s.log.Infow("starting scheduler", "cron", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.runAll(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		s.log.Infow("starting scheduler", "interval", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runAll(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		s.log.Info("no schedule configured, runs only start from the API")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// TriggerNow runs every profile immediately
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.runner.RunAll(ctx)
}

func (s *Scheduler) runAll(ctx context.Context) {
	err := s.runner.RunAll(ctx)
	switch {
	case errors.Is(err, scraper.ErrRunInProgress):
		s.log.Info("previous run still in progress, skipping tick")
	case err != nil:
		s.log.Errorw("scheduled run error", "error", err)
	}
}

func (s *Scheduler) pollResumes(ctx context.Context) {
	ticker := time.NewTicker(resumePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.resumeDue(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// resumeDue restarts profiles that stopped partway at least resumeDelay ago
func (s *Scheduler) resumeDue(ctx context.Context) {
	ids, err := s.resumes.ProfilesToResume(ctx, s.now().Add(-resumeDelay))
	if err != nil {
		s.log.Errorw("error checking resume pages", "error", err)
		return
	}

	for _, id := range ids {
		if !s.runner.HasProfile(id) {
			continue
		}
		s.log.Infow("resuming profile", "profile", id)
		if err := s.runner.RunProfile(ctx, id); err != nil {
			s.log.Errorw("resume error", "profile", id, "error", err)
		}
	}
}
