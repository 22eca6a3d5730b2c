package learning

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/motionlabs/cswatch/ent/learningexecution"
	"github.com/motionlabs/cswatch/pkg/services"
)

// Scheduler fires scheduled learning runs from a single timer loop. The
// service's advisory lock keeps replicas from doubling up.
type Scheduler struct {
	service  *Service
	schedule *Schedule
	location *time.Location
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler for the given cron line and timezone.
func NewScheduler(service *Service, cronExpr string, location *time.Location) (*Scheduler, error) {
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return nil, err
	}
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		service:  service,
		schedule: schedule,
		location: location,
		logger:   slog.Default().With("component", "learning-scheduler"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins the timer loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the scheduler to stop and waits for the in-flight run.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now().In(s.location))
		s.logger.Info("Next scheduled learning run", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			timer.Stop()
			s.logger.Info("Learning scheduler shutting down")
			return
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Context cancelled, learning scheduler shutting down")
			return
		case <-timer.C:
		}

		if _, err := s.service.Run(ctx, learningexecution.TriggerTypeScheduled); err != nil {
			if errors.Is(err, services.ErrAlreadyRunning) {
				// Another replica picked this slot up.
				s.logger.Info("Scheduled run skipped, already running elsewhere")
				continue
			}
			s.logger.Error("Scheduled learning run failed", "error", err)
		}
	}
}
