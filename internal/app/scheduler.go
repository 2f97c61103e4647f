package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/reservation_core/internal/service"
)

// Scheduler управляет фоновыми задачами ядра бронирования
type Scheduler struct {
	groupService *service.GroupService
	interval     time.Duration
	logger       *zap.Logger
	stopChan     chan struct{}
}

// NewScheduler создаёт новый планировщик
func NewScheduler(groupService *service.GroupService, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		groupService: groupService,
		interval:     interval,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler")

	go s.runGroupExpiryTask(ctx)
}

// Stop останавливает фоновые задачи
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background scheduler")
	close(s.stopChan)
}

// runGroupExpiryTask периодически отменяет открытые группы
// с истёкшим дедлайном присоединения
func (s *Scheduler) runGroupExpiryTask(ctx context.Context) {
	// Первый запуск сразу при старте
	s.expireGroups(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.expireGroups(ctx)
		case <-s.stopChan:
			s.logger.Info("Group expiry task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Group expiry task cancelled")
			return
		}
	}
}

func (s *Scheduler) expireGroups(ctx context.Context) {
	count, err := s.groupService.ExpireStaleGroups(ctx)
	if err != nil {
		s.logger.Error("Group expiry sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("Group expiry sweep finished", zap.Int("expired", count))
	}
}
