package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultHeartbeatInterval = 30 * time.Second

// SchedulerSettings define cada cuánto corre cada tarea de fondo. Cero desactiva la tarea,
// salvo el heartbeat, que siempre corre.
type SchedulerSettings struct {
	HeartbeatInterval time.Duration
	FlushInterval     time.Duration
	PruneInterval     time.Duration
}

// Scheduler corre las tareas periódicas: barrido de heartbeats, flush del buffer de chat
// y poda de mensajes viejos.
type Scheduler struct {
	logger        *zap.Logger
	chat          *ChatService
	notifications *NotificationService
	settings      SchedulerSettings
}

func NewScheduler(logger *zap.Logger, chat *ChatService, notifications *NotificationService, settings SchedulerSettings) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.HeartbeatInterval <= 0 {
		settings.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Scheduler{
		logger:        logger,
		chat:          chat,
		notifications: notifications,
		settings:      settings,
	}
}

// Run bloquea hasta que el contexto se cancela.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if s.notifications != nil {
		s.every(ctx, &wg, "sse heartbeat", s.settings.HeartbeatInterval, func(ctx context.Context) {
			if evicted := s.notifications.Sweep(ctx); evicted > 0 {
				s.logger.Info("sse sweep finished", zap.Int("evicted", evicted))
			}
		})
	}
	if s.chat != nil && s.settings.FlushInterval > 0 {
		s.every(ctx, &wg, "chat flush", s.settings.FlushInterval, func(ctx context.Context) {
			res, err := s.chat.FlushAll(ctx)
			if err != nil {
				s.logger.Warn("chat flush failed", zap.Int("flushed", res.Flushed), zap.Int("failed", res.Failed), zap.Error(err))
				return
			}
			if res.Flushed > 0 {
				s.logger.Info("chat flush finished", zap.Int("flushed", res.Flushed))
			}
		})
	}
	if s.chat != nil && s.settings.PruneInterval > 0 {
		s.every(ctx, &wg, "chat prune", s.settings.PruneInterval, func(ctx context.Context) {
			if _, err := s.chat.PruneOld(ctx); err != nil {
				s.logger.Warn("chat prune failed", zap.Error(err))
			}
		})
	}

	wg.Wait()
}

func (s *Scheduler) every(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, task func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("background task started", zap.String("task", name), zap.Duration("interval", interval))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("background task stopped", zap.String("task", name))
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()
}
