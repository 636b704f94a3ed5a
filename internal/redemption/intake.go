package redemption

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/pkg/utils"
)

// IntakeSwitch аварийная остановка приема новых заявок.
// Переходы уже поданных заявок не блокируются.
type IntakeSwitch struct {
	mu       sync.RWMutex
	paused   bool
	pausedAt time.Time
	reason   string

	repo   domain.IntakeRepository
	logger *utils.Logger
}

// NewIntakeSwitch создает новый переключатель приема
func NewIntakeSwitch(repo domain.IntakeRepository, logger *utils.Logger) *IntakeSwitch {
	return &IntakeSwitch{
		repo:   repo,
		logger: logger.With("intake"),
	}
}

// Restore поднимает состояние из истории остановок после рестарта
func (s *IntakeSwitch) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	active, err := s.repo.Active(ctx)
	if err != nil {
		return fmt.Errorf("restore intake state: %w", err)
	}
	if active == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.pausedAt = active.PausedAt
	s.reason = active.Reason
	s.logger.Warn("Redemption intake is paused since %s: %s", active.PausedAt.Format(time.RFC3339), active.Reason)
	return nil
}

// Pause останавливает прием заявок
func (s *IntakeSwitch) Pause(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return nil
	}

	now := time.Now().UTC()
	if s.repo != nil {
		if err := s.repo.SavePause(ctx, &domain.IntakePause{Reason: reason, PausedAt: now}); err != nil {
			return fmt.Errorf("save intake pause: %w", err)
		}
	}

	s.paused = true
	s.pausedAt = now
	s.reason = reason
	s.logger.Warn("Redemption intake paused: %s", reason)
	return nil
}

// Resume возобновляет прием заявок
func (s *IntakeSwitch) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.paused {
		return nil
	}
	if s.repo != nil {
		if err := s.repo.Resume(ctx, time.Now().UTC()); err != nil {
			return fmt.Errorf("resume intake: %w", err)
		}
	}

	s.paused = false
	s.reason = ""
	s.logger.Info("Redemption intake resumed")
	return nil
}

// IsPaused проверяет остановлен ли прием
func (s *IntakeSwitch) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.paused
}

// Status возвращает состояние переключателя
func (s *IntakeSwitch) Status() (bool, string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.paused, s.reason, s.pausedAt
}
