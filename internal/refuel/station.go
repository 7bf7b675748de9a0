package refuel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Napageneral/airport/internal/logger"
	"github.com/Napageneral/airport/internal/resource"
)

// Station is the single refuel truck. Planes are served one at a time in
// arrival order; there is no emergency priority here.
type Station struct {
	truck    *resource.Semaphore
	duration time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	current string
	holders int
	peak    int
	served  int
}

func New(duration time.Duration) *Station {
	return &Station{
		truck:    resource.NewSemaphore(1),
		duration: duration,
		log:      logger.Component("refuel"),
	}
}

// Refuel waits for the truck, holds it for the service duration and releases
// it on every path. A cancelled wait returns ctx.Err() with nothing held; a
// cancelled service releases the truck and returns ctx.Err().
func (s *Station) Refuel(ctx context.Context, plane string) error {
	s.log.Info("waiting for refuel truck", zap.String("plane", plane))
	if err := s.truck.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		s.mu.Lock()
		s.current = ""
		s.holders--
		s.mu.Unlock()
		s.truck.Release()
	}()

	s.mu.Lock()
	s.current = plane
	s.holders++
	if s.holders > s.peak {
		s.peak = s.holders
	}
	s.mu.Unlock()
	s.log.Info("refueling", zap.String("plane", plane))

	t := time.NewTimer(s.duration)
	defer t.Stop()
	select {
	case <-ctx.Done():
		s.log.Warn("refueling interrupted", zap.String("plane", plane))
		return ctx.Err()
	case <-t.C:
	}

	s.mu.Lock()
	s.served++
	s.mu.Unlock()
	s.log.Info("refueling complete", zap.String("plane", plane))
	return nil
}

// Current returns the plane being refueled, or "".
func (s *Station) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Peak is the largest number of planes ever holding the truck at once.
func (s *Station) Peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

func (s *Station) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

// Available reports whether the truck is idle.
func (s *Station) Available() bool {
	return s.truck.Available() == 1
}
