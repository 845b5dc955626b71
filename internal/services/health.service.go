package services

import (
	"context"
	"errors"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService reports whether the ledger store and redis answer.
type HealthService struct {
	db      Pinger
	redis   Pinger
	timeout time.Duration
}

func NewHealthService(db, redis Pinger) *HealthService {
	return &HealthService{db: db, redis: redis, timeout: 2 * time.Second}
}

// Check returns the state of each dependency and a joined error when any is down.
func (s *HealthService) Check(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := map[string]string{}
	var errs []error
	for name, p := range map[string]Pinger{"postgres": s.db, "redis": s.redis} {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			report[name] = "down"
			errs = append(errs, errors.New(name+": "+err.Error()))
			continue
		}
		report[name] = "up"
	}
	return report, errors.Join(errs...)
}
