package scheduler

import (
	"context"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
)

// Job intervals and thresholds.
const (
	SweepInterval  = 5 * time.Minute
	PruneInterval  = 5 * time.Minute
	MemoryInactive = 24 * time.Hour
)

// Job names.
const (
	JobPaymentSweep = "payment_session_sweep"
	JobMemoryPrune  = "memory_prune"
)

// PaymentSweep expires stale payment sessions and dangling aliases.
func PaymentSweep(s *paysession.Sessions) Job {
	return Job{
		Name:     JobPaymentSweep,
		Interval: SweepInterval,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := s.Sweep(ctx, now)
			return err
		},
	}
}

// MemoryPrune forgets conversations idle for longer than inactive.
func MemoryPrune(m *memory.Memory, inactive time.Duration) Job {
	if inactive <= 0 {
		inactive = MemoryInactive
	}
	return Job{
		Name:     JobMemoryPrune,
		Interval: PruneInterval,
		Run: func(_ context.Context, now time.Time) error {
			m.PruneInactive(inactive, now)
			return nil
		},
	}
}
