package scheduler

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/switchyard/internal/scheduler IdleHandler,Pruner

// IdleHandler is driven once per tick, normally the gateway.
type IdleHandler interface {
	OnIdleTick(now time.Time)
}

// Pruner deletes journal rows older than retention.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
