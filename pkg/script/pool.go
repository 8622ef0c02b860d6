package script

import (
	"context"
	"sync"
	"time"
)

type Runner interface {
	Runner()
}

type RunnerFactory interface {
	NewRunner() Runner
}

// RunnerPool reuses script runners, creating new ones up to maxPoolSize on demand
// and shrinking back to minPoolSize while idle.
type RunnerPool struct {
	pool               chan Runner
	runnerFactory      RunnerFactory
	activeRunnersCount int
	activeRunnersMu    *sync.Mutex
	maxPoolSize        int
	minPoolSize        int
}

const poolCleanupInterval = 10 * time.Minute

func NewRunnerPool(ctx context.Context, runnerFactory RunnerFactory, maxPoolSize int, minPoolSize int) *RunnerPool {
	if maxPoolSize < 1 {
		maxPoolSize = 1
	}
	if minPoolSize > maxPoolSize {
		minPoolSize = maxPoolSize
	}

	p := RunnerPool{
		pool:               make(chan Runner, maxPoolSize),
		runnerFactory:      runnerFactory,
		activeRunnersCount: 0,
		activeRunnersMu:    &sync.Mutex{},
		maxPoolSize:        maxPoolSize,
		minPoolSize:        minPoolSize,
	}

	for i := 0; i < minPoolSize; i++ {
		p.pool <- p.runnerFactory.NewRunner()
		p.activeRunnersCount++
	}

	// idle runners above the minimum are dropped, runners in use are never touched
	go func() {
		ticker := time.NewTicker(poolCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.shrink()
			case <-ctx.Done():
				return
			}
		}
	}()
	return &p
}

func (r *RunnerPool) shrink() {
	r.activeRunnersMu.Lock()
	defer r.activeRunnersMu.Unlock()
	for r.activeRunnersCount > r.minPoolSize {
		select {
		case <-r.pool:
			r.activeRunnersCount--
		default:
			return
		}
	}
}

func (r *RunnerPool) GetRunnerFromPool() Runner {
	var runner Runner
	select {
	case runner = <-r.pool:
	default:
		r.activeRunnersMu.Lock()
		if r.activeRunnersCount < r.maxPoolSize {
			runner = r.runnerFactory.NewRunner()
			r.activeRunnersCount++
		}
		r.activeRunnersMu.Unlock()
		if runner == nil {
			runner = <-r.pool
		}
	}
	return runner
}

func (r *RunnerPool) ReturnRunnerToPool(runner Runner) {
	select {
	case r.pool <- runner:
	default:
		//delete runner if pool is full
		r.activeRunnersMu.Lock()
		r.activeRunnersCount--
		r.activeRunnersMu.Unlock()
	}
}

// Size returns the number of runners currently alive, idle or in use.
func (r *RunnerPool) Size() int {
	r.activeRunnersMu.Lock()
	defer r.activeRunnersMu.Unlock()
	return r.activeRunnersCount
}
