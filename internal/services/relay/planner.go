package relay

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

// PlannerConfig: задержки повторной публикации по номеру неудачной попытки.
type PlannerConfig struct {
	Backoff1 time.Duration // default: 2 seconds
	Backoff2 time.Duration // default: 10 seconds
	Backoff3 time.Duration // default: 1 minute
	Backoff4 time.Duration // default: 5 minutes

	// Jitter is the upper bound of a random extra delay. Zero disables it.
	Jitter time.Duration
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Backoff1: 2 * time.Second,
		Backoff2: 10 * time.Second,
		Backoff3: 1 * time.Minute,
		Backoff4: 5 * time.Minute,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// BackoffDelay returns how long to wait before attempt number nextAttempt+1.
func (p *Planner) BackoffDelay(nextAttempt int32) time.Duration {
	var d time.Duration
	switch {
	case nextAttempt <= 1:
		d = p.cfg.Backoff1
	case nextAttempt == 2:
		d = p.cfg.Backoff2
	case nextAttempt == 3:
		d = p.cfg.Backoff3
	default:
		d = p.cfg.Backoff4
	}
	if p.cfg.Jitter >= time.Second {
		d += time.Duration(p.r.Intn(int(p.cfg.Jitter.Seconds())+1)) * time.Second
	}
	return d
}

func BackoffDelay(nextAttempt int32) time.Duration {
	return NewPlanner(DefaultPlannerConfig(), nil).BackoffDelay(nextAttempt)
}
