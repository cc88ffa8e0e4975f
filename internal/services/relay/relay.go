// Package relay moves committed transition events from the outbox table to
// the broker. Delivery is at least once; consumers must be idempotent.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/StubbleTrack/internal/broker/messages"
	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/google/uuid"
)

type Repository interface {
	// ClaimUnpublishedEvents leases due events of at most limit loads. A load
	// is handed out only from its oldest unpublished event, in id order.
	ClaimUnpublishedEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.LoadEvent, error)
	MarkEventPublished(ctx context.Context, id uint64, at time.Time) error
	MarkEventFailed(ctx context.Context, id uint64, errText string, nextAttemptAt time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Relay struct {
	repo     Repository
	producer Producer
	topic    string

	planner *Planner

	pollInterval time.Duration
	batchSize    int
	concurrency  int
	lease        time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, topic string) *Relay {
	return &Relay{
		repo: repo, producer: producer, topic: topic,
		planner:           NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:      time.Second,
		batchSize:         100,
		concurrency:       8,
		lease:             60 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (r *Relay) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration) *Relay {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if lease > 0 {
		r.lease = lease
	}
	return r
}

func (r *Relay) WithPlanner(cfg PlannerConfig) *Relay {
	r.planner = NewPlanner(cfg, nil)
	return r
}

// Trigger forces an immediate relay cycle (best-effort, non-blocking).
func (r *Relay) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Relay) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalClaimed:   r.totalClaimed.Load(),
		TotalPublished: r.totalPublished.Load(),
		TotalErrors:    r.totalErrors.Load(),
		InFlight:       r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.RunOnce(ctx)
		case <-r.triggerCh:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce claims one batch and publishes it. Events of one load are published
// in id order, also across cycles since the claim starts at the oldest
// unpublished event; different loads go in parallel.
func (r *Relay) RunOnce(ctx context.Context) {
	now := time.Now().UTC()
	r.lastCycleUnixNano.Store(now.UnixNano())

	items, err := r.repo.ClaimUnpublishedEvents(ctx, now, r.batchSize, r.lease)
	if err != nil {
		slog.Error("claim unpublished events", "error", err.Error())
		r.setLastError(err)
		return
	}
	r.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, group := range groupByLoad(items) {
		sem <- struct{}{}
		wg.Add(1)
		r.inFlight.Add(int64(len(group)))
		go func(group []*models.LoadEvent) {
			defer func() {
				<-sem
				wg.Done()
			}()
			r.publishGroup(ctx, group)
		}(group)
	}
	wg.Wait()
}

func (r *Relay) publishGroup(ctx context.Context, group []*models.LoadEvent) {
	for i, ev := range group {
		err := r.publishOne(ctx, ev)
		r.inFlight.Add(-1)
		if err == nil {
			r.totalPublished.Add(1)
			continue
		}

		r.totalErrors.Add(1)
		r.setLastError(err)
		slog.Error("publish load event", "event_id", ev.ID, "load_id", ev.LoadID.String(), "error", err.Error())

		next := time.Now().UTC().Add(r.planner.BackoffDelay(ev.PublishAttempts + 1))
		if mErr := r.repo.MarkEventFailed(ctx, ev.ID, err.Error(), next); mErr != nil {
			slog.Error("mark event failed", "event_id", ev.ID, "error", mErr.Error())
		}
		// хвост группы ждёт вместе с упавшим событием, чтобы не нарушить порядок
		for _, rest := range group[i+1:] {
			r.inFlight.Add(-1)
			if mErr := r.repo.MarkEventFailed(ctx, rest.ID, "waiting for an earlier event of this load", next); mErr != nil {
				slog.Error("mark event failed", "event_id", rest.ID, "error", mErr.Error())
			}
		}
		return
	}
}

func (r *Relay) publishOne(ctx context.Context, ev *models.LoadEvent) error {
	msg := messages.FromEvent(ev)
	b, err := msg.Marshal()
	if err != nil {
		return err
	}
	if err := r.producer.Publish(ctx, r.topic, msg.Key(), b); err != nil {
		return err
	}
	return r.repo.MarkEventPublished(ctx, ev.ID, time.Now().UTC())
}

func (r *Relay) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

func groupByLoad(items []*models.LoadEvent) [][]*models.LoadEvent {
	idx := map[uuid.UUID]int{}
	var out [][]*models.LoadEvent
	for _, ev := range items {
		i, ok := idx[ev.LoadID]
		if !ok {
			i = len(out)
			idx[ev.LoadID] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], ev)
	}
	return out
}
