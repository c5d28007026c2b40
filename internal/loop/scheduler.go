package loop

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/halcyonlabs/vigil/internal/decision"
	"github.com/halcyonlabs/vigil/internal/metrics"
	"github.com/halcyonlabs/vigil/internal/world"
)

// ActionExecutor is the scheduler's view of the action executor.
type ActionExecutor interface {
	Execute(ctx context.Context, actions []decision.Action) int
}

type Config struct {
	TickInterval         time.Duration
	MinCycleInterval     time.Duration
	MaxCyclesPerHour     int
	ScheduledObservation string // cron or @every expression; empty disables
	MaxActionsPerCycle   int
	MessageDepth         int
	ActionHistoryDepth   int
}

// Scheduler is the sole driver of decision cycles. Observers run
// concurrently but only append to world state; cycles are strictly
// serialized here.
type Scheduler struct {
	state    *world.State
	detector *Detector
	decider  decision.Decider
	exec     ActionExecutor
	cfg      Config

	budget         *cycleBudget
	observationDue atomic.Bool
	inflight       atomic.Int32
	lastCycleStart time.Time
	now            func() time.Time
}

func NewScheduler(state *world.State, decider decision.Decider, exec ActionExecutor, cfg Config) *Scheduler {
	s := &Scheduler{
		state:    state,
		detector: NewDetector(),
		decider:  decider,
		exec:     exec,
		cfg:      cfg,
		now:      time.Now,
	}
	s.budget = newCycleBudget(cfg.MaxCyclesPerHour, time.Hour, func() time.Time { return s.now() })
	return s
}

// Detector exposes the change detector (read-only use: status, tests).
func (s *Scheduler) Detector() *Detector {
	return s.detector
}

// Inflight reports the number of cycles currently running; it never exceeds 1.
func (s *Scheduler) Inflight() int {
	return int(s.inflight.Load())
}

// Reference exposes the detector's reference fingerprint for status
// reporting.
func (s *Scheduler) Reference() (uint64, bool) {
	return s.detector.Reference()
}

// Run evaluates the trigger policy on every tick until ctx is cancelled.
// Shutdown happens between ticks; an in-flight cycle finishes or aborts at
// its designated cancellation point.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.ScheduledObservation != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.cfg.ScheduledObservation, func() { s.observationDue.Store(true) }); err != nil {
			return fmt.Errorf("scheduled observation %q: %w", s.cfg.ScheduledObservation, err)
		}
		c.Start()
		defer c.Stop()
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	log.Printf("[scheduler] running: tick=%s minCycle=%s maxPerHour=%d", s.cfg.TickInterval, s.cfg.MinCycleInterval, s.cfg.MaxCyclesPerHour)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			log.Printf("[scheduler] stopped")
			return nil
		}
	}
}

// tick applies the four-step trigger policy. Every outcome is observable:
// a skip reason in metrics/logs, or a cycle recorded in system status.
func (s *Scheduler) tick(ctx context.Context) {
	// 1. Never overlap cycles.
	if !s.inflight.CompareAndSwap(0, 1) {
		metrics.CyclesSkipped.WithLabelValues("inflight").Inc()
		return
	}
	metrics.CycleInflight.Set(1)
	defer func() {
		s.inflight.Store(0)
		metrics.CycleInflight.Set(0)
	}()

	now := s.now()

	// 2. Runaway protection.
	if !s.lastCycleStart.IsZero() && now.Sub(s.lastCycleStart) < s.cfg.MinCycleInterval {
		metrics.CyclesSkipped.WithLabelValues("min_interval").Inc()
		return
	}

	// 3. Trigger on change or on a due scheduled observation.
	snap := s.state.Snapshot()
	fp := world.Fingerprint(snap)
	changed := s.detector.Changed(fp)
	scheduled := s.observationDue.Load()
	if !changed && !scheduled {
		metrics.CyclesSkipped.WithLabelValues("no_change").Inc()
		return
	}

	// 4. Rolling hourly budget, shared by change- and schedule-triggered
	// cycles. A deferred trigger is not lost: the detector has not advanced,
	// so the same change fires again once the window frees up.
	if !s.budget.hasRoom() {
		log.Printf("[scheduler] cycle deferred: %d cycles already started this hour", s.budget.used())
		s.state.NoteDeferral()
		metrics.CyclesSkipped.WithLabelValues("budget").Inc()
		return
	}

	s.observationDue.Store(false)
	s.lastCycleStart = now
	s.budget.consume()
	metrics.CyclesStarted.Inc()
	s.runCycle(ctx, now, snap, fp, changed)
}

func (s *Scheduler) runCycle(ctx context.Context, start time.Time, snap world.Snapshot, fp uint64, changed bool) {
	log.Printf("[scheduler] cycle start: fingerprint=%016x changed=%v", fp, changed)

	actions, err := s.decider.Decide(ctx, decision.Request{
		Snapshot:           snap,
		MaxActions:         s.cfg.MaxActionsPerCycle,
		MessageDepth:       s.cfg.MessageDepth,
		ActionHistoryDepth: s.cfg.ActionHistoryDepth,
	})
	if err != nil {
		// The cycle aborts without advancing the detector, so the same
		// change is retried on the next eligible tick. Never re-raised.
		s.state.SetGatewayFailure(start, err)
		metrics.GatewayFailures.Inc()
		log.Printf("[scheduler] cycle aborted: %v", err)
		return
	}

	// Designated cancellation point: shutdown here leaves world state
	// untouched by this cycle.
	if ctx.Err() != nil {
		log.Printf("[scheduler] cycle abandoned before action execution")
		return
	}

	records := s.exec.Execute(ctx, actions)
	s.detector.Advance(fp)

	outcome := "zero actions"
	if records > 0 {
		outcome = fmt.Sprintf("%d action records", records)
	}
	s.state.SetCycleOutcome(start, outcome)
	log.Printf("[scheduler] cycle done: %s", outcome)
}
