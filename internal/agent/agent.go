// Package agent wires the pieces together: config → world state → bus
// ingest → platform connectors → scheduler → executor → status server, with
// signal-driven shutdown.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halcyonlabs/vigil/internal/bus"
	"github.com/halcyonlabs/vigil/internal/config"
	"github.com/halcyonlabs/vigil/internal/decision"
	"github.com/halcyonlabs/vigil/internal/executor"
	"github.com/halcyonlabs/vigil/internal/loop"
	"github.com/halcyonlabs/vigil/internal/metrics"
	"github.com/halcyonlabs/vigil/internal/platform"
	"github.com/halcyonlabs/vigil/internal/status"
	"github.com/halcyonlabs/vigil/internal/store"
	"github.com/halcyonlabs/vigil/internal/world"
)

// DeciderFactory creates the decision gateway (allows injection in tests).
type DeciderFactory func(cfg *config.Config) (decision.Decider, error)

// Options for creating an Agent with custom dependencies.
type Options struct {
	DeciderFactory DeciderFactory
	SignalChan     chan os.Signal // for testing signal handling
}

// DefaultDeciderFactory builds the Anthropic-backed decision gateway.
func DefaultDeciderFactory(cfg *config.Config) (decision.Decider, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'vigil init' or set VIGIL_API_KEY / ANTHROPIC_API_KEY")
	}
	return decision.NewAnthropicDecider(decision.AnthropicConfig{
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		Model:     cfg.Provider.Model,
		MaxTokens: cfg.Provider.MaxTokens,
		Timeout:   config.Duration(cfg.Provider.GatewayTimeout, 90*time.Second),
	})
}

// platformManager is the slice of the platform manager the agent drives
// (allows a failing fake in tests).
type platformManager interface {
	StartAll(ctx context.Context) error
	StopAll()
	Backends() []executor.Backend
	Enabled() []string
}

type Agent struct {
	cfg        *config.Config
	state      *world.State
	bus        *bus.Bus
	decider    decision.Decider
	exec       *executor.Executor
	sched      *loop.Scheduler
	platforms  platformManager
	archive    store.Archive
	statusSrv  *status.Server
	signalChan chan os.Signal
}

// New creates an Agent with default options.
func New(cfg *config.Config) (*Agent, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates an Agent with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Agent, error) {
	a := &Agent{cfg: cfg, signalChan: opts.SignalChan}

	a.state = world.NewState(cfg.Retention.MessagesPerChannel, cfg.Retention.ActionHistory)
	a.bus = bus.New(config.DefaultBufSize)

	if cfg.Store.DBPath != "" {
		archive, err := store.NewSQLite(cfg.Store.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.archive = archive
		if err := a.warmState(); err != nil {
			log.Printf("[agent] archive warm-up warning: %v", err)
		}
	}

	factory := opts.DeciderFactory
	if factory == nil {
		factory = DefaultDeciderFactory
	}
	decider, err := factory(cfg)
	if err != nil {
		a.closeArchive()
		return nil, err
	}
	a.decider = decider

	a.exec = executor.New(a.state, executor.Config{
		MaxRetries:      cfg.Executor.MaxRetries,
		InitialBackoff:  config.Duration(cfg.Executor.InitialBackoff, time.Second),
		ActionTimeout:   config.Duration(cfg.Executor.ActionTimeout, 30*time.Second),
		SendsPerMinute:  cfg.Executor.SendsPerMinute,
		RateLimitMaxAge: config.Duration(cfg.Executor.RateLimitMaxAge, 10*time.Minute),
	})
	if a.archive != nil {
		archive := a.archive
		a.exec.OnRecord = func(rec world.ActionRecord) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := archive.SaveActionRecord(ctx, rec); err != nil {
				log.Printf("[agent] archive action record warning: %v", err)
			}
		}
	}

	mgr, err := platform.NewManager(cfg.Platforms, a.bus)
	if err != nil {
		a.closeArchive()
		return nil, fmt.Errorf("create platform manager: %w", err)
	}
	a.platforms = mgr
	for _, b := range mgr.Backends() {
		a.exec.Register(b)
	}

	a.sched = loop.NewScheduler(a.state, a.decider, a.exec, loop.Config{
		TickInterval:         config.Duration(cfg.Agent.TickInterval, 5*time.Second),
		MinCycleInterval:     config.Duration(cfg.Agent.MinCycleInterval, 30*time.Second),
		MaxCyclesPerHour:     cfg.Agent.MaxCyclesPerHour,
		ScheduledObservation: cfg.Agent.ScheduledObservation,
		MaxActionsPerCycle:   cfg.Agent.MaxActionsPerCycle,
		MessageDepth:         cfg.Agent.MessageDepth,
		ActionHistoryDepth:   cfg.Agent.ActionHistoryDepth,
	})

	if cfg.Status.Enabled {
		a.statusSrv = status.NewServer(cfg.Status.Host, cfg.Status.Port, a.state, a.sched)
	}

	return a, nil
}

// warmState replays the archive into world state so the first decision
// cycle has context from before the restart.
func (a *Agent) warmState() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgs, err := a.archive.RecentMessages(ctx, a.cfg.Retention.MessagesPerChannel)
	if err != nil {
		return err
	}
	for _, am := range msgs {
		if err := a.state.RecordMessage(am.Platform, am.ChannelID, am.Message); err != nil {
			return err
		}
	}

	records, err := a.archive.RecentActionRecords(ctx, a.cfg.Retention.ActionHistory)
	if err != nil {
		return err
	}
	for _, rec := range records {
		a.state.RecordActionResult(rec)
	}

	log.Printf("[agent] warmed state from archive: %d messages, %d action records", len(msgs), len(records))
	return nil
}

// Run starts everything and blocks until a termination signal.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.statusSrv != nil {
		go func() {
			if err := a.statusSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[agent] status server error: %v", err)
			}
		}()
	}

	if err := a.platforms.StartAll(ctx); err != nil {
		a.stopStatus()
		return fmt.Errorf("start platforms: %w", err)
	}
	log.Printf("[agent] platforms started: %v", a.platforms.Enabled())

	go a.ingestLoop(ctx)

	go func() {
		if err := a.sched.Run(ctx); err != nil {
			log.Printf("[agent] scheduler error: %v", err)
		}
	}()

	sigCh := a.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[agent] shutting down...")
	cancel()
	return a.Shutdown()
}

// ingestLoop drains the observer bus into world state (and the archive).
// This is the only writer path observers have; they never read state back.
func (a *Agent) ingestLoop(ctx context.Context) {
	for {
		select {
		case ev := <-a.bus.Events():
			a.ingest(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) ingest(ctx context.Context, ev bus.Event) {
	switch {
	case ev.Message != nil:
		m := ev.Message
		if err := a.state.RecordMessage(m.Platform, m.ChannelID, m.Message); err != nil {
			log.Printf("[agent] record message warning: %v", err)
			return
		}
		metrics.ObservedMessages.WithLabelValues(string(m.Platform)).Inc()
		if a.archive != nil {
			saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := a.archive.SaveMessage(saveCtx, m.Platform, m.ChannelID, m.Message); err != nil {
				log.Printf("[agent] archive message warning: %v", err)
			}
			cancel()
		}
	case ev.RateLimit != nil:
		rl := ev.RateLimit
		a.state.UpdateRateLimit(rl.Platform, rl.Endpoint, rl.Status)
	}
}

// Shutdown stops components in reverse start order.
func (a *Agent) Shutdown() error {
	a.platforms.StopAll()
	a.stopStatus()
	a.closeArchive()
	log.Printf("[agent] shutdown complete")
	return nil
}

func (a *Agent) stopStatus() {
	if a.statusSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.statusSrv.Shutdown(ctx); err != nil {
		log.Printf("[agent] status server shutdown warning: %v", err)
	}
	a.statusSrv = nil
}

func (a *Agent) closeArchive() {
	if a.archive == nil {
		return
	}
	if err := a.archive.Close(); err != nil {
		log.Printf("[agent] close archive warning: %v", err)
	}
	a.archive = nil
}
