package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jzilic1991/vermon-edge/internal/bridge"
	"github.com/jzilic1991/vermon-edge/internal/config"
	"github.com/jzilic1991/vermon-edge/internal/events"
	"github.com/jzilic1991/vermon-edge/internal/forward"
	"github.com/jzilic1991/vermon-edge/internal/metrics"
	"github.com/jzilic1991/vermon-edge/internal/session"
	"github.com/jzilic1991/vermon-edge/internal/trace"
	"github.com/jzilic1991/vermon-edge/internal/verifier"
	"github.com/jzilic1991/vermon-edge/internal/violations"
)

// Core bundles the verification pipeline of one gateway instance. Every
// handler and adapter receives it explicitly; there are no package-level
// singletons.
type Core struct {
	Cfg  *config.Config
	Mode config.Mode

	Pool     *verifier.Pool
	Pre      *trace.Preprocessor
	Store    *metrics.Store
	Sessions *session.Tracker
	Book     *violations.Bookkeeper
	Bus      *events.Bus
	Hub      *events.Hub
	Prom     *metrics.Prometheus
	Registry *prometheus.Registry

	Forwarder *forward.Forwarder
	Bridge    *bridge.Bridge
	ReqState  *bridge.RequirementState

	host int
}

// NewCore builds the pipeline for the given mode. Missing spec files or an
// unreadable verifier configuration abort startup.
func NewCore(cfg *config.Config, mode config.Mode) (*Core, error) {
	names, err := config.LoadVerifierNames(cfg.Verifier.ConfigFile)
	if err != nil {
		return nil, err
	}

	pool, err := verifier.NewPool(names, verifier.WorkerOptions{
		SpecDir:     cfg.SpecDir(mode),
		BinaryPath:  cfg.Verifier.BinaryPath,
		ReadTimeout: time.Duration(cfg.Verifier.ReadTimeoutMs) * time.Millisecond,
		QueueSize:   cfg.Verifier.QueueSize,
		DrainGrace:  time.Duration(cfg.Verifier.DrainGraceSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()

	c := &Core{
		Cfg:      cfg,
		Mode:     mode,
		Pool:     pool,
		Pre:      trace.NewPreprocessor(time.Duration(cfg.Preprocessor.CacheTTLSec) * time.Second),
		Book:     violations.NewBookkeeper(names, cfg.Metrics.PrintEvery),
		Bus:      events.NewBus(),
		Hub:      events.NewHub(),
		Prom:     metrics.NewPrometheus(registry),
		Registry: registry,
		host:     1,
	}

	c.Sessions = session.NewTracker(
		cfg.Session.CookieName,
		time.Duration(cfg.Session.TTLSec)*time.Second,
		time.Duration(cfg.Session.SweepSec)*time.Second,
	)

	if mode == config.ModeObjective {
		paths, err := config.LoadServicePaths(cfg.Server.ServicePathsFile, cfg.Server.ServiceDomain)
		if err != nil {
			return nil, err
		}

		serviceKeys := make([]string, 0, len(paths))
		for key := range paths {
			serviceKeys = append(serviceKeys, key)
		}
		c.Store = metrics.NewStore(serviceKeys, cfg.Metrics.RingSize, cfg.Metrics.PrintEvery)
		c.Store.SetPrometheus(c.Prom)

		c.Forwarder = forward.New(paths, c.Store, c.Sessions,
			time.Duration(cfg.Server.ForwardTimeoutSec)*time.Second, cfg.Session.DefaultUser)
		c.Forwarder.SetSinks(c.ProcessEvent, c.ObserveResponseTime)

		c.Bridge = bridge.New(cfg.Server.ReqVerifierHost, cfg.Requirements.Mapping)
		pool.Subscribe(c.Bridge.HandleVerdict)
	} else {
		c.Store = metrics.NewStore(nil, cfg.Metrics.RingSize, cfg.Metrics.PrintEvery)
		c.ReqState = bridge.NewRequirementState(cfg.Requirements.Mapping)
	}

	pool.Subscribe(c.onVerdict)

	return c, nil
}

// ProcessEvent runs one semantic event through the preprocessor and
// dispatches the produced facts to their interested verifiers.
func (c *Core) ProcessEvent(ev trace.Event) {
	if !trace.KnownEventType(ev.Type) {
		c.Prom.IgnoredEvents.Inc()
	}

	batch := c.Pre.Transform(ev)
	for target, lines := range batch {
		for _, line := range lines {
			c.Submit(line, []string{target})
		}
	}
}

// Submit routes one fact line through the pool.
func (c *Core) Submit(fact string, targets []string) map[string]verifier.Verdict {
	slog.Debug("Evaluating trace", "fact", fact, "targets", targets)
	return c.Pool.Evaluate(fact, targets)
}

// ObserveResponseTime feeds one proxied response time to the response-time
// objective verifier.
func (c *Core) ObserveResponseTime(ms float64) {
	if !c.Pool.Has(verifier.ObjResponse) {
		return
	}
	fact := trace.Frame(time.Now().Unix(),
		fmt.Sprintf("%s(%d, %.3f)", verifier.PatternResponseTime, c.host, ms))
	c.Submit(fact, []string{verifier.ObjResponse})
}

// onVerdict is the pool listener handling bookkeeping and event fan-out.
func (c *Core) onVerdict(v verifier.Verdict, transition bool) {
	c.Prom.CountVerdict(v.Verifier, v.Outcome.String())
	c.Bus.Emit(events.TypeVerdict, v.Verifier, v.Outcome.String(), transition)

	if transition {
		c.Prom.CountTransition(v.Verifier)
		c.Bus.Emit(events.TypeTransition, v.Verifier, v.Outcome.String(), true)
	}

	if v.Outcome == verifier.Violated {
		c.Book.Record(v.Verifier, v.At)
		c.Prom.CountViolation(v.Verifier)
		c.Bus.Emit(events.TypeViolation, v.Verifier, v.Outcome.String(), transition)
		c.Prom.WorkersFailed.Set(float64(c.Pool.FailedWorkers()))
	}
}

// Close tears the pipeline down: workers drain their queues, children get
// EOF and a bounded grace period.
func (c *Core) Close() {
	c.Pool.Close()
}
