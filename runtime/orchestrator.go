package runtime

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// Orchestrator owns the lifecycle of a load-generation run: parsing the
// incoming config/flow pair, fanning out one goroutine per simulated
// user, and tearing them all down on Stop. Grounded on Python
// FlowRunner.start_generating/stop_generating/get_active_user_count, and
// structurally on runtime/app.go's cancellable-context shutdown pairing
// generalized from "one HTTP server" to "N user goroutines".
type Orchestrator struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  int
	metrics *Metrics
	log     *slog.Logger
}

// NewOrchestrator returns an idle Orchestrator logging through a default
// JSON logger to stdout, ready for Start.
func NewOrchestrator() *Orchestrator {
	return NewOrchestratorWithLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// NewOrchestratorWithLogger is like NewOrchestrator but threads logger
// through to every user simulator, matching the teacher's
// Executor{l *slog.Logger} field.
func NewOrchestratorWithLogger(logger *slog.Logger) *Orchestrator {
	return &Orchestrator{metrics: NewMetrics(), log: logger}
}

// Start validates the given config/flow pair and launches
// config.SimUsers goroutines, each running its own UserSimulator. It is
// a no-op (returning nil) if a run is already active — call Stop first
// to replace it.
func (o *Orchestrator) Start(rawConfig map[string]any, flowYAML []byte) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}

	cfg, err := LoadContainerConfig(rawConfig)
	if err != nil {
		o.mu.Unlock()
		o.log.Error("rejected start: invalid config", "error", err)
		return err
	}
	flow, err := LoadFlow(flowYAML)
	if err != nil {
		o.mu.Unlock()
		o.log.Error("rejected start: invalid flow", "error", err)
		return err
	}
	target, err := NewTargetConfig(cfg.FlowTargetURL, cfg.FlowTargetDNSOverride, cfg.OverrideStepURLHost)
	if err != nil {
		o.mu.Unlock()
		o.log.Error("rejected start: invalid target url", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.running = true
	o.active = cfg.SimUsers
	o.mu.Unlock()

	o.log.Info("starting run", "flow", flow.Name, "simUsers", cfg.SimUsers, "target", cfg.FlowTargetURL)

	for i := 0; i < cfg.SimUsers; i++ {
		sim := &UserSimulator{
			Flow:    flow,
			Config:  cfg,
			Target:  target,
			Metrics: o.metrics,
			Log:     o.log,
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			sim.Run(ctx)
		}()
	}

	return nil
}

// Stop cancels every running user goroutine, waits for them to exit, and
// resets the active-user counter to zero. It is idempotent and safe to
// call before any Start, matching Python FlowRunner.reset.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.mu.Unlock()

	cancel()
	o.wg.Wait()

	o.mu.Lock()
	o.active = 0
	o.mu.Unlock()

	o.log.Info("run stopped")
}

// ActiveUserCount reports how many user goroutines were launched by the
// current (or most recently stopped) run; Stop resets it to zero.
func (o *Orchestrator) ActiveUserCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// MetricsSnapshot reports the current rolling RPS and average flow
// duration alongside the active-user count.
func (o *Orchestrator) MetricsSnapshot() Snapshot {
	snap := o.metrics.Snapshot()
	snap.ActiveUsers = o.ActiveUserCount()
	return snap
}
