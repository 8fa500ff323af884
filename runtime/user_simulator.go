package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// IterationHook is called at the start of every flow iteration after the
// first, letting a caller inject per-iteration setup (e.g. seeding a
// counter into staticVars) without the simulator knowing the details.
type IterationHook func(iteration int, ctx map[string]any)

// UserSimulator drives one simulated user's lifecycle: repeated flow
// iterations over a shared resty client, each with a freshly rotated
// identity and an isolated context, until the run is stopped. Grounded
// on Python's simulate_user_lifecycle.
type UserSimulator struct {
	Flow             *FlowMap
	Config           *ContainerConfig
	Target           TargetConfig
	Metrics          *Metrics
	RunOnce          bool
	OnIterationStart IterationHook
	Log              *slog.Logger
}

// Run executes flow iterations until ctx is cancelled. It is meant to be
// called as its own goroutine by the Orchestrator, one per simulated
// user.
func (u *UserSimulator) Run(ctx context.Context) {
	client := resty.New().
		SetTimeout(60 * time.Second)

	interp := &Interpreter{
		Client:     client,
		Target:     u.Target,
		Metrics:    u.Metrics,
		MinSleepMs: u.Config.MinSleepMs,
		MaxSleepMs: u.Config.MaxSleepMs,
	}

	iteration := 0
	for {
		if ctx.Err() != nil {
			return
		}
		iteration++

		flowCtx := u.buildIterationContext(iteration)
		if iteration > 1 && u.OnIterationStart != nil {
			safeRunHook(u.OnIterationStart, iteration, flowCtx)
		}

		carryHeaders := u.buildCarryHeaders(flowCtx)

		start := time.Now()
		interp.ExecuteSteps(ctx, u.Flow.Steps, flowCtx, carryHeaders)
		duration := time.Since(start)

		if !HasFlowError(flowCtx) && ctx.Err() == nil {
			u.Metrics.RecordFlowDuration(duration)
		} else if HasFlowError(flowCtx) && u.Log != nil {
			u.Log.Warn("flow iteration halted", "flow", u.Flow.Name, "iteration", iteration, "flowError", flowCtx[flowErrorKey])
		}

		if u.RunOnce {
			return
		}
		if !u.sleepBetweenIterations(ctx) {
			return
		}
	}
}

func safeRunHook(hook IterationHook, iteration int, ctx map[string]any) {
	defer func() { recover() }()
	hook(iteration, ctx)
}

func (u *UserSimulator) buildIterationContext(iteration int) map[string]any {
	ctx := map[string]any{
		"userId":             uuid.NewString(),
		"flowInstance":       iteration,
		"flowStartTimeEpoch": float64(time.Now().UnixNano()) / 1e9,
	}
	for k, v := range deepCopyValue(any(u.Flow.StaticVars)).(map[string]any) {
		ctx[k] = v
	}
	return ctx
}

func (u *UserSimulator) buildCarryHeaders(ctx map[string]any) map[string]string {
	identity := GenerateIdentity()
	ctx["userFakeIp"] = identity.IP

	headers := make(map[string]string, len(identity.Headers)+len(u.Flow.Headers)+2)
	for k, v := range identity.Headers {
		headers[k] = v
	}
	headers["User-Agent"] = identity.UserAgent
	if u.Config.XFFHeaderName != "" {
		headers[u.Config.XFFHeaderName] = identity.IP
	}

	flowHeaders := Interpolate(anyStringMap(u.Flow.Headers), ctx)
	if m, ok := flowHeaders.(map[string]any); ok {
		for k, v := range m {
			headers[k] = stringify(v)
		}
	}
	return headers
}

// sleepBetweenIterations waits the configured inter-flow delay and
// reports whether the user should keep running (false means ctx was
// cancelled during the wait).
func (u *UserSimulator) sleepBetweenIterations(ctx context.Context) bool {
	var delay time.Duration
	if u.Config.FlowCycleDelayMs != nil {
		ms := *u.Config.FlowCycleDelayMs
		if ms < 1 {
			ms = 1
		}
		delay = time.Duration(ms) * time.Millisecond
	} else {
		delay = randomDelay(u.Config.MinSleepMs, u.Config.MaxSleepMs)
		if delay < time.Millisecond {
			delay = time.Millisecond
		}
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
