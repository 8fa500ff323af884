package runtime

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-resty/resty/v2"
	yaml "gopkg.in/yaml.v3"
)

// Interpreter walks a sequence of raw step nodes, dispatching each to the
// request executor or branching into condition/loop bodies. It carries
// everything a RequestStep needs to reach the network, so a loop or
// condition body can recurse into ExecuteSteps without threading those
// dependencies through every call site.
type Interpreter struct {
	Client     *resty.Client
	Target     TargetConfig
	Metrics    *Metrics
	MinSleepMs int
	MaxSleepMs int
}

// ExecuteSteps runs steps in order against flowCtx. It stops as soon as
// ctx is cancelled or flowCtx already carries a flow_error — either from
// a prior step in this same sequence or, for the top-level call, from an
// inner branch that propagated one back.
func (in *Interpreter) ExecuteSteps(ctx context.Context, steps []yaml.Node, flowCtx map[string]any, carryHeaders map[string]string) {
	for i, node := range steps {
		if ctx.Err() != nil || HasFlowError(flowCtx) {
			return
		}

		if i > 0 {
			in.sleepBetweenSteps(ctx)
			if ctx.Err() != nil || HasFlowError(flowCtx) {
				return
			}
		}

		decoded, err := DecodeStep(node)
		if err != nil {
			SetFlowError(flowCtx, "", err.Error(), 0)
			return
		}

		switch s := decoded.(type) {
		case *RequestStep:
			outcome := ExecuteRequestStep(ctx, in.Client, s, flowCtx, carryHeaders, in.Target, in.Metrics)
			if outcome.Status >= 300 && s.OnFailure == "stop" {
				SetFlowError(flowCtx, s.ID, fmt.Sprintf("request failed with status %d", outcome.Status), outcome.Status)
				return
			}
		case *ConditionStep:
			in.executeCondition(ctx, s, flowCtx, carryHeaders)
			if HasFlowError(flowCtx) {
				return
			}
		case *LoopStep:
			in.executeLoop(ctx, s, flowCtx, carryHeaders)
			if HasFlowError(flowCtx) {
				return
			}
		}
	}
}

func (in *Interpreter) executeCondition(ctx context.Context, s *ConditionStep, flowCtx map[string]any, carryHeaders map[string]string) {
	var branchTrue bool
	switch {
	case s.HasStructuredCondition():
		branchTrue = EvaluateCondition(*s.ConditionData, flowCtx)
	case s.Condition != nil:
		branchTrue = EvaluateLegacyCondition(*s.Condition, flowCtx)
	}

	chosen := s.Else
	if branchTrue {
		chosen = s.Then
	}
	in.ExecuteSteps(ctx, chosen, flowCtx, carryHeaders)
}

// executeLoop iterates the array at s.Source, running s.Steps once per
// element in an isolated deep copy of flowCtx. Only a flow_error raised
// inside an iteration propagates back to the outer context; all other
// variable writes stay local to that iteration, matching the original's
// per-iteration context isolation.
func (in *Interpreter) executeLoop(ctx context.Context, s *LoopStep, flowCtx map[string]any, carryHeaders map[string]string) {
	sourceVal := Get(flowCtx, s.Source)
	items, ok := sourceVal.([]any)
	if !ok {
		return
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		iterCtx := deepCopyValue(flowCtx).(map[string]any)
		iterCtx[s.LoopVariable] = item

		in.ExecuteSteps(ctx, s.Steps, iterCtx, carryHeaders)

		if HasFlowError(iterCtx) {
			flowCtx[flowErrorKey] = iterCtx[flowErrorKey]
			return
		}
	}
}

func (in *Interpreter) sleepBetweenSteps(ctx context.Context) {
	delay := randomDelay(in.MinSleepMs, in.MaxSleepMs)
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func randomDelay(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	span := maxMs - minMs
	return time.Duration(minMs+rand.Intn(span)) * time.Millisecond
}

// deepCopyValue recursively copies maps/slices so a loop iteration can
// mutate its own context without affecting the outer one.
func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopyValue(val)
		}
		return out
	default:
		return v
	}
}
