package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsforge/opsforge/pkg/components"
	"github.com/opsforge/opsforge/pkg/services"
	"github.com/opsforge/opsforge/pkg/state"
)

// UninstallRequest carries one rollback run's parameters.
type UninstallRequest struct {
	PreserveData bool
	DryRun       bool
	Elevate      bool

	// Filter limits rollback to these components; empty means all. Filtered
	// components also get a courtesy service stop before the log is read.
	Filter []components.Component
}

// RollbackOutcome is the per-action result of one uninstall attempt.
type RollbackOutcome struct {
	Component string         `json:"component"`
	Attempted string         `json:"attempted"`
	Outcome   map[string]any `json:"outcome,omitempty"`
	Removed   bool           `json:"removed_from_log"`
}

// UninstallResult is the aggregate outcome of UninstallAll.
type UninstallResult struct {
	Status   string            `json:"status"`
	RunID    string            `json:"run_id"`
	Outcomes []RollbackOutcome `json:"results"`
	Errors   []string          `json:"errors,omitempty"`

	// Remaining counts actions still in the log after this run. Non-zero
	// with status "ok" means the rollback is incomplete; retry it.
	Remaining int `json:"remaining"`
}

// UninstallAll rolls back recorded actions in strict reverse insertion
// order. Failed actions stay in the log so a retry re-attempts exactly the
// unresolved ones. A partial failure is not fatal: the call still returns
// "ok" with a non-zero Remaining.
func (o *Orchestrator) UninstallAll(ctx context.Context, req UninstallRequest) UninstallResult {
	runID := uuid.NewString()
	started := time.Now()
	log := o.log.WithRunID(runID)

	o.metrics.RecordRunStarted("uninstall")
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartRunSpan(ctx, runID, "uninstall")
		defer span.End()
	}
	o.journalBegin(ctx, runID, "uninstall", "")

	out := UninstallResult{Status: "ok", RunID: runID}
	finish := func() UninstallResult {
		o.emit(StepDone, "", map[string]any{"status": out.Status, "remaining": out.Remaining})
		o.metrics.RecordRunCompleted("uninstall", out.Status, time.Since(started))
		o.metrics.SetRollbackRemaining(float64(out.Remaining))
		o.journalFinish(ctx, runID, out.Status, firstError(out.Errors))
		return out
	}

	if req.Elevate && !req.DryRun && !o.host.Privileged {
		if err := o.elevator(ctx); err != nil {
			out.Status = "error"
			out.Errors = append(out.Errors, fmt.Sprintf("elevation failed: %v", err))
			return finish()
		}
		o.host.Privileged = true
	}

	// Courtesy stop for explicitly-filtered components. Failure is
	// reported through progress but never fatal.
	if !req.DryRun {
		for _, comp := range req.Filter {
			o.stopCourtesy(ctx, comp)
		}
	}

	st, err := o.store.Read()
	if err != nil {
		out.Status = "error"
		out.Errors = append(out.Errors, fmt.Sprintf("read action log: %v", err))
		return finish()
	}
	if len(st.Actions) == 0 {
		out.Status = "no-actions"
		log.Info("no recorded actions to roll back")
		return finish()
	}

	filter := map[components.Component]bool{}
	for _, c := range req.Filter {
		filter[c] = true
	}

	removed := make([]bool, len(st.Actions))
	for i := len(st.Actions) - 1; i >= 0; i-- {
		action := st.Actions[i]
		comp := components.Component(action.Component)
		if len(filter) > 0 && !filter[comp] {
			continue
		}
		if ctx.Err() != nil {
			out.Errors = append(out.Errors, "canceled: "+ctx.Err().Error())
			break
		}

		outcome := o.rollbackOne(ctx, runID, action, req)
		if outcome.Removed {
			removed[i] = true
		}
		out.Outcomes = append(out.Outcomes, outcome)
	}

	// Remaining actions keep their original insertion order.
	var left []state.Action
	for i, a := range st.Actions {
		if !removed[i] {
			left = append(left, a)
		}
	}
	out.Remaining = len(left)

	if req.DryRun {
		// Pinned behavior: a dry run clears the persisted store even though
		// nothing was undone. Flag-worthy, but callers depend on it.
		if err := o.store.ClearAll(); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("clear action log: %v", err))
		}
	} else {
		st.Actions = left
		if err := o.store.Write(st); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("persist action log: %v", err))
		}
		if out.Remaining > 0 {
			o.emit(StepRetry, "", map[string]any{"remaining": out.Remaining})
			log.Warnf("rollback incomplete: %d actions remain", out.Remaining)
		}
	}

	return finish()
}

// rollbackOne attempts to undo a single recorded action.
func (o *Orchestrator) rollbackOne(ctx context.Context, runID string, action state.Action, req UninstallRequest) RollbackOutcome {
	comp := components.Component(action.Component)
	o.emit(StepStart, action.Component, nil)
	o.journalEvent(ctx, runID, string(StepStart), action.Component, nil)
	started := time.Now()

	if req.DryRun {
		outcome := RollbackOutcome{
			Component: action.Component,
			Attempted: "dry-run",
			Outcome:   map[string]any{"dry_run": true},
		}
		o.emit(StepUninstalled, action.Component, outcome.Outcome)
		return outcome
	}

	var res components.Result
	switch {
	case comp == components.App:
		res = o.stopApp(ctx)
	default:
		driver, ok := o.reg[comp]
		if !ok {
			res = components.Result{Error: fmt.Sprintf("no driver for component %q", comp)}
		} else {
			res = driver.Uninstall(ctx, components.UninstallOptions{
				PreserveData: req.PreserveData,
				Target:       metaPath(action.Meta),
			})
		}
	}

	meta := res.Meta()
	o.emit(StepUninstalled, action.Component, meta)
	o.journalEvent(ctx, runID, string(StepUninstalled), action.Component, meta)

	status := "ok"
	removed := res.Succeeded()
	if !removed {
		status = "error"
		o.metrics.RecordError(action.Component)
		o.emit(StepError, action.Component, meta)
	}
	o.metrics.RecordComponentOp(action.Component, "uninstall", status, time.Since(started))
	o.metrics.RecordRollbackAction(action.Component, status)

	return RollbackOutcome{
		Component: action.Component,
		Attempted: "uninstall",
		Outcome:   meta,
		Removed:   removed,
	}
}

// stopApp undoes the auto-start action: stop and disable the panel unit.
func (o *Orchestrator) stopApp(ctx context.Context) components.Result {
	name := services.NameFor(string(components.App), o.host.OSFamily)
	if name == "" || o.svc == nil {
		return components.Result{Error: "no service mapped for app"}
	}
	st := o.svc.Stop(ctx, name)
	dis := o.svc.Disable(ctx, name)
	if !st.OK {
		return components.Result{Error: st.Error, Service: name}
	}
	return components.Result{Stopped: true, Disabled: dis.OK, Service: name}
}

func (o *Orchestrator) stopCourtesy(ctx context.Context, comp components.Component) {
	name := services.NameFor(string(comp), o.host.OSFamily)
	if name == "" || o.svc == nil {
		return
	}
	res := o.svc.Stop(ctx, name)
	o.emit(StepService, string(comp), map[string]any{"service": name, "stopped": res.OK})
}

func metaPath(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if p, ok := meta["path"].(string); ok {
		return p
	}
	return ""
}
