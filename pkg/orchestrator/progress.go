package orchestrator

// Step is the progress event vocabulary. Front-ends must treat unknown steps
// as informational rather than failing.
type Step string

const (
	StepStart       Step = "start"
	StepInstalled   Step = "installed"
	StepUninstalled Step = "uninstalled"
	StepService     Step = "service"
	StepSkipped     Step = "skipped"
	StepError       Step = "error"
	StepDone        Step = "done"
	StepRetry       Step = "retry"
)

// ProgressFunc receives step-level progress during a run. Component may be
// empty for run-scoped events. Callbacks run synchronously on the
// orchestration goroutine; a slow callback slows the run.
type ProgressFunc func(step Step, component string, meta map[string]any)

func (o *Orchestrator) emit(step Step, component string, meta map[string]any) {
	if o.progress == nil {
		return
	}
	o.progress(step, component, meta)
}
