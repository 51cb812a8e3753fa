package publish

import "fmt"

// Step names a stage of a publish run.
type Step string

const (
	StepValidate       Step = "validate"
	StepPreTransport   Step = "prepare settings"
	StepTransport      Step = "upload"
	StepStatus         Step = "deployment status"
	StepSettings       Step = "publish settings"
	StepDeferredDeploy Step = "zip deploy"
	StepSyncTriggers   Step = "sync triggers"
)

// StepError is a fatal error annotated with the step it stopped the run at.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
