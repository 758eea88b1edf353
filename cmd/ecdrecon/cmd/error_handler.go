package cmd

import (
	"ecd-reconciliation-service/pkg/errors"
)

// ExitCodeFor maps an error to the process exit code. Pipeline errors carry
// a category-specific code; anything else is a generic usage failure.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if summary, ok := err.(*errors.ErrorSummary); ok {
		return summary.GetExitCode()
	}
	if pe, ok := errors.AsPipelineError(err); ok {
		return pe.GetExitCode()
	}
	return 1
}
