package deploy

import (
	"errors"
	"fmt"
)

// ExitFailure is the process status for fatal deployment errors.
const ExitFailure = -1

// ConfigurationError reports a source or destination directory that is not
// usable. It is raised before anything on disk is touched.
type ConfigurationError struct {
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// ExternalToolError reports an external command whose failure aborts the run.
type ExternalToolError struct {
	Step   string
	Result Result
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Step, e.Result.ExitCode)
	if e.Result.Err != nil {
		msg += fmt.Sprintf(": %v", e.Result.Err)
	}
	if out := e.Result.Trimmed(); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error {
	return e.Result.Err
}

// MinifyError carries the diagnostics of a rejected minification. It never
// escapes Run; the report records it instead.
type MinifyError struct {
	Size        int
	Diagnostics string
}

func (e *MinifyError) Error() string {
	return fmt.Sprintf("minified payload too small (%d bytes)", e.Size)
}

// ExitCode maps a Run error to a process status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var cfgErr *ConfigurationError
	var toolErr *ExternalToolError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &toolErr):
		return ExitFailure
	}
	return 1
}
