package cli

import (
	"errors"
	"fmt"

	"github.com/xela07ax/podtato-smoke/internal/infra"
)

// Коды выхода. 99 и 105 совпадают с k6, чтобы CI-пайплайны не менять.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitThresholds    = 99
	ExitAborted       = 105
)

// ExitError несет код выхода до main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode выбирает код выхода для ошибки команды.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var cfgErr *infra.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitConfiguration
	}
	return ExitFailure
}

func configError(err error) error {
	return &ExitError{Code: ExitConfiguration, Err: err}
}

func configErrorf(format string, args ...interface{}) error {
	return configError(fmt.Errorf(format, args...))
}
