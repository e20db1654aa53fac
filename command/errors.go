package command

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-keyprobe/core"
)

func commandDependencyError(message string) error {
	return core.NewError(message, goerrors.CategoryInternal, core.ErrorInternal)
}

func commandValidationError(field string, message string) error {
	return core.ScopedValidationError("command", field, message)
}

// commandWrapValidation passes validation errors through and rewraps
// anything else as bad_input.
func commandWrapValidation(err error, message string) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Category == goerrors.CategoryValidation {
		return err
	}
	return core.WrapError(err, goerrors.CategoryValidation, core.ErrorBadInput, message)
}
