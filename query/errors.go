package query

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-keyprobe/core"
)

func queryDependencyError(message string) error {
	return core.NewError(message, goerrors.CategoryInternal, core.ErrorInternal)
}

func queryValidationError(field string, message string) error {
	return core.ScopedValidationError("query", field, message)
}
