package transport

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-keyprobe/core"
)

// failure builds the go-errors envelope for a transport failure. Category and
// HTTP code follow from the probe text code.
func failure(source error, textCode string, message string, metadata map[string]any) error {
	category, status := goerrors.CategoryExternal, http.StatusBadGateway
	switch textCode {
	case core.ErrorBadInput:
		category, status = goerrors.CategoryBadInput, http.StatusBadRequest
	case core.ErrorInternal:
		category, status = goerrors.CategoryInternal, http.StatusInternalServerError
	case core.ErrorTimeout:
		status = http.StatusGatewayTimeout
	}

	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	err = err.WithCode(status).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(core.CloneMap(metadata))
	}
	return err
}
