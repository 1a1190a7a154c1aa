package fail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	errs "github.com/jmgilman/go/errors"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// StatusClientClosedRequest is reported when the client went away
// before the response was ready. Nobody is left to read it.
const StatusClientClosedRequest = 499

// Fail renders a plain error message with the given status.
func Fail(c echo.Context, status int, format string, args ...interface{}) error {
	return Error(c, status, errs.New(codeForStatus(status), fmt.Sprintf(format, args...)))
}

// FailErr renders err with a status derived from its code.
func FailErr(c echo.Context, err error) error {
	return Error(c, StatusCode(err), err)
}

func Error(c echo.Context, status int, err error) error {
	if status == StatusClientClosedRequest {
		zap.L().Debug(err.Error())

		return c.NoContent(status)
	}

	if status >= http.StatusInternalServerError {
		zap.L().Error(err.Error())
	} else {
		zap.L().Warn(err.Error())
	}

	return c.JSON(status, errs.ToJSON(err))
}

// StatusCode maps an error to the HTTP status it should be reported with.
// Problems with the request or with the image source it references are
// the client's fault, problems with processing a valid image are ours.
func StatusCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return StatusClientClosedRequest
	}

	switch errs.GetCode(err) {
	case errs.CodeInvalidInput, errs.CodeNetwork, errs.CodeNotFound, errs.CodeTimeout:
		return http.StatusBadRequest
	case errs.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(status int) errs.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return errs.CodeInvalidInput
	case http.StatusForbidden:
		return errs.CodeForbidden
	case http.StatusNotFound:
		return errs.CodeNotFound
	default:
		return errs.CodeInternal
	}
}
