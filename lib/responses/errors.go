package responses

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	HttpStatusCode int    `json:"-"`
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: 500,
}

var BadArgumentsError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Bad arguments",
	HttpStatusCode: 400,
}

var BadAuthError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "bad auth",
	HttpStatusCode: 401,
}

var InvoiceNotFoundError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "invoice not found",
	HttpStatusCode: 404,
}

var ChainUnavailableError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "chain provider unavailable. Please try again later",
	HttpStatusCode: 502,
}

var DeviceNotFoundError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "no signing device available",
	HttpStatusCode: 503,
}

var DeviceBusyError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "signing device busy. Please try again later",
	HttpStatusCode: 503,
}

var SigningRefusedError = ErrorResponse{
	Error:          true,
	Code:           5,
	Message:        "signing refused on the device",
	HttpStatusCode: 403,
}

var TxRejectedError = ErrorResponse{
	Error:          true,
	Code:           5,
	Message:        "transaction rejected by device policy",
	HttpStatusCode: 400,
}

var IntegrityViolationError = ErrorResponse{
	Error:          true,
	Code:           7,
	Message:        "signed transaction did not match the request. Nothing was broadcast",
	HttpStatusCode: 500,
}

var BroadcastRejectedError = ErrorResponse{
	Error:          true,
	Code:           9,
	Message:        "transaction rejected by the network",
	HttpStatusCode: 400,
}

func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	c.Logger().Error(err)
	if hub := sentryecho.GetHubFromContext(c); hub != nil && isErrAllowedForSentry(err) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("Login", c.Get("Login"))
			hub.CaptureException(err)
		})
	}
	if he, ok := err.(*echo.HTTPError); ok {
		c.JSON(he.Code, he.Message)
	} else {
		c.JSON(http.StatusInternalServerError, GeneralServerError)
	}
}

// auth failures are request noise, not exceptions worth tracking
func isErrAllowedForSentry(err error) bool {
	he, ok := err.(*echo.HTTPError)
	if !ok {
		return true
	}
	m, ok := he.Message.(echo.Map)
	if !ok {
		return true
	}
	return m["message"] != BadAuthError.Message
}
