package controllers

import (
	"errors"
	"net/http"

	"github.com/btcpayd/btcpayd/chain"
	"github.com/btcpayd/btcpayd/lib/responses"
	"github.com/btcpayd/btcpayd/lib/service"
	"github.com/btcpayd/btcpayd/signer"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

// TransactionController : Transaction controller struct
type TransactionController struct {
	svc *service.PayService
}

func NewTransactionController(svc *service.PayService) *TransactionController {
	return &TransactionController{svc: svc}
}

type SignAndBroadcastRequestBody struct {
	Inputs  []signer.UnsignedTxInput  `json:"inputs" validate:"required,min=1,dive"`
	Outputs []signer.UnsignedTxOutput `json:"outputs" validate:"required,min=1,dive"`
}

type SignAndBroadcastResponseBody struct {
	TxID string `json:"txid"`
}

// SignAndBroadcast godoc
// @Summary      Sign and broadcast a transaction
// @Description  Sends the transaction template to the hardware signer and broadcasts the approved result
// @Accept       json
// @Produce      json
// @Tags         Transaction
// @Param        SignAndBroadcastRequest  body      SignAndBroadcastRequestBody  True  "Transaction template"
// @Success      200                      {object}  SignAndBroadcastResponseBody
// @Failure      400                      {object}  responses.ErrorResponse
// @Failure      403                      {object}  responses.ErrorResponse
// @Failure      500                      {object}  responses.ErrorResponse
// @Failure      503                      {object}  responses.ErrorResponse
// @Router       /v2/transactions [post]
// @Security     OAuth2Password
func (controller *TransactionController) SignAndBroadcast(c echo.Context) error {
	reqBody := SignAndBroadcastRequestBody{}
	if err := c.Bind(&reqBody); err != nil {
		c.Logger().Errorf("Failed to load transaction request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if err := c.Validate(&reqBody); err != nil {
		c.Logger().Errorf("Invalid transaction request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	txReq := &signer.UnsignedTxRequest{
		Inputs:  reqBody.Inputs,
		Outputs: reqBody.Outputs,
	}
	txid, err := controller.svc.SignAndBroadcast(c.Request().Context(), txReq)
	if err != nil {
		c.Logger().Errorf("Failed to sign and broadcast: %v", err)
		switch {
		case errors.Is(err, signer.ErrInvalidRequest):
			return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
		case errors.Is(err, signer.ErrDeviceBusy):
			return c.JSON(http.StatusServiceUnavailable, responses.DeviceBusyError)
		case errors.Is(err, signer.ErrDeviceNotFound),
			errors.Is(err, signer.ErrNotConnected),
			errors.Is(err, signer.ErrBridgeUnavailable):
			return c.JSON(http.StatusServiceUnavailable, responses.DeviceNotFoundError)
		case errors.Is(err, signer.ErrSigningRefused):
			return c.JSON(http.StatusForbidden, responses.SigningRefusedError)
		case errors.Is(err, signer.ErrTxRejected):
			return c.JSON(http.StatusBadRequest, responses.TxRejectedError)
		case errors.Is(err, chain.ErrBroadcastRejected):
			return c.JSON(http.StatusBadRequest, responses.BroadcastRejectedError)
		case errors.Is(err, chain.ErrUnavailable):
			return c.JSON(http.StatusBadGateway, responses.ChainUnavailableError)
		case errors.Is(err, signer.ErrIntegrityViolation):
			// a signed result that does not match the template is an incident
			if hub := sentryecho.GetHubFromContext(c); hub != nil {
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetLevel(sentry.LevelFatal)
					hub.CaptureException(err)
				})
			}
			return c.JSON(http.StatusInternalServerError, responses.IntegrityViolationError)
		}
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, responses.GeneralServerError)
	}

	return c.JSON(http.StatusOK, &SignAndBroadcastResponseBody{TxID: txid})
}
