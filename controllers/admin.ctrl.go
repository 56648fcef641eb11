package controllers

import (
	"errors"
	"net/http"

	"github.com/btcpayd/btcpayd/lib/responses"
	"github.com/btcpayd/btcpayd/lib/service"
	"github.com/btcpayd/btcpayd/signer"
	"github.com/labstack/echo/v4"
)

// AdminController : AdminController struct
type AdminController struct {
	svc *service.PayService
}

func NewAdminController(svc *service.PayService) *AdminController {
	return &AdminController{svc: svc}
}

type ImportKeyRequestBody struct {
	WIF string `json:"wif" validate:"required"`
}

type ImportKeyResponseBody struct {
	Result string `json:"result"`
}

// ImportKey godoc
// @Summary      Import a private key
// @Description  Hands an externally generated key to the signing device for custody
// @Accept       json
// @Produce      json
// @Tags         Admin
// @Param        ImportKeyRequest  body      ImportKeyRequestBody  True  "Key to import"
// @Success      200               {object}  ImportKeyResponseBody
// @Failure      400               {object}  responses.ErrorResponse
// @Failure      503               {object}  responses.ErrorResponse
// @Router       /v2/admin/keys [post]
func (controller *AdminController) ImportKey(c echo.Context) error {
	var body ImportKeyRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load import key request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if err := controller.svc.Signer.StoreKey(c.Request().Context(), body.WIF); err != nil {
		c.Logger().Errorf("Failed to import key: %v", err)
		switch {
		case errors.Is(err, signer.ErrInvalidRequest):
			return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
		case errors.Is(err, signer.ErrNotConnected),
			errors.Is(err, signer.ErrBridgeUnavailable):
			return c.JSON(http.StatusServiceUnavailable, responses.DeviceNotFoundError)
		}
		return c.JSON(http.StatusInternalServerError, responses.GeneralServerError)
	}

	return c.JSON(http.StatusOK, &ImportKeyResponseBody{Result: "OK"})
}
