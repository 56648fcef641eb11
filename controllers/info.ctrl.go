package controllers

import (
	"net/http"

	"github.com/btcpayd/btcpayd/lib/service"
	"github.com/labstack/echo/v4"
)

// InfoController : InfoController struct
type InfoController struct {
	svc *service.PayService
}

func NewInfoController(svc *service.PayService) *InfoController {
	return &InfoController{svc: svc}
}

type InfoResponse struct {
	Network               string `json:"network"`
	ConfirmationThreshold int64  `json:"confirmation_threshold"`
	InvoicePollInterval   int    `json:"invoice_poll_interval"` // in seconds
}

// Info godoc
// @Summary      Server information
// @Description  Returns the network and settlement policy the server runs with
// @Produce      json
// @Tags         System
// @Success      200  {object}  InfoResponse
// @Router       /v2/info [get]
func (controller *InfoController) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, &InfoResponse{
		Network:               controller.svc.Config.Network,
		ConfirmationThreshold: controller.svc.Config.ConfirmationThreshold,
		InvoicePollInterval:   controller.svc.Config.InvoicePollInterval,
	})
}
