package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/btcpayd/btcpayd/chain"
	"github.com/btcpayd/btcpayd/db"
	"github.com/btcpayd/btcpayd/db/models"
	"github.com/btcpayd/btcpayd/lib/responses"
	"github.com/btcpayd/btcpayd/lib/service"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	qrcode "github.com/skip2/go-qrcode"
)

// InvoiceController : Invoice controller struct
type InvoiceController struct {
	svc *service.PayService
}

func NewInvoiceController(svc *service.PayService) *InvoiceController {
	return &InvoiceController{svc: svc}
}

type Invoice struct {
	ID          string     `json:"id"`
	Address     string     `json:"address"`
	Amount      int64      `json:"amount"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

type AddInvoiceRequestBody struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description"`
	Expiry      int64  `json:"expiry" validate:"required,gt=0"` // in seconds
}

func invoiceResponse(invoice *models.Invoice) *Invoice {
	response := &Invoice{
		ID:          invoice.ID,
		Address:     invoice.Address,
		Amount:      invoice.Amount,
		Description: invoice.Description,
		Status:      invoice.Status,
		CreatedAt:   invoice.CreatedAt,
		ExpiresAt:   invoice.ExpiresAt,
	}
	if !invoice.SettledAt.IsZero() {
		response.SettledAt = &invoice.SettledAt.Time
	}
	return response
}

// AddInvoice godoc
// @Summary      Generate a new invoice
// @Description  Returns a new invoice with a freshly issued receiving address
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        invoice  body      AddInvoiceRequestBody  True  "Add Invoice"
// @Success      200      {object}  Invoice
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      500      {object}  responses.ErrorResponse
// @Router       /v2/invoices [post]
func (controller *InvoiceController) AddInvoice(c echo.Context) error {
	var body AddInvoiceRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	c.Logger().Infof("Adding invoice: amount:%v description:%s expiry:%v", body.Amount, body.Description, body.Expiry)

	invoice, err := controller.svc.CreateInvoice(c.Request().Context(), body.Amount, body.Description, body.Expiry)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
		}
		c.Logger().Errorf("Error creating invoice: %v", err)
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, responses.GeneralServerError)
	}

	return c.JSON(http.StatusOK, invoiceResponse(invoice))
}

// GetInvoice godoc
// @Summary      Retrieve an invoice
// @Description  Returns the stored invoice without consulting the chain
// @Produce      json
// @Tags         Invoice
// @Param        invoice_id  path      string  true  "Invoice ID"
// @Success      200         {object}  Invoice
// @Failure      404         {object}  responses.ErrorResponse
// @Router       /v2/invoices/{invoice_id} [get]
func (controller *InvoiceController) GetInvoice(c echo.Context) error {
	invoice, err := controller.svc.FindInvoice(c.Request().Context(), c.Param("invoice_id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, responses.InvoiceNotFoundError)
		}
		c.Logger().Errorf("Failed to find invoice: invoice_id:%s error: %v", c.Param("invoice_id"), err)
		return c.JSON(http.StatusInternalServerError, responses.GeneralServerError)
	}
	return c.JSON(http.StatusOK, invoiceResponse(invoice))
}

// CheckInvoice godoc
// @Summary      Check an invoice against the chain
// @Description  Reconciles the invoice with observed chain payments and returns its current status
// @Produce      json
// @Tags         Invoice
// @Param        invoice_id  path      string  true  "Invoice ID"
// @Success      200         {object}  Invoice
// @Failure      404         {object}  responses.ErrorResponse
// @Failure      502         {object}  responses.ErrorResponse
// @Router       /v2/invoices/{invoice_id}/check [get]
func (controller *InvoiceController) CheckInvoice(c echo.Context) error {
	invoice, err := controller.svc.CheckInvoice(c.Request().Context(), c.Param("invoice_id"))
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return c.JSON(http.StatusNotFound, responses.InvoiceNotFoundError)
		case errors.Is(err, chain.ErrUnavailable):
			c.Logger().Errorf("Chain backend unavailable: invoice_id:%s error: %v", c.Param("invoice_id"), err)
			return c.JSON(http.StatusBadGateway, responses.ChainUnavailableError)
		}
		c.Logger().Errorf("Failed to check invoice: invoice_id:%s error: %v", c.Param("invoice_id"), err)
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, responses.GeneralServerError)
	}
	return c.JSON(http.StatusOK, invoiceResponse(invoice))
}

// InvoiceQR godoc
// @Summary      Invoice QR code
// @Description  Returns a QR code image of the invoice payment URI
// @Produce      png
// @Tags         Invoice
// @Param        invoice_id  path  string  true  "Invoice ID"
// @Success      200  {file}    binary
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{invoice_id}/qr [get]
func (controller *InvoiceController) InvoiceQR(c echo.Context) error {
	invoice, err := controller.svc.FindInvoice(c.Request().Context(), c.Param("invoice_id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, responses.InvoiceNotFoundError)
		}
		return c.JSON(http.StatusInternalServerError, responses.GeneralServerError)
	}

	uri := fmt.Sprintf("bitcoin:%s?amount=%.8f", invoice.Address, float64(invoice.Amount)/1e8)
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		c.Logger().Errorf("Failed to encode invoice qr code: invoice_id:%s error: %v", invoice.ID, err)
		return c.JSON(http.StatusInternalServerError, responses.GeneralServerError)
	}
	return c.Blob(http.StatusOK, "image/png", png)
}
