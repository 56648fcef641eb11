package transport

import (
	"github.com/btcpayd/btcpayd/controllers"
	"github.com/btcpayd/btcpayd/lib/service"
	"github.com/labstack/echo/v4"
)

func RegisterEndpoints(svc *service.PayService, e *echo.Echo, securedWithStrictRateLimit *echo.Group, strictRateLimitMiddleware echo.MiddlewareFunc, adminMw echo.MiddlewareFunc, logMw echo.MiddlewareFunc) {
	e.POST("/auth", controllers.NewAuthController(svc).Auth, strictRateLimitMiddleware, logMw)
	//require admin token for the key import endpoint
	if svc.Config.AdminToken != "" {
		e.POST("/v2/admin/keys", controllers.NewAdminController(svc).ImportKey, strictRateLimitMiddleware, adminMw)
	}
	e.GET("/health", controllers.NewHealthController().Health)
	e.GET("/v2/info", controllers.NewInfoController(svc).Info, CreateCacheClient().Middleware())

	invoiceCtrl := controllers.NewInvoiceController(svc)
	e.POST("/v2/invoices", invoiceCtrl.AddInvoice, logMw)
	e.GET("/v2/invoices/:invoice_id", invoiceCtrl.GetInvoice)
	e.GET("/v2/invoices/:invoice_id/check", invoiceCtrl.CheckInvoice)
	e.GET("/v2/invoices/:invoice_id/qr", invoiceCtrl.InvoiceQR, CreateCacheClient().Middleware())

	securedWithStrictRateLimit.POST("/v2/transactions", controllers.NewTransactionController(svc).SignAndBroadcast)
}
