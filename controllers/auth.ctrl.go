package controllers

import (
	"net/http"

	"github.com/btcpayd/btcpayd/lib/responses"
	"github.com/btcpayd/btcpayd/lib/service"
	"github.com/labstack/echo/v4"
)

// AuthController : AuthController struct
type AuthController struct {
	svc *service.PayService
}

func NewAuthController(svc *service.PayService) *AuthController {
	return &AuthController{
		svc: svc,
	}
}

type AuthRequestBody struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}
type AuthResponseBody struct {
	AccessToken string `json:"access_token"`
}

// Auth godoc
// @Summary      Authenticate
// @Description  Exchanges the operator login and password for an access token
// @Accept       json
// @Produce      json
// @Tags         Auth
// @Param        AuthRequest  body      AuthRequestBody  True  "Credentials"
// @Success      200          {object}  AuthResponseBody
// @Failure      400          {object}  responses.ErrorResponse
// @Failure      401          {object}  responses.ErrorResponse
// @Router       /auth [post]
func (controller *AuthController) Auth(c echo.Context) error {

	var body AuthRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load auth request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if body.Login == "" || body.Password == "" {
		// To support Swagger we also look in the Form data
		params, err := c.FormParams()
		if err != nil {
			return err
		}
		username := params.Get("username")
		password := params.Get("password")
		if username != "" && password != "" {
			body.Login = username
			body.Password = password
		}
	}

	accessToken, err := controller.svc.GenerateToken(body.Login, body.Password)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, responses.BadAuthError)
	}

	return c.JSON(http.StatusOK, &AuthResponseBody{
		AccessToken: accessToken,
	})
}
