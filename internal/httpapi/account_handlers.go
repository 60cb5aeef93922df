package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ussu1112/back-officener/internal/account"
)

type verifyRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type verifyResponse struct {
	VerifyCode string `json:"verifyCode"`
}

type confirmRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	VerifyCode  string `json:"verifyCode"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type loginResponse struct {
	UserInfo *account.LoginResult `json:"userInfo"`
}

type buildingsResponse struct {
	Buildings []account.BuildingWithCompanies `json:"buildings"`
}

// bindJSON decodes the body and writes the error response itself on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return false
		}
		writeError(c, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return false
	}
	return true
}

func (a *API) SearchBuildings(c *gin.Context) {
	buildings, err := a.accounts.SearchBuildings(c.Request.Context(), c.Query("keyword"))
	if err != nil {
		a.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildingsResponse{Buildings: buildings})
}

func (a *API) RequestVerification(c *gin.Context) {
	var req verifyRequest
	if !bindJSON(c, &req) {
		return
	}
	code, err := a.accounts.RequestPhoneVerification(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		a.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{VerifyCode: code})
}

func (a *API) ConfirmVerification(c *gin.Context) {
	var req confirmRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := a.accounts.ConfirmVerification(c.Request.Context(), req.PhoneNumber, req.VerifyCode); err != nil {
		a.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (a *API) SignUp(c *gin.Context) {
	var req account.SignUpRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := a.accounts.SignUp(c.Request.Context(), req)
	if err != nil {
		a.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, signUpResponse{ID: user.ID, Email: user.Email, Name: user.Name})
}

func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := a.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		a.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{UserInfo: res})
}

func (a *API) Logout(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	if err := a.accounts.Logout(c.Request.Context(), principal, c.GetHeader(authHeader)); err != nil {
		a.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
