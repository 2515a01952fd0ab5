package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library_service/pkg/accounts"
	"library_service/pkg/apperrors"
	"library_service/pkg/auth"
	"library_service/pkg/models"
)

type registerRequest struct {
	FirstName string `json:"firstName" binding:"required,max=80"`
	LastName  string `json:"lastName" binding:"required,max=80"`
	Email     string `json:"email" binding:"required,email"`
	Phone     string `json:"phone" binding:"required,max=32"`
	Address   string `json:"address" binding:"max=255"`
	Password  string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	patron, err := h.Accounts.RegisterPatron(c.Request.Context(), accounts.RegisterPatronInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Address:   req.Address,
		Password:  req.Password,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, patronJSON(patron))
}

func (h *Handler) loginPatron(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	token, patron, err := h.Accounts.LoginPatron(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.tokenBody(token, patronJSON(patron)))
}

func (h *Handler) loginStaff(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	token, staff, err := h.Accounts.LoginStaff(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.tokenBody(token, staffJSON(staff)))
}

func (h *Handler) tokenBody(token string, account gin.H) gin.H {
	return gin.H{
		"token":     token,
		"tokenType": "Bearer",
		"expiresIn": int64(h.Tokens.TTL().Seconds()),
		"account":   account,
	}
}

// verifyToken lives on the public /auth surface, so it reads the header itself.
func (h *Handler) verifyToken(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.Error(apperrors.AuthenticationFailed("missing or malformed Authorization header", nil))
		return
	}
	identity, err := h.Accounts.Verify(token)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "email": identity.Email, "role": identity.Role})
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	identity, _ := auth.IdentityFrom(c)
	if err := h.Accounts.ChangePassword(c.Request.Context(), identity, req.CurrentPassword, req.NewPassword); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) me(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)
	if identity.Role == models.RoleUser {
		patron, err := h.Accounts.PatronByEmail(c.Request.Context(), identity.Email)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, patronJSON(patron))
		return
	}
	staff, err := h.Accounts.StaffByEmail(c.Request.Context(), identity.Email)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, staffJSON(staff))
}
