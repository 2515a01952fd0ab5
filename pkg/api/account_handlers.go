package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library_service/pkg/accounts"
	"library_service/pkg/apperrors"
	"library_service/pkg/models"
)

type statusRequest struct {
	Status models.AccountStatus `json:"status" binding:"required"`
}

type staffRequest struct {
	FirstName string      `json:"firstName" binding:"required,max=80"`
	LastName  string      `json:"lastName" binding:"required,max=80"`
	Email     string      `json:"email" binding:"required,email"`
	Phone     string      `json:"phone" binding:"required,max=32"`
	Password  string      `json:"password" binding:"required,min=8"`
	Role      models.Role `json:"role" binding:"omitempty,oneof=STAFF ADMIN"`
	HireDate  string      `json:"hireDate"`
}

func (h *Handler) listPatrons(c *gin.Context) {
	page, size := pageParams(c)
	status := models.AccountStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.Error(apperrors.Field("status", "must be ACTIVE, INACTIVE or SUSPENDED"))
		return
	}
	patrons, total, err := h.Accounts.ListPatrons(c.Request.Context(), status, page, size)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pageBody(page, size, total, listJSON(patrons, patronJSON)))
}

func (h *Handler) getPatron(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	patron, err := h.Accounts.GetPatron(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, patronJSON(patron))
}

func (h *Handler) updatePatronStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	var req statusRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	patron, err := h.Accounts.UpdatePatronStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, patronJSON(patron))
}

func (h *Handler) deletePatron(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.Accounts.DeletePatron(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) createStaff(c *gin.Context) {
	var req staffRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	hireDate, err := parseDate("hireDate", req.HireDate)
	if err != nil {
		c.Error(err)
		return
	}
	in := accounts.CreateStaffInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
		Role:      req.Role,
	}
	if hireDate != nil {
		in.HireDate = *hireDate
	}
	staff, err := h.Accounts.CreateStaff(c.Request.Context(), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, staffJSON(staff))
}

func (h *Handler) listStaff(c *gin.Context) {
	staff, err := h.Accounts.ListStaff(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listJSON(staff, staffJSON))
}

func (h *Handler) getStaff(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	staff, err := h.Accounts.GetStaff(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, staffJSON(staff))
}

func (h *Handler) updateStaffStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	var req statusRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	staff, err := h.Accounts.UpdateStaffStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, staffJSON(staff))
}

func (h *Handler) deleteStaff(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.Accounts.DeleteStaff(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
