package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"library_service/pkg/fines"
	"library_service/pkg/models"
)

type fineRequest struct {
	LoanID uint            `json:"loanId" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" binding:"max=255"`
}

func (h *Handler) createFine(c *gin.Context) {
	var req fineRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	fine, err := h.Fines.Create(c.Request.Context(), req.LoanID, req.Amount, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, fineJSON(fine))
}

// assessFine charges dailyRate (or the configured default) per late day.
func (h *Handler) assessFine(c *gin.Context) {
	loanID, err := pathID(c, "loanId")
	if err != nil {
		c.Error(err)
		return
	}
	rate, err := queryDecimal(c, "dailyRate")
	if err != nil {
		c.Error(err)
		return
	}
	fine, err := h.Fines.Assess(c.Request.Context(), loanID, rate)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, fineJSON(fine))
}

func (h *Handler) getFine(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	fine, err := h.Fines.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.authorizePatron(c, fine.Loan.PatronID); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, fineJSON(fine))
}

func (h *Handler) payFine(c *gin.Context) {
	h.settleFine(c, h.Fines.Pay)
}

func (h *Handler) waiveFine(c *gin.Context) {
	h.settleFine(c, h.Fines.Waive)
}

func (h *Handler) settleFine(c *gin.Context, settle func(context.Context, uint) (*models.Fine, error)) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	fine, err := settle(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, fineJSON(fine))
}

func (h *Handler) listFines(c *gin.Context) {
	filter := fines.Filter{Status: models.FineStatus(c.Query("status"))}
	var err error
	if filter.PatronID, err = queryID(c, "userId"); err != nil {
		c.Error(err)
		return
	}
	found, err := h.Fines.Find(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listJSON(found, fineJSON))
}

func (h *Handler) fineStats(c *gin.Context) {
	stats, err := h.Fines.Stats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	body := gin.H{}
	for status, totals := range stats {
		body[string(status)] = gin.H{"count": totals.Count, "amount": totals.Amount.StringFixed(2)}
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) fineByLoan(c *gin.Context) {
	loanID, err := pathID(c, "loanId")
	if err != nil {
		c.Error(err)
		return
	}
	fine, err := h.Fines.ByLoan(c.Request.Context(), loanID)
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.authorizePatron(c, fine.Loan.PatronID); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, fineJSON(fine))
}

func (h *Handler) finesByPatron(c *gin.Context) {
	id, err := h.patronParam(c, "userId")
	if err != nil {
		c.Error(err)
		return
	}
	found, err := h.Fines.ByPatron(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listJSON(found, fineJSON))
}

func (h *Handler) hasPendingFines(c *gin.Context) {
	id, err := h.patronParam(c, "userId")
	if err != nil {
		c.Error(err)
		return
	}
	pending, err := h.Fines.HasPending(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": id, "hasPending": pending})
}

func (h *Handler) totalPendingFines(c *gin.Context) {
	id, err := h.patronParam(c, "userId")
	if err != nil {
		c.Error(err)
		return
	}
	total, err := h.Fines.TotalPending(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": id, "totalPending": total.StringFixed(2)})
}
