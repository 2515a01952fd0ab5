package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"library_service/pkg/apperrors"
	"library_service/pkg/models"
	"library_service/pkg/payments"
)

type paymentRequest struct {
	FineID        uint                 `json:"fineId" binding:"required"`
	Amount        decimal.Decimal      `json:"amount"`
	Method        models.PaymentMethod `json:"method" binding:"required"`
	TransactionID string               `json:"transactionId" binding:"max=100"`
}

type completeRequest struct {
	TransactionID string `json:"transactionId" binding:"max=100"`
}

type failRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

func (h *Handler) createPayment(c *gin.Context) {
	var req paymentRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	if err := h.authorizeFine(c, req.FineID); err != nil {
		c.Error(err)
		return
	}
	payment, err := h.Payments.Create(c.Request.Context(), payments.CreateInput{
		FineID:        req.FineID,
		Amount:        req.Amount,
		Method:        req.Method,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, paymentJSON(payment))
}

func (h *Handler) getPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	payment, err := h.Payments.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.authorizePatron(c, payment.Fine.Loan.PatronID); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, paymentJSON(payment))
}

func (h *Handler) processPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	payment, err := h.Payments.Process(c.Request.Context(), id)
	h.renderPayment(c, payment, err)
}

func (h *Handler) completePayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	var req completeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	transactionID := req.TransactionID
	if transactionID == "" {
		transactionID = c.Query("transactionId")
	}
	payment, err := h.Payments.Complete(c.Request.Context(), id, transactionID)
	h.renderPayment(c, payment, err)
}

func (h *Handler) failPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	var req failRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = c.Query("reason")
	}
	payment, err := h.Payments.Fail(c.Request.Context(), id, reason)
	h.renderPayment(c, payment, err)
}

func (h *Handler) refundPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	payment, err := h.Payments.Refund(c.Request.Context(), id)
	h.renderPayment(c, payment, err)
}

func (h *Handler) listPayments(c *gin.Context) {
	filter := payments.Filter{Status: models.PaymentStatus(c.Query("status"))}
	var err error
	if filter.FineID, err = queryID(c, "fineId"); err != nil {
		c.Error(err)
		return
	}
	if filter.PatronID, err = queryID(c, "userId"); err != nil {
		c.Error(err)
		return
	}
	found, err := h.Payments.Find(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listJSON(found, paymentJSON))
}

func (h *Handler) paymentsByFine(c *gin.Context) {
	fineID, err := pathID(c, "fineId")
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.authorizeFine(c, fineID); err != nil {
		c.Error(err)
		return
	}
	found, err := h.Payments.ByFine(c.Request.Context(), fineID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listJSON(found, paymentJSON))
}

func (h *Handler) totalPaidForFine(c *gin.Context) {
	fineID, err := pathID(c, "fineId")
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.authorizeFine(c, fineID); err != nil {
		c.Error(err)
		return
	}
	total, err := h.Payments.TotalPaidForFine(c.Request.Context(), fineID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fineId": fineID, "totalPaid": total.StringFixed(2)})
}

func (h *Handler) totalPaidByPatron(c *gin.Context) {
	id, err := h.patronParam(c, "userId")
	if err != nil {
		c.Error(err)
		return
	}
	total, err := h.Payments.TotalPaidByPatron(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": id, "totalPaid": total.StringFixed(2)})
}

func (h *Handler) revenue(c *gin.Context) {
	start, end, err := dateRange(c, "startDate", "endDate")
	if err != nil {
		c.Error(err)
		return
	}
	total, err := h.Payments.Revenue(c.Request.Context(), start, end)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"startDate": formatDate(start),
		"endDate":   formatDate(end),
		"revenue":   total.StringFixed(2),
	})
}

func (h *Handler) paymentExists(c *gin.Context) {
	transactionID := c.Query("transactionId")
	if transactionID == "" {
		c.Error(apperrors.Field("transactionId", "is required"))
		return
	}
	exists, err := h.Payments.ExistsByTransactionID(c.Request.Context(), transactionID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactionId": transactionID, "exists": exists})
}

// authorizeFine applies the patron ownership check to the fine's loan.
func (h *Handler) authorizeFine(c *gin.Context, fineID uint) error {
	fine, err := h.Fines.Get(c.Request.Context(), fineID)
	if err != nil {
		return err
	}
	return h.authorizePatron(c, fine.Loan.PatronID)
}

func (h *Handler) renderPayment(c *gin.Context, payment *models.Payment, err error) {
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, paymentJSON(payment))
}
