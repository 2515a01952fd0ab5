package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"library_service/pkg/apperrors"
	"library_service/pkg/auth"
	"library_service/pkg/lending"
	"library_service/pkg/models"
)

type borrowRequest struct {
	UserID     uint   `json:"userId"`
	CopyID     uint   `json:"copyId" binding:"required"`
	BorrowDate string `json:"borrowDate"`
	DueDate    string `json:"dueDate"`
}

type returnRequest struct {
	ReturnDate string `json:"returnDate"`
}

// borrow lends a copy. A USER may omit userId; it defaults to the caller.
func (h *Handler) borrow(c *gin.Context) {
	var req borrowRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	borrowDate, err := parseDate("borrowDate", req.BorrowDate)
	if err != nil {
		c.Error(err)
		return
	}
	dueDate, err := parseDate("dueDate", req.DueDate)
	if err != nil {
		c.Error(err)
		return
	}

	if req.UserID == 0 {
		identity, _ := auth.IdentityFrom(c)
		if identity.Role != models.RoleUser {
			c.Error(apperrors.Field("userId", "is required"))
			return
		}
		if req.UserID, err = h.selfID(c.Request.Context(), identity); err != nil {
			c.Error(err)
			return
		}
	}
	if err := h.authorizePatron(c, req.UserID); err != nil {
		c.Error(err)
		return
	}

	loan, err := h.Lending.Borrow(c.Request.Context(), lending.BorrowInput{
		PatronID:   req.UserID,
		CopyID:     req.CopyID,
		BorrowDate: borrowDate,
		DueDate:    dueDate,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, loanJSON(loan))
}

func (h *Handler) returnLoan(c *gin.Context) {
	loan, ok := h.ownedLoan(c)
	if !ok {
		return
	}
	var req returnRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	returnDate, err := parseDate("returnDate", req.ReturnDate)
	if err != nil {
		c.Error(err)
		return
	}
	returned, err := h.Lending.Return(c.Request.Context(), loan.ID, returnDate)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, loanJSON(returned))
}

func (h *Handler) getLoan(c *gin.Context) {
	loan, ok := h.ownedLoan(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, loanJSON(loan))
}

// ownedLoan loads the :id loan and checks the caller may see it. On failure
// the error is already attached.
func (h *Handler) ownedLoan(c *gin.Context) (*models.Loan, bool) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return nil, false
	}
	loan, err := h.Lending.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return nil, false
	}
	if err := h.authorizePatron(c, loan.PatronID); err != nil {
		c.Error(err)
		return nil, false
	}
	return loan, true
}

func (h *Handler) listLoans(c *gin.Context) {
	page, size := pageParams(c)
	filter := lending.Filter{
		Status:  models.LoanStatus(c.Query("status")),
		Overdue: c.Query("overdue") == "true",
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.Error(apperrors.Field("status", "must be BORROWED, RETURNED or OVERDUE"))
		return
	}
	var err error
	if filter.PatronID, err = queryID(c, "userId"); err != nil {
		c.Error(err)
		return
	}
	if filter.CopyID, err = queryID(c, "copyId"); err != nil {
		c.Error(err)
		return
	}

	loans, total, err := h.Lending.Page(c.Request.Context(), filter, page, size)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pageBody(page, size, total, listJSON(loans, loanJSON)))
}

func (h *Handler) markOverdue(c *gin.Context) {
	asOf, err := parseDate("asOf", c.Query("asOf"))
	if err != nil {
		c.Error(err)
		return
	}
	cutoff := h.Lending.Today()
	if asOf != nil {
		cutoff = *asOf
	}
	marked, err := h.Lending.SweepOverdue(c.Request.Context(), cutoff)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asOf": formatDate(models.DateOf(cutoff)), "marked": marked})
}

func (h *Handler) overdueLoans(c *gin.Context) {
	loans, err := h.Lending.Overdue(c.Request.Context(), 0)
	h.renderLoans(c, loans, err)
}

func (h *Handler) loansBorrowedBetween(c *gin.Context) {
	start, end, err := dateRange(c, "start", "end")
	if err != nil {
		c.Error(err)
		return
	}
	loans, err := h.Lending.BorrowedBetween(c.Request.Context(), start, end)
	h.renderLoans(c, loans, err)
}

func (h *Handler) loansDueBetween(c *gin.Context) {
	start, end, err := dateRange(c, "start", "end")
	if err != nil {
		c.Error(err)
		return
	}
	loans, err := h.Lending.DueBetween(c.Request.Context(), start, end)
	h.renderLoans(c, loans, err)
}

func (h *Handler) loansByCopy(c *gin.Context) {
	id, err := pathID(c, "copyId")
	if err != nil {
		c.Error(err)
		return
	}
	loans, err := h.Lending.ByCopy(c.Request.Context(), id)
	h.renderLoans(c, loans, err)
}

func (h *Handler) loansByPatron(c *gin.Context) {
	id, err := h.patronParam(c, "userId")
	if err != nil {
		c.Error(err)
		return
	}
	loans, err := h.Lending.ByPatron(c.Request.Context(), id)
	h.renderLoans(c, loans, err)
}

func (h *Handler) activeLoansByPatron(c *gin.Context) {
	id, err := h.patronParam(c, "userId")
	if err != nil {
		c.Error(err)
		return
	}
	loans, err := h.Lending.ActiveByPatron(c.Request.Context(), id)
	h.renderLoans(c, loans, err)
}

func (h *Handler) overdueLoansByPatron(c *gin.Context) {
	id, err := h.patronParam(c, "userId")
	if err != nil {
		c.Error(err)
		return
	}
	loans, err := h.Lending.Overdue(c.Request.Context(), id)
	h.renderLoans(c, loans, err)
}

func (h *Handler) countActiveLoans(c *gin.Context) {
	id, err := h.patronParam(c, "userId")
	if err != nil {
		c.Error(err)
		return
	}
	count, err := h.Lending.CountActive(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": id, "activeLoans": count})
}

func (h *Handler) canBorrow(c *gin.Context) {
	id, err := h.patronParam(c, "userId")
	if err != nil {
		c.Error(err)
		return
	}
	limit := h.BorrowLimit
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			c.Error(apperrors.Field("limit", "must be a non-negative integer"))
			return
		}
	}
	ok, active, err := h.Lending.CanBorrow(c.Request.Context(), id, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": id, "activeLoans": active, "limit": limit, "canBorrow": ok})
}

func (h *Handler) renderLoans(c *gin.Context, loans []models.Loan, err error) {
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listJSON(loans, loanJSON))
}

func dateRange(c *gin.Context, startName, endName string) (time.Time, time.Time, error) {
	start, err := requiredDate(c, startName)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := requiredDate(c, endName)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
