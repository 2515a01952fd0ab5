// Package api is the HTTP surface: gin routes, request binding, ownership
// checks and error rendering on top of the domain services.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"library_service/pkg/accounts"
	"library_service/pkg/apperrors"
	"library_service/pkg/auth"
	"library_service/pkg/catalog"
	"library_service/pkg/database"
	"library_service/pkg/fines"
	"library_service/pkg/lending"
	"library_service/pkg/models"
	"library_service/pkg/payments"
)

type Deps struct {
	DB          *gorm.DB
	Tokens      *auth.TokenService
	Accounts    *accounts.Service
	Catalog     *catalog.Service
	Lending     *lending.Service
	Fines       *fines.Service
	Payments    *payments.Service
	BorrowLimit int
	Log         *slog.Logger
}

type Handler struct {
	Deps
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	useJSONFieldNames()
	h := &Handler{Deps: deps}

	server := gin.Default()
	server.Use(ErrorHandler(deps.Log), auth.Middleware(deps.Tokens, auth.DefaultPolicy()))
	server.GET("/manage/health", h.healthCheck)

	v1 := server.Group("/api/v1")

	v1.POST("/auth/register", h.register)
	v1.POST("/auth/login", h.loginPatron)
	v1.POST("/auth/staff/login", h.loginStaff)
	v1.GET("/auth/verify", h.verifyToken)
	v1.POST("/auth/change-password", h.changePassword)
	v1.GET("/me", h.me)

	v1.GET("/books", h.listBooks)
	v1.POST("/books", h.createBook)
	v1.GET("/books/:id", h.getBook)
	v1.GET("/books/:id/copies", h.listCopies)
	v1.POST("/books/:id/copies", h.addCopy)
	v1.GET("/copies/:id", h.getCopy)
	v1.PATCH("/copies/:id/status", h.updateCopyStatus)

	v1.GET("/patrons", h.listPatrons)
	v1.GET("/patrons/:id", h.getPatron)
	v1.PATCH("/patrons/:id/status", h.updatePatronStatus)
	v1.DELETE("/patrons/:id", h.deletePatron)
	v1.POST("/staff", h.createStaff)
	v1.GET("/staff", h.listStaff)
	v1.GET("/staff/:id", h.getStaff)
	v1.PATCH("/staff/:id/status", h.updateStaffStatus)
	v1.DELETE("/staff/:id", h.deleteStaff)

	v1.POST("/loans", h.borrow)
	v1.GET("/loans", h.listLoans)
	v1.POST("/loans/mark-overdue", h.markOverdue)
	v1.GET("/loans/overdue", h.overdueLoans)
	v1.GET("/loans/borrowed-between", h.loansBorrowedBetween)
	v1.GET("/loans/due-between", h.loansDueBetween)
	v1.GET("/loans/copy/:copyId", h.loansByCopy)
	v1.GET("/loans/user/:userId", h.loansByPatron)
	v1.GET("/loans/user/:userId/active", h.activeLoansByPatron)
	v1.GET("/loans/user/:userId/overdue", h.overdueLoansByPatron)
	v1.GET("/loans/user/:userId/count-active", h.countActiveLoans)
	v1.GET("/loans/user/:userId/can-borrow", h.canBorrow)
	v1.GET("/loans/:id", h.getLoan)
	v1.POST("/loans/:id/return", h.returnLoan)

	v1.POST("/fines", h.createFine)
	v1.GET("/fines", h.listFines)
	v1.GET("/fines/stats", h.fineStats)
	v1.POST("/fines/assess/loan/:loanId", h.assessFine)
	v1.GET("/fines/loan/:loanId", h.fineByLoan)
	v1.GET("/fines/user/:userId", h.finesByPatron)
	v1.GET("/fines/user/:userId/has-pending", h.hasPendingFines)
	v1.GET("/fines/user/:userId/total-pending", h.totalPendingFines)
	v1.GET("/fines/:id", h.getFine)
	v1.POST("/fines/:id/pay", h.payFine)
	v1.POST("/fines/:id/waive", h.waiveFine)

	v1.POST("/payments", h.createPayment)
	v1.GET("/payments", h.listPayments)
	v1.GET("/payments/revenue", h.revenue)
	v1.GET("/payments/exists", h.paymentExists)
	v1.GET("/payments/user/:userId/total-paid", h.totalPaidByPatron)
	v1.GET("/payments/fine/:fineId", h.paymentsByFine)
	v1.GET("/payments/fine/:fineId/total-paid", h.totalPaidForFine)
	v1.GET("/payments/:id", h.getPayment)
	v1.POST("/payments/:id/process", h.processPayment)
	v1.POST("/payments/:id/complete", h.completePayment)
	v1.POST("/payments/:id/fail", h.failPayment)
	v1.POST("/payments/:id/refund", h.refundPayment)

	return server
}

// authorizePatron lets STAFF and ADMIN through and restricts USER tokens to
// the patron whose email they carry.
func (h *Handler) authorizePatron(c *gin.Context, patronID uint) error {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return apperrors.AuthenticationFailed("authentication required", nil)
	}
	if identity.Role != models.RoleUser {
		return nil
	}
	self, err := h.selfID(c.Request.Context(), identity)
	if err != nil {
		return err
	}
	if self != patronID {
		return apperrors.AuthorizationDenied("patrons may only access their own records")
	}
	return nil
}

func (h *Handler) selfID(ctx context.Context, identity auth.Identity) (uint, error) {
	patron, err := h.Accounts.PatronByEmail(ctx, identity.Email)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return 0, apperrors.AuthorizationDenied("no patron account for this token")
		}
		return 0, err
	}
	return patron.ID, nil
}

// patronParam reads a patron id path parameter and applies authorizePatron.
func (h *Handler) patronParam(c *gin.Context, name string) (uint, error) {
	id, err := pathID(c, name)
	if err != nil {
		return 0, err
	}
	if err := h.authorizePatron(c, id); err != nil {
		return 0, err
	}
	return id, nil
}

func (h *Handler) healthCheck(c *gin.Context) {
	if err := database.Ping(c.Request.Context(), h.DB); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"details": "Database reachable",
	})
}
