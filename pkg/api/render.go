package api

import (
	"github.com/gin-gonic/gin"

	"library_service/pkg/models"
)

func patronJSON(p *models.Patron) gin.H {
	return gin.H{
		"id":        p.ID,
		"firstName": p.FirstName,
		"lastName":  p.LastName,
		"email":     p.Email,
		"phone":     p.Phone,
		"address":   p.Address,
		"status":    p.Status,
		"role":      models.RoleUser,
	}
}

func staffJSON(s *models.Staff) gin.H {
	return gin.H{
		"id":        s.ID,
		"firstName": s.FirstName,
		"lastName":  s.LastName,
		"email":     s.Email,
		"phone":     s.Phone,
		"role":      s.Role,
		"status":    s.Status,
		"hireDate":  formatDate(s.HireDate),
	}
}

func bookJSON(b *models.Book) gin.H {
	var isbn any
	if b.ISBN != nil {
		isbn = *b.ISBN
	}
	return gin.H{
		"id":        b.ID,
		"title":     b.Title,
		"author":    b.Author,
		"genre":     b.Genre,
		"publisher": b.Publisher,
		"isbn":      isbn,
	}
}

func copyJSON(bc *models.BookCopy) gin.H {
	item := gin.H{
		"id":      bc.ID,
		"bookId":  bc.BookID,
		"barcode": bc.Barcode,
		"status":  bc.Status,
	}
	if bc.Book.ID != 0 {
		item["title"] = bc.Book.Title
	}
	return item
}

func loanJSON(l *models.Loan) gin.H {
	item := gin.H{
		"id":         l.ID,
		"userId":     l.PatronID,
		"copyId":     l.CopyID,
		"borrowDate": formatDate(l.BorrowDate),
		"dueDate":    formatDate(l.DueDate),
		"returnDate": formatDatePtr(l.ReturnDate),
		"status":     l.Status,
	}
	if l.Copy.Book.ID != 0 {
		item["barcode"] = l.Copy.Barcode
		item["title"] = l.Copy.Book.Title
	}
	return item
}

func fineJSON(f *models.Fine) gin.H {
	item := gin.H{
		"id":           f.ID,
		"loanId":       f.LoanID,
		"amount":       f.Amount.StringFixed(2),
		"assessedDate": formatDate(f.AssessedDate),
		"status":       f.Status,
		"reason":       f.Reason,
	}
	if f.Loan.ID != 0 {
		item["userId"] = f.Loan.PatronID
	}
	return item
}

func paymentJSON(p *models.Payment) gin.H {
	var txID any
	if p.TransactionID != nil {
		txID = *p.TransactionID
	}
	return gin.H{
		"id":            p.ID,
		"fineId":        p.FineID,
		"amount":        p.Amount.StringFixed(2),
		"paymentDate":   formatDatePtr(p.PaymentDate),
		"method":        p.Method,
		"transactionId": txID,
		"status":        p.Status,
		"failureReason": p.FailureReason,
	}
}

func listJSON[T any](items []T, render func(*T) gin.H) []gin.H {
	out := make([]gin.H, len(items))
	for i := range items {
		out[i] = render(&items[i])
	}
	return out
}
