// Package lending moves book copies between AVAILABLE and BORROWED through loans.
//
// Loan states: BORROWED -> RETURNED, or BORROWED -> OVERDUE -> RETURNED.
// Every state change runs in one transaction together with the copy status
// flip, and the flip itself is a conditional UPDATE so that two requests
// racing for the same copy cannot both win.
package lending

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"library_service/pkg/apperrors"
	"library_service/pkg/models"
)

const DefaultLoanPeriodDays = 14

type BorrowInput struct {
	PatronID   uint
	CopyID     uint
	BorrowDate *time.Time
	DueDate    *time.Time
}

type Service struct {
	db         *gorm.DB
	log        *slog.Logger
	now        func() time.Time
	loanPeriod int
}

func NewService(db *gorm.DB, loanPeriodDays int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if loanPeriodDays < 1 {
		loanPeriodDays = DefaultLoanPeriodDays
	}
	return &Service{db: db, log: log, now: time.Now, loanPeriod: loanPeriodDays}
}

// WithClock replaces the time source used for "today".
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) today() time.Time { return models.DateOf(s.now()) }

// Today is the service's current calendar day in UTC.
func (s *Service) Today() time.Time { return s.today() }

// Borrow creates a BORROWED loan and marks the copy BORROWED. The due date
// defaults to the borrow date plus the loan period.
func (s *Service) Borrow(ctx context.Context, in BorrowInput) (*models.Loan, error) {
	borrowDate := s.today()
	if in.BorrowDate != nil {
		borrowDate = models.DateOf(*in.BorrowDate)
	}
	dueDate := borrowDate.AddDate(0, 0, s.loanPeriod)
	if in.DueDate != nil {
		dueDate = models.DateOf(*in.DueDate)
	}
	if dueDate.Before(borrowDate) {
		return nil, apperrors.InvalidArgument("due date %s is before borrow date %s",
			dueDate.Format(time.DateOnly), borrowDate.Format(time.DateOnly))
	}

	loan := models.Loan{
		PatronID:   in.PatronID,
		CopyID:     in.CopyID,
		BorrowDate: borrowDate,
		DueDate:    dueDate,
		Status:     models.LoanBorrowed,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.Patron{}, in.PatronID).Error; err != nil {
			return notFound(err, "patron", in.PatronID)
		}
		var bookCopy models.BookCopy
		if err := tx.First(&bookCopy, in.CopyID).Error; err != nil {
			return notFound(err, "book copy", in.CopyID)
		}
		if bookCopy.Status != models.CopyAvailable {
			return apperrors.InvalidState("copy %d is not available (status %s)", bookCopy.ID, bookCopy.Status)
		}

		result := tx.Model(&models.BookCopy{}).
			Where("id = ? AND status = ?", in.CopyID, models.CopyAvailable).
			Update("status", models.CopyBorrowed)
		if result.Error != nil {
			return errors.Wrap(result.Error, "mark copy borrowed")
		}
		if result.RowsAffected == 0 {
			return apperrors.InvalidState("copy %d is not available", in.CopyID)
		}

		if err := tx.Create(&loan).Error; err != nil {
			return errors.Wrap(err, "create loan")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("book borrowed", "loan_id", loan.ID, "patron_id", loan.PatronID, "copy_id", loan.CopyID,
		"due_date", loan.DueDate.Format(time.DateOnly))
	return &loan, nil
}

// Return closes a BORROWED or OVERDUE loan and makes the copy AVAILABLE again.
// The return date defaults to today.
func (s *Service) Return(ctx context.Context, loanID uint, returnDate *time.Time) (*models.Loan, error) {
	returned := s.today()
	if returnDate != nil {
		returned = models.DateOf(*returnDate)
	}

	var loan models.Loan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&loan, loanID).Error; err != nil {
			return notFound(err, "loan", loanID)
		}
		if loan.Status == models.LoanReturned {
			return apperrors.InvalidState("loan %d is already returned", loanID)
		}
		if returned.Before(loan.BorrowDate) {
			return apperrors.InvalidArgument("return date %s is before borrow date %s",
				returned.Format(time.DateOnly), loan.BorrowDate.Format(time.DateOnly))
		}

		result := tx.Model(&models.Loan{}).
			Where("id = ? AND status <> ?", loanID, models.LoanReturned).
			Updates(map[string]interface{}{"status": models.LoanReturned, "return_date": returned})
		if result.Error != nil {
			return errors.Wrap(result.Error, "mark loan returned")
		}
		if result.RowsAffected == 0 {
			return apperrors.InvalidState("loan %d is already returned", loanID)
		}

		err := tx.Model(&models.BookCopy{}).Where("id = ?", loan.CopyID).Update("status", models.CopyAvailable).Error
		if err != nil {
			return errors.Wrap(err, "mark copy available")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	loan.Status = models.LoanReturned
	loan.ReturnDate = &returned
	s.log.Info("book returned", "loan_id", loan.ID, "copy_id", loan.CopyID,
		"return_date", returned.Format(time.DateOnly), "late", returned.After(loan.DueDate))
	return &loan, nil
}

// SweepOverdue marks every BORROWED loan due before asOf as OVERDUE and
// reports how many changed. Loans that are already OVERDUE are untouched.
func (s *Service) SweepOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	cutoff := models.DateOf(asOf)
	result := s.db.WithContext(ctx).Model(&models.Loan{}).
		Where("status = ? AND due_date < ?", models.LoanBorrowed, cutoff).
		Update("status", models.LoanOverdue)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "sweep overdue loans")
	}

	s.log.Info("overdue sweep finished", "as_of", cutoff.Format(time.DateOnly), "marked", result.RowsAffected)
	return result.RowsAffected, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Loan, error) {
	var loan models.Loan
	if err := s.db.WithContext(ctx).Preload("Copy.Book").First(&loan, id).Error; err != nil {
		return nil, notFound(err, "loan", id)
	}
	return &loan, nil
}

func notFound(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(entity, id)
	}
	return errors.Wrapf(err, "load %s", entity)
}
