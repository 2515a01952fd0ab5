// Package fines assesses overdue penalties against loans and tracks their
// PENDING -> PAID / WAIVED lifecycle.
package fines

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"library_service/pkg/apperrors"
	"library_service/pkg/models"
)

// DefaultDailyRate is charged per late day when the caller gives no rate.
var DefaultDailyRate = decimal.NewFromInt(1)

type Service struct {
	db          *gorm.DB
	log         *slog.Logger
	now         func() time.Time
	defaultRate decimal.Decimal
}

func NewService(db *gorm.DB, defaultRate decimal.Decimal, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if !defaultRate.IsPositive() {
		defaultRate = DefaultDailyRate
	}
	return &Service{db: db, log: log, now: time.Now, defaultRate: defaultRate}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) DefaultRate() decimal.Decimal { return s.defaultRate }

func (s *Service) today() time.Time { return models.DateOf(s.now()) }

// Assess computes and stores the late fine for a loan: dailyRate times the
// whole days between the due date and the return date (today while the loan
// is still open). A loan that is not late, or already has a fine, is refused.
func (s *Service) Assess(ctx context.Context, loanID uint, dailyRate *decimal.Decimal) (*models.Fine, error) {
	rate := s.defaultRate
	if dailyRate != nil {
		rate = *dailyRate
	}
	if !rate.IsPositive() {
		return nil, apperrors.Field("dailyRate", "must be greater than zero")
	}

	var fine models.Fine
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var loan models.Loan
		if err := tx.First(&loan, loanID).Error; err != nil {
			return notFound(err, "loan", loanID)
		}
		if err := ensureNoFine(tx, loanID); err != nil {
			return err
		}

		effective := s.today()
		if loan.ReturnDate != nil {
			effective = models.DateOf(*loan.ReturnDate)
		}
		daysLate := models.DaysBetween(loan.DueDate, effective)
		if daysLate <= 0 {
			return apperrors.InvalidArgument("loan %d is not overdue", loanID)
		}

		fine = models.Fine{
			LoanID:       loanID,
			Amount:       rate.Mul(decimal.NewFromInt(int64(daysLate))).Round(2),
			AssessedDate: s.today(),
			Status:       models.FinePending,
			Reason:       lateReason(daysLate, rate),
		}
		return createFine(tx, &fine)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("fine assessed", "fine_id", fine.ID, "loan_id", loanID, "amount", fine.Amount.StringFixed(2))
	return &fine, nil
}

// Create records a fine with an explicit amount, e.g. for a damaged copy.
func (s *Service) Create(ctx context.Context, loanID uint, amount decimal.Decimal, reason string) (*models.Fine, error) {
	if !amount.IsPositive() {
		return nil, apperrors.Field("amount", "must be greater than zero")
	}

	fine := models.Fine{
		LoanID:       loanID,
		Amount:       amount.Round(2),
		AssessedDate: s.today(),
		Status:       models.FinePending,
		Reason:       reason,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.Loan{}, loanID).Error; err != nil {
			return notFound(err, "loan", loanID)
		}
		if err := ensureNoFine(tx, loanID); err != nil {
			return err
		}
		return createFine(tx, &fine)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("fine created", "fine_id", fine.ID, "loan_id", loanID, "amount", fine.Amount.StringFixed(2))
	return &fine, nil
}

func (s *Service) Pay(ctx context.Context, id uint) (*models.Fine, error) {
	return s.settle(ctx, id, models.FinePaid)
}

func (s *Service) Waive(ctx context.Context, id uint) (*models.Fine, error) {
	return s.settle(ctx, id, models.FineWaived)
}

// settle moves a PENDING fine to a terminal status.
func (s *Service) settle(ctx context.Context, id uint, status models.FineStatus) (*models.Fine, error) {
	var fine models.Fine
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Fine{}).
			Where("id = ? AND status = ?", id, models.FinePending).
			Update("status", status)
		if result.Error != nil {
			return errors.Wrapf(result.Error, "mark fine %s", status)
		}
		if err := tx.First(&fine, id).Error; err != nil {
			return notFound(err, "fine", id)
		}
		if result.RowsAffected == 0 {
			return apperrors.InvalidState("fine %d is %s, only PENDING fines can be settled", id, fine.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("fine settled", "fine_id", id, "status", status)
	return &fine, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Fine, error) {
	var fine models.Fine
	if err := s.db.WithContext(ctx).Preload("Loan").First(&fine, id).Error; err != nil {
		return nil, notFound(err, "fine", id)
	}
	return &fine, nil
}

func ensureNoFine(tx *gorm.DB, loanID uint) error {
	var count int64
	if err := tx.Model(&models.Fine{}).Where("loan_id = ?", loanID).Count(&count).Error; err != nil {
		return errors.Wrap(err, "check existing fine")
	}
	if count > 0 {
		return apperrors.Conflict("loan %d already has a fine", loanID)
	}
	return nil
}

func createFine(tx *gorm.DB, fine *models.Fine) error {
	if err := tx.Create(fine).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("loan %d already has a fine", fine.LoanID)
		}
		return errors.Wrap(err, "create fine")
	}
	return nil
}

// lateReason uses one wording for returned and still-open loans; for an open
// loan the count runs to the assessment date.
func lateReason(days int, rate decimal.Decimal) string {
	unit := "days"
	if days == 1 {
		unit = "day"
	}
	return fmt.Sprintf("Book returned %d %s late at %s per day", days, unit, rate.StringFixed(2))
}

func notFound(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(entity, id)
	}
	return errors.Wrapf(err, "load %s", entity)
}
