package payments

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"library_service/pkg/apperrors"
	"library_service/pkg/models"
)

type Filter struct {
	FineID   uint
	PatronID uint
	Status   models.PaymentStatus
	From     *time.Time
	To       *time.Time
}

func (f Filter) scope(db *gorm.DB) *gorm.DB {
	db = db.Model(&models.Payment{})
	if f.FineID != 0 {
		db = db.Where("fine_id = ?", f.FineID)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.PatronID != 0 {
		fresh := db.Session(&gorm.Session{NewDB: true})
		loans := fresh.Model(&models.Loan{}).Select("id").Where("patron_id = ?", f.PatronID)
		fines := fresh.Model(&models.Fine{}).Select("id").Where("loan_id IN (?)", loans)
		db = db.Where("fine_id IN (?)", fines)
	}
	if f.From != nil {
		db = db.Where("payment_date >= ?", models.DateOf(*f.From))
	}
	if f.To != nil {
		db = db.Where("payment_date <= ?", models.DateOf(*f.To))
	}
	return db
}

func (s *Service) Find(ctx context.Context, f Filter) ([]models.Payment, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperrors.Field("status", "must be PENDING, COMPLETED, FAILED or REFUNDED")
	}
	var payments []models.Payment
	if err := s.db.WithContext(ctx).Scopes(f.scope).Order("id").Find(&payments).Error; err != nil {
		return nil, errors.Wrap(err, "find payments")
	}
	return payments, nil
}

func (s *Service) ByFine(ctx context.Context, fineID uint) ([]models.Payment, error) {
	return s.Find(ctx, Filter{FineID: fineID})
}

func (s *Service) ByStatus(ctx context.Context, status models.PaymentStatus) ([]models.Payment, error) {
	return s.Find(ctx, Filter{Status: status})
}

func (s *Service) ByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Where("transaction_id = ?", strings.TrimSpace(transactionID)).First(&payment).Error
	if err != nil {
		return nil, notFound(err, "payment with transaction", transactionID)
	}
	return &payment, nil
}

func (s *Service) ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ?", strings.TrimSpace(transactionID)).Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "count payments")
	}
	return count > 0, nil
}

// TotalPaidForFine sums the COMPLETED payments against one fine.
func (s *Service) TotalPaidForFine(ctx context.Context, fineID uint) (decimal.Decimal, error) {
	return s.sum(ctx, Filter{FineID: fineID, Status: models.PaymentCompleted})
}

func (s *Service) TotalPaidByPatron(ctx context.Context, patronID uint) (decimal.Decimal, error) {
	return s.sum(ctx, Filter{PatronID: patronID, Status: models.PaymentCompleted})
}

// Revenue sums COMPLETED payments dated within [start, end].
func (s *Service) Revenue(ctx context.Context, start, end time.Time) (decimal.Decimal, error) {
	if models.DateOf(end).Before(models.DateOf(start)) {
		return decimal.Zero, apperrors.InvalidArgument("end date %s is before start date %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return s.sum(ctx, Filter{Status: models.PaymentCompleted, From: &start, To: &end})
}

func (s *Service) sum(ctx context.Context, f Filter) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.WithContext(ctx).Scopes(f.scope).Select("COALESCE(SUM(amount), 0)").Row().Scan(&total)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "sum payments")
	}
	return total.Round(2), nil
}
