package fines

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"library_service/pkg/apperrors"
	"library_service/pkg/models"
)

type Filter struct {
	Status   models.FineStatus
	PatronID uint
	LoanID   uint
}

func (f Filter) scope(db *gorm.DB) *gorm.DB {
	db = db.Model(&models.Fine{})
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.LoanID != 0 {
		db = db.Where("loan_id = ?", f.LoanID)
	}
	if f.PatronID != 0 {
		db = db.Where("loan_id IN (?)", db.Session(&gorm.Session{NewDB: true}).
			Model(&models.Loan{}).Select("id").Where("patron_id = ?", f.PatronID))
	}
	return db
}

// StatusTotals aggregates the fines in one status.
type StatusTotals struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Service) Find(ctx context.Context, f Filter) ([]models.Fine, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperrors.Field("status", "must be PENDING, PAID or WAIVED")
	}
	var fines []models.Fine
	if err := s.db.WithContext(ctx).Scopes(f.scope).Preload("Loan").Order("id").Find(&fines).Error; err != nil {
		return nil, errors.Wrap(err, "find fines")
	}
	return fines, nil
}

func (s *Service) ByPatron(ctx context.Context, patronID uint) ([]models.Fine, error) {
	return s.Find(ctx, Filter{PatronID: patronID})
}

// ByLoan returns the single fine attached to a loan.
func (s *Service) ByLoan(ctx context.Context, loanID uint) (*models.Fine, error) {
	var fine models.Fine
	if err := s.db.WithContext(ctx).Preload("Loan").Where("loan_id = ?", loanID).First(&fine).Error; err != nil {
		return nil, notFound(err, "fine for loan", loanID)
	}
	return &fine, nil
}

func (s *Service) ExistsForLoan(ctx context.Context, loanID uint) (bool, error) {
	count, err := s.count(ctx, Filter{LoanID: loanID})
	return count > 0, err
}

func (s *Service) HasPending(ctx context.Context, patronID uint) (bool, error) {
	count, err := s.count(ctx, Filter{PatronID: patronID, Status: models.FinePending})
	return count > 0, err
}

func (s *Service) TotalPending(ctx context.Context, patronID uint) (decimal.Decimal, error) {
	return s.sum(ctx, Filter{PatronID: patronID, Status: models.FinePending})
}

func (s *Service) CountByStatus(ctx context.Context, status models.FineStatus) (int64, error) {
	return s.count(ctx, Filter{Status: status})
}

func (s *Service) SumByStatus(ctx context.Context, status models.FineStatus) (decimal.Decimal, error) {
	return s.sum(ctx, Filter{Status: status})
}

// Stats reports count and amount for every fine status.
func (s *Service) Stats(ctx context.Context) (map[models.FineStatus]StatusTotals, error) {
	stats := make(map[models.FineStatus]StatusTotals, 3)
	for _, status := range []models.FineStatus{models.FinePending, models.FinePaid, models.FineWaived} {
		count, err := s.CountByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		amount, err := s.SumByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		stats[status] = StatusTotals{Count: count, Amount: amount}
	}
	return stats, nil
}

func (s *Service) count(ctx context.Context, f Filter) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Scopes(f.scope).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "count fines")
	}
	return count, nil
}

func (s *Service) sum(ctx context.Context, f Filter) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.WithContext(ctx).Scopes(f.scope).Select("COALESCE(SUM(amount), 0)").Row().Scan(&total)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "sum fines")
	}
	return total.Round(2), nil
}
