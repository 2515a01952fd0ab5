package lending

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"library_service/pkg/apperrors"
	"library_service/pkg/models"
)

// Filter narrows loan queries. Zero values mean "any".
type Filter struct {
	Status   models.LoanStatus
	PatronID uint
	CopyID   uint
	// Active keeps loans that are not yet returned.
	Active bool
	// Overdue keeps active loans whose due date is before today.
	Overdue bool

	BorrowedFrom *time.Time
	BorrowedTo   *time.Time
	DueFrom      *time.Time
	DueTo        *time.Time
}

func (f Filter) scope(today time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Model(&models.Loan{})
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		if f.PatronID != 0 {
			db = db.Where("patron_id = ?", f.PatronID)
		}
		if f.CopyID != 0 {
			db = db.Where("copy_id = ?", f.CopyID)
		}
		if f.Active || f.Overdue {
			db = db.Where("status IN ?", models.ActiveLoanStatuses)
		}
		if f.Overdue {
			db = db.Where("due_date < ?", today)
		}
		if f.BorrowedFrom != nil {
			db = db.Where("borrow_date >= ?", models.DateOf(*f.BorrowedFrom))
		}
		if f.BorrowedTo != nil {
			db = db.Where("borrow_date <= ?", models.DateOf(*f.BorrowedTo))
		}
		if f.DueFrom != nil {
			db = db.Where("due_date >= ?", models.DateOf(*f.DueFrom))
		}
		if f.DueTo != nil {
			db = db.Where("due_date <= ?", models.DateOf(*f.DueTo))
		}
		return db
	}
}

// Find returns every loan matching f, oldest first.
func (s *Service) Find(ctx context.Context, f Filter) ([]models.Loan, error) {
	var loans []models.Loan
	err := s.db.WithContext(ctx).Scopes(f.scope(s.today())).Preload("Copy.Book").Order("id").Find(&loans).Error
	if err != nil {
		return nil, errors.Wrap(err, "find loans")
	}
	return loans, nil
}

// Page returns one page of loans matching f plus the total match count.
func (s *Service) Page(ctx context.Context, f Filter, page, size int) ([]models.Loan, int64, error) {
	scope := f.scope(s.today())

	var total int64
	if err := s.db.WithContext(ctx).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count loans")
	}
	var loans []models.Loan
	err := s.db.WithContext(ctx).Scopes(scope).Preload("Copy.Book").
		Order("id").Offset((page - 1) * size).Limit(size).Find(&loans).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list loans")
	}
	return loans, total, nil
}

func (s *Service) ByPatron(ctx context.Context, patronID uint) ([]models.Loan, error) {
	return s.Find(ctx, Filter{PatronID: patronID})
}

func (s *Service) ByCopy(ctx context.Context, copyID uint) ([]models.Loan, error) {
	return s.Find(ctx, Filter{CopyID: copyID})
}

func (s *Service) ByStatus(ctx context.Context, status models.LoanStatus) ([]models.Loan, error) {
	if !status.Valid() {
		return nil, apperrors.Field("status", "must be BORROWED, RETURNED or OVERDUE")
	}
	return s.Find(ctx, Filter{Status: status})
}

func (s *Service) ActiveByPatron(ctx context.Context, patronID uint) ([]models.Loan, error) {
	return s.Find(ctx, Filter{PatronID: patronID, Active: true})
}

// Overdue lists active loans past their due date; patronID 0 means all patrons.
func (s *Service) Overdue(ctx context.Context, patronID uint) ([]models.Loan, error) {
	return s.Find(ctx, Filter{PatronID: patronID, Overdue: true})
}

func (s *Service) BorrowedBetween(ctx context.Context, start, end time.Time) ([]models.Loan, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return s.Find(ctx, Filter{BorrowedFrom: &start, BorrowedTo: &end})
}

func (s *Service) DueBetween(ctx context.Context, start, end time.Time) ([]models.Loan, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return s.Find(ctx, Filter{DueFrom: &start, DueTo: &end})
}

func (s *Service) CountActive(ctx context.Context, patronID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Scopes(Filter{PatronID: patronID, Active: true}.scope(s.today())).Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count active loans")
	}
	return count, nil
}

// CanBorrow reports whether the patron is under limit active loans. The
// engine never applies this itself; callers decide.
func (s *Service) CanBorrow(ctx context.Context, patronID uint, limit int) (bool, int64, error) {
	active, err := s.CountActive(ctx, patronID)
	if err != nil {
		return false, 0, err
	}
	return active < int64(limit), active, nil
}

func checkRange(start, end time.Time) error {
	if models.DateOf(end).Before(models.DateOf(start)) {
		return apperrors.InvalidArgument("end date %s is before start date %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return nil
}
