// Package payments records money received against fines.
//
// Payment states: PENDING -> COMPLETED | FAILED, COMPLETED -> REFUNDED.
// Payments never change the status of the fine they reference; settling a
// fine is an explicit call on the fines service.
package payments

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"library_service/pkg/apperrors"
	"library_service/pkg/models"
)

type CreateInput struct {
	FineID        uint
	Amount        decimal.Decimal
	Method        models.PaymentMethod
	TransactionID string
}

type Service struct {
	db  *gorm.DB
	log *slog.Logger
	now func() time.Time
}

func NewService(db *gorm.DB, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, log: log, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) today() time.Time { return models.DateOf(s.now()) }

// Create records a PENDING payment dated today.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Payment, error) {
	fields := map[string]string{}
	if !in.Amount.IsPositive() {
		fields["amount"] = "must be greater than zero"
	}
	if !in.Method.Valid() {
		fields["method"] = "must be CASH, CARD, ONLINE or BANK_TRANSFER"
	}
	if len(fields) > 0 {
		return nil, apperrors.ValidationFailed(fields)
	}

	today := s.today()
	payment := models.Payment{
		FineID:      in.FineID,
		Amount:      in.Amount.Round(2),
		PaymentDate: &today,
		Method:      in.Method,
		Status:      models.PaymentPending,
	}
	if txID := strings.TrimSpace(in.TransactionID); txID != "" {
		payment.TransactionID = &txID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.Fine{}, in.FineID).Error; err != nil {
			return notFound(err, "fine", in.FineID)
		}
		if payment.TransactionID != nil {
			if err := ensureUnusedTransaction(tx, *payment.TransactionID, 0); err != nil {
				return err
			}
		}
		if err := tx.Create(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperrors.Conflict("transaction %s is already recorded", *payment.TransactionID)
			}
			return errors.Wrap(err, "create payment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment recorded", "payment_id", payment.ID, "fine_id", payment.FineID,
		"amount", payment.Amount.StringFixed(2), "method", payment.Method)
	return &payment, nil
}

// Process settles a PENDING payment as COMPLETED, stamping today's date when
// the payment has none.
func (s *Service) Process(ctx context.Context, id uint) (*models.Payment, error) {
	return s.transition(ctx, id, models.PaymentPending, models.PaymentCompleted, func(_ *gorm.DB, p *models.Payment) (map[string]interface{}, error) {
		if p.PaymentDate != nil {
			return nil, nil
		}
		return map[string]interface{}{"payment_date": s.today()}, nil
	})
}

// Complete marks a PENDING payment COMPLETED, optionally attaching the
// processor's transaction id.
func (s *Service) Complete(ctx context.Context, id uint, transactionID string) (*models.Payment, error) {
	transactionID = strings.TrimSpace(transactionID)
	return s.transition(ctx, id, models.PaymentPending, models.PaymentCompleted, func(tx *gorm.DB, _ *models.Payment) (map[string]interface{}, error) {
		if transactionID == "" {
			return nil, nil
		}
		if err := ensureUnusedTransaction(tx, transactionID, id); err != nil {
			return nil, err
		}
		return map[string]interface{}{"transaction_id": transactionID}, nil
	})
}

func (s *Service) Fail(ctx context.Context, id uint, reason string) (*models.Payment, error) {
	return s.transition(ctx, id, models.PaymentPending, models.PaymentFailed, func(_ *gorm.DB, _ *models.Payment) (map[string]interface{}, error) {
		return map[string]interface{}{"failure_reason": strings.TrimSpace(reason)}, nil
	})
}

func (s *Service) Refund(ctx context.Context, id uint) (*models.Payment, error) {
	return s.transition(ctx, id, models.PaymentCompleted, models.PaymentRefunded, nil)
}

// transition is the single guarded state change: the UPDATE only matches
// while the payment is still in from, so a concurrent transition loses.
func (s *Service) transition(
	ctx context.Context,
	id uint,
	from, to models.PaymentStatus,
	extra func(tx *gorm.DB, current *models.Payment) (map[string]interface{}, error),
) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&payment, id).Error; err != nil {
			return notFound(err, "payment", id)
		}
		if payment.Status != from {
			return apperrors.InvalidState("payment %d is %s, expected %s", id, payment.Status, from)
		}

		updates := map[string]interface{}{}
		if extra != nil {
			more, err := extra(tx, &payment)
			if err != nil {
				return err
			}
			for k, v := range more {
				updates[k] = v
			}
		}
		updates["status"] = to

		result := tx.Model(&models.Payment{}).Where("id = ? AND status = ?", id, from).Updates(updates)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return apperrors.Conflict("transaction id is already recorded")
			}
			return errors.Wrapf(result.Error, "mark payment %s", to)
		}
		if result.RowsAffected == 0 {
			return apperrors.InvalidState("payment %d changed concurrently", id)
		}
		return tx.First(&payment, id).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment status changed", "payment_id", id, "from", from, "to", to)
	return &payment, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).Preload("Fine.Loan").First(&payment, id).Error; err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &payment, nil
}

func ensureUnusedTransaction(tx *gorm.DB, transactionID string, self uint) error {
	var count int64
	err := tx.Model(&models.Payment{}).Where("transaction_id = ? AND id <> ?", transactionID, self).Count(&count).Error
	if err != nil {
		return errors.Wrap(err, "check transaction id")
	}
	if count > 0 {
		return apperrors.Conflict("transaction %s is already recorded", transactionID)
	}
	return nil
}

func notFound(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(entity, id)
	}
	return errors.Wrapf(err, "load %s", entity)
}
