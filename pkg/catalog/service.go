// Package catalog is the minimal book/copy store the lending engine needs.
package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"library_service/pkg/apperrors"
	"library_service/pkg/models"
)

type BookInput struct {
	Title     string
	Author    string
	Genre     string
	Publisher string
	ISBN      string
}

type Service struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewService(db *gorm.DB, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, log: log}
}

func (s *Service) CreateBook(ctx context.Context, in BookInput) (*models.Book, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperrors.Field("title", "is required")
	}
	book := models.Book{
		Title:     strings.TrimSpace(in.Title),
		Author:    strings.TrimSpace(in.Author),
		Genre:     strings.TrimSpace(in.Genre),
		Publisher: strings.TrimSpace(in.Publisher),
	}
	if isbn := strings.TrimSpace(in.ISBN); isbn != "" {
		book.ISBN = &isbn
	}
	if err := s.db.WithContext(ctx).Create(&book).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.Conflict("book with ISBN %s already exists", in.ISBN)
		}
		return nil, errors.Wrap(err, "create book")
	}
	s.log.Info("book created", "book_id", book.ID)
	return &book, nil
}

func (s *Service) GetBook(ctx context.Context, id uint) (*models.Book, error) {
	var book models.Book
	if err := s.db.WithContext(ctx).First(&book, id).Error; err != nil {
		return nil, notFound(err, "book", id)
	}
	return &book, nil
}

// ListBooks pages through books, optionally filtered by a title/author substring.
func (s *Service) ListBooks(ctx context.Context, search string, page, size int) ([]models.Book, int64, error) {
	search = strings.TrimSpace(search)
	filter := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&models.Book{})
		if search != "" {
			like := "%" + strings.ToLower(search) + "%"
			db = db.Where("LOWER(title) LIKE ? OR LOWER(author) LIKE ?", like, like)
		}
		return db
	}

	var total int64
	if err := s.db.WithContext(ctx).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count books")
	}
	var books []models.Book
	err := s.db.WithContext(ctx).Scopes(filter).Order("id").Offset((page - 1) * size).Limit(size).Find(&books).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list books")
	}
	return books, total, nil
}

// AddCopy registers a new AVAILABLE copy. An empty barcode gets a generated one.
func (s *Service) AddCopy(ctx context.Context, bookID uint, barcode string) (*models.BookCopy, error) {
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		barcode = "BC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	}

	bookCopy := models.BookCopy{BookID: bookID, Barcode: barcode, Status: models.CopyAvailable}
	if err := s.db.WithContext(ctx).Create(&bookCopy).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.Conflict("barcode %s is already in use", barcode)
		}
		return nil, errors.Wrap(err, "create copy")
	}
	s.log.Info("copy added", "book_id", bookID, "copy_id", bookCopy.ID, "barcode", barcode)
	return &bookCopy, nil
}

func (s *Service) GetCopy(ctx context.Context, id uint) (*models.BookCopy, error) {
	var bookCopy models.BookCopy
	if err := s.db.WithContext(ctx).Preload("Book").First(&bookCopy, id).Error; err != nil {
		return nil, notFound(err, "book copy", id)
	}
	return &bookCopy, nil
}

func (s *Service) ListCopies(ctx context.Context, bookID uint, status models.CopyStatus) ([]models.BookCopy, error) {
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Where("book_id = ?", bookID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var copies []models.BookCopy
	if err := query.Order("id").Find(&copies).Error; err != nil {
		return nil, errors.Wrap(err, "list copies")
	}
	return copies, nil
}

// UpdateCopyStatus is the administrative status change. BORROWED belongs to
// the lending engine: it cannot be set here, and a borrowed copy cannot be
// changed until it is returned.
func (s *Service) UpdateCopyStatus(ctx context.Context, id uint, status models.CopyStatus) (*models.BookCopy, error) {
	if !status.Valid() || status == models.CopyBorrowed {
		return nil, apperrors.Field("status", "must be AVAILABLE, LOST, DAMAGED or RETIRED")
	}

	var updated models.BookCopy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.BookCopy{}).
			Where("id = ? AND status <> ?", id, models.CopyBorrowed).
			Update("status", status)
		if result.Error != nil {
			return errors.Wrap(result.Error, "update copy status")
		}
		if result.RowsAffected == 0 {
			if err := tx.First(&updated, id).Error; err != nil {
				return notFound(err, "book copy", id)
			}
			return apperrors.InvalidState("copy %d is borrowed; return it first", id)
		}
		return tx.First(&updated, id).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("copy status changed", "copy_id", id, "status", status)
	return &updated, nil
}

func notFound(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(entity, id)
	}
	return errors.Wrapf(err, "load %s", entity)
}
