package lending

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"library_service/pkg/apperrors"
	"library_service/pkg/database"
	"library_service/pkg/models"
)

func setupTestDB() *gorm.DB {
	db, err := database.OpenInMemory()
	if err != nil {
		panic("failed to connect test database")
	}
	return db
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixedClock(s string) func() time.Time {
	return func() time.Time { return day(s).Add(15 * time.Hour) }
}

func seedPatron(t *testing.T, db *gorm.DB, n int) models.Patron {
	t.Helper()
	patron := models.NewPatron("Reader", fmt.Sprint(n), fmt.Sprintf("reader%d@example.com", n), fmt.Sprintf("+1555000%03d", n), "", "x")
	require.NoError(t, db.Create(&patron).Error)
	return patron
}

func seedCopy(t *testing.T, db *gorm.DB, barcode string) models.BookCopy {
	t.Helper()
	book := models.Book{Title: "Book " + barcode}
	require.NoError(t, db.Create(&book).Error)
	bookCopy := models.BookCopy{BookID: book.ID, Barcode: barcode, Status: models.CopyAvailable}
	require.NoError(t, db.Create(&bookCopy).Error)
	return bookCopy
}

func copyStatus(t *testing.T, db *gorm.DB, id uint) models.CopyStatus {
	t.Helper()
	var bookCopy models.BookCopy
	require.NoError(t, db.First(&bookCopy, id).Error)
	return bookCopy.Status
}

func TestBorrowDefaultsDueDate(t *testing.T) {
	db := setupTestDB()
	svc := NewService(db, 14, nil).WithClock(fixedClock("2024-03-01"))
	patron := seedPatron(t, db, 1)
	bookCopy := seedCopy(t, db, "C1")

	loan, err := svc.Borrow(context.Background(), BorrowInput{PatronID: patron.ID, CopyID: bookCopy.ID})

	require.NoError(t, err)
	assert.Equal(t, models.LoanBorrowed, loan.Status)
	assert.Equal(t, day("2024-03-01"), loan.BorrowDate)
	assert.Equal(t, day("2024-03-15"), loan.DueDate)
	assert.Nil(t, loan.ReturnDate)
	assert.Equal(t, models.CopyBorrowed, copyStatus(t, db, bookCopy.ID))
}

func TestBorrowRejections(t *testing.T) {
	db := setupTestDB()
	svc := NewService(db, 14, nil).WithClock(fixedClock("2024-03-01"))
	ctx := context.Background()
	patron := seedPatron(t, db, 1)
	bookCopy := seedCopy(t, db, "C1")
	lost := seedCopy(t, db, "C2")
	require.NoError(t, db.Model(&lost).Update("status", models.CopyLost).Error)

	tests := []struct {
		name string
		in   BorrowInput
		kind apperrors.Kind
	}{
		{"unknown patron", BorrowInput{PatronID: 999, CopyID: bookCopy.ID}, apperrors.KindNotFound},
		{"unknown copy", BorrowInput{PatronID: patron.ID, CopyID: 999}, apperrors.KindNotFound},
		{"lost copy", BorrowInput{PatronID: patron.ID, CopyID: lost.ID}, apperrors.KindInvalidState},
		{
			"due before borrow",
			BorrowInput{PatronID: patron.ID, CopyID: bookCopy.ID, BorrowDate: ptr(day("2024-03-10")), DueDate: ptr(day("2024-03-09"))},
			apperrors.KindInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Borrow(ctx, tt.in)
			assert.True(t, apperrors.Is(err, tt.kind), "got %v", err)
		})
	}

	var loans int64
	require.NoError(t, db.Model(&models.Loan{}).Count(&loans).Error)
	assert.Zero(t, loans)
	assert.Equal(t, models.CopyAvailable, copyStatus(t, db, bookCopy.ID))
}

func TestBorrowSameCopyTwice(t *testing.T) {
	db := setupTestDB()
	svc := NewService(db, 14, nil)
	ctx := context.Background()
	first := seedPatron(t, db, 1)
	second := seedPatron(t, db, 2)
	bookCopy := seedCopy(t, db, "C1")

	_, err := svc.Borrow(ctx, BorrowInput{PatronID: first.ID, CopyID: bookCopy.ID})
	require.NoError(t, err)
	_, err = svc.Borrow(ctx, BorrowInput{PatronID: second.ID, CopyID: bookCopy.ID})

	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))
}

// The test database has a single connection, so these borrows are serialized
// and the losers are turned away by the availability check before the update.
// TestBorrowLosesRaceAfterAvailabilityCheck covers the conditional update itself.
func TestConcurrentBorrowOnlyOneWins(t *testing.T) {
	db := setupTestDB()
	svc := NewService(db, 14, nil)
	bookCopy := seedCopy(t, db, "HOT")
	var patrons []models.Patron
	for i := 0; i < 8; i++ {
		patrons = append(patrons, seedPatron(t, db, i))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		rejected int
	)
	for _, p := range patrons {
		wg.Add(1)
		go func(patronID uint) {
			defer wg.Done()
			_, err := svc.Borrow(context.Background(), BorrowInput{PatronID: patronID, CopyID: bookCopy.ID})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if apperrors.Is(err, apperrors.KindInvalidState) {
				rejected++
			}
		}(p.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, len(patrons)-1, rejected)
	var active int64
	require.NoError(t, db.Model(&models.Loan{}).Where("copy_id = ?", bookCopy.ID).Count(&active).Error)
	assert.Equal(t, int64(1), active)
}

func TestReturnFreesCopy(t *testing.T) {
	db := setupTestDB()
	svc := NewService(db, 14, nil).WithClock(fixedClock("2024-01-06"))
	ctx := context.Background()
	patron := seedPatron(t, db, 1)
	bookCopy := seedCopy(t, db, "C1")
	loan, err := svc.Borrow(ctx, BorrowInput{PatronID: patron.ID, CopyID: bookCopy.ID, BorrowDate: ptr(day("2023-12-18")), DueDate: ptr(day("2024-01-01"))})
	require.NoError(t, err)

	returned, err := svc.Return(ctx, loan.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.LoanReturned, returned.Status)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, day("2024-01-06"), *returned.ReturnDate)
	assert.Equal(t, models.CopyAvailable, copyStatus(t, db, bookCopy.ID))

	_, err = svc.Return(ctx, loan.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))

	_, err = svc.Borrow(ctx, BorrowInput{PatronID: patron.ID, CopyID: bookCopy.ID})
	assert.NoError(t, err)
}

func TestReturnValidation(t *testing.T) {
	db := setupTestDB()
	svc := NewService(db, 14, nil)
	ctx := context.Background()
	patron := seedPatron(t, db, 1)
	bookCopy := seedCopy(t, db, "C1")
	loan, err := svc.Borrow(ctx, BorrowInput{PatronID: patron.ID, CopyID: bookCopy.ID, BorrowDate: ptr(day("2024-02-01"))})
	require.NoError(t, err)

	_, err = svc.Return(ctx, 999, nil)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	_, err = svc.Return(ctx, loan.ID, ptr(day("2024-01-31")))
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))
	assert.Equal(t, models.CopyBorrowed, copyStatus(t, db, bookCopy.ID))
}

func TestSweepOverdue(t *testing.T) {
	db := setupTestDB()
	svc := NewService(db, 14, nil).WithClock(fixedClock("2024-01-20"))
	ctx := context.Background()
	patron := seedPatron(t, db, 1)

	late, err := svc.Borrow(ctx, BorrowInput{PatronID: patron.ID, CopyID: seedCopy(t, db, "C1").ID, BorrowDate: ptr(day("2024-01-01")), DueDate: ptr(day("2024-01-15"))})
	require.NoError(t, err)
	dueToday, err := svc.Borrow(ctx, BorrowInput{PatronID: patron.ID, CopyID: seedCopy(t, db, "C2").ID, BorrowDate: ptr(day("2024-01-06")), DueDate: ptr(day("2024-01-20"))})
	require.NoError(t, err)
	returnedLate, err := svc.Borrow(ctx, BorrowInput{PatronID: patron.ID, CopyID: seedCopy(t, db, "C3").ID, BorrowDate: ptr(day("2024-01-01")), DueDate: ptr(day("2024-01-10"))})
	require.NoError(t, err)
	_, err = svc.Return(ctx, returnedLate.ID, ptr(day("2024-01-12")))
	require.NoError(t, err)

	marked, err := svc.SweepOverdue(ctx, day("2024-01-20"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	again, err := svc.SweepOverdue(ctx, day("2024-01-20"))
	require.NoError(t, err)
	assert.Zero(t, again)

	got, err := svc.Get(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanOverdue, got.Status)
	got, err = svc.Get(ctx, dueToday.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanBorrowed, got.Status)

	returned, err := svc.Return(ctx, late.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.LoanReturned, returned.Status)
}

func TestQueries(t *testing.T) {
	db := setupTestDB()
	svc := NewService(db, 14, nil).WithClock(fixedClock("2024-02-01"))
	ctx := context.Background()
	alice := seedPatron(t, db, 1)
	bob := seedPatron(t, db, 2)

	overdue, err := svc.Borrow(ctx, BorrowInput{PatronID: alice.ID, CopyID: seedCopy(t, db, "C1").ID, BorrowDate: ptr(day("2024-01-01"))})
	require.NoError(t, err)
	current, err := svc.Borrow(ctx, BorrowInput{PatronID: alice.ID, CopyID: seedCopy(t, db, "C2").ID, BorrowDate: ptr(day("2024-01-25"))})
	require.NoError(t, err)
	done, err := svc.Borrow(ctx, BorrowInput{PatronID: bob.ID, CopyID: seedCopy(t, db, "C3").ID, BorrowDate: ptr(day("2024-01-02"))})
	require.NoError(t, err)
	_, err = svc.Return(ctx, done.ID, ptr(day("2024-01-20")))
	require.NoError(t, err)

	all, err := svc.ByPatron(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := svc.ActiveByPatron(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	late, err := svc.Overdue(ctx, 0)
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.Equal(t, overdue.ID, late[0].ID)

	byCopy, err := svc.ByCopy(ctx, current.CopyID)
	require.NoError(t, err)
	require.Len(t, byCopy, 1)
	assert.Equal(t, "Book C2", byCopy[0].Copy.Book.Title)

	returned, err := svc.ByStatus(ctx, models.LoanReturned)
	require.NoError(t, err)
	assert.Len(t, returned, 1)
	_, err = svc.ByStatus(ctx, "LOST")
	assert.True(t, apperrors.Is(err, apperrors.KindValidationFailed))

	early, err := svc.BorrowedBetween(ctx, day("2024-01-01"), day("2024-01-02"))
	require.NoError(t, err)
	assert.Len(t, early, 2)
	_, err = svc.BorrowedBetween(ctx, day("2024-01-02"), day("2024-01-01"))
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))

	due, err := svc.DueBetween(ctx, day("2024-02-08"), day("2024-02-08"))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, current.ID, due[0].ID)

	count, err := svc.CountActive(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ok, _, err := svc.CanBorrow(ctx, alice.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _, err = svc.CanBorrow(ctx, bob.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	page, total, err := svc.Page(ctx, Filter{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 1)
}

func ptr[T any](v T) *T { return &v }

// afterFirstQuery runs fn once, inside the caller's transaction, right after
// the first query against table. It stands in for a writer that commits
// between a service's read and its conditional update.
func afterFirstQuery(t *testing.T, db *gorm.DB, table string, fn func(tx *gorm.DB)) *int {
	t.Helper()
	fired := 0
	err := db.Callback().Query().After("gorm:query").Register("test:after_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table != table || tx.Error != nil || fired > 0 {
			return
		}
		fired++
		fn(tx.Session(&gorm.Session{NewDB: true}))
	})
	require.NoError(t, err)
	return &fired
}

func TestBorrowLosesRaceAfterAvailabilityCheck(t *testing.T) {
	db := setupTestDB()
	svc := NewService(db, 14, nil)
	patron := seedPatron(t, db, 1)
	bookCopy := seedCopy(t, db, "RACE")

	fired := afterFirstQuery(t, db, "book_copies", func(tx *gorm.DB) {
		assert.NoError(t, tx.Exec("UPDATE book_copies SET status = ? WHERE id = ?", models.CopyBorrowed, bookCopy.ID).Error)
	})

	_, err := svc.Borrow(context.Background(), BorrowInput{PatronID: patron.ID, CopyID: bookCopy.ID})

	assert.Equal(t, 1, *fired)
	require.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	assert.Equal(t, fmt.Sprintf("copy %d is not available", bookCopy.ID), err.Error())
	var loans int64
	require.NoError(t, db.Model(&models.Loan{}).Count(&loans).Error)
	assert.Zero(t, loans)
}

func TestReturnLosesRaceAfterStatusCheck(t *testing.T) {
	db := setupTestDB()
	svc := NewService(db, 14, nil)
	ctx := context.Background()
	patron := seedPatron(t, db, 1)
	bookCopy := seedCopy(t, db, "RACE")
	loan, err := svc.Borrow(ctx, BorrowInput{PatronID: patron.ID, CopyID: bookCopy.ID})
	require.NoError(t, err)

	fired := afterFirstQuery(t, db, "loans", func(tx *gorm.DB) {
		assert.NoError(t, tx.Exec("UPDATE loans SET status = ? WHERE id = ?", models.LoanReturned, loan.ID).Error)
	})

	_, err = svc.Return(ctx, loan.ID, nil)

	assert.Equal(t, 1, *fired)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	assert.Equal(t, models.CopyBorrowed, copyStatus(t, db, bookCopy.ID))
}
