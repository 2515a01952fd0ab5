package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"library_service/pkg/apperrors"
	"library_service/pkg/auth"
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

func newTestService(db *gorm.DB) *Service {
	tokens := auth.NewTokenService("test-secret", time.Hour, "test")
	return NewService(db, auth.NewBcryptHasher(bcrypt.MinCost), tokens, nil)
}

func registerInput(email, phone string) RegisterPatronInput {
	return RegisterPatronInput{
		FirstName: "Test",
		LastName:  "Reader",
		Email:     email,
		Phone:     phone,
		Password:  "password123",
	}
}

func TestRegisterPatron(t *testing.T) {
	svc := newTestService(setupTestDB())

	patron, err := svc.RegisterPatron(context.Background(), registerInput("Reader@Example.com", "555-0100"))
	require.NoError(t, err)

	assert.NotZero(t, patron.ID)
	assert.Equal(t, "reader@example.com", patron.Email)
	assert.Equal(t, models.AccountActive, patron.Status)
	assert.NotEqual(t, "password123", patron.PasswordHash)
}

func TestRegisterPatronDuplicateContact(t *testing.T) {
	svc := newTestService(setupTestDB())
	ctx := context.Background()
	_, err := svc.RegisterPatron(ctx, registerInput("reader@example.com", "555-0100"))
	require.NoError(t, err)

	_, err = svc.RegisterPatron(ctx, registerInput("READER@example.com", "555-0199"))
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))

	_, err = svc.RegisterPatron(ctx, registerInput("other@example.com", "555-0100"))
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))
}

func TestRegisterPatronValidation(t *testing.T) {
	svc := newTestService(setupTestDB())

	_, err := svc.RegisterPatron(context.Background(), RegisterPatronInput{Email: "nope", Password: "short"})

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindValidationFailed, appErr.Kind)
	assert.Contains(t, appErr.Fields, "email")
	assert.Contains(t, appErr.Fields, "password")
	assert.Contains(t, appErr.Fields, "firstName")
	assert.Contains(t, appErr.Fields, "phone")
}

func TestLoginPatron(t *testing.T) {
	db := setupTestDB()
	svc := newTestService(db)
	ctx := context.Background()
	_, err := svc.RegisterPatron(ctx, registerInput("reader@example.com", "555-0100"))
	require.NoError(t, err)

	token, patron, err := svc.LoginPatron(ctx, "reader@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", patron.Email)

	identity, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, identity.Role)
	assert.Equal(t, "reader@example.com", identity.Email)
}

func TestLoginPatronFailures(t *testing.T) {
	db := setupTestDB()
	svc := newTestService(db)
	ctx := context.Background()
	patron, err := svc.RegisterPatron(ctx, registerInput("reader@example.com", "555-0100"))
	require.NoError(t, err)

	_, _, err = svc.LoginPatron(ctx, "reader@example.com", "wrong-password")
	assert.True(t, apperrors.Is(err, apperrors.KindAuthenticationFailed))

	_, _, err = svc.LoginPatron(ctx, "nobody@example.com", "password123")
	assert.True(t, apperrors.Is(err, apperrors.KindAuthenticationFailed))

	_, err = svc.UpdatePatronStatus(ctx, patron.ID, models.AccountSuspended)
	require.NoError(t, err)
	_, _, err = svc.LoginPatron(ctx, "reader@example.com", "password123")
	assert.True(t, apperrors.Is(err, apperrors.KindAuthenticationFailed))
	assert.Contains(t, err.Error(), "suspended")
}

func TestCreateStaffAndLogin(t *testing.T) {
	svc := newTestService(setupTestDB())
	ctx := context.Background()

	staff, err := svc.CreateStaff(ctx, CreateStaffInput{
		FirstName: "Ada",
		LastName:  "Admin",
		Email:     "ada@library.org",
		Phone:     "555-0200",
		Password:  "password123",
		Role:      models.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, staff.Role)
	assert.False(t, staff.HireDate.IsZero())

	token, _, err := svc.LoginStaff(ctx, "ada@library.org", "password123")
	require.NoError(t, err)
	identity, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, identity.Role)
}

func TestCreateStaffRejectsUserRole(t *testing.T) {
	svc := newTestService(setupTestDB())

	_, err := svc.CreateStaff(context.Background(), CreateStaffInput{
		FirstName: "Ui",
		LastName:  "User",
		Email:     "ui@library.org",
		Phone:     "555-0201",
		Password:  "password123",
		Role:      models.RoleUser,
	})

	assert.True(t, apperrors.Is(err, apperrors.KindValidationFailed))
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(setupTestDB())
	ctx := context.Background()
	_, err := svc.RegisterPatron(ctx, registerInput("reader@example.com", "555-0100"))
	require.NoError(t, err)
	identity := auth.Identity{Email: "reader@example.com", Role: models.RoleUser}

	err = svc.ChangePassword(ctx, identity, "wrong-password", "new-password-1")
	assert.True(t, apperrors.Is(err, apperrors.KindAuthenticationFailed))

	require.NoError(t, svc.ChangePassword(ctx, identity, "password123", "new-password-1"))

	_, _, err = svc.LoginPatron(ctx, "reader@example.com", "password123")
	assert.Error(t, err)
	_, _, err = svc.LoginPatron(ctx, "reader@example.com", "new-password-1")
	assert.NoError(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := newTestService(setupTestDB())

	_, err := svc.Verify("garbage")

	assert.True(t, apperrors.Is(err, apperrors.KindAuthenticationFailed))
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestDeletePatronWithLoanHistory(t *testing.T) {
	db := setupTestDB()
	svc := newTestService(db)
	ctx := context.Background()
	patron, err := svc.RegisterPatron(ctx, registerInput("reader@example.com", "555-0100"))
	require.NoError(t, err)

	book := models.Book{Title: "Dune"}
	require.NoError(t, db.Create(&book).Error)
	bookCopy := models.BookCopy{BookID: book.ID, Barcode: "BC-1", Status: models.CopyBorrowed}
	require.NoError(t, db.Create(&bookCopy).Error)
	loan := models.Loan{PatronID: patron.ID, CopyID: bookCopy.ID, BorrowDate: time.Now(), DueDate: time.Now(), Status: models.LoanOverdue}
	require.NoError(t, db.Create(&loan).Error)

	err = svc.DeletePatron(ctx, patron.ID)
	require.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	assert.Contains(t, err.Error(), "active loan")

	require.NoError(t, db.Model(&loan).Update("status", models.LoanReturned).Error)
	err = svc.DeletePatron(ctx, patron.ID)
	require.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	assert.Contains(t, err.Error(), "loan history")

	var loans int64
	require.NoError(t, db.Model(&models.Loan{}).Where("patron_id = ?", patron.ID).Count(&loans).Error)
	assert.Equal(t, int64(1), loans)
	_, err = svc.GetPatron(ctx, patron.ID)
	assert.NoError(t, err)
}

func TestDeletePatronWithoutHistory(t *testing.T) {
	svc := newTestService(setupTestDB())
	ctx := context.Background()
	patron, err := svc.RegisterPatron(ctx, registerInput("reader@example.com", "555-0100"))
	require.NoError(t, err)

	require.NoError(t, svc.DeletePatron(ctx, patron.ID))

	_, err = svc.GetPatron(ctx, patron.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestListPatrons(t *testing.T) {
	svc := newTestService(setupTestDB())
	ctx := context.Background()
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := svc.RegisterPatron(ctx, registerInput(email, "555-010"+string(rune('0'+i))))
		require.NoError(t, err)
	}

	patrons, total, err := svc.ListPatrons(ctx, "", 1, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(3), total)
	assert.Len(t, patrons, 2)
}

func TestDeleteStaffNotFound(t *testing.T) {
	svc := newTestService(setupTestDB())

	err := svc.DeleteStaff(context.Background(), 42)

	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}
