package accounts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"library_service/pkg/apperrors"
	"library_service/pkg/auth"
	"library_service/pkg/models"
)

const minPasswordLength = 8

type RegisterPatronInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	Password  string
}

type CreateStaffInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Password  string
	Role      models.Role
	HireDate  time.Time
}

// Service is the identity and credential store for patrons and staff.
type Service struct {
	db     *gorm.DB
	hasher auth.Hasher
	tokens *auth.TokenService
	log    *slog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, hasher auth.Hasher, tokens *auth.TokenService, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, hasher: hasher, tokens: tokens, log: log, now: time.Now}
}

func (s *Service) RegisterPatron(ctx context.Context, in RegisterPatronInput) (*models.Patron, error) {
	if err := validateAccount(in.FirstName, in.LastName, in.Email, in.Phone, in.Password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	patron := models.NewPatron(in.FirstName, in.LastName, in.Email, in.Phone, in.Address, hash)
	db := s.db.WithContext(ctx)
	if err := checkContactUnique(db, &models.Patron{}, patron.Email, patron.Phone, 0); err != nil {
		return nil, err
	}
	if err := db.Create(&patron).Error; err != nil {
		return nil, translateCreate(err, "patron")
	}

	s.log.Info("patron registered", "patron_id", patron.ID)
	return &patron, nil
}

// LoginPatron checks credentials and returns a USER token.
func (s *Service) LoginPatron(ctx context.Context, email, password string) (string, *models.Patron, error) {
	var patron models.Patron
	err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&patron).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, errBadCredentials()
		}
		return "", nil, errors.Wrap(err, "load patron")
	}
	if !s.hasher.Compare(patron.PasswordHash, password) {
		return "", nil, errBadCredentials()
	}
	if patron.Status != models.AccountActive {
		return "", nil, apperrors.AuthenticationFailed("account is "+strings.ToLower(string(patron.Status)), nil)
	}

	token, err := s.tokens.Issue(patron.Email, models.RoleUser)
	if err != nil {
		return "", nil, errors.Wrap(err, "issue token")
	}
	return token, &patron, nil
}

// LoginStaff checks credentials and returns a token carrying the staff role.
func (s *Service) LoginStaff(ctx context.Context, email, password string) (string, *models.Staff, error) {
	var staff models.Staff
	err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&staff).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, errBadCredentials()
		}
		return "", nil, errors.Wrap(err, "load staff")
	}
	if !s.hasher.Compare(staff.PasswordHash, password) {
		return "", nil, errBadCredentials()
	}
	if staff.Status != models.AccountActive {
		return "", nil, apperrors.AuthenticationFailed("account is "+strings.ToLower(string(staff.Status)), nil)
	}

	token, err := s.tokens.Issue(staff.Email, staff.Role)
	if err != nil {
		return "", nil, errors.Wrap(err, "issue token")
	}
	return token, &staff, nil
}

func (s *Service) Verify(token string) (auth.Identity, error) {
	identity, err := s.tokens.Validate(token)
	if err != nil {
		return auth.Identity{}, apperrors.AuthenticationFailed(err.Error(), err)
	}
	return identity, nil
}

// ChangePassword replaces the credential of the account behind identity after
// verifying the current password.
func (s *Service) ChangePassword(ctx context.Context, identity auth.Identity, current, next string) error {
	if len(next) < minPasswordLength {
		return apperrors.Field("newPassword", "must be at least 8 characters")
	}

	var model interface{} = &models.Patron{}
	if identity.Role != models.RoleUser {
		model = &models.Staff{}
	}

	var stored struct {
		ID           uint
		PasswordHash string
	}
	db := s.db.WithContext(ctx)
	err := db.Model(model).Select("id", "password_hash").Where("email = ?", identity.Email).Take(&stored).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.AuthenticationFailed("account no longer exists", nil)
		}
		return errors.Wrap(err, "load account")
	}
	if !s.hasher.Compare(stored.PasswordHash, current) {
		return apperrors.AuthenticationFailed("current password is incorrect", nil)
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	if err := db.Model(model).Where("id = ?", stored.ID).Update("password_hash", hash).Error; err != nil {
		return errors.Wrap(err, "update password")
	}

	s.log.Info("password changed", "role", identity.Role, "account_id", stored.ID)
	return nil
}

func (s *Service) CreateStaff(ctx context.Context, in CreateStaffInput) (*models.Staff, error) {
	if err := validateAccount(in.FirstName, in.LastName, in.Email, in.Phone, in.Password); err != nil {
		return nil, err
	}
	if in.Role != "" && in.Role != models.RoleStaff && in.Role != models.RoleAdmin {
		return nil, apperrors.Field("role", "must be STAFF or ADMIN")
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	staff := models.NewStaff(in.FirstName, in.LastName, in.Email, in.Phone, hash, in.Role, in.HireDate, s.now())
	db := s.db.WithContext(ctx)
	if err := checkContactUnique(db, &models.Staff{}, staff.Email, staff.Phone, 0); err != nil {
		return nil, err
	}
	if err := db.Create(&staff).Error; err != nil {
		return nil, translateCreate(err, "staff member")
	}

	s.log.Info("staff account created", "staff_id", staff.ID, "role", staff.Role)
	return &staff, nil
}

func (s *Service) GetPatron(ctx context.Context, id uint) (*models.Patron, error) {
	var patron models.Patron
	if err := s.db.WithContext(ctx).First(&patron, id).Error; err != nil {
		return nil, notFound(err, "patron", id)
	}
	return &patron, nil
}

func (s *Service) PatronByEmail(ctx context.Context, email string) (*models.Patron, error) {
	var patron models.Patron
	if err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&patron).Error; err != nil {
		return nil, notFound(err, "patron", email)
	}
	return &patron, nil
}

func (s *Service) ListPatrons(ctx context.Context, status models.AccountStatus, page, size int) ([]models.Patron, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Patron{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count patrons")
	}
	var patrons []models.Patron
	if err := query.Order("id").Offset((page - 1) * size).Limit(size).Find(&patrons).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list patrons")
	}
	return patrons, total, nil
}

func (s *Service) UpdatePatronStatus(ctx context.Context, id uint, status models.AccountStatus) (*models.Patron, error) {
	if !status.Valid() {
		return nil, apperrors.Field("status", "must be ACTIVE, INACTIVE or SUSPENDED")
	}
	patron, err := s.GetPatron(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(patron).Update("status", status).Error; err != nil {
		return nil, errors.Wrap(err, "update patron status")
	}
	patron.Status = status

	s.log.Info("patron status changed", "patron_id", id, "status", status)
	return patron, nil
}

// DeletePatron refuses while the patron still has a copy out, and once any
// loan references the patron at all.
func (s *Service) DeletePatron(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patron models.Patron
		if err := tx.First(&patron, id).Error; err != nil {
			return notFound(err, "patron", id)
		}
		var active int64
		err := tx.Model(&models.Loan{}).
			Where("patron_id = ? AND status IN ?", id, models.ActiveLoanStatuses).
			Count(&active).Error
		if err != nil {
			return errors.Wrap(err, "count active loans")
		}
		if active > 0 {
			return apperrors.InvalidState("patron %d has %d active loan(s)", id, active)
		}
		if err := tx.Delete(&patron).Error; err != nil {
			if errors.Is(err, gorm.ErrForeignKeyViolated) {
				return apperrors.InvalidState("patron %d has loan history; deactivate the account instead", id)
			}
			return errors.Wrap(err, "delete patron")
		}
		s.log.Info("patron deleted", "patron_id", id)
		return nil
	})
}

func (s *Service) GetStaff(ctx context.Context, id uint) (*models.Staff, error) {
	var staff models.Staff
	if err := s.db.WithContext(ctx).First(&staff, id).Error; err != nil {
		return nil, notFound(err, "staff member", id)
	}
	return &staff, nil
}

func (s *Service) StaffByEmail(ctx context.Context, email string) (*models.Staff, error) {
	var staff models.Staff
	if err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&staff).Error; err != nil {
		return nil, notFound(err, "staff member", email)
	}
	return &staff, nil
}

func (s *Service) ListStaff(ctx context.Context) ([]models.Staff, error) {
	var staff []models.Staff
	if err := s.db.WithContext(ctx).Order("id").Find(&staff).Error; err != nil {
		return nil, errors.Wrap(err, "list staff")
	}
	return staff, nil
}

func (s *Service) UpdateStaffStatus(ctx context.Context, id uint, status models.AccountStatus) (*models.Staff, error) {
	if !status.Valid() {
		return nil, apperrors.Field("status", "must be ACTIVE, INACTIVE or SUSPENDED")
	}
	staff, err := s.GetStaff(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(staff).Update("status", status).Error; err != nil {
		return nil, errors.Wrap(err, "update staff status")
	}
	staff.Status = status

	s.log.Info("staff status changed", "staff_id", id, "status", status)
	return staff, nil
}

func (s *Service) DeleteStaff(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Staff{}, id)
	if result.Error != nil {
		return errors.Wrap(result.Error, "delete staff")
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("staff member", id)
	}
	s.log.Info("staff deleted", "staff_id", id)
	return nil
}

func validateAccount(firstName, lastName, email, phone, password string) error {
	fields := map[string]string{}
	if strings.TrimSpace(firstName) == "" {
		fields["firstName"] = "is required"
	}
	if strings.TrimSpace(lastName) == "" {
		fields["lastName"] = "is required"
	}
	if e := models.NormalizeEmail(email); e == "" || !strings.Contains(e, "@") {
		fields["email"] = "must be a valid email address"
	}
	if strings.TrimSpace(phone) == "" {
		fields["phone"] = "is required"
	}
	if len(password) < minPasswordLength {
		fields["password"] = "must be at least 8 characters"
	}
	if len(fields) > 0 {
		return apperrors.ValidationFailed(fields)
	}
	return nil
}

// checkContactUnique gives a readable conflict before the unique indexes do.
func checkContactUnique(db *gorm.DB, model interface{}, email, phone string, exceptID uint) error {
	var count int64
	if err := db.Model(model).Where("email = ? AND id <> ?", email, exceptID).Count(&count).Error; err != nil {
		return errors.Wrap(err, "check email")
	}
	if count > 0 {
		return apperrors.Conflict("email %s is already registered", email)
	}
	if err := db.Model(model).Where("phone = ? AND id <> ?", phone, exceptID).Count(&count).Error; err != nil {
		return errors.Wrap(err, "check phone")
	}
	if count > 0 {
		return apperrors.Conflict("phone %s is already registered", phone)
	}
	return nil
}

func translateCreate(err error, entity string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.Conflict("%s with this email or phone already exists", entity)
	}
	return errors.Wrapf(err, "create %s", entity)
}

func notFound(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(entity, id)
	}
	return errors.Wrapf(err, "load %s", entity)
}

func errBadCredentials() error {
	return apperrors.AuthenticationFailed("invalid email or password", nil)
}
