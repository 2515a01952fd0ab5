package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Patron struct {
	ID           uint          `gorm:"primaryKey"`
	FirstName    string        `gorm:"size:80;not null"`
	LastName     string        `gorm:"size:80;not null"`
	Email        string        `gorm:"size:120;not null;uniqueIndex"`
	Phone        string        `gorm:"size:32;not null;uniqueIndex"`
	Address      string        `gorm:"size:255"`
	PasswordHash string        `gorm:"size:100;not null"`
	Status       AccountStatus `gorm:"size:20;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Staff struct {
	ID           uint          `gorm:"primaryKey"`
	FirstName    string        `gorm:"size:80;not null"`
	LastName     string        `gorm:"size:80;not null"`
	Email        string        `gorm:"size:120;not null;uniqueIndex"`
	Phone        string        `gorm:"size:32;not null;uniqueIndex"`
	PasswordHash string        `gorm:"size:100;not null"`
	Role         Role          `gorm:"size:20;not null"`
	Status       AccountStatus `gorm:"size:20;not null"`
	HireDate     time.Time     `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Staff) TableName() string { return "staff" }

type Book struct {
	ID        uint    `gorm:"primaryKey"`
	Title     string  `gorm:"size:255;not null"`
	Author    string  `gorm:"size:255"`
	Genre     string  `gorm:"size:80"`
	Publisher string  `gorm:"size:255"`
	ISBN      *string `gorm:"size:20;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type BookCopy struct {
	ID        uint       `gorm:"primaryKey"`
	BookID    uint       `gorm:"not null;index"`
	Barcode   string     `gorm:"size:64;not null;uniqueIndex"`
	Status    CopyStatus `gorm:"size:20;not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Book Book `gorm:"foreignKey:BookID"`
}

// Loan is one lending transaction. ReturnDate stays nil until the copy comes back.
type Loan struct {
	ID         uint      `gorm:"primaryKey"`
	PatronID   uint      `gorm:"not null;index"`
	CopyID     uint      `gorm:"not null;index"`
	BorrowDate time.Time `gorm:"not null"`
	DueDate    time.Time `gorm:"not null;index"`
	ReturnDate *time.Time
	Status     LoanStatus `gorm:"size:20;not null;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Patron Patron   `gorm:"foreignKey:PatronID"`
	Copy   BookCopy `gorm:"foreignKey:CopyID"`
}

// Fine is tied to exactly one loan; the unique index on loan_id is what
// rejects a second assessment racing the first.
type Fine struct {
	ID           uint            `gorm:"primaryKey"`
	LoanID       uint            `gorm:"not null;uniqueIndex"`
	Amount       decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	AssessedDate time.Time       `gorm:"not null"`
	Status       FineStatus      `gorm:"size:20;not null;index"`
	Reason       string          `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Loan Loan `gorm:"foreignKey:LoanID"`
}

type Payment struct {
	ID            uint            `gorm:"primaryKey"`
	FineID        uint            `gorm:"not null;index"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	PaymentDate   *time.Time
	Method        PaymentMethod `gorm:"size:20;not null"`
	TransactionID *string       `gorm:"size:100;uniqueIndex"`
	Status        PaymentStatus `gorm:"size:20;not null;index"`
	FailureReason string        `gorm:"size:255"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Fine Fine `gorm:"foreignKey:FineID"`
}

// All returns every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&Patron{}, &Staff{}, &Book{}, &BookCopy{}, &Loan{}, &Fine{}, &Payment{},
	}
}
