package models

import (
	"strings"
	"time"
)

// DateOf truncates t to midnight UTC. All lending dates are compared as calendar days.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b (negative when b precedes a).
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// NormalizeEmail is applied to every email before it is stored or looked up.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewPatron fills the registration defaults once. passwordHash must already be hashed.
func NewPatron(firstName, lastName, email, phone, address, passwordHash string) Patron {
	return Patron{
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Email:        NormalizeEmail(email),
		Phone:        strings.TrimSpace(phone),
		Address:      strings.TrimSpace(address),
		PasswordHash: passwordHash,
		Status:       AccountActive,
	}
}

// NewStaff fills the staff defaults: role STAFF when empty, status ACTIVE,
// and hire date today when zero.
func NewStaff(firstName, lastName, email, phone, passwordHash string, role Role, hireDate time.Time, now time.Time) Staff {
	if role == "" {
		role = RoleStaff
	}
	if hireDate.IsZero() {
		hireDate = now
	}
	return Staff{
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Email:        NormalizeEmail(email),
		Phone:        strings.TrimSpace(phone),
		PasswordHash: passwordHash,
		Role:         role,
		Status:       AccountActive,
		HireDate:     DateOf(hireDate),
	}
}
