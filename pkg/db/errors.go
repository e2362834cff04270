package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
)

// IsUniqueViolation reports whether err is a unique index conflict from Postgres
// or SQLite. When constraintName is provided, the error text must mention it.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	if constraintName != "" && !strings.Contains(msg, constraintName) {
		return false
	}
	if pkgerrors.Dump(err).PGCode == pkgerrors.UniqueViolationCode {
		return true
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsNotFound reports whether err is gorm's record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
