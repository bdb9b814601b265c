package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports whether err is a unique-constraint violation.
// The idempotent insert paths (usage records, escrow holdings) treat this as
// "row already exists", not a failure. TranslateError covers most drivers;
// the string checks catch the ones that slip through untranslated.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	for _, marker := range []string{
		"duplicate key value violates unique constraint", // postgres 23505
		"Error 1062",                // mysql
		"UNIQUE constraint failed",  // sqlite
		"constraint failed: UNIQUE", // glebarez sqlite
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
