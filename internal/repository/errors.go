// Package repository persists identities, friend edges and posts. Every
// store translates driver errors into the sentinels in package model so that
// services and handlers never see sql.ErrNoRows, MySQL error numbers or
// mongo.ErrNoDocuments. For example, a unique email violation surfaces as
// model.ErrDuplicateIdentity whichever backend is configured.
package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/vibe/internal/model"
)

// mysqlErrDuplicateEntry is ER_DUP_ENTRY.
const mysqlErrDuplicateEntry = 1062

// isDuplicateKey reports whether err is a MySQL unique-key violation.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlErrDuplicateEntry
	}
	return false
}

// notFound maps sql.ErrNoRows to model.ErrNotFound and passes every other
// error through unchanged.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

// NormalizeEmail lower-cases and trims an email address. Every store lookup
// and insert goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
