package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/go-sql-driver/mysql"
)

// schemaStatements is the fixed, versionless schema the application needs:
// one entity with an auto-generated identifier and a text payload. There is
// no migration chain; the statements are conditional-create and may be
// applied any number of times, by any number of racing replicas.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id INT AUTO_INCREMENT PRIMARY KEY,
		message TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Execer is the subset of *sql.DB used by EnsureSchema.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EnsureSchema applies the conditional-create schema statements. The only
// error class it absorbs is "object already exists", which a sibling replica
// can still produce despite IF NOT EXISTS when two creates race; every other
// DDL failure is fatal. Existing objects are never dropped or altered.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isAlreadyExists(err) {
				slog.Debug("schema object already exists", "err", err)
				continue
			}
			return &SchemaError{Statement: firstLine(stmt), Cause: err}
		}
	}
	return nil
}

// "Already exists" server error numbers:
//
//	1007 ER_DB_CREATE_EXISTS
//	1050 ER_TABLE_EXISTS_ERROR
//	1061 ER_DUP_KEYNAME
//	1826 ER_DUP_CONSTRAINT_NAME
func isAlreadyExists(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case 1007, 1050, 1061, 1826:
		return true
	}
	return false
}

// firstLine trims a multi-line DDL statement down to something loggable.
func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' {
			return stmt[:i] + " …"
		}
	}
	return stmt
}
