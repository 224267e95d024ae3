package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/greenofig/greenofig/pkg/logger"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialects accepted by Migrate
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Migrate applies the embedded schema migrations to db.
// goose keeps package-level state, so concurrent calls must not use different dialects.
func Migrate(ctx context.Context, db *sql.DB, dialect string, log logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{log: log.With("component", "migrate")})

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed setting migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed applying migrations: %w", err)
	}

	return nil
}

// gooseLogger routes goose's printf output through the structured logger
type gooseLogger struct {
	log logger.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.log.Info(fmt.Sprintf(format, v...))
}
