package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/lumenworks/lumen/pkg/logger"
	"github.com/pressly/goose/v3"
	sqldblogger "github.com/simukti/sqldb-logger"
)

const (
	SqlDialect          = "postgres"
	SqlConnectionString = "host=%s user=%s password=%s dbname=%s port=%s sslmode=disable"
)

var (
	//go:embed migrations/*.sql
	migrations embed.FS

	dbLogger = logger.Get("DB")
)

type (
	DatabaseConfig struct {
		User     string `yaml:"username" env:"DB_USERNAME" env-required:"true"`
		Password string `yaml:"password" env:"DB_PASSWORD" env-required:"true"`
		Name     string `yaml:"name" env:"DB_NAME" env-default:"LUMEN_DB"`
		Host     string `yaml:"host" env:"DB_HOST" env-default:"0.0.0.0"`
		Port     string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	}

	// Queryable is the subset of sqlx behaviour the stores depend
	// on; both *sqlx.DB and *sqlx.Tx satisfy it, which lets store
	// methods run equally inside or outside a transaction.
	Queryable interface {
		Exec(query string, args ...any) (sql.Result, error)
		Get(dest any, query string, args ...any) error
		Select(dest any, query string, args ...any) error
		Rebind(query string) string
	}

	SqlLogger struct {
		logger logger.Logger
	}

	Manager interface {
		Connect(DatabaseConfig) error
		GetSqlxDb() *sqlx.DB
		WrapTx(func(*sqlx.Tx) error) error
	}

	manager struct {
		rawDb *sql.DB
		db    *sqlx.DB
	}
)

func New() *manager {
	return &manager{}
}

func (db *manager) Connect(config DatabaseConfig) error {
	dsn := fmt.Sprintf(SqlConnectionString, config.Host, config.User, config.Password, config.Name, config.Port)
	rawDb, err := sql.Open(SqlDialect, dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	rawDb = sqldblogger.OpenDriver(dsn, rawDb.Driver(), &SqlLogger{dbLogger})

	attempt := 1
	for {
		err := rawDb.Ping()
		if err != nil {
			if attempt >= 5 {
				dbLogger.Emit(logger.ERROR, "All connection attempts FAILED!\n")
				return err
			}

			dbLogger.Emit(logger.WARNING, "Attempt (%v/5) failed... Retrying in 3s\n", attempt)
			attempt++
			time.Sleep(time.Second * 3)
			continue
		}

		db.rawDb = rawDb
		db.db = sqlx.NewDb(rawDb, SqlDialect)

		break
	}

	if err := db.executeMigrations(); err != nil {
		return err
	}

	dbLogger.Emit(logger.SUCCESS, "Database connection complete!\n")
	return nil
}

// executeMigrations uses the comp-time embedded SQL migrations (found in the
// 'migrations' dir in this package) and runs them against the current DB instance.
func (db *manager) executeMigrations() error {
	if db.rawDb == nil {
		return errors.New("cannot execute migrations when DB manager has not yet connected")
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(dbLogger)
	if err := goose.SetDialect(SqlDialect); err != nil {
		return fmt.Errorf("failed to set dialect for DB migration: %w", err)
	}

	dbLogger.Emit(logger.INFO, "Checking for pending DB migrations...\n")
	if err := goose.Up(db.rawDb, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate DB: %w", err)
	}

	dbLogger.Emit(logger.SUCCESS, "DB migrations complete!\n")
	return nil
}

// GetSqlxDb returns the sqlx database connection if one has been opened
// using 'Connect'. Otherwise, nil is returned.
func (db *manager) GetSqlxDb() *sqlx.DB {
	return db.db
}

// WrapTx is a convenience method around the top-level WrapTx, which simply
// uses the managers DB instance as the first argument.
func (db *manager) WrapTx(f func(tx *sqlx.Tx) error) error {
	if db.db == nil {
		return errors.New("DB manager has not yet connected")
	}

	return WrapTx(db.db, f)
}

func (l *SqlLogger) Log(_ context.Context, level sqldblogger.Level, msg string, data map[string]any) {
	template := "%s - %v\n"
	switch level {
	case sqldblogger.LevelTrace:
		l.logger.Verbosef(template, msg, data)
	case sqldblogger.LevelDebug, sqldblogger.LevelInfo:
		duration := data["duration"]
		query, ok := data["query"]
		if ok {
			l.logger.Verbosef("%s [%.2fms] -- %s\n", msg, duration, query)
		} else {
			l.logger.Verbosef("%s [%.2fms]\n", msg, duration)
		}
	case sqldblogger.LevelError:
		l.logger.Errorf(template, msg, data)
	}
}

// WrapTx starts a transaction against the provided DB, and then calls the user
// provided function. If this function errors, the transaction is rolled back -
// otherwise the transaction is committed.
func WrapTx(db *sqlx.DB, f func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		dbLogger.Errorf("Transaction failed... rolling back. Error: %s\n", err.Error())
		return err
	}

	return tx.Commit()
}

// JsonColumn is a generic wrapper that allows any JSON-serializable
// type to be stored/loaded against a Postgres JSONB column via sqlx.
type JsonColumn[T any] struct {
	val *T
}

func NewJsonColumn[T any](val *T) JsonColumn[T] {
	return JsonColumn[T]{val: val}
}

func (j *JsonColumn[T]) Get() *T { return j.val }

func (j *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		j.val = nil
		return nil
	}

	var raw []byte
	switch src := src.(type) {
	case []byte:
		raw = src
	case string:
		raw = []byte(src)
	default:
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}

	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}

	j.val = out
	return nil
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	if j.val == nil {
		return nil, nil
	}

	return json.Marshal(j.val)
}
