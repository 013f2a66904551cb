package store

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"competition-engine/logger"
	"competition-engine/models"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Models lists every table owned by the engine, in dependency order.
var Models = []any{
	&models.Competition{},
	&models.Participation{},
	&models.Snapshot{},
	&models.RankingEntry{},
	&models.FinalizationAttempt{},
	&models.ScoreAccumulator{},
	&models.GameSession{},
	&models.Alert{},
	&models.PayoutConfirmation{},
}

// zapWriter sends gorm's log lines to the process logger. The logger is
// looked up per line so a later logger.Set takes effect.
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...any) {
	logger.L().Named("gorm").Warn(fmt.Sprintf(format, args...))
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(zapWriter{}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to the configured database. driver is postgres or sqlite.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		db, err := gorm.Open(postgres.Open(dsn), gormConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	case "sqlite":
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenSQLite opens a SQLite database for local development and tests. A
// single connection serializes writers the way row locks do on Postgres.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=on"), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// AutoMigrate creates the schema through gorm. Used for SQLite, where the
// weekly overlap rule is enforced by the gateway alone.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_competitions_one_active_per_kind ON competitions (kind) WHERE status = 'active'",
	).Error; err != nil {
		return fmt.Errorf("failed to create active competition index: %w", err)
	}
	return nil
}

// RunMigrations applies the embedded Postgres migrations.
func RunMigrations(dsn string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Migrate brings the schema up to date for the given driver.
func Migrate(db *gorm.DB, driver, dsn string) error {
	if driver == "postgres" {
		return RunMigrations(dsn)
	}
	return AutoMigrate(db)
}
