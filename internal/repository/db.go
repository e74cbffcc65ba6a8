package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"family-planner/internal/model"
)

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{
		&model.User{},
		&model.Family{},
		&model.FamilyMember{},
		&model.WorkDay{},
		&model.Vacation{},
		&model.CalendarSubscription{},
		&model.CalendarEvent{},
		&model.Task{},
		&model.ScheduledTaskInstance{},
		&model.WeeklyPlan{},
		&model.WeeklyPlanItem{},
		&model.WeeklyPlanApproval{},
	}
}

// NewDB opens a SQLite database and runs migrations.
func NewDB(dsn string, log *zap.Logger, production bool) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "family_planner.db"
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	level := logger.Info
	if production {
		level = logger.Warn
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewZapGormLogger(log, level, !production),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	zap.L().Info("[DB] database ready", zap.String("dsn", dsn))
	return db, nil
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	// Ignore DSNs with explicit mode=memory or network.
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	// Strip file: prefix if present.
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}
