package testfixtures

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/pkg/database"
)

// NewDB opens a migrated SQLite database in a temporary directory. The
// connection is closed when the test ends.
func NewDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "chat.db")
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	if err != nil {
		tb.Fatalf("failed to open database: %v", err)
	}

	if err := database.AutoMigrate(db, domain.Models()...); err != nil {
		_ = database.Close(db)
		tb.Fatalf("failed to migrate database: %v", err)
	}

	tb.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}
