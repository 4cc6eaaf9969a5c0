package services

import (
	"testing"

	"challenge-service/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory SQLite database with the full
// schema. SQLite ignores row-locking clauses, which is fine for these
// single-connection tests; the CAS guards are exercised directly.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to open test database")

	// A private in-memory DB lives and dies with its connection; pin the
	// pool to one so every query sees the same database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Challenge{},
		&models.ChallengeParticipant{},
		&models.LedgerEntry{},
		&models.XPAccount{},
		&models.ProcessedEvent{},
		&models.BusinessMirror{},
	))
	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// testEngine wires every service against one DB, notifier disabled.
type testEngine struct {
	db         *gorm.DB
	store      *ChallengeStore
	ledger     *LedgerService
	lifecycle  *LifecycleService
	progress   *ProgressService
	settlement *SettlementService
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	db := newTestDB(t)
	store := NewChallengeStore(db)
	ledger := NewLedgerService(db)
	return &testEngine{
		db:         db,
		store:      store,
		ledger:     ledger,
		lifecycle:  NewLifecycleService(db, store, ledger, nil),
		progress:   NewProgressService(db),
		settlement: NewSettlementService(db, store, ledger, nil),
	}
}

// seedBusiness registers a directory mirror row and an opening XP balance.
func (e *testEngine) seedBusiness(t *testing.T, id string, level int, balance int64) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.BusinessMirror{
		BusinessID: id,
		Name:       "biz-" + id,
		Level:      level,
		IsActive:   true,
	}).Error)
	require.NoError(t, e.ledger.Seed(id, balance))
}
