package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/longtask/config"
	"github.com/BaSui01/longtask/internal/retry"
)

// =============================================================================
// 🧪 Pool
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func newTestPool(t *testing.T, cfg PoolConfig) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, gormDB := setupTestDB(t)
	t.Cleanup(func() { mockDB.Close() })

	pool, err := NewPool(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)
	return pool, mock
}

var smallPool = PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}

func TestNewPool(t *testing.T) {
	pool, _ := newTestPool(t, PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	assert.NotNil(t, pool.DB())
	assert.Equal(t, 10, pool.Stats().MaxOpen)
	assert.Equal(t, 5*time.Second, pool.cfg.ProbeTimeout)

	_, err := NewPool(nil, DefaultPoolConfig(), nil)
	assert.Error(t, err)

	_, _, gormDB := setupTestDB(t)
	_, err = NewPool(gormDB, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 2}, nil)
	assert.ErrorContains(t, err, "exceeds")
}

func TestPool_Ping(t *testing.T) {
	pool, mock := newTestPool(t, smallPool)

	mock.ExpectPing()
	assert.NoError(t, pool.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, pool.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_ProbeReportsStats(t *testing.T) {
	cfg := smallPool
	cfg.ProbeInterval = 20 * time.Millisecond
	pool, mock := newTestPool(t, cfg)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 20; i++ {
		mock.ExpectPing()
	}

	var reports atomic.Int32
	pool.Observe(func(s PoolStats) {
		assert.Equal(t, 10, s.MaxOpen)
		reports.Add(1)
	})

	assert.Eventually(t, func() bool { return reports.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	mock.ExpectClose()
	require.NoError(t, pool.Close())
	assert.ErrorIs(t, pool.Ping(context.Background()), ErrPoolClosed)
}

func TestPool_CloseIdempotent(t *testing.T) {
	pool, mock := newTestPool(t, smallPool)

	mock.ExpectClose()
	assert.NoError(t, pool.Close())
	assert.NoError(t, pool.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{name: "valid", config: smallPool},
		{name: "defaults", config: DefaultPoolConfig()},
		{name: "zero open", config: PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, wantErr: true},
		{name: "zero idle", config: PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, wantErr: true},
		{name: "idle above open", config: PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// 🔄 事务
// =============================================================================

func fastRetryer(n int) retry.Retryer {
	return retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   n,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}, nil)
}

func TestInTx(t *testing.T) {
	_, mock, db := setupTestDB(t)

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, InTx(context.Background(), db, nil, func(tx *gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	err := InTx(context.Background(), db, nil, func(tx *gorm.DB) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_RetriesDeadlock(t *testing.T) {
	_, mock, db := setupTestDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err := InTx(context.Background(), db, fastRetryer(2), func(tx *gorm.DB) error {
		attempts++
		if attempts == 1 {
			return &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_PermanentErrorNotRetried(t *testing.T) {
	_, mock, db := setupTestDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	conflict := errors.New("already exists")
	attempts := 0
	err := InTx(context.Background(), db, fastRetryer(3), func(tx *gorm.DB) error {
		attempts++
		return conflict
	})
	assert.ErrorIs(t, err, conflict)
	assert.Equal(t, 1, attempts)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql lock wait", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1205}), true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"syntax", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

// =============================================================================
// 🔌 Open 测试
// =============================================================================

func TestOpen_SQLite(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "longtask.db"),
	}

	pool, err := Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, pool.Ping(context.Background()))
	assert.Equal(t, 1, pool.Stats().MaxOpen)

	var one int
	require.NoError(t, pool.DB().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite", "sqlite3"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, Name: "x"})
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}

	_, err := Dialector(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
