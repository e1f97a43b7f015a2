package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/BaSui01/longtask/internal/retry"
)

// TxFunc 在事务内执行的操作
type TxFunc func(tx *gorm.DB) error

// 可重试的 PostgreSQL SQLSTATE
var transientSQLState = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
}

// 可重试的 MySQL 错误号
var transientMySQL = map[uint16]bool{
	1205: true, // ER_LOCK_WAIT_TIMEOUT
	1213: true, // ER_LOCK_DEADLOCK
}

// InTx 在事务中执行 fn。retryer 非空时，死锁、锁等待与断连等瞬时错误整体重试事务，
// 其余错误立即返回。
func InTx(ctx context.Context, db *gorm.DB, retryer retry.Retryer, fn TxFunc) error {
	if retryer == nil {
		return db.WithContext(ctx).Transaction(fn)
	}
	return retryer.Do(ctx, "db.tx", func(ctx context.Context) error {
		err := db.WithContext(ctx).Transaction(fn)
		if err != nil && !IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

// IsTransient 判断错误是否在重放整个事务后可能成功
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientSQLState[pgErr.Code]
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return transientMySQL[myErr.Number]
	}

	// sqlite 驱动只暴露文本错误
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "sqlite_busy", "deadlock", "connection reset", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
