package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"local_review/internal/store"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewTestDB 打开一个独立的内存 SQLite 库并完成迁移。
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:local_review_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := store.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// 内存库 + shared cache 下单连接最稳，避免 table is locked。
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// NewTestRedis 启动进程内 Redis（支持 Lua 脚本与 TTL 快进）。
func NewTestRedis(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}
