package queue

import (
	"fmt"
	"time"
)

// OrderTask 获得秒杀资格后投递给 worker 的落单任务，只存在于进程内存。
type OrderTask struct {
	ID        int64
	UserID    int64
	VoucherID uint
	CreatedAt time.Time
}

// Validate 做最小字段校验，防止 worker 处理脏任务。
func (t OrderTask) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("order id is required")
	}
	if t.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if t.VoucherID == 0 {
		return fmt.Errorf("voucher_id is required")
	}
	return nil
}
