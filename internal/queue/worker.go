package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"local_review/internal/model"
	"local_review/internal/store"
	rediskey "local_review/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrUserLocked 用户级兜底锁被占用。资格脚本已经保证一人一单，理论上不会发生。
var ErrUserLocked = errors.New("order lock held by another worker")

const defaultOrderLockTTL = 10 * time.Second

// OrderWriter 由存储层实现：复查、扣库存、插入在同一事务里完成。
type OrderWriter interface {
	CreateOrder(ctx context.Context, order model.VoucherOrder) error
}

// Stats 运行计数，供运维观察。
type Stats struct {
	Created int64
	Dropped int64
}

// Worker 单消费者：从队列取任务，加用户锁后落库。
// 失败只记录日志和订单状态，调用方早已拿到订单号（乐观受理）。
type Worker struct {
	q       *Queue
	writer  OrderWriter
	rdb     rd.Cmdable
	mutex   *rediskey.Mutex
	log     zerolog.Logger
	lockTTL time.Duration

	startOnce sync.Once
	done      chan struct{}

	created atomic.Int64
	dropped atomic.Int64
}

type WorkerOption func(*Worker)

// WithOrderLockTTL 覆盖用户锁租期。
func WithOrderLockTTL(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lockTTL = d
		}
	}
}

func NewWorker(q *Queue, writer OrderWriter, rdb rd.Cmdable, log zerolog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		q:       q,
		writer:  writer,
		rdb:     rdb,
		mutex:   rediskey.NewMutex(rdb),
		log:     log.With().Str("component", "order_worker").Logger(),
		lockTTL: defaultOrderLockTTL,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start 启动消费协程，重复调用无效。ctx 取消属于强制退出，队列里剩余任务会被放弃。
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(ctx)
	})
}

// Stop 关闭队列并等待消费者处理完剩余任务；ctx 到期则直接返回。
// 未 Start 过的 worker 直接返回，之后也不会再启动。
func (w *Worker) Stop(ctx context.Context) error {
	w.q.close()
	w.startOnce.Do(func() {
		close(w.done)
	})
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop order worker: %w (%d tasks left)", ctx.Err(), w.q.Len())
	}
}

func (w *Worker) Stats() Stats {
	return Stats{Created: w.created.Load(), Dropped: w.dropped.Load()}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.log.Info().Int("capacity", w.q.Cap()).Msg("order worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Warn().Int("abandoned", w.q.Len()).Msg("order worker interrupted")
			return
		case task, ok := <-w.q.tasks:
			if !ok {
				w.log.Info().Msg("order worker drained, exiting")
				return
			}
			w.process(ctx, task)
		}
	}
}

func (w *Worker) process(ctx context.Context, task OrderTask) {
	err := w.handle(ctx, task)
	if err == nil {
		w.created.Add(1)
		w.recordState(ctx, task.ID, rediskey.OrderSuccess, "")
		return
	}

	w.dropped.Add(1)
	ev := w.log.Error()
	if errors.Is(err, store.ErrDuplicateOrder) {
		ev = w.log.Warn()
	}
	ev.Err(err).
		Int64("order_id", task.ID).
		Int64("user_id", task.UserID).
		Uint("voucher_id", task.VoucherID).
		Msg("order task dropped")
	w.recordState(ctx, task.ID, rediskey.OrderFailed, reason(err))
}

// handle 返回 nil 表示订单已落库。
func (w *Worker) handle(ctx context.Context, task OrderTask) error {
	lockKey := rediskey.OrderLockKey(task.UserID)
	token, ok, err := w.mutex.TryLock(ctx, lockKey, w.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserLocked
	}
	defer func() {
		// 释放用独立 ctx，保证强制退出时也能解锁
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := w.mutex.Unlock(unlockCtx, lockKey, token); err != nil {
			w.log.Error().Err(err).Str("lock", lockKey).Msg("release order lock")
		}
	}()

	writeCtx, cancel := context.WithTimeout(ctx, w.lockTTL)
	defer cancel()
	return w.writer.CreateOrder(writeCtx, model.VoucherOrder{
		ID:        task.ID,
		UserID:    task.UserID,
		VoucherID: task.VoucherID,
		CreatedAt: task.CreatedAt,
	})
}

func (w *Worker) recordState(ctx context.Context, orderID int64, status, why string) {
	if err := rediskey.PutOrderState(ctx, w.rdb, orderID, status, why); err != nil {
		w.log.Error().Err(err).Int64("order_id", orderID).Msg("record order state")
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, store.ErrDuplicateOrder):
		return "duplicate_order"
	case errors.Is(err, store.ErrStockInsufficient):
		return "stock_insufficient"
	case errors.Is(err, ErrUserLocked):
		return "user_locked"
	default:
		return "store_write_failed"
	}
}
