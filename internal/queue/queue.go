package queue

import (
	"errors"
	"sync"
)

var (
	// ErrQueueFull 队列已满，调用方必须同步感知并回补，不能静默丢弃。
	ErrQueueFull = errors.New("order queue full")
	// ErrQueueClosed 进程正在关闭，不再接收新任务。
	ErrQueueClosed = errors.New("order queue closed")
)

// Queue 有界的进程内落单队列，只有一个消费者。
type Queue struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan OrderTask
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{tasks: make(chan OrderTask, size)}
}

// Enqueue 非阻塞入队。
func (q *Queue) Enqueue(task OrderTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) Len() int { return len(q.tasks) }

func (q *Queue) Cap() int { return cap(q.tasks) }

// close 之后消费者把剩余任务取完即退出。
func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}
