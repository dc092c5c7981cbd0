// Package frameq 提供 relay 各组件之间使用的有界 FIFO 队列。
// 每个队列实例只允许一个生产者和一个消费者。
package frameq

import (
	"sync"
	"sync/atomic"
	"time"
)

// OverflowPolicy 队列满时的处理策略
type OverflowPolicy int

const (
	// PolicyBlock 生产者阻塞等待，直到超时
	PolicyBlock OverflowPolicy = iota
	// PolicyDropOldest 丢弃队头，保证最近的数据不被产出速率压垮
	PolicyDropOldest
)

// PopResult Pop 的返回状态
type PopResult int

const (
	PopOK PopResult = iota
	// PopEmpty 超时内没有数据，队列仍然存活
	PopEmpty
	// PopClosed 队列已关闭且缓冲已排空，终态
	PopClosed
)

func (r PopResult) String() string {
	switch r {
	case PopOK:
		return "OK"
	case PopEmpty:
		return "Empty"
	case PopClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Queue 固定容量的 FIFO 队列。Close 后 Push 一律失败，
// Pop 先排空剩余数据再返回 PopClosed。
type Queue[T any] struct {
	mu          sync.Mutex
	items       []T
	capacity    int
	policy      OverflowPolicy
	pushTimeout time.Duration
	closed      bool

	// 广播信号：持锁下 close 再换新，等待方在锁外 select
	notEmpty chan struct{}
	notFull  chan struct{}

	dropped atomic.Int64
}

// New 创建队列。pushTimeout 只对 PolicyBlock 生效。
func New[T any](capacity int, policy OverflowPolicy, pushTimeout time.Duration) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		items:       make([]T, 0, capacity),
		capacity:    capacity,
		policy:      policy,
		pushTimeout: pushTimeout,
		notEmpty:    make(chan struct{}),
		notFull:     make(chan struct{}),
	}
}

// Push 入队。队列关闭、或 Block 策略下等待超时，返回 false。
// DropOldest 策略下队列满时淘汰队头后入队，恒返回 true。
func (q *Queue[T]) Push(item T) bool {
	deadline := time.Now().Add(q.pushTimeout)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return false
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.signalNotEmpty()
			q.mu.Unlock()
			return true
		}
		if q.policy == PolicyDropOldest {
			q.items = q.items[1:]
			q.dropped.Add(1)
			q.items = append(q.items, item)
			q.signalNotEmpty()
			q.mu.Unlock()
			return true
		}
		wait := q.notFull
		q.mu.Unlock()

		remain := time.Until(deadline)
		if remain <= 0 {
			return false
		}
		timer := time.NewTimer(remain)
		select {
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return false
		}
	}
}

// Pop 出队，最多等待 timeout。timeout <= 0 表示不等待。
func (q *Queue[T]) Pop(timeout time.Duration) (T, PopResult) {
	var zero T
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.signalNotFull()
			q.mu.Unlock()
			return item, PopOK
		}
		if q.closed {
			q.mu.Unlock()
			return zero, PopClosed
		}
		wait := q.notEmpty
		q.mu.Unlock()

		remain := time.Until(deadline)
		if remain <= 0 {
			return zero, PopEmpty
		}
		timer := time.NewTimer(remain)
		select {
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return zero, PopEmpty
		}
	}
}

// Purge 删除所有满足 match 的未消费项，返回删除数量
func (q *Queue[T]) Purge(match func(T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	purged := 0
	for _, item := range q.items {
		if match(item) {
			purged++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	if purged > 0 {
		q.signalNotFull()
	}
	return purged
}

// Close 幂等。唤醒所有阻塞中的生产者和消费者。
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notEmpty)
	close(q.notFull)
}

// Closed 队列是否已关闭
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len 当前缓冲的数据量
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap 队列容量
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Dropped 被淘汰的累计数量（DropOldest 策略）
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}

// 持锁调用。队列关闭后信号通道已 close，不再替换。
func (q *Queue[T]) signalNotEmpty() {
	if q.closed {
		return
	}
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
}

func (q *Queue[T]) signalNotFull() {
	if q.closed {
		return
	}
	close(q.notFull)
	q.notFull = make(chan struct{})
}
