package executor

import (
	"container/heap"
	"sync"
	"time"

	"tradeloop/internal/policy"
)

// PendingFeedback 是一笔待结算的成交回访。
// Checked 只会从 false 翻到 true 一次，结算失败的条目保持未结并等待重试。
type PendingFeedback struct {
	Decision      policy.Decision `json:"decision"`
	Execution     ExecutionResult `json:"execution"`
	ExecutionDate time.Time       `json:"execution_date"`
	CheckDate     time.Time       `json:"check_date"`
	Checked       bool            `json:"checked"`
}

// pendingHeap 按 CheckDate 最小堆排列。
type pendingHeap []*PendingFeedback

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].CheckDate.Before(h[j].CheckDate) }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)         { *h = append(*h, x.(*PendingFeedback)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PendingQueue 是线程安全的待结算队列。
type PendingQueue struct {
	mu   sync.Mutex
	heap pendingHeap
}

func NewPendingQueue() *PendingQueue {
	q := &PendingQueue{}
	heap.Init(&q.heap)
	return q
}

func (q *PendingQueue) Push(item *PendingFeedback) {
	q.mu.Lock()
	heap.Push(&q.heap, item)
	q.mu.Unlock()
}

// PopDue 弹出全部 CheckDate <= now 的条目。
func (q *PendingQueue) PopDue(now time.Time) []*PendingFeedback {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []*PendingFeedback
	for q.heap.Len() > 0 && !q.heap[0].CheckDate.After(now) {
		due = append(due, heap.Pop(&q.heap).(*PendingFeedback))
	}
	return due
}

func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Snapshot 返回队列内容拷贝（无序）。
func (q *PendingQueue) Snapshot() []PendingFeedback {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingFeedback, 0, q.heap.Len())
	for _, item := range q.heap {
		out = append(out, *item)
	}
	return out
}
