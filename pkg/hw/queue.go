// Package hw provides the scheduled hardware output layer. Components never
// touch pins directly: they enqueue time-stamped commands on a Dispatcher,
// which drains them on the reactor when their scheduled time arrives. This
// keeps hardware effects ordered on the shared machine timeline.
package hw

import (
	"container/heap"
	"sync"
)

type command struct {
	time  float64
	seq   uint64 // FIFO tiebreak for commands at the same time
	apply func() error
}

type commandHeap []command

func (h commandHeap) Len() int { return len(h) }
func (h commandHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	return h[i].seq < h[j].seq
}
func (h commandHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *commandHeap) Push(x any)        { *h = append(*h, x.(command)) }
func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// Queue is a min-ordered queue of hardware commands keyed by scheduled time.
type Queue struct {
	mu  sync.Mutex
	h   commandHeap
	seq uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues apply to run at the given time.
func (q *Queue) Push(time float64, apply func() error) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.h, command{time: time, seq: q.seq, apply: apply})
	q.mu.Unlock()
}

// PopDue removes and returns all commands scheduled at or before now,
// in time order.
func (q *Queue) PopDue(now float64) []func() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []func() error
	for len(q.h) > 0 && q.h[0].time <= now {
		c := heap.Pop(&q.h).(command)
		due = append(due, c.apply)
	}
	return due
}

// NextTime returns the scheduled time of the earliest pending command.
func (q *Queue) NextTime() (float64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].time, true
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
