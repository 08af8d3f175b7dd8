// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"sync"
)

// FrameQueue is a bounded FIFO of fixed-size outbound frames (one per 20ms
// telephony tick). When full, Push evicts the oldest frame: playout latency
// stays bounded and a stalled consumer hears the freshest audio, not a
// growing backlog. Safe for a concurrent producer and consumer.
type FrameQueue struct {
	mu       sync.Mutex
	frames   [][]byte
	head     int
	size     int
	capacity int
	dropped  uint64
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		frames:   make([][]byte, capacity),
		capacity: capacity,
	}
}

// Push enqueues a frame, evicting the oldest when the queue is full.
// Returns false when an eviction happened.
func (q *FrameQueue) Push(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if q.size == q.capacity {
		q.head = (q.head + 1) % q.capacity
		q.size--
		q.dropped++
		evicted = true
	}
	q.frames[(q.head+q.size)%q.capacity] = frame
	q.size++
	return !evicted
}

// Pop dequeues the oldest frame. Returns nil, false when empty.
func (q *FrameQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil, false
	}
	frame := q.frames[q.head]
	q.frames[q.head] = nil
	q.head = (q.head + 1) % q.capacity
	q.size--
	return frame, true
}

// Clear discards all queued frames at once. Used on barge-in, where draining
// to completion would add cut-over latency.
func (q *FrameQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.size
	for i := range q.frames {
		q.frames[i] = nil
	}
	q.head = 0
	q.size = 0
	return n
}

// Len returns the current depth.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns the lifetime eviction count.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
