// Package util
//
// This file provides a min-heap of deadlines that is also addressable by key.
//
// The event loop of a connection keeps one entry per subscription that has a
// timeout configured. The heap answers "which deadline fires next" in O(1),
// while the key map allows cancelling or moving a single deadline in O(log n)
// when its subscription received enough messages or was removed.
//
// The heap is not thread-safe, it is meant to be owned by a single goroutine.
//
// Example usage:
//
//	deadlines := NewMapHeap()
//	deadlines.AddItem(sid, uint64(time.Now().Add(time.Second).UnixNano()))
//
//	// cancel one deadline
//	deadlines.RemoveByKey(sid)
//
//	// pop everything that is due
//	for _, key := range deadlines.PopDue(uint64(time.Now().UnixNano())) {
//	    // handle expiry of key
//	}
package util

import (
	"container/heap"
	"strconv"
)

// item is one heap entry, Priority holds the deadline in unix nanoseconds
type item struct {
	Key      uint64
	Priority uint64
	index    int // maintained by the heap package
}

func (i *item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap is a min-heap ordered by priority with key-based access
type MapHeap struct {
	items    []*item
	itemsMap map[uint64]*item
}

// NewMapHeap creates an empty heap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*item, 0),
		itemsMap: make(map[uint64]*item),
	}
}

// Len returns the number of entries (part of heap.Interface)
func (h *MapHeap) Len() int { return len(h.items) }

// Less orders by priority, the earliest deadline first (part of heap.Interface)
func (h *MapHeap) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

// Swap exchanges entries at positions i and j (part of heap.Interface)
func (h *MapHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push adds an entry (part of heap.Interface, use AddItem instead)
func (h *MapHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

// Pop removes the last entry (part of heap.Interface, use PopDue instead)
func (h *MapHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// AddItem inserts a key or moves its priority if it is already present
func (h *MapHeap) AddItem(key, priority uint64) {
	if it, exists := h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &item{Key: key, Priority: priority})
}

// RemoveByKey removes a key and returns its priority
func (h *MapHeap) RemoveByKey(key uint64) (uint64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Peek returns the key and priority of the earliest entry
func (h *MapHeap) Peek() (key, priority uint64, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	return h.items[0].Key, h.items[0].Priority, true
}

// PopDue removes and returns all keys whose priority is <= now, earliest first
func (h *MapHeap) PopDue(now uint64) []uint64 {
	var due []uint64
	for len(h.items) > 0 && h.items[0].Priority <= now {
		it := heap.Pop(h).(*item)
		due = append(due, it.Key)
	}
	return due
}

// Contains checks if a key is present
func (h *MapHeap) Contains(key uint64) bool {
	_, exists := h.itemsMap[key]
	return exists
}
