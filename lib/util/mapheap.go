// Package util
//
// This file provides a priority queue that also supports key based access.
//
// The implementation combines a binary heap with a hash map. The session uses
// it as its dispatch queue: requests are ordered by (priority class, arrival)
// and a request whose caller gave up can be removed directly by its key.
//
// Time Complexity:
//   - O(log n) for priority operations (Push, Pop, Update)
//   - O(1) for key-based lookups and existence checks
//   - O(log n) for key-based removal
//
// Note: This implementation is not thread-safe, callers synchronize externally.
//
// Example usage:
//
//	q := NewMapHeap[string]()
//	q.AddItem(1001, 5, "late")
//	q.AddItem(1002, 1, "early")
//
//	key, value, _ := q.PopMin() // 1002, "early"
//	q.RemoveByKey(1001)
package util

import (
	"container/heap"
	"strconv"
)

// Item is an entry of the MapHeap
type Item[V any] struct {
	Key      uint64 // Unique identifier for the item
	Priority uint64 // Lower values are popped first
	Value    V
	index    int // Index in the heap, maintained by heap package
}

func (i *Item[V]) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap implements a min priority queue with both heap operations and key-based access
type MapHeap[V any] struct {
	items    []*Item[V]          // The actual heap slice
	itemsMap map[uint64]*Item[V] // Map for O(1) access by key
}

// NewMapHeap creates a new, empty queue
func NewMapHeap[V any]() *MapHeap[V] {
	return &MapHeap[V]{
		items:    make([]*Item[V], 0),
		itemsMap: make(map[uint64]*Item[V]),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (q *MapHeap[V]) Len() int { return len(q.items) }

// Less compares items by priority (part of heap.Interface)
func (q *MapHeap[V]) Less(i, j int) bool {
	return q.items[i].Priority < q.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (q *MapHeap[V]) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface, use AddItem instead)
func (q *MapHeap[V]) Push(x any) {
	it := x.(*Item[V])
	it.index = len(q.items)
	q.items = append(q.items, it)
	q.itemsMap[it.Key] = it
}

// Pop removes and returns the last item (part of heap.Interface, use PopMin instead)
func (q *MapHeap[V]) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // Avoid memory leak
	it.index = -1
	q.items = old[:n-1]
	delete(q.itemsMap, it.Key)
	return it
}

// AddItem adds a new item to the queue or updates the existing one
func (q *MapHeap[V]) AddItem(key, priority uint64, value V) {
	if it, exists := q.itemsMap[key]; exists {
		it.Priority = priority
		it.Value = value
		heap.Fix(q, it.index)
		return
	}

	heap.Push(q, &Item[V]{
		Key:      key,
		Priority: priority,
		Value:    value,
	})
}

// PopMin removes and returns the item with the lowest priority
func (q *MapHeap[V]) PopMin() (uint64, V, bool) {
	if len(q.items) == 0 {
		var zero V
		return 0, zero, false
	}
	it := heap.Pop(q).(*Item[V])
	return it.Key, it.Value, true
}

// RemoveByKey removes an item by its key
func (q *MapHeap[V]) RemoveByKey(key uint64) (V, bool) {
	it, exists := q.itemsMap[key]
	if !exists {
		var zero V
		return zero, false
	}
	heap.Remove(q, it.index)
	return it.Value, true
}

// Peek returns the minimum item without removing it
func (q *MapHeap[V]) Peek() (*Item[V], bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Contains checks if a key exists in the queue
func (q *MapHeap[V]) Contains(key uint64) bool {
	_, exists := q.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (q *MapHeap[V]) GetByKey(key uint64) (*Item[V], bool) {
	it, exists := q.itemsMap[key]
	return it, exists
}
